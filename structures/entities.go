package structures

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/TicketsBot/shardkit/rest"
	"github.com/TicketsBot/shardkit/snowflake"
	"github.com/rxdn/gdl/objects/channel/message"
	"github.com/rxdn/gdl/objects/guild"
	"github.com/rxdn/gdl/objects/member"
	"github.com/rxdn/gdl/objects/user"
)

type UserRef struct {
	Ref[user.User]
	client Client
}

func (r UserRef) Fetch(ctx context.Context) (user.User, error) {
	return fetch(ctx, r.client, r.Ref, rest.Request{
		Method: http.MethodGet,
		Path:   "/users/" + r.Id.String(),
	})
}

type GuildRef struct {
	Ref[guild.Guild]
	client Client
}

func (r GuildRef) Fetch(ctx context.Context) (guild.Guild, error) {
	return fetch(ctx, r.client, r.Ref, rest.Request{
		Method: http.MethodGet,
		Path:   "/guilds/" + r.Id.String(),
		Query:  url.Values{"with_counts": []string{"true"}},
	})
}

// MemberRef is keyed by the user's id within GuildId. User follows the factory's partial
// configuration independently of the member itself.
type MemberRef struct {
	Ref[member.Member]
	GuildId snowflake.Snowflake
	User    UserRef
	client  Client
}

func (r MemberRef) Fetch(ctx context.Context) (member.Member, error) {
	return fetch(ctx, r.client, r.Ref, rest.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/guilds/%s/members/%s", r.GuildId, r.Id),
	})
}

// Message is a gateway message with its related entities as references. The guild is
// always a stub; the author and member follow the factory's partial configuration.
type Message struct {
	message.Message
	Guild  *GuildRef  `json:"-"`
	Author UserRef    `json:"author"`
	Member *MemberRef `json:"member,omitempty"`
}
