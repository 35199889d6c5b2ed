package structures

import (
	"encoding/json"
	"fmt"

	"github.com/TicketsBot/shardkit/gateway"
	"github.com/TicketsBot/shardkit/snowflake"
	"github.com/rxdn/gdl/objects/guild"
	"github.com/rxdn/gdl/objects/member"
	"github.com/rxdn/gdl/objects/user"
)

type Kind string

const (
	KindUser   Kind = "User"
	KindGuild  Kind = "Guild"
	KindMember Kind = "Member"
)

// Factory builds entity references from API payloads. Kinds listed as partial are kept as
// stubs holding only their id; everything else is decoded in full.
type Factory struct {
	client   Client
	partials map[Kind]bool
}

func NewFactory(client Client, partials ...Kind) *Factory {
	f := &Factory{
		client:   client,
		partials: make(map[Kind]bool),
	}

	for _, kind := range partials {
		f.partials[kind] = true
	}

	return f
}

func (f *Factory) IsPartial(kind Kind) bool {
	return f.partials[kind]
}

func (f *Factory) UserStub(id snowflake.Snowflake) UserRef {
	return UserRef{Ref: Stub[user.User](id), client: f.client}
}

func (f *Factory) GuildStub(id snowflake.Snowflake) GuildRef {
	return GuildRef{Ref: Stub[guild.Guild](id), client: f.client}
}

func (f *Factory) MemberStub(guildId, userId snowflake.Snowflake) MemberRef {
	return MemberRef{
		Ref:     Stub[member.Member](userId),
		GuildId: guildId,
		User:    f.UserStub(userId),
		client:  f.client,
	}
}

func (f *Factory) User(data []byte) (UserRef, error) {
	if f.IsPartial(KindUser) {
		var id idOnly
		if err := json.Unmarshal(data, &id); err != nil {
			return UserRef{}, err
		}

		return f.UserStub(id.Id), nil
	}

	var u user.User
	if err := json.Unmarshal(data, &u); err != nil {
		return UserRef{}, err
	}

	return UserRef{Ref: Full(snowflake.Snowflake(u.Id), u), client: f.client}, nil
}

func (f *Factory) Guild(data []byte) (GuildRef, error) {
	if f.IsPartial(KindGuild) {
		var id idOnly
		if err := json.Unmarshal(data, &id); err != nil {
			return GuildRef{}, err
		}

		return f.GuildStub(id.Id), nil
	}

	var g guild.Guild
	if err := json.Unmarshal(data, &g); err != nil {
		return GuildRef{}, err
	}

	return GuildRef{Ref: Full(snowflake.Snowflake(g.Id), g), client: f.client}, nil
}

type memberPayload struct {
	User    json.RawMessage     `json:"user"`
	GuildId snowflake.Snowflake `json:"guild_id"`
}

// Member builds a member of the given guild. Member payloads nest the user, whose id is
// also the member's id; a zero guildId is taken from the payload's guild_id.
func (f *Factory) Member(guildId snowflake.Snowflake, data []byte) (MemberRef, error) {
	var payload memberPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return MemberRef{}, err
	}

	if len(payload.User) == 0 {
		return MemberRef{}, fmt.Errorf("member payload has no user")
	}

	if guildId == 0 {
		guildId = payload.GuildId
	}

	u, err := f.User(payload.User)
	if err != nil {
		return MemberRef{}, err
	}

	if f.IsPartial(KindMember) {
		stub := f.MemberStub(guildId, u.Id)
		stub.User = u
		return stub, nil
	}

	var m member.Member
	if err := json.Unmarshal(data, &m); err != nil {
		return MemberRef{}, err
	}

	return MemberRef{
		Ref:     Full(u.Id, m),
		GuildId: guildId,
		User:    u,
		client:  f.client,
	}, nil
}

type messagePayload struct {
	GuildId *snowflake.Snowflake `json:"guild_id"`
	Author  json.RawMessage      `json:"author"`
	Member  json.RawMessage      `json:"member"`
}

func (f *Factory) Message(data []byte) (Message, error) {
	var payload messagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Message{}, err
	}

	var msg Message
	if err := json.Unmarshal(data, &msg.Message); err != nil {
		return Message{}, err
	}

	author, err := f.User(payload.Author)
	if err != nil {
		return Message{}, err
	}
	msg.Author = author

	if payload.GuildId != nil {
		g := f.GuildStub(*payload.GuildId)
		msg.Guild = &g

		// message members omit the user, it is the author
		if len(payload.Member) > 0 {
			var nested map[string]json.RawMessage
			if err := json.Unmarshal(payload.Member, &nested); err != nil {
				return Message{}, err
			}
			nested["user"] = payload.Author

			memberData, err := json.Marshal(nested)
			if err != nil {
				return Message{}, err
			}

			m, err := f.Member(*payload.GuildId, memberData)
			if err != nil {
				return Message{}, err
			}
			msg.Member = &m
		}
	}

	return msg, nil
}

// Dispatch builds the entity carried by a gateway dispatch. Unsupported events return
// nil without error.
func (f *Factory) Dispatch(ev gateway.DispatchEvent) (interface{}, error) {
	data, err := ev.Data.JSON()
	if err != nil {
		return nil, err
	}

	switch ev.Name {
	case "MESSAGE_CREATE", "MESSAGE_UPDATE":
		return f.Message(data)
	case "GUILD_CREATE", "GUILD_UPDATE":
		return f.Guild(data)
	case "GUILD_MEMBER_ADD", "GUILD_MEMBER_UPDATE":
		return f.Member(0, data)
	case "USER_UPDATE":
		return f.User(data)
	default:
		return nil, nil
	}
}
