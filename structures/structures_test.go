package structures

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TicketsBot/shardkit/gateway"
	"github.com/TicketsBot/shardkit/rest"
	"github.com/TicketsBot/shardkit/snowflake"
	"github.com/rxdn/gdl/objects/user"
	"github.com/rxdn/gdl/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	responses map[string]string
	requests  []rest.Request
}

func (c *fakeClient) Do(_ context.Context, request rest.Request, out interface{}) error {
	c.requests = append(c.requests, request)

	body, ok := c.responses[request.Path]
	if !ok {
		return &rest.APIError{Status: http.StatusNotFound, Code: 10013, Message: "Unknown User"}
	}

	return json.Unmarshal([]byte(body), out)
}

const (
	userJSON    = `{"id":"175928847299117063","username":"ryan","discriminator":"0001","bot":false}`
	guildJSON   = `{"id":"508392876359680000","name":"Tickets","owner_id":"175928847299117063","member_count":12}`
	messageJSON = `{
		"id":"700000000000000000",
		"channel_id":"600000000000000000",
		"guild_id":"508392876359680000",
		"content":"hi",
		"author":` + userJSON + `,
		"member":{"nick":"r","roles":["1"],"joined_at":"2020-01-01T00:00:00Z","deaf":false,"mute":false}
	}`
)

func TestFactoryFullByDefault(t *testing.T) {
	f := NewFactory(&fakeClient{})

	ref, err := f.User([]byte(userJSON))
	require.NoError(t, err)
	assert.False(t, ref.Partial())

	value, ok := ref.Value()
	require.True(t, ok)
	assert.Equal(t, "ryan", value.Username)
	assert.Equal(t, "0001", value.PadDiscriminator())
	assert.Equal(t, snowflake.Snowflake(175928847299117063), ref.Id)
}

func TestFactoryPartials(t *testing.T) {
	f := NewFactory(&fakeClient{}, KindUser, KindGuild)

	ref, err := f.User([]byte(userJSON))
	require.NoError(t, err)
	assert.True(t, ref.Partial())
	assert.Equal(t, snowflake.Snowflake(175928847299117063), ref.Id)

	_, ok := ref.Value()
	assert.False(t, ok)

	guild, err := f.Guild([]byte(guildJSON))
	require.NoError(t, err)
	assert.True(t, guild.Partial())
	assert.Equal(t, snowflake.Snowflake(508392876359680000), guild.Id)
}

func TestStubFetch(t *testing.T) {
	client := &fakeClient{responses: map[string]string{
		"/users/175928847299117063":  userJSON,
		"/guilds/508392876359680000": guildJSON,
	}}
	f := NewFactory(client, KindUser)

	ref, err := f.User([]byte(userJSON))
	require.NoError(t, err)

	fetched, err := ref.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ryan", fetched.Username)

	guild, err := f.GuildStub(508392876359680000).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Tickets", guild.Name)
	assert.Equal(t, 12, guild.MemberCount)

	require.Len(t, client.requests, 2)
	assert.Equal(t, http.MethodGet, client.requests[1].Method)
	assert.Equal(t, "true", client.requests[1].Query.Get("with_counts"))

	_, err = f.UserStub(1).Fetch(context.Background())
	var apiErr *rest.APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestFullRefFetchIsLocal(t *testing.T) {
	client := &fakeClient{}
	f := NewFactory(client)

	ref, err := f.User([]byte(userJSON))
	require.NoError(t, err)

	fetched, err := ref.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ryan", fetched.Username)
	assert.Empty(t, client.requests)
}

func TestMember(t *testing.T) {
	client := &fakeClient{responses: map[string]string{
		"/guilds/1/members/175928847299117063": `{"user":` + userJSON + `,"nick":"r","roles":["5"]}`,
	}}

	data := []byte(`{"guild_id":"1","user":` + userJSON + `,"nick":"r","roles":["5"]}`)

	member, err := NewFactory(client).Member(0, data)
	require.NoError(t, err)
	assert.False(t, member.Partial())
	assert.Equal(t, snowflake.Snowflake(1), member.GuildId)
	assert.Equal(t, snowflake.Snowflake(175928847299117063), member.Id)

	value, _ := member.Value()
	assert.Equal(t, utils.Uint64StringSlice{5}, value.Roles)
	assert.Equal(t, "r", value.Nick)
	assert.False(t, member.User.Partial())

	stub, err := NewFactory(client, KindMember, KindUser).Member(0, data)
	require.NoError(t, err)
	assert.True(t, stub.Partial())
	assert.True(t, stub.User.Partial())
	assert.Equal(t, snowflake.Snowflake(175928847299117063), stub.Id)
	assert.Equal(t, snowflake.Snowflake(1), stub.GuildId)

	fetched, err := stub.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r", fetched.Nick)
	assert.Equal(t, uint64(175928847299117063), fetched.User.Id)
	assert.Equal(t, "/guilds/1/members/175928847299117063", client.requests[0].Path)

	_, err = NewFactory(client).Member(1, []byte(`{"nick":"r"}`))
	assert.Error(t, err)
}

func TestMessage(t *testing.T) {
	f := NewFactory(&fakeClient{}, KindMember)

	message, err := f.Message([]byte(messageJSON))
	require.NoError(t, err)

	assert.Equal(t, "hi", message.Content)
	assert.Equal(t, uint64(600000000000000000), message.ChannelId)

	require.NotNil(t, message.Guild)
	assert.True(t, message.Guild.Partial())
	assert.Equal(t, snowflake.Snowflake(508392876359680000), message.Guild.Id)

	assert.False(t, message.Author.Partial())
	assert.Equal(t, "ryan", message.Message.Author.Username)

	require.NotNil(t, message.Member)
	assert.True(t, message.Member.Partial())
	assert.Equal(t, message.Author.Id, message.Member.Id)
	assert.Equal(t, message.Guild.Id, message.Member.GuildId)
}

func TestDispatchBinaryEvent(t *testing.T) {
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(guildJSON), &decoded))

	codec := gateway.CBORCodec{}
	data, err := codec.Marshal(decoded)
	require.NoError(t, err)

	entity, err := NewFactory(&fakeClient{}).Dispatch(gateway.DispatchEvent{
		Name: "GUILD_CREATE",
		Data: gateway.NewRawData(data, codec),
	})
	require.NoError(t, err)

	guild, ok := entity.(GuildRef)
	require.True(t, ok)

	value, ok := guild.Value()
	require.True(t, ok)
	assert.Equal(t, "Tickets", value.Name)

	entity, err = NewFactory(&fakeClient{}).Dispatch(gateway.DispatchEvent{
		Name: "TYPING_START",
		Data: gateway.NewRawData([]byte(`{}`), gateway.JSONCodec{}),
	})
	require.NoError(t, err)
	assert.Nil(t, entity)
}

func TestRefJSON(t *testing.T) {
	encoded, err := json.Marshal(Stub[user.User](42))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42"}`, string(encoded))

	var ref Ref[user.User]
	require.NoError(t, json.Unmarshal([]byte(userJSON), &ref))
	assert.False(t, ref.Partial())
	assert.True(t, ref.Stub().Partial())
	assert.Equal(t, ref.Id, ref.Stub().Id)
}

func TestFetchThroughDispatcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/175928847299117063", r.URL.Path)
		assert.Equal(t, "Bot token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userJSON))
	}))
	defer server.Close()

	dispatcher := rest.NewDispatcher("token", rest.WithBaseURL(server.URL), rest.WithHTTPClient(server.Client()))
	defer dispatcher.Close()

	fetched, err := NewFactory(dispatcher).UserStub(175928847299117063).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ryan", fetched.Username)
}
