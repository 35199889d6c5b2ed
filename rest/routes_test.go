package rest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParentResourceRoute(t *testing.T) {
	cases := map[string]string{
		"/channels/1/messages":                              "/channels/1",
		"/channels/1/messages/2":                            "/channels/1",
		"/channels/1":                                       "/channels/1",
		"/guilds/5/members/6?limit=1":                       "/guilds/5",
		"/webhooks/7/token":                                 "/webhooks/7",
		"/users/@me":                                        "/users/@me",
		"/users/123/channels":                               "/users/:id/channels",
		"/gateway/bot":                                      "/gateway/bot",
		"/channels":                                         "/channels",
		"/invites/abc":                                      "/invites/abc",
		"/applications/9/commands/10":                       "/applications/:id/commands/:id",
		"/channels/1/messages/2/reactions/%F0%9F%91%8D/@me": "/channels/1",
	}

	for path, expected := range cases {
		assert.Equal(t, expected, ParentResourceRoute(Request{Method: "GET", Path: path}), path)
	}
}

func TestTemplateRoute(t *testing.T) {
	assert.Equal(t,
		TemplateRoute(Request{Method: "GET", Path: "/channels/1/messages/2"}),
		TemplateRoute(Request{Method: "GET", Path: "/channels/1/messages/3"}),
	)

	assert.NotEqual(t,
		TemplateRoute(Request{Method: "GET", Path: "/channels/1/messages/2"}),
		TemplateRoute(Request{Method: "GET", Path: "/channels/2/messages/2"}),
	)

	assert.NotEqual(t,
		TemplateRoute(Request{Method: "GET", Path: "/channels/1/messages/2"}),
		TemplateRoute(Request{Method: "DELETE", Path: "/channels/1/messages/2"}),
	)

	assert.Equal(t,
		"PUT /channels/1/messages/:id/reactions/:emoji/@me",
		TemplateRoute(Request{Method: "PUT", Path: "/channels/1/messages/2/reactions/%F0%9F%91%8D/@me"}),
	)
}
