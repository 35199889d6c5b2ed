package config

import (
	"fmt"
	"os"

	"github.com/TicketsBot/shardkit/gateway"
	"github.com/TicketsBot/shardkit/rest"
	"github.com/rxdn/gdl/gateway/intents"
	"github.com/sirupsen/logrus"
)

var intentNames = map[string]intents.Intent{
	"GUILDS":                   intents.Guilds,
	"GUILD_MEMBERS":            intents.GuildMembers,
	"GUILD_MESSAGES":           intents.GuildMessages,
	"GUILD_MESSAGE_REACTIONS":  intents.GuildMessageReactions,
	"GUILD_WEBHOOKS":           intents.GuildWebhooks,
	"DIRECT_MESSAGES":          intents.DirectMessages,
	"DIRECT_MESSAGE_REACTIONS": intents.DirectMessageReactions,
}

func DefaultIntents() []string {
	return []string{
		"GUILDS",
		"GUILD_MEMBERS",
		"GUILD_MESSAGES",
		"GUILD_MESSAGE_REACTIONS",
		"GUILD_WEBHOOKS",
		"DIRECT_MESSAGES",
		"DIRECT_MESSAGE_REACTIONS",
	}
}

func (g GatewayConfig) ParseIntents() ([]intents.Intent, error) {
	parsed := make([]intents.Intent, 0, len(g.Intents))
	for _, name := range g.Intents {
		intent, ok := intentNames[name]
		if !ok {
			return nil, fmt.Errorf("gateway.intents: unknown intent %q", name)
		}

		parsed = append(parsed, intent)
	}

	return parsed, nil
}

// ShardOptions builds the shard options for the configured range. total is the resolved
// total shard count, which may come from the API when shards.total is 0.
func (c *Config) ShardOptions(total int, store gateway.SessionStore) (gateway.ShardOptions, error) {
	parsedIntents, err := c.Gateway.ParseIntents()
	if err != nil {
		return gateway.ShardOptions{}, err
	}

	count := gateway.ShardCount{
		Total:   total,
		Lowest:  c.Shards.Lowest,
		Highest: c.Shards.Highest,
	}

	if count.Highest == 0 {
		count.Highest = total
	}

	options := gateway.ShardOptions{
		ShardCount:      count,
		GatewayURL:      c.Gateway.URL,
		GatewayVersion:  c.Gateway.Version,
		Compress:        c.Gateway.Compress,
		LargeThreshold:  c.Gateway.LargeThreshold,
		Intents:         parsedIntents,
		IdentifySpacing: c.Gateway.IdentifySpacing,
		SessionStore:    store,
		EventBuffer:     c.Gateway.EventBuffer,
		Debug:           c.Gateway.Debug,
	}

	if c.Gateway.Status != "" {
		presence := gateway.BuildStatus(gateway.ActivityTypePlaying, c.Gateway.Status)
		options.Presence = &presence
	}

	if len(c.Gateway.FatalCloseCodes) > 0 {
		options.FatalCloseCodes = make(map[int]bool)
		for _, code := range c.Gateway.FatalCloseCodes {
			options.FatalCloseCodes[code] = true
		}
	}

	return options, nil
}

func (c *Config) DispatcherOptions() []rest.Option {
	options := []rest.Option{
		rest.WithMaxThrottleRetries(c.Rest.MaxThrottleRetries),
	}

	if c.Rest.BaseURL != "" {
		options = append(options, rest.WithBaseURL(c.Rest.BaseURL))
	}

	if c.Rest.RouteKey == "template" {
		options = append(options, rest.WithRouteKeyFunc(rest.TemplateRoute))
	}

	if c.Rest.GlobalLimit > 0 {
		burst := c.Rest.GlobalBurst
		if burst < 1 {
			burst = 1
		}

		options = append(options, rest.WithGlobalLimit(c.Rest.GlobalLimit, burst))
	}

	return options
}

// ConfigureLogging applies the log level and format to the standard logrus logger.
// Logs go to stderr, since worker stdout carries messages for the supervisor.
func (c *Config) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}

	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	if c.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return nil
}
