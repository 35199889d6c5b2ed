package main

import (
	"context"

	"github.com/TicketsBot/shardkit/gateway"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured shard range in this process",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := gateway.WaitForInterrupt(context.Background())
		defer cancel()

		p, err := newPool(ctx, cfg)
		if err != nil {
			return err
		}

		if cfg.Gateway.Debug {
			p.handle(logEvent)
		}

		return p.serve(ctx)
	},
}

func logEvent(ev gateway.Event) {
	switch ev := ev.(type) {
	case gateway.DebugEvent:
		logrus.Debugf("shard %d: %s", ev.ShardId, ev.Message)
	case gateway.ErrorEvent:
		logrus.Debugf("shard %d: %s", ev.ShardId, ev.Err)
	case gateway.AllGuildsLoadedEvent:
		logrus.Debugf("shard %d: all guilds loaded", ev.ShardId)
	}
}
