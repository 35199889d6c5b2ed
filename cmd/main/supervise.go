package main

import (
	"context"
	"os"

	"github.com/TicketsBot/shardkit/gateway"
	"github.com/TicketsBot/shardkit/rest"
	"github.com/TicketsBot/shardkit/supervisor"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Split the shards across worker processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := gateway.WaitForInterrupt(context.Background())
		defer cancel()

		dispatcher := rest.NewDispatcher(cfg.Token, cfg.DispatcherOptions()...)
		total, err := resolveTotal(ctx, cfg, dispatcher)
		dispatcher.Close()
		if err != nil {
			return err
		}

		executable, err := os.Executable()
		if err != nil {
			return err
		}

		args = []string{"worker", "--config", configPath}
		for _, name := range relayDispatches {
			args = append(args, "--relay", name)
		}

		spacing := cfg.Gateway.IdentifySpacing
		if spacing == 0 {
			spacing = gateway.DefaultIdentifySpacing
		}

		s, err := supervisor.NewSupervisor(supervisor.ProcessLauncher{
			Path: executable,
			Args: args,
		}, supervisor.Options{
			TotalShards: total,
			Workers:     cfg.Shards.Workers,
			Spacing:     spacing,
		})
		if err != nil {
			return err
		}

		go func() {
			for msg := range s.Messages() {
				logMessage(msg)
			}
		}()

		return s.Run(ctx)
	},
}

func init() {
	superviseCmd.Flags().StringSliceVar(&relayDispatches, "relay", nil, "dispatch events workers relay to the supervisor, * for all")
}

func logMessage(msg supervisor.WorkerMessage) {
	switch msg.Type {
	case supervisor.MessageReady:
		logrus.Infof("worker %d: shard %d is ready", msg.Worker, msg.ShardId)
	case supervisor.MessageResumed:
		logrus.Infof("worker %d: shard %d resumed", msg.Worker, msg.ShardId)
	case supervisor.MessageAllGuildsLoaded:
		logrus.Infof("worker %d: shard %d loaded all guilds", msg.Worker, msg.ShardId)
	case supervisor.MessageFatal:
		logrus.Errorf("worker %d: shard %d terminated: %s", msg.Worker, msg.ShardId, msg.Error)
	case supervisor.MessageEvent:
		logrus.Debugf("worker %d: shard %d received %s", msg.Worker, msg.ShardId, msg.Event)
	}
}
