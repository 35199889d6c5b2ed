package main

import (
	"context"
	"os"

	"github.com/TicketsBot/shardkit/gateway"
	"github.com/TicketsBot/shardkit/supervisor"
	"github.com/spf13/cobra"
)

var relayDispatches []string

// workerCmd is started by supervise. Its range arrives through the SHARDER_COUNT_* env
// vars, and stdout is reserved for messages to the supervisor.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one worker of a supervised shard group",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := gateway.WaitForInterrupt(context.Background())
		defer cancel()

		p, err := newPool(ctx, cfg)
		if err != nil {
			return err
		}

		reporter := supervisor.NewReporter(os.Stdout, relayDispatches...)
		p.handle(reporter.Handle)

		return p.serve(ctx)
	},
}

func init() {
	workerCmd.Flags().StringSliceVar(&relayDispatches, "relay", nil, "dispatch events to relay to the supervisor, * for all")
}
