package main

import (
	"fmt"
	"os"

	"github.com/TicketsBot/common/sentry"
	"github.com/TicketsBot/shardkit/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sharder",
	Short: "Runs gateway shards and forwards their events",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}

		if err := cfg.ConfigureLogging(); err != nil {
			return err
		}

		if cfg.Sentry.Dsn != "" {
			if err := sentry.Initialise(sentry.Options{
				Dsn:     cfg.Sentry.Dsn,
				Project: cfg.Sentry.Project,
			}); err != nil {
				logrus.Warnf("failed to initialise sentry: %s", err.Error())
			}
		}

		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(superviseCmd)
	rootCmd.AddCommand(workerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
