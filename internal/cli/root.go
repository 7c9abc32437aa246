// Package cli implements the kaggler command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/soyeahso/kaggler/internal/config"
	"github.com/soyeahso/kaggler/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths    config.Paths
	log      *logging.Logger
	closeLog = func() error { return nil }
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kaggler",
		Short: "Kaggler: competition-aware conversational assistant",
		Long: "Kaggler answers questions about data-science competitions. Each competition is a topic\n" +
			"with its own remembered conversation, grounded in retrieved discussions and web results.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}

			// A broken config file still yields defaults; commands that
			// need it report the error themselves.
			cfg, _ := config.Load(paths.Config)
			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			log, closeLog, err = logging.NewWithOptions(logging.Options{
				Level:        level,
				ConsoleStyle: cfg.Logging.ConsoleStyle,
				File:         cfg.Logging.File,
			})
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return closeLog()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.kaggler/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newTopicCmd())
	cmd.AddCommand(newGatewayCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
