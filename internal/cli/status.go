package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/kaggler/internal/config"
	"github.com/soyeahso/kaggler/internal/llm"
	"github.com/soyeahso/kaggler/internal/session"
	"github.com/soyeahso/kaggler/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show Kaggler status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n\n", version.Info())

			fmt.Fprintf(out, "Home:    %s\n", paths.Home)
			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintln(out, "Config:  not found (using defaults)")
				} else {
					fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				}
				return nil
			}

			providers := llm.NewRegistryFromConfig(cfg.LLM, log).List()
			if len(providers) > 0 {
				fmt.Fprintf(out, "LLM:     %s (model %s)\n", strings.Join(providers, ", "), cfg.LLM.Model)
			} else {
				fmt.Fprintln(out, "LLM:     (none available)")
			}

			rag := "(disabled)"
			if cfg.Tools.RAG.IsEnabled() && cfg.Tools.RAG.Endpoint != "" {
				rag = fmt.Sprintf("%s k=%d", cfg.Tools.RAG.Endpoint, cfg.Tools.RAG.K)
			}
			fmt.Fprintf(out, "RAG:     %s\n", rag)
			fmt.Fprintf(out, "Web:     %s\n", cfg.Tools.WebSearch.Provider)

			topics := "(none)"
			if cfg.Topics.Endpoint != "" || len(cfg.Topics.Static) > 0 {
				topics = fmt.Sprintf("endpoint=%q static=%d", cfg.Topics.Endpoint, len(cfg.Topics.Static))
			}
			fmt.Fprintf(out, "Topics:  %s\n", topics)

			fmt.Fprintf(out, "Gateway: port=%d bind=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.TLS.Enabled)
			fmt.Fprintf(out, "Storage: driver=%s checkpoints=%s\n", cfg.Storage.Driver, cfg.Storage.Checkpoints)

			if cfg.Storage.Driver == "sqlite" {
				printStoreStats(cmd, cfg)
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			return nil
		},
	}

	return cmd
}

func printStoreStats(cmd *cobra.Command, cfg config.Config) {
	out := cmd.OutOrStdout()
	st, err := openStorage(cfg.Storage, log)
	if err != nil {
		fmt.Fprintf(out, "         error opening: %v\n", err)
		return
	}
	defer st.Close()

	if st.db != nil {
		if v, err := st.db.SchemaVersion(cmd.Context()); err == nil {
			fmt.Fprintf(out, "         %s (schema v%d)\n", st.db.Path(), v)
		}
	}

	stats, err := session.NewSnapshotStore(st.kv, st.codec, log).Stats(cmd.Context())
	if err != nil {
		fmt.Fprintf(out, "         error reading snapshots: %v\n", err)
		return
	}
	fmt.Fprintf(out, "         %d topics, %d messages, %d summarized\n",
		stats.Topics, stats.Messages, stats.WithSummary)
}
