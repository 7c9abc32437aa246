package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/kaggler/internal/config"
	"github.com/soyeahso/kaggler/internal/gateway"
	"github.com/soyeahso/kaggler/internal/mcpserver"
)

const mcpMountPath = "/mcp"

type gatewayFlags struct {
	port        int
	bind        string
	turnTimeout time.Duration
	mcp         bool
}

// apply folds command-line overrides into the gateway config section.
func (f gatewayFlags) apply(cfg *config.GatewayConfig) {
	if f.port != 0 {
		cfg.Port = f.port
	}
	if f.bind != "" {
		cfg.Bind = f.bind
	}
}

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve turns to remote clients",
	}
	cmd.AddCommand(newGatewayRunCmd())
	return cmd
}

func newGatewayRunCmd() *cobra.Command {
	var flags gatewayFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve turns over HTTP and WebSocket until interrupted",
		Long: "Serves the turn API on the configured port. With --mcp the MCP tools are also\n" +
			"served over streamable HTTP at " + mcpMountPath + ".",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			flags.apply(&cfg.Gateway)
			if issues := config.Validate(&cfg); len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return errValidation(len(issues))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runGateway(ctx, a, flags)
		},
	}

	f := cmd.Flags()
	f.IntVar(&flags.port, "port", 0, "override gateway.port")
	f.StringVar(&flags.bind, "bind", "", "override gateway.bind (auto, lan, loopback, custom)")
	f.DurationVar(&flags.turnTimeout, "turn-timeout", 0, "deadline for a single turn (default 5m)")
	f.BoolVar(&flags.mcp, "mcp", false, "also serve MCP tools at "+mcpMountPath)
	return cmd
}

func runGateway(ctx context.Context, a *app, flags gatewayFlags) error {
	opts := []gateway.ServerOption{
		gateway.WithHooks(a.hooks),
		gateway.WithTurnTimeout(flags.turnTimeout),
	}
	if flags.mcp {
		opts = append(opts, gateway.WithMount(mcpMountPath, mcpserver.HTTPHandler(a.svc, log)))
		log.Info().Str("path", mcpMountPath).Msg("serving MCP over HTTP")
	}
	return gateway.New(a.cfg.Gateway, a.svc, log, opts...).Start(ctx)
}
