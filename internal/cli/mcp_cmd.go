package cli

import (
	"github.com/spf13/cobra"

	"github.com/soyeahso/kaggler/internal/mcpserver"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve topic conversations as MCP tools over stdio",
		Long: "Runs an MCP server on stdin/stdout so coding assistants can ask Kaggler questions.\n" +
			"Logs go to stderr and never interfere with the protocol stream.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				return mcpserver.Serve(a.svc, log)
			})
		},
	}
}
