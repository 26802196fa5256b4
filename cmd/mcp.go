package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/taskreview/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server exposing the review workflow",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

Every tool takes the acting user explicitly. Configure an MCP client with:

  {
    "mcpServers": {
      "taskreview": { "command": "taskreview", "args": ["mcp"] }
    }
  }

Available tools: review_start, review_cancel, review_set_status,
review_dispute, review_set_meta_status, review_next, review_show,
review_history`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := getWorkflow()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return mcp.NewServer(dataStore, w, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
