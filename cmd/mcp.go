package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tfupload/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for editor and agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets editors and coding agents list TestFairy tasks, run uploads,
and read upload history. Configure an MCP client with:

  {
    "mcpServers": {
      "tfupload": { "command": "tfupload", "args": ["mcp"] }
    }
  }

Available tools: tfupload_list_tasks, tfupload_upload, tfupload_history,
tfupload_status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Stdout carries the protocol, so nothing else may write to it.
		s, err := getStore()
		if err != nil {
			return err
		}

		srv := mcp.NewServer(s, newOrchestrator(s, nil))
		srv.BuildFile = viper.GetString("gradle.build_file")
		srv.LockDir = viper.GetString("state_dir")
		srv.Version = buildVersion
		return srv.ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
