// Package cmd provides the CLI commands for crawlchat.
//
// Commands:
//   - serve: HTTP API server with NDJSON streaming
//   - version: build and configuration information
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "crawlchat",
	Short: "crawlchat - session-scoped retrieval-augmented chat service",
	Long: `crawlchat crawls web pages into per-thread vector partitions and answers
questions about them through a streaming conversational agent.

Run 'crawlchat serve' to start the HTTP API server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
