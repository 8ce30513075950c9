// Package cmd wires configuration, storage and providers into the chatstack
// CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "chatstack",
	Short: "Retrieval-augmented chat agents over your own documents",
	Long: `chatstack ingests documents into a vector corpus and answers chat
turns grounded in it, streaming through OpenAI, Anthropic or Gemini models
with agent-defined actions exposed as tools.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
}
