package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ternlabs/tern/internal/logging"
)

var version = "dev"

var (
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tern",
	Short: "Terminal AI agent",
	Long:  "Tern runs model-driven turns against your workspace: it streams responses, executes tool calls, and keeps the conversation within the model's context window.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !verbose {
			logging.Disable()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("tern", version)
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable diagnostic logging")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(chatCmd)
}
