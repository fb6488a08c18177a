// Package cmd wires the CLI surface.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "postwatch",
	Short: "Watch public social accounts and notify on new posts",
	Long: `postwatch polls the configured accounts on an interval, stores new
posts locally, and raises a desktop notification for each one. Run with no
subcommand to start the monitor loop.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor(cmd.Context())
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "postwatch.json",
		"path to the configuration file")

	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(listCmd)
}
