package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/postwatch/postwatch/internal/config"
)

var addCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add an account to the watch list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := normalizeUsername(args[0])
		manager, err := loadManager()
		if err != nil {
			return err
		}
		if err := manager.AddAccount(username); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "now watching @%s\n", username)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <username>",
	Short: "Remove an account from the watch list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := normalizeUsername(args[0])
		manager, err := loadManager()
		if err != nil {
			return err
		}
		if err := manager.RemoveAccount(username); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stopped watching @%s\n", username)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the watched accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := loadManager()
		if err != nil {
			return err
		}
		accounts := manager.Accounts()
		if len(accounts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no accounts configured")
			return nil
		}
		for _, a := range accounts {
			if a.LastSeenID != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "@%s (last seen post %d)\n", a.Username, *a.LastSeenID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "@%s (never polled)\n", a.Username)
			}
		}
		return nil
	},
}

func loadManager() (*config.Manager, error) {
	manager := config.NewManager(configPath)
	if _, err := manager.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return manager, nil
}

// normalizeUsername strips a leading @ so both forms work on the CLI.
func normalizeUsername(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), "@")
}
