package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var notifyCmd = &cobra.Command{
	Use:   "notify [username]",
	Short: "Fetch the latest post and send a test notification for it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		var username string
		if len(args) == 1 {
			username = args[0]
		} else {
			accounts := a.accounts()
			if len(accounts) == 0 {
				return fmt.Errorf("no accounts configured; pass a username or add one with %q",
					"postwatch add <username>")
			}
			username = accounts[0].Username
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		posts := a.fetcher.Fetch(ctx, username, 1)
		if len(posts) == 0 {
			return fmt.Errorf("no posts retrieved for @%s", username)
		}
		post := posts[0]

		title := fmt.Sprintf("[test] @%s posted", username)
		if err := a.dispatcher.Notify(ctx, title, post.Body, post.URL); err != nil {
			return fmt.Errorf("send notification: %w", err)
		}
		a.logger.Info("test notification sent",
			zap.String("username", username), zap.Int64("post_id", post.ID))
		return nil
	},
}
