package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run one diagnostic pass: fetch, store round-trip, notification",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		accounts := a.accounts()
		if len(accounts) == 0 {
			return fmt.Errorf("no accounts configured; add one with %q", "postwatch add <username>")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		var failures int
		for _, acct := range accounts {
			if err := diagnoseAccount(ctx, a, acct.Username); err != nil {
				failures++
				a.logger.Error("diagnostic failed",
					zap.String("username", acct.Username), zap.Error(err))
			}
		}

		if err := a.dispatcher.Notify(ctx, "postwatch",
			"Test notification: the monitor is working.", ""); err != nil {
			failures++
			a.logger.Error("test notification failed", zap.Error(err))
		}

		if failures > 0 {
			return fmt.Errorf("%d diagnostic check(s) failed", failures)
		}
		a.logger.Info("all diagnostic checks passed")
		return nil
	},
}

// diagnoseAccount exercises the full path for one account: fetch a post,
// persist it, and read it back.
func diagnoseAccount(ctx context.Context, a *app, username string) error {
	posts := a.fetcher.Fetch(ctx, username, 1)
	if len(posts) == 0 {
		return fmt.Errorf("no posts retrieved for @%s", username)
	}
	post := posts[0]
	a.logger.Info("fetched post",
		zap.String("username", username),
		zap.Int64("post_id", post.ID),
		zap.Time("published_at", post.PublishedAt),
	)

	if err := a.store.Upsert(ctx, post); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	stored, ok, err := a.store.GetByID(ctx, post.ID)
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}
	if !ok || stored.ID != post.ID {
		return fmt.Errorf("post %d did not round-trip through the store", post.ID)
	}
	return nil
}
