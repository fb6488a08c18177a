// Package notify delivers desktop notifications for new posts.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Desktop dispatches notifications through the platform's native mechanism:
// terminal-notifier or osascript on macOS, beeep everywhere else. Delivery is
// best-effort; callers treat errors as advisory.
type Desktop struct {
	timeout time.Duration // 0 means no per-dispatch deadline
	logger  *zap.Logger
}

// NewDesktop builds the dispatcher.
func NewDesktop(timeout time.Duration, logger *zap.Logger) *Desktop {
	return &Desktop{timeout: timeout, logger: logger}
}

// Notify shows one notification. On macOS the url opens when the
// notification is clicked (terminal-notifier only).
func (d *Desktop) Notify(ctx context.Context, title, body, url string) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if runtime.GOOS == "darwin" {
		if err := d.notifyDarwin(ctx, title, body, url); err == nil {
			return nil
		} else {
			d.logger.Debug("native macOS notification failed, falling back", zap.Error(err))
		}
	}

	if err := beeep.Notify(title, body, ""); err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}
	return nil
}

func (d *Desktop) notifyDarwin(ctx context.Context, title, body, url string) error {
	if path, err := exec.LookPath("terminal-notifier"); err == nil {
		args := []string{"-title", title, "-message", body, "-sound", "default"}
		if url != "" {
			args = append(args, "-open", url)
		}
		cmd := exec.CommandContext(ctx, path, args...)
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("terminal-notifier: %w", err)
		}
		return nil
	}

	script := fmt.Sprintf("display notification %q with title %q sound name %q",
		body, title, "default")
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("osascript: %w", err)
	}
	return nil
}
