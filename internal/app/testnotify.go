package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"drawdown-alerts/internal/notify"
)

// TestNotification sends a test push to every active device token.
func (a *App) TestNotification(ctx context.Context) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("notification.enabled is false")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot load device tokens")
	}
	if closeStore != nil {
		defer closeStore()
	}

	tokens, err := store.ListActiveTokens(ctx)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return errors.New("no active device tokens registered")
	}

	msg := notify.Message{
		To:    tokens,
		Sound: a.Config.Notification.Sound,
		Title: "ETF Guardian Test",
		Body:  "Push pipeline operational.",
		Data: map[string]string{
			"type":      "test",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := notifier.Dispatch(ctx, msg); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "test notification sent to %d device(s)\n", len(tokens))
	return nil
}
