package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

type Channel struct {
	Name     string
	Notifier ports.SalesNotifier
}

// Fanout delivers to every configured channel. It succeeds when at least one
// channel accepted the notification.
type Fanout struct {
	channels []Channel
}

func NewFanout(channels ...Channel) *Fanout {
	out := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Notifier != nil {
			out = append(out, ch)
		}
	}
	return &Fanout{channels: out}
}

func (f *Fanout) Channels() []string {
	names := make([]string, 0, len(f.channels))
	for _, ch := range f.channels {
		names = append(names, ch.Name)
	}
	return names
}

func (f *Fanout) NotifySales(ctx context.Context, notification domain.SalesNotification) error {
	if len(f.channels) == 0 {
		return errors.New("no sales notification channels configured")
	}

	var errs []error
	for _, ch := range f.channels {
		if err := ch.Notifier.NotifySales(ctx, notification); err != nil {
			slog.Warn("sales_notification_failed", "channel", ch.Name, "thread_id", notification.Thread.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
			continue
		}
		slog.Info("sales_notification_sent", "channel", ch.Name, "thread_id", notification.Thread.ID)
	}
	if len(errs) == len(f.channels) {
		return errors.Join(errs...)
	}
	return nil
}
