// Package notify turns selected engine events into operator alerts sent to
// Telegram or a chat webhook.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// Sender delivers one alert.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier implements domain.EventSink. Only events whose kind is in the
// allowed set are forwarded; an empty set allows every kind.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.EventKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Publish sends one alert per allowed event.
func (n *Notifier) Publish(ctx context.Context, events []domain.Event) error {
	if len(n.senders) == 0 {
		return nil
	}
	var errs []string
	for _, ev := range events {
		if len(n.kinds) > 0 && !n.kinds[ev.Kind] {
			continue
		}
		if err := n.dispatch(ctx, "dcad: "+string(ev.Kind), Format(ev)); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Notify sends a free-form alert to every sender, bypassing the filter.
func (n *Notifier) Notify(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Format renders an event's attributes as sorted key=value lines.
func Format(ev domain.Event) string {
	keys := make([]string, 0, len(ev.Attrs))
	for k := range ev.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "at=%s", ev.At.Format("2006-01-02T15:04:05Z07:00"))
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s=%s", k, ev.Attrs[k])
	}
	return b.String()
}

var _ domain.EventSink = (*Notifier)(nil)
