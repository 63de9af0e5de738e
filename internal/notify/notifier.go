// Package notify pushes operator alerts for bank events (halts, failed
// conversions, archival runs) to external channels such as Telegram and
// Discord. Delivery is best-effort: the pipelines never block on it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Well-known event names emitted by the bank service.
const (
	EventHalt       = "halt"
	EventResume     = "resume"
	EventSwapFailed = "swap_failed"
	EventArchive    = "archive"
)

// Sender delivers a single alert to one external channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to the configured senders, filtered by event
// name. An empty filter forwards every event.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify forwards the alert to every sender when the event passes the
// filter. Sender failures are collected, not short-circuited.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.logger.DebugContext(ctx, "event filtered", slog.String("event", event))
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("sender", s.Name()),
			slog.String("event", event))
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
