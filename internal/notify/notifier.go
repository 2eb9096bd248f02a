// Package notify fans operator alerts out to the configured channels
// (Telegram, Discord). The custody layer raises a small fixed set of
// events: insolvency, auto_refund, oracle_outage, and error.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers one alert.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel, e.g. "telegram".
	Name() string
}

// Notifier dispatches alerts to every registered sender, filtered by event
// type. An empty allow-list lets everything through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only
// events named in the events slice pass the filter; an empty slice allows
// all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers an alert if its event type passes the filter. It
// satisfies the Alerter interfaces of the escrow engine, the market
// service, and the solvency auditor.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, event, title, message)
}

// NotifyAll delivers an alert to every sender regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, "", title, message)
}

// dispatch sends to every sender. One failing channel does not block the
// rest; failures are combined into a single error.
func (n *Notifier) dispatch(ctx context.Context, event, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if event != "" {
		title = fmt.Sprintf("[%s] %s", event, title)
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
