// Package notify fans operator notifications out to Telegram and Discord,
// filtered by event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

// Event types accepted by Notify.
const (
	EventMarketResolved   = "market_resolved"
	EventIntegrityFailure = "integrity_failure"
)

// maxListedWinners bounds the winner addresses included in one message.
const maxListedWinners = 10

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to its Senders. Notify forwards only
// allowed event types; NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders. An empty events list allows
// every event type.
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

// Notify sends a notification when event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// NotifyResolved announces a resolved market and its winning holders.
func (n *Notifier) NotifyResolved(ctx context.Context, m domain.PredictionMarket, winners []string) error {
	return n.Notify(ctx, EventMarketResolved,
		fmt.Sprintf("Market %d resolved", m.ID),
		resolutionMessage(m, winners))
}

func resolutionMessage(m domain.PredictionMarket, winners []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nchain %d, market %s\n", m.Question, m.ChainID, m.Address)
	for _, oc := range m.Outcomes {
		ratio := "?"
		if oc.TruenessRatio != nil {
			ratio = oc.TruenessRatio.String()
		}
		fmt.Fprintf(&b, "  %d %s: %s\n", oc.TokenIndex, oc.Title, ratio)
	}
	fmt.Fprintf(&b, "winners: %d", len(winners))
	shown := winners
	if len(shown) > maxListedWinners {
		shown = shown[:maxListedWinners]
	}
	for _, w := range shown {
		fmt.Fprintf(&b, "\n  %s", w)
	}
	if len(winners) > len(shown) {
		fmt.Fprintf(&b, "\n  and %d more", len(winners)-len(shown))
	}
	return b.String()
}

// dispatch sends to every sender. One sender failing does not stop delivery
// to the rest; failures come back as one combined error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

var _ domain.ResolutionNotifier = (*Notifier)(nil)
