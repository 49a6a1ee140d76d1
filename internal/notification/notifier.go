// Package notification delivers alerts for actionable decisions to
// external channels (Telegram, webhooks, the log).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"emafutures/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel     `json:"level"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"` // structured payload for machine consumers
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// DecisionAlert builds the alert for a decision. CLOSE is a warning, every
// other action is informational.
func DecisionAlert(d model.Decision) Alert {
	level := AlertInfo
	if d.Action == model.ActionClose {
		level = AlertWarning
	}

	title := fmt.Sprintf("%s %s", d.Action, d.Symbol)
	var msg string
	switch d.Action {
	case model.ActionUpdateTPSL:
		msg = fmt.Sprintf("stop -> %.4f (price %.4f)", d.StopPrice, d.Price)
	case model.ActionClose:
		msg = fmt.Sprintf("close %.4f contracts at %.4f", d.Size, d.Price)
	default:
		msg = fmt.Sprintf("%.4f contracts at %.4f, %.0fx, stop %.4f", d.Size, d.Price, d.Leverage, d.StopPrice)
	}
	if d.Narrative.Summary != "" {
		msg += "\n" + d.Narrative.Summary
	}

	return Alert{
		Level:   level,
		Title:   title,
		Message: msg,
		Fields: map[string]any{
			"id":         d.ID,
			"symbol":     d.Symbol,
			"action":     string(d.Action),
			"size":       d.Size,
			"leverage":   d.Leverage,
			"stop_price": d.StopPrice,
			"price":      d.Price,
			"trend":      string(d.Trend),
		},
	}
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans an alert out to several notifiers. Every notifier is tried;
// failures are joined into one error.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
