// Package execution turns decisions into fills.
//
// The engine never talks to an exchange directly: every actionable decision
// goes through an Executor. The bundled implementation is a paper account
// that simulates fills, fees and slippage against a single position and
// doubles as the account source of the runner.
package execution

import (
	"context"
	"errors"

	"emafutures/internal/model"
)

var (
	// ErrNoPosition is returned for CLOSE or UPDATE_TPSL without an open position.
	ErrNoPosition = errors.New("no open position")
	// ErrSideConflict is returned for an entry against the open position.
	ErrSideConflict = errors.New("order side conflicts with open position")
)

// Order statuses.
const (
	StatusFilled  = "FILLED"
	StatusUpdated = "UPDATED"
	StatusSkipped = "SKIPPED"
)

// OrderResult represents the outcome of executing one decision.
type OrderResult struct {
	OrderID    string          `json:"order_id"`
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	DecisionID string          `json:"decision_id"`
	Action     model.Action    `json:"action"`
	Fill       *Fill           `json:"fill,omitempty"`
	Position   *model.Position `json:"position,omitempty"` // after execution; nil when flat
}

// Executor applies decisions.
type Executor interface {
	Execute(ctx context.Context, d model.Decision) (OrderResult, error)
}
