// Package annotator produces narrative text for a computed decision by
// asking an OpenAI-compatible chat-completions service. It never sees or
// returns trading fields: the caller hands it a read-only summary and gets
// back prose only.
package annotator

import (
	"context"
	"errors"
	"fmt"

	"emafutures/internal/breaker"
	"emafutures/internal/model"
)

var (
	// ErrNotConfigured is returned when the base URL or API key is missing.
	ErrNotConfigured = errors.New("annotator not configured")

	// ErrUnavailable covers transport failures, non-2xx replies and
	// replies that cannot be parsed.
	ErrUnavailable = errors.New("annotator unavailable")

	// ErrMalformed is returned when the reply holds no usable JSON object.
	ErrMalformed = fmt.Errorf("%w: malformed reply", ErrUnavailable)
)

// Annotator turns a decision summary into narrative text.
type Annotator interface {
	Annotate(ctx context.Context, req Request) (model.Narrative, error)
}

// Request is the read-only view of one evaluation handed to the annotator.
type Request struct {
	Symbol    string
	Action    model.Action
	Size      float64
	Leverage  float64
	StopPrice float64
	Price     float64

	Trend            model.Direction
	TrendDescription string
	EntryRationale   string
	RiskReason       string

	Position  *model.Position
	Account   model.Account
	Headlines []string
}

// Reason classifies an annotator error into a short metrics label.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, breaker.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "unavailable"
	}
}

// Merge overlays the non-empty fields of got onto base.
func Merge(base, got model.Narrative) model.Narrative {
	if got.Summary != "" {
		base.Summary = got.Summary
	}
	if got.TrendAnalysis != "" {
		base.TrendAnalysis = got.TrendAnalysis
	}
	if got.EntryAnalysis != "" {
		base.EntryAnalysis = got.EntryAnalysis
	}
	if got.RiskAnalysis != "" {
		base.RiskAnalysis = got.RiskAnalysis
	}
	return base
}
