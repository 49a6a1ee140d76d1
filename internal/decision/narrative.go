package decision

import (
	"fmt"

	"emafutures/internal/model"
)

// defaultNarrative is the deterministic text used when the annotator is
// disabled or fails.
func defaultNarrative(p plan) model.Narrative {
	d := p.decision
	n := model.Narrative{
		TrendAnalysis: p.trend.Description,
		EntryAnalysis: p.entry,
		RiskAnalysis:  p.risk,
	}

	switch d.Action {
	case model.ActionBuy, model.ActionSell:
		n.Summary = fmt.Sprintf("%s %.4f %s at %.4f, %.0fx leverage, stop %.4f", d.Action, d.Size, d.Symbol, d.Price, d.Leverage, d.StopPrice)
	case model.ActionClose:
		n.Summary = fmt.Sprintf("CLOSE %.4f %s at %.4f: %s", d.Size, d.Symbol, d.Price, d.Reason)
	case model.ActionUpdateTPSL:
		n.Summary = fmt.Sprintf("move %s stop to %.4f", d.Symbol, d.StopPrice)
	default:
		n.Summary = fmt.Sprintf("HOLD %s: %s", d.Symbol, d.Reason)
	}

	if n.TrendAnalysis == "" {
		n.TrendAnalysis = fmt.Sprintf("trend %s", d.Trend)
	}
	if n.EntryAnalysis == "" {
		n.EntryAnalysis = "entry not evaluated"
	}
	if n.RiskAnalysis == "" {
		n.RiskAnalysis = "risk not evaluated"
	}
	return n
}
