package annotator

import (
	"fmt"
	"strings"
)

const systemPrompt = `You explain decisions made by a rule-based futures strategy.
The decision is final; do not suggest a different action, size or stop.
Reply with one JSON object and nothing else, using only these string keys:
"summary", "trend_analysis", "entry_analysis", "risk_analysis".`

// BuildPrompt renders the decision summary sent as the user message.
func BuildPrompt(r Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Instrument: %s\n", r.Symbol)
	fmt.Fprintf(&b, "Price: %.4f\n", r.Price)
	fmt.Fprintf(&b, "Decision: %s size=%.4f contracts leverage=%.0fx stop=%.4f\n",
		r.Action, r.Size, r.Leverage, r.StopPrice)
	fmt.Fprintf(&b, "\nHigher-timeframe trend: %s (%s)\n", r.Trend, r.TrendDescription)
	if r.EntryRationale != "" {
		fmt.Fprintf(&b, "Entry check: %s\n", r.EntryRationale)
	}
	if r.RiskReason != "" {
		fmt.Fprintf(&b, "Risk check: %s\n", r.RiskReason)
	}

	if p := r.Position; p != nil {
		fmt.Fprintf(&b, "\nOpen position: %s %.4f @ %.4f, unrealized %.2f, stop %.4f\n",
			p.Side, p.Size, p.EntryPrice, p.UnrealizedPnL, p.StopPrice)
	} else {
		b.WriteString("\nOpen position: none\n")
	}
	fmt.Fprintf(&b, "Equity: total %.2f, available %.2f\n", r.Account.TotalEquity, r.Account.AvailableEquity)

	if len(r.Headlines) > 0 {
		b.WriteString("\nRecent headlines:\n")
		for i, h := range r.Headlines {
			if i == 10 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}
	return b.String()
}
