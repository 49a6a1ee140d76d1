// Package decision composes the final trading decision for one evaluation
// cycle from the trend verdict, the entry detector and the risk manager.
//
// The composer owns the only side effect in the engine: the optional
// annotator call, which may replace narrative text and nothing else.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"emafutures/internal/annotator"
	"emafutures/internal/logger"
	"emafutures/internal/model"
	"emafutures/internal/portfolio"
	"emafutures/internal/strategy"
)

// EntryFraction is the equity fraction committed by a fresh entry.
const EntryFraction = 0.05

// Snapshot is the immutable input of one evaluation.
type Snapshot struct {
	Symbol    string
	HTF       []model.Candle // higher timeframe, oldest first
	LTF       []model.Candle // lower timeframe, oldest first
	Position  *model.Position
	Account   model.Account
	Price     float64 // last/mark price; 0 means the last LTF close
	Headlines []string
}

// Config holds the fixed parameters of the composer.
type Config struct {
	Instrument       portfolio.Instrument
	Leverage         float64
	Risk             portfolio.RiskParams
	AnnotatorTimeout time.Duration // default 10s
}

// Composer turns snapshots into decisions.
type Composer struct {
	cfg Config
	ann annotator.Annotator
	now func() time.Time

	// OnAnnotate is called after every annotator attempt with the failure
	// reason ("" on success) and the call latency.
	OnAnnotate func(reason string, took time.Duration)
}

// NewComposer creates a composer. ann may be nil to disable narration.
func NewComposer(cfg Config, ann annotator.Annotator) *Composer {
	if cfg.AnnotatorTimeout <= 0 {
		cfg.AnnotatorTimeout = 10 * time.Second
	}
	return &Composer{cfg: cfg, ann: ann, now: time.Now}
}

// plan is the deterministic part of a decision plus the context the
// default narrative and the annotator prompt are built from.
type plan struct {
	decision model.Decision
	trend    strategy.TrendVerdict
	entry    string
	risk     string
}

// Decide evaluates one snapshot. It never panics and never returns an
// error: unexpected failures produce a safe HOLD decision.
func (c *Composer) Decide(ctx context.Context, snap Snapshot) model.Decision {
	return c.decide(ctx, snap, c.ann != nil)
}

// Compute evaluates one snapshot without calling the annotator.
func (c *Composer) Compute(snap Snapshot) model.Decision {
	return c.decide(context.Background(), snap, false)
}

func (c *Composer) decide(ctx context.Context, snap Snapshot, narrate bool) (d model.Decision) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("decision composition panicked",
				append(logger.LogWithTrace(ctx), slog.String("symbol", snap.Symbol), slog.Any("panic", r))...)
			d = model.SafeDecision(snap.Symbol, fmt.Sprintf("internal error: %v", r), time.Now().UTC())
			d.ID = uuid.NewString()
		}
	}()

	now := c.now().UTC()
	p := c.compute(snap)
	p.decision.ID = uuid.NewString()
	p.decision.CreatedAt = now
	p.decision.Narrative = defaultNarrative(p)

	if narrate {
		p.decision.Narrative, p.decision.Annotated = c.annotate(ctx, snap, p)
	}
	return p.decision
}

func (c *Composer) compute(snap Snapshot) plan {
	price := snap.Price
	if price <= 0 {
		if last, ok := model.Last(snap.LTF); ok {
			price = last.Close
		}
	}

	trend := strategy.ClassifyTrend(snap.HTF)
	p := plan{
		trend: trend,
		decision: model.Decision{
			Symbol:   snap.Symbol,
			Action:   model.ActionHold,
			Leverage: c.cfg.Leverage,
			Price:    price,
			Trend:    trend.Direction,
		},
	}
	if price <= 0 {
		p.decision.Reason = "no price available"
		return p
	}

	if pos := snap.Position; pos != nil && pos.Size > 0 {
		c.manage(&p, *pos, snap, price)
	} else {
		c.enter(&p, snap, price)
	}
	return p
}

// enter runs the entry detector; only called without a position.
func (c *Composer) enter(p *plan, snap Snapshot, price float64) {
	sig := strategy.DetectEntry(snap.LTF, p.trend.Direction)
	p.entry = sig.Rationale
	p.risk = "no open position"

	d := &p.decision
	if !sig.Triggered {
		d.Reason = sig.Rationale
		return
	}

	size, err := portfolio.ContractSize(EntryFraction, snap.Account.TotalEquity, c.cfg.Leverage, price, c.cfg.Instrument)
	if err != nil {
		d.Reason = fmt.Sprintf("entry signal ignored: %v", err)
		return
	}

	d.Action = sideAction(sig.Side)
	d.Size = size
	d.StopPrice = portfolio.RoundStop(sig.ProtectiveStop, sig.Side, c.cfg.Instrument.PricePrecision)
	d.Reason = sig.Rationale
}

// manage runs the risk manager; only called with a position.
func (c *Composer) manage(p *plan, pos model.Position, snap Snapshot, price float64) {
	p.entry = fmt.Sprintf("%s position open, entry scan skipped", pos.Side)

	act := portfolio.EvaluateRisk(portfolio.RiskInput{
		Position: pos,
		Account:  snap.Account,
		Price:    price,
		Recent:   snap.LTF,
		Trend:    p.trend.Direction,
	}, c.cfg.Risk)
	p.risk = act.Reason

	d := &p.decision
	d.StopPrice = pos.StopPrice
	d.Reason = act.Reason

	stop, improved := c.roundedStop(pos, act)

	switch act.Kind {
	case portfolio.RiskClose:
		d.Action = model.ActionClose
		d.Size = pos.Size

	case portfolio.RiskAdd:
		size, err := portfolio.ContractSize(act.SizeFraction, snap.Account.TotalEquity, c.cfg.Leverage, price, c.cfg.Instrument)
		if err != nil {
			d.Reason = fmt.Sprintf("add skipped: %v", err)
			if improved {
				d.Action = model.ActionUpdateTPSL
				d.Size = pos.Size
				d.StopPrice = stop
			}
			return
		}
		d.Action = sideAction(pos.Side)
		d.Size = size
		if improved {
			d.StopPrice = stop
		}

	case portfolio.RiskUpdateStop:
		if !improved {
			d.Reason = "holding, stop unchanged after rounding"
			return
		}
		d.Action = model.ActionUpdateTPSL
		d.Size = pos.Size
		d.StopPrice = stop
	}
}

// roundedStop snaps the proposed stop onto the price grid and re-checks
// that it still improves the committed one.
func (c *Composer) roundedStop(pos model.Position, act portfolio.RiskAction) (float64, bool) {
	if !act.StopChanged {
		return pos.StopPrice, false
	}
	stop := portfolio.RoundStop(act.ProposedStop, pos.Side, c.cfg.Instrument.PricePrecision)
	if stop <= 0 {
		return pos.StopPrice, false
	}
	if pos.HasStop() {
		if pos.Side == model.SideLong && stop <= pos.StopPrice {
			return pos.StopPrice, false
		}
		if pos.Side == model.SideShort && stop >= pos.StopPrice {
			return pos.StopPrice, false
		}
	}
	return stop, true
}

// annotate returns the narrative to publish. Any failure, including a
// panic inside the annotator, falls back to the default text.
func (c *Composer) annotate(ctx context.Context, snap Snapshot, p plan) (n model.Narrative, annotated bool) {
	d := p.decision
	defer func() {
		if r := recover(); r != nil {
			slog.Error("annotator panicked", append(logger.LogWithTrace(ctx), slog.Any("panic", r))...)
			n, annotated = d.Narrative, false
		}
	}()
	req := annotator.Request{
		Symbol:           d.Symbol,
		Action:           d.Action,
		Size:             d.Size,
		Leverage:         d.Leverage,
		StopPrice:        d.StopPrice,
		Price:            d.Price,
		Trend:            d.Trend,
		TrendDescription: p.trend.Description,
		EntryRationale:   p.entry,
		RiskReason:       p.risk,
		Account:          snap.Account,
		Headlines:        snap.Headlines,
	}
	if snap.Position != nil {
		pos := *snap.Position
		req.Position = &pos
	}

	actx, cancel := context.WithTimeout(ctx, c.cfg.AnnotatorTimeout)
	defer cancel()

	start := time.Now()
	got, err := c.ann.Annotate(actx, req)
	took := time.Since(start)
	reason := annotator.Reason(err)
	if c.OnAnnotate != nil {
		c.OnAnnotate(reason, took)
	}
	if err != nil {
		slog.Warn("annotator failed, using default narrative",
			append(logger.LogWithTrace(ctx),
				slog.String("symbol", d.Symbol),
				slog.String("reason", reason),
				slog.Duration("took", took),
				slog.String("error", err.Error()))...)
		return d.Narrative, false
	}
	return annotator.Merge(d.Narrative, got), true
}

func sideAction(s model.Side) model.Action {
	if s == model.SideShort {
		return model.ActionSell
	}
	return model.ActionBuy
}
