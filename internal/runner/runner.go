// Package runner drives the decision engine: it polls candles and the
// account, composes one decision per cycle and hands it to the executor,
// the publishers and the notifier.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"emafutures/internal/decision"
	"emafutures/internal/execution"
	"emafutures/internal/logger"
	"emafutures/internal/metrics"
	"emafutures/internal/model"
	"emafutures/internal/notification"
	"emafutures/internal/portfolio"
)

// ErrPaused is returned by Trigger while the runner is paused.
var ErrPaused = errors.New("runner paused")

// CandleSource supplies closed candles, oldest first.
type CandleSource interface {
	ReadCandles(ctx context.Context, symbol string, tf int, limit int) ([]model.Candle, error)
}

// AccountSource supplies the open position (nil when flat) and equity,
// valued at price.
type AccountSource interface {
	Snapshot(ctx context.Context, symbol string, price float64) (*model.Position, model.Account, error)
}

// HeadlineSource supplies recent news headlines for the annotator.
type HeadlineSource interface {
	Headlines(ctx context.Context, symbol string) ([]string, error)
}

// StopChecker closes the position when a candle trades through its stop.
// The paper account implements it; a live exchange enforces stops itself.
type StopChecker interface {
	CheckStop(c model.Candle) (execution.Fill, bool)
}

// pnlReporter is implemented by account sources that track realized P&L.
type pnlReporter interface {
	Summary(price float64) portfolio.PnLSummary
}

// Config holds the runner's schedule and data windows.
type Config struct {
	Symbol       string
	LTFSeconds   int
	HTFSeconds   int
	CandleLimit  int           // candles read per timeframe
	PollInterval time.Duration // 0 disables the ticker in Run
}

// Options are the runner's collaborators. Candles, Account and Composer
// are required.
type Options struct {
	Candles    CandleSource
	Account    AccountSource
	Composer   *decision.Composer
	Headlines  HeadlineSource
	Executor   execution.Executor
	Publishers []model.DecisionPublisher
	Notifier   notification.Notifier
	Metrics    *metrics.Metrics
	Health     *metrics.HealthStatus
}

// Status is a point-in-time view of the runner.
type Status struct {
	Symbol       string               `json:"symbol"`
	Paused       bool                 `json:"paused"`
	Cycles       int64                `json:"cycles"`
	Skipped      int64                `json:"skipped"`
	Errors       int64                `json:"errors"`
	StopsHit     int64                `json:"stops_hit"`
	Actions      map[model.Action]int `json:"actions"`
	LastCycleAt  time.Time            `json:"last_cycle_at"`
	LastDecision *model.Decision      `json:"last_decision,omitempty"`
}

// Runner evaluates one instrument. Evaluations never overlap: concurrent
// triggers join the cycle already in flight.
type Runner struct {
	cfg  Config
	opts Options
	now  func() time.Time

	group  singleflight.Group
	paused atomic.Bool

	mu          sync.Mutex
	stats       Status
	lastChecked int64 // TS of the last candle checked against the stop
	lastEntry   int64 // TS of the last candle that opened or added
}

// New creates a runner.
func New(cfg Config, opts Options) (*Runner, error) {
	if opts.Candles == nil || opts.Account == nil || opts.Composer == nil {
		return nil, errors.New("runner: candles, account and composer are required")
	}
	if cfg.Symbol == "" || cfg.LTFSeconds <= 0 || cfg.HTFSeconds <= 0 {
		return nil, fmt.Errorf("runner: invalid config %+v", cfg)
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 300
	}
	return &Runner{
		cfg:   cfg,
		opts:  opts,
		now:   time.Now,
		stats: Status{Symbol: cfg.Symbol, Actions: make(map[model.Action]int)},
	}, nil
}

// Run triggers a cycle immediately and then every PollInterval until ctx
// is cancelled. Cycle errors are logged and counted, never fatal.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("runner started", "symbol", r.cfg.Symbol, "interval", r.cfg.PollInterval.String())
	r.tick(ctx)
	if r.cfg.PollInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("runner stopped", "symbol", r.cfg.Symbol)
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, _, err := r.Trigger(ctx); err != nil && !errors.Is(err, ErrPaused) && ctx.Err() == nil {
		slog.Warn("cycle failed", "symbol", r.cfg.Symbol, "error", err)
	}
}

// Trigger runs one evaluation cycle. joined is true when the call attached
// to a cycle that was already running instead of starting one.
func (r *Runner) Trigger(ctx context.Context) (d model.Decision, joined bool, err error) {
	if r.paused.Load() {
		r.skip()
		return model.Decision{}, false, ErrPaused
	}

	ran := false
	v, err, _ := r.group.Do(r.cfg.Symbol, func() (interface{}, error) {
		ran = true
		return r.cycle(ctx)
	})
	if !ran {
		r.skip()
	}
	if err != nil {
		return model.Decision{}, !ran, err
	}
	return v.(model.Decision), !ran, nil
}

func (r *Runner) skip() {
	r.opts.Metrics.CycleSkipped()
	r.mu.Lock()
	r.stats.Skipped++
	r.mu.Unlock()
}

func (r *Runner) cycle(ctx context.Context) (model.Decision, error) {
	start := r.now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(r.cfg.Symbol, start))
	trace := logger.LogWithTrace(ctx)

	ltf, err := r.opts.Candles.ReadCandles(ctx, r.cfg.Symbol, r.cfg.LTFSeconds, r.cfg.CandleLimit)
	if err != nil {
		return r.fail("candles", fmt.Errorf("read %ds candles: %w", r.cfg.LTFSeconds, err))
	}
	htf, err := r.opts.Candles.ReadCandles(ctx, r.cfg.Symbol, r.cfg.HTFSeconds, r.cfg.CandleLimit)
	if err != nil {
		return r.fail("candles", fmt.Errorf("read %ds candles: %w", r.cfg.HTFSeconds, err))
	}

	var price float64
	var candleTS int64
	if last, ok := model.Last(ltf); ok {
		price, candleTS = last.Close, last.TS
		r.checkStop(ctx, last)
	}

	pos, acct, err := r.opts.Account.Snapshot(ctx, r.cfg.Symbol, price)
	if err != nil {
		return r.fail("account", fmt.Errorf("account snapshot: %w", err))
	}

	var headlines []string
	if r.opts.Headlines != nil {
		if headlines, err = r.opts.Headlines.Headlines(ctx, r.cfg.Symbol); err != nil {
			slog.Warn("headlines unavailable", append(trace, "error", err)...)
			r.opts.Metrics.CycleError("headlines")
		}
	}

	d := r.opts.Composer.Decide(ctx, decision.Snapshot{
		Symbol:    r.cfg.Symbol,
		HTF:       htf,
		LTF:       ltf,
		Position:  pos,
		Account:   acct,
		Price:     price,
		Headlines: headlines,
	})
	d = r.oncePerCandle(d, pos, candleTS)
	slog.Info("decision",
		append(trace,
			"id", d.ID,
			"action", string(d.Action),
			"size", d.Size,
			"stop", d.StopPrice,
			"price", d.Price,
			"trend", string(d.Trend),
			"reason", d.Reason)...)

	if r.dispatch(ctx, d) && isEntry(d.Action) {
		r.mu.Lock()
		r.lastEntry = candleTS
		r.mu.Unlock()
	}

	took := r.now().Sub(start)
	r.opts.Metrics.ObserveCycle(d, took)
	r.opts.Health.RecordCycle(d.CreatedAt, string(d.Action))
	r.publishAccount(ctx, price)

	r.mu.Lock()
	r.stats.Cycles++
	r.stats.Actions[d.Action]++
	r.stats.LastCycleAt = d.CreatedAt
	r.stats.LastDecision = &d
	r.mu.Unlock()
	return d, nil
}

func isEntry(a model.Action) bool {
	return a == model.ActionBuy || a == model.ActionSell
}

// oncePerCandle downgrades a BUY or SELL on a candle that already opened
// or added to the position. Polls between candle closes see the same
// data and would otherwise pyramid again each time. A stop improvement
// carried by the repeated add is kept as UPDATE_TPSL.
func (r *Runner) oncePerCandle(d model.Decision, pos *model.Position, ts int64) model.Decision {
	if !isEntry(d.Action) {
		return d
	}
	r.mu.Lock()
	repeated := ts <= r.lastEntry
	r.mu.Unlock()
	if !repeated {
		return d
	}

	d.Reason = fmt.Sprintf("already entered on candle %d; %s", ts, d.Reason)
	if pos != nil && d.StopPrice > 0 && d.StopPrice != pos.StopPrice {
		d.Action = model.ActionUpdateTPSL
		d.Size = pos.Size
		d.Narrative.Summary = fmt.Sprintf("move %s stop to %.4f", d.Symbol, d.StopPrice)
		return d
	}
	d.Action = model.ActionHold
	d.Size = 0
	d.StopPrice = 0
	if pos != nil {
		d.StopPrice = pos.StopPrice
	}
	d.Narrative.Summary = fmt.Sprintf("HOLD %s: %s", d.Symbol, d.Reason)
	return d
}

// dispatch hands the decision to the executor, every publisher and, when
// actionable, the notifier. Failures are logged and counted only. It
// reports whether the executor accepted the decision; without an
// executor the decision counts as accepted.
func (r *Runner) dispatch(ctx context.Context, d model.Decision) bool {
	trace := logger.LogWithTrace(ctx)

	accepted := true
	if r.opts.Executor != nil && d.Action.Actionable() {
		if res, err := r.opts.Executor.Execute(ctx, d); err != nil {
			slog.Warn("execution failed", append(trace, "id", d.ID, "error", err)...)
			r.countError("execute")
			accepted = false
		} else {
			slog.Info("executed", append(trace, "order", res.OrderID, "status", res.Status)...)
		}
	}

	for _, p := range r.opts.Publishers {
		if err := p.PublishDecision(ctx, d); err != nil {
			slog.Warn("publish failed", append(trace, "id", d.ID, "error", err)...)
			r.countError("publish")
		}
	}

	if r.opts.Notifier != nil && d.Action.Actionable() {
		if err := r.opts.Notifier.Send(ctx, notification.DecisionAlert(d)); err != nil {
			slog.Warn("notify failed", append(trace, "id", d.ID, "error", err)...)
			r.countError("notify")
		}
	}
	return accepted
}

// checkStop replays the newest closed candle against the committed stop,
// once per candle.
func (r *Runner) checkStop(ctx context.Context, last model.Candle) {
	sc, ok := r.opts.Account.(StopChecker)
	if !ok {
		return
	}
	r.mu.Lock()
	fresh := last.TS > r.lastChecked
	if fresh {
		r.lastChecked = last.TS
	}
	r.mu.Unlock()
	if !fresh {
		return
	}

	if fill, hit := sc.CheckStop(last); hit {
		slog.Warn("stop hit",
			append(logger.LogWithTrace(ctx), "side", string(fill.Side), "price", fill.Price, "realized", fill.Realized)...)
		r.mu.Lock()
		r.stats.StopsHit++
		r.mu.Unlock()
		if r.opts.Notifier != nil {
			alert := notification.Alert{
				Level:   notification.AlertWarning,
				Title:   "STOP " + r.cfg.Symbol,
				Message: fmt.Sprintf("stop hit: %.4f contracts at %.4f, realized %.4f", fill.Size, fill.Price, fill.Realized),
			}
			if err := r.opts.Notifier.Send(ctx, alert); err != nil {
				r.countError("notify")
			}
		}
	}
}

func (r *Runner) publishAccount(ctx context.Context, price float64) {
	if r.opts.Metrics == nil {
		return
	}
	pos, acct, err := r.opts.Account.Snapshot(ctx, r.cfg.Symbol, price)
	if err != nil {
		return
	}
	var unrealized, realized float64
	if pos != nil {
		unrealized = pos.UnrealizedPnL
	}
	if rep, ok := r.opts.Account.(pnlReporter); ok {
		realized = rep.Summary(price).RealizedPnL
	}
	r.opts.Metrics.SetAccount(acct.TotalEquity, unrealized, realized)
}

func (r *Runner) fail(stage string, err error) (model.Decision, error) {
	r.countError(stage)
	return model.Decision{}, err
}

func (r *Runner) countError(stage string) {
	r.opts.Metrics.CycleError(stage)
	r.mu.Lock()
	r.stats.Errors++
	r.mu.Unlock()
}

// Pause stops new cycles from running. A cycle in flight completes.
func (r *Runner) Pause() {
	r.paused.Store(true)
	r.opts.Health.SetPaused(true)
	slog.Info("runner paused", "symbol", r.cfg.Symbol)
}

// Resume re-enables cycles.
func (r *Runner) Resume() {
	r.paused.Store(false)
	r.opts.Health.SetPaused(false)
	slog.Info("runner resumed", "symbol", r.cfg.Symbol)
}

// Paused reports whether the runner is paused.
func (r *Runner) Paused() bool { return r.paused.Load() }

// Status returns a copy of the runner's counters.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Paused = r.paused.Load()
	s.Actions = make(map[model.Action]int, len(r.stats.Actions))
	for k, v := range r.stats.Actions {
		s.Actions[k] = v
	}
	if r.stats.LastDecision != nil {
		d := *r.stats.LastDecision
		s.LastDecision = &d
	}
	return s
}
