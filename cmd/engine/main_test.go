package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emafutures/internal/breaker"
	"emafutures/internal/decision"
	"emafutures/internal/execution"
	"emafutures/internal/portfolio"
	"emafutures/internal/runner"
)

func newTestRunner(t *testing.T) *runner.Runner {
	t.Helper()
	inst := portfolio.Instrument{Symbol: "ETH-USDT-SWAP", ContractValue: 0.1, PricePrecision: 2, SizePrecision: 2, MinSize: 0.01}
	paper := execution.NewPaperAccount(execution.PaperConfig{Instrument: inst, StartEquity: 10000})
	r, err := runner.New(runner.Config{Symbol: inst.Symbol, LTFSeconds: 900, HTFSeconds: 3600}, runner.Options{
		Candles:  runner.NewWindow(10),
		Account:  paper,
		Composer: decision.NewComposer(decision.Config{Instrument: inst, Leverage: 5, Risk: portfolio.DefaultRiskParams(0, 0)}, nil),
	})
	require.NoError(t, err)
	return r
}

func TestOperator_ResumeClosesBreakers(t *testing.T) {
	r := newTestRunner(t)
	cb := breaker.New("redis", 1, time.Hour)
	_ = cb.Execute(func() error { return errors.New("down") })
	require.Equal(t, breaker.StateOpen, cb.CurrentState())

	op := operator{Runner: r, breakers: []*breaker.Breaker{cb}}
	op.Pause()
	require.True(t, r.Paused())

	op.Resume()
	assert.False(t, r.Paused())
	assert.Equal(t, breaker.StateClosed, cb.CurrentState())
}

func TestEngineStatus_IncludesBreakers(t *testing.T) {
	r := newTestRunner(t)
	journal, err := execution.NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer journal.Close()

	cb := breaker.New("annotator", 3, time.Minute)
	_ = cb.Execute(func() error { return errors.New("timeout") })

	st := engineStatus(context.Background(), r, journal, []*breaker.Breaker{cb}, "ETH-USDT-SWAP")
	require.Len(t, st.Breakers, 1)
	assert.Equal(t, "annotator", st.Breakers[0].Name)
	assert.Equal(t, "closed", st.Breakers[0].State)
	assert.Equal(t, 1, st.Breakers[0].ConsecutiveFailures)
	assert.Equal(t, "timeout", st.Breakers[0].LastError)
	assert.Equal(t, "ETH-USDT-SWAP", st.Symbol)
}
