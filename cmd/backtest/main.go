// cmd/backtest replays stored LTF candles from SQLite through the decision
// engine against a paper account and prints the result.
//
// HTF candles are resampled from the replayed LTF candles, so only the LTF
// series needs to be ingested.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/emafutures.db --from=0 --speed=0
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"emafutures/config"
	"emafutures/internal/decision"
	"emafutures/internal/execution"
	"emafutures/internal/logger"
	"emafutures/internal/marketdata/replay"
	"emafutures/internal/marketdata/resample"
	"emafutures/internal/model"
	"emafutures/internal/runner"
	sqlitestore "emafutures/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 900=15m per second)")
	fromTS := flag.Int64("from", 0, "Unix ms to start replay from (0=all)")
	toTS := flag.Int64("to", 0, "Unix ms to stop replay at (0=all)")
	dbPath := flag.String("db", cfg.SQLitePath, "Path to SQLite database")
	symbol := flag.String("symbol", cfg.Symbol, "Instrument to replay")
	verbose := flag.Bool("v", false, "Print every actionable decision")
	flag.Parse()
	cfg.Symbol = *symbol

	// engine logs are noise during a replay; keep the log package on stderr
	logger.Init("backtest", logger.ParseLevel("warn"))
	log.SetOutput(os.Stderr)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	if n, err := reader.Count(context.Background(), *symbol, cfg.LTFSeconds); err == nil {
		log.Printf("[backtest] %s: %d stored %ds candles", *symbol, n, cfg.LTFSeconds)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	paper := execution.NewPaperAccount(execution.PaperConfig{
		Instrument:   cfg.Instrument(),
		StartEquity:  cfg.PaperEquity,
		TakerFeeRate: cfg.TakerFeeRate,
		SlippageBps:  cfg.SlippageBps(),
	})
	composer := decision.NewComposer(decision.Config{
		Instrument: cfg.Instrument(),
		Leverage:   cfg.Leverage,
		Risk:       cfg.RiskParams(),
	}, nil)

	window := runner.NewWindow(cfg.CandleLimit)
	r, err := runner.New(runner.Config{
		Symbol:      cfg.Symbol,
		LTFSeconds:  cfg.LTFSeconds,
		HTFSeconds:  cfg.HTFSeconds,
		CandleLimit: cfg.CandleLimit,
	}, runner.Options{
		Candles:  window,
		Account:  paper,
		Composer: composer,
		Executor: paper,
	})
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	htf, err := resample.New(cfg.LTFSeconds, cfg.HTFSeconds)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	candleCh := make(chan model.Candle, 1024)
	go func() {
		defer close(candleCh)
		if _, err := replay.New(reader).Run(ctx, cfg.Symbol, cfg.LTFSeconds, *fromTS, *toTS, *speed, candleCh); err != nil {
			log.Printf("[backtest] replay error: %v", err)
		}
	}()

	processed := 0
	var last model.Candle
	for c := range candleCh {
		window.Append(cfg.LTFSeconds, c)
		window.Append(cfg.HTFSeconds, htf.Add(c)...)
		processed++
		last = c

		d, _, err := r.Trigger(ctx)
		if err != nil {
			log.Printf("[backtest] cycle at %s: %v", c.Time().Format("2006-01-02 15:04"), err)
			continue
		}
		if *verbose && d.Action.Actionable() {
			fmt.Printf("  [%s] %-11s size=%-8.2f stop=%-10.2f price=%-10.2f %s\n",
				c.Time().Format("2006-01-02 15:04"), d.Action, d.Size, d.StopPrice, d.Price, d.Reason)
		}
	}

	printSummary(processed, last, paper, r.Status(), cfg.PaperEquity)
}

func printSummary(processed int, last model.Candle, paper *execution.PaperAccount, st runner.Status, start float64) {
	sum := paper.Summary(last.Close)
	equity := paper.Equity(last.Close)

	fills := paper.Fills()
	var slippage float64
	var stopFills int
	for _, f := range fills {
		slippage += f.Slippage
		if f.DecisionID == "" {
			stopFills++
		}
	}
	avgSlip := 0.0
	if len(fills) > 0 {
		avgSlip = slippage / float64(len(fills))
	}

	actions := make([]string, 0, len(st.Actions))
	for a := range st.Actions {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)

	winRate := 0.0
	if sum.ClosingTrades > 0 {
		winRate = 100 * float64(sum.WinningTrades) / float64(sum.ClosingTrades)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Candles processed: %-16d ║\n", processed)
	fmt.Printf("║  Fills:             %-16d ║\n", len(fills))
	fmt.Printf("║  Stop fills:        %-16d ║\n", stopFills)
	fmt.Printf("║  Avg slippage:      %-16.4f ║\n", avgSlip)
	fmt.Printf("║  Closing trades:    %-16d ║\n", sum.ClosingTrades)
	fmt.Printf("║  Win rate:          %-15.1f%% ║\n", winRate)
	fmt.Printf("║  Stops hit:         %-16d ║\n", st.StopsHit)
	fmt.Printf("║  Realized PnL:      %-16.2f ║\n", sum.RealizedPnL)
	fmt.Printf("║  Unrealized PnL:    %-16.2f ║\n", sum.UnrealizedPnL)
	fmt.Printf("║  Fees:              %-16.2f ║\n", sum.Fees)
	fmt.Printf("║  Equity:            %-16.2f ║\n", equity)
	fmt.Printf("║  Return:            %-15.2f%% ║\n", 100*(equity-start)/start)
	fmt.Println("╠══════════════════════════════════════╣")
	for _, a := range actions {
		fmt.Printf("║  %-17s %-16d ║\n", a+":", st.Actions[model.Action(a)])
	}
	fmt.Println("╚══════════════════════════════════════╝")
}
