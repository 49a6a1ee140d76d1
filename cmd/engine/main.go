// cmd/engine runs the live decision loop for one instrument: candles from
// SQLite, a paper account, decisions fanned out to the journal, Redis, the
// WebSocket gateway and the notifiers.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"emafutures/config"
	"emafutures/internal/annotator"
	"emafutures/internal/breaker"
	"emafutures/internal/decision"
	"emafutures/internal/execution"
	"emafutures/internal/gateway"
	"emafutures/internal/logger"
	"emafutures/internal/metrics"
	"emafutures/internal/model"
	"emafutures/internal/notification"
	"emafutures/internal/runner"
	redisstore "emafutures/internal/store/redis"
	sqlitestore "emafutures/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	logger.Init("engine", logger.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[engine] %v", err)
	}
	log.Printf("[engine] starting: symbol=%s ltf=%ds htf=%ds poll=%s", cfg.Symbol, cfg.LTFSeconds, cfg.HTFSeconds, cfg.PollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(cfg.Symbol, 3*cfg.PollInterval)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, nil)
	metricsSrv.Start()

	// ---- SQLite: candles + decision journal ----
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		log.Fatalf("[engine] data dir: %v", err)
	}
	candles, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[engine] sqlite open failed: %v", err)
	}
	defer candles.Close()
	health.SetSQLiteOK(true)

	journal, err := execution.NewJournal(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[engine] journal open failed: %v", err)
	}
	defer journal.Close()
	journal.OnRecord = prom.ObserveCommit

	// ---- Paper account ----
	paper := execution.NewPaperAccount(execution.PaperConfig{
		Instrument:   cfg.Instrument(),
		StartEquity:  cfg.PaperEquity,
		TakerFeeRate: cfg.TakerFeeRate,
		SlippageBps:  cfg.SlippageBps(),
	})

	// ---- Gateway hub ----
	hub := gateway.NewHub(256)
	hub.OnClientCount = prom.SetWSClients

	publishers := []model.DecisionPublisher{journal, hub}

	// ---- Redis (optional) ----
	var (
		rdb      *goredis.Client
		reader   *redisstore.Reader
		latest   model.LatestDecisionReader
		breakers []*breaker.Breaker
	)
	if cfg.RedisAddr != "" {
		health.SetRedisEnabled(true)
		w, err := redisstore.New(redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[engine] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			defer w.Close()
			rdb = w.Client()
			cb := newBreaker("redis", 3, 30*time.Second, prom)
			breakers = append(breakers, cb)
			buffered := redisstore.NewBufferedPublisher(w, cb, 1000)
			buffered.OnBuffer = prom.BufferedWrite
			buffered.OnFlush = func(n int) { log.Printf("[engine] redis recovered, replayed %d decisions", n) }
			publishers = append(publishers, buffered)
			reader = redisstore.NewReader(rdb)
			latest = reader
		}
	}
	warmStart(ctx, hub, cfg.Symbol, reader, journal)
	health.StartLivenessChecker(ctx, rdb, candles.DB(), 10*time.Second)

	// ---- Annotator (optional) ----
	var ann annotator.Annotator
	if cfg.AnnotatorEnabled() {
		cb := newBreaker("annotator", 3, time.Minute, prom)
		breakers = append(breakers, cb)
		client := annotator.NewClient(annotator.Config{
			BaseURL: cfg.AnnotatorBaseURL,
			APIKey:  cfg.AnnotatorAPIKey,
			Model:   cfg.AnnotatorModel,
			Timeout: cfg.AnnotatorTimeout,
		}, cb)

		probeCtx, probeCancel := context.WithTimeout(ctx, cfg.AnnotatorTimeout)
		if err := client.TestConnection(probeCtx); err != nil {
			log.Printf("[engine] WARNING: annotator connection test failed: %v", err)
		}
		probeCancel()
		ann = client
	} else {
		log.Println("[engine] annotator disabled (no ANNOTATOR_BASE_URL / ANNOTATOR_API_KEY)")
	}

	composer := decision.NewComposer(decision.Config{
		Instrument:       cfg.Instrument(),
		Leverage:         cfg.Leverage,
		Risk:             cfg.RiskParams(),
		AnnotatorTimeout: cfg.AnnotatorTimeout,
	}, ann)
	composer.OnAnnotate = prom.ObserveAnnotator

	// ---- Notifiers ----
	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}

	// ---- Runner ----
	r, err := runner.New(runner.Config{
		Symbol:       cfg.Symbol,
		LTFSeconds:   cfg.LTFSeconds,
		HTFSeconds:   cfg.HTFSeconds,
		CandleLimit:  cfg.CandleLimit,
		PollInterval: cfg.PollInterval,
	}, runner.Options{
		Candles:    candles,
		Account:    paper,
		Composer:   composer,
		Executor:   paper,
		Publishers: publishers,
		Notifier:   notifiers,
		Metrics:    prom,
		Health:     health,
	})
	if err != nil {
		log.Fatalf("[engine] %v", err)
	}

	// ---- Gateway HTTP ----
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, gateway.Options{
		Hub:        hub,
		Symbol:     cfg.Symbol,
		Latest:     latest,
		History:    journal,
		Control:    operator{Runner: r, breakers: breakers},
		TOTPSecret: cfg.OperatorTOTPSecret,
		Status:     func() any { return engineStatus(ctx, r, journal, breakers, cfg.Symbol) },
	})
	gw := &http.Server{Addr: cfg.GatewayAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("[engine] gateway listening on %s", cfg.GatewayAddr)
		if err := gw.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[engine] gateway error: %v", err)
		}
	}()

	go r.Run(ctx)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[engine] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	gw.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[engine] shutdown complete.")
}

// warmStart restores the hub's latest decision from the Redis stream, or
// the journal when Redis is off or empty.
func warmStart(ctx context.Context, hub *gateway.Hub, symbol string, reader *redisstore.Reader, journal *execution.Journal) {
	var recent []model.Decision
	if reader != nil {
		var err error
		if recent, err = reader.RecentDecisions(ctx, symbol, 1); err != nil {
			log.Printf("[engine] WARNING: redis warm start failed: %v", err)
		}
	}
	if len(recent) == 0 {
		var err error
		if recent, err = journal.Recent(ctx, symbol, 1); err != nil {
			log.Printf("[engine] WARNING: journal warm start failed: %v", err)
			return
		}
	}
	if len(recent) > 0 {
		hub.Seed(recent)
		log.Printf("[engine] restored latest decision %s (%s)", recent[0].ID, recent[0].Action)
	}
}

type status struct {
	runner.Status
	Journal  map[model.Action]int `json:"journal,omitempty"`
	Breakers []breaker.Stats      `json:"breakers,omitempty"`
}

func engineStatus(ctx context.Context, r *runner.Runner, journal *execution.Journal, breakers []*breaker.Breaker, symbol string) status {
	st := status{Status: r.Status()}
	for _, cb := range breakers {
		st.Breakers = append(st.Breakers, cb.Stats())
	}
	qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if counts, err := journal.CountByAction(qctx, symbol); err == nil {
		st.Journal = counts
	}
	return st
}

// operator is the gateway's control target. Resuming also closes the
// breakers so a recovered dependency is retried at once; the Redis
// backlog replays on close.
type operator struct {
	*runner.Runner
	breakers []*breaker.Breaker
}

func (o operator) Resume() {
	for _, cb := range o.breakers {
		cb.Reset()
	}
	o.Runner.Resume()
}

// newBreaker creates a breaker that reports its transitions to metrics.
func newBreaker(name string, maxFailures int, cooldown time.Duration, prom *metrics.Metrics) *breaker.Breaker {
	cb := breaker.New(name, maxFailures, cooldown)
	cb.OnStateChange = func(name string, from, to breaker.State) {
		log.Printf("[engine] breaker %s: %s -> %s", name, from, to)
		prom.SetBreakerState(name, int(to))
	}
	return cb
}
