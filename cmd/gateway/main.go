// cmd/gateway serves another engine's decisions without running one: it
// follows the engine's Redis channel and fans the decisions out over the
// same WebSocket and REST endpoints the engine exposes.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emafutures/config"
	"emafutures/internal/gateway"
	"emafutures/internal/logger"
	redisstore "emafutures/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	logger.Init("gateway", logger.ParseLevel(cfg.LogLevel))
	if cfg.RedisAddr == "" {
		log.Fatal("[gateway] REDIS_ADDR is required to follow an engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	w, err := redisstore.New(redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		log.Fatalf("[gateway] redis: %v", err)
	}
	defer w.Close()
	reader := redisstore.NewReader(w.Client())

	hub := gateway.NewHub(256)
	if recent, err := reader.RecentDecisions(ctx, cfg.Symbol, 1); err != nil {
		log.Printf("[gateway] WARNING: warm start failed: %v", err)
	} else if len(recent) > 0 {
		hub.Seed(recent)
		log.Printf("[gateway] restored latest decision %s (%s)", recent[0].ID, recent[0].Action)
	}

	go follow(ctx, reader, cfg.Symbol, hub)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, gateway.Options{
		Hub:     hub,
		Symbol:  cfg.Symbol,
		Latest:  reader,
		History: reader,
	})
	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("[gateway] following %s, listening on %s", cfg.Symbol, cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[gateway] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[gateway] shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

// follow keeps the subscription alive, backing off between reconnects.
func follow(ctx context.Context, reader *redisstore.Reader, symbol string, hub *gateway.Hub) {
	backoff := time.Second
	for {
		start := time.Now()
		err := reader.SubscribeDecisions(ctx, symbol, hub)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > time.Minute {
			backoff = time.Second
		}
		log.Printf("[gateway] subscription lost: %v (retry in %s)", err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
