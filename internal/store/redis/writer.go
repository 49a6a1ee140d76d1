// Package redis publishes decisions to Redis: an append-only stream per
// symbol, a latest-value key and a Pub/Sub channel for live consumers.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"emafutures/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// ~2 weeks of 15m cycles, ~1 week at 1m polling
	streamMaxLen     = 10000
	defaultLatestTTL = 24 * time.Hour
)

// StreamKey is the decision stream of a symbol.
func StreamKey(symbol string) string { return "decision:" + symbol }

// LatestKey holds the most recent decision JSON of a symbol.
func LatestKey(symbol string) string { return "decision:latest:" + symbol }

// ChannelKey is the Pub/Sub channel decisions are announced on.
func ChannelKey(symbol string) string { return "pub:decision:" + symbol }

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes decisions to Redis.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// PublishDecision appends the decision to its stream, refreshes the latest
// key and announces it, all in one pipeline round trip.
func (w *Writer) PublishDecision(ctx context.Context, d model.Decision) error {
	data := string(d.JSON())

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: StreamKey(d.Symbol),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data, "action": string(d.Action)},
	})
	pipe.Set(ctx, LatestKey(d.Symbol), data, defaultLatestTTL)
	pipe.Publish(ctx, ChannelKey(d.Symbol), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish decision %s: %w", d.ID, err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
