package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"emafutures/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Reader reads decisions back from Redis. It shares the writer's client.
type Reader struct {
	client *goredis.Client
}

// NewReader wraps an existing client.
func NewReader(client *goredis.Client) *Reader {
	return &Reader{client: client}
}

// LatestDecision returns the most recent decision for a symbol, or nil, nil
// when none is stored.
func (r *Reader) LatestDecision(ctx context.Context, symbol string) (*model.Decision, error) {
	data, err := r.client.Get(ctx, LatestKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis GET %s: %w", LatestKey(symbol), err)
	}

	var d model.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal latest decision: %w", err)
	}
	return &d, nil
}

// RecentDecisions returns up to n decisions from the stream, newest first.
func (r *Reader) RecentDecisions(ctx context.Context, symbol string, n int64) ([]model.Decision, error) {
	msgs, err := r.client.XRevRangeN(ctx, StreamKey(symbol), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", StreamKey(symbol), err)
	}

	out := make([]model.Decision, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var d model.Decision
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			log.Printf("[redis-reader] skip bad stream entry %s: %v", msg.ID, err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Recent lists up to limit decisions from the stream, newest first, so a
// follower gateway can serve history without the journal.
func (r *Reader) Recent(ctx context.Context, symbol string, limit int) ([]model.Decision, error) {
	return r.RecentDecisions(ctx, symbol, int64(limit))
}

// SubscribeDecisions relays every decision announced on the symbol's
// channel to sink until ctx is cancelled. Undecodable messages are logged
// and skipped. It returns once the subscription fails or ctx ends.
func (r *Reader) SubscribeDecisions(ctx context.Context, symbol string, sink model.DecisionPublisher) error {
	channel := ChannelKey(symbol)
	sub := r.client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis SUBSCRIBE %s: %w", channel, err)
	}
	log.Printf("[redis-reader] subscribed to %s", channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription %s closed", channel)
			}
			var d model.Decision
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				log.Printf("[redis-reader] skip bad message on %s: %v", channel, err)
				continue
			}
			if err := sink.PublishDecision(ctx, d); err != nil {
				log.Printf("[redis-reader] relay decision %s: %v", d.ID, err)
			}
		}
	}
}
