package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"emafutures/internal/breaker"
	"emafutures/internal/model"
)

// BufferedPublisher wraps a decision publisher with a circuit breaker.
// Decisions that cannot be delivered are held locally, oldest dropped
// first once full, and replayed when the breaker closes or the next
// publish succeeds.
type BufferedPublisher struct {
	next model.DecisionPublisher
	cb   *breaker.Breaker

	mu      sync.Mutex
	buffer  []model.Decision
	maxBuf  int
	flushMu sync.Mutex

	// Callbacks
	OnBuffer func()          // called when a decision is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered decisions
}

// NewBufferedPublisher creates a BufferedPublisher. maxBufferSize <= 0
// defaults to 1000.
func NewBufferedPublisher(next model.DecisionPublisher, cb *breaker.Breaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}
	bp := &BufferedPublisher{
		next:   next,
		cb:     cb,
		buffer: make([]model.Decision, 0, 64),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(name string, from, to breaker.State) {
		if prev != nil {
			prev(name, from, to)
		}
		if to == breaker.StateClosed {
			go bp.flush(context.Background())
		}
	}
	return bp
}

// PublishDecision publishes through the breaker. A failed or rejected
// publish is buffered and reported as success. While a backlog is
// pending, d queues behind it so the stream stays in order and the latest
// key ends on the newest decision.
func (bp *BufferedPublisher) PublishDecision(ctx context.Context, d model.Decision) error {
	bp.flushMu.Lock()
	defer bp.flushMu.Unlock()

	if bp.PendingCount() > 0 {
		bp.bufferDecision(d)
		bp.flushLocked(ctx)
		return nil
	}

	err := bp.publish(ctx, d)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if !errors.Is(err, breaker.ErrCircuitOpen) {
		log.Printf("[redis] publish failed, buffering decision %s: %v", d.ID, err)
	}
	bp.bufferDecision(d)
	return nil
}

func (bp *BufferedPublisher) publish(ctx context.Context, d model.Decision) error {
	return bp.cb.ExecuteContext(ctx, func(ctx context.Context) error {
		return bp.next.PublishDecision(ctx, d)
	})
}

func (bp *BufferedPublisher) bufferDecision(d model.Decision) {
	bp.mu.Lock()
	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, d)
	bp.mu.Unlock()

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered decisions in order. It is a no-op when the
// buffer is empty, so the breaker-close hook and PublishDecision can both
// call it.
func (bp *BufferedPublisher) flush(ctx context.Context) {
	bp.flushMu.Lock()
	defer bp.flushMu.Unlock()
	bp.flushLocked(ctx)
}

// flushLocked publishes through the breaker; a failure or an open circuit
// puts the unsent tail back at the front of the buffer. flushMu is held.
func (bp *BufferedPublisher) flushLocked(ctx context.Context) {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = make([]model.Decision, 0, 64)
	bp.mu.Unlock()

	flushed := 0
	for i, d := range toFlush {
		if err := bp.publish(ctx, d); err != nil {
			if !errors.Is(err, breaker.ErrCircuitOpen) {
				log.Printf("[redis] flush stopped after %d of %d: %v", flushed, len(toFlush), err)
			}
			bp.mu.Lock()
			bp.buffer = append(append([]model.Decision{}, toFlush[i:]...), bp.buffer...)
			if over := len(bp.buffer) - bp.maxBuf; over > 0 {
				bp.buffer = bp.buffer[over:]
			}
			bp.mu.Unlock()
			break
		}
		flushed++
	}

	if flushed > 0 {
		log.Printf("[redis] flushed %d buffered decisions", flushed)
		if bp.OnFlush != nil {
			bp.OnFlush(flushed)
		}
	}
}

// PendingCount returns the number of buffered decisions waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
