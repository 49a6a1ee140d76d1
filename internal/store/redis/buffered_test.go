package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emafutures/internal/breaker"
	"emafutures/internal/model"
)

type fakePublisher struct {
	mu   sync.Mutex
	fail bool
	got  []string
}

func (f *fakePublisher) PublishDecision(_ context.Context, d model.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.got = append(f.got, d.ID)
	return nil
}

func (f *fakePublisher) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakePublisher) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

func dec(id string) model.Decision {
	return model.Decision{ID: id, Symbol: "ETH-USDT-SWAP", Action: model.ActionHold}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "decision:ETH-USDT-SWAP", StreamKey("ETH-USDT-SWAP"))
	assert.Equal(t, "decision:latest:ETH-USDT-SWAP", LatestKey("ETH-USDT-SWAP"))
	assert.Equal(t, "pub:decision:ETH-USDT-SWAP", ChannelKey("ETH-USDT-SWAP"))
}

func TestBufferedPublisher_PassThrough(t *testing.T) {
	fp := &fakePublisher{}
	bp := NewBufferedPublisher(fp, breaker.New("redis", 3, time.Minute), 10)

	require.NoError(t, bp.PublishDecision(context.Background(), dec("a")))
	assert.Equal(t, []string{"a"}, fp.ids())
	assert.Zero(t, bp.PendingCount())
}

func TestBufferedPublisher_BuffersAndReplaysInOrder(t *testing.T) {
	fp := &fakePublisher{}
	cb := breaker.New("redis", 2, 30*time.Millisecond)
	bp := NewBufferedPublisher(fp, cb, 10)
	var buffered int
	bp.OnBuffer = func() { buffered++ }

	fp.setFail(true)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, bp.PublishDecision(context.Background(), dec(id)))
	}
	assert.Equal(t, breaker.StateOpen, cb.CurrentState())
	assert.Equal(t, 3, bp.PendingCount())
	assert.Equal(t, 3, buffered)

	fp.setFail(false)
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, bp.PublishDecision(context.Background(), dec("d")))

	assert.Zero(t, bp.PendingCount())
	assert.Equal(t, []string{"a", "b", "c", "d"}, fp.ids())
	assert.Equal(t, breaker.StateClosed, cb.CurrentState())
}

func TestBufferedPublisher_NewestLandsLastAfterRecovery(t *testing.T) {
	fp := &fakePublisher{fail: true}
	cb := breaker.New("redis", 2, 20*time.Millisecond)
	bp := NewBufferedPublisher(fp, cb, 10)
	var flushed int
	bp.OnFlush = func(n int) { flushed += n }

	require.NoError(t, bp.PublishDecision(context.Background(), dec("old1")))
	require.NoError(t, bp.PublishDecision(context.Background(), dec("old2")))
	require.Equal(t, breaker.StateOpen, cb.CurrentState())

	fp.setFail(false)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, bp.PublishDecision(context.Background(), dec("newest")))

	// the close hook's own flush finds nothing left to send
	time.Sleep(20 * time.Millisecond)
	ids := fp.ids()
	assert.Equal(t, []string{"old1", "old2", "newest"}, ids)
	assert.Equal(t, "newest", ids[len(ids)-1])
	assert.Equal(t, 3, flushed)
}

func TestBufferedPublisher_QueuesBehindBacklogWhileOpen(t *testing.T) {
	fp := &fakePublisher{fail: true}
	cb := breaker.New("redis", 1, time.Minute)
	bp := NewBufferedPublisher(fp, cb, 10)

	require.NoError(t, bp.PublishDecision(context.Background(), dec("a")))
	fp.setFail(false)
	require.NoError(t, bp.PublishDecision(context.Background(), dec("b")))

	assert.Empty(t, fp.ids())
	assert.Equal(t, 2, bp.PendingCount())

	cb.Reset()
	assert.Eventually(t, func() bool { return bp.PendingCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, fp.ids())
}

func TestBufferedPublisher_DropsOldestWhenFull(t *testing.T) {
	fp := &fakePublisher{fail: true}
	bp := NewBufferedPublisher(fp, breaker.New("redis", 1, time.Minute), 2)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, bp.PublishDecision(context.Background(), dec(id)))
	}
	assert.Equal(t, 2, bp.PendingCount())

	bp.mu.Lock()
	kept := []string{bp.buffer[0].ID, bp.buffer[1].ID}
	bp.mu.Unlock()
	assert.Equal(t, []string{"b", "c"}, kept)
}

func TestBufferedPublisher_ChainsStateCallback(t *testing.T) {
	cb := breaker.New("redis", 1, time.Minute)
	var seen []breaker.State
	cb.OnStateChange = func(_ string, _, to breaker.State) { seen = append(seen, to) }

	fp := &fakePublisher{fail: true}
	bp := NewBufferedPublisher(fp, cb, 10)
	require.NoError(t, bp.PublishDecision(context.Background(), dec("a")))

	assert.Equal(t, []breaker.State{breaker.StateOpen}, seen)
}
