package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"emafutures/internal/model"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func testDecision(id, symbol string, action model.Action) model.Decision {
	return model.Decision{
		ID:        id,
		Symbol:    symbol,
		Action:    action,
		Size:      8.33,
		Leverage:  5,
		StopPrice: 2950,
		Price:     3000,
		Trend:     model.DirectionUp,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

type fakeControl struct {
	mu     sync.Mutex
	paused bool
}

func (f *fakeControl) Pause()  { f.mu.Lock(); f.paused = true; f.mu.Unlock() }
func (f *fakeControl) Resume() { f.mu.Lock(); f.paused = false; f.mu.Unlock() }
func (f *fakeControl) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

type fakeHistory struct {
	got []model.Decision
	err error
}

func (f *fakeHistory) Recent(_ context.Context, symbol string, limit int) ([]model.Decision, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Decision
	for _, d := range f.got {
		if d.Symbol == symbol && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeLatest struct {
	d   *model.Decision
	err error
}

func (f fakeLatest) LatestDecision(context.Context, string) (*model.Decision, error) {
	return f.d, f.err
}

func newServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	if opts.Hub == nil {
		opts.Hub = NewHub(16)
	}
	mux := http.NewServeMux()
	RegisterRoutes(mux, opts)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEnvelopeFormat(t *testing.T) {
	d := testDecision("abc", "ETH-USDT-SWAP", model.ActionBuy)
	now := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	buf := envelope("decision", d, now, 42)

	require.True(t, gjson.ValidBytes(buf), string(buf))
	r := gjson.ParseBytes(buf)
	assert.Equal(t, "decision", r.Get("type").String())
	assert.Equal(t, "ETH-USDT-SWAP", r.Get("symbol").String())
	assert.Equal(t, int64(42), r.Get("seq").Int())
	assert.Equal(t, "BUY", r.Get("data.action").String())
	assert.Equal(t, 2950.0, r.Get("data.stop_price").Float())

	ts, err := time.Parse(time.RFC3339Nano, r.Get("ts").String())
	require.NoError(t, err)
	assert.True(t, ts.Equal(now))
}

func TestReplayBuffer_SinceWrapsAround(t *testing.T) {
	rb := NewReplayBuffer(3)
	for i := int64(1); i <= 5; i++ {
		rb.Push(i, "ETH", []byte{byte('0' + i)})
	}
	assert.Equal(t, 3, rb.Len())

	got := rb.Since(3)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].Seq)
	assert.Equal(t, int64(5), got[1].Seq)

	all := rb.Since(0)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].Seq)
}

func TestLatencyTracker_Summary(t *testing.T) {
	lt := NewLatencyTracker(100)
	assert.Equal(t, LatencySummary{}, lt.Summary())

	for i := 1; i <= 100; i++ {
		lt.Record(time.Duration(i) * time.Millisecond)
	}
	s := lt.Summary()
	assert.Equal(t, 100, s.Count)
	assert.Equal(t, 50.0, s.P50)
	assert.Equal(t, 95.0, s.P95)
	assert.Equal(t, 99.0, s.P99)
}

func TestHub_LatestAndSeq(t *testing.T) {
	h := NewHub(8)
	ctx := context.Background()

	d, err := h.LatestDecision(ctx, "ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.Nil(t, d)

	require.NoError(t, h.PublishDecision(ctx, testDecision("1", "ETH-USDT-SWAP", model.ActionBuy)))
	require.NoError(t, h.PublishDecision(ctx, testDecision("2", "ETH-USDT-SWAP", model.ActionHold)))

	d, err = h.LatestDecision(ctx, "ETH-USDT-SWAP")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "2", d.ID)
	assert.Equal(t, int64(2), h.Seq())
	assert.Equal(t, 2, h.Latency.Summary().Count)
}

func TestHub_SeedKeepsNewer(t *testing.T) {
	h := NewHub(8)
	ctx := context.Background()

	old := testDecision("old", "ETH-USDT-SWAP", model.ActionBuy)
	h.Seed([]model.Decision{old})
	d, err := h.LatestDecision(ctx, "ETH-USDT-SWAP")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "old", d.ID)
	assert.Equal(t, int64(0), h.Seq())

	live := testDecision("live", "ETH-USDT-SWAP", model.ActionHold)
	live.CreatedAt = old.CreatedAt.Add(time.Hour)
	require.NoError(t, h.PublishDecision(ctx, live))
	h.Seed([]model.Decision{old})

	d, err = h.LatestDecision(ctx, "ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, "live", d.ID)
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelopes(t *testing.T, conn *websocket.Conn) []gjson.Result {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var out []gjson.Result
	for _, line := range bytes.Split(msg, []byte{'\n'}) {
		out = append(out, gjson.ParseBytes(line))
	}
	return out
}

func TestWS_ReceivesDecisions(t *testing.T) {
	hub := NewHub(16)
	var counts []int
	var mu sync.Mutex
	hub.OnClientCount = func(n int) { mu.Lock(); counts = append(counts, n); mu.Unlock() }
	srv := newServer(t, Options{Hub: hub, Symbol: "ETH-USDT-SWAP"})

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.PublishDecision(context.Background(), testDecision("x1", "ETH-USDT-SWAP", model.ActionBuy)))
	envs := readEnvelopes(t, conn)
	require.NotEmpty(t, envs)
	assert.Equal(t, "decision", envs[0].Get("type").String())
	assert.Equal(t, "x1", envs[0].Get("data.id").String())

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int{1, 0}, counts)
	mu.Unlock()
}

func TestWS_SubscribeFiltersSymbols(t *testing.T) {
	hub := NewHub(16)
	srv := newServer(t, Options{Hub: hub})
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "SUBSCRIBE", "symbols": []string{"BTC-USDT-SWAP"}}))
	// a ping round trip guarantees the subscription was applied
	require.NoError(t, conn.WriteJSON(map[string]any{"ping": 7}))
	envs := readEnvelopes(t, conn)
	require.Equal(t, "pong", envs[0].Get("type").String())
	assert.Equal(t, int64(7), envs[0].Get("ping").Int())

	ctx := context.Background()
	require.NoError(t, hub.PublishDecision(ctx, testDecision("eth", "ETH-USDT-SWAP", model.ActionBuy)))
	require.NoError(t, hub.PublishDecision(ctx, testDecision("btc", "BTC-USDT-SWAP", model.ActionSell)))

	envs = readEnvelopes(t, conn)
	assert.Equal(t, "btc", envs[0].Get("data.id").String())
	for _, e := range envs {
		assert.NotEqual(t, "eth", e.Get("data.id").String())
	}
}

func TestWS_ReplaysSinceSeq(t *testing.T) {
	hub := NewHub(16)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, hub.PublishDecision(ctx, testDecision(id, "ETH-USDT-SWAP", model.ActionHold)))
	}
	srv := newServer(t, Options{Hub: hub})

	conn := dial(t, srv, "?since=1")
	envs := readEnvelopes(t, conn)
	var ids []string
	for _, e := range envs {
		ids = append(ids, e.Get("data.id").String())
	}
	if len(ids) < 2 {
		for _, e := range readEnvelopes(t, conn) {
			ids = append(ids, e.Get("data.id").String())
		}
	}
	assert.Equal(t, []string{"b", "c"}, ids)
}

func TestWS_InitialLatest(t *testing.T) {
	hub := NewHub(16)
	require.NoError(t, hub.PublishDecision(context.Background(), testDecision("last", "ETH-USDT-SWAP", model.ActionHold)))
	srv := newServer(t, Options{Hub: hub})

	envs := readEnvelopes(t, dial(t, srv, ""))
	assert.Equal(t, "initial", envs[0].Get("type").String())
	assert.Equal(t, "last", envs[0].Get("data.id").String())
}

func TestLatestDecisionEndpoint(t *testing.T) {
	stored := testDecision("from-store", "ETH-USDT-SWAP", model.ActionBuy)

	t.Run("store first", func(t *testing.T) {
		srv := newServer(t, Options{Symbol: "ETH-USDT-SWAP", Latest: fakeLatest{d: &stored}})
		resp, err := http.Get(srv.URL + "/api/decision/latest")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var d model.Decision
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
		assert.Equal(t, "from-store", d.ID)
	})

	t.Run("falls back to hub", func(t *testing.T) {
		hub := NewHub(4)
		require.NoError(t, hub.PublishDecision(context.Background(), testDecision("from-hub", "ETH-USDT-SWAP", model.ActionHold)))
		srv := newServer(t, Options{Hub: hub, Symbol: "ETH-USDT-SWAP", Latest: fakeLatest{err: errors.New("redis down")}})
		resp, err := http.Get(srv.URL + "/api/decision/latest")
		require.NoError(t, err)
		defer resp.Body.Close()
		var d model.Decision
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
		assert.Equal(t, "from-hub", d.ID)
	})

	t.Run("none", func(t *testing.T) {
		srv := newServer(t, Options{Symbol: "ETH-USDT-SWAP"})
		resp, err := http.Get(srv.URL + "/api/decision/latest?symbol=BTC-USDT-SWAP")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestDecisionsEndpoint(t *testing.T) {
	hist := &fakeHistory{got: []model.Decision{
		testDecision("3", "ETH-USDT-SWAP", model.ActionHold),
		testDecision("2", "ETH-USDT-SWAP", model.ActionBuy),
		testDecision("1", "ETH-USDT-SWAP", model.ActionHold),
	}}
	srv := newServer(t, Options{Symbol: "ETH-USDT-SWAP", History: hist})

	resp, err := http.Get(srv.URL + "/api/decisions?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	var ds []model.Decision
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ds))
	require.Len(t, ds, 2)
	assert.Equal(t, "3", ds[0].ID)

	off := newServer(t, Options{})
	resp2, err := http.Get(off.URL + "/api/decisions")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	ctl := &fakeControl{paused: true}
	srv := newServer(t, Options{Symbol: "ETH-USDT-SWAP", Control: ctl, Status: func() any { return map[string]int{"cycles": 3} }})

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)

	r := gjson.ParseBytes(body.Bytes())
	assert.Equal(t, "ETH-USDT-SWAP", r.Get("symbol").String())
	assert.True(t, r.Get("paused").Bool())
	assert.Equal(t, int64(3), r.Get("runner.cycles").Int())
	assert.True(t, r.Get("latency").Exists())
}

func controlRequest(t *testing.T, url, code string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, nil)
	require.NoError(t, err)
	if code != "" {
		req.Header.Set(TOTPHeader, code)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestControlEndpoints(t *testing.T) {
	ctl := &fakeControl{}
	srv := newServer(t, Options{Control: ctl, TOTPSecret: testSecret})

	code, err := totp.GenerateCode(testSecret, time.Now())
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, controlRequest(t, srv.URL+"/api/control/pause", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, controlRequest(t, srv.URL+"/api/control/pause", "000000x").StatusCode)
	assert.False(t, ctl.Paused())

	assert.Equal(t, http.StatusOK, controlRequest(t, srv.URL+"/api/control/pause", code).StatusCode)
	assert.True(t, ctl.Paused())
	assert.Equal(t, http.StatusOK, controlRequest(t, srv.URL+"/api/control/resume", code).StatusCode)
	assert.False(t, ctl.Paused())

	resp, err := http.Get(srv.URL + "/api/control/pause")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestControlDisabledWithoutSecret(t *testing.T) {
	ctl := &fakeControl{}
	srv := newServer(t, Options{Control: ctl})
	assert.Equal(t, http.StatusForbidden, controlRequest(t, srv.URL+"/api/control/pause", "123456").StatusCode)
	assert.False(t, ctl.Paused())
}
