package annotator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"emafutures/internal/breaker"
	"emafutures/internal/model"
)

func chatReply(content string) string {
	return fmt.Sprintf(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":%q}}]}`, content)
}

func sampleRequest() Request {
	return Request{
		Symbol:           "ETH-USDT-SWAP",
		Action:           model.ActionBuy,
		Size:             8.33,
		Leverage:         5,
		StopPrice:        2980,
		Price:            3000,
		Trend:            model.DirectionUp,
		TrendDescription: "uptrend, strong",
		EntryRationale:   "golden cross after death zone",
		Account:          model.Account{TotalEquity: 10000, AvailableEquity: 10000},
		Headlines:        []string{"ETH ETF inflows rise"},
	}
}

// ────────────────────────────────────────────────────────────
// ParseNarrative
// ────────────────────────────────────────────────────────────

func TestParseNarrative(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    model.Narrative
		wantErr bool
	}{
		{
			name: "plain object",
			in:   `{"summary":"s","trend_analysis":"t","entry_analysis":"e","risk_analysis":"r"}`,
			want: model.Narrative{Summary: "s", TrendAnalysis: "t", EntryAnalysis: "e", RiskAnalysis: "r"},
		},
		{
			name: "code fence and prose",
			in:   "Here you go:\n```json\n{\"summary\": \"long bias\"}\n```\nThanks",
			want: model.Narrative{Summary: "long bias"},
		},
		{
			name: "braces inside strings",
			in:   `{"summary":"range {a} to }b{","risk_analysis":"ok"}`,
			want: model.Narrative{Summary: "range {a} to }b{", RiskAnalysis: "ok"},
		},
		{
			name: "wrong types are skipped",
			in:   `{"summary":42,"trend_analysis":"fine","entry_analysis":null}`,
			want: model.Narrative{TrendAnalysis: "fine"},
		},
		{
			name: "first invalid object then valid",
			in:   `{not json} {"summary":"second"}`,
			want: model.Narrative{Summary: "second"},
		},
		{name: "no object", in: "I cannot help with that", wantErr: true},
		{name: "truncated", in: `{"summary":"cut`, wantErr: true},
		{name: "no known keys", in: `{"action":"SELL","size":100}`, wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNarrative(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformed))
				assert.True(t, errors.Is(err, ErrUnavailable))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMerge(t *testing.T) {
	base := model.Narrative{Summary: "a", TrendAnalysis: "b", EntryAnalysis: "c", RiskAnalysis: "d"}
	got := Merge(base, model.Narrative{TrendAnalysis: "B"})
	assert.Equal(t, model.Narrative{Summary: "a", TrendAnalysis: "B", EntryAnalysis: "c", RiskAnalysis: "d"}, got)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "", Reason(nil))
	assert.Equal(t, "timeout", Reason(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.Equal(t, "circuit_open", Reason(fmt.Errorf("%w: %w", ErrUnavailable, breaker.ErrCircuitOpen)))
	assert.Equal(t, "not_configured", Reason(ErrNotConfigured))
	assert.Equal(t, "malformed", Reason(ErrMalformed))
	assert.Equal(t, "unavailable", Reason(ErrUnavailable))
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(sampleRequest())
	assert.Contains(t, p, "ETH-USDT-SWAP")
	assert.Contains(t, p, "Decision: BUY size=8.3300")
	assert.Contains(t, p, "Open position: none")
	assert.Contains(t, p, "ETH ETF inflows rise")
}

// ────────────────────────────────────────────────────────────
// Client
// ────────────────────────────────────────────────────────────

func TestClient_Annotate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "test-model", gjson.GetBytes(body, "model").String())
		assert.Equal(t, "system", gjson.GetBytes(body, "messages.0.role").String())
		assert.Contains(t, gjson.GetBytes(body, "messages.1.content").String(), "BUY")

		_, _ = io.WriteString(w, chatReply("```json\n{\"summary\":\"buying the golden cross\",\"risk_analysis\":\"stop below zone\"}\n```"))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "k", Model: "test-model"}, nil)
	n, err := c.Annotate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "buying the golden cross", n.Summary)
	assert.Equal(t, "stop below zone", n.RiskAnalysis)
	assert.Empty(t, n.TrendAnalysis)
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	assert.False(t, c.Configured())

	_, err := c.Annotate(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, c.TestConnection(context.Background()), ErrNotConfigured)
}

func TestClient_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"error":{"message":"upstream down"}}`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, nil)
	_, err := c.Annotate(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestClient_MalformedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, chatReply("Sorry, the market is unclear."))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, nil)
	_, err := c.Annotate(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestClient_MissingContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, nil)
	_, err := c.Annotate(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestClient_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Annotate(ctx, sampleRequest())
	require.Error(t, err)
	assert.Equal(t, "timeout", Reason(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_BreakerOpensAndFailsFast(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := breaker.New("annotator", 2, time.Minute)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, cb)

	for i := 0; i < 2; i++ {
		_, err := c.Annotate(context.Background(), sampleRequest())
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	_, err := c.Annotate(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestClient_TestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !strings.HasSuffix(r.Header.Get("Authorization"), "good") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"data":[]}`)
	}))
	defer srv.Close()

	ok := NewClient(Config{BaseURL: srv.URL, APIKey: "good"}, nil)
	assert.NoError(t, ok.TestConnection(context.Background()))

	bad := NewClient(Config{BaseURL: srv.URL, APIKey: "bad"}, nil)
	assert.ErrorIs(t, bad.TestConnection(context.Background()), ErrNotConfigured)
}
