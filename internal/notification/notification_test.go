package notification

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"emafutures/internal/model"
)

func sampleDecision(action model.Action) model.Decision {
	return model.Decision{
		ID:        "5f0c-1",
		Symbol:    "ETH-USDT-SWAP",
		Action:    action,
		Size:      8.33,
		Leverage:  5,
		StopPrice: 2980.5,
		Price:     3000,
		Trend:     model.DirectionUp,
		Narrative: model.Narrative{Summary: "golden cross after death zone"},
	}
}

func TestDecisionAlert(t *testing.T) {
	a := DecisionAlert(sampleDecision(model.ActionBuy))
	assert.Equal(t, AlertInfo, a.Level)
	assert.Equal(t, "BUY ETH-USDT-SWAP", a.Title)
	assert.Contains(t, a.Message, "8.3300 contracts at 3000.0000, 5x, stop 2980.5000")
	assert.Contains(t, a.Message, "golden cross")
	assert.Equal(t, "BUY", a.Fields["action"])

	c := DecisionAlert(sampleDecision(model.ActionClose))
	assert.Equal(t, AlertWarning, c.Level)
	assert.Contains(t, c.Message, "close 8.3300 contracts")

	u := DecisionAlert(sampleDecision(model.ActionUpdateTPSL))
	assert.Contains(t, u.Message, "stop -> 2980.5000")
}

func TestWebhookNotifier_Send(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	require.NoError(t, n.Send(context.Background(), DecisionAlert(sampleDecision(model.ActionSell))))

	assert.Equal(t, "SELL ETH-USDT-SWAP", gjson.Get(body, "title").String())
	assert.Equal(t, "INFO", gjson.Get(body, "level").String())
	assert.Equal(t, 8.33, gjson.Get(body, "decision.size").Float())
	assert.Equal(t, "5f0c-1", gjson.Get(body, "decision.id").String())
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "418")
}

func TestTelegramNotifier_Send(t *testing.T) {
	var path, text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		text = gjson.GetBytes(b, "text").String()
		assert.Equal(t, "42", gjson.GetBytes(b, "chat_id").String())
		assert.Equal(t, "MarkdownV2", gjson.GetBytes(b, "parse_mode").String())
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	require.NoError(t, n.Send(context.Background(), DecisionAlert(sampleDecision(model.ActionClose))))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.True(t, strings.HasPrefix(text, "⚠️"), text)
	assert.Contains(t, text, `CLOSE ETH\-USDT\-SWAP`)
	assert.Contains(t, text, `id: 5f0c\-1`)
}

func TestTelegramNotifier_ErrorDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	err := n.Send(context.Background(), Alert{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "chat not found")
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `stop 2980\.5 \(LONG\)`, escapeMarkdown("stop 2980.5 (LONG)"))
	assert.Equal(t, "plain", escapeMarkdown("plain"))
}

type failingNotifier struct{ err error }

func (f failingNotifier) Send(context.Context, Alert) error { return f.err }

type countingNotifier struct{ n int }

func (c *countingNotifier) Send(context.Context, Alert) error { c.n++; return nil }

func TestMulti_TriesEveryNotifier(t *testing.T) {
	errA := errors.New("telegram down")
	counter := &countingNotifier{}
	m := Multi{failingNotifier{err: errA}, counter, NewLogNotifier()}

	err := m.Send(context.Background(), Alert{Title: "x"})
	assert.ErrorIs(t, err, errA)
	assert.Equal(t, 1, counter.n)

	assert.NoError(t, Multi{counter}.Send(context.Background(), Alert{}))
	assert.NoError(t, Multi(nil).Send(context.Background(), Alert{}))
}
