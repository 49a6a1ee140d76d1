package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"emafutures/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// TOTPHeader carries the operator's one-time code on control requests.
const TOTPHeader = "X-TOTP-Code"

// Controller pauses and resumes the decision loop.
type Controller interface {
	Pause()
	Resume()
	Paused() bool
}

// DecisionHistory lists journalled decisions, newest first.
type DecisionHistory interface {
	Recent(ctx context.Context, symbol string, limit int) ([]model.Decision, error)
}

// Options wires the gateway to the rest of the engine. Everything except
// Hub is optional.
type Options struct {
	Hub        *Hub
	Symbol     string                     // default symbol for queries
	Latest     model.LatestDecisionReader // e.g. Redis; falls back to the hub
	History    DecisionHistory
	Control    Controller
	TOTPSecret string     // empty disables the control endpoints
	Status     func() any // extra runner status for /api/status
	Start      time.Time
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+TOTPHeader)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, opts Options) {
	if opts.Start.IsZero() {
		opts.Start = time.Now()
	}
	symbolOf := func(r *http.Request) string {
		if s := r.URL.Query().Get("symbol"); s != "" {
			return s
		}
		return opts.Symbol
	}

	// WebSocket decision feed; ?since=<seq> replays missed envelopes
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
		opts.Hub.HandleWSRequest(conn, since)
	})

	mux.HandleFunc("/api/decision/latest", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		symbol := symbolOf(r)

		var d *model.Decision
		if opts.Latest != nil {
			var err error
			if d, err = opts.Latest.LatestDecision(r.Context(), symbol); err != nil {
				log.Printf("[gateway] latest decision from store: %v", err)
				d = nil
			}
		}
		if d == nil {
			d, _ = opts.Hub.LatestDecision(r.Context(), symbol)
		}
		if d == nil {
			writeError(w, http.StatusNotFound, "no decision yet")
			return
		}
		writeJSON(w, http.StatusOK, d)
	})

	mux.HandleFunc("/api/decisions", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if opts.History == nil {
			writeError(w, http.StatusServiceUnavailable, "journal disabled")
			return
		}
		limit := 50
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 500 {
			limit = l
		}
		ds, err := opts.History.Recent(r.Context(), symbolOf(r), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if ds == nil {
			ds = []model.Decision{}
		}
		writeJSON(w, http.StatusOK, ds)
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		status := map[string]any{
			"symbol":     opts.Symbol,
			"ws_clients": opts.Hub.ClientCount(),
			"seq":        opts.Hub.Seq(),
			"latency":    opts.Hub.Latency.Summary(),
			"uptime_sec": int64(time.Since(opts.Start).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		}
		if opts.Control != nil {
			status["paused"] = opts.Control.Paused()
		}
		if opts.Status != nil {
			status["runner"] = opts.Status()
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("/api/control/pause", controlHandler(opts, func(c Controller) { c.Pause() }))
	mux.HandleFunc("/api/control/resume", controlHandler(opts, func(c Controller) { c.Resume() }))
}

func controlHandler(opts Options, apply func(Controller)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		if opts.Control == nil {
			writeError(w, http.StatusServiceUnavailable, "no controller")
			return
		}
		if opts.TOTPSecret == "" {
			writeError(w, http.StatusForbidden, "control disabled")
			return
		}
		if !totp.Validate(r.Header.Get(TOTPHeader), opts.TOTPSecret) {
			log.Printf("[gateway] rejected control request from %s: bad TOTP", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "invalid TOTP code")
			return
		}

		apply(opts.Control)
		state := "running"
		if opts.Control.Paused() {
			state = "paused"
		}
		log.Printf("[gateway] control %s -> %s", r.URL.Path, state)
		writeJSON(w, http.StatusOK, map[string]string{"status": state})
	}
}
