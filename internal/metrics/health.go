package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus represents the engine health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool
	RedisConnected bool
	SQLiteOK       bool
	Paused         bool
	Symbol         string
	LastCycleAt    time.Time
	LastAction     string
	StaleAfter     time.Duration // cycle age that marks the engine degraded

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(symbol string, staleAfter time.Duration) *HealthStatus {
	return &HealthStatus{
		Symbol:     symbol,
		StaleAfter: staleAfter,
		StartedAt:  time.Now(),
	}
}

// SetRedisEnabled marks Redis as part of the deployment. All setters are
// no-ops on a nil *HealthStatus.
func (h *HealthStatus) SetRedisEnabled(v bool) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPaused(v bool) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.Paused = v
	h.mu.Unlock()
}

// RecordCycle stores the time and action of the latest cycle.
func (h *HealthStatus) RecordCycle(at time.Time, action string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.LastCycleAt = at
	h.LastAction = action
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

type healthReport struct {
	Status          string  `json:"status"`
	Symbol          string  `json:"symbol"`
	Uptime          string  `json:"uptime"`
	Paused          bool    `json:"paused"`
	LastCycleAt     string  `json:"last_cycle_at,omitempty"`
	CycleAge        string  `json:"cycle_age,omitempty"`
	LastAction      string  `json:"last_action,omitempty"`
	RedisEnabled    bool    `json:"redis_enabled"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastCheckAt     string  `json:"last_check_at,omitempty"`
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	stale := false
	if h.StaleAfter > 0 && !h.Paused {
		ref := h.LastCycleAt
		if ref.IsZero() {
			ref = h.StartedAt
		}
		stale = time.Since(ref) > h.StaleAfter
	}

	if stale || (h.RedisEnabled && !h.RedisConnected) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	rep := healthReport{
		Status:          overallStatus,
		Symbol:          h.Symbol,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Paused:          h.Paused,
		LastAction:      h.LastAction,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
	}
	if !h.LastCycleAt.IsZero() {
		rep.LastCycleAt = h.LastCycleAt.Format(time.RFC3339)
		rep.CycleAge = time.Since(h.LastCycleAt).Round(time.Millisecond).String()
	}
	if !h.LastCheckAt.IsZero() {
		rep.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(rep)
}
