// Package http holds the cross-cutting HTTP layer of the api: middleware,
// metrics and the health, readiness and liveness endpoints.
package http

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"school-notify/internal/domain/entity"
	"school-notify/internal/handler/http/respond"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                 `json:"status"`    // "healthy" or "unhealthy"
	Timestamp string                 `json:"timestamp"` // RFC 3339
	Checks    map[string]CheckStatus `json:"checks"`
	Version   string                 `json:"version"`
}

// CheckStatus is the result of one health check. "degraded" is reported but
// does not make the service unhealthy.
type CheckStatus struct {
	Status  string         `json:"status"` // "healthy", "degraded" or "unhealthy"
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// QueueCounter reports delivery jobs per state.
type QueueCounter interface {
	Counts(ctx context.Context) (map[entity.JobState]int64, error)
}

// ConnectionCounter reports open realtime connections.
type ConnectionCounter interface {
	TotalConnections() int
}

// HealthHandler serves GET /health. Queue and Realtime are optional.
type HealthHandler struct {
	DB       *sql.DB
	Version  string
	Queue    QueueCounter
	Realtime ConnectionCounter
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	probes := map[string]func(context.Context) CheckStatus{
		"database": h.checkDatabase,
	}
	if h.Queue != nil {
		probes["queue"] = h.checkQueue
	}
	if h.Realtime != nil {
		probes["realtime"] = func(context.Context) CheckStatus {
			return CheckStatus{
				Status:  "healthy",
				Details: map[string]any{"connections": h.Realtime.TotalConnections()},
			}
		}
	}

	var (
		mu     sync.Mutex
		checks = make(map[string]CheckStatus, len(probes))
		g      errgroup.Group
	)
	for name, probe := range probes {
		g.Go(func() error {
			res := probe(ctx)
			mu.Lock()
			checks[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Version:   h.Version,
	}
	code := http.StatusOK
	for _, c := range checks {
		if c.Status == "unhealthy" {
			resp.Status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	respond.JSON(w, code, resp)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) CheckStatus {
	if h.DB == nil {
		return CheckStatus{Status: "unhealthy", Message: "not configured"}
	}
	if err := h.DB.PingContext(ctx); err != nil {
		return CheckStatus{Status: "unhealthy", Message: respond.SanitizeError(err)}
	}
	return poolStatus(h.DB.Stats())
}

// poolUtilizationLimit is the in-use share of the pool reported as degraded.
const poolUtilizationLimit = 80.0

func poolStatus(stats sql.DBStats) CheckStatus {
	cs := CheckStatus{
		Status: "healthy",
		Details: map[string]any{
			"max_open_connections": stats.MaxOpenConnections,
			"open_connections":     stats.OpenConnections,
			"in_use":               stats.InUse,
			"idle":                 stats.Idle,
			"wait_count":           stats.WaitCount,
			"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
		},
	}
	if stats.MaxOpenConnections == 0 {
		cs.Status, cs.Message = "degraded", "connection pool max connections not configured"
		return cs
	}
	used := float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
	cs.Details["utilization_percent"] = used
	if used >= poolUtilizationLimit {
		cs.Status, cs.Message = "degraded", "connection pool utilization above 80%"
	}
	return cs
}

func (h *HealthHandler) checkQueue(ctx context.Context) CheckStatus {
	counts, err := h.Queue.Counts(ctx)
	if err != nil {
		return CheckStatus{Status: "unhealthy", Message: respond.SanitizeError(err)}
	}
	details := make(map[string]any, len(counts))
	for state, n := range counts {
		details[string(state)] = n
	}
	return CheckStatus{Status: "healthy", Details: details}
}

// ReadyHandler serves the readiness probe: 200 once the database answers.
type ReadyHandler struct {
	DB *sql.DB
}

func (h *ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.DB == nil {
		http.Error(w, "database not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.DB.PingContext(ctx); err != nil {
		http.Error(w, "database not ready", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// LiveHandler serves the liveness probe and always answers 200.
type LiveHandler struct{}

func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
