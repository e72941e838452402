package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// ChannelStatusFunc reports whether every delivery channel is accepting
// work, with a JSON-encodable per-channel detail.
type ChannelStatusFunc func() (healthy bool, detail any)

// HealthServer serves the worker's probes:
//
//	GET /health           liveness, always 200 while the process runs
//	GET /health/ready     200 once SetReady(true) was called and every readiness check passes
//	GET /health/channels  per-channel breaker state, 503 while any breaker is open
type HealthServer struct {
	addr     string
	logger   *slog.Logger
	isReady  atomic.Bool
	checks   map[string]func(context.Context) error
	channels ChannelStatusFunc
	server   *http.Server
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthOption customises a HealthServer.
type HealthOption func(*HealthServer)

// WithReadinessCheck adds a dependency probe, e.g. a database ping.
func WithReadinessCheck(name string, check func(context.Context) error) HealthOption {
	return func(h *HealthServer) { h.checks[name] = check }
}

// WithChannelStatus enables /health/channels.
func WithChannelStatus(fn ChannelStatusFunc) HealthOption {
	return func(h *HealthServer) { h.channels = fn }
}

// NewHealthServer returns a server that starts out not ready.
func NewHealthServer(addr string, logger *slog.Logger, opts ...HealthOption) *HealthServer {
	h := &HealthServer{
		addr:   addr,
		logger: logger,
		checks: map[string]func(context.Context) error{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handler returns the probe routes.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleLiveness)
	mux.HandleFunc("GET /health/ready", h.handleReadiness)
	mux.HandleFunc("GET /health/channels", h.handleChannels)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully and
// returns http.ErrServerClosed.
func (h *HealthServer) Start(ctx context.Context) error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		h.logger.Info("health server starting", slog.String("addr", h.addr))
		errChan <- h.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error("health server shutdown failed", slog.Any("error", err))
			return err
		}
		h.logger.Info("health server stopped")
		return http.ErrServerClosed
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("health server failed", slog.Any("error", err))
		}
		return err
	}
}

func (h *HealthServer) SetReady(ready bool) {
	h.isReady.Store(ready)
	h.logger.Info("health server readiness changed", slog.Bool("ready", ready))
}

func (h *HealthServer) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	h.write(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !h.isReady.Load() {
		h.write(w, http.StatusServiceUnavailable, healthResponse{Status: "not ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
			resp.Checks[name] = "unavailable"
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	h.write(w, status, resp)
}

func (h *HealthServer) handleChannels(w http.ResponseWriter, _ *http.Request) {
	if h.channels == nil {
		h.write(w, http.StatusServiceUnavailable, map[string]string{"error": "dispatch worker not initialized"})
		return
	}
	healthy, detail := h.channels()
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	h.write(w, status, map[string]any{"healthy": healthy, "channels": detail})
}

func (h *HealthServer) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode health response", slog.Any("error", err))
	}
}
