package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"school-notify/internal/handler/http/respond"
)

// Timeout bounds every request to d. A handler that has not started its
// response when the deadline passes is answered with 504 on its behalf and
// anything it writes afterwards is discarded. Websocket upgrades keep the
// original writer and context.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if websocket.IsWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			dw := &timeoutResponseWriter{ResponseWriter: w}
			finished := make(chan struct{})
			go func() {
				defer close(finished)
				next.ServeHTTP(dw, r.WithContext(ctx))
			}()

			select {
			case <-finished:
			case <-ctx.Done():
				dw.expire()
			}
		})
	}
}

// timeoutResponseWriter lets the handler goroutine and the deadline race
// for the response; whichever starts it first owns it.
type timeoutResponseWriter struct {
	http.ResponseWriter

	mu      sync.Mutex
	started bool
	expired bool
}

func (w *timeoutResponseWriter) expire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expired = true
	if !w.started {
		w.started = true
		respond.JSON(w.ResponseWriter, http.StatusGatewayTimeout, map[string]string{"error": "request timeout"})
	}
}

func (w *timeoutResponseWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *timeoutResponseWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.expired {
		return 0, http.ErrHandlerTimeout
	}
	if !w.started {
		w.started = true
		w.ResponseWriter.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
