package http

import "net/http"

const (
	maxAuthHeaderBytes = 8 << 10
	maxPathBytes       = 2 << 10
	maxBodyBytes       = 1 << 20
)

// InputValidation rejects oversized Authorization headers and paths and caps
// request bodies at 1MB.
func InputValidation() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(r.Header.Get("Authorization")) > maxAuthHeaderBytes {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"authorization header too large"}`))
				return
			}
			if len(r.URL.Path) > maxPathBytes {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestURITooLong)
				_, _ = w.Write([]byte(`{"error":"URI too long"}`))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			next.ServeHTTP(w, r)
		})
	}
}
