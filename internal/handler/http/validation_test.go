package http

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInputValidation(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		authHeader     string
		expectedStatus int
		expectReached  bool
	}{
		{"typical jwt", "/notifications", "Bearer " + strings.Repeat("a", 800), http.StatusOK, true},
		{"no authorization", "/health", "", http.StatusOK, true},
		{"authorization at limit", "/notifications", strings.Repeat("a", maxAuthHeaderBytes), http.StatusOK, true},
		{"authorization too large", "/notifications", strings.Repeat("a", maxAuthHeaderBytes+1), http.StatusBadRequest, false},
		{"path at limit", "/" + strings.Repeat("a", maxPathBytes-1), "", http.StatusOK, true},
		{"path too long", "/" + strings.Repeat("a", maxPathBytes), "", http.StatusRequestURITooLong, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached := false
			handler := InputValidation()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if reached != tt.expectReached {
				t.Errorf("handler reached = %v, want %v", reached, tt.expectReached)
			}
		})
	}
}

func TestInputValidation_BodyLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"normal body", 1024, false},
		{"oversized body", maxBodyBytes + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var readErr error
			handler := InputValidation()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, readErr = io.Copy(io.Discard, r.Body)
			}))

			req := httptest.NewRequest(http.MethodPost, "/notifications/send", bytes.NewReader(make([]byte, tt.size)))
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if (readErr != nil) != tt.wantErr {
				t.Errorf("read error = %v, wantErr %v", readErr, tt.wantErr)
			}
		})
	}
}
