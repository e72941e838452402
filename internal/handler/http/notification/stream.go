package notification

import (
	"net/http"
)

// StreamServer upgrades a request into a realtime connection for userID.
type StreamServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string)
}

// StreamHandler serves GET /notifications/stream.
type StreamHandler struct {
	Hub StreamServer
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	h.Hub.ServeWS(w, r, p.UserID)
}
