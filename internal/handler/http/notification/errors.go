package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"school-notify/internal/domain/entity"
	"school-notify/internal/handler/http/auth"
	"school-notify/internal/handler/http/respond"
	"school-notify/internal/usecase/notify"
	"school-notify/internal/usecase/preference"
)

// writeError maps use case errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *entity.ValidationError
	switch {
	case errors.As(err, &verr):
		respond.SafeError(w, http.StatusBadRequest, verr)
	case errors.Is(err, entity.ErrNotFound):
		respond.SafeError(w, http.StatusNotFound, err)
	case errors.Is(err, entity.ErrForbidden):
		respond.SafeError(w, http.StatusForbidden, entity.ErrForbidden)
	case errors.Is(err, notify.ErrOptedOut), errors.Is(err, notify.ErrNoAddress):
		respond.SafeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, notify.ErrUnknownTemplate):
		respond.SafeError(w, http.StatusBadRequest, err)
	case errors.Is(err, notify.ErrInvalidUserID), errors.Is(err, preference.ErrInvalidUserID):
		respond.SafeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
	default:
		respond.SafeError(w, http.StatusInternalServerError, err)
	}
}

// decodeJSON decodes a single JSON object and rejects unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return respond.NewAppError(http.StatusBadRequest, "invalid JSON body", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return respond.NewAppError(http.StatusBadRequest, "invalid JSON body",
			fmt.Errorf("trailing data after JSON object"))
	}
	return nil
}

// principal returns the authenticated caller or writes 401.
func principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		respond.SafeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return auth.Principal{}, false
	}
	return p, true
}
