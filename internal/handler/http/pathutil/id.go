package pathutil

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
)

// ErrInvalidID is returned when a path parameter is not a valid UUID.
var ErrInvalidID = errors.New("invalid id")

// UUIDParam reads the ServeMux wildcard name from r and checks that it is a
// UUID. The canonical lower-case form is returned.
//
//	mux.HandleFunc("POST /notifications/{id}/read", h)
//	id, err := pathutil.UUIDParam(r, "id")
func UUIDParam(r *http.Request, name string) (string, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return "", ErrInvalidID
	}
	return id.String(), nil
}
