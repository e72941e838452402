package pagination

import (
	"fmt"
	"net/http"
	"strconv"
)

// Params are the limit and offset of one list request.
type Params struct {
	Limit  int
	Offset int
}

// ParseQueryParams reads the limit and offset query parameters. Missing
// values take the configured default limit and offset 0.
func ParseQueryParams(r *http.Request, config Config) (Params, error) {
	params := Params{Limit: config.DefaultLimit}
	q := r.URL.Query()

	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 || limit > config.MaxLimit {
			return params, fmt.Errorf("invalid query parameter: limit must be between 1 and %d", config.MaxLimit)
		}
		params.Limit = limit
	}
	if s := q.Get("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil || offset < 0 {
			return params, fmt.Errorf("invalid query parameter: offset must be a non-negative integer")
		}
		params.Offset = offset
	}
	return params, nil
}
