package pagination

// Metadata describes where a page sits in the full result set.
type Metadata struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"hasMore"`
}

// Response is a page of T with its metadata.
type Response[T any] struct {
	Data       []T      `json:"data"`
	Pagination Metadata `json:"pagination"`
}

// NewResponse builds a Response for data returned by a query run with params
// against a result set of total rows. A nil data slice is encoded as [].
func NewResponse[T any](data []T, params Params, total int64) Response[T] {
	if data == nil {
		data = []T{}
	}
	return Response[T]{
		Data: data,
		Pagination: Metadata{
			Total:   total,
			Limit:   params.Limit,
			Offset:  params.Offset,
			HasMore: int64(params.Offset+len(data)) < total,
		},
	}
}
