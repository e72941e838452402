package notification

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"school-notify/internal/common/pagination"
	"school-notify/internal/domain/entity"
	"school-notify/internal/handler/http/respond"
	"school-notify/internal/observability/logging"
	"school-notify/internal/usecase/notify"
)

// ListHandler serves GET /notifications.
//
// Query parameters: type, read (true|false), priority, startDate, endDate
// (RFC 3339 or YYYY-MM-DD), limit, offset.
type ListHandler struct {
	Svc           notify.Service
	PaginationCfg pagination.Config
	Logger        *slog.Logger
}

func (h ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	logger := logging.WithRequestID(ctx, h.Logger)

	p, ok := principal(w, r)
	if !ok {
		return
	}

	params, err := pagination.ParseQueryParams(r, h.PaginationCfg)
	if err != nil {
		pagination.RecordError("validation")
		respond.SafeError(w, http.StatusBadRequest, err)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		pagination.RecordError("validation")
		writeError(w, err)
		return
	}
	filter.Limit = params.Limit
	filter.Offset = params.Offset

	items, total, err := h.Svc.List(ctx, p.UserID, filter)
	if err != nil {
		logger.Error("failed to list notifications",
			slog.String("user_id", p.UserID),
			slog.Int("limit", params.Limit),
			slog.Int("offset", params.Offset),
			slog.Any("error", err))
		pagination.RecordError("database")
		writeError(w, err)
		return
	}

	dtos := make([]DTO, 0, len(items))
	for _, n := range items {
		dtos = append(dtos, toDTO(n))
	}

	respond.JSON(w, http.StatusOK, pagination.NewResponse(dtos, params, total))
	pagination.RecordRequest(http.StatusOK, params.Offset)
	pagination.RecordDuration("list", time.Since(start).Seconds())
}

func parseFilter(r *http.Request) (entity.NotificationFilter, error) {
	q := r.URL.Query()
	var f entity.NotificationFilter

	if v := q.Get("type"); v != "" {
		t, err := entity.ParseType(v)
		if err != nil {
			return f, err
		}
		f.Type = &t
	}
	if v := q.Get("read"); v != "" {
		read, err := strconv.ParseBool(v)
		if err != nil {
			return f, &entity.ValidationError{Field: "read", Message: "read must be true or false"}
		}
		f.Read = &read
	}
	if v := q.Get("priority"); v != "" {
		p, err := entity.ParsePriority(v)
		if err != nil {
			return f, err
		}
		f.Priority = &p
	}
	if v := q.Get("startDate"); v != "" {
		t, err := parseDate(v, false)
		if err != nil {
			return f, &entity.ValidationError{Field: "startDate", Message: "startDate must be RFC 3339 or YYYY-MM-DD"}
		}
		f.StartDate = &t
	}
	if v := q.Get("endDate"); v != "" {
		t, err := parseDate(v, true)
		if err != nil {
			return f, &entity.ValidationError{Field: "endDate", Message: "endDate must be RFC 3339 or YYYY-MM-DD"}
		}
		f.EndDate = &t
	}
	return f, nil
}

// parseDate accepts RFC 3339 timestamps and plain dates. A plain end date
// covers the whole day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
