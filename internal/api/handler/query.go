package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/pm25forecast/pm25forecast/internal/api/models"
	"github.com/pm25forecast/pm25forecast/internal/api/response"
	"github.com/pm25forecast/pm25forecast/internal/storage"
	"github.com/pm25forecast/pm25forecast/internal/table"
)

// QueryStore runs read-only queries.
type QueryStore interface {
	QueryPage(ctx context.Context, query string, page, size int) (*storage.Page, error)
	QueryReadOnly(ctx context.Context, query string) (*table.Table, error)
}

// QueryHandler serves ad-hoc read-only queries.
type QueryHandler struct {
	store  QueryStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(store QueryStore, logger zerolog.Logger) *QueryHandler {
	return &QueryHandler{store: store, logger: logger, now: time.Now}
}

// Query handles GET /v1/query?sql=&page=&size=.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sql := q.Get("sql")

	var fieldErrors []models.FieldError
	if sql == "" {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "sql", Message: "sql is required", Code: "required"})
	}
	page, ok := intParam(q.Get("page"), 1)
	if !ok {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "page", Message: "page must be a positive integer", Code: "invalid"})
	}
	size, ok := intParam(q.Get("size"), storage.DefaultPageSize)
	if !ok || size > storage.MaxPageSize {
		fieldErrors = append(fieldErrors, models.FieldError{
			Field:   "size",
			Message: "size must be between 1 and " + strconv.Itoa(storage.MaxPageSize),
			Code:    "invalid",
		})
	}
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid query parameters", fieldErrors)
		return
	}

	result, err := h.store.QueryPage(r.Context(), sql, page, size)
	if err != nil {
		h.queryFailed(w, r, err)
		return
	}

	rows := result.Table.Rows
	if rows == nil {
		rows = [][]any{}
	}
	response.JSON(w, r, http.StatusOK, models.QueryResult{
		Columns: result.Table.Columns,
		Rows:    rows,
		Meta: models.PageMeta{
			Page:  result.Page,
			Size:  result.Size,
			Total: result.Total,
			Pages: result.Pages,
		},
	})
}

// Export handles GET /v1/export?sql= and streams the full result as CSV.
func (h *QueryHandler) Export(w http.ResponseWriter, r *http.Request) {
	sql := r.URL.Query().Get("sql")
	if sql == "" {
		response.BadRequest(w, r, "invalid query parameters", []models.FieldError{
			{Field: "sql", Message: "sql is required", Code: "required"},
		})
		return
	}

	t, err := h.store.QueryReadOnly(r.Context(), sql)
	if err != nil {
		h.queryFailed(w, r, err)
		return
	}
	response.CSV(w, r, "query_result_"+h.now().Format("20060102_150405")+".csv", t)
}

// queryFailed reports statement errors as bad requests. The statement came
// from the caller, so a database error is most likely a mistake in it.
func (h *QueryHandler) queryFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotReadOnly) {
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "sql", Message: err.Error(), Code: "read_only"},
		})
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		response.ServiceUnavailable(w, r, "query did not complete")
		return
	}
	h.logger.Warn().Err(err).Msg("query failed")
	response.BadRequest(w, r, "query failed: "+err.Error(), nil)
}

func intParam(s string, fallback int) (int, bool) {
	if s == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
