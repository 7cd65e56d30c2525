package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pm25forecast/pm25forecast/internal/api/models"
	"github.com/pm25forecast/pm25forecast/internal/api/response"
	"github.com/pm25forecast/pm25forecast/internal/storage"
)

// TableStore is the storage surface of the table endpoints.
type TableStore interface {
	Summaries(ctx context.Context) ([]storage.TableSummary, error)
	TableExists(ctx context.Context, name string) (bool, error)
	TableInfo(ctx context.Context, name string) ([]storage.ColumnInfo, error)
	Count(ctx context.Context, name string) (int, error)
}

// TablesHandler lists stored tables.
type TablesHandler struct {
	store  TableStore
	logger zerolog.Logger
}

// NewTablesHandler creates a new TablesHandler.
func NewTablesHandler(store TableStore, logger zerolog.Logger) *TablesHandler {
	return &TablesHandler{store: store, logger: logger}
}

// ListTables handles GET /v1/tables.
func (h *TablesHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.store.Summaries(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list tables failed")
		response.InternalError(w, r, "failed to list tables")
		return
	}
	if summaries == nil {
		summaries = []storage.TableSummary{}
	}
	response.JSON(w, r, http.StatusOK, models.TableList{Tables: summaries})
}

// GetTable handles GET /v1/tables/{name}.
func (h *TablesHandler) GetTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := r.Context()

	exists, err := h.store.TableExists(ctx, name)
	if err != nil {
		h.logger.Error().Err(err).Str("table", name).Msg("table lookup failed")
		response.InternalError(w, r, "failed to look up table")
		return
	}
	if !exists {
		response.NotFound(w, r, "table "+name+" does not exist")
		return
	}

	columns, err := h.store.TableInfo(ctx, name)
	if err != nil {
		h.logger.Error().Err(err).Str("table", name).Msg("table info failed")
		response.InternalError(w, r, "failed to describe table")
		return
	}
	rows, err := h.store.Count(ctx, name)
	if err != nil {
		h.logger.Error().Err(err).Str("table", name).Msg("table count failed")
		response.InternalError(w, r, "failed to count rows")
		return
	}

	response.JSON(w, r, http.StatusOK, models.TableDetail{Name: name, Rows: rows, Columns: columns})
}
