package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pm25forecast/pm25forecast/internal/api/handler"
	"github.com/pm25forecast/pm25forecast/internal/api/models"
	"github.com/pm25forecast/pm25forecast/internal/database"
	"github.com/pm25forecast/pm25forecast/internal/provider/resilience"
	"github.com/pm25forecast/pm25forecast/internal/storage"
	"github.com/pm25forecast/pm25forecast/internal/table"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := database.Connect(context.Background(), database.DefaultConfig(filepath.Join(t.TempDir(), "api.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := storage.New(storage.Config{DB: db, Driver: database.DriverSQLite, Logger: zerolog.Nop()})

	rows := table.New("城市", "日期", "PM2.5")
	for i := 0; i < 25; i++ {
		require.NoError(t, rows.Append("北京", "2026-10-14", float64(i)))
	}
	_, err = store.Save(context.Background(), "realtime_data", rows)
	require.NoError(t, err)
	return store
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeSources []*resilience.SourceHealth

func (s fakeSources) AllHealth() []*resilience.SourceHealth { return s }

func serve(t *testing.T, pattern string, h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Get(pattern, h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, http.NoBody))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestOpsHandler_HealthCheck(t *testing.T) {
	h := handler.NewOpsHandler("1.2.0", "2026-10-01", nil, nil)

	w := serve(t, "/v1/ops/health", h.HealthCheck, "/v1/ops/health")

	assert.Equal(t, http.StatusOK, w.Code)
	health := decode[models.Health](t, w)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "1.2.0", health.Details["version"])
}

func TestOpsHandler_ReadinessCheck(t *testing.T) {
	ready := handler.NewOpsHandler("", "", fakePinger{}, nil)
	w := serve(t, "/v1/ops/ready", ready.ReadinessCheck, "/v1/ops/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	down := handler.NewOpsHandler("", "", fakePinger{err: errors.New("connection refused")}, nil)
	w = serve(t, "/v1/ops/ready", down.ReadinessCheck, "/v1/ops/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestOpsHandler_SystemStatus(t *testing.T) {
	failedAt := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	sources := fakeSources{
		{Name: "cnemc", CircuitState: gobreaker.StateOpen, Failures: 5, LastFailureAt: &failedAt, LastError: "server error: 502"},
		{Name: "tianqihoubao", CircuitState: gobreaker.StateClosed, Successes: 12},
	}
	h := handler.NewOpsHandler("", "", fakePinger{}, sources)

	w := serve(t, "/v1/ops/status", h.SystemStatus, "/v1/ops/status")

	require.Equal(t, http.StatusOK, w.Code)
	status := decode[models.SystemStatus](t, w)
	assert.Equal(t, models.HealthStatusDegraded, status.Status)
	require.Len(t, status.Subsystems, 1)
	assert.Equal(t, models.HealthStatusOK, status.Subsystems[0].Status)

	require.Len(t, status.Sources, 2)
	assert.Equal(t, "cnemc", status.Sources[0].Source)
	assert.Equal(t, models.HealthStatusFail, status.Sources[0].Status)
	assert.Equal(t, "open", status.Sources[0].CircuitState)
	require.NotNil(t, status.Sources[0].Message)
	assert.Equal(t, "server error: 502", *status.Sources[0].Message)
	require.NotNil(t, status.Sources[0].LastFailureAt)
	assert.True(t, failedAt.Equal(status.Sources[0].LastFailureAt.Time()))
	assert.Equal(t, models.HealthStatusOK, status.Sources[1].Status)
}

func TestOpsHandler_SystemStatusDatabaseDown(t *testing.T) {
	h := handler.NewOpsHandler("", "", fakePinger{err: errors.New("disk I/O error")}, nil)

	w := serve(t, "/v1/ops/status", h.SystemStatus, "/v1/ops/status")

	status := decode[models.SystemStatus](t, w)
	assert.Equal(t, models.HealthStatusFail, status.Status)
	require.NotNil(t, status.Subsystems[0].Detail)
	assert.Equal(t, "disk I/O error", *status.Subsystems[0].Detail)
	assert.Empty(t, status.Sources)
}

func TestTablesHandler_ListTables(t *testing.T) {
	h := handler.NewTablesHandler(newTestStore(t), zerolog.Nop())

	w := serve(t, "/v1/tables", h.ListTables, "/v1/tables")

	require.Equal(t, http.StatusOK, w.Code)
	list := decode[models.TableList](t, w)
	assert.Equal(t, []storage.TableSummary{{Name: "realtime_data", Rows: 25}}, list.Tables)
}

func TestTablesHandler_GetTable(t *testing.T) {
	h := handler.NewTablesHandler(newTestStore(t), zerolog.Nop())

	w := serve(t, "/v1/tables/{name}", h.GetTable, "/v1/tables/realtime_data")

	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[models.TableDetail](t, w)
	assert.Equal(t, "realtime_data", detail.Name)
	assert.Equal(t, 25, detail.Rows)
	require.Len(t, detail.Columns, 4)
	assert.Equal(t, "id", detail.Columns[0].Name)
	assert.Equal(t, "城市", detail.Columns[1].Name)
	assert.Equal(t, "PM2.5", detail.Columns[3].Name)
}

func TestTablesHandler_GetTableNotFound(t *testing.T) {
	h := handler.NewTablesHandler(newTestStore(t), zerolog.Nop())

	w := serve(t, "/v1/tables/{name}", h.GetTable, "/v1/tables/missing")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not-found")
}

func TestQueryHandler_Query(t *testing.T) {
	h := handler.NewQueryHandler(newTestStore(t), zerolog.Nop())

	w := serve(t, "/v1/query", h.Query, "/v1/query?sql=SELECT+*+FROM+realtime_data&page=2&size=10")

	require.Equal(t, http.StatusOK, w.Code)
	result := decode[models.QueryResult](t, w)
	assert.Equal(t, []string{"id", "城市", "日期", "PM2.5"}, result.Columns)
	assert.Len(t, result.Rows, 10)
	assert.Equal(t, models.PageMeta{Page: 2, Size: 10, Total: 25, Pages: 3}, result.Meta)
	assert.Equal(t, float64(11), result.Rows[0][0])
	assert.Equal(t, float64(10), result.Rows[0][3])
}

func TestQueryHandler_QueryDefaults(t *testing.T) {
	h := handler.NewQueryHandler(newTestStore(t), zerolog.Nop())

	w := serve(t, "/v1/query", h.Query, "/v1/query?sql=SELECT+*+FROM+realtime_data")

	result := decode[models.QueryResult](t, w)
	assert.Len(t, result.Rows, 20)
	assert.Equal(t, 2, result.Meta.Pages)
}

func TestQueryHandler_QueryRejects(t *testing.T) {
	tests := []struct {
		name   string
		target string
		field  string
	}{
		{"missing sql", "/v1/query", "sql"},
		{"write statement", "/v1/query?sql=DELETE+FROM+realtime_data", "sql"},
		{"stacked statements", "/v1/query?sql=SELECT+1%3B+DROP+TABLE+realtime_data", "sql"},
		{"bad page", "/v1/query?sql=SELECT+1&page=0", "page"},
		{"size too large", "/v1/query?sql=SELECT+1&size=5000", "size"},
	}

	h := handler.NewQueryHandler(newTestStore(t), zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, "/v1/query", h.Query, tt.target)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			problem := decode[models.Problem](t, w)
			require.NotEmpty(t, problem.Errors)
			assert.Equal(t, tt.field, problem.Errors[0].Field)
		})
	}
}

func TestQueryHandler_QueryBadSQL(t *testing.T) {
	h := handler.NewQueryHandler(newTestStore(t), zerolog.Nop())

	w := serve(t, "/v1/query", h.Query, "/v1/query?sql=SELECT+*+FROM+nowhere")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "query failed")
}

func TestQueryHandler_Export(t *testing.T) {
	h := handler.NewQueryHandler(newTestStore(t), zerolog.Nop())

	w := serve(t, "/v1/export", h.Export, "/v1/export?sql=SELECT+*+FROM+realtime_data+WHERE+%22PM2.5%22+%3C+2")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "query_result_")

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,城市,日期,PM2.5", lines[0])
	assert.Equal(t, "1,北京,2026-10-14,0", lines[1])
}

func TestQueryHandler_ExportRejectsWrites(t *testing.T) {
	h := handler.NewQueryHandler(newTestStore(t), zerolog.Nop())

	w := serve(t, "/v1/export", h.Export, "/v1/export?sql=DROP+TABLE+realtime_data")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
