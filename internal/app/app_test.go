package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	"github.com/odyssey-erp/pharmaledger/internal/observability"
	"github.com/odyssey-erp/pharmaledger/internal/testing/memstore"
)

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	t.Setenv("EXPIRY_SCAN_ORGS", "1,4")
	t.Setenv("INVENTORY_LOW_STOCK", "3")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, cfg.ExpiryScanOrgs)
	assert.Equal(t, int64(3), cfg.InventoryLowStock)
	assert.Equal(t, int64(20), cfg.InventoryReorderLevel)
	assert.Equal(t, 30, cfg.ExpiryHorizonDays)
	assert.Equal(t, 30*time.Second, cfg.AppRequestTimeout)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("EXPIRY_HORIZON_DAYS", "0")
	t.Setenv("EXPIRY_SCAN_ORGS", "-1")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXPIRY_HORIZON_DAYS")
	assert.Contains(t, err.Error(), "EXPIRY_SCAN_ORGS")
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logLevel(&Config{LogLevel: "debug"}))
	assert.Equal(t, slog.LevelInfo, logLevel(&Config{LogLevel: "nonsense"}))
	assert.Equal(t, slog.LevelInfo, logLevel(nil))
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newTestRouter(t *testing.T, checks map[string]Pinger) (http.Handler, *memstore.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	svc := inventory.NewService(store.Inventory(), &memstore.Audit{}, inventory.ServiceConfig{
		Thresholds: inventory.Thresholds{LowStock: 2, ReorderLevel: 4},
	}, logger)
	cfg := &Config{AppEnv: "test", RateLimitPerMinute: 1000, AppRequestTimeout: 5 * time.Second}
	return NewRouter(RouterParams{
		Logger:           logger,
		Config:           cfg,
		Metrics:          observability.NewMetrics(),
		Checks:           checks,
		InventoryHandler: inventory.NewHandler(logger, svc),
	}), store
}

func TestRouterHealthAndReadiness(t *testing.T) {
	router, _ := newTestRouter(t, map[string]Pinger{"postgres": pinger{}, "redis": pinger{err: errors.New("down")}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"postgres":"up","redis":"down"}`, rr.Body.String())
}

func TestRouterServesInventoryAndMetrics(t *testing.T) {
	router, store := newTestRouter(t, nil)
	b := store.AddBatch(inventory.Batch{OrgID: 1, ProductID: 100, BatchNumber: "B1", ExpiryDate: time.Now().AddDate(1, 0, 0)}, 10)

	req := httptest.NewRequest(http.MethodPost, "/inventory/transactions",
		strings.NewReader(`{"batch_id":`+itoa(b.ID)+`,"kind":"sale","quantity":-7,"reference":"SO-1"}`))
	req.Header.Set("X-Org-ID", "1")
	req.Header.Set("X-Actor-ID", "9")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/inventory/batches/"+itoa(b.ID)+"/status", nil)
	req.Header.Set("X-Org-ID", "1")
	req.Header.Set("X-Actor-ID", "9")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var st inventory.Status
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&st))
	assert.Equal(t, int64(3), st.CurrentQuantity)
	assert.True(t, st.NeedsReorder)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `route="/inventory/transactions"`)
}

func TestRouterUnknownRouteIsProblem(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
