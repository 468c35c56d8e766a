package inventory

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaledger/internal/platform/httpx"
)

func newHandlerRouter(repo *memoryRepo) http.Handler {
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), newTestService(repo)).MountRoutes(r)
	return r
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(httpx.HeaderOrgID, "1")
	req.Header.Set(httpx.HeaderActorID, "5")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerRecordAndReadBack(t *testing.T) {
	repo := newMemoryRepo(batchFixture(1, 10, testNow.AddDate(1, 0, 0)))
	h := newHandlerRouter(repo)

	rr := serve(h, http.MethodPost, "/transactions", `{"batch_id":1,"kind":"purchase","quantity":15,"reference":"GRN-7"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var mv Movement
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &mv))
	assert.Equal(t, int64(25), mv.Status.CurrentQuantity)
	assert.Equal(t, "GRN-7", mv.Transaction.Reference)

	rr = serve(h, http.MethodPost, "/adjustments", `{"batch_id":1,"quantity":-5,"reason":"breakage"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = serve(h, http.MethodGet, "/batches/1/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, int64(20), st.AvailableQuantity)

	rr = serve(h, http.MethodGet, "/batches/1/transactions?from=2026-01-01", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var card []Transaction
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &card))
	assert.Len(t, card, 2)

	rr = serve(h, http.MethodGet, "/products/77/fifo?quantity=30", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var rec FIFORecommendation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.False(t, rec.CanFulfill)
	assert.Equal(t, int64(10), rec.Shortage)
}

func TestHandlerMapsLedgerErrors(t *testing.T) {
	repo := newMemoryRepo(batchFixture(1, 10, testNow.AddDate(1, 0, 0)))
	h := newHandlerRouter(repo)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
		want   string
	}{
		{"oversell", http.MethodPost, "/transactions", `{"batch_id":1,"kind":"sale","quantity":-11}`, http.StatusConflict, "insufficient-inventory"},
		{"unknown kind", http.MethodPost, "/transactions", `{"batch_id":1,"kind":"transfer","quantity":1}`, http.StatusBadRequest, "Kind failed oneof"},
		{"wrong sign", http.MethodPost, "/transactions", `{"batch_id":1,"kind":"sale","quantity":3}`, http.StatusBadRequest, "validation-failed"},
		{"missing reason", http.MethodPost, "/adjustments", `{"batch_id":1,"quantity":2}`, http.StatusBadRequest, "Reason failed required"},
		{"unknown batch", http.MethodGet, "/batches/99/status", "", http.StatusNotFound, "not-found"},
		{"bad batch id", http.MethodGet, "/batches/x/status", "", http.StatusBadRequest, "batchID"},
		{"bad date", http.MethodGet, "/batches/1/transactions?from=01-02-2026", "", http.StatusBadRequest, "YYYY-MM-DD"},
		{"bad quantity", http.MethodGet, "/products/77/fifo?quantity=lots", "", http.StatusBadRequest, "quantity"},
		{"bad horizon", http.MethodGet, "/expiry-alerts?horizon_days=0", "", http.StatusBadRequest, "horizon_days"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(h, tc.method, tc.path, tc.body)
			require.Equal(t, tc.code, rr.Code, rr.Body.String())
			assert.Contains(t, rr.Body.String(), tc.want)
		})
	}
	assert.Empty(t, repo.txs)
}

func TestHandlerExpiryAlerts(t *testing.T) {
	repo := newMemoryRepo(
		batchFixture(1, 10, testNow.AddDate(0, 0, 3)),
		batchFixture(2, 10, testNow.AddDate(1, 0, 0)),
	)
	h := newHandlerRouter(repo)

	rr := serve(h, http.MethodGet, "/expiry-alerts?horizon_days=30", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var alerts []ExpiryAlert
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCritical, alerts[0].Level)

	req := httptest.NewRequest(http.MethodGet, "/expiry-alerts", nil)
	anon := httptest.NewRecorder()
	h.ServeHTTP(anon, req)
	assert.Equal(t, http.StatusUnauthorized, anon.Code)
}
