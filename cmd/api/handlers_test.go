package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/stockwise/internal/config"
	"github.com/nemonet1337/stockwise/internal/metrics"
	"github.com/nemonet1337/stockwise/pkg/inventory"
	"github.com/nemonet1337/stockwise/pkg/inventory/storage"
)

type testAPI struct {
	t      *testing.T
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := storage.NewMemoryStorage(zap.NewNop())
	collector := metrics.NewCollector("test")
	manager := inventory.NewManager(store, nil, zap.NewNop(), nil, inventory.WithMetrics(collector))
	handlers := NewHandlers(manager, store, zap.NewNop())

	return &testAPI{t: t, router: setupRouter(handlers, config.Default(), collector)}
}

func (a *testAPI) do(method, path string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	a.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userHeader, "tester")

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

// data re-decodes the generic response payload into v
func (a *testAPI) data(resp APIResponse, v interface{}) {
	a.t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(a.t, err)
	require.NoError(a.t, json.Unmarshal(raw, v))
}

func (a *testAPI) createProduct(sku string) string {
	rec, resp := a.do(http.MethodPost, "/api/v1/products", map[string]string{"sku": sku, "name": "商品 " + sku})
	require.Equal(a.t, http.StatusCreated, rec.Code)
	var p inventory.Product
	a.data(resp, &p)
	return p.ID
}

func TestHealthCheck(t *testing.T) {
	api := newTestAPI(t)

	rec, resp := api.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestOperationLifecycle(t *testing.T) {
	api := newTestAPI(t)
	productID := api.createProduct("SKU-1")

	// 入庫
	rec, resp := api.do(http.MethodPost, "/api/v1/operations", inventory.CreateOperationRequest{
		Type:     inventory.OperationTypeIn,
		Number:   "IN-1",
		ClientID: "client-1",
		Lines:    []inventory.OperationLine{{ProductID: productID, Quantity: 100}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var in inventory.Operation
	api.data(resp, &in)
	assert.Equal(t, inventory.StatusCreated, in.Status)

	// 出庫
	rec, resp = api.do(http.MethodPost, "/api/v1/operations", inventory.CreateOperationRequest{
		Type:     inventory.OperationTypeOut,
		Number:   "OUT-1",
		ClientID: "client-1",
		Lines:    []inventory.OperationLine{{ProductID: productID, Quantity: 30}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out inventory.Operation
	api.data(resp, &out)

	rec, resp = api.do(http.MethodGet, "/api/v1/products/"+productID+"/stock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stock struct {
		Stock int64 `json:"stock"`
	}
	api.data(resp, &stock)
	assert.Equal(t, int64(70), stock.Stock)

	// ステータス遷移
	rec, _ = api.do(http.MethodPost, "/api/v1/operations/"+out.ID+"/status", StatusRequest{Status: inventory.StatusBox})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp = api.do(http.MethodPost, "/api/v1/operations/"+out.ID+"/status", StatusRequest{Status: inventory.StatusCreated})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, resp.Success)

	// 在庫不足
	rec, resp = api.do(http.MethodPost, "/api/v1/operations", inventory.CreateOperationRequest{
		Type:     inventory.OperationTypeOut,
		Number:   "OUT-2",
		ClientID: "client-1",
		Lines:    []inventory.OperationLine{{ProductID: productID, Quantity: 71}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEmpty(t, resp.Error)

	// 履歴
	rec, resp = api.do(http.MethodGet, "/api/v1/history/operation/"+out.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []inventory.HistoryEntry
	api.data(resp, &entries)
	assert.Len(t, entries, 2)
	assert.Equal(t, "tester", entries[0].UserID)
}

func TestRemoveOperation(t *testing.T) {
	api := newTestAPI(t)
	productID := api.createProduct("SKU-2")

	_, resp := api.do(http.MethodPost, "/api/v1/operations", inventory.CreateOperationRequest{
		Type:     inventory.OperationTypeIn,
		Number:   "IN-2",
		ClientID: "client-1",
		Lines:    []inventory.OperationLine{{ProductID: productID, Quantity: 5}},
	})
	var op inventory.Operation
	api.data(resp, &op)

	rec, _ := api.do(http.MethodDelete, "/api/v1/operations/"+op.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = api.do(http.MethodGet, "/api/v1/operations/"+op.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadRequests(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/operations", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = api.do(http.MethodPost, "/api/v1/operations", inventory.CreateOperationRequest{
		Type:     "MOVE",
		Number:   "X-1",
		ClientID: "client-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = api.do(http.MethodGet, "/api/v1/lots/expiring?within=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = api.do(http.MethodGet, "/api/v1/history/operation/x?from=yesterday&to=today", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogRoutes(t *testing.T) {
	api := newTestAPI(t)
	productID := api.createProduct("SKU-3")

	rec, resp := api.do(http.MethodPost, "/api/v1/lots", LotRequest{ProductID: productID, LotNumber: "L1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var lot inventory.Lot
	api.data(resp, &lot)

	rec, resp = api.do(http.MethodPatch, "/api/v1/lots/"+lot.ID, RenameRequest{Value: "L2"})
	require.Equal(t, http.StatusOK, rec.Code)
	api.data(resp, &lot)
	assert.Equal(t, "L2", lot.Number)

	rec, resp = api.do(http.MethodPost, "/api/v1/warehouses", WarehouseRequest{Name: "Main"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var wh inventory.Warehouse
	api.data(resp, &wh)

	rec, resp = api.do(http.MethodPost, "/api/v1/positions", PositionRequest{WarehouseID: wh.ID, Code: "A-01"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var pos inventory.Position
	api.data(resp, &pos)

	rec, resp = api.do(http.MethodPost, "/api/v1/containers", map[string]string{"ean": "12345678"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var c inventory.Container
	api.data(resp, &c)

	rec, resp = api.do(http.MethodPut, "/api/v1/containers/"+c.ID+"/position", PlaceRequest{PositionID: &pos.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	api.data(resp, &c)
	require.NotNil(t, c.PositionID)
	assert.Equal(t, pos.ID, *c.PositionID)

	rec, _ = api.do(http.MethodDelete, "/api/v1/positions/"+pos.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.createProduct("SKU-4")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{inventory.NewQuantityError(0), http.StatusBadRequest},
		{inventory.NewNotFoundError(inventory.EntityOperation, "x"), http.StatusNotFound},
		{&inventory.ConflictError{OperationID: "x"}, http.StatusConflict},
		{inventory.NewConcurrencyError("lock", "x", "deadlock"), http.StatusConflict},
		{&inventory.LineError{Index: 1, Err: &inventory.InsufficientStockError{}}, http.StatusUnprocessableEntity},
		{&inventory.StateError{OperationID: "x"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", inventory.ErrInvalidTransition), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealthCheck_Unavailable(t *testing.T) {
	handlers := NewHandlers(nil, failingPinger{}, nil)

	rec := httptest.NewRecorder()
	handlers.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
