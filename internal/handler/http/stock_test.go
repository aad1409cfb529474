package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository/memory"
	"github.com/utafrali/stockledger/internal/service"
	"github.com/utafrali/stockledger/pkg/health"
	"github.com/utafrali/stockledger/pkg/httputil"
	"github.com/utafrali/stockledger/pkg/middleware"
)

const (
	productID   = "0b6f7a52-4c55-4a38-9d3e-2f1a9c7e5d01"
	product2ID  = "0b6f7a52-4c55-4a38-9d3e-2f1a9c7e5d02"
	warehouseA  = "6a1e0f3c-2b9d-4c1e-8f7a-000000000001"
	warehouseB  = "6a1e0f3c-2b9d-4c1e-8f7a-000000000002"
	unknownUUID = "ffffffff-ffff-4fff-bfff-ffffffffffff"
)

// ============================================================================
// Test Helpers
// ============================================================================

type envelope struct {
	Data  json.RawMessage         `json:"data"`
	Error *httputil.ErrorResponse `json:"error"`
}

type testServer struct {
	handler http.Handler
	store   *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithAccess(t, AccessConfig{})
}

func newTestServerWithAccess(t *testing.T, access AccessConfig) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: productID, SKU: "SKU-1", Name: "Widget", Stock: 10, LowStockThreshold: 3, IsActive: true})
	store.PutProduct(domain.Product{ID: product2ID, SKU: "SKU-2", Name: "Gadget", Stock: 0, LowStockThreshold: 3, IsActive: true})
	store.PutWarehouse(domain.Warehouse{ID: warehouseA, Code: "MAIN", Type: domain.WarehouseTypeMain, IsActive: true})
	store.PutWarehouse(domain.Warehouse{ID: warehouseB, Code: "EAST", Type: domain.WarehouseTypeRegional, IsActive: true})
	store.PutInventory(productID, warehouseA, 10, 0)

	svc := service.NewStockService(store, nil, logger)
	metrics := middleware.NewHTTPMetrics(prometheus.NewRegistry(), ServiceName)
	return &testServer{
		handler: NewRouter(svc, health.NewHandler(), metrics, access, logger),
		store:   store,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func orderBody(product string, qty int, order string) map[string]any {
	return map[string]any{"product_id": product, "quantity": qty, "order_id": order}
}

// ============================================================================
// Queries
// ============================================================================

func TestGetAvailableAndTotal(t *testing.T) {
	s := newTestServer(t)
	s.store.PutInventory(productID, warehouseB, 5, 2)

	rec, env := s.do(t, http.MethodGet, "/api/v1/stock/products/"+productID+"/available", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 13, decode[StockLevelResponse](t, env.Data).Quantity)

	rec, env = s.do(t, http.MethodGet, "/api/v1/stock/products/"+productID+"/total", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 15, decode[StockLevelResponse](t, env.Data).Quantity)
}

func TestGetAvailable_InvalidUUID(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodGet, "/api/v1/stock/products/not-a-uuid/available", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_PARAMETER", env.Error.Code)
}

func TestGetProductInventory(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodGet, "/api/v1/stock/products/"+productID+"/inventory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]domain.Inventory](t, env.Data)
	require.Len(t, rows, 1)
	assert.Equal(t, warehouseA, rows[0].WarehouseID)

	rec, env = s.do(t, http.MethodGet, "/api/v1/stock/products/"+unknownUUID+"/inventory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestCheckStockAvailability(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/v1/stock/check", map[string]any{
		"items": []map[string]any{
			{"product_id": productID, "quantity": 10},
			{"product_id": product2ID, "quantity": 1},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[domain.AvailabilityResult](t, env.Data)
	assert.False(t, res.Available)
	assert.Equal(t, []string{"Gadget"}, res.OutOfStock)

	rec, env = s.do(t, http.MethodPost, "/api/v1/stock/check", map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestGetLowStockProducts(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stock/low-stock?page=1&per_page=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Data       []domain.LowStockProduct `json:"data"`
		TotalCount int                      `json:"total_count"`
		PerPage    int                      `json:"per_page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.TotalCount)
	assert.Equal(t, 5, page.PerPage)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Gadget", page.Data[0].Name)
}

// ============================================================================
// Mutations
// ============================================================================

func TestAdjustStock(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/v1/stock/adjust", map[string]any{
		"product_id":    productID,
		"warehouse_id":  warehouseB,
		"quantity":      7,
		"movement_type": "RESTOCK",
		"note":          "delivery",
	}, middleware.ActorHeader, "ops@example.com")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[AdjustStockResponse](t, env.Data)
	assert.Equal(t, 7, res.Inventory.Quantity)
	assert.Equal(t, 17, res.ProductStock)
	require.NotNil(t, res.Movement.CreatedBy)
	assert.Equal(t, "ops@example.com", *res.Movement.CreatedBy)

	product, _ := s.store.Product(productID)
	assert.Equal(t, 17, product.Stock)
}

func TestAdjustStock_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{
			name:   "negative result",
			body:   map[string]any{"product_id": productID, "warehouse_id": warehouseA, "quantity": -20, "movement_type": "ADJUSTMENT"},
			status: http.StatusUnprocessableEntity,
			code:   "INVALID_OPERATION",
		},
		{
			name:   "reservation type",
			body:   map[string]any{"product_id": productID, "warehouse_id": warehouseA, "quantity": 1, "movement_type": "RESERVATION"},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "zero quantity",
			body:   map[string]any{"product_id": productID, "warehouse_id": warehouseA, "quantity": 0, "movement_type": "RESTOCK"},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "unknown warehouse",
			body:   map[string]any{"product_id": productID, "warehouse_id": unknownUUID, "quantity": 1, "movement_type": "RESTOCK"},
			status: http.StatusNotFound,
			code:   "NOT_FOUND",
		},
		{
			name:   "unknown field",
			body:   `{"product_id":"` + productID + `","warehouse_id":"` + warehouseA + `","quantity":1,"movement_type":"RESTOCK","color":"red"}`,
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := s.do(t, http.MethodPost, "/api/v1/stock/adjust", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.code, env.Error.Code)
		})
	}

	inv, _ := s.store.Inventory(productID, warehouseA)
	assert.Equal(t, 10, inv.Quantity)
}

func TestReserveConfirmFlow(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/v1/stock/reserve", orderBody(productID, 4, "ord-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[OutcomeResponse](t, env.Data).OK)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/stock/confirm", orderBody(productID, 4, "ord-1"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, env = s.do(t, http.MethodPost, "/api/v1/stock/confirm", orderBody(productID, 4, "ord-1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INSUFFICIENT_RESERVATION", env.Error.Code)

	inv, _ := s.store.Inventory(productID, warehouseA)
	assert.Equal(t, 6, inv.Quantity)
	assert.Equal(t, 0, inv.Reserved)

	product, _ := s.store.Product(productID)
	assert.Equal(t, 6, product.Stock)
	assert.Equal(t, 4, product.SoldCount)
}

func TestReserve_NoCapacity(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/v1/stock/reserve", orderBody(productID, 100, "ord-2"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[OutcomeResponse](t, env.Data).OK)
	assert.Empty(t, s.store.Movements(productID))
}

func TestReleaseReservation(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/stock/release", orderBody(productID, 2, "nothing-held"))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/stock/reserve", orderBody(productID, 2, "ord-3"))
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do(t, http.MethodPost, "/api/v1/stock/release", orderBody(productID, 2, "ord-3"))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	inv, _ := s.store.Inventory(productID, warehouseA)
	assert.Equal(t, 10, inv.Available)
	assert.Len(t, s.store.Movements(productID), 2)
}

func TestDirectSale(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/v1/stock/direct-sale", orderBody(productID, 3, "pos-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[OutcomeResponse](t, env.Data).OK)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/stock/direct-sale", map[string]any{"product_id": productID, "quantity": 0, "order_id": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransferStock(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/v1/stock/transfer", map[string]any{
		"product_id":        productID,
		"from_warehouse_id": warehouseA,
		"to_warehouse_id":   warehouseB,
		"quantity":          4,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[service.TransferStockResult](t, env.Data)
	assert.Equal(t, 6, res.From.Quantity)
	assert.Equal(t, 4, res.To.Quantity)

	rec, env = s.do(t, http.MethodPost, "/api/v1/stock/transfer", map[string]any{
		"product_id":        productID,
		"from_warehouse_id": warehouseA,
		"to_warehouse_id":   warehouseA,
		"quantity":          1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error.Fields, "to_warehouse_id")
}

// ============================================================================
// Cache, import, audit
// ============================================================================

func TestBulkImportStock_JSON(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/v1/stock/import", map[string]any{
		"rows": []map[string]any{
			{"sku": "SKU-2", "warehouse_code": "EAST", "quantity": 9},
			{"sku": "SKU-404", "warehouse_code": "EAST", "quantity": 1},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[domain.ImportResult](t, env.Data)
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Row)

	product, _ := s.store.Product(product2ID)
	assert.Equal(t, 9, product.Stock)
}

func TestBulkImportStock_CSV(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stock/import",
		strings.NewReader("sku,warehouse_code,quantity\nSKU-1,EAST,5\nSKU-2,MAIN,2\n"))
	req.Header.Set("Content-Type", "text/csv; charset=utf-8")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	res := decode[domain.ImportResult](t, env.Data)
	assert.Equal(t, 2, res.Success)

	product, _ := s.store.Product(productID)
	assert.Equal(t, 15, product.Stock)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/stock/import", strings.NewReader("sku,quantity\nA,1\n"))
	req.Header.Set("Content-Type", "text/csv")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncAndReconcile(t *testing.T) {
	s := newTestServer(t)
	s.store.PutInventory(product2ID, warehouseB, 4, 0)

	rec, env := s.do(t, http.MethodPost, "/api/v1/stock/products/"+product2ID+"/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decode[StockLevelResponse](t, env.Data).Quantity)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/stock/products/"+unknownUUID+"/sync", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.store.PutInventory(productID, warehouseA, 12, 0)
	rec, env = s.do(t, http.MethodPost, "/api/v1/stock/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"corrected": 1}, decode[map[string]int](t, env.Data))
}

func TestListMovements(t *testing.T) {
	s := newTestServer(t)
	for _, order := range []string{"a", "b", "c"} {
		rec, _ := s.do(t, http.MethodPost, "/api/v1/stock/reserve", orderBody(productID, 1, order))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stock/products/"+productID+"/movements?per_page=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Data       []domain.StockMovement `json:"data"`
		TotalCount int                    `json:"total_count"`
		HasNext    bool                   `json:"has_next"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 3, page.TotalCount)
	assert.True(t, page.HasNext)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "c", *page.Data[0].ReferenceID)
}

func TestHealthAndCorrelation(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodGet, "/health/live", nil, middleware.CorrelationIDHeader, "corr-42")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "corr-42", rec.Header().Get(middleware.CorrelationIDHeader))

	rec, _ = s.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ============================================================================
// Order reservations and access control
// ============================================================================

func TestListOrderReservations(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/stock/reserve", orderBody(productID, 3, "ord-77"))
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do(t, http.MethodPost, "/api/v1/stock/release", orderBody(productID, 1, "ord-77"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, env := s.do(t, http.MethodGet, "/api/v1/stock/orders/ord-77/reservations", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reservations := decode[[]domain.Reservation](t, env.Data)
	require.Len(t, reservations, 1)
	assert.Equal(t, domain.ReservationHeld, reservations[0].Status)
	assert.Equal(t, 2, reservations[0].Quantity)
	assert.Equal(t, 1, reservations[0].SettledQuantity)
	assert.Equal(t, warehouseA, reservations[0].WarehouseID)

	rec, env = s.do(t, http.MethodGet, "/api/v1/stock/orders/unknown-order/reservations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]domain.Reservation](t, env.Data))
}

func TestOperatorAllowlist(t *testing.T) {
	adjust := map[string]any{
		"product_id":    productID,
		"warehouse_id":  warehouseA,
		"quantity":      1,
		"movement_type": "RESTOCK",
	}

	// httptest requests come from 192.0.2.1.
	denied := newTestServerWithAccess(t, AccessConfig{OperatorCIDRs: []string{"10.0.0.0/8"}})

	rec, env := denied.do(t, http.MethodPost, "/api/v1/stock/adjust", adjust)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	rec, _ = denied.do(t, http.MethodPost, "/api/v1/stock/reconcile", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = denied.do(t, http.MethodGet, "/api/v1/stock/products/"+productID+"/available", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = denied.do(t, http.MethodPost, "/api/v1/stock/reserve", orderBody(productID, 1, "ord-1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	allowed := newTestServerWithAccess(t, AccessConfig{OperatorCIDRs: []string{"192.0.2.0/24"}})
	rec, _ = allowed.do(t, http.MethodPost, "/api/v1/stock/adjust", adjust)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPprofRequiresAllowlist(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do(t, http.MethodGet, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	s = newTestServerWithAccess(t, AccessConfig{PprofCIDRs: []string{"192.0.2.0/24"}})
	rec, _ = s.do(t, http.MethodGet, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSOrigins(t *testing.T) {
	s := newTestServerWithAccess(t, AccessConfig{CORSOrigins: []string{"https://ops.example.com"}})

	rec, _ := s.do(t, http.MethodGet, "/api/v1/stock/products/"+productID+"/available", nil, "Origin", "https://ops.example.com")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = newTestServer(t).do(t, http.MethodGet, "/api/v1/stock/products/"+productID+"/available", nil, "Origin", "https://ops.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
