package http

import (
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/importer"
	"github.com/utafrali/stockledger/internal/service"
	"github.com/utafrali/stockledger/pkg/httputil"
	"github.com/utafrali/stockledger/pkg/pagination"
	"github.com/utafrali/stockledger/pkg/validator"
)

// maxImportBytes caps a CSV upload.
const maxImportBytes = 8 << 20

// StockHandler handles HTTP requests for stock endpoints.
type StockHandler struct {
	service *service.StockService
	logger  *slog.Logger
}

// NewStockHandler creates a new stock HTTP handler.
func NewStockHandler(svc *service.StockService, logger *slog.Logger) *StockHandler {
	return &StockHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// StockCheckItemRequest is one line of an availability check.
type StockCheckItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
}

// CheckStockRequest is the JSON request body for an availability check.
type CheckStockRequest struct {
	Items []StockCheckItemRequest `json:"items" validate:"required,min=1,max=200,dive"`
}

// AdjustStockRequest is the JSON request body for a stock adjustment.
type AdjustStockRequest struct {
	ProductID    string `json:"product_id" validate:"required,uuid"`
	WarehouseID  string `json:"warehouse_id" validate:"required,uuid"`
	Quantity     int    `json:"quantity" validate:"nonzero"`
	MovementType string `json:"movement_type" validate:"required,oneof=SALE RETURN RESTOCK ADJUSTMENT TRANSFER_IN TRANSFER_OUT DAMAGED"`
	Note         string `json:"note" validate:"max=500"`
	ReferenceID  string `json:"reference_id" validate:"max=100"`
}

// TransferStockRequest is the JSON request body for a warehouse transfer.
type TransferStockRequest struct {
	ProductID       string `json:"product_id" validate:"required,uuid"`
	FromWarehouseID string `json:"from_warehouse_id" validate:"required,uuid"`
	ToWarehouseID   string `json:"to_warehouse_id" validate:"required,uuid,nefield=FromWarehouseID"`
	Quantity        int    `json:"quantity" validate:"required,gte=1"`
	Note            string `json:"note" validate:"max=500"`
}

// OrderStockRequest is the JSON request body for reserve, confirm, release
// and direct sale.
type OrderStockRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
	OrderID   string `json:"order_id" validate:"required,max=100"`
}

// ImportStockRequest is the JSON request body for a bulk import.
type ImportStockRequest struct {
	Rows []domain.ImportRow `json:"rows" validate:"required,min=1,max=10000"`
}

// --- Response DTOs ---

// AdjustStockResponse is the row, the movement and the re-synced cache.
type AdjustStockResponse struct {
	service.AdjustStockResult
	ProductStock int `json:"product_stock"`
}

// StockLevelResponse carries a single stock figure.
type StockLevelResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OutcomeResponse reports whether a reserve or direct sale was served.
type OutcomeResponse struct {
	OK bool `json:"ok"`
}

// --- Query handlers ---

// GetAvailableStock handles GET /api/v1/stock/products/{productId}/available
func (h *StockHandler) GetAvailableStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseUUID(w, chi.URLParam(r, "productId"))
	if !ok {
		return
	}

	available, err := h.service.GetAvailableStock(r.Context(), productID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: StockLevelResponse{ProductID: productID.String(), Quantity: available},
	})
}

// GetTotalStock handles GET /api/v1/stock/products/{productId}/total
func (h *StockHandler) GetTotalStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseUUID(w, chi.URLParam(r, "productId"))
	if !ok {
		return
	}

	total, err := h.service.GetTotalStock(r.Context(), productID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: StockLevelResponse{ProductID: productID.String(), Quantity: total},
	})
}

// GetProductInventory handles GET /api/v1/stock/products/{productId}/inventory
func (h *StockHandler) GetProductInventory(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseUUID(w, chi.URLParam(r, "productId"))
	if !ok {
		return
	}

	rows, err := h.service.GetProductInventory(r.Context(), productID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: rows})
}

// ListMovements handles GET /api/v1/stock/products/{productId}/movements
func (h *StockHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseUUID(w, chi.URLParam(r, "productId"))
	if !ok {
		return
	}

	page, err := h.service.ListMovements(r.Context(), productID.String(), pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

// CheckStockAvailability handles POST /api/v1/stock/check
func (h *StockHandler) CheckStockAvailability(w http.ResponseWriter, r *http.Request) {
	var req CheckStockRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	items := make([]domain.StockCheckItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = domain.StockCheckItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	result, err := h.service.CheckStockAvailability(r.Context(), items)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// GetLowStockProducts handles GET /api/v1/stock/low-stock
func (h *StockHandler) GetLowStockProducts(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.GetLowStockProducts(r.Context(), pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

// --- Mutation handlers ---

// AdjustStock handles POST /api/v1/stock/adjust. The product cache is
// re-synced after a successful adjustment.
func (h *StockHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.service.AdjustStock(r.Context(), service.AdjustStockInput{
		ProductID:    req.ProductID,
		WarehouseID:  req.WarehouseID,
		Delta:        req.Quantity,
		MovementType: domain.MovementType(req.MovementType),
		Note:         req.Note,
		ReferenceID:  req.ReferenceID,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	stock, err := h.service.SyncProductStock(r.Context(), req.ProductID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: AdjustStockResponse{AdjustStockResult: *result, ProductStock: stock},
	})
}

// TransferStock handles POST /api/v1/stock/transfer
func (h *StockHandler) TransferStock(w http.ResponseWriter, r *http.Request) {
	var req TransferStockRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.service.TransferStock(r.Context(), service.TransferStockInput{
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
		Note:            req.Note,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// ReserveStock handles POST /api/v1/stock/reserve. A request no single
// warehouse can serve answers 200 with ok=false.
func (h *StockHandler) ReserveStock(w http.ResponseWriter, r *http.Request) {
	var req OrderStockRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	ok, err := h.service.ReserveStock(r.Context(), req.ProductID, req.Quantity, req.OrderID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: OutcomeResponse{OK: ok}})
}

// ConfirmSale handles POST /api/v1/stock/confirm
func (h *StockHandler) ConfirmSale(w http.ResponseWriter, r *http.Request) {
	var req OrderStockRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := h.service.ConfirmSale(r.Context(), req.ProductID, req.Quantity, req.OrderID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ReleaseReservation handles POST /api/v1/stock/release
func (h *StockHandler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	var req OrderStockRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := h.service.ReleaseReservation(r.Context(), req.ProductID, req.Quantity, req.OrderID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DirectSale handles POST /api/v1/stock/direct-sale
func (h *StockHandler) DirectSale(w http.ResponseWriter, r *http.Request) {
	var req OrderStockRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	ok, err := h.service.DirectSale(r.Context(), req.ProductID, req.Quantity, req.OrderID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: OutcomeResponse{OK: ok}})
}

// ListOrderReservations handles GET /api/v1/stock/orders/{orderId}/reservations
func (h *StockHandler) ListOrderReservations(w http.ResponseWriter, r *http.Request) {
	reservations, err := h.service.ListOrderReservations(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: reservations})
}

// --- Cache and import handlers ---

// SyncProductStock handles POST /api/v1/stock/products/{productId}/sync
func (h *StockHandler) SyncProductStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseUUID(w, chi.URLParam(r, "productId"))
	if !ok {
		return
	}

	stock, err := h.service.SyncProductStock(r.Context(), productID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: StockLevelResponse{ProductID: productID.String(), Quantity: stock},
	})
}

// BulkImportStock handles POST /api/v1/stock/import. The body is either a
// JSON ImportStockRequest or a text/csv file.
func (h *StockHandler) BulkImportStock(w http.ResponseWriter, r *http.Request) {
	var rows []domain.ImportRow

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/csv" {
		decoded, err := importer.DecodeCSV(http.MaxBytesReader(w, r.Body, maxImportBytes))
		if err != nil {
			httputil.WriteValidationError(w, err)
			return
		}
		rows = decoded
	} else {
		var req ImportStockRequest
		if err := validator.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteValidationError(w, err)
			return
		}
		rows = req.Rows
	}

	result, err := h.service.BulkImportStock(r.Context(), rows)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// ReconcileStockCache handles POST /api/v1/stock/reconcile
func (h *StockHandler) ReconcileStockCache(w http.ResponseWriter, r *http.Request) {
	changed, err := h.service.ReconcileStockCache(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]int{"corrected": changed}})
}
