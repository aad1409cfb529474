package domain

// ImportRow is one line of a bulk stock import.
type ImportRow struct {
	SKU           string `json:"sku" validate:"required"`
	WarehouseCode string `json:"warehouse_code" validate:"required"`
	Quantity      int    `json:"quantity"`
}

// ImportError describes why one row failed. Row is 1-based.
type ImportError struct {
	Row           int    `json:"row"`
	SKU           string `json:"sku"`
	WarehouseCode string `json:"warehouse_code"`
	Message       string `json:"message"`
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Success int           `json:"success"`
	Failed  int           `json:"failed"`
	Errors  []ImportError `json:"errors"`
}
