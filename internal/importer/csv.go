// Package importer decodes bulk stock import files.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/utafrali/stockledger/internal/domain"
)

// Column names accepted in the header row, case-insensitively and in any order.
const (
	ColumnSKU           = "sku"
	ColumnWarehouseCode = "warehouse_code"
	ColumnQuantity      = "quantity"
)

// MaxRows caps the rows accepted from one file.
const MaxRows = 10000

// ErrTooManyRows is returned when a file exceeds MaxRows.
var ErrTooManyRows = fmt.Errorf("import file exceeds %d rows", MaxRows)

// DecodeCSV reads a header row followed by one import row per line. Blank
// lines are skipped. Any malformed line fails the whole file with its line
// number, since a partly parsed file cannot be reported row by row.
func DecodeCSV(r io.Reader) ([]domain.ImportRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("import file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols, err := columns(header)
	if err != nil {
		return nil, err
	}

	var rows []domain.ImportRow
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)

		if blank(record) {
			continue
		}
		if len(rows) == MaxRows {
			return nil, ErrTooManyRows
		}

		row, err := parseRecord(record, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type columnIndex struct {
	sku, warehouse, quantity int
}

func columns(header []string) (columnIndex, error) {
	idx := columnIndex{sku: -1, warehouse: -1, quantity: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case ColumnSKU:
			idx.sku = i
		case ColumnWarehouseCode:
			idx.warehouse = i
		case ColumnQuantity:
			idx.quantity = i
		}
	}

	var missing []string
	if idx.sku < 0 {
		missing = append(missing, ColumnSKU)
	}
	if idx.warehouse < 0 {
		missing = append(missing, ColumnWarehouseCode)
	}
	if idx.quantity < 0 {
		missing = append(missing, ColumnQuantity)
	}
	if len(missing) > 0 {
		return idx, fmt.Errorf("header is missing column(s): %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

func parseRecord(record []string, cols columnIndex) (domain.ImportRow, error) {
	field := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	raw := field(cols.quantity)
	quantity, err := strconv.Atoi(raw)
	if err != nil {
		return domain.ImportRow{}, fmt.Errorf("invalid quantity %q", raw)
	}

	return domain.ImportRow{
		SKU:           field(cols.sku),
		WarehouseCode: field(cols.warehouse),
		Quantity:      quantity,
	}, nil
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
