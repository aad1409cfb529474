// Package seed generates a deterministic demo catalog and stocks it through
// the ledger, so every seeded unit has a RESTOCK movement behind it.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	"github.com/utafrali/stockledger/pkg/slug"
)

// namespace scopes the name-based UUIDs so re-runs produce the same ids.
var namespace = uuid.MustParse("5b0c8a8e-9f43-4c55-8d4e-3d7f0c6a1e20")

// Importer restocks rows through the ledger.
type Importer interface {
	BulkImportStock(ctx context.Context, rows []domain.ImportRow) (*domain.ImportResult, error)
}

// Options controls the generated catalog.
type Options struct {
	Products int
	Seed     uint64
	// EmptyRatio is the share of products left without stock, so the
	// low-stock report has content.
	EmptyRatio float64
}

// DefaultOptions returns 100 products with a tenth left empty.
func DefaultOptions() Options {
	return Options{Products: 100, Seed: 42, EmptyRatio: 0.1}
}

// Summary reports what a run created.
type Summary struct {
	WarehousesCreated int                  `json:"warehouses_created"`
	ProductsCreated   int                  `json:"products_created"`
	Import            *domain.ImportResult `json:"import,omitempty"`
}

var warehouses = []struct {
	code string
	name string
	typ  domain.WarehouseType
}{
	{"MAIN", "Main Distribution Center", domain.WarehouseTypeMain},
	{"EAST", "East Regional Hub", domain.WarehouseTypeRegional},
	{"WEST", "West Regional Hub", domain.WarehouseTypeRegional},
	{"STORE-CITY", "City Center Store", domain.WarehouseTypeStore},
	{"DROPSHIP", "Drop-ship Partners", domain.WarehouseTypeVirtual},
}

var (
	prefixes = []string{"Classic", "Premium", "Essential", "Urban", "Outdoor", "Compact", "Pro"}
	kinds    = []string{"T-Shirt", "Sweater", "Rain Jacket", "Running Shoes", "Backpack", "Water Bottle", "Headphones", "Keyboard", "Skillet", "Yoga Mat"}
	colors   = []string{"Black", "White", "Navy", "Olive", "Red", "Grey"}
)

// Warehouses returns the fixed demo warehouses.
func Warehouses() []domain.Warehouse {
	out := make([]domain.Warehouse, len(warehouses))
	for i, w := range warehouses {
		out[i] = domain.Warehouse{
			ID:       uuid.NewSHA1(namespace, []byte("warehouse:"+w.code)).String(),
			Code:     w.code,
			Name:     w.name,
			Type:     w.typ,
			IsActive: true,
		}
	}
	return out
}

// Products generates opts.Products products. The same seed always yields
// the same catalog.
func Products(opts Options) []domain.Product {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)) // #nosec G404 -- demo data
	out := make([]domain.Product, 0, opts.Products)
	for i := 0; i < opts.Products; i++ {
		kind := kinds[rng.IntN(len(kinds))]
		sku := slug.Code(kind, i+1)
		out = append(out, domain.Product{
			ID:                uuid.NewSHA1(namespace, []byte("product:"+sku)).String(),
			SKU:               sku,
			Name:              fmt.Sprintf("%s %s - %s", prefixes[rng.IntN(len(prefixes))], kind, colors[rng.IntN(len(colors))]),
			LowStockThreshold: 5 + rng.IntN(16),
			IsActive:          true,
		})
	}
	return out
}

// StockRows spreads initial stock for products over the physical
// warehouses: each stocked product lands in one to three of them with
// 50-200 units each.
func StockRows(products []domain.Product, opts Options) []domain.ImportRow {
	rng := rand.New(rand.NewPCG(opts.Seed+1, opts.Seed)) // #nosec G404 -- demo data

	var physical []string
	for _, w := range warehouses {
		if w.typ != domain.WarehouseTypeVirtual {
			physical = append(physical, w.code)
		}
	}

	var rows []domain.ImportRow
	for _, p := range products {
		if rng.Float64() < opts.EmptyRatio {
			continue
		}
		n := 1 + rng.IntN(3)
		for _, k := range rng.Perm(len(physical))[:n] {
			rows = append(rows, domain.ImportRow{
				SKU:           p.SKU,
				WarehouseCode: physical[k],
				Quantity:      50 + rng.IntN(151),
			})
		}
	}
	return rows
}

// Run inserts the demo warehouses and products and restocks the products
// it created. Products that already existed are not restocked again, so
// running twice leaves stock unchanged.
func Run(ctx context.Context, repo repository.SeedRepository, importer Importer, opts Options, logger *slog.Logger) (*Summary, error) {
	if opts.Products < 0 {
		return nil, fmt.Errorf("seed: product count must not be negative, got %d", opts.Products)
	}

	summary := &Summary{}
	for _, w := range Warehouses() {
		inserted, err := repo.InsertWarehouse(ctx, &w)
		if err != nil {
			return summary, err
		}
		if inserted {
			summary.WarehousesCreated++
		}
	}

	var created []domain.Product
	for _, p := range Products(opts) {
		inserted, err := repo.InsertProduct(ctx, &p)
		if err != nil {
			return summary, err
		}
		if inserted {
			created = append(created, p)
		}
	}
	summary.ProductsCreated = len(created)

	if rows := StockRows(created, opts); len(rows) > 0 {
		result, err := importer.BulkImportStock(ctx, rows)
		if err != nil {
			return summary, fmt.Errorf("seed stock: %w", err)
		}
		summary.Import = result
	}

	logger.InfoContext(ctx, "seed completed",
		slog.Int("warehouses_created", summary.WarehousesCreated),
		slog.Int("products_created", summary.ProductsCreated),
	)
	return summary, nil
}
