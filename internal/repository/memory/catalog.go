package memory

import (
	"context"
	"sort"

	"github.com/utafrali/stockledger/internal/domain"
)

// GetProduct implements repository.CatalogRepository.
func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	var out domain.Product
	err := s.view("GetProduct", func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return notFoundf("get product %s", id)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProductBySKU implements repository.CatalogRepository.
func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	var out *domain.Product
	err := s.view("GetProductBySKU", func(st *state) error {
		for _, p := range st.products {
			if p.SKU == sku {
				p := p
				out = &p
				return nil
			}
		}
		return notFoundf("get product by sku %s", sku)
	})
	return out, err
}

// ProductNames implements repository.CatalogRepository.
func (s *Store) ProductNames(_ context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	err := s.view("ProductNames", func(st *state) error {
		for _, id := range ids {
			if p, ok := st.products[id]; ok {
				names[id] = p.Name
			}
		}
		return nil
	})
	return names, err
}

// GetWarehouse implements repository.CatalogRepository.
func (s *Store) GetWarehouse(_ context.Context, id string) (*domain.Warehouse, error) {
	var out domain.Warehouse
	err := s.view("GetWarehouse", func(st *state) error {
		w, ok := st.warehouses[id]
		if !ok {
			return notFoundf("get warehouse %s", id)
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetWarehouseByCode implements repository.CatalogRepository.
func (s *Store) GetWarehouseByCode(_ context.Context, code string) (*domain.Warehouse, error) {
	var out *domain.Warehouse
	err := s.view("GetWarehouseByCode", func(st *state) error {
		for _, w := range st.warehouses {
			if w.Code == code {
				w := w
				out = &w
				return nil
			}
		}
		return notFoundf("get warehouse by code %s", code)
	})
	return out, err
}

func (s *Store) updateProduct(op, id string, fn func(p *domain.Product)) error {
	return s.view(op, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return notFoundf("%s: product %s", op, id)
		}
		fn(&p)
		p.UpdatedAt = s.sh.now()
		st.products[id] = p
		return nil
	})
}

// ApplySale implements repository.CatalogRepository.
func (s *Store) ApplySale(_ context.Context, productID string, quantity int) error {
	return s.updateProduct("ApplySale", productID, func(p *domain.Product) {
		p.Stock -= quantity
		p.SoldCount += quantity
	})
}

// SetCachedStock implements repository.CatalogRepository.
func (s *Store) SetCachedStock(_ context.Context, productID string, stock int) error {
	return s.updateProduct("SetCachedStock", productID, func(p *domain.Product) {
		p.Stock = stock
	})
}

// ReconcileStockCache implements repository.CatalogRepository.
func (s *Store) ReconcileStockCache(_ context.Context) (int, error) {
	changed := 0
	err := s.view("ReconcileStockCache", func(st *state) error {
		totals := make(map[string]int, len(st.products))
		for _, inv := range st.inventory {
			totals[inv.ProductID] += inv.Quantity
		}
		for id, p := range st.products {
			if p.Stock != totals[id] {
				p.Stock = totals[id]
				p.UpdatedAt = s.sh.now()
				st.products[id] = p
				changed++
			}
		}
		return nil
	})
	return changed, err
}

// ListLowStock implements repository.CatalogRepository.
func (s *Store) ListLowStock(_ context.Context, limit, offset int) ([]domain.LowStockProduct, int, error) {
	var all []domain.LowStockProduct
	err := s.view("ListLowStock", func(st *state) error {
		for _, p := range st.products {
			if p.IsActive && p.IsLowStock() {
				all = append(all, domain.LowStockProduct{ID: p.ID, Name: p.Name, Stock: p.Stock, Threshold: p.LowStockThreshold})
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Stock != all[j].Stock {
			return all[i].Stock < all[j].Stock
		}
		return all[i].Name < all[j].Name
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}
