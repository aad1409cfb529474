package memory

import (
	"context"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
)

var _ repository.SeedRepository = (*Store)(nil)

// InsertWarehouse implements repository.SeedRepository.
func (s *Store) InsertWarehouse(_ context.Context, w *domain.Warehouse) (bool, error) {
	inserted := false
	err := s.view("InsertWarehouse", func(st *state) error {
		if _, ok := st.warehouses[w.ID]; ok {
			return nil
		}
		for _, existing := range st.warehouses {
			if existing.Code == w.Code {
				return nil
			}
		}
		st.warehouses[w.ID] = *w
		inserted = true
		return nil
	})
	return inserted, err
}

// InsertProduct implements repository.SeedRepository.
func (s *Store) InsertProduct(_ context.Context, p *domain.Product) (bool, error) {
	inserted := false
	err := s.view("InsertProduct", func(st *state) error {
		if _, ok := st.products[p.ID]; ok {
			return nil
		}
		for _, existing := range st.products {
			if existing.SKU == p.SKU {
				return nil
			}
		}
		st.products[p.ID] = *p
		inserted = true
		return nil
	})
	return inserted, err
}
