package memory

import (
	"context"
	"sync"

	"github.com/gamevault/api/internal/domain"
	"github.com/gamevault/api/internal/repositories"
)

// CatalogRepository keeps products in a map.
type CatalogRepository struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

func NewCatalogRepository(seed ...domain.Product) *CatalogRepository {
	r := &CatalogRepository{products: make(map[string]domain.Product, len(seed))}
	for _, p := range seed {
		r.Upsert(p)
	}
	return r
}

// Upsert stores p, replacing any product with the same id.
func (r *CatalogRepository) Upsert(p domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = cloneProduct(p)
}

func (r *CatalogRepository) GetProduct(_ context.Context, id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return domain.Product{}, notFound("catalog.get", "product %q not found", id)
	}
	return cloneProduct(p), nil
}

func (r *CatalogRepository) DecrementStock(_ context.Context, lines []repositories.StockLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Quantity > 0 {
			wanted[line.ProductID] += line.Quantity
		}
	}
	for id, qty := range wanted {
		p, ok := r.products[id]
		if !ok {
			return notFound("catalog.decrement", "product %q not found", id)
		}
		if p.Stock != nil && *p.Stock < qty {
			return &repositories.StockError{ProductID: id, Requested: qty, Available: *p.Stock}
		}
	}
	for id, qty := range wanted {
		p := r.products[id]
		if p.Stock == nil {
			continue
		}
		left := *p.Stock - qty
		p.Stock = &left
		r.products[id] = p
	}
	return nil
}

func cloneProduct(p domain.Product) domain.Product {
	if p.Stock != nil {
		stock := *p.Stock
		p.Stock = &stock
	}
	return p
}
