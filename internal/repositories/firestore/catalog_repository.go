package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/gamevault/api/internal/domain"
	pfirestore "github.com/gamevault/api/internal/platform/firestore"
	"github.com/gamevault/api/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Type      string    `firestore:"type"`
	Name      string    `firestore:"name"`
	Price     int64     `firestore:"price"`
	Currency  string    `firestore:"currency"`
	Image     string    `firestore:"image,omitempty"`
	Stock     *int64    `firestore:"stock"`
	Active    bool      `firestore:"active"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	product := domain.Product{
		ID:        id,
		Type:      domain.ItemType(d.Type),
		Name:      d.Name,
		Price:     d.Price,
		Currency:  d.Currency,
		Image:     d.Image,
		Active:    d.Active,
		UpdatedAt: d.UpdatedAt,
	}
	if d.Stock != nil {
		stock := int(*d.Stock)
		product.Stock = &stock
	}
	return product
}

// CatalogRepository reads products, courses and services from the products collection.
type CatalogRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[productDocument]
	now      func() time.Time
}

// NewCatalogRepository binds the repository to provider.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		provider: provider,
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
		now:      time.Now,
	}, nil
}

func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(id), nil
}

// DecrementStock reads every tracked product first and writes afterwards, as Firestore
// transactions require.
func (r *CatalogRepository) DecrementStock(ctx context.Context, lines []repositories.StockLine) error {
	wanted := make(map[string]int, len(lines))
	var order []string
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		if _, seen := wanted[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		wanted[line.ProductID] += line.Quantity
	}
	if len(order) == 0 {
		return nil
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs := make([]*firestore.DocumentRef, 0, len(order))
		for _, id := range order {
			ref, err := r.products.Doc(ctx, id)
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}

		type write struct {
			ref   *firestore.DocumentRef
			stock int64
		}
		writes := make([]write, 0, len(snaps))
		for i, snap := range snaps {
			id := order[i]
			if !snap.Exists() {
				return pfirestore.NotFound("products.decrement", "product %s not found", id)
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Stock == nil {
				continue
			}
			if *doc.Stock < int64(wanted[id]) {
				return &repositories.StockError{ProductID: id, Requested: wanted[id], Available: int(*doc.Stock)}
			}
			writes = append(writes, write{ref: refs[i], stock: *doc.Stock - int64(wanted[id])})
		}

		now := r.now().UTC()
		for _, w := range writes {
			if err := tx.Update(w.ref, []firestore.Update{
				{Path: "stock", Value: w.stock},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
