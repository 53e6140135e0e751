package repositories

import (
	"context"
	"time"

	"github.com/gamevault/api/internal/domain"
	"github.com/gamevault/api/internal/platform/pagination"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogRepository reads catalogue entries and applies stock movements.
type CatalogRepository interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	// DecrementStock applies every line or none. Lines for untracked products are skipped.
	// Insufficient stock fails with *StockError.
	DecrementStock(ctx context.Context, lines []StockLine) error
}

// StockLine is one stock movement.
type StockLine struct {
	ProductID string
	Quantity  int
}

// PaymentRepository persists checkout attempts keyed by external reference. Update runs mutate
// inside a read-modify-write transaction and stores the result only when mutate returns nil.
type PaymentRepository interface {
	Insert(ctx context.Context, record domain.PaymentRecord) error
	Update(ctx context.Context, externalReference string, mutate func(*domain.PaymentRecord) error) (domain.PaymentRecord, error)
	Get(ctx context.Context, externalReference string) (domain.PaymentRecord, error)
}

// ServiceOrderRepository persists repair orders. Update runs mutate inside a read-modify-write
// transaction and stores the result only when mutate returns nil.
type ServiceOrderRepository interface {
	Insert(ctx context.Context, order domain.ServiceOrder) error
	Update(ctx context.Context, id string, mutate func(*domain.ServiceOrder) error) (domain.ServiceOrder, error)
	Get(ctx context.Context, id string) (domain.ServiceOrder, error)
	List(ctx context.Context, filter ServiceOrderFilter) (ServiceOrderPage, error)
	// Delete removes the order when guard accepts its current state. A nil guard always accepts.
	Delete(ctx context.Context, id string, guard func(domain.ServiceOrder) error) error
}

// ServiceOrderFilter narrows List. Results are ordered by UpdatedAt descending.
type ServiceOrderFilter struct {
	ClientID  string
	Status    domain.ServiceOrderStatus
	PageSize  int
	PageToken string
}

// ServiceOrderPage is one page of List results.
type ServiceOrderPage struct {
	Items         []domain.ServiceOrder
	NextPageToken string
}

// HealthRepository reports dependency health for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// ServiceOrderCursor is the position encoded in ServiceOrderPage.NextPageToken.
type ServiceOrderCursor struct {
	UpdatedAt time.Time `json:"u"`
	ID        string    `json:"i"`
}

// EncodeServiceOrderCursor builds the next page token after order.
func EncodeServiceOrderCursor(order domain.ServiceOrder) (string, error) {
	return pagination.EncodeToken(ServiceOrderCursor{UpdatedAt: order.UpdatedAt, ID: order.ID})
}

// DecodeServiceOrderCursor parses a token. An empty token yields the zero cursor.
func DecodeServiceOrderCursor(token string) (ServiceOrderCursor, error) {
	var cursor ServiceOrderCursor
	err := pagination.DecodeToken(token, &cursor)
	return cursor, err
}
