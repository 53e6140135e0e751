package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/gamevault/api/internal/domain"
	"github.com/gamevault/api/internal/platform/pagination"
	"github.com/gamevault/api/internal/repositories"
)

// ServiceOrderRepository keeps service orders in a map. Update holds the write lock while mutate runs.
type ServiceOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.ServiceOrder
}

func NewServiceOrderRepository() *ServiceOrderRepository {
	return &ServiceOrderRepository{orders: make(map[string]domain.ServiceOrder)}
}

func (r *ServiceOrderRepository) Insert(_ context.Context, order domain.ServiceOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return conflict("service_orders.insert", "service order %q already exists", order.ID)
	}
	r.orders[order.ID] = cloneServiceOrder(order)
	return nil
}

func (r *ServiceOrderRepository) Get(_ context.Context, id string) (domain.ServiceOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[id]
	if !ok {
		return domain.ServiceOrder{}, notFound("service_orders.get", "service order %q not found", id)
	}
	return cloneServiceOrder(order), nil
}

func (r *ServiceOrderRepository) Update(_ context.Context, id string, mutate func(*domain.ServiceOrder) error) (domain.ServiceOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.orders[id]
	if !ok {
		return domain.ServiceOrder{}, notFound("service_orders.update", "service order %q not found", id)
	}
	order := cloneServiceOrder(current)
	if err := mutate(&order); err != nil {
		return domain.ServiceOrder{}, err
	}
	r.orders[id] = cloneServiceOrder(order)
	return order, nil
}

func (r *ServiceOrderRepository) Delete(_ context.Context, id string, guard func(domain.ServiceOrder) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.orders[id]
	if !ok {
		return notFound("service_orders.delete", "service order %q not found", id)
	}
	if guard != nil {
		if err := guard(cloneServiceOrder(current)); err != nil {
			return err
		}
	}
	delete(r.orders, id)
	return nil
}

func (r *ServiceOrderRepository) List(_ context.Context, filter repositories.ServiceOrderFilter) (repositories.ServiceOrderPage, error) {
	cursor, err := repositories.DecodeServiceOrderCursor(filter.PageToken)
	if err != nil {
		return repositories.ServiceOrderPage{}, err
	}
	size := filter.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	r.mu.RLock()
	matches := make([]domain.ServiceOrder, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.ClientID != "" && order.ClientID != filter.ClientID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		matches = append(matches, cloneServiceOrder(order))
	}
	r.mu.RUnlock()

	slices.SortFunc(matches, compareServiceOrders)

	start := 0
	if cursor.ID != "" {
		start = len(matches)
		for i, order := range matches {
			if compareServiceOrders(order, domain.ServiceOrder{ID: cursor.ID, UpdatedAt: cursor.UpdatedAt}) > 0 {
				start = i
				break
			}
		}
	}
	matches = matches[start:]

	page := repositories.ServiceOrderPage{}
	if len(matches) > size {
		matches = matches[:size]
		token, err := repositories.EncodeServiceOrderCursor(matches[size-1])
		if err != nil {
			return repositories.ServiceOrderPage{}, err
		}
		page.NextPageToken = token
	}
	page.Items = matches
	return page, nil
}

// compareServiceOrders orders by UpdatedAt then ID, both descending.
func compareServiceOrders(a, b domain.ServiceOrder) int {
	if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

func cloneServiceOrder(order domain.ServiceOrder) domain.ServiceOrder {
	if order.AdminDescription != nil {
		desc := *order.AdminDescription
		order.AdminDescription = &desc
	}
	if order.Quotation != nil {
		q := *order.Quotation
		order.Quotation = &q
	}
	order.AdminImages = slices.Clone(order.AdminImages)
	order.History = slices.Clone(order.History)
	order.Comments = slices.Clone(order.Comments)
	return order
}
