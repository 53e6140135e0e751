package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/gamevault/api/internal/domain"
	pfirestore "github.com/gamevault/api/internal/platform/firestore"
	"github.com/gamevault/api/internal/platform/pagination"
	"github.com/gamevault/api/internal/repositories"
)

const serviceOrdersCollection = "serviceOrders"

type quotationDocument struct {
	Amount     int64     `firestore:"amount"`
	Currency   string    `firestore:"currency"`
	Notes      string    `firestore:"notes,omitempty"`
	AttachedBy string    `firestore:"attachedBy"`
	AttachedAt time.Time `firestore:"attachedAt"`
}

type transitionDocument struct {
	From      string    `firestore:"from"`
	To        string    `firestore:"to"`
	ActorID   string    `firestore:"actorId"`
	ChangedAt time.Time `firestore:"changedAt"`
}

type commentDocument struct {
	ID        string    `firestore:"id"`
	Text      string    `firestore:"text"`
	Author    string    `firestore:"author"`
	AuthorID  string    `firestore:"authorId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type serviceOrderDocument struct {
	ID               string               `firestore:"id"`
	ClientID         string               `firestore:"clientId"`
	Description      string               `firestore:"description"`
	AdminDescription *string              `firestore:"adminDescription"`
	AdminImages      []string             `firestore:"adminImages"`
	Quotation        *quotationDocument   `firestore:"quotation"`
	Status           string               `firestore:"status"`
	History          []transitionDocument `firestore:"history"`
	Comments         []commentDocument    `firestore:"comments"`
	CreatedAt        time.Time            `firestore:"createdAt"`
	UpdatedAt        time.Time            `firestore:"updatedAt"`
}

func newServiceOrderDocument(order domain.ServiceOrder) serviceOrderDocument {
	doc := serviceOrderDocument{
		ID:               order.ID,
		ClientID:         order.ClientID,
		Description:      order.Description,
		AdminDescription: order.AdminDescription,
		AdminImages:      append([]string{}, order.AdminImages...),
		Status:           string(order.Status),
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
	if q := order.Quotation; q != nil {
		doc.Quotation = &quotationDocument{Amount: q.Amount, Currency: q.Currency, Notes: q.Notes, AttachedBy: q.AttachedBy, AttachedAt: q.AttachedAt.UTC()}
	}
	for _, h := range order.History {
		doc.History = append(doc.History, transitionDocument{From: string(h.From), To: string(h.To), ActorID: h.ActorID, ChangedAt: h.ChangedAt.UTC()})
	}
	for _, c := range order.Comments {
		doc.Comments = append(doc.Comments, commentDocument{ID: c.ID, Text: c.Text, Author: string(c.Author), AuthorID: c.AuthorID, CreatedAt: c.CreatedAt.UTC()})
	}
	return doc
}

func (d serviceOrderDocument) toDomain() domain.ServiceOrder {
	order := domain.ServiceOrder{
		ID:               d.ID,
		ClientID:         d.ClientID,
		Description:      d.Description,
		AdminDescription: d.AdminDescription,
		AdminImages:      d.AdminImages,
		Status:           domain.ServiceOrderStatus(d.Status),
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if q := d.Quotation; q != nil {
		order.Quotation = &domain.Quotation{Amount: q.Amount, Currency: q.Currency, Notes: q.Notes, AttachedBy: q.AttachedBy, AttachedAt: q.AttachedAt}
	}
	for _, h := range d.History {
		order.History = append(order.History, domain.ServiceOrderTransition{From: domain.ServiceOrderStatus(h.From), To: domain.ServiceOrderStatus(h.To), ActorID: h.ActorID, ChangedAt: h.ChangedAt})
	}
	for _, c := range d.Comments {
		order.Comments = append(order.Comments, domain.ServiceOrderComment{ID: c.ID, Text: c.Text, Author: domain.CommentAuthor(c.Author), AuthorID: c.AuthorID, CreatedAt: c.CreatedAt})
	}
	return order
}

// ServiceOrderRepository stores repair orders with their comment log inline.
type ServiceOrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[serviceOrderDocument]
}

func NewServiceOrderRepository(provider *pfirestore.Provider) (*ServiceOrderRepository, error) {
	if provider == nil {
		return nil, errors.New("service order repository requires firestore provider")
	}
	return &ServiceOrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[serviceOrderDocument](provider, serviceOrdersCollection),
	}, nil
}

func (r *ServiceOrderRepository) Insert(ctx context.Context, order domain.ServiceOrder) error {
	return r.orders.Create(ctx, order.ID, newServiceOrderDocument(order))
}

func (r *ServiceOrderRepository) Get(ctx context.Context, id string) (domain.ServiceOrder, error) {
	doc, err := r.orders.Get(ctx, id)
	if err != nil {
		return domain.ServiceOrder{}, err
	}
	return doc.toDomain(), nil
}

func (r *ServiceOrderRepository) Update(ctx context.Context, id string, mutate func(*domain.ServiceOrder) error) (domain.ServiceOrder, error) {
	var updated domain.ServiceOrder
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.orders.TxGet(ctx, tx, id)
		if err != nil {
			return err
		}
		order := doc.toDomain()
		if err := mutate(&order); err != nil {
			return err
		}
		ref, err := r.orders.Doc(ctx, id)
		if err != nil {
			return err
		}
		updated = order
		return tx.Set(ref, newServiceOrderDocument(order))
	})
	if err != nil {
		return domain.ServiceOrder{}, err
	}
	return updated, nil
}

func (r *ServiceOrderRepository) Delete(ctx context.Context, id string, guard func(domain.ServiceOrder) error) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.orders.TxGet(ctx, tx, id)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(doc.toDomain()); err != nil {
				return err
			}
		}
		ref, err := r.orders.Doc(ctx, id)
		if err != nil {
			return err
		}
		return tx.Delete(ref)
	})
}

func (r *ServiceOrderRepository) List(ctx context.Context, filter repositories.ServiceOrderFilter) (repositories.ServiceOrderPage, error) {
	cursor, err := repositories.DecodeServiceOrderCursor(filter.PageToken)
	if err != nil {
		return repositories.ServiceOrderPage{}, err
	}
	size := filter.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ClientID != "" {
			q = q.Where("clientId", "==", filter.ClientID)
		}
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		q = q.OrderBy("updatedAt", firestore.Desc).OrderBy("id", firestore.Desc)
		if cursor.ID != "" {
			q = q.StartAfter(cursor.UpdatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return repositories.ServiceOrderPage{}, err
	}

	page := repositories.ServiceOrderPage{}
	for i, doc := range docs {
		if i == size {
			token, err := repositories.EncodeServiceOrderCursor(page.Items[size-1])
			if err != nil {
				return repositories.ServiceOrderPage{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, doc.toDomain())
	}
	return page, nil
}
