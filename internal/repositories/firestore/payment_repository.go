package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/gamevault/api/internal/domain"
	pfirestore "github.com/gamevault/api/internal/platform/firestore"
)

const paymentsCollection = "payments"

type paymentLineDocument struct {
	ID        string `firestore:"id"`
	Type      string `firestore:"type"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
}

type paymentDocument struct {
	UserID       string                `firestore:"userId"`
	PayerEmail   string                `firestore:"payerEmail"`
	Description  string                `firestore:"description"`
	Currency     string                `firestore:"currency"`
	Amount       int64                 `firestore:"amount"`
	Items        []paymentLineDocument `firestore:"items"`
	Status       string                `firestore:"status"`
	StatusDetail string                `firestore:"statusDetail,omitempty"`
	Provider     string                `firestore:"provider,omitempty"`
	ProviderRef  string                `firestore:"providerRef,omitempty"`
	Attempts     int                   `firestore:"attempts"`
	StockApplied bool                  `firestore:"stockApplied"`
	NeedsReview  bool                  `firestore:"needsReview"`
	CreatedAt    time.Time             `firestore:"createdAt"`
	UpdatedAt    time.Time             `firestore:"updatedAt"`
}

func newPaymentDocument(record domain.PaymentRecord) paymentDocument {
	items := make([]paymentLineDocument, 0, len(record.Items))
	for _, line := range record.Items {
		items = append(items, paymentLineDocument{
			ID:        line.ID,
			Type:      string(line.Type),
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}
	return paymentDocument{
		UserID:       record.UserID,
		PayerEmail:   record.PayerEmail,
		Description:  record.Description,
		Currency:     record.Currency,
		Amount:       record.Amount,
		Items:        items,
		Status:       string(record.Status),
		StatusDetail: record.StatusDetail,
		Provider:     record.Provider,
		ProviderRef:  record.ProviderRef,
		Attempts:     record.Attempts,
		StockApplied: record.StockApplied,
		NeedsReview:  record.NeedsReview,
		CreatedAt:    record.CreatedAt.UTC(),
		UpdatedAt:    record.UpdatedAt.UTC(),
	}
}

func (d paymentDocument) toDomain(ref string) domain.PaymentRecord {
	items := make([]domain.PaymentLine, 0, len(d.Items))
	for _, line := range d.Items {
		items = append(items, domain.PaymentLine{
			ID:        line.ID,
			Type:      domain.ItemType(line.Type),
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}
	return domain.PaymentRecord{
		ExternalReference: ref,
		UserID:            d.UserID,
		PayerEmail:        d.PayerEmail,
		Description:       d.Description,
		Currency:          d.Currency,
		Amount:            d.Amount,
		Items:             items,
		Status:            domain.PaymentStatus(d.Status),
		StatusDetail:      d.StatusDetail,
		Provider:          d.Provider,
		ProviderRef:       d.ProviderRef,
		Attempts:          d.Attempts,
		StockApplied:      d.StockApplied,
		NeedsReview:       d.NeedsReview,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// PaymentRepository stores payment records keyed by external reference.
type PaymentRepository struct {
	provider *pfirestore.Provider
	payments *pfirestore.Collection[paymentDocument]
}

func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{
		provider: provider,
		payments: pfirestore.NewCollection[paymentDocument](provider, paymentsCollection),
	}, nil
}

func (r *PaymentRepository) Insert(ctx context.Context, record domain.PaymentRecord) error {
	return r.payments.Create(ctx, record.ExternalReference, newPaymentDocument(record))
}

func (r *PaymentRepository) Update(ctx context.Context, externalReference string, mutate func(*domain.PaymentRecord) error) (domain.PaymentRecord, error) {
	var updated domain.PaymentRecord
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.payments.TxGet(ctx, tx, externalReference)
		if err != nil {
			return err
		}
		record := doc.toDomain(externalReference)
		if err := mutate(&record); err != nil {
			return err
		}
		ref, err := r.payments.Doc(ctx, externalReference)
		if err != nil {
			return err
		}
		record.ExternalReference = externalReference
		updated = record
		return tx.Set(ref, newPaymentDocument(record))
	})
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	return updated, nil
}

func (r *PaymentRepository) Get(ctx context.Context, externalReference string) (domain.PaymentRecord, error) {
	doc, err := r.payments.Get(ctx, externalReference)
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	return doc.toDomain(externalReference), nil
}
