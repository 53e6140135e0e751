package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/gamevault/api/internal/domain"
)

// PaymentRepository keeps payment records keyed by external reference. Update holds the write
// lock while mutate runs.
type PaymentRepository struct {
	mu      sync.RWMutex
	records map[string]domain.PaymentRecord
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{records: make(map[string]domain.PaymentRecord)}
}

func (r *PaymentRepository) Insert(_ context.Context, record domain.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[record.ExternalReference]; ok {
		return conflict("payments.insert", "payment %q already exists", record.ExternalReference)
	}
	r.records[record.ExternalReference] = clonePayment(record)
	return nil
}

func (r *PaymentRepository) Update(_ context.Context, externalReference string, mutate func(*domain.PaymentRecord) error) (domain.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[externalReference]
	if !ok {
		return domain.PaymentRecord{}, notFound("payments.update", "payment %q not found", externalReference)
	}
	record := clonePayment(current)
	if err := mutate(&record); err != nil {
		return domain.PaymentRecord{}, err
	}
	record.ExternalReference = externalReference
	r.records[externalReference] = clonePayment(record)
	return record, nil
}

func (r *PaymentRepository) Get(_ context.Context, externalReference string) (domain.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[externalReference]
	if !ok {
		return domain.PaymentRecord{}, notFound("payments.get", "payment %q not found", externalReference)
	}
	return clonePayment(record), nil
}

func clonePayment(record domain.PaymentRecord) domain.PaymentRecord {
	record.Items = slices.Clone(record.Items)
	return record
}
