package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status is the normalised outcome of a charge attempt, shared across processors.
type Status string

const (
	// StatusApproved means the funds were captured.
	StatusApproved Status = "approved"
	// StatusPending means the processor is still deciding (3DS, review, async rails).
	StatusPending Status = "pending"
	// StatusRejected means the charge was declined and will not complete.
	StatusRejected Status = "rejected"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a processor.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrPaymentNotFound is returned by Lookup for unknown payment ids.
var ErrPaymentNotFound = errors.New("payments: payment not found")

// ErrProcessorUnavailable wraps failures where the processor could not be reached or is shedding load.
var ErrProcessorUnavailable = errors.New("payments: processor unavailable")

// ChargeRequest is the tokenised card submission plus the server-computed amount.
type ChargeRequest struct {
	ExternalReference string
	Amount            int64
	Currency          string
	Token             string
	PaymentMethodID   string
	IssuerID          string
	Installments      int
	PayerEmail        string
	Description       string
	IdempotencyKey    string
	Metadata          map[string]string
}

// ChargeResult is the processor verdict. Declines are results, not errors.
type ChargeResult struct {
	Provider     string
	PaymentID    string
	Status       Status
	StatusDetail string
	Amount       int64
	Currency     string
}

// Processor charges tokenised payment data. Implementations return an error only when the
// outcome is unknown (transport failure, misconfiguration).
type Processor interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Lookup(ctx context.Context, paymentID string) (ChargeResult, error)
}

// Manager coordinates processor selection.
type Manager struct {
	providers       map[string]Processor
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default processor for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to processor mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied processors.
func NewManager(providers map[string]Processor, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Processor, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{providers: registered}
	if _, ok := registered["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a processor.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolve(ctx PaymentContext) (string, Processor, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if providerKey, ok := m.currencyRoutes[currency]; ok && currency != "" {
		provider := strings.TrimSpace(strings.ToLower(providerKey))
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Charge delegates to the resolved processor and stamps the provider key on the result.
func (m *Manager) Charge(ctx context.Context, paymentCtx PaymentContext, req ChargeRequest) (ChargeResult, error) {
	key, processor, err := m.resolve(paymentCtx)
	if err != nil {
		return ChargeResult{}, err
	}
	result, err := processor.Charge(ctx, req)
	if err != nil {
		return ChargeResult{}, err
	}
	result.Provider = key
	return result, nil
}

// Lookup asks the processor that handled paymentID for its current status.
func (m *Manager) Lookup(ctx context.Context, paymentCtx PaymentContext, paymentID string) (ChargeResult, error) {
	key, processor, err := m.resolve(paymentCtx)
	if err != nil {
		return ChargeResult{}, err
	}
	result, err := processor.Lookup(ctx, paymentID)
	if err != nil {
		return ChargeResult{}, err
	}
	result.Provider = key
	return result, nil
}
