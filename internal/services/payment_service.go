package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gamevault/api/internal/domain"
	"github.com/gamevault/api/internal/payments"
	"github.com/gamevault/api/internal/repositories"
)

const (
	maxPaymentLines        = 50
	maxPaymentLineQuantity = 99
	paymentMeterName       = "github.com/gamevault/api/internal/services"
	// paymentClaimTTL bounds how long a processing claim blocks other callers after a crash.
	paymentClaimTTL = 2 * time.Minute
)

var (
	// ErrPaymentInvalidInput indicates the caller supplied invalid input.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the payment reference is unknown to the caller.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentOutOfStock indicates a tracked product cannot cover the requested quantity.
	ErrPaymentOutOfStock = errors.New("payment: out of stock")
	// ErrPaymentAmountMismatch indicates the submitted amount differs from the issued intent.
	ErrPaymentAmountMismatch = errors.New("payment: amount does not match intent")
	// ErrPaymentUnavailable indicates the processor or data backend could not be reached.
	ErrPaymentUnavailable = errors.New("payment: unavailable")
	// ErrPaymentConflict indicates a concurrent write to the same payment record.
	ErrPaymentConflict = errors.New("payment: conflict")
)

// PaymentProcessor is the subset of payments.Manager used to charge and reconcile.
type PaymentProcessor interface {
	Charge(ctx context.Context, paymentCtx payments.PaymentContext, req payments.ChargeRequest) (payments.ChargeResult, error)
	Lookup(ctx context.Context, paymentCtx payments.PaymentContext, paymentID string) (payments.ChargeResult, error)
}

// PaymentServiceDeps wires the collaborators of create-payment and process-payment.
type PaymentServiceDeps struct {
	Catalog     repositories.CatalogRepository
	Payments    repositories.PaymentRepository
	Processor   PaymentProcessor
	Events      EventPublisher
	Meter       metric.Meter
	Clock       func() time.Time
	IDGenerator func() string
	Currency    string
	Description string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	catalog     repositories.CatalogRepository
	payments    repositories.PaymentRepository
	processor   PaymentProcessor
	events      EventPublisher
	outcomes    metric.Int64Counter
	now         func() time.Time
	newID       func() string
	currency    string
	description string
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentService validates dependencies and builds the payment service.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("payment service: catalog repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Processor == nil {
		return nil, errors.New("payment service: processor is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(paymentMeterName)
	}
	outcomes, err := meter.Int64Counter("payments.outcomes",
		metric.WithDescription("Payment attempts by processor outcome"),
		metric.WithUnit("{payment}"),
	)
	if err != nil {
		return nil, fmt.Errorf("payment service: create counter: %w", err)
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "ARS"
	}
	description := strings.TrimSpace(deps.Description)
	if description == "" {
		description = "GameVault order"
	}

	return &paymentService{
		catalog:     deps.Catalog,
		payments:    deps.Payments,
		processor:   deps.Processor,
		events:      deps.Events,
		outcomes:    outcomes,
		now:         func() time.Time { return clock().UTC() },
		newID:       idGen,
		currency:    currency,
		description: description,
		logger:      logger,
	}, nil
}

// CreatePayment prices the items from the catalogue and records an intent. Client prices never
// reach this point.
func (s *paymentService) CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (PaymentIntent, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PaymentIntent{}, fmt.Errorf("%w: user id is required", ErrPaymentInvalidInput)
	}
	email, err := normalisePayerEmail(cmd.PayerEmail)
	if err != nil {
		return PaymentIntent{}, err
	}
	requested, err := mergePaymentItems(cmd.Items)
	if err != nil {
		return PaymentIntent{}, err
	}

	lines := make([]domain.PaymentLine, 0, len(requested))
	var amount int64
	for _, item := range requested {
		product, err := s.catalog.GetProduct(ctx, item.ID)
		if err != nil {
			if isRepoNotFound(err) {
				return PaymentIntent{}, fmt.Errorf("%w: unknown item %s", ErrPaymentInvalidInput, item.ID)
			}
			return PaymentIntent{}, s.translateRepoError(err)
		}
		if !product.Active {
			return PaymentIntent{}, fmt.Errorf("%w: item %s is not for sale", ErrPaymentInvalidInput, item.ID)
		}
		if product.TracksStock() && *product.Stock < item.Quantity {
			return PaymentIntent{}, outOfStock(product.ID, item.Quantity, *product.Stock)
		}
		lines = append(lines, domain.PaymentLine{
			ID:        product.ID,
			Type:      product.Type,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  item.Quantity,
		})
		amount += product.Price * int64(item.Quantity)
	}
	if amount <= 0 {
		return PaymentIntent{}, fmt.Errorf("%w: order total must be positive", ErrPaymentInvalidInput)
	}

	now := s.now()
	record := domain.PaymentRecord{
		ExternalReference: s.newID(),
		UserID:            userID,
		PayerEmail:        email,
		Description:       s.describe(lines),
		Currency:          s.currency,
		Amount:            amount,
		Items:             lines,
		Status:            domain.PaymentStatusCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.payments.Insert(ctx, record); err != nil {
		return PaymentIntent{}, s.translateRepoError(err)
	}

	s.logger(ctx, "payment.intent_created", map[string]any{
		"externalReference": record.ExternalReference,
		"userID":            userID,
		"amount":            amount,
		"lines":             len(lines),
	})

	return PaymentIntent{
		Amount:            record.Amount,
		Currency:          record.Currency,
		PayerEmail:        record.PayerEmail,
		Description:       record.Description,
		ExternalReference: record.ExternalReference,
	}, nil
}

// ProcessPayment charges the tokenised submission against a previously issued intent. The record
// is claimed before the charge so that concurrent submissions for one reference never reach the
// processor twice.
func (s *paymentService) ProcessPayment(ctx context.Context, cmd ProcessPaymentCommand) (PaymentOutcome, error) {
	reference := strings.TrimSpace(cmd.ExternalReference)
	if reference == "" {
		return PaymentOutcome{}, fmt.Errorf("%w: external_reference is required", ErrPaymentInvalidInput)
	}
	token := strings.TrimSpace(cmd.Token)
	if token == "" && strings.TrimSpace(cmd.PaymentMethodID) == "" {
		return PaymentOutcome{}, fmt.Errorf("%w: token is required", ErrPaymentInvalidInput)
	}
	if cmd.Installments < 0 {
		return PaymentOutcome{}, fmt.Errorf("%w: installments must not be negative", ErrPaymentInvalidInput)
	}

	record, err := s.loadOwned(ctx, cmd.UserID, reference)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if record.Status == domain.PaymentStatusApproved {
		return outcomeOf(record), nil
	}
	if cmd.TransactionAmount != record.Amount {
		return PaymentOutcome{}, fmt.Errorf("%w: got %d, intent %d", ErrPaymentAmountMismatch, cmd.TransactionAmount, record.Amount)
	}
	if len(cmd.Items) > 0 {
		submitted, err := mergePaymentItems(cmd.Items)
		if err != nil {
			return PaymentOutcome{}, err
		}
		if !sameLines(submitted, record.Items) {
			return PaymentOutcome{}, fmt.Errorf("%w: items changed since the intent was issued", ErrPaymentInvalidInput)
		}
	}

	claim, err := s.claim(ctx, reference, true)
	if err != nil {
		if errors.Is(err, errPaymentSettled) {
			return outcomeOf(claim.record), nil
		}
		return PaymentOutcome{}, err
	}
	if err := s.checkStock(ctx, claim.record.Items); err != nil {
		s.release(ctx, claim)
		return PaymentOutcome{}, err
	}

	email := claim.record.PayerEmail
	if override, err := normalisePayerEmail(cmd.PayerEmail); err == nil && override != "" {
		email = override
	}

	result, err := s.processor.Charge(ctx, payments.PaymentContext{Currency: claim.record.Currency}, payments.ChargeRequest{
		ExternalReference: reference,
		Amount:            claim.record.Amount,
		Currency:          claim.record.Currency,
		Token:             token,
		PaymentMethodID:   strings.TrimSpace(cmd.PaymentMethodID),
		IssuerID:          strings.TrimSpace(cmd.IssuerID),
		Installments:      cmd.Installments,
		PayerEmail:        email,
		Description:       claim.record.Description,
		IdempotencyKey:    reference + ":" + strconv.Itoa(claim.record.Attempts),
		Metadata:          map[string]string{"user_id": claim.record.UserID},
	})
	if err != nil {
		s.release(ctx, claim)
		s.recordOutcome(ctx, "error")
		s.logger(ctx, "payment.charge_failed", map[string]any{
			"externalReference": reference,
			"attempt":           claim.record.Attempts,
			"submissionKey":     strings.TrimSpace(cmd.IdempotencyKey),
			"error":             err.Error(),
		})
		return PaymentOutcome{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	record = s.applyResult(ctx, claim, result)
	return outcomeOf(record), nil
}

// GetPayment returns the record for the result page. Pending payments are reconciled with the
// processor first. An empty userID skips the ownership check.
func (s *paymentService) GetPayment(ctx context.Context, userID, externalReference string) (PaymentRecord, error) {
	reference := strings.TrimSpace(externalReference)
	if reference == "" {
		return PaymentRecord{}, fmt.Errorf("%w: external reference is required", ErrPaymentInvalidInput)
	}
	var (
		record domain.PaymentRecord
		err    error
	)
	if strings.TrimSpace(userID) == "" {
		record, err = s.payments.Get(ctx, reference)
		if err != nil {
			return PaymentRecord{}, s.translateRepoError(err)
		}
	} else if record, err = s.loadOwned(ctx, userID, reference); err != nil {
		return PaymentRecord{}, err
	}

	if record.Status != domain.PaymentStatusPending || record.ProviderRef == "" {
		return record, nil
	}
	claim, err := s.claim(ctx, reference, false)
	if err != nil {
		// Someone else is already reconciling or processing; show what is stored.
		if claim.record.ExternalReference != "" {
			return claim.record, nil
		}
		return record, nil
	}
	result, err := s.processor.Lookup(ctx, payments.PaymentContext{PreferredProvider: claim.record.Provider, Currency: claim.record.Currency}, claim.record.ProviderRef)
	if err != nil {
		s.release(ctx, claim)
		s.logger(ctx, "payment.reconcile_failed", map[string]any{
			"externalReference": reference,
			"error":             err.Error(),
		})
		return record, nil
	}
	if domain.PaymentStatus(result.Status) == claim.previous {
		s.release(ctx, claim)
		return record, nil
	}
	return s.applyResult(ctx, claim, result), nil
}

// errPaymentSettled stops a claim on an already-approved record.
var errPaymentSettled = errors.New("payment: already approved")

type paymentClaim struct {
	record   domain.PaymentRecord
	previous domain.PaymentStatus
}

// claim moves the record into processing inside a repository transaction. A record already in
// processing is refused with ErrPaymentConflict unless its claim is older than paymentClaimTTL.
// An approved record yields errPaymentSettled with the stored record in the returned claim.
// Only pending records may be claimed for reconciliation.
func (s *paymentService) claim(ctx context.Context, reference string, charge bool) (paymentClaim, error) {
	now := s.now()
	var claim paymentClaim
	updated, err := s.payments.Update(ctx, reference, func(r *domain.PaymentRecord) error {
		switch {
		case r.Status == domain.PaymentStatusApproved:
			claim.record = *r
			return errPaymentSettled
		case r.Status == domain.PaymentStatusProcessing && now.Sub(r.UpdatedAt) < paymentClaimTTL:
			claim.record = *r
			return fmt.Errorf("%w: %s is already being processed", ErrPaymentConflict, reference)
		case !charge && r.Status != domain.PaymentStatusPending:
			claim.record = *r
			return fmt.Errorf("%w: %s is no longer pending", ErrPaymentConflict, reference)
		}
		claim.previous = r.Status
		if claim.previous == domain.PaymentStatusProcessing {
			claim.previous = domain.PaymentStatusCreated
		}
		if charge {
			r.Attempts++
		}
		r.Status = domain.PaymentStatusProcessing
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, errPaymentSettled) || errors.Is(err, ErrPaymentConflict) {
			return claim, err
		}
		return claim, s.translateRepoError(err)
	}
	claim.record = updated
	return claim, nil
}

// release hands a claimed record back in its previous status when no verdict was obtained.
func (s *paymentService) release(ctx context.Context, claim paymentClaim) {
	_, err := s.payments.Update(ctx, claim.record.ExternalReference, func(r *domain.PaymentRecord) error {
		if r.Status != domain.PaymentStatusProcessing || r.Attempts != claim.record.Attempts {
			return fmt.Errorf("%w: claim on %s was lost", ErrPaymentConflict, r.ExternalReference)
		}
		r.Status = claim.previous
		r.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		s.logger(ctx, "payment.release_failed", map[string]any{
			"externalReference": claim.record.ExternalReference,
			"error":             err.Error(),
		})
	}
}

// applyResult stores the processor verdict for a claimed record. On approval stock is decremented
// atomically; a failed decrement after capture flags the record for manual review instead of
// failing the payment. The claim guarantees the decrement runs at most once per reference.
func (s *paymentService) applyResult(ctx context.Context, claim paymentClaim, result payments.ChargeResult) domain.PaymentRecord {
	record := claim.record
	record.Status = domain.PaymentStatus(result.Status)
	record.StatusDetail = result.StatusDetail
	if result.Provider != "" {
		record.Provider = result.Provider
	}
	if result.PaymentID != "" {
		record.ProviderRef = result.PaymentID
	}
	record.UpdatedAt = s.now()

	if record.Status == domain.PaymentStatusApproved && !record.StockApplied {
		if err := s.catalog.DecrementStock(ctx, stockLines(record.Items)); err != nil {
			record.NeedsReview = true
			s.logger(ctx, "payment.stock_decrement_failed", map[string]any{
				"externalReference": record.ExternalReference,
				"paymentID":         record.ProviderRef,
				"error":             err.Error(),
			})
		} else {
			record.StockApplied = true
		}
	}

	_, err := s.payments.Update(ctx, record.ExternalReference, func(r *domain.PaymentRecord) error {
		if r.Status != domain.PaymentStatusProcessing || r.Attempts != claim.record.Attempts {
			return fmt.Errorf("%w: claim on %s was lost", ErrPaymentConflict, r.ExternalReference)
		}
		*r = record
		return nil
	})
	if err != nil {
		s.logger(ctx, "payment.record_update_failed", map[string]any{
			"externalReference": record.ExternalReference,
			"status":            string(record.Status),
			"error":             err.Error(),
		})
	}

	s.recordOutcome(ctx, string(record.Status))
	s.logger(ctx, "payment.processed", map[string]any{
		"externalReference": record.ExternalReference,
		"paymentID":         record.ProviderRef,
		"status":            string(record.Status),
		"statusDetail":      record.StatusDetail,
		"attempts":          record.Attempts,
	})

	if record.Status == domain.PaymentStatusApproved {
		s.publish(ctx, DomainEvent{
			Type:        EventPaymentApproved,
			AggregateID: record.ExternalReference,
			OccurredAt:  record.UpdatedAt,
			Payload: map[string]any{
				"paymentId":   record.ProviderRef,
				"userId":      record.UserID,
				"amount":      record.Amount,
				"currency":    record.Currency,
				"needsReview": record.NeedsReview,
			},
		})
	}
	return record
}

func (s *paymentService) loadOwned(ctx context.Context, userID, reference string) (domain.PaymentRecord, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.PaymentRecord{}, fmt.Errorf("%w: user id is required", ErrPaymentInvalidInput)
	}
	record, err := s.payments.Get(ctx, reference)
	if err != nil {
		return domain.PaymentRecord{}, s.translateRepoError(err)
	}
	if record.UserID != uid {
		return domain.PaymentRecord{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, reference)
	}
	return record, nil
}

func (s *paymentService) checkStock(ctx context.Context, lines []domain.PaymentLine) error {
	for _, line := range lines {
		if line.Type != domain.ItemTypeProduct {
			continue
		}
		product, err := s.catalog.GetProduct(ctx, line.ID)
		if err != nil {
			return s.translateRepoError(err)
		}
		if product.TracksStock() && *product.Stock < line.Quantity {
			return outOfStock(product.ID, line.Quantity, *product.Stock)
		}
	}
	return nil
}

func (s *paymentService) describe(lines []domain.PaymentLine) string {
	if len(lines) == 1 && strings.TrimSpace(lines[0].Name) != "" {
		if lines[0].Quantity > 1 {
			return fmt.Sprintf("%s x%d", lines[0].Name, lines[0].Quantity)
		}
		return lines[0].Name
	}
	return s.description
}

func (s *paymentService) recordOutcome(ctx context.Context, status string) {
	s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (s *paymentService) publish(ctx context.Context, event DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event_publish_failed", map[string]any{
			"type":        event.Type,
			"aggregateID": event.AggregateID,
			"error":       err.Error(),
		})
	}
}

func (s *paymentService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		return outOfStock(stockErr.ProductID, stockErr.Requested, stockErr.Available)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentConflict, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
}

func outOfStock(productID string, requested, available int) error {
	return fmt.Errorf("%w: %s requested %d, available %d", ErrPaymentOutOfStock, productID, requested, available)
}

func outcomeOf(record domain.PaymentRecord) PaymentOutcome {
	return PaymentOutcome{
		ID:           record.ProviderRef,
		Status:       record.Status,
		StatusDetail: record.StatusDetail,
	}
}

// mergePaymentItems validates and merges duplicate ids, keeping first-seen order.
func mergePaymentItems(items []PaymentItemInput) ([]PaymentItemInput, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrPaymentInvalidInput)
	}
	if len(items) > maxPaymentLines {
		return nil, fmt.Errorf("%w: at most %d items are allowed", ErrPaymentInvalidInput, maxPaymentLines)
	}
	merged := make([]PaymentItemInput, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: item id is required", ErrPaymentInvalidInput)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for %s must be at least 1", ErrPaymentInvalidInput, id)
		}
		idx := slices.IndexFunc(merged, func(m PaymentItemInput) bool { return m.ID == id })
		if idx >= 0 {
			merged[idx].Quantity += item.Quantity
		} else {
			merged = append(merged, PaymentItemInput{ID: id, Quantity: item.Quantity})
			idx = len(merged) - 1
		}
		if merged[idx].Quantity > maxPaymentLineQuantity {
			return nil, fmt.Errorf("%w: quantity for %s must be at most %d", ErrPaymentInvalidInput, id, maxPaymentLineQuantity)
		}
	}
	return merged, nil
}

func sameLines(submitted []PaymentItemInput, recorded []domain.PaymentLine) bool {
	if len(submitted) != len(recorded) {
		return false
	}
	want := make(map[string]int, len(recorded))
	for _, line := range recorded {
		want[line.ID] = line.Quantity
	}
	for _, item := range submitted {
		if want[item.ID] != item.Quantity {
			return false
		}
	}
	return true
}

func stockLines(lines []domain.PaymentLine) []repositories.StockLine {
	out := make([]repositories.StockLine, 0, len(lines))
	for _, line := range lines {
		if line.Type != domain.ItemTypeProduct {
			continue
		}
		out = append(out, repositories.StockLine{ProductID: line.ID, Quantity: line.Quantity})
	}
	return out
}

func normalisePayerEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: payer email is invalid", ErrPaymentInvalidInput)
	}
	return strings.ToLower(email), nil
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
