package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gamevault/api/internal/domain"
	"github.com/gamevault/api/internal/payments"
	"github.com/gamevault/api/internal/repositories"
	"github.com/gamevault/api/internal/repositories/memory"
)

type stubPaymentProcessor struct {
	chargeFunc func(ctx context.Context, req payments.ChargeRequest) (payments.ChargeResult, error)
	lookupFunc func(ctx context.Context, pctx payments.PaymentContext, id string) (payments.ChargeResult, error)
	charges    []payments.ChargeRequest
}

func (s *stubPaymentProcessor) Charge(ctx context.Context, _ payments.PaymentContext, req payments.ChargeRequest) (payments.ChargeResult, error) {
	s.charges = append(s.charges, req)
	if s.chargeFunc == nil {
		return payments.ChargeResult{Provider: "stub", PaymentID: "pay-1", Status: payments.StatusApproved, StatusDetail: "accredited"}, nil
	}
	return s.chargeFunc(ctx, req)
}

func (s *stubPaymentProcessor) Lookup(ctx context.Context, pctx payments.PaymentContext, id string) (payments.ChargeResult, error) {
	if s.lookupFunc == nil {
		return payments.ChargeResult{}, payments.ErrPaymentNotFound
	}
	return s.lookupFunc(ctx, pctx, id)
}

type captureEvents struct {
	mu     sync.Mutex
	events []DomainEvent
	err    error
}

func (c *captureEvents) PublishEvent(_ context.Context, event DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

type paymentFixture struct {
	svc       PaymentService
	catalog   *memory.CatalogRepository
	records   *memory.PaymentRepository
	processor *stubPaymentProcessor
	events    *captureEvents
	logs      []string
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		catalog:   seedCatalog(),
		records:   memory.NewPaymentRepository(),
		processor: &stubPaymentProcessor{},
		events:    &captureEvents{},
	}
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	svc, err := NewPaymentService(PaymentServiceDeps{
		Catalog:     f.catalog,
		Payments:    f.records,
		Processor:   f.processor,
		Events:      f.events,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "ref-1" },
		Logger: func(_ context.Context, event string, _ map[string]any) {
			f.logs = append(f.logs, event)
		},
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	f.svc = svc
	return f
}

func (f *paymentFixture) intent(t *testing.T, items ...PaymentItemInput) PaymentIntent {
	t.Helper()
	intent, err := f.svc.CreatePayment(context.Background(), CreatePaymentCommand{
		UserID:     "u1",
		PayerEmail: "Buyer@Example.com",
		Items:      items,
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	return intent
}

func TestPaymentServiceCreatePaymentPricesServerSide(t *testing.T) {
	f := newPaymentFixture(t)

	intent := f.intent(t, PaymentItemInput{ID: "c1", Quantity: 1}, PaymentItemInput{ID: "p1", Quantity: 1})
	if intent.Amount != 25000 {
		t.Fatalf("expected amount 25000, got %d", intent.Amount)
	}
	if intent.ExternalReference != "ref-1" || intent.Currency != "ARS" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.PayerEmail != "buyer@example.com" {
		t.Fatalf("expected normalised email, got %q", intent.PayerEmail)
	}
	if intent.Description != "GameVault order" {
		t.Fatalf("expected default description for multi-line order, got %q", intent.Description)
	}

	record, err := f.records.Get(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != domain.PaymentStatusCreated || len(record.Items) != 2 {
		t.Fatalf("unexpected stored record %+v", record)
	}
}

func TestPaymentServiceCreatePaymentSingleLineDescription(t *testing.T) {
	f := newPaymentFixture(t)
	intent := f.intent(t, PaymentItemInput{ID: "p1", Quantity: 1}, PaymentItemInput{ID: "p1", Quantity: 1})
	if intent.Description != "Joystick x2" {
		t.Fatalf("expected merged single-line description, got %q", intent.Description)
	}
	if intent.Amount != 10000 {
		t.Fatalf("expected 10000, got %d", intent.Amount)
	}
}

func TestPaymentServiceCreatePaymentValidation(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  CreatePaymentCommand
		want error
	}{
		{name: "no user", cmd: CreatePaymentCommand{Items: []PaymentItemInput{{ID: "p1", Quantity: 1}}}, want: ErrPaymentInvalidInput},
		{name: "no items", cmd: CreatePaymentCommand{UserID: "u1"}, want: ErrPaymentInvalidInput},
		{name: "zero quantity", cmd: CreatePaymentCommand{UserID: "u1", Items: []PaymentItemInput{{ID: "p1"}}}, want: ErrPaymentInvalidInput},
		{name: "bad email", cmd: CreatePaymentCommand{UserID: "u1", PayerEmail: "nope", Items: []PaymentItemInput{{ID: "p1", Quantity: 1}}}, want: ErrPaymentInvalidInput},
		{name: "unknown item", cmd: CreatePaymentCommand{UserID: "u1", Items: []PaymentItemInput{{ID: "ghost", Quantity: 1}}}, want: ErrPaymentInvalidInput},
		{name: "inactive item", cmd: CreatePaymentCommand{UserID: "u1", Items: []PaymentItemInput{{ID: "old", Quantity: 1}}}, want: ErrPaymentInvalidInput},
		{name: "out of stock", cmd: CreatePaymentCommand{UserID: "u1", Items: []PaymentItemInput{{ID: "p1", Quantity: 4}}}, want: ErrPaymentOutOfStock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.CreatePayment(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPaymentServiceProcessApprovedDecrementsStock(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	intent := f.intent(t, PaymentItemInput{ID: "p1", Quantity: 2}, PaymentItemInput{ID: "c1", Quantity: 1})

	outcome, err := f.svc.ProcessPayment(ctx, ProcessPaymentCommand{
		UserID:            "u1",
		Token:             "tok_approved",
		TransactionAmount: intent.Amount,
		ExternalReference: intent.ExternalReference,
	})
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if outcome.Status != domain.PaymentStatusApproved || outcome.ID != "pay-1" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	product, _ := f.catalog.GetProduct(ctx, "p1")
	if *product.Stock != 1 {
		t.Fatalf("expected stock 1 after approval, got %d", *product.Stock)
	}
	record, _ := f.records.Get(ctx, intent.ExternalReference)
	if !record.StockApplied || record.NeedsReview || record.Attempts != 1 || record.Provider != "stub" {
		t.Fatalf("unexpected record %+v", record)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != EventPaymentApproved {
		t.Fatalf("expected payment.approved event, got %+v", f.events.events)
	}
	if got := f.processor.charges[0]; got.Amount != 45000 || got.IdempotencyKey != "ref-1:1" || got.PayerEmail != "buyer@example.com" {
		t.Fatalf("unexpected charge request %+v", got)
	}
}

func TestPaymentServiceProcessApprovedIsIdempotent(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	intent := f.intent(t, PaymentItemInput{ID: "p1", Quantity: 1})
	cmd := ProcessPaymentCommand{UserID: "u1", Token: "tok", TransactionAmount: intent.Amount, ExternalReference: intent.ExternalReference}

	if _, err := f.svc.ProcessPayment(ctx, cmd); err != nil {
		t.Fatalf("first ProcessPayment: %v", err)
	}
	outcome, err := f.svc.ProcessPayment(ctx, cmd)
	if err != nil {
		t.Fatalf("second ProcessPayment: %v", err)
	}
	if outcome.Status != domain.PaymentStatusApproved {
		t.Fatalf("expected approved replay, got %+v", outcome)
	}
	if len(f.processor.charges) != 1 {
		t.Fatalf("expected a single charge, got %d", len(f.processor.charges))
	}
	product, _ := f.catalog.GetProduct(ctx, "p1")
	if *product.Stock != 2 {
		t.Fatalf("expected stock decremented once, got %d", *product.Stock)
	}
}

func TestPaymentServiceProcessPendingAndRejectedKeepStock(t *testing.T) {
	for _, tc := range []struct {
		status payments.Status
		detail string
	}{
		{status: payments.StatusPending, detail: "pending_contingency"},
		{status: payments.StatusRejected, detail: "cc_rejected_insufficient_amount"},
	} {
		t.Run(string(tc.status), func(t *testing.T) {
			f := newPaymentFixture(t)
			ctx := context.Background()
			f.processor.chargeFunc = func(context.Context, payments.ChargeRequest) (payments.ChargeResult, error) {
				return payments.ChargeResult{PaymentID: "pay-9", Status: tc.status, StatusDetail: tc.detail}, nil
			}
			intent := f.intent(t, PaymentItemInput{ID: "p1", Quantity: 1})

			outcome, err := f.svc.ProcessPayment(ctx, ProcessPaymentCommand{UserID: "u1", Token: "tok", TransactionAmount: intent.Amount, ExternalReference: intent.ExternalReference})
			if err != nil {
				t.Fatalf("ProcessPayment: %v", err)
			}
			if string(outcome.Status) != string(tc.status) || outcome.StatusDetail != tc.detail {
				t.Fatalf("unexpected outcome %+v", outcome)
			}
			product, _ := f.catalog.GetProduct(ctx, "p1")
			if *product.Stock != 3 {
				t.Fatalf("expected stock untouched, got %d", *product.Stock)
			}
			if len(f.events.events) != 0 {
				t.Fatalf("expected no events, got %+v", f.events.events)
			}
		})
	}
}

func TestPaymentServiceProcessRetryUsesFreshIdempotencyKey(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.processor.chargeFunc = func(context.Context, payments.ChargeRequest) (payments.ChargeResult, error) {
		return payments.ChargeResult{PaymentID: "pay-r", Status: payments.StatusRejected, StatusDetail: "cc_rejected_other_reason"}, nil
	}
	intent := f.intent(t, PaymentItemInput{ID: "s1", Quantity: 1})
	cmd := ProcessPaymentCommand{UserID: "u1", Token: "tok", TransactionAmount: intent.Amount, ExternalReference: intent.ExternalReference}

	for i := 0; i < 2; i++ {
		if _, err := f.svc.ProcessPayment(ctx, cmd); err != nil {
			t.Fatalf("ProcessPayment: %v", err)
		}
	}
	// The submission key from the client never feeds the processor key.
	cmd.IdempotencyKey = "client-key"
	if _, err := f.svc.ProcessPayment(ctx, cmd); err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	keys := []string{f.processor.charges[0].IdempotencyKey, f.processor.charges[1].IdempotencyKey, f.processor.charges[2].IdempotencyKey}
	if keys[0] != "ref-1:1" || keys[1] != "ref-1:2" || keys[2] != "ref-1:3" {
		t.Fatalf("unexpected idempotency keys %v", keys)
	}
	record, _ := f.records.Get(ctx, intent.ExternalReference)
	if record.Status != domain.PaymentStatusRejected || record.Attempts != 3 {
		t.Fatalf("unexpected record %+v", record)
	}
}

// gateProcessor blocks every charge until release is closed.
type gateProcessor struct {
	mu      sync.Mutex
	charges int
	entered chan struct{}
	release chan struct{}
}

func (g *gateProcessor) Charge(context.Context, payments.PaymentContext, payments.ChargeRequest) (payments.ChargeResult, error) {
	g.mu.Lock()
	g.charges++
	g.mu.Unlock()
	g.entered <- struct{}{}
	<-g.release
	return payments.ChargeResult{Provider: "stub", PaymentID: "pay-c", Status: payments.StatusApproved, StatusDetail: "accredited"}, nil
}

func (g *gateProcessor) Lookup(context.Context, payments.PaymentContext, string) (payments.ChargeResult, error) {
	return payments.ChargeResult{}, payments.ErrPaymentNotFound
}

func TestPaymentServiceConcurrentSubmissionsChargeOnce(t *testing.T) {
	catalog := seedCatalog()
	records := memory.NewPaymentRepository()
	processor := &gateProcessor{entered: make(chan struct{}, 2), release: make(chan struct{})}
	svc, err := NewPaymentService(PaymentServiceDeps{
		Catalog:     catalog,
		Payments:    records,
		Processor:   processor,
		IDGenerator: func() string { return "ref-1" },
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	ctx := context.Background()
	intent, err := svc.CreatePayment(ctx, CreatePaymentCommand{UserID: "u1", Items: []PaymentItemInput{{ID: "p1", Quantity: 1}}})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	cmd := ProcessPaymentCommand{UserID: "u1", Token: "tok", TransactionAmount: intent.Amount, ExternalReference: intent.ExternalReference}

	first := make(chan error, 1)
	go func() {
		firstCmd := cmd
		firstCmd.IdempotencyKey = "k1"
		_, err := svc.ProcessPayment(ctx, firstCmd)
		first <- err
	}()
	<-processor.entered

	second := cmd
	second.IdempotencyKey = "k2"
	if _, err := svc.ProcessPayment(ctx, second); !errors.Is(err, ErrPaymentConflict) {
		t.Fatalf("expected ErrPaymentConflict while the first charge is in flight, got %v", err)
	}
	close(processor.release)
	if err := <-first; err != nil {
		t.Fatalf("first ProcessPayment: %v", err)
	}

	outcome, err := svc.ProcessPayment(ctx, second)
	if err != nil {
		t.Fatalf("replay ProcessPayment: %v", err)
	}
	if outcome.Status != domain.PaymentStatusApproved || outcome.ID != "pay-c" {
		t.Fatalf("expected stored approval, got %+v", outcome)
	}
	if processor.charges != 1 {
		t.Fatalf("expected one charge, got %d", processor.charges)
	}
	product, _ := catalog.GetProduct(ctx, "p1")
	if *product.Stock != 2 {
		t.Fatalf("expected stock decremented once to 2, got %d", *product.Stock)
	}
}

func TestPaymentServiceStaleClaimCanBeRetaken(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	intent := f.intent(t, PaymentItemInput{ID: "s1", Quantity: 1})
	_, err := f.records.Update(ctx, intent.ExternalReference, func(r *domain.PaymentRecord) error {
		r.Status = domain.PaymentStatusProcessing
		r.Attempts = 1
		r.UpdatedAt = r.UpdatedAt.Add(-paymentClaimTTL)
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	outcome, err := f.svc.ProcessPayment(ctx, ProcessPaymentCommand{UserID: "u1", Token: "tok", TransactionAmount: intent.Amount, ExternalReference: intent.ExternalReference})
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if outcome.Status != domain.PaymentStatusApproved {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if got := f.processor.charges[0].IdempotencyKey; got != "ref-1:2" {
		t.Fatalf("expected a fresh attempt key, got %q", got)
	}
}

func TestPaymentServiceProcessRejectsTamperedRequests(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	intent := f.intent(t, PaymentItemInput{ID: "p1", Quantity: 1})

	cases := []struct {
		name string
		cmd  ProcessPaymentCommand
		want error
	}{
		{name: "amount", cmd: ProcessPaymentCommand{UserID: "u1", Token: "tok", TransactionAmount: 1, ExternalReference: intent.ExternalReference}, want: ErrPaymentAmountMismatch},
		{name: "items", cmd: ProcessPaymentCommand{UserID: "u1", Token: "tok", TransactionAmount: intent.Amount, ExternalReference: intent.ExternalReference, Items: []PaymentItemInput{{ID: "p1", Quantity: 2}}}, want: ErrPaymentInvalidInput},
		{name: "other user", cmd: ProcessPaymentCommand{UserID: "u2", Token: "tok", TransactionAmount: intent.Amount, ExternalReference: intent.ExternalReference}, want: ErrPaymentNotFound},
		{name: "unknown reference", cmd: ProcessPaymentCommand{UserID: "u1", Token: "tok", TransactionAmount: intent.Amount, ExternalReference: "nope"}, want: ErrPaymentNotFound},
		{name: "missing token", cmd: ProcessPaymentCommand{UserID: "u1", TransactionAmount: intent.Amount, ExternalReference: intent.ExternalReference}, want: ErrPaymentInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.ProcessPayment(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if len(f.processor.charges) != 0 {
		t.Fatalf("expected no charges, got %d", len(f.processor.charges))
	}
}

func TestPaymentServiceProcessRevalidatesStock(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	intent := f.intent(t, PaymentItemInput{ID: "p1", Quantity: 2})
	f.catalog.Upsert(domain.Product{ID: "p1", Type: domain.ItemTypeProduct, Name: "Joystick", Price: 5000, Stock: intPtr(1), Active: true})

	_, err := f.svc.ProcessPayment(ctx, ProcessPaymentCommand{UserID: "u1", Token: "tok", TransactionAmount: intent.Amount, ExternalReference: intent.ExternalReference})
	if !errors.Is(err, ErrPaymentOutOfStock) {
		t.Fatalf("expected ErrPaymentOutOfStock, got %v", err)
	}
	if len(f.processor.charges) != 0 {
		t.Fatalf("expected no charge when stock is short")
	}
	record, _ := f.records.Get(ctx, intent.ExternalReference)
	if record.Status != domain.PaymentStatusCreated {
		t.Fatalf("expected claim released back to created, got %s", record.Status)
	}
}

type failingDecrementCatalog struct {
	*memory.CatalogRepository
}

func (failingDecrementCatalog) DecrementStock(context.Context, []repositories.StockLine) error {
	return &repositories.StockError{ProductID: "p1", Requested: 1, Available: 0}
}

func TestPaymentServiceApprovedWithFailedDecrementNeedsReview(t *testing.T) {
	records := memory.NewPaymentRepository()
	processor := &stubPaymentProcessor{}
	svc, err := NewPaymentService(PaymentServiceDeps{
		Catalog:     failingDecrementCatalog{seedCatalog()},
		Payments:    records,
		Processor:   processor,
		IDGenerator: func() string { return "ref-r" },
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	ctx := context.Background()
	intent, err := svc.CreatePayment(ctx, CreatePaymentCommand{UserID: "u1", Items: []PaymentItemInput{{ID: "p1", Quantity: 1}}})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	outcome, err := svc.ProcessPayment(ctx, ProcessPaymentCommand{UserID: "u1", Token: "tok", TransactionAmount: intent.Amount, ExternalReference: intent.ExternalReference})
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if outcome.Status != domain.PaymentStatusApproved {
		t.Fatalf("expected approval to stand, got %+v", outcome)
	}
	record, _ := records.Get(ctx, "ref-r")
	if !record.NeedsReview || record.StockApplied {
		t.Fatalf("expected record flagged for review, got %+v", record)
	}
}

func TestPaymentServiceProcessorFailureIsUnavailable(t *testing.T) {
	f := newPaymentFixture(t)
	f.processor.chargeFunc = func(context.Context, payments.ChargeRequest) (payments.ChargeResult, error) {
		return payments.ChargeResult{}, payments.ErrProcessorUnavailable
	}
	intent := f.intent(t, PaymentItemInput{ID: "c1", Quantity: 1})

	_, err := f.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{UserID: "u1", Token: "tok", TransactionAmount: intent.Amount, ExternalReference: intent.ExternalReference})
	if !errors.Is(err, ErrPaymentUnavailable) {
		t.Fatalf("expected ErrPaymentUnavailable, got %v", err)
	}
	found := false
	for _, event := range f.logs {
		if event == "payment.charge_failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected payment.charge_failed log, got %v", f.logs)
	}
	record, _ := f.records.Get(context.Background(), intent.ExternalReference)
	if record.Status != domain.PaymentStatusCreated {
		t.Fatalf("expected claim released after processor failure, got %s", record.Status)
	}
}

func TestPaymentServiceGetPaymentReconcilesPending(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.processor.chargeFunc = func(context.Context, payments.ChargeRequest) (payments.ChargeResult, error) {
		return payments.ChargeResult{Provider: "stub", PaymentID: "pay-p", Status: payments.StatusPending, StatusDetail: "requires_action"}, nil
	}
	f.processor.lookupFunc = func(_ context.Context, pctx payments.PaymentContext, id string) (payments.ChargeResult, error) {
		if id != "pay-p" || pctx.PreferredProvider != "stub" {
			t.Fatalf("unexpected lookup %s via %q", id, pctx.PreferredProvider)
		}
		return payments.ChargeResult{Provider: "stub", PaymentID: "pay-p", Status: payments.StatusApproved, StatusDetail: "accredited"}, nil
	}
	intent := f.intent(t, PaymentItemInput{ID: "p1", Quantity: 1})
	if _, err := f.svc.ProcessPayment(ctx, ProcessPaymentCommand{UserID: "u1", Token: "tok", TransactionAmount: intent.Amount, ExternalReference: intent.ExternalReference}); err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}

	record, err := f.svc.GetPayment(ctx, "u1", intent.ExternalReference)
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if record.Status != domain.PaymentStatusApproved || !record.StockApplied {
		t.Fatalf("expected reconciled approval, got %+v", record)
	}
	if _, err := f.svc.GetPayment(ctx, "u2", intent.ExternalReference); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected other users to get not found, got %v", err)
	}
}

func TestPaymentServiceEventPublishFailureIsLogged(t *testing.T) {
	f := newPaymentFixture(t)
	f.events.err = errors.New("pubsub down")
	intent := f.intent(t, PaymentItemInput{ID: "s1", Quantity: 1})

	outcome, err := f.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{UserID: "u1", Token: "tok", TransactionAmount: intent.Amount, ExternalReference: intent.ExternalReference})
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if outcome.Status != domain.PaymentStatusApproved {
		t.Fatalf("expected approval despite publish failure, got %+v", outcome)
	}
	if !strings.Contains(strings.Join(f.logs, ","), "payment.event_publish_failed") {
		t.Fatalf("expected publish failure to be logged, got %v", f.logs)
	}
}
