package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gamevault/api/internal/domain"
	"github.com/gamevault/api/internal/platform/auth"
	"github.com/gamevault/api/internal/platform/httpx"
	"github.com/gamevault/api/internal/services"
)

const (
	maxPaymentBodySize   = 32 * 1024
	idempotencyKeyHeader = "Idempotency-Key"
)

// PaymentHandlers serves create-payment, process-payment and payment status lookups.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
	limiter  rateLimiter
	process  []func(http.Handler) http.Handler
}

// PaymentHandlerOption customises payment handlers.
type PaymentHandlerOption func(*PaymentHandlers)

// WithPaymentRateLimit caps payment calls per user and route group within window. Without it, or
// with a non-positive limit, calls are not limited.
func WithPaymentRateLimit(limit int, window time.Duration, clock func() time.Time) PaymentHandlerOption {
	return func(h *PaymentHandlers) {
		h.limiter = newWindowLimiter(limit, window, clock)
	}
}

// WithProcessMiddlewares wraps only the process endpoint, after authentication. Idempotency
// replay is installed here so keys are scoped to the authenticated caller.
func WithProcessMiddlewares(mw ...func(http.Handler) http.Handler) PaymentHandlerOption {
	return func(h *PaymentHandlers) {
		for _, m := range mw {
			if m != nil {
				h.process = append(h.process, m)
			}
		}
	}
}

// NewPaymentHandlers constructs payment handlers guarded by Firebase authentication.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService, opts ...PaymentHandlerOption) *PaymentHandlers {
	h := &PaymentHandlers{
		authn:    authn,
		payments: payments,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/intents", h.createPayment)
	r.With(h.process...).Post("/process", h.processPayment)
	r.Get("/{reference}", h.getPayment)
}

type paymentItemRequest struct {
	ID       string `json:"id"`
	Type     string `json:"type,omitempty"`
	Quantity int    `json:"quantity"`
	// Price is ignored. Amounts are always computed from the catalogue.
	Price *int64 `json:"price,omitempty"`
}

type createPaymentRequest struct {
	Items      []paymentItemRequest `json:"items"`
	PayerEmail string               `json:"payer_email,omitempty"`
}

type processPaymentRequest struct {
	Token             string               `json:"token,omitempty"`
	PaymentMethodID   string               `json:"payment_method_id,omitempty"`
	IssuerID          string               `json:"issuer_id,omitempty"`
	Installments      int                  `json:"installments,omitempty"`
	PayerEmail        string               `json:"payer_email,omitempty"`
	TransactionAmount int64                `json:"transaction_amount"`
	Description       string               `json:"description,omitempty"`
	ExternalReference string               `json:"external_reference"`
	Items             []paymentItemRequest `json:"items"`
}

type paymentRecordPayload struct {
	ExternalReference string               `json:"external_reference"`
	Status            domain.PaymentStatus `json:"status"`
	StatusDetail      string               `json:"status_detail,omitempty"`
	Amount            int64                `json:"amount"`
	Currency          string               `json:"currency,omitempty"`
	Description       string               `json:"description,omitempty"`
	PaymentID         string               `json:"payment_id,omitempty"`
	CreatedAt         string               `json:"created_at,omitempty"`
	UpdatedAt         string               `json:"updated_at,omitempty"`
}

func (h *PaymentHandlers) createPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.admit(ctx, w, rateGroupIntents)
	if !ok {
		return
	}
	var req createPaymentRequest
	if !decodeBody(w, r, maxPaymentBodySize, &req) {
		return
	}
	email := strings.TrimSpace(req.PayerEmail)
	if email == "" {
		email = identity.Email
	}
	intent, err := h.payments.CreatePayment(ctx, services.CreatePaymentCommand{
		UserID:     identity.UID,
		PayerEmail: email,
		Items:      toPaymentItems(req.Items),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, intent)
}

func (h *PaymentHandlers) processPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.admit(ctx, w, rateGroupProcess)
	if !ok {
		return
	}
	var req processPaymentRequest
	if !decodeBody(w, r, maxPaymentBodySize, &req) {
		return
	}
	outcome, err := h.payments.ProcessPayment(ctx, services.ProcessPaymentCommand{
		UserID:            identity.UID,
		Token:             req.Token,
		PaymentMethodID:   req.PaymentMethodID,
		IssuerID:          req.IssuerID,
		Installments:      req.Installments,
		PayerEmail:        req.PayerEmail,
		TransactionAmount: req.TransactionAmount,
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
		IdempotencyKey:    strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
		Items:             toPaymentItems(req.Items),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, outcome)
}

func (h *PaymentHandlers) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.admit(ctx, w, rateGroupStatus)
	if !ok {
		return
	}
	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	record, err := h.payments.GetPayment(ctx, identity.UID, reference)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentRecordPayload{
		ExternalReference: record.ExternalReference,
		Status:            record.Status,
		StatusDetail:      record.StatusDetail,
		Amount:            record.Amount,
		Currency:          record.Currency,
		Description:       record.Description,
		PaymentID:         record.ProviderRef,
		CreatedAt:         formatTime(record.CreatedAt),
		UpdatedAt:         formatTime(record.UpdatedAt),
	})
}

// admit checks service availability, identity and the caller's budget for group.
func (h *PaymentHandlers) admit(ctx context.Context, w http.ResponseWriter, group string) (*auth.Identity, bool) {
	if h.payments == nil {
		writePaymentUnavailable(ctx, w)
		return nil, false
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return nil, false
	}
	if h.limiter != nil {
		if allowed, wait := h.limiter.Allow(group, identity.UID); !allowed {
			w.Header().Set("Retry-After", retryAfterSeconds(wait))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many payment requests", http.StatusTooManyRequests))
			return nil, false
		}
	}
	return identity, true
}

func toPaymentItems(items []paymentItemRequest) []services.PaymentItemInput {
	out := make([]services.PaymentItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, services.PaymentItemInput{ID: item.ID, Quantity: item.Quantity})
	}
	return out
}

func writePaymentUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("payment_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentUnavailable):
		writePaymentUnavailable(ctx, w)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}
