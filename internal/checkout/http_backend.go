package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"

	"github.com/gamevault/api/internal/domain"
)

const (
	intentsPath        = "/api/v1/payments/intents"
	processPath        = "/api/v1/payments/process"
	errorBodyLimit     = 256
	responseBodyLimit  = 1 << 20
	defaultMaxAttempts = 3
	defaultIdemHeader  = "Idempotency-Key"
)

// HTTPBackend calls the create-payment and process-payment endpoints of this API.
// Intent creation is retried on transient failures; process-payment is sent once.
type HTTPBackend struct {
	baseURL     *url.URL
	client      *http.Client
	token       func(ctx context.Context) (string, error)
	backoff     gax.Backoff
	maxAttempts int
	idemHeader  string
}

// HTTPBackendOption customises an HTTPBackend.
type HTTPBackendOption func(*HTTPBackend)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) HTTPBackendOption {
	return func(b *HTTPBackend) {
		if client != nil {
			b.client = client
		}
	}
}

// WithBearerToken sets the source of the Firebase ID token sent with each call.
func WithBearerToken(token func(ctx context.Context) (string, error)) HTTPBackendOption {
	return func(b *HTTPBackend) {
		b.token = token
	}
}

// WithIdempotencyHeader names the header carrying the per-submission key.
func WithIdempotencyHeader(name string) HTTPBackendOption {
	return func(b *HTTPBackend) {
		if name = strings.TrimSpace(name); name != "" {
			b.idemHeader = name
		}
	}
}

// WithIntentRetry overrides the backoff and attempt budget for intent creation.
func WithIntentRetry(backoff gax.Backoff, maxAttempts int) HTTPBackendOption {
	return func(b *HTTPBackend) {
		b.backoff = backoff
		if maxAttempts > 0 {
			b.maxAttempts = maxAttempts
		}
	}
}

// NewHTTPBackend builds a backend rooted at baseURL.
func NewHTTPBackend(baseURL string, opts ...HTTPBackendOption) (*HTTPBackend, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("checkout: invalid backend url %q", baseURL)
	}
	b := &HTTPBackend{
		baseURL: parsed,
		client:  &http.Client{Timeout: 30 * time.Second},
		backoff: gax.Backoff{
			Initial:    200 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
		},
		maxAttempts: defaultMaxAttempts,
		idemHeader:  defaultIdemHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

type itemPayload struct {
	ID       string          `json:"id"`
	Type     domain.ItemType `json:"type,omitempty"`
	Quantity int             `json:"quantity"`
}

type createPaymentPayload struct {
	Items      []itemPayload `json:"items"`
	PayerEmail string        `json:"payer_email,omitempty"`
}

type processPaymentPayload struct {
	Token             string        `json:"token,omitempty"`
	PaymentMethodID   string        `json:"payment_method_id,omitempty"`
	IssuerID          string        `json:"issuer_id,omitempty"`
	Installments      int           `json:"installments,omitempty"`
	PayerEmail        string        `json:"payer_email,omitempty"`
	TransactionAmount int64         `json:"transaction_amount"`
	Description       string        `json:"description,omitempty"`
	ExternalReference string        `json:"external_reference"`
	Items             []itemPayload `json:"items"`
}

// CreatePayment asks the server to price the cart. Only ids and quantities are sent.
func (b *HTTPBackend) CreatePayment(ctx context.Context, req CreatePaymentRequest) (domain.PaymentIntent, error) {
	body := createPaymentPayload{Items: toItemPayload(req.Items), PayerEmail: req.PayerEmail}
	var intent domain.PaymentIntent

	attempts := 0
	retryer := gax.OnErrorFunc(b.backoff, func(err error) bool {
		attempts++
		if attempts >= b.maxAttempts {
			return false
		}
		var backendErr *BackendError
		if errors.As(err, &backendErr) {
			return backendErr.Temporary()
		}
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	})
	err := gax.Invoke(ctx, func(ctx context.Context, _ gax.CallSettings) error {
		return b.do(ctx, "create-payment", intentsPath, "", body, &intent)
	}, gax.WithRetry(func() gax.Retryer { return retryer }))
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	return intent, nil
}

// ProcessPayment forwards the tokenised submission. It is never retried here; the idempotency
// key lets the caller resubmit safely.
func (b *HTTPBackend) ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (domain.PaymentOutcome, error) {
	body := processPaymentPayload{
		Token:             req.Token,
		PaymentMethodID:   req.PaymentMethodID,
		IssuerID:          req.IssuerID,
		Installments:      req.Installments,
		PayerEmail:        req.PayerEmail,
		TransactionAmount: req.TransactionAmount,
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
		Items:             toItemPayload(req.Items),
	}
	var outcome domain.PaymentOutcome
	if err := b.do(ctx, "process-payment", processPath, req.IdempotencyKey, body, &outcome); err != nil {
		return domain.PaymentOutcome{}, err
	}
	return outcome, nil
}

func (b *HTTPBackend) do(ctx context.Context, op, path, idempotencyKey string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("checkout: encode %s: %w", op, err)
	}
	endpoint := b.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("checkout: build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(b.idemHeader, idempotencyKey)
	}
	if b.token != nil {
		token, err := b.token(ctx)
		if err != nil {
			return fmt.Errorf("checkout: %s token: %w", op, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("checkout: %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return drainError(op, resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, responseBodyLimit)).Decode(out); err != nil {
		return fmt.Errorf("checkout: decode %s response: %w", op, err)
	}
	return nil
}

// drainError reads the httpx error envelope, bounded, into a BackendError.
func drainError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	backendErr := &BackendError{Operation: op, StatusCode: resp.StatusCode}
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		backendErr.Code = envelope.Error
		backendErr.Message = envelope.Message
	} else {
		backendErr.Message = strings.TrimSpace(string(raw))
	}
	return backendErr
}

func toItemPayload(items []domain.CartItem) []itemPayload {
	out := make([]itemPayload, 0, len(items))
	for _, item := range items {
		out = append(out, itemPayload{ID: item.ID, Type: item.Type, Quantity: item.Quantity})
	}
	return out
}
