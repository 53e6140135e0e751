package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProcessorConfig configures the StripeProcessor.
type StripeProcessorConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	intents   stripePaymentIntentAPI
}

// StripeProcessor charges card tokens by creating and confirming a PaymentIntent in one call.
type StripeProcessor struct {
	intents stripePaymentIntentAPI
	account string
	logger  StripeLogger
}

// NewStripeProcessor constructs a Stripe-backed Processor.
func NewStripeProcessor(cfg StripeProcessorConfig) (*StripeProcessor, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	intents := cfg.intents
	if intents == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProcessor{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// Charge creates a confirmed PaymentIntent for the token. Card declines come back as rejected results.
func (p *StripeProcessor) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if p == nil {
		return ChargeResult{}, errors.New("stripe: processor is nil")
	}
	method := strings.TrimSpace(req.Token)
	if method == "" {
		method = strings.TrimSpace(req.PaymentMethodID)
	}
	if method == "" {
		return ChargeResult{}, errors.New("stripe: payment method token is required")
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod:      stripe.String(method),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.PayerEmail != "" {
		params.ReceiptEmail = stripe.String(req.PayerEmail)
	}
	params.AddMetadata("external_reference", req.ExternalReference)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			detail := declineDetail(stripeErr)
			p.logger(ctx, "payments.stripe.charge.declined", map[string]any{
				"externalReference": req.ExternalReference,
				"detail":            detail,
			})
			result := ChargeResult{Status: StatusRejected, StatusDetail: detail, Amount: req.Amount, Currency: strings.ToUpper(req.Currency)}
			if stripeErr.PaymentIntent != nil {
				result.PaymentID = stripeErr.PaymentIntent.ID
			}
			return result, nil
		}
		return ChargeResult{}, fmt.Errorf("%w: stripe: create payment intent: %v", ErrProcessorUnavailable, err)
	}

	result := stripeResult(intent)
	p.logger(ctx, "payments.stripe.charge.completed", map[string]any{
		"externalReference": req.ExternalReference,
		"paymentIntent":     intent.ID,
		"status":            string(result.Status),
	})
	return result, nil
}

// Lookup retrieves a PaymentIntent and normalises its status.
func (p *StripeProcessor) Lookup(ctx context.Context, paymentID string) (ChargeResult, error) {
	if p == nil {
		return ChargeResult{}, errors.New("stripe: processor is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.intents.Get(paymentID, params)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("%w: stripe: lookup payment intent: %v", ErrProcessorUnavailable, err)
	}
	return stripeResult(intent), nil
}

func stripeResult(intent *stripe.PaymentIntent) ChargeResult {
	if intent == nil {
		return ChargeResult{Status: StatusPending}
	}
	result := ChargeResult{
		PaymentID: intent.ID,
		Amount:    intent.Amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Status = StatusApproved
		result.StatusDetail = "accredited"
	case stripe.PaymentIntentStatusCanceled:
		result.Status = StatusRejected
		result.StatusDetail = defaultString(string(intent.CancellationReason), "canceled")
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		result.Status = StatusRejected
		result.StatusDetail = "requires_payment_method"
		if intent.LastPaymentError != nil {
			result.StatusDetail = declineDetail(intent.LastPaymentError)
		}
	default:
		result.Status = StatusPending
		result.StatusDetail = string(intent.Status)
	}
	return result
}

func declineDetail(err *stripe.Error) string {
	if err == nil {
		return ""
	}
	if err.DeclineCode != "" {
		return string(err.DeclineCode)
	}
	if err.Code != "" {
		return string(err.Code)
	}
	return "card_declined"
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
