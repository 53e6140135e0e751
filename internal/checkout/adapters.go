package checkout

import (
	"context"

	"github.com/gamevault/api/internal/domain"
)

// Cart is the part of the cart store the orchestrator reads and clears. *cart.Store satisfies it.
type Cart interface {
	Items() []domain.CartItem
	Clear(ctx context.Context)
}

// Backend talks to the create-payment and process-payment functions.
type Backend interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (domain.PaymentIntent, error)
	ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (domain.PaymentOutcome, error)
}

// CreatePaymentRequest carries the exact cart contents. The backend prices them.
type CreatePaymentRequest struct {
	Items      []domain.CartItem
	PayerEmail string
}

// SubmitData is the tokenised card data handed over by the widget. Raw card numbers never appear here.
type SubmitData struct {
	Token           string
	PaymentMethodID string
	IssuerID        string
	Installments    int
	PayerEmail      string
}

// ProcessPaymentRequest is the submission forwarded to process-payment. TransactionAmount is
// always the intent amount.
type ProcessPaymentRequest struct {
	SubmitData
	TransactionAmount int64
	Description       string
	ExternalReference string
	Items             []domain.CartItem
	IdempotencyKey    string
}

// WidgetSDK mounts the hosted card-collection widget.
type WidgetSDK interface {
	Mount(ctx context.Context, containerID string, cfg WidgetConfig) (WidgetHandle, error)
}

// WidgetHandle is a mounted widget instance.
type WidgetHandle interface {
	Unmount() error
}

// WidgetConfig is the initialisation payload for a widget mount.
type WidgetConfig struct {
	Kind       string
	Amount     int64
	Currency   string
	PayerEmail string
	Locale     string
	Callbacks  WidgetCallbacks
}

// WidgetCallbacks are bound to one checkout generation. Callbacks from a superseded generation
// are ignored.
type WidgetCallbacks struct {
	OnReady  func()
	OnSubmit func(ctx context.Context, data SubmitData) SubmitAck
	OnError  func(err error)
}

// SubmitAck is the structured answer returned to the widget for a submission.
type SubmitAck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const (
	AckSuccess = "success"
	AckError   = "error"
)

// Containers reports whether the container the widget mounts into exists.
type Containers interface {
	Exists(id string) bool
}

// Navigator redirects the user to another page.
type Navigator interface {
	Navigate(url string)
}

// NoticeLevel classifies user-facing notices.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a transient message for the user.
type Notice struct {
	Level   NoticeLevel
	Message string
}

// Notifier shows transient notices.
type Notifier interface {
	Notify(notice Notice)
}
