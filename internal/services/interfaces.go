package services

import (
	"context"
	"time"

	"github.com/gamevault/api/internal/cart"
	"github.com/gamevault/api/internal/domain"
	"github.com/gamevault/api/internal/platform/storage"
	"github.com/gamevault/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	CartItem           = domain.CartItem
	PaymentIntent      = domain.PaymentIntent
	PaymentOutcome     = domain.PaymentOutcome
	PaymentRecord      = domain.PaymentRecord
	ServiceOrder       = domain.ServiceOrder
	ServiceOrderStatus = domain.ServiceOrderStatus
	SystemHealthReport = domain.SystemHealthReport
	ServiceOrderPage   = repositories.ServiceOrderPage
	CartSnapshot       = cart.Snapshot
	UploadTarget       = storage.UploadTarget
)

// Domain event types published to the events topic.
const (
	EventPaymentApproved               = "payment.approved"
	EventServiceOrderCreated           = "service_order.created"
	EventServiceOrderStatusChanged     = "service_order.status_changed"
	EventServiceOrderQuotationAttached = "service_order.quotation_attached"
	EventServiceOrderCommentAppended   = "service_order.comment_appended"
)

// DomainEvent is the envelope published for downstream consumers.
type DomainEvent struct {
	Type        string         `json:"type"`
	AggregateID string         `json:"aggregate_id"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// EventPublisher delivers domain events. Failures are logged by callers and never undo the operation.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event DomainEvent) error
}

// CartService manages one cart store per authenticated user.
type CartService interface {
	GetCart(ctx context.Context, userID string) (CartSnapshot, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartSnapshot, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartSnapshot, error)
	RemoveItem(ctx context.Context, userID, itemID string) (CartSnapshot, error)
	ClearCart(ctx context.Context, userID string) (CartSnapshot, error)
}

// AddCartItemCommand adds Quantity units of a catalogue entry. Price and name come from the catalogue.
type AddCartItemCommand struct {
	UserID   string
	ItemID   string
	Quantity int
}

// UpdateCartItemCommand sets the quantity of a line. Zero or less removes it.
type UpdateCartItemCommand struct {
	UserID   string
	ItemID   string
	Quantity int
}

// PaymentService is the server side of create-payment and process-payment.
type PaymentService interface {
	CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (PaymentIntent, error)
	ProcessPayment(ctx context.Context, cmd ProcessPaymentCommand) (PaymentOutcome, error)
	GetPayment(ctx context.Context, userID, externalReference string) (PaymentRecord, error)
}

// PaymentItemInput is a requested line. Any client price is ignored.
type PaymentItemInput struct {
	ID       string
	Quantity int
}

// CreatePaymentCommand asks for a payment intent covering Items.
type CreatePaymentCommand struct {
	UserID     string
	PayerEmail string
	Items      []PaymentItemInput
}

// ProcessPaymentCommand carries the tokenised widget submission.
type ProcessPaymentCommand struct {
	UserID            string
	Token             string
	PaymentMethodID   string
	IssuerID          string
	Installments      int
	PayerEmail        string
	TransactionAmount int64
	Description       string
	ExternalReference string
	IdempotencyKey    string
	Items             []PaymentItemInput
}

// ServiceOrderService drives the repair workflow.
type ServiceOrderService interface {
	Create(ctx context.Context, cmd CreateServiceOrderCommand) (ServiceOrder, error)
	Get(ctx context.Context, orderID string) (ServiceOrder, error)
	ListByClient(ctx context.Context, clientID string, pageSize int, pageToken string) (ServiceOrderPage, error)
	List(ctx context.Context, filter ServiceOrderListFilter) (ServiceOrderPage, error)
	TransitionStatus(ctx context.Context, cmd TransitionServiceOrderCommand) (ServiceOrder, error)
	AttachQuotation(ctx context.Context, cmd AttachQuotationCommand) (ServiceOrder, error)
	AppendComment(ctx context.Context, cmd AppendCommentCommand) (ServiceOrder, error)
	AdminImageUploadURL(ctx context.Context, orderID, contentType string) (UploadTarget, error)
	// Delete withdraws an order opened by mistake. Only orders still in recibido can be deleted.
	Delete(ctx context.Context, orderID string) error
}

// CreateServiceOrderCommand opens a repair request for a client.
type CreateServiceOrderCommand struct {
	ClientID    string
	Description string
}

// ServiceOrderListFilter narrows admin listings. Status accepts display forms such as "Diagnóstico".
type ServiceOrderListFilter struct {
	ClientID  string
	Status    string
	PageSize  int
	PageToken string
}

// TransitionServiceOrderCommand moves an order to Target. Nil AdminDescription keeps the current one;
// AdminImages are appended.
type TransitionServiceOrderCommand struct {
	OrderID          string
	Target           string
	AdminDescription *string
	AdminImages      []string
	ActorID          string
}

// AttachQuotationCommand sets or replaces the price proposal.
type AttachQuotationCommand struct {
	OrderID  string
	Amount   int64
	Currency string
	Notes    string
	ActorID  string
}

// AppendCommentCommand adds an entry to the comment log.
type AppendCommentCommand struct {
	OrderID string
	Text    string
	Author  domain.CommentAuthor
	ActorID string
}

// SystemService exposes health information.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
