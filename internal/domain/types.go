package domain

import (
	"time"
)

// ItemType classifies the catalogue entity a cart line refers to.
type ItemType string

const (
	// ItemTypeProduct represents physical goods with tracked stock.
	ItemTypeProduct ItemType = "product"
	// ItemTypeCourse represents enrolments in a course.
	ItemTypeCourse ItemType = "course"
	// ItemTypeService represents bookable repair or maintenance services.
	ItemTypeService ItemType = "service"
)

// Valid reports whether the item type is one of the known catalogue kinds.
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeProduct, ItemTypeCourse, ItemTypeService:
		return true
	default:
		return false
	}
}

// CartItem is a single line in a visitor's cart. Price is a unit price in integer currency units.
type CartItem struct {
	ID       string   `json:"id"`
	Type     ItemType `json:"type"`
	Name     string   `json:"name"`
	Price    int64    `json:"price"`
	Image    string   `json:"image,omitempty"`
	Quantity int      `json:"quantity"`
}

// Subtotal returns price multiplied by quantity.
func (i CartItem) Subtotal() int64 {
	return i.Price * int64(i.Quantity)
}

// Cart is the ordered set of items a visitor intends to buy. The total is always derived.
type Cart struct {
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updatedAt,omitempty"`
}

// Total recomputes the cart total from its items.
func (c Cart) Total() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Subtotal()
	}
	return total
}

// Count returns the number of units across all lines.
func (c Cart) Count() int {
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// Product is a catalogue entry used to price cart lines server side.
type Product struct {
	ID        string
	Type      ItemType
	Name      string
	Price     int64
	Currency  string
	Image     string
	Stock     *int
	Active    bool
	UpdatedAt time.Time
}

// TracksStock reports whether the product has a finite inventory count.
func (p Product) TracksStock() bool {
	return p.Stock != nil
}

// PaymentIntent is the server-issued descriptor of the amount to be charged for a cart.
type PaymentIntent struct {
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency,omitempty"`
	PayerEmail        string `json:"payer_email"`
	Description       string `json:"description"`
	ExternalReference string `json:"external_reference"`
}

// Empty reports whether the intent lacks the data required to mount a payment widget.
func (i PaymentIntent) Empty() bool {
	return i.Amount <= 0 || i.ExternalReference == ""
}

// PaymentStatus is the processor-reported outcome of a charge attempt.
type PaymentStatus string

const (
	// PaymentStatusCreated marks a payment record whose intent was issued but not yet charged.
	PaymentStatusCreated PaymentStatus = "created"
	// PaymentStatusApproved marks a captured payment.
	PaymentStatusApproved PaymentStatus = "approved"
	// PaymentStatusPending marks a payment awaiting asynchronous confirmation.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusRejected marks a declined payment.
	PaymentStatusRejected PaymentStatus = "rejected"
	// PaymentStatusProcessing marks a record claimed by a caller that is talking to the processor.
	PaymentStatusProcessing PaymentStatus = "processing"
)

// PaymentOutcome is returned by process-payment.
type PaymentOutcome struct {
	ID           string        `json:"id"`
	Status       PaymentStatus `json:"status"`
	StatusDetail string        `json:"status_detail,omitempty"`
}

// PaymentLine is a priced line persisted with a payment record.
type PaymentLine struct {
	ID        string
	Type      ItemType
	Name      string
	UnitPrice int64
	Quantity  int
}

// PaymentRecord tracks a checkout attempt from intent issuance to its final charge outcome.
type PaymentRecord struct {
	ExternalReference string
	UserID            string
	PayerEmail        string
	Description       string
	Currency          string
	Amount            int64
	Items             []PaymentLine
	Status            PaymentStatus
	StatusDetail      string
	Provider          string
	ProviderRef       string
	Attempts          int
	StockApplied      bool
	NeedsReview       bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ServiceOrderStatus enumerates the repair workflow states.
type ServiceOrderStatus string

const (
	ServiceOrderStatusReceived         ServiceOrderStatus = "recibido"
	ServiceOrderStatusDiagnosis        ServiceOrderStatus = "diagnostico"
	ServiceOrderStatusAwaitingApproval ServiceOrderStatus = "esperando_aprobacion"
	ServiceOrderStatusRepairing        ServiceOrderStatus = "reparando"
	ServiceOrderStatusCompleted        ServiceOrderStatus = "completado"
	ServiceOrderStatusDelivered        ServiceOrderStatus = "entregado"
)

// ServiceOrderStatuses lists the workflow states in their nominal order.
var ServiceOrderStatuses = []ServiceOrderStatus{
	ServiceOrderStatusReceived,
	ServiceOrderStatusDiagnosis,
	ServiceOrderStatusAwaitingApproval,
	ServiceOrderStatusRepairing,
	ServiceOrderStatusCompleted,
	ServiceOrderStatusDelivered,
}

// CommentAuthor tags who wrote a service order comment.
type CommentAuthor string

const (
	CommentAuthorAdmin  CommentAuthor = "admin"
	CommentAuthorClient CommentAuthor = "client"
)

// ServiceOrderComment is an entry in the append-only comment log of a service order.
type ServiceOrderComment struct {
	ID        string
	Text      string
	Author    CommentAuthor
	AuthorID  string
	CreatedAt time.Time
}

// Quotation is a price proposal attached to a service order.
type Quotation struct {
	Amount     int64
	Currency   string
	Notes      string
	AttachedBy string
	AttachedAt time.Time
}

// ServiceOrderTransition records a status change for auditing.
type ServiceOrderTransition struct {
	From      ServiceOrderStatus
	To        ServiceOrderStatus
	ActorID   string
	ChangedAt time.Time
}

// ServiceOrder tracks a repair or service job through the admin workflow.
type ServiceOrder struct {
	ID               string
	ClientID         string
	Description      string
	AdminDescription *string
	AdminImages      []string
	Quotation        *Quotation
	Status           ServiceOrderStatus
	History          []ServiceOrderTransition
	Comments         []ServiceOrderComment
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
