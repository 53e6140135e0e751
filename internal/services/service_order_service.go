package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gamevault/api/internal/domain"
	"github.com/gamevault/api/internal/platform/pagination"
	"github.com/gamevault/api/internal/platform/storage"
	"github.com/gamevault/api/internal/platform/textutil"
	"github.com/gamevault/api/internal/repositories"
)

const (
	maxServiceOrderDescription = 2000
	maxServiceOrderComment     = 2000
	maxQuotationNotes          = 1000
	maxServiceOrderImages      = 20
	serviceOrderUploadPrefix   = "service-orders"
)

var (
	// ErrServiceOrderInvalidInput signals the caller provided invalid data.
	ErrServiceOrderInvalidInput = errors.New("service order: invalid input")
	// ErrServiceOrderNotFound indicates the order could not be located or is not visible to the caller.
	ErrServiceOrderNotFound = errors.New("service order: not found")
	// ErrServiceOrderInvalidTransition indicates the workflow does not allow the requested status change.
	ErrServiceOrderInvalidTransition = errors.New("service order: invalid status transition")
	// ErrServiceOrderConflict indicates a concurrent modification or duplicate id.
	ErrServiceOrderConflict = errors.New("service order: conflict")
	// ErrServiceOrderUnavailable indicates the backing store or uploader is unavailable.
	ErrServiceOrderUnavailable = errors.New("service order: unavailable")
)

// serviceOrderTransitions lists the allowed moves. Forward steps plus rework loops back to
// diagnosis or repair; entregado is terminal.
var serviceOrderTransitions = map[domain.ServiceOrderStatus][]domain.ServiceOrderStatus{
	domain.ServiceOrderStatusReceived:         {domain.ServiceOrderStatusDiagnosis},
	domain.ServiceOrderStatusDiagnosis:        {domain.ServiceOrderStatusAwaitingApproval, domain.ServiceOrderStatusRepairing},
	domain.ServiceOrderStatusAwaitingApproval: {domain.ServiceOrderStatusRepairing, domain.ServiceOrderStatusDiagnosis},
	domain.ServiceOrderStatusRepairing:        {domain.ServiceOrderStatusCompleted, domain.ServiceOrderStatusDiagnosis},
	domain.ServiceOrderStatusCompleted:        {domain.ServiceOrderStatusDelivered, domain.ServiceOrderStatusRepairing},
}

// CanTransitionServiceOrder reports whether from may move to to. Same-state moves are not transitions.
func CanTransitionServiceOrder(from, to domain.ServiceOrderStatus) bool {
	return slices.Contains(serviceOrderTransitions[from], to)
}

// ParseServiceOrderStatus accepts canonical values and display forms ("Esperando aprobación").
func ParseServiceOrderStatus(raw string) (domain.ServiceOrderStatus, error) {
	key := textutil.FoldKey(raw)
	for _, status := range domain.ServiceOrderStatuses {
		if string(status) == key {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrServiceOrderInvalidInput, raw)
}

// ImageUploader issues signed upload URLs and recognises URLs it issued.
type ImageUploader interface {
	UploadURL(ctx context.Context, prefix, contentType string) (storage.UploadTarget, error)
	Owns(rawURL string) bool
}

// ServiceOrderServiceDeps bundles collaborators required to construct the service order service.
type ServiceOrderServiceDeps struct {
	Orders      repositories.ServiceOrderRepository
	Uploader    ImageUploader
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Currency    string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type serviceOrderService struct {
	orders   repositories.ServiceOrderRepository
	uploader ImageUploader
	events   EventPublisher
	now      func() time.Time
	newID    func() string
	currency string
	logger   func(context.Context, string, map[string]any)
}

// NewServiceOrderService wires dependencies into a ServiceOrderService.
func NewServiceOrderService(deps ServiceOrderServiceDeps) (ServiceOrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("service order service: repository is required")
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
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "ARS"
	}
	return &serviceOrderService{
		orders:   deps.Orders,
		uploader: deps.Uploader,
		events:   deps.Events,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		currency: currency,
		logger:   logger,
	}, nil
}

func (s *serviceOrderService) Create(ctx context.Context, cmd CreateServiceOrderCommand) (ServiceOrder, error) {
	clientID := strings.TrimSpace(cmd.ClientID)
	if clientID == "" {
		return ServiceOrder{}, fmt.Errorf("%w: client id is required", ErrServiceOrderInvalidInput)
	}
	description := textutil.CleanText(cmd.Description, maxServiceOrderDescription)
	if description == "" {
		return ServiceOrder{}, fmt.Errorf("%w: description is required", ErrServiceOrderInvalidInput)
	}

	now := s.now()
	order := domain.ServiceOrder{
		ID:          "so_" + strings.ToLower(s.newID()),
		ClientID:    clientID,
		Description: description,
		AdminImages: []string{},
		Status:      domain.ServiceOrderStatusReceived,
		Comments:    []domain.ServiceOrderComment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return ServiceOrder{}, s.mapRepositoryError(err)
	}

	s.publish(ctx, DomainEvent{
		Type:        EventServiceOrderCreated,
		AggregateID: order.ID,
		OccurredAt:  now,
		Payload:     map[string]any{"clientId": clientID},
	})
	return order, nil
}

func (s *serviceOrderService) Get(ctx context.Context, orderID string) (ServiceOrder, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return ServiceOrder{}, fmt.Errorf("%w: order id is required", ErrServiceOrderInvalidInput)
	}
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return ServiceOrder{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *serviceOrderService) ListByClient(ctx context.Context, clientID string, pageSize int, pageToken string) (ServiceOrderPage, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return ServiceOrderPage{}, fmt.Errorf("%w: client id is required", ErrServiceOrderInvalidInput)
	}
	return s.List(ctx, ServiceOrderListFilter{ClientID: clientID, PageSize: pageSize, PageToken: pageToken})
}

func (s *serviceOrderService) List(ctx context.Context, filter ServiceOrderListFilter) (ServiceOrderPage, error) {
	repoFilter := repositories.ServiceOrderFilter{
		ClientID:  strings.TrimSpace(filter.ClientID),
		PageSize:  filter.PageSize,
		PageToken: strings.TrimSpace(filter.PageToken),
	}
	if strings.TrimSpace(filter.Status) != "" {
		status, err := ParseServiceOrderStatus(filter.Status)
		if err != nil {
			return ServiceOrderPage{}, err
		}
		repoFilter.Status = status
	}
	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return ServiceOrderPage{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *serviceOrderService) TransitionStatus(ctx context.Context, cmd TransitionServiceOrderCommand) (ServiceOrder, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ServiceOrder{}, fmt.Errorf("%w: order id is required", ErrServiceOrderInvalidInput)
	}
	target, err := ParseServiceOrderStatus(cmd.Target)
	if err != nil {
		return ServiceOrder{}, err
	}
	images, err := s.validateImages(cmd.AdminImages)
	if err != nil {
		return ServiceOrder{}, err
	}
	var description *string
	if cmd.AdminDescription != nil {
		cleaned := textutil.CleanText(*cmd.AdminDescription, maxServiceOrderDescription)
		description = &cleaned
	}

	actor := strings.TrimSpace(cmd.ActorID)
	now := s.now()
	var previous domain.ServiceOrderStatus
	order, err := s.orders.Update(ctx, orderID, func(order *domain.ServiceOrder) error {
		if !CanTransitionServiceOrder(order.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrServiceOrderInvalidTransition, order.Status, target)
		}
		merged := appendUnique(order.AdminImages, images)
		if len(merged) > maxServiceOrderImages {
			return fmt.Errorf("%w: at most %d images per order", ErrServiceOrderInvalidInput, maxServiceOrderImages)
		}
		previous = order.Status
		order.Status = target
		order.AdminImages = merged
		if description != nil {
			order.AdminDescription = description
		}
		order.History = append(order.History, domain.ServiceOrderTransition{
			From:      previous,
			To:        target,
			ActorID:   actor,
			ChangedAt: now,
		})
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return ServiceOrder{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "service_order.status_changed", map[string]any{
		"orderID": order.ID,
		"from":    string(previous),
		"to":      string(target),
		"actorID": actor,
	})
	s.publish(ctx, DomainEvent{
		Type:        EventServiceOrderStatusChanged,
		AggregateID: order.ID,
		OccurredAt:  now,
		Payload: map[string]any{
			"clientId": order.ClientID,
			"from":     string(previous),
			"to":       string(target),
			"actorId":  actor,
		},
	})
	return order, nil
}

func (s *serviceOrderService) AttachQuotation(ctx context.Context, cmd AttachQuotationCommand) (ServiceOrder, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ServiceOrder{}, fmt.Errorf("%w: order id is required", ErrServiceOrderInvalidInput)
	}
	if cmd.Amount <= 0 {
		return ServiceOrder{}, fmt.Errorf("%w: quotation amount must be positive", ErrServiceOrderInvalidInput)
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}
	if len(currency) != 3 {
		return ServiceOrder{}, fmt.Errorf("%w: currency must be an ISO 4217 code", ErrServiceOrderInvalidInput)
	}

	now := s.now()
	quotation := domain.Quotation{
		Amount:     cmd.Amount,
		Currency:   currency,
		Notes:      textutil.CleanText(cmd.Notes, maxQuotationNotes),
		AttachedBy: strings.TrimSpace(cmd.ActorID),
		AttachedAt: now,
	}
	order, err := s.orders.Update(ctx, orderID, func(order *domain.ServiceOrder) error {
		order.Quotation = &quotation
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return ServiceOrder{}, s.mapRepositoryError(err)
	}

	s.publish(ctx, DomainEvent{
		Type:        EventServiceOrderQuotationAttached,
		AggregateID: order.ID,
		OccurredAt:  now,
		Payload: map[string]any{
			"clientId": order.ClientID,
			"amount":   quotation.Amount,
			"currency": quotation.Currency,
			"status":   string(order.Status),
		},
	})
	return order, nil
}

// AppendComment adds to the log. Clients may only comment on their own orders.
func (s *serviceOrderService) AppendComment(ctx context.Context, cmd AppendCommentCommand) (ServiceOrder, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ServiceOrder{}, fmt.Errorf("%w: order id is required", ErrServiceOrderInvalidInput)
	}
	switch cmd.Author {
	case domain.CommentAuthorAdmin, domain.CommentAuthorClient:
	default:
		return ServiceOrder{}, fmt.Errorf("%w: author must be admin or client", ErrServiceOrderInvalidInput)
	}
	text := textutil.CleanText(cmd.Text, maxServiceOrderComment)
	if text == "" {
		return ServiceOrder{}, fmt.Errorf("%w: comment text is required", ErrServiceOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)

	now := s.now()
	comment := domain.ServiceOrderComment{
		ID:        "soc_" + strings.ToLower(s.newID()),
		Text:      text,
		Author:    cmd.Author,
		AuthorID:  actor,
		CreatedAt: now,
	}
	order, err := s.orders.Update(ctx, orderID, func(order *domain.ServiceOrder) error {
		if cmd.Author == domain.CommentAuthorClient && order.ClientID != actor {
			return fmt.Errorf("%w: %s", ErrServiceOrderNotFound, orderID)
		}
		order.Comments = append(order.Comments, comment)
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return ServiceOrder{}, s.mapRepositoryError(err)
	}

	s.publish(ctx, DomainEvent{
		Type:        EventServiceOrderCommentAppended,
		AggregateID: order.ID,
		OccurredAt:  now,
		Payload: map[string]any{
			"clientId":  order.ClientID,
			"commentId": comment.ID,
			"author":    string(comment.Author),
		},
	})
	return order, nil
}

func (s *serviceOrderService) Delete(ctx context.Context, orderID string) error {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return fmt.Errorf("%w: order id is required", ErrServiceOrderInvalidInput)
	}
	err := s.orders.Delete(ctx, id, func(order domain.ServiceOrder) error {
		if order.Status != domain.ServiceOrderStatusReceived {
			return fmt.Errorf("%w: order in %s can no longer be deleted", ErrServiceOrderInvalidTransition, order.Status)
		}
		return nil
	})
	if err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, "service_order.deleted", map[string]any{"orderID": id})
	return nil
}

func (s *serviceOrderService) AdminImageUploadURL(ctx context.Context, orderID, contentType string) (UploadTarget, error) {
	if s.uploader == nil {
		return UploadTarget{}, fmt.Errorf("%w: image uploads are not configured", ErrServiceOrderUnavailable)
	}
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return UploadTarget{}, err
	}
	target, err := s.uploader.UploadURL(ctx, serviceOrderUploadPrefix+"/"+order.ID, contentType)
	if err != nil {
		if errors.Is(err, storage.ErrContentTypeNotAllowed) {
			return UploadTarget{}, fmt.Errorf("%w: %v", ErrServiceOrderInvalidInput, err)
		}
		return UploadTarget{}, fmt.Errorf("%w: %v", ErrServiceOrderUnavailable, err)
	}
	return target, nil
}

func (s *serviceOrderService) validateImages(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, candidate := range raw {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		parsed, err := url.Parse(candidate)
		if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
			return nil, fmt.Errorf("%w: image %q must be an https url", ErrServiceOrderInvalidInput, candidate)
		}
		if s.uploader != nil && !s.uploader.Owns(candidate) {
			return nil, fmt.Errorf("%w: image %q was not uploaded through this service", ErrServiceOrderInvalidInput, candidate)
		}
		out = append(out, candidate)
	}
	return out, nil
}

func (s *serviceOrderService) publish(ctx context.Context, event DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger(ctx, "service_order.event_publish_failed", map[string]any{
			"type":    event.Type,
			"orderID": event.AggregateID,
			"error":   err.Error(),
		})
	}
}

func (s *serviceOrderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrServiceOrderInvalidInput, ErrServiceOrderNotFound, ErrServiceOrderInvalidTransition, ErrServiceOrderConflict} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrServiceOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrServiceOrderConflict, err)
		}
	}
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrServiceOrderInvalidInput, err)
	}
	return fmt.Errorf("%w: %v", ErrServiceOrderUnavailable, err)
}

func appendUnique(existing, extra []string) []string {
	out := slices.Clone(existing)
	if out == nil {
		out = []string{}
	}
	for _, v := range extra {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
