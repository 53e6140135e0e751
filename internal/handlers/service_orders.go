package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gamevault/api/internal/domain"
	"github.com/gamevault/api/internal/platform/auth"
	"github.com/gamevault/api/internal/platform/httpx"
	"github.com/gamevault/api/internal/platform/pagination"
	"github.com/gamevault/api/internal/services"
)

const maxServiceOrderBodySize = 32 * 1024

// ServiceOrderHandlers exposes the repair workflow to clients and administrators.
type ServiceOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.ServiceOrderService
}

// NewServiceOrderHandlers constructs service order handlers.
func NewServiceOrderHandlers(authn *auth.Authenticator, orders services.ServiceOrderService) *ServiceOrderHandlers {
	return &ServiceOrderHandlers{authn: authn, orders: orders}
}

// Routes registers the client endpoints under /service-orders.
func (h *ServiceOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listMyOrders)
	r.Get("/{orderId}", h.getOrder)
	r.Post("/{orderId}/comments", h.appendClientComment)
}

// AdminRoutes registers the /service-orders subtree of the admin group.
func (h *ServiceOrderHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/service-orders", func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
		}
		admin.Get("/", h.adminListOrders)
		admin.Get("/{orderId}", h.adminGetOrder)
		admin.Delete("/{orderId}", h.adminDeleteOrder)
		admin.Post("/{orderId}/transition", h.adminTransition)
		admin.Post("/{orderId}/quotation", h.adminAttachQuotation)
		admin.Post("/{orderId}/comments", h.adminAppendComment)
		admin.Post("/{orderId}/images/upload-url", h.adminUploadURL)
	})
}

type createServiceOrderRequest struct {
	Description string `json:"description"`
}

type commentRequest struct {
	Text string `json:"text"`
}

type transitionRequest struct {
	Status           string   `json:"status"`
	AdminDescription *string  `json:"adminDescription,omitempty"`
	AdminImages      []string `json:"adminImages,omitempty"`
}

type quotationRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type uploadURLRequest struct {
	ContentType string `json:"contentType"`
}

type serviceOrderPayload struct {
	ID               string              `json:"id"`
	ClientID         string              `json:"clientId"`
	Description      string              `json:"description"`
	AdminDescription *string             `json:"adminDescription,omitempty"`
	AdminImages      []string            `json:"adminImages"`
	Quotation        *quotationPayload   `json:"quotation,omitempty"`
	Status           string              `json:"status"`
	History          []transitionPayload `json:"history,omitempty"`
	Comments         []commentPayload    `json:"comments"`
	CreatedAt        string              `json:"createdAt"`
	UpdatedAt        string              `json:"updatedAt,omitempty"`
}

type quotationPayload struct {
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Notes      string `json:"notes,omitempty"`
	AttachedAt string `json:"attachedAt,omitempty"`
}

type transitionPayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	ChangedAt string `json:"changedAt"`
}

type commentPayload struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Author    string `json:"author"`
	CreatedAt string `json:"createdAt"`
}

type serviceOrderListPayload struct {
	Items         []serviceOrderPayload `json:"items"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

type uploadTargetPayload struct {
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	ObjectPath string            `json:"objectPath"`
	PublicURL  string            `json:"publicUrl"`
	ExpiresAt  string            `json:"expiresAt"`
}

func (h *ServiceOrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	var req createServiceOrderRequest
	if !decodeBody(w, r, maxServiceOrderBodySize, &req) {
		return
	}
	order, err := h.orders.Create(ctx, services.CreateServiceOrderCommand{
		ClientID:    identity.UID,
		Description: req.Description,
	})
	if err != nil {
		writeServiceOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildServiceOrderPayload(order, false))
}

func (h *ServiceOrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	params, err := pagination.FromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.orders.ListByClient(ctx, identity.UID, params.PageSize, params.PageToken)
	if err != nil {
		writeServiceOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildServiceOrderList(page, false))
}

func (h *ServiceOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	order, err := h.orders.Get(ctx, orderIDParam(r))
	if err != nil {
		writeServiceOrderError(ctx, w, err)
		return
	}
	if order.ClientID != identity.UID && !identity.IsAdmin() {
		writeServiceOrderError(ctx, w, services.ErrServiceOrderNotFound)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildServiceOrderPayload(order, identity.IsAdmin()))
}

func (h *ServiceOrderHandlers) appendClientComment(w http.ResponseWriter, r *http.Request) {
	h.appendComment(w, r, domain.CommentAuthorClient)
}

func (h *ServiceOrderHandlers) adminAppendComment(w http.ResponseWriter, r *http.Request) {
	h.appendComment(w, r, domain.CommentAuthorAdmin)
}

func (h *ServiceOrderHandlers) appendComment(w http.ResponseWriter, r *http.Request, author domain.CommentAuthor) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	var req commentRequest
	if !decodeBody(w, r, maxServiceOrderBodySize, &req) {
		return
	}
	order, err := h.orders.AppendComment(ctx, services.AppendCommentCommand{
		OrderID: orderIDParam(r),
		Text:    req.Text,
		Author:  author,
		ActorID: identity.UID,
	})
	if err != nil {
		writeServiceOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildServiceOrderPayload(order, author == domain.CommentAuthorAdmin))
}

func (h *ServiceOrderHandlers) adminListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.ready(ctx, w); !ok {
		return
	}
	params, err := pagination.FromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	query := r.URL.Query()
	page, err := h.orders.List(ctx, services.ServiceOrderListFilter{
		ClientID:  strings.TrimSpace(query.Get("clientId")),
		Status:    strings.TrimSpace(query.Get("status")),
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeServiceOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildServiceOrderList(page, true))
}

func (h *ServiceOrderHandlers) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.ready(ctx, w); !ok {
		return
	}
	order, err := h.orders.Get(ctx, orderIDParam(r))
	if err != nil {
		writeServiceOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildServiceOrderPayload(order, true))
}

func (h *ServiceOrderHandlers) adminDeleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.ready(ctx, w); !ok {
		return
	}
	if err := h.orders.Delete(ctx, orderIDParam(r)); err != nil {
		writeServiceOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ServiceOrderHandlers) adminTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeBody(w, r, maxServiceOrderBodySize, &req) {
		return
	}
	order, err := h.orders.TransitionStatus(ctx, services.TransitionServiceOrderCommand{
		OrderID:          orderIDParam(r),
		Target:           req.Status,
		AdminDescription: req.AdminDescription,
		AdminImages:      req.AdminImages,
		ActorID:          identity.UID,
	})
	if err != nil {
		writeServiceOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildServiceOrderPayload(order, true))
}

func (h *ServiceOrderHandlers) adminAttachQuotation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	var req quotationRequest
	if !decodeBody(w, r, maxServiceOrderBodySize, &req) {
		return
	}
	order, err := h.orders.AttachQuotation(ctx, services.AttachQuotationCommand{
		OrderID:  orderIDParam(r),
		Amount:   req.Amount,
		Currency: req.Currency,
		Notes:    req.Notes,
		ActorID:  identity.UID,
	})
	if err != nil {
		writeServiceOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildServiceOrderPayload(order, true))
}

func (h *ServiceOrderHandlers) adminUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.ready(ctx, w); !ok {
		return
	}
	var req uploadURLRequest
	if !decodeBody(w, r, maxServiceOrderBodySize, &req) {
		return
	}
	target, err := h.orders.AdminImageUploadURL(ctx, orderIDParam(r), req.ContentType)
	if err != nil {
		writeServiceOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, uploadTargetPayload{
		URL:        target.URL,
		Method:     target.Method,
		Headers:    target.Headers,
		ObjectPath: target.ObjectPath,
		PublicURL:  target.PublicURL,
		ExpiresAt:  formatTime(target.ExpiresAt),
	})
}

func (h *ServiceOrderHandlers) ready(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_orders_unavailable", "service order service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	return requireIdentity(ctx, w)
}

func orderIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "orderId"))
}

func buildServiceOrderList(page services.ServiceOrderPage, admin bool) serviceOrderListPayload {
	items := make([]serviceOrderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildServiceOrderPayload(order, admin))
	}
	return serviceOrderListPayload{Items: items, NextPageToken: page.NextPageToken}
}

// buildServiceOrderPayload renders an order. The transition history is only shown to admins.
func buildServiceOrderPayload(order services.ServiceOrder, admin bool) serviceOrderPayload {
	payload := serviceOrderPayload{
		ID:               order.ID,
		ClientID:         order.ClientID,
		Description:      order.Description,
		AdminDescription: order.AdminDescription,
		AdminImages:      append([]string{}, order.AdminImages...),
		Status:           string(order.Status),
		Comments:         make([]commentPayload, 0, len(order.Comments)),
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
	}
	if order.Quotation != nil {
		payload.Quotation = &quotationPayload{
			Amount:     order.Quotation.Amount,
			Currency:   order.Quotation.Currency,
			Notes:      order.Quotation.Notes,
			AttachedAt: formatTime(order.Quotation.AttachedAt),
		}
	}
	for _, comment := range order.Comments {
		payload.Comments = append(payload.Comments, commentPayload{
			ID:        comment.ID,
			Text:      comment.Text,
			Author:    string(comment.Author),
			CreatedAt: formatTime(comment.CreatedAt),
		})
	}
	if admin {
		for _, change := range order.History {
			payload.History = append(payload.History, transitionPayload{
				From:      string(change.From),
				To:        string(change.To),
				ChangedAt: formatTime(change.ChangedAt),
			})
		}
	}
	return payload
}

func writeServiceOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrServiceOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrServiceOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("service_order_not_found", "service order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrServiceOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrServiceOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("service_order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrServiceOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_orders_unavailable", "service orders are temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("service_order_error", "failed to process service order request", http.StatusInternalServerError))
	}
}
