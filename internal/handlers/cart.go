package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gamevault/api/internal/platform/auth"
	"github.com/gamevault/api/internal/platform/httpx"
	"github.com/gamevault/api/internal/services"
)

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

const maxCartBodySize = 16 * 1024

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemId}", h.updateItem)
	r.Delete("/items/{itemId}", h.removeItem)
}

type addCartItemRequest struct {
	ItemID   string `json:"id"`
	Quantity int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

type cartItemPayload struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Image    string `json:"image,omitempty"`
	Quantity int    `json:"quantity"`
	Subtotal int64  `json:"subtotal"`
}

type cartPayload struct {
	Items     []cartItemPayload `json:"items"`
	Total     int64             `json:"total"`
	Count     int               `json:"count"`
	UpdatedAt string            `json:"updated_at,omitempty"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(ctx context.Context, uid string) (services.CartSnapshot, error) {
		return h.carts.GetCart(ctx, uid)
	})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(ctx context.Context, uid string) (services.CartSnapshot, error) {
		return h.carts.ClearCart(ctx, uid)
	})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemRequest
	if !decodeBody(w, r, maxCartBodySize, &req) {
		return
	}
	h.respond(w, r, func(ctx context.Context, uid string) (services.CartSnapshot, error) {
		return h.carts.AddItem(ctx, services.AddCartItemCommand{UserID: uid, ItemID: req.ItemID, Quantity: req.Quantity})
	})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	var req updateCartItemRequest
	if !decodeBody(w, r, maxCartBodySize, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}
	itemID := strings.TrimSpace(chi.URLParam(r, "itemId"))
	h.respond(w, r, func(ctx context.Context, uid string) (services.CartSnapshot, error) {
		return h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{UserID: uid, ItemID: itemID, Quantity: *req.Quantity})
	})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	itemID := strings.TrimSpace(chi.URLParam(r, "itemId"))
	h.respond(w, r, func(ctx context.Context, uid string) (services.CartSnapshot, error) {
		return h.carts.RemoveItem(ctx, uid, itemID)
	})
}

func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request, call func(context.Context, string) (services.CartSnapshot, error)) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	snapshot, err := call(ctx, identity.UID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(snapshot))
}

func buildCartPayload(snapshot services.CartSnapshot) cartPayload {
	items := make([]cartItemPayload, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		items = append(items, cartItemPayload{
			ID:       item.ID,
			Type:     string(item.Type),
			Name:     item.Name,
			Price:    item.Price,
			Image:    item.Image,
			Quantity: item.Quantity,
			Subtotal: item.Subtotal(),
		})
	}
	return cartPayload{
		Items:     items,
		Total:     snapshot.Total,
		Count:     snapshot.Count,
		UpdatedAt: formatTime(snapshot.UpdatedAt),
	}
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}
