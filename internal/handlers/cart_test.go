package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gamevault/api/internal/domain"
	"github.com/gamevault/api/internal/platform/auth"
	"github.com/gamevault/api/internal/services"
)

type stubCartService struct {
	getFn    func(context.Context, string) (services.CartSnapshot, error)
	addFn    func(context.Context, services.AddCartItemCommand) (services.CartSnapshot, error)
	updateFn func(context.Context, services.UpdateCartItemCommand) (services.CartSnapshot, error)
	removeFn func(context.Context, string, string) (services.CartSnapshot, error)
	clearFn  func(context.Context, string) (services.CartSnapshot, error)
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.CartSnapshot, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return services.CartSnapshot{}, nil
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.CartSnapshot, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return services.CartSnapshot{}, nil
}

func (s *stubCartService) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.CartSnapshot, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.CartSnapshot{}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, userID, itemID string) (services.CartSnapshot, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, userID, itemID)
	}
	return services.CartSnapshot{}, nil
}

func (s *stubCartService) ClearCart(ctx context.Context, userID string) (services.CartSnapshot, error) {
	if s.clearFn != nil {
		return s.clearFn(ctx, userID)
	}
	return services.CartSnapshot{}, nil
}

func newCartRouter(svc services.CartService) chi.Router {
	router := chi.NewRouter()
	router.Route("/cart", NewCartHandlers(nil, svc).Routes)
	return router
}

func withUser(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Email: uid + "@example.com", Roles: roles}))
}

func TestCartHandlersGetCart(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &stubCartService{
		getFn: func(_ context.Context, userID string) (services.CartSnapshot, error) {
			if userID != "user-1" {
				t.Fatalf("unexpected user %q", userID)
			}
			return services.CartSnapshot{
				Items: []domain.CartItem{
					{ID: "p1", Type: domain.ItemTypeProduct, Name: "Joystick", Price: 5000, Quantity: 2},
				},
				Total:     10000,
				Count:     2,
				UpdatedAt: updated,
			}, nil
		},
	}

	req := withUser(httptest.NewRequest(http.MethodGet, "/cart", nil), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body cartPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 10000 || body.Count != 2 {
		t.Fatalf("unexpected totals: %+v", body)
	}
	if len(body.Items) != 1 || body.Items[0].Subtotal != 10000 || body.Items[0].Type != "product" {
		t.Fatalf("unexpected items: %+v", body.Items)
	}
	if body.UpdatedAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected updated_at %q", body.UpdatedAt)
	}
}

func TestCartHandlersRequireIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rr := httptest.NewRecorder()
	newCartRouter(&stubCartService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	var captured services.AddCartItemCommand
	svc := &stubCartService{
		addFn: func(_ context.Context, cmd services.AddCartItemCommand) (services.CartSnapshot, error) {
			captured = cmd
			return services.CartSnapshot{Count: cmd.Quantity}, nil
		},
	}

	req := withUser(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"id":"c1","quantity":2}`)), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" || captured.ItemID != "c1" || captured.Quantity != 2 {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestCartHandlersRejectsClientPrice(t *testing.T) {
	called := false
	svc := &stubCartService{
		addFn: func(context.Context, services.AddCartItemCommand) (services.CartSnapshot, error) {
			called = true
			return services.CartSnapshot{}, nil
		},
	}

	req := withUser(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"id":"c1","quantity":1,"price":1}`)), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if called {
		t.Fatalf("service must not be called for unknown fields")
	}
}

func TestCartHandlersUpdateItem(t *testing.T) {
	var captured services.UpdateCartItemCommand
	svc := &stubCartService{
		updateFn: func(_ context.Context, cmd services.UpdateCartItemCommand) (services.CartSnapshot, error) {
			captured = cmd
			return services.CartSnapshot{}, nil
		},
	}
	router := newCartRouter(svc)

	req := withUser(httptest.NewRequest(http.MethodPatch, "/cart/items/p1", strings.NewReader(`{"quantity":0}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.ItemID != "p1" || captured.Quantity != 0 {
		t.Fatalf("unexpected command %+v", captured)
	}

	req = withUser(httptest.NewRequest(http.MethodPatch, "/cart/items/p1", strings.NewReader(`{}`)), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when quantity missing, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveAndClear(t *testing.T) {
	var removed, cleared string
	svc := &stubCartService{
		removeFn: func(_ context.Context, userID, itemID string) (services.CartSnapshot, error) {
			removed = userID + "/" + itemID
			return services.CartSnapshot{}, nil
		},
		clearFn: func(_ context.Context, userID string) (services.CartSnapshot, error) {
			cleared = userID
			return services.CartSnapshot{}, nil
		},
	}
	router := newCartRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodDelete, "/cart/items/s1", nil), "user-2"))
	if rr.Code != http.StatusOK || removed != "user-2/s1" {
		t.Fatalf("remove: status %d removed %q", rr.Code, removed)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodDelete, "/cart", nil), "user-2"))
	if rr.Code != http.StatusOK || cleared != "user-2" {
		t.Fatalf("clear: status %d cleared %q", rr.Code, cleared)
	}
}

func TestCartHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid", err: fmt.Errorf("%w: quantity", services.ErrCartInvalidInput), status: http.StatusBadRequest, code: "invalid_request"},
		{name: "not found", err: fmt.Errorf("%w: nope", services.ErrCartItemNotFound), status: http.StatusNotFound, code: "item_not_found"},
		{name: "unavailable", err: fmt.Errorf("%w: redis", services.ErrCartUnavailable), status: http.StatusServiceUnavailable, code: "cart_unavailable"},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: "cart_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCartService{
				getFn: func(context.Context, string) (services.CartSnapshot, error) {
					return services.CartSnapshot{}, tc.err
				},
			}
			rr := httptest.NewRecorder()
			newCartRouter(svc).ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/cart", nil), "user-1"))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

var _ services.CartService = (*stubCartService)(nil)
