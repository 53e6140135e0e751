package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gamevault/api/internal/cart"
	"github.com/gamevault/api/internal/repositories"
)

const maxCartLineQuantity = 99

var (
	errCartCatalogRequired = errors.New("cart service: catalog repository is required")
	errCartClockRequired   = errors.New("cart service: clock is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartItemNotFound indicates the catalogue entry does not exist or is not for sale.
var ErrCartItemNotFound = errors.New("cart service: item not found")

// ErrCartUnavailable indicates the catalogue could not be reached.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// CartServiceDeps wires the catalogue and durable storage used by per-user cart stores.
type CartServiceDeps struct {
	Catalog repositories.CatalogRepository
	// Storage may be nil, in which case carts live only in process memory.
	Storage cart.Storage
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

type cartSession struct {
	store    *cart.Store
	lastSeen time.Time
}

// CartSessions holds one store per user. Rehydration for a user happens once even under
// concurrent first requests.
type CartSessions struct {
	catalog repositories.CatalogRepository
	storage cart.Storage
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)

	mu       sync.Mutex
	sessions map[string]*cartSession
	loads    singleflight.Group
}

var _ CartService = (*CartSessions)(nil)

// NewCartService constructs the cart session registry.
func NewCartService(deps CartServiceDeps) (*CartSessions, error) {
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CartSessions{
		catalog:  deps.Catalog,
		storage:  deps.Storage,
		now:      func() time.Time { return deps.Clock().UTC() },
		logger:   logger,
		sessions: make(map[string]*cartSession),
	}, nil
}

func (s *CartSessions) GetCart(ctx context.Context, userID string) (CartSnapshot, error) {
	store, err := s.store(ctx, userID)
	if err != nil {
		return CartSnapshot{}, err
	}
	return store.Snapshot(), nil
}

func (s *CartSessions) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartSnapshot, error) {
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return CartSnapshot{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}
	qty := cmd.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 0 || qty > maxCartLineQuantity {
		return CartSnapshot{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartLineQuantity)
	}

	store, err := s.store(ctx, cmd.UserID)
	if err != nil {
		return CartSnapshot{}, err
	}

	product, err := s.catalog.GetProduct(ctx, itemID)
	if err != nil {
		return CartSnapshot{}, s.translateRepoError(err)
	}
	if !product.Active {
		return CartSnapshot{}, fmt.Errorf("%w: %s is not for sale", ErrCartItemNotFound, itemID)
	}

	entry := cart.Entry{
		ID:    product.ID,
		Type:  product.Type,
		Name:  product.Name,
		Price: product.Price,
		Image: product.Image,
	}
	if err := store.AddQuantity(ctx, entry, qty, maxCartLineQuantity); err != nil {
		if errors.Is(err, cart.ErrQuantityLimit) {
			return CartSnapshot{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartLineQuantity)
		}
		return CartSnapshot{}, err
	}
	return store.Snapshot(), nil
}

func (s *CartSessions) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartSnapshot, error) {
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return CartSnapshot{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity > maxCartLineQuantity {
		return CartSnapshot{}, fmt.Errorf("%w: quantity must be at most %d", ErrCartInvalidInput, maxCartLineQuantity)
	}
	store, err := s.store(ctx, cmd.UserID)
	if err != nil {
		return CartSnapshot{}, err
	}
	store.UpdateQuantity(ctx, itemID, cmd.Quantity)
	return store.Snapshot(), nil
}

func (s *CartSessions) RemoveItem(ctx context.Context, userID, itemID string) (CartSnapshot, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return CartSnapshot{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}
	store, err := s.store(ctx, userID)
	if err != nil {
		return CartSnapshot{}, err
	}
	store.RemoveItem(ctx, itemID)
	return store.Snapshot(), nil
}

func (s *CartSessions) ClearCart(ctx context.Context, userID string) (CartSnapshot, error) {
	store, err := s.store(ctx, userID)
	if err != nil {
		return CartSnapshot{}, err
	}
	store.Clear(ctx)
	return store.Snapshot(), nil
}

// EvictIdle drops in-memory stores not touched since cutoff. Their state stays in storage and is
// rehydrated on the next request.
func (s *CartSessions) EvictIdle(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for uid, session := range s.sessions {
		if session.lastSeen.Before(cutoff) {
			delete(s.sessions, uid)
			evicted++
		}
	}
	return evicted
}

func (s *CartSessions) store(ctx context.Context, userID string) (*cart.Store, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if store := s.touch(uid); store != nil {
		return store, nil
	}

	v, _, _ := s.loads.Do(uid, func() (any, error) {
		if store := s.touch(uid); store != nil {
			return store, nil
		}
		store := cart.NewStore(context.WithoutCancel(ctx), s.storage, uid, cart.WithLogger(s.logger), cart.WithClock(s.now))
		s.mu.Lock()
		s.sessions[uid] = &cartSession{store: store, lastSeen: s.now()}
		s.mu.Unlock()
		return store, nil
	})
	return v.(*cart.Store), nil
}

func (s *CartSessions) touch(uid string) *cart.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[uid]
	if !ok {
		return nil
	}
	session.lastSeen = s.now()
	return session.store
}

func (s *CartSessions) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCartItemNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}
