// Package cart holds the per-session cart store. The total is always derived from the items.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gamevault/api/internal/domain"
)

// ErrStorageMiss is returned by Storage.Get when no value is stored under the key.
var ErrStorageMiss = errors.New("cart: storage miss")

// ErrQuantityLimit is returned by AddQuantity when a line would exceed its limit.
var ErrQuantityLimit = errors.New("cart: quantity limit exceeded")

// Storage is the durable key-value store used to survive restarts.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Entry is the catalogue data needed to add a line.
type Entry struct {
	ID    string
	Type  domain.ItemType
	Name  string
	Price int64
	Image string
}

// Snapshot is an immutable view of the cart at one point in time.
type Snapshot struct {
	Items     []domain.CartItem
	Total     int64
	Count     int
	UpdatedAt time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithLogger installs the hook that receives persistence failures.
func WithLogger(logger func(context.Context, string, map[string]any)) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Store is a session-scoped cart. Mutations never fail; persistence errors are logged and dropped.
type Store struct {
	mu        sync.Mutex
	storage   Storage
	key       string
	items     []domain.CartItem
	updatedAt time.Time
	version   uint64

	persistMu sync.Mutex
	persisted uint64

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	logger func(context.Context, string, map[string]any)
	now    func() time.Time
}

// NewStore builds a store for key and rehydrates it from storage. A nil storage keeps the cart in memory only.
func NewStore(ctx context.Context, storage Storage, key string, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		key:     strings.TrimSpace(key),
		subs:    make(map[int]func(Snapshot)),
		logger:  func(context.Context, string, map[string]any) {},
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.items = s.load(ctx)
	return s
}

// Key returns the storage key.
func (s *Store) Key() string { return s.key }

// AddItem increments the quantity of an existing line with the same id, or appends a new line with quantity 1.
func (s *Store) AddItem(ctx context.Context, entry Entry) {
	_ = s.AddQuantity(ctx, entry, 1, 0)
}

// AddQuantity adds n units of entry in one mutation, merging into an existing line with the same id.
// When limit is positive and the line would exceed it, the cart is left untouched and ErrQuantityLimit is returned.
func (s *Store) AddQuantity(ctx context.Context, entry Entry, n, limit int) error {
	id := strings.TrimSpace(entry.ID)
	if id == "" || n <= 0 {
		return nil
	}
	var err error
	s.mutate(ctx, func(items []domain.CartItem) []domain.CartItem {
		idx := indexOf(items, id)
		current := 0
		if idx >= 0 {
			current = items[idx].Quantity
		}
		if limit > 0 && current+n > limit {
			err = fmt.Errorf("%w: %s would hold %d, limit %d", ErrQuantityLimit, id, current+n, limit)
			return nil
		}
		if idx >= 0 {
			items[idx].Quantity += n
			return items
		}
		return append(items, domain.CartItem{
			ID:       id,
			Type:     entry.Type,
			Name:     entry.Name,
			Price:    entry.Price,
			Image:    entry.Image,
			Quantity: n,
		})
	})
	return err
}

// UpdateQuantity sets the quantity for id. A quantity of zero or less removes the line; unknown ids are ignored.
func (s *Store) UpdateQuantity(ctx context.Context, id string, quantity int) {
	id = strings.TrimSpace(id)
	s.mutate(ctx, func(items []domain.CartItem) []domain.CartItem {
		idx := indexOf(items, id)
		if idx < 0 {
			return nil
		}
		if quantity <= 0 {
			return slices.Delete(items, idx, idx+1)
		}
		items[idx].Quantity = quantity
		return items
	})
}

// RemoveItem drops the line for id if present.
func (s *Store) RemoveItem(ctx context.Context, id string) {
	id = strings.TrimSpace(id)
	s.mutate(ctx, func(items []domain.CartItem) []domain.CartItem {
		idx := indexOf(items, id)
		if idx < 0 {
			return nil
		}
		return slices.Delete(items, idx, idx+1)
	})
}

// Clear empties the cart. Clearing an empty cart still persists the empty state.
func (s *Store) Clear(ctx context.Context) {
	s.mutate(ctx, func([]domain.CartItem) []domain.CartItem {
		return []domain.CartItem{}
	})
}

// Items returns a copy of the lines in insertion order.
func (s *Store) Items() []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Total recomputes the sum of price times quantity.
func (s *Store) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Cart{Items: s.items}.Total()
}

// Count returns the number of units in the cart.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Cart{Items: s.items}.Count()
}

// Empty reports whether the cart has no lines.
func (s *Store) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items) == 0
}

// Snapshot returns items and derived totals read under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every mutation. The returned func unregisters it.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// mutate applies fn to a copy of the items. A nil result means nothing changed.
func (s *Store) mutate(ctx context.Context, fn func([]domain.CartItem) []domain.CartItem) {
	s.mu.Lock()
	next := fn(slices.Clone(s.items))
	if next == nil {
		s.mu.Unlock()
		return
	}
	s.items = next
	s.updatedAt = s.now().UTC()
	s.version++
	version := s.version
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, version, snap.Items)
	s.notify(snap)
}

// persist writes items unless a newer version has already been stored.
func (s *Store) persist(ctx context.Context, version uint64, items []domain.CartItem) {
	if s.storage == nil || s.key == "" {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if version <= s.persisted {
		return
	}
	payload, err := json.Marshal(items)
	if err != nil {
		s.logger(ctx, "cart.persist_encode_failed", map[string]any{"key": s.key, "error": err.Error()})
		return
	}
	if err := s.storage.Set(ctx, s.key, payload); err != nil {
		s.logger(ctx, "cart.persist_failed", map[string]any{"key": s.key, "error": err.Error()})
		return
	}
	s.persisted = version
}

func (s *Store) load(ctx context.Context) []domain.CartItem {
	items := []domain.CartItem{}
	if s.storage == nil || s.key == "" {
		return items
	}
	raw, err := s.storage.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrStorageMiss) {
			s.logger(ctx, "cart.rehydrate_failed", map[string]any{"key": s.key, "error": err.Error()})
		}
		return items
	}
	var stored []domain.CartItem
	if err := json.Unmarshal(raw, &stored); err != nil {
		s.logger(ctx, "cart.rehydrate_corrupt", map[string]any{"key": s.key, "error": err.Error()})
		return items
	}
	for _, item := range stored {
		item.ID = strings.TrimSpace(item.ID)
		if item.ID == "" || item.Quantity <= 0 {
			continue
		}
		if idx := indexOf(items, item.ID); idx >= 0 {
			items[idx].Quantity += item.Quantity
			continue
		}
		items = append(items, item)
	}
	return items
}

func (s *Store) snapshotLocked() Snapshot {
	cart := domain.Cart{Items: s.items}
	return Snapshot{
		Items:     slices.Clone(s.items),
		Total:     cart.Total(),
		Count:     cart.Count(),
		UpdatedAt: s.updatedAt,
	}
}

func (s *Store) notify(snap Snapshot) {
	s.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func indexOf(items []domain.CartItem, id string) int {
	return slices.IndexFunc(items, func(item domain.CartItem) bool { return item.ID == id })
}
