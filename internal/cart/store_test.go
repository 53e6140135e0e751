package cart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamevault/api/internal/domain"
)

type mapStorage struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	setErr  error
	setCall int
}

func newMapStorage() *mapStorage {
	return &mapStorage{data: map[string][]byte{}}
}

func (m *mapStorage) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrStorageMiss
	}
	return v, nil
}

func (m *mapStorage) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCall++
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

var (
	p1 = Entry{ID: "p1", Type: domain.ItemTypeProduct, Name: "Mando Pro", Price: 10000}
	p2 = Entry{ID: "p2", Type: domain.ItemTypeProduct, Name: "Cable HDMI", Price: 5000}
)

func TestStoreAddItemMergesSameID(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, newMapStorage(), "cart:u1")

	store.AddItem(ctx, p1)
	store.AddItem(ctx, p1)

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, int64(20000), store.Total())
}

func TestStoreExampleScenario(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, newMapStorage(), "cart:u1")

	store.AddItem(ctx, p1)
	store.AddItem(ctx, p1)
	store.AddItem(ctx, p2)
	assert.Equal(t, int64(25000), store.Total())
	assert.Equal(t, 3, store.Count())

	store.UpdateQuantity(ctx, "p1", 0)

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "p2", items[0].ID)
	assert.Equal(t, 1, items[0].Quantity)
	assert.Equal(t, int64(5000), store.Total())
}

func TestStoreUpdateQuantity(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, nil, "")
	store.AddItem(ctx, p1)
	store.AddItem(ctx, p2)

	store.UpdateQuantity(ctx, "p2", 4)
	store.UpdateQuantity(ctx, "missing", 3)
	assert.Equal(t, int64(10000+4*5000), store.Total())

	store.UpdateQuantity(ctx, "p1", -2)
	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "p2", items[0].ID)
}

func TestStoreRemoveAndClearAreIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, newMapStorage(), "cart:u1")
	store.AddItem(ctx, p1)

	store.RemoveItem(ctx, "p1")
	store.RemoveItem(ctx, "p1")
	assert.True(t, store.Empty())

	store.Clear(ctx)
	store.Clear(ctx)
	assert.Empty(t, store.Items())
	assert.NotNil(t, store.Items())
	assert.Zero(t, store.Total())
}

func TestStoreTotalMatchesItemsAfterEveryMutation(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, nil, "")
	ops := []func(){
		func() { store.AddItem(ctx, p1) },
		func() { store.AddItem(ctx, p2) },
		func() { store.UpdateQuantity(ctx, "p2", 7) },
		func() { store.AddItem(ctx, p1) },
		func() { store.RemoveItem(ctx, "p2") },
		func() { store.UpdateQuantity(ctx, "p1", 1) },
		func() { store.Clear(ctx) },
		func() { store.AddItem(ctx, p2) },
	}
	for i, op := range ops {
		op()
		snap := store.Snapshot()
		var want int64
		for _, item := range snap.Items {
			assert.GreaterOrEqual(t, item.Quantity, 1)
			want += item.Price * int64(item.Quantity)
		}
		assert.Equal(t, want, snap.Total, "after op %d", i)
	}
}

func TestStorePersistsAndRehydrates(t *testing.T) {
	ctx := context.Background()
	storage := newMapStorage()
	store := NewStore(ctx, storage, "cart:u1")
	store.AddItem(ctx, p1)
	store.AddItem(ctx, p2)
	store.UpdateQuantity(ctx, "p2", 3)

	reloaded := NewStore(ctx, storage, "cart:u1")
	assert.Equal(t, store.Items(), reloaded.Items())
	assert.Equal(t, int64(25000), reloaded.Total())
}

func TestStoreRehydrateDropsInvalidLines(t *testing.T) {
	ctx := context.Background()
	storage := newMapStorage()
	storage.data["cart:u1"] = []byte(`[{"id":"p1","price":100,"quantity":2},{"id":"","quantity":1},{"id":"p2","price":50,"quantity":0},{"id":"p1","price":100,"quantity":1}]`)

	store := NewStore(ctx, storage, "cart:u1")
	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
}

func TestStoreRehydrateFailuresStartEmpty(t *testing.T) {
	ctx := context.Background()
	var events []string
	logger := func(_ context.Context, event string, _ map[string]any) { events = append(events, event) }

	corrupt := newMapStorage()
	corrupt.data["k"] = []byte("{not json")
	assert.True(t, NewStore(ctx, corrupt, "k", WithLogger(logger)).Empty())

	down := newMapStorage()
	down.getErr = errors.New("connection refused")
	assert.True(t, NewStore(ctx, down, "k", WithLogger(logger)).Empty())

	assert.True(t, NewStore(ctx, newMapStorage(), "k", WithLogger(logger)).Empty())
	assert.Equal(t, []string{"cart.rehydrate_corrupt", "cart.rehydrate_failed"}, events)
}

func TestStorePersistenceFailureKeepsMutation(t *testing.T) {
	ctx := context.Background()
	storage := newMapStorage()
	storage.setErr = errors.New("quota exceeded")
	var logged []map[string]any
	store := NewStore(ctx, storage, "cart:u1", WithLogger(func(_ context.Context, event string, fields map[string]any) {
		if event == "cart.persist_failed" {
			logged = append(logged, fields)
		}
	}))

	store.AddItem(ctx, p1)

	assert.Equal(t, int64(10000), store.Total())
	assert.Equal(t, 1, storage.setCall)
	require.Len(t, logged, 1)
	assert.Equal(t, "cart:u1", logged[0]["key"])
}

func TestStoreNoopMutationsDoNotPersist(t *testing.T) {
	ctx := context.Background()
	storage := newMapStorage()
	store := NewStore(ctx, storage, "cart:u1")

	store.RemoveItem(ctx, "ghost")
	store.UpdateQuantity(ctx, "ghost", 2)
	store.AddItem(ctx, Entry{ID: "  "})

	assert.Zero(t, storage.setCall)
}

func TestStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(ctx, nil, "", WithClock(func() time.Time { return now }))

	var seen []Snapshot
	cancel := store.Subscribe(func(s Snapshot) { seen = append(seen, s) })
	store.AddItem(ctx, p1)
	store.AddItem(ctx, p1)
	cancel()
	cancel()
	store.AddItem(ctx, p2)

	require.Len(t, seen, 2)
	assert.Equal(t, int64(20000), seen[1].Total)
	assert.Equal(t, now, seen[1].UpdatedAt)
}

func TestStoreConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, newMapStorage(), "cart:u1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.AddItem(ctx, p2)
		}()
	}
	wg.Wait()

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 50, items[0].Quantity)
	assert.Equal(t, int64(250000), store.Total())
}

func TestStoreConcurrentAddsPersistLatest(t *testing.T) {
	ctx := context.Background()
	storage := newMapStorage()
	store := NewStore(ctx, storage, "cart:u1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.AddItem(ctx, p1)
		}()
	}
	wg.Wait()

	reloaded := NewStore(ctx, storage, "cart:u1")
	assert.Equal(t, store.Items(), reloaded.Items())
}

func TestStoreAddQuantityIsOneMutation(t *testing.T) {
	ctx := context.Background()
	storage := newMapStorage()
	store := NewStore(ctx, storage, "cart:u1")
	var events []Snapshot
	store.Subscribe(func(snap Snapshot) { events = append(events, snap) })

	require.NoError(t, store.AddQuantity(ctx, p1, 3, 99))
	require.NoError(t, store.AddQuantity(ctx, p1, 2, 99))

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
	assert.Equal(t, 2, storage.setCall)
	assert.Len(t, events, 2)
}

func TestStoreAddQuantityRespectsLimit(t *testing.T) {
	ctx := context.Background()
	storage := newMapStorage()
	store := NewStore(ctx, storage, "cart:u1")

	require.NoError(t, store.AddQuantity(ctx, p1, 4, 5))
	err := store.AddQuantity(ctx, p1, 2, 5)
	require.ErrorIs(t, err, ErrQuantityLimit)

	assert.Equal(t, 4, store.Items()[0].Quantity)
	assert.Equal(t, 1, storage.setCall)
	assert.NoError(t, store.AddQuantity(ctx, p2, 0, 5))
	assert.Len(t, store.Items(), 1)
}

func TestStoreConcurrentAddQuantityNeverPassesLimit(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, newMapStorage(), "cart:u1")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		rejected int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.AddQuantity(ctx, p1, 5, 99); errors.Is(err, ErrQuantityLimit) {
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 95, items[0].Quantity)
	assert.Equal(t, 1, rejected)
}
