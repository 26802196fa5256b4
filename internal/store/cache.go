package store

import (
	"container/list"
	"context"
	"sync"

	"github.com/joescharf/taskreview/internal/models"
)

// DefaultCacheSize is the LRU capacity used when none is configured.
const DefaultCacheSize = 1024

// CachedStore is a read-through cache over another Store. GetTask and
// GetBundle are served from a bounded LRU; writers call Invalidate with the
// ids they touched after their transaction commits. Transactional reads in
// InTx always go to the underlying store.
type CachedStore struct {
	Store

	mu      sync.Mutex
	cap     int
	ll      *list.List
	entries map[cacheKey]*list.Element
}

var _ Store = (*CachedStore)(nil)

type cacheKind int

const (
	cacheTask cacheKind = iota
	cacheBundle
)

type cacheKey struct {
	kind cacheKind
	id   int64
}

type cacheEntry struct {
	key   cacheKey
	value any
}

// NewCachedStore wraps s with an LRU holding at most size tasks and bundles.
func NewCachedStore(s Store, size int) *CachedStore {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &CachedStore{
		Store:   s,
		cap:     size,
		ll:      list.New(),
		entries: make(map[cacheKey]*list.Element),
	}
}

func (c *CachedStore) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	key := cacheKey{cacheTask, id}
	if v, ok := c.get(key); ok {
		return v.(*models.Task).Clone(), nil
	}
	t, err := c.Store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(key, t.Clone())
	return t, nil
}

func (c *CachedStore) GetBundle(ctx context.Context, id int64) (*models.TaskBundle, error) {
	key := cacheKey{cacheBundle, id}
	if v, ok := c.get(key); ok {
		return cloneBundle(v.(*models.TaskBundle)), nil
	}
	b, err := c.Store.GetBundle(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(key, cloneBundle(b))
	return b, nil
}

// CreateBundle changes the bundle membership of existing tasks, so their
// cached rows are dropped.
func (c *CachedStore) CreateBundle(ctx context.Context, b *models.TaskBundle) error {
	if err := c.Store.CreateBundle(ctx, b); err != nil {
		return err
	}
	c.Invalidate(b.TaskIDs, []int64{b.ID})
	return nil
}

// Invalidate drops the given tasks and bundles from the cache and forwards
// the call to the wrapped store.
func (c *CachedStore) Invalidate(taskIDs []int64, bundleIDs []int64) {
	c.mu.Lock()
	for _, id := range taskIDs {
		c.remove(cacheKey{cacheTask, id})
	}
	for _, id := range bundleIDs {
		c.remove(cacheKey{cacheBundle, id})
	}
	c.mu.Unlock()
	c.Store.Invalidate(taskIDs, bundleIDs)
}

// Len returns the number of cached entries.
func (c *CachedStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *CachedStore) get(key cacheKey) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).value, true
}

func (c *CachedStore) put(key cacheKey, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).value = value
		c.ll.MoveToFront(el)
		return
	}
	c.entries[key] = c.ll.PushFront(&cacheEntry{key: key, value: value})
	for c.ll.Len() > c.cap {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// remove must be called with c.mu held.
func (c *CachedStore) remove(key cacheKey) {
	if el, ok := c.entries[key]; ok {
		c.ll.Remove(el)
		delete(c.entries, key)
	}
}

func cloneBundle(b *models.TaskBundle) *models.TaskBundle {
	c := *b
	c.TaskIDs = append([]int64(nil), b.TaskIDs...)
	if b.PrimaryTaskID != nil {
		c.PrimaryTaskID = models.IDPtr(*b.PrimaryTaskID)
	}
	return &c
}
