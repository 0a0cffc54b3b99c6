package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"docgate/internal/cache"
	"docgate/internal/origin"
	"docgate/internal/search"
	"docgate/internal/store"
)

// memCache is an in-memory Cache with switchable failures.
type memCache struct {
	mu       sync.Mutex
	data     map[string][]byte
	loadErr  error
	storeErr error
	loads    int
	stores   int
	storeFn  func(name string, state []byte) error
	updateFn func(name string) error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Load(_ context.Context, name string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	if c.loadErr != nil {
		return nil, c.loadErr
	}
	state, ok := c.data[name]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return append([]byte(nil), state...), nil
}

func (c *memCache) Store(_ context.Context, name string, state []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores++
	if c.storeFn != nil {
		if err := c.storeFn(name, state); err != nil {
			return err
		}
	}
	if c.storeErr != nil {
		return c.storeErr
	}
	c.data[name] = append([]byte(nil), state...)
	return nil
}

func (c *memCache) Update(_ context.Context, name string, fn cache.UpdateFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateFn != nil {
		if err := c.updateFn(name); err != nil {
			return err
		}
	}
	current, found := c.data[name]
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	c.data[name] = next
	return nil
}

func (c *memCache) Delete(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, name)
	return nil
}

func (c *memCache) get(name string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.data[name]
	return state, ok
}

func (c *memCache) storeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stores
}

type fetchCall struct {
	pageID, spaceID string
	caller          map[string]string
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   []fetchCall
	fetchFn func(ctx context.Context, pageID, spaceID string) (origin.Document, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, pageID, spaceID string, caller map[string]string) (origin.Document, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{pageID: pageID, spaceID: spaceID, caller: caller})
	f.mu.Unlock()
	if f.fetchFn == nil {
		return origin.Document{}, origin.ErrNotFound
	}
	return f.fetchFn(ctx, pageID, spaceID)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNormalizer struct {
	mu          sync.Mutex
	ready       bool
	calls       int
	normalizeFn func(ctx context.Context, page []byte) ([]byte, error)
}

func (n *fakeNormalizer) Ready() bool { return n.ready }

func (n *fakeNormalizer) Normalize(ctx context.Context, page []byte) ([]byte, error) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	if n.normalizeFn == nil {
		return nil, errors.New("no normalizer configured")
	}
	return n.normalizeFn(ctx, page)
}

func (n *fakeNormalizer) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

// memOutbox mirrors the Postgres outbox semantics in memory.
type memOutbox struct {
	mu         sync.Mutex
	items      map[string]store.PendingFlush
	seq        int
	enqueueErr error
	pendingErr error
	completeFn func(name string, version int64) (bool, error)
	failures   []string
	discarded  []string
}

func newMemOutbox() *memOutbox {
	return &memOutbox{items: make(map[string]store.PendingFlush)}
}

func (o *memOutbox) EnqueueFlush(_ context.Context, name string, state []byte) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.enqueueErr != nil {
		return 0, o.enqueueErr
	}
	o.seq++
	item, ok := o.items[name]
	if !ok {
		item = store.PendingFlush{DocumentName: name, EnqueuedAt: time.Unix(int64(o.seq), 0)}
	}
	item.State = append([]byte(nil), state...)
	item.Version++
	item.Attempts = 0
	item.LastError = ""
	o.items[name] = item
	return item.Version, nil
}

func (o *memOutbox) ListPendingFlushes(_ context.Context, limit int) ([]store.PendingFlush, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	items := make([]store.PendingFlush, 0, len(o.items))
	for _, item := range o.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].EnqueuedAt.Before(items[j].EnqueuedAt) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (o *memOutbox) PendingFlush(_ context.Context, name string) (store.PendingFlush, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pendingErr != nil {
		return store.PendingFlush{}, false, o.pendingErr
	}
	item, ok := o.items[name]
	return item, ok, nil
}

func (o *memOutbox) CompleteFlush(_ context.Context, name string, version int64) (bool, error) {
	if o.completeFn != nil {
		return o.completeFn(name, version)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[name]
	if !ok || item.Version != version {
		return false, nil
	}
	delete(o.items, name)
	return true, nil
}

func (o *memOutbox) MarkFlushFailed(_ context.Context, name string, version int64, cause error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, name)
	if item, ok := o.items[name]; ok && item.Version == version {
		item.Attempts++
		item.LastError = cause.Error()
		o.items[name] = item
	}
	return nil
}

func (o *memOutbox) DiscardFlush(_ context.Context, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.discarded = append(o.discarded, name)
	delete(o.items, name)
	return nil
}

func (o *memOutbox) PendingFlushCount(_ context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items), nil
}

func (o *memOutbox) get(name string) (store.PendingFlush, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[name]
	return item, ok
}

type fakeIndexer struct {
	mu      sync.Mutex
	indexed []search.DocumentRecord
	deleted []string
}

func (i *fakeIndexer) IndexDocument(doc search.DocumentRecord) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.indexed = append(i.indexed, doc)
}

func (i *fakeIndexer) DeleteDocument(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deleted = append(i.deleted, name)
}

type fakeArchiver struct {
	archiveFn func(ctx context.Context, name string, state []byte) (string, error)
	archived  map[string][]byte
}

func (a *fakeArchiver) ArchiveSnapshot(ctx context.Context, name string, state []byte) (string, error) {
	if a.archiveFn != nil {
		return a.archiveFn(ctx, name, state)
	}
	if a.archived == nil {
		a.archived = make(map[string][]byte)
	}
	a.archived[name] = state
	return name + "/snapshot.crdt", nil
}
