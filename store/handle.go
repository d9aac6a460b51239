package store

import (
	"container/list"
	"sync"

	"github.com/git-odb/godb/plumbing"
)

// RefreshPolicy controls whether a failed lookup may trigger the Store
// to re-scan its pack directory before giving up (§4.9).
type RefreshPolicy int

const (
	// Never means a miss is reported immediately as ErrNotFound; the
	// caller is responsible for calling Store.Refresh itself if it
	// expects new packs to have appeared.
	Never RefreshPolicy = iota
	// AfterAllIndicesLoaded lets a miss trigger a Store refresh and a
	// retry. By the time a miss is reported, Find has already tried to
	// load every slot that is not Missing; no count of loaded indices is
	// consulted.
	AfterAllIndicesLoaded
)

// MaxRefreshAttempts bounds the lookup retry loop so a Handle never
// spins forever against a directory that keeps changing underneath it.
const MaxRefreshAttempts = 2

const defaultDeltaCacheSize = 64

// Handle is a single consumer's view onto a Store: a pinned snapshot
// plus a private delta-base cache. Unlike the source's Arc-counted
// handle, Go has no destructors, so Close must be called explicitly to
// release any slot references this Handle acquired.
type Handle struct {
	store         *Store
	refreshPolicy RefreshPolicy

	mu         sync.Mutex
	snapshot   *SlotMapIndex
	generation uint64
	acquired   map[*Slot]struct{}

	cache *deltaCache
}

// Close releases every slot reference this Handle acquired during its
// lifetime, the explicit stand-in for the source's Drop-based refcount
// release (see Slot.refCount).
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sl := range h.acquired {
		sl.refCount.Add(-1)
	}
	h.acquired = nil
	return nil
}

func (h *Handle) acquire(sl *Slot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.acquired == nil {
		h.acquired = make(map[*Slot]struct{})
	}
	if _, ok := h.acquired[sl]; ok {
		return
	}
	h.acquired[sl] = struct{}{}
	sl.refCount.Add(1)
}

func (h *Handle) refreshSnapshot() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = h.store.Snapshot()
	h.generation = h.snapshot.generation
}

// Find resolves id to a fully decoded object, per the lookup algorithm
// of §4.9: the loose stores are checked first (they are cheap and
// cannot go stale the way a pack slot can), then the index of every slot
// that is not Missing (an Unloaded slot is loaded on first use),
// triggering at most MaxRefreshAttempts refreshes along the way.
func (h *Handle) Find(id plumbing.Hash) (*Object, error) {
	if id == EmptyTreeID {
		return &Object{Kind: plumbing.TreeObject, Content: []byte{}}, nil
	}

	for attempt := 0; attempt < MaxRefreshAttempts; attempt++ {
		h.mu.Lock()
		if h.snapshot == nil {
			h.snapshot = h.store.Snapshot()
			h.generation = h.snapshot.generation
		}
		snap := h.snapshot
		h.mu.Unlock()

		for _, db := range snap.LooseDBs() {
			obj, err := db.TryFind(id)
			if err != nil {
				return nil, err
			}
			if obj != nil {
				return obj, nil
			}
		}

		for i, sl := range snap.Slots() {
			if sl.State() == Missing {
				continue
			}

			bundle, err := h.store.loadSlot(sl)
			if err != nil {
				continue
			}
			if obj, ok, err := h.findInBundle(sl, i, bundle, id); err != nil {
				return nil, err
			} else if ok {
				return obj, nil
			}
		}

		if h.refreshPolicy == Never {
			break
		}
		if err := h.store.Refresh(); err != nil {
			return nil, err
		}
		h.refreshSnapshot()
	}

	return nil, ErrNotFound
}

func (h *Handle) findInBundle(sl *Slot, slotIdx int, bundle *Bundle, id plumbing.Hash) (*Object, bool, error) {
	off, ok, err := bundle.FindOffset(id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	h.acquire(sl)

	if cached, ok := h.cache.get(slotIdx, off); ok {
		return cached, true, nil
	}

	resolver := &bundleResolver{h: h, slotIdx: slotIdx, slot: sl, bundle: bundle}
	obj, err := bundle.DecodeEntry(off, resolver)
	if err != nil {
		return nil, false, err
	}

	h.cache.put(slotIdx, off, obj)
	return obj, true, nil
}

// Contains reports whether id is resolvable without decoding it.
func (h *Handle) Contains(id plumbing.Hash) bool {
	if id == EmptyTreeID {
		return true
	}

	h.mu.Lock()
	if h.snapshot == nil {
		h.snapshot = h.store.Snapshot()
	}
	snap := h.snapshot
	h.mu.Unlock()

	for _, db := range snap.LooseDBs() {
		if db.Contains(id) {
			return true
		}
	}
	for _, sl := range snap.Slots() {
		bundle, err := h.store.loadSlot(sl)
		if err != nil {
			continue
		}
		if _, ok, _ := bundle.FindOffset(id); ok {
			h.acquire(sl)
			return true
		}
	}
	return false
}

// ResolveByID satisfies BaseResolver for REFDelta bases, searching the
// loose stores and every known bundle, since a thin pack's base may
// live outside the pack currently being decoded.
func (h *Handle) ResolveByID(id plumbing.Hash) (*Object, error) {
	return h.Find(id)
}

// ResolveByOffset satisfies BaseResolver for a bare pack-offset lookup
// against no particular bundle; Handle has no such context of its own,
// so this only supports offsets already scoped via bundleResolver.
func (h *Handle) ResolveByOffset(offset int64) (*Object, error) {
	return nil, ErrNotFound
}

// bundleResolver scopes delta-base resolution to one slot's bundle for
// OFSDelta offsets, while falling back to the full Handle for REFDelta
// ids that may point outside the pack (thin-pack bases).
type bundleResolver struct {
	h       *Handle
	slotIdx int
	slot    *Slot
	bundle  *Bundle
}

func (r *bundleResolver) ResolveByID(id plumbing.Hash) (*Object, error) {
	return r.h.Find(id)
}

func (r *bundleResolver) ResolveByOffset(offset int64) (*Object, error) {
	if cached, ok := r.h.cache.get(r.slotIdx, offset); ok {
		return cached, nil
	}
	obj, err := r.bundle.DecodeEntry(offset, r)
	if err != nil {
		return nil, err
	}
	r.h.cache.put(r.slotIdx, offset, obj)
	return obj, nil
}

// deltaCache is a small per-Handle LRU of decoded delta bases, keyed by
// (slot index, pack offset). Bounded so a long-lived Handle walking a
// deep delta chain doesn't retain every base it ever decoded.
type deltaCache struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List
	items map[deltaCacheKey]*list.Element
}

type deltaCacheKey struct {
	slot int
	off  int64
}

type deltaCacheEntry struct {
	key deltaCacheKey
	obj *Object
}

func newDeltaCache(capacity int) *deltaCache {
	return &deltaCache{
		cap:   capacity,
		ll:    list.New(),
		items: make(map[deltaCacheKey]*list.Element),
	}
}

func (c *deltaCache) get(slot int, off int64) (*Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := deltaCacheKey{slot, off}
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*deltaCacheEntry).obj, true
}

func (c *deltaCache) put(slot int, off int64, obj *Object) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := deltaCacheKey{slot, off}
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*deltaCacheEntry).obj = obj
		return
	}

	el := c.ll.PushFront(&deltaCacheEntry{key: key, obj: obj})
	c.items[key] = el

	for c.ll.Len() > c.cap {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.ll.Remove(back)
		delete(c.items, back.Value.(*deltaCacheEntry).key)
	}
}
