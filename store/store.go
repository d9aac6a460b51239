package store

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"

	"github.com/git-odb/godb/plumbing/format/idxfile"
	"github.com/git-odb/godb/store/dotgit"
)

// Metrics is a point-in-time snapshot of cache efficiency, ported from
// the source's Metrics struct (SPEC_FULL.md §C.1): not part of the
// distilled contract, but directly grounded in it.
type Metrics struct {
	NumHandles    int64
	NumRefreshes  int64
	OpenIndices   int
	KnownIndices  int
	OpenPacks     int
	KnownPacks    int
	UnusedSlots   int
	LooseDBCount  int
}

// Store owns the SlotMap and outlives all Handles (§4.8). It is the Go
// rendering of the source's ArcSwap<SlotMapIndex>: the only mutable
// global state in this module, mutated only under refreshMu and
// published via an atomic pointer swap.
type Store struct {
	dir *dotgit.DotGit

	snapshot atomic.Pointer[SlotMapIndex]

	// refreshMu is the Store's write lock; held only during refresh and
	// snapshot construction, never during reads.
	refreshMu sync.Mutex

	numHandles   atomic.Int64
	numRefreshes atomic.Int64
}

// New constructs a Store rooted at fs, with primary as the object
// directory's own loose store. newLoose, if non-nil, is used to build a
// loose store for each path in info/alternates (SPEC_FULL.md §C.3); it
// takes an fs rooted at the alternate directory (via fs.Chroot) rather
// than a path, so the caller need not know the concrete loose-store
// type (store cannot import store/loose without an import cycle, since
// store/loose itself imports store for the shared Object/Header types).
func New(fs billy.Filesystem, primary LooseDB, newLoose func(billy.Filesystem) LooseDB) (*Store, error) {
	s := &Store{dir: dotgit.New(fs)}

	looseDBs := []LooseDB{primary}
	if newLoose != nil {
		alternates, err := s.dir.Alternates()
		if err != nil {
			return nil, fmt.Errorf("store: reading alternates: %w", err)
		}
		for _, path := range alternates {
			altFs, err := fs.Chroot(path)
			if err != nil {
				return nil, fmt.Errorf("store: alternate %s: %w", path, err)
			}
			looseDBs = append(looseDBs, newLoose(altFs))
		}
	}

	initial := &SlotMapIndex{looseDBs: looseDBs}
	s.snapshot.Store(initial)

	if err := s.Refresh(); err != nil {
		return nil, fmt.Errorf("store: initial scan: %w", err)
	}
	return s, nil
}

// Snapshot returns the currently published SlotMapIndex. It is safe to
// retain; it never mutates, and reads against it remain valid even after
// a later refresh publishes a new one.
func (s *Store) Snapshot() *SlotMapIndex {
	return s.snapshot.Load()
}

// NewHandle returns a new per-consumer Handle over s.
func (s *Store) NewHandle(policy RefreshPolicy) *Handle {
	s.numHandles.Add(1)
	snap := s.Snapshot()
	return &Handle{
		store:         s,
		snapshot:      snap,
		generation:    snap.generation,
		refreshPolicy: policy,
		cache:         newDeltaCache(defaultDeltaCacheSize),
	}
}

// Metrics returns a point-in-time snapshot of Store-wide counters.
func (s *Store) Metrics() Metrics {
	snap := s.Snapshot()

	m := Metrics{
		NumHandles:   s.numHandles.Load(),
		NumRefreshes: s.numRefreshes.Load(),
		KnownIndices: len(snap.slots),
		LooseDBCount: len(snap.looseDBs),
	}
	for _, sl := range snap.slots {
		switch sl.State() {
		case Loaded, Garbage:
			m.OpenIndices++
			m.OpenPacks++
		case Missing:
			m.UnusedSlots++
		}
	}
	m.KnownPacks = m.KnownIndices
	return m
}

// Refresh re-scans the pack directory for pack-*.pack files, giving each
// pack one slot keyed by its .idx path, and atomically publishes a new
// SlotMapIndex (§4.8 "Refresh protocol"). A multi-pack index is not
// given a slot.
// Readers holding the prior snapshot continue to see it unchanged.
func (s *Store) Refresh() error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	old := s.Snapshot()

	ids, err := s.dir.PackIDs()
	if err != nil {
		return err
	}

	byPath := make(map[string]*Slot, len(old.slots))
	for _, sl := range old.slots {
		byPath[sl.path] = sl
	}

	changed := false
	newSlots := make([]*Slot, 0, len(ids))

	for _, id := range ids {
		path := s.dir.ObjectPackIdxPath(id)
		if existing, ok := byPath[path]; ok {
			newSlots = append(newSlots, existing)
			delete(byPath, path)
			continue
		}

		newSlots = append(newSlots, &Slot{path: path, state: Unloaded})
		changed = true
	}

	// Remaining entries in byPath are slots whose file disappeared.
	for _, sl := range byPath {
		sl.mu.Lock()
		switch sl.state {
		case Loaded:
			if sl.refCount.Load() > 0 {
				sl.state = Garbage
			} else {
				sl.state = Missing
			}
			changed = true
		case Garbage:
			if sl.refCount.Load() == 0 {
				sl.state = Missing
				changed = true
			}
			newSlots = append(newSlots, sl)
		case Missing:
			// Already inert; dropped from the table on the next scan
			// once nothing else references it.
		default:
			changed = true
		}
		sl.mu.Unlock()

		if sl.state == Garbage || (sl.state == Missing && sl.refCount.Load() > 0) {
			newSlots = append(newSlots, sl)
		}
	}

	next := &SlotMapIndex{
		slots:      newSlots,
		generation: old.generation,
		looseDBs:   old.looseDBs,
	}
	next.loadedIndices.Store(old.loadedIndices.Load())

	if changed {
		next.generation = old.generation + 1
	}

	s.snapshot.Store(next)
	s.numRefreshes.Add(1)
	return nil
}

// loadSlot memory-maps (opens) the bundle for an Unloaded slot, under
// the slot's own write mutex so this load does not block lazy loading of
// other slots (§4.9 "Lazy loading").
func (s *Store) loadSlot(sl *Slot) (*Bundle, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.state == Loaded || sl.state == Garbage {
		return sl.bundle, nil
	}
	if sl.state == Missing {
		return nil, fmt.Errorf("store: slot for %s is missing", sl.path)
	}

	idxFile, err := s.dir.Filesystem().Open(sl.path)
	if err != nil {
		return nil, err
	}

	idx := idxfile.NewMemoryIndex(20)
	if err := idxfile.NewDecoder(idxFile).Decode(idx); err != nil {
		_ = idxFile.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedVersion, sl.path, err)
	}
	_ = idxFile.Close()

	packPath := trimIdxExt(sl.path) + ".pack"
	packFile, err := s.dir.Filesystem().Open(packPath)
	if err != nil {
		return nil, err
	}

	sl.bundle = NewBundle(idx, packFile)
	sl.state = Loaded
	s.snapshot.Load().loadedIndices.Add(1)

	return sl.bundle, nil
}

func trimIdxExt(path string) string {
	if len(path) > 4 && path[len(path)-4:] == ".idx" {
		return path[:len(path)-4]
	}
	return path
}
