package store

import (
	"sync"
	"sync/atomic"
	"time"
)

// SlotState is the state of one slot in a SlotMapIndex (§4.8).
type SlotState int

const (
	// Unloaded: known to exist on disk, not yet memory-mapped.
	Unloaded SlotState = iota
	// Loaded: mapped and available.
	Loaded
	// Garbage: the file disappeared from disk but a Handle may still
	// hold its pack-id; reads through the stale bundle still succeed.
	Garbage
	// Missing: the file is gone and no Handle references it anymore;
	// the slot may be recycled by a future refresh.
	Missing
)

func (s SlotState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loaded:
		return "loaded"
	case Garbage:
		return "garbage"
	case Missing:
		return "missing"
	default:
		return "unknown"
	}
}

// Slot is one entry in the process-wide registry of known pack indices.
// Its own mutex guards lazy loading, kept separate from the Store's
// write lock so one slot's load never blocks reads against the others
// (§4.9 "Lazy loading").
type Slot struct {
	path  string
	mtime time.Time
	multi bool // true if path is a multi-pack index rather than a single-pack .idx

	mu     sync.Mutex
	state  SlotState
	bundle *Bundle

	// refCount tracks how many live Handles have observed this slot's
	// pack-id. A Go rendering of the source's Arc-refcounted bundle:
	// since Go has no deterministic destructors, Handle.Close releases
	// the references a Handle acquired, rather than relying on a Drop.
	refCount atomic.Int32
}

// State returns the slot's current state under its own lock.
func (s *Slot) State() SlotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PackID identifies a bundle stably across refreshes: the pair
// (slot index, generation). As long as generation matches the Store's
// current generation, the slot index refers to the same bundle.
type PackID struct {
	SlotIndex  int
	Generation uint64
}

// SlotMapIndex is a process-wide, read-only-once-published snapshot of
// every known index file on disk (§4.8). Mutation happens only by
// building a new SlotMapIndex and atomically swapping it into the Store.
type SlotMapIndex struct {
	slots []*Slot

	// generation increments whenever slot restructuring could make a
	// pack-id refer to a different bundle than before.
	generation uint64

	// loadedIndices counts, monotonically within a generation, how many
	// slots have reached Loaded at least once.
	loadedIndices atomic.Int64

	// looseDBs is the primary loose store plus any alternates, shared
	// unchanged across generations.
	looseDBs []LooseDB
}

// Generation returns the snapshot's generation counter.
func (m *SlotMapIndex) Generation() uint64 { return m.generation }

// Slots returns the snapshot's slot table. Callers must not mutate it.
func (m *SlotMapIndex) Slots() []*Slot { return m.slots }

// LooseDBs returns the primary loose store followed by any alternates.
func (m *SlotMapIndex) LooseDBs() []LooseDB { return m.looseDBs }
