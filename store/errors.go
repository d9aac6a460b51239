// Package store implements the process-wide object database: the loose
// object store, the slot map of known packs/indices, and the per-consumer
// Handle that resolves ids against both.
package store

import (
	"errors"
	"fmt"

	"github.com/git-odb/godb/plumbing"
)

var (
	// ErrNotFound is returned when an id is not present in any loose
	// store, pack, or multi-pack index after exhausting refreshes.
	ErrNotFound = errors.New("object not found")
	// ErrAmbiguous is returned when a prefix matches more than one id.
	ErrAmbiguous = errors.New("ambiguous prefix")
	// ErrCorruptObject is returned when a loose object's header is
	// malformed (bad kind, non-numeric size, missing NUL).
	ErrCorruptObject = errors.New("corrupt object header")
	// ErrUnsupportedVersion is returned when an index or pack advertises
	// an unknown format version.
	ErrUnsupportedVersion = errors.New("unsupported version")
	// ErrCorruptDelta is returned when a delta instruction byte is zero
	// or overruns the instruction buffer.
	ErrCorruptDelta = errors.New("corrupt delta instruction stream")
	// ErrIncompletePack is returned when a decompressed entry's length
	// does not match its declared size.
	ErrIncompletePack = errors.New("incomplete pack entry")
	// ErrInterrupted is returned when an interrupt flag is observed
	// mid-operation.
	ErrInterrupted = errors.New("interrupted")
	// ErrStale names the condition of a pack-id whose generation no
	// longer matches the Store's current snapshot. Handle does not return
	// it: Find searches its current snapshot and does not compare
	// generations.
	ErrStale = errors.New("stale pack-id")
)

// Reason categorizes the structured errors carried by *Error.
type Reason int

const (
	// ReasonChecksumMismatch: a pack or index's trailing hash did not
	// match the recomputed hash of its preceding bytes.
	ReasonChecksumMismatch Reason = iota
	// ReasonObjectHashMismatch: a decoded object's hash did not match
	// the id recorded for it in an index.
	ReasonObjectHashMismatch
	// ReasonCrc32Mismatch: an index's recorded CRC32 did not match the
	// recomputed CRC32 over an entry's header and compressed bytes.
	ReasonCrc32Mismatch
	// ReasonPackOffsetMismatch: a multi-pack index's recorded offset
	// disagreed with the offset in the corresponding per-pack index.
	ReasonPackOffsetMismatch
)

func (r Reason) String() string {
	switch r {
	case ReasonChecksumMismatch:
		return "checksum mismatch"
	case ReasonObjectHashMismatch:
		return "object hash mismatch"
	case ReasonCrc32Mismatch:
		return "crc32 mismatch"
	case ReasonPackOffsetMismatch:
		return "pack offset mismatch"
	default:
		return "unknown"
	}
}

// Error carries structured detail for the handful of error conditions
// that need it, mirroring the reference codebase's packfile.Error.
type Error struct {
	Reason   Reason
	ID       plumbing.Hash
	Expected string
	Actual   string
}

func (e *Error) Error() string {
	if e.Expected != "" || e.Actual != "" {
		return fmt.Sprintf("%s: id=%s expected=%s actual=%s", e.Reason, e.ID, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s: id=%s", e.Reason, e.ID)
}
