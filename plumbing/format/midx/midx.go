// Package midx implements encoding and decoding of multi-pack-index
// files: a single fanout+sorted-oid table spanning every pack in an
// object directory, so a lookup need not probe each pack's own .idx in
// turn.
package midx

import (
	"errors"

	"github.com/git-odb/godb/plumbing"
)

// Signature is the 4-byte magic at the start of every multi-pack-index
// file.
var Signature = []byte{'M', 'I', 'D', 'X'}

// VersionSupported is the only multi-pack-index version this package
// can decode.
const VersionSupported = 1

// ErrInvalidMultiPackIndex is returned for any structurally malformed
// multi-pack-index file.
var ErrInvalidMultiPackIndex = errors.New("invalid multi-pack-index file")

// chunk ids, stored big-endian as a 4-byte tag in the chunk lookup table.
var (
	chunkPackNames  = [4]byte{'P', 'N', 'A', 'M'}
	chunkOIDFanout  = [4]byte{'O', 'I', 'D', 'F'}
	chunkOIDLookup  = [4]byte{'O', 'I', 'D', 'L'}
	chunkObjOffsets = [4]byte{'O', 'O', 'F', 'F'}
	chunkObjLargeOff = [4]byte{'L', 'O', 'F', 'F'}
)

const fanoutSize = 256

// PackOffset is one object's location within a specific member pack.
type PackOffset struct {
	PackIndex int
	Offset    int64
}

// MultiPackIndex is a full in-memory representation of a decoded
// multi-pack-index file (§4.5): a fanout+sorted-oid table shared across
// every pack named in PackNames.
type MultiPackIndex struct {
	Version    uint32
	HashSize   int
	PackNames  []string

	fanout  [fanoutSize]uint32
	oids    [][]byte // sorted, hashSize bytes each
	offsets []PackOffset
}

// Count returns the number of objects indexed across every member pack.
func (m *MultiPackIndex) Count() int64 { return int64(len(m.oids)) }

// bucketRange returns the [lo, hi) index range of m.oids whose leading
// byte equals b.
func (m *MultiPackIndex) bucketRange(b byte) (lo, hi int) {
	if b == 0 {
		lo = 0
	} else {
		lo = int(m.fanout[b-1])
	}
	hi = int(m.fanout[b])
	return
}

// FindOffset looks up h, returning which member pack holds it and its
// offset within that pack's data file. Like idxfile, a binary search
// within the matching fanout bucket.
func (m *MultiPackIndex) FindOffset(h plumbing.Hash) (PackOffset, bool) {
	want := h.Bytes()
	if len(want) == 0 {
		return PackOffset{}, false
	}
	lo, hi := m.bucketRange(want[0])

	for lo < hi {
		mid := (lo + hi) / 2
		switch cmpBytes(m.oids[mid], want) {
		case 0:
			return m.offsets[mid], true
		case -1:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return PackOffset{}, false
}

// LookupPrefix scans every indexed id for those matching prefix. It
// returns (id, true, nil) when exactly one id matches and (zero, false,
// nil) when none does. When more than one matches it returns errAmbiguous:
// if candidates is non-nil, every match is appended to it and the scan
// runs to completion first; otherwise the scan stops at the second match.
func (m *MultiPackIndex) LookupPrefix(prefix plumbing.Prefix, candidates *[]plumbing.Hash) (plumbing.Hash, bool, error) {
	if prefix.HexLen() == 0 {
		return plumbing.Hash{}, false, nil
	}

	var match plumbing.Hash
	count := 0
	for _, raw := range m.oids {
		id, ok := plumbing.FromBytes(raw)
		if !ok {
			return plumbing.Hash{}, false, ErrInvalidMultiPackIndex
		}
		if !prefix.Matches(id) {
			continue
		}
		count++
		if candidates != nil {
			*candidates = append(*candidates, id)
		} else if count > 1 {
			return plumbing.Hash{}, false, errAmbiguous
		}
		match = id
	}
	if count > 1 {
		return plumbing.Hash{}, false, errAmbiguous
	}
	return match, count == 1, nil
}

var errAmbiguous = errors.New("ambiguous prefix")

func cmpBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
