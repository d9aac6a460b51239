// Package idxfile implements encoding and decoding of packfile idx files.
package idxfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/git-odb/godb/plumbing"
)

// VersionSupported is the only idx file version supported by this package.
const VersionSupported = 2

// fanout is the number of entries in the fanout table: one per possible
// leading hash byte.
const fanout = 256

// noMapping marks a fanout bucket with no objects.
const noMapping = -1

// Index represents an index of a packfile.
type Index interface {
	// Contains checks whether a given hash is in the index.
	Contains(h plumbing.Hash) (bool, error)
	// FindOffset finds the offset in the packfile for the object with
	// the given hash.
	FindOffset(h plumbing.Hash) (int64, error)
	// FindCRC32 finds the CRC32 of the object with the given hash.
	FindCRC32(h plumbing.Hash) (uint32, error)
	// FindHash finds the hash for the object with the given offset.
	FindHash(o int64) (plumbing.Hash, error)
	// Count returns the number of entries in the index.
	Count() (int64, error)
	// Entries returns an iterator over the entries, ordered by hash.
	Entries() (EntryIter, error)
	// EntriesByOffset returns an iterator over the entries, ordered by
	// offset in the packfile.
	EntriesByOffset() (EntryIter, error)
	// Close releases all resources held by the index.
	Close() error
}

// Entry is the in-memory representation of a single object recorded in
// an idx file.
type Entry struct {
	Hash   plumbing.Hash
	Offset uint64
	CRC32  uint32
}

// EntryIter is an iterator over idx file entries.
type EntryIter interface {
	// Next returns the next entry, or io.EOF when exhausted.
	Next() (*Entry, error)
	Close() error
}

// MemoryIndex is a full in-memory representation of an idx file, bucketed
// by the leading hash byte exactly like the on-disk fanout table.
type MemoryIndex struct {
	Version uint32

	// Fanout is the cumulative fanout table: Fanout[i] is the count of
	// objects whose first hash byte is <= i.
	Fanout [256]uint32
	// FanoutMapping maps a leading hash byte to a position in Names,
	// Offset32 and CRC32, or noMapping if no object has that leading byte.
	FanoutMapping [256]int

	// Names holds, per occupied fanout bucket, the concatenated hashes of
	// objects within it, sorted.
	Names [][]byte
	// Offset32 holds, per occupied fanout bucket, the concatenated 4-byte
	// big-endian pack offsets (or indirections into Offset64) of objects,
	// in the same order as Names.
	Offset32 [][]byte
	// CRC32 holds, per occupied fanout bucket, the concatenated 4-byte
	// big-endian CRC32 checksums, in the same order as Names.
	CRC32 [][]byte
	// Offset64 holds the large-offset table, entries of 8 bytes each.
	Offset64 []byte

	PackfileChecksum plumbing.Hash
	IdxChecksum      plumbing.Hash

	hashSize int
}

// NewMemoryIndex returns an empty MemoryIndex sized for the given hash
// size (20 for SHA1, 32 for SHA256).
func NewMemoryIndex(hashSize int) *MemoryIndex {
	idx := &MemoryIndex{
		Version:  VersionSupported,
		hashSize: hashSize,
	}
	for i := range idx.FanoutMapping {
		idx.FanoutMapping[i] = noMapping
	}
	return idx
}

var _ Index = (*MemoryIndex)(nil)

func (idx *MemoryIndex) bucketPos(h plumbing.Hash) (bucket int, ok bool) {
	b := int(h.Bytes()[0])
	pos := idx.FanoutMapping[b]
	if pos == noMapping {
		return 0, false
	}
	return pos, true
}

// search returns the position within Names[bucket] (in units of hashSize)
// of h, or -1 if not found.
func (idx *MemoryIndex) search(bucket int, h plumbing.Hash) int {
	names := idx.Names[bucket]
	want := h.Bytes()
	n := len(names) / idx.hashSize

	i := sort.Search(n, func(i int) bool {
		return bytes.Compare(names[i*idx.hashSize:(i+1)*idx.hashSize], want) >= 0
	})
	if i < n && bytes.Equal(names[i*idx.hashSize:(i+1)*idx.hashSize], want) {
		return i
	}
	return -1
}

// Contains implements Index.
func (idx *MemoryIndex) Contains(h plumbing.Hash) (bool, error) {
	bucket, ok := idx.bucketPos(h)
	if !ok {
		return false, nil
	}
	return idx.search(bucket, h) >= 0, nil
}

func (idx *MemoryIndex) offsetAt(bucket, i int) uint64 {
	off32 := binary.BigEndian.Uint32(idx.Offset32[bucket][i*4 : i*4+4])
	if uint64(off32)&Is64BitsMask == 0 {
		return uint64(off32)
	}
	lo := int(uint64(off32) &^ Is64BitsMask)
	return binary.BigEndian.Uint64(idx.Offset64[lo*8 : lo*8+8])
}

// FindOffset implements Index.
func (idx *MemoryIndex) FindOffset(h plumbing.Hash) (int64, error) {
	bucket, ok := idx.bucketPos(h)
	if !ok {
		return 0, plumbing.ErrObjectNotFound
	}
	i := idx.search(bucket, h)
	if i < 0 {
		return 0, plumbing.ErrObjectNotFound
	}
	return int64(idx.offsetAt(bucket, i)), nil
}

// FindCRC32 implements Index.
func (idx *MemoryIndex) FindCRC32(h plumbing.Hash) (uint32, error) {
	bucket, ok := idx.bucketPos(h)
	if !ok {
		return 0, plumbing.ErrObjectNotFound
	}
	i := idx.search(bucket, h)
	if i < 0 {
		return 0, plumbing.ErrObjectNotFound
	}
	return binary.BigEndian.Uint32(idx.CRC32[bucket][i*4 : i*4+4]), nil
}

// FindHash implements Index. It performs a linear scan; callers needing
// fast offset->hash lookups on large indices should prefer ReaderAtIndex
// with a reverse index attached.
func (idx *MemoryIndex) FindHash(o int64) (plumbing.Hash, error) {
	for bucket := range idx.Names {
		n := len(idx.Names[bucket]) / idx.hashSize
		for i := 0; i < n; i++ {
			if int64(idx.offsetAt(bucket, i)) == o {
				var h plumbing.Hash
				h.ResetBySize(idx.hashSize)
				_, _ = h.Write(idx.Names[bucket][i*idx.hashSize : (i+1)*idx.hashSize])
				return h, nil
			}
		}
	}
	return plumbing.ZeroHash, plumbing.ErrObjectNotFound
}

// Count implements Index.
func (idx *MemoryIndex) Count() (int64, error) {
	return int64(idx.Fanout[255]), nil
}

// Close implements Index. MemoryIndex holds no external resources.
func (idx *MemoryIndex) Close() error { return nil }

// Entries implements Index, returning entries ordered by hash.
func (idx *MemoryIndex) Entries() (EntryIter, error) {
	var entries []*Entry
	for bucket := range idx.Names {
		n := len(idx.Names[bucket]) / idx.hashSize
		for i := 0; i < n; i++ {
			var h plumbing.Hash
			h.ResetBySize(idx.hashSize)
			_, _ = h.Write(idx.Names[bucket][i*idx.hashSize : (i+1)*idx.hashSize])
			entries = append(entries, &Entry{
				Hash:   h,
				Offset: idx.offsetAt(bucket, i),
				CRC32:  binary.BigEndian.Uint32(idx.CRC32[bucket][i*4 : i*4+4]),
			})
		}
	}
	return &sliceEntryIter{entries: entries}, nil
}

// EntriesByOffset implements Index, returning entries ordered by pack
// offset.
func (idx *MemoryIndex) EntriesByOffset() (EntryIter, error) {
	it, err := idx.Entries()
	if err != nil {
		return nil, err
	}
	s := it.(*sliceEntryIter)
	sort.Sort(entriesByOffset(s.entries))
	return s, nil
}

type sliceEntryIter struct {
	entries []*Entry
	pos     int
}

func (i *sliceEntryIter) Next() (*Entry, error) {
	if i.pos >= len(i.entries) {
		return nil, io.EOF
	}
	e := i.entries[i.pos]
	i.pos++
	return e, nil
}

func (i *sliceEntryIter) Close() error {
	i.pos = len(i.entries)
	return nil
}

// idxfileEntryOffsetIter iterates entries already sorted by offset.
type idxfileEntryOffsetIter struct {
	entries entriesByOffset
	pos     int
}

func (i *idxfileEntryOffsetIter) Next() (*Entry, error) {
	if i.pos >= len(i.entries) {
		return nil, io.EOF
	}
	e := i.entries[i.pos]
	i.pos++
	return e, nil
}

func (i *idxfileEntryOffsetIter) Close() error {
	i.pos = len(i.entries)
	return nil
}

type entriesByOffset []*Entry

func (e entriesByOffset) Len() int           { return len(e) }
func (e entriesByOffset) Less(i, j int) bool { return e[i].Offset < e[j].Offset }
func (e entriesByOffset) Swap(i, j int)      { e[i], e[j] = e[j], e[i] }
