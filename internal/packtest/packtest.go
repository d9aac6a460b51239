// Package packtest hand-assembles minimal, valid PACK byte streams and
// their matching indexes, so tests elsewhere in the module can exercise
// real Scanner/Bundle/verify code paths without fetching or embedding an
// actual git repository.
package packtest

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"hash/crc32"

	"github.com/git-odb/godb/plumbing"
	"github.com/git-odb/godb/plumbing/format/idxfile"
	format "github.com/git-odb/godb/plumbing/format/objfmt"
	"github.com/git-odb/godb/utils/binary"
)

// Object is one entry to bake into a Pack. A plain object has DeltaBase
// set to -1 and Kind/Content holding its real type and bytes. A delta
// entry sets DeltaBase to the index, within the same Objects slice, of
// the entry it is diffed against; Content still holds the entry's fully
// decoded bytes (what applying the delta must reproduce) and Kind must
// equal its base's Kind, transitively, exactly like a real chain.
type Object struct {
	Kind      plumbing.ObjectType
	Content   []byte
	DeltaBase int
}

// Entry is one baked pack entry, with everything a caller needs to
// populate an index or assert against a decoded result.
type Entry struct {
	ID      plumbing.Hash
	Offset  int64
	CRC32   uint32
	Kind    plumbing.ObjectType
	Content []byte
}

// Pack is a hand-assembled PACK byte stream, ready to be scanned by
// packfile.Scanner, plus the bookkeeping needed to build its index.
type Pack struct {
	Data     []byte
	Entries  []Entry
	Checksum plumbing.Hash
}

// Build bakes objs, in order, into a PACK stream using zlib level
// BestCompression so the output is deterministic. Entries with
// DeltaBase >= 0 are written as OFS-delta entries against the
// already-written entry at that index.
func Build(objs []Object) (*Pack, error) {
	buf := &bytes.Buffer{}
	buf.WriteString("PACK")
	if err := binary.WriteUint32(buf, 2); err != nil {
		return nil, err
	}
	if err := binary.WriteUint32(buf, uint32(len(objs))); err != nil {
		return nil, err
	}

	offsets := make([]int64, len(objs))
	entries := make([]Entry, len(objs))

	for i, o := range objs {
		offset := int64(buf.Len())
		offsets[i] = offset

		kind := o.Kind
		raw := o.Content
		if o.DeltaBase >= 0 {
			kind = plumbing.OFSDeltaObject
			raw = buildInsertOnlyDelta(objs[o.DeltaBase].Content, o.Content)
		}

		headerStart := buf.Len()
		writeEntryHeader(buf, kind, uint64(len(raw)))
		if kind == plumbing.OFSDeltaObject {
			writeOffsetDelta(buf, offset-offsets[o.DeltaBase])
		}

		zw, err := zlib.NewWriterLevel(buf, zlib.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}

		crc := crc32.ChecksumIEEE(buf.Bytes()[headerStart:])

		entries[i] = Entry{
			ID:      idFor(o.Kind, o.Content),
			Offset:  offset,
			CRC32:   crc,
			Kind:    o.Kind,
			Content: o.Content,
		}
	}

	sum := sha1.Sum(buf.Bytes())
	var checksum plumbing.Hash
	checksum.ResetBySize(len(sum))
	if _, err := checksum.Write(sum[:]); err != nil {
		return nil, err
	}
	buf.Write(sum[:])

	return &Pack{Data: buf.Bytes(), Entries: entries, Checksum: checksum}, nil
}

// Index builds the in-memory index a Pack's Entries describe, so a test
// can pair it with Pack.Data in a Bundle exactly like a real repository
// would have a .idx alongside its .pack.
func Index(p *Pack) (*idxfile.MemoryIndex, error) {
	w := &idxfile.Writer{}
	if err := w.OnHeader(uint32(len(p.Entries))); err != nil {
		return nil, err
	}
	for _, e := range p.Entries {
		w.Add(e.ID, e.Offset, e.CRC32)
	}
	if err := w.OnFooter(p.Checksum); err != nil {
		return nil, err
	}
	return w.CreateIndex()
}

func idFor(kind plumbing.ObjectType, content []byte) plumbing.Hash {
	h := plumbing.NewHasher(format.SHA1, kind, int64(len(content)))
	h.Write(content)
	return h.Sum()
}

// writeEntryHeader writes a pack entry's type+size header, the inverse of
// packutil.ObjectType/VariableLengthSize: the first byte packs the type
// in bits 4-6 and the low 4 size bits in bits 0-3, with bit 7 marking
// continuation; each following byte packs 7 more size bits the same way.
func writeEntryHeader(buf *bytes.Buffer, kind plumbing.ObjectType, size uint64) {
	first := byte(kind)<<4&0x70 | byte(size&0x0f)
	size >>= 4
	if size != 0 {
		first |= 0x80
	}
	buf.WriteByte(first)

	for size != 0 {
		b := byte(size & 0x7f)
		size >>= 7
		if size != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
	}
}

// writeOffsetDelta writes an OFS-delta's relative base offset using the
// encoding binary.ReadVariableWidthInt expects: delta = thisOffset -
// baseOffset.
func writeOffsetDelta(buf *bytes.Buffer, delta int64) {
	_ = binary.WriteVariableWidthInt(buf, delta)
}

// buildInsertOnlyDelta produces a delta instruction stream that ignores
// base entirely and just inserts target verbatim, via copy-from-delta
// opcodes (each at most 127 bytes, since the opcode byte IS the size and
// must have its high bit clear). Good enough to exercise patch_delta.go's
// insert path; it doesn't need to exercise copy-from-source to prove the
// chain wiring works.
func buildInsertOnlyDelta(base, target []byte) []byte {
	buf := &bytes.Buffer{}
	writeLEB128(buf, uint(len(base)))
	writeLEB128(buf, uint(len(target)))

	for len(target) > 0 {
		n := len(target)
		if n > 127 {
			n = 127
		}
		buf.WriteByte(byte(n))
		buf.Write(target[:n])
		target = target[n:]
	}

	return buf.Bytes()
}

func writeLEB128(buf *bytes.Buffer, n uint) {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if n == 0 {
			return
		}
	}
}
