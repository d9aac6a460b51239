package store

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/go-git/go-billy/v5"

	"github.com/git-odb/godb/plumbing"
	"github.com/git-odb/godb/plumbing/format/idxfile"
	"github.com/git-odb/godb/plumbing/format/packfile"
)

// BaseResolver is the capability a Bundle needs to resolve delta bases
// that may live outside of itself: by id (REFDelta, possibly a thin-pack
// base) or by a slot-local pack offset (OFSDelta). A Handle satisfies
// this interface, realizing §4.3/§9's "polymorphic capability" in place
// of an open-ended plugin system.
type BaseResolver interface {
	ResolveByID(id plumbing.Hash) (*Object, error)
	ResolveByOffset(offset int64) (*Object, error)
}

// Bundle is the pair (PackIndex, PackDataFile) whose filenames share a
// stem and whose trailing hashes reference each other (§4.6).
type Bundle struct {
	Index idxfile.Index

	file billy.File
	m    sync.Mutex
	sc   *packfile.Scanner
}

// NewBundle pairs idx with the open pack data file. The caller is
// responsible for verifying, if desired, that the two share a trailer
// hash (see verify.Bundle).
func NewBundle(idx idxfile.Index, file billy.File) *Bundle {
	return &Bundle{
		Index: idx,
		file:  file,
		sc:    packfile.NewScanner(file),
	}
}

// Close releases the underlying pack file handle and the index.
func (b *Bundle) Close() error {
	if err := b.Index.Close(); err != nil {
		return err
	}
	return b.file.Close()
}

// FindOffset looks up id's pack offset via the index.
func (b *Bundle) FindOffset(id plumbing.Hash) (int64, bool, error) {
	off, err := b.Index.FindOffset(id)
	if err != nil {
		if err == plumbing.ErrObjectNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	return off, true, nil
}

// entryAt reads the header and raw bytes (full content for base kinds,
// delta instruction stream for delta kinds) of the entry starting at
// pack_offset, without resolving delta bases. Concurrent calls are
// serialized: the Scanner is single-threaded and seeks internally.
func (b *Bundle) entryAt(offset int64) (packfile.ObjectHeader, []byte, error) {
	b.m.Lock()
	defer b.m.Unlock()

	if err := b.sc.SeekFromStart(offset); err != nil {
		return packfile.ObjectHeader{}, nil, fmt.Errorf("bundle: seek %d: %w", offset, err)
	}
	if !b.sc.Scan() {
		return packfile.ObjectHeader{}, nil, fmt.Errorf("bundle: scan %d: %w", offset, b.sc.Error())
	}

	data := b.sc.Data()
	if data.Section != packfile.ObjectSection {
		return packfile.ObjectHeader{}, nil, fmt.Errorf("bundle: offset %d is not an object entry", offset)
	}
	oh := data.Value().(packfile.ObjectHeader)

	buf := &bytes.Buffer{}
	if err := b.sc.WriteObject(&oh, buf); err != nil {
		return packfile.ObjectHeader{}, nil, fmt.Errorf("bundle: read entry at %d: %w", offset, err)
	}

	return oh, buf.Bytes(), nil
}

// DecodeEntry resolves the object at pack_offset, recursively applying
// delta chains through resolver for bases outside this immediate read
// (OFSDelta bases at other offsets within the bundle go through
// DecodeEntry again; REFDelta bases go through resolver.ResolveByID,
// which may reach outside this pack in a thin-pack scenario).
func (b *Bundle) DecodeEntry(offset int64, resolver BaseResolver) (*Object, error) {
	oh, raw, err := b.entryAt(offset)
	if err != nil {
		return nil, err
	}

	switch oh.Type {
	case plumbing.CommitObject, plumbing.TreeObject, plumbing.BlobObject, plumbing.TagObject:
		return &Object{Kind: oh.Type, Content: raw}, nil

	case plumbing.OFSDeltaObject:
		base, err := b.DecodeEntry(oh.OffsetReference, resolver)
		if err != nil {
			return nil, fmt.Errorf("bundle: resolving ofs-delta base at %d: %w", oh.OffsetReference, err)
		}
		return applyDelta(base, raw)

	case plumbing.REFDeltaObject:
		base, err := resolver.ResolveByID(oh.Reference)
		if err != nil {
			return nil, fmt.Errorf("bundle: resolving ref-delta base %s: %w", oh.Reference, err)
		}
		return applyDelta(base, raw)

	default:
		return nil, fmt.Errorf("%w: unknown entry type %v at offset %d", ErrIncompletePack, oh.Type, offset)
	}
}

// RawEntry is one undecoded pack entry: its declared kind, its raw
// bytes (full content for a base kind, delta instructions otherwise),
// and, for delta kinds, where its base lives.
type RawEntry struct {
	Kind       plumbing.ObjectType
	Raw        []byte
	BaseOffset int64         // valid when Kind == OFSDeltaObject
	BaseID     plumbing.Hash // valid when Kind == REFDeltaObject
}

// EntryAt reads one entry's header and raw bytes without resolving any
// delta chain, so a caller can walk the base->children graph itself
// (verify's DeltaTree traversal, §4.10) instead of re-decoding a shared
// base once per entry that references it.
func (b *Bundle) EntryAt(offset int64) (RawEntry, error) {
	oh, raw, err := b.entryAt(offset)
	if err != nil {
		return RawEntry{}, err
	}
	return RawEntry{
		Kind:       oh.Type,
		Raw:        raw,
		BaseOffset: oh.OffsetReference,
		BaseID:     oh.Reference,
	}, nil
}

func applyDelta(base *Object, delta []byte) (*Object, error) {
	content, err := packfile.PatchDelta(base.Content, delta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDelta, err)
	}
	return &Object{Kind: base.Kind, Content: content}, nil
}
