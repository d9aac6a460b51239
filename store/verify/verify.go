// Package verify implements integrity checking for loose objects and
// packs: recomputing checksums, re-decoding every entry, and rehashing
// the result against the id the index claims it has (§4.10).
package verify

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/git-odb/godb/plumbing"
	"github.com/git-odb/godb/plumbing/format/idxfile"
	"github.com/git-odb/godb/plumbing/format/objfmt"
	"github.com/git-odb/godb/plumbing/format/packfile"
	"github.com/git-odb/godb/store"
)

// objectFormatFor infers the hash kind to re-hash with from an id's byte
// width, since ObjectID does not expose its format tag directly.
func objectFormatFor(id plumbing.Hash) objfmt.ObjectFormat {
	if id.Size() == objfmt.SHA256Size {
		return objfmt.SHA256
	}
	return objfmt.SHA1
}

// Traversal selects how delta chains are walked while verifying a pack.
type Traversal int

const (
	// Lookup resolves each entry independently through the Bundle,
	// re-decoding a shared delta base once per entry that references it.
	// Simple, and correct for any pack, at the cost of repeated work on
	// long delta chains.
	Lookup Traversal = iota
	// DeltaTree precomputes the base→children relationship first, so
	// each base is decoded exactly once and its decoded bytes are
	// handed down to its children directly.
	DeltaTree
)

// FailureKind classifies what Outcome.Err actually represents.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureChecksumMismatch
	FailureObjectDecode
	FailureObjectHashMismatch
	FailureCrc32Mismatch
	FailureInterrupted
)

// PackReader is what Bundle needs from a pack to verify it: raw,
// undecoded entry access for DeltaTree's shared-base decoding, and full
// delta resolution for Lookup's independent-entry decoding. *store.Bundle
// satisfies this directly.
type PackReader interface {
	EntryAt(offset int64) (store.RawEntry, error)
	DecodeEntry(offset int64, resolver store.BaseResolver) (*store.Object, error)
}

// Histogram accumulates counts observed while verifying a pack.
type Histogram struct {
	ByKind          map[plumbing.ObjectType]int64
	DeltaChainLen   map[int]int64
	TotalBytes      int64
	LongestChain    int
}

func newHistogram() *Histogram {
	return &Histogram{
		ByKind:        make(map[plumbing.ObjectType]int64),
		DeltaChainLen: make(map[int]int64),
	}
}

// Outcome is the result of verifying one Bundle or loose store.
type Outcome struct {
	Checked   int64
	Kind      FailureKind
	Err       error
	Histogram *Histogram
}

// Options configures a verification pass.
type Options struct {
	Traversal   Traversal
	Progress    store.Progress
	Interrupt   store.Interrupt
	Concurrency int
}

// Bundle verifies one (index, pack) pair. When packChecksum is non-nil it
// is compared with the pack checksum the index records; then every entry
// is decoded and its hash compared against what the index claims (§4.10).
// Neither the index nor the pack bytes are re-hashed against their
// trailers, and no CRC32 is compared. reader and
// resolver are normally the same *store.Bundle/*store.Handle pair a
// Store already has open; Bundle does not open anything itself.
func Bundle(ctx context.Context, idx *idxfile.MemoryIndex, packChecksum []byte, reader PackReader, resolver store.BaseResolver, opts Options) Outcome {
	hist := newHistogram()

	if packChecksum != nil && !bytes.Equal(idx.PackfileChecksum.Bytes(), packChecksum) {
		return Outcome{
			Kind: FailureChecksumMismatch,
			Err: &store.Error{
				Reason:   store.ReasonChecksumMismatch,
				Expected: idx.PackfileChecksum.String(),
				Actual:   hex.EncodeToString(packChecksum),
			},
			Histogram: hist,
		}
	}

	count, err := idx.Count()
	if err != nil {
		return Outcome{Kind: FailureObjectDecode, Err: err, Histogram: hist}
	}

	it, err := idx.EntriesByOffset()
	if err != nil {
		return Outcome{Kind: FailureObjectDecode, Err: err, Histogram: hist}
	}
	defer it.Close()

	entries := make([]*idxfile.Entry, 0, count)
	for {
		e, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Outcome{Kind: FailureObjectDecode, Err: err, Histogram: hist}
		}
		entries = append(entries, e)
	}

	if opts.Traversal == DeltaTree {
		return deltaTreeVerify(ctx, idx, entries, reader, resolver, opts, hist)
	}
	return lookupVerify(ctx, entries, reader, resolver, opts, hist)
}

// lookupVerify resolves each entry independently through reader, which
// re-decodes a shared delta base once per entry that references it.
// Entries are independent of each other, so this fans out across
// opts.Concurrency workers.
func lookupVerify(ctx context.Context, entries []*idxfile.Entry, reader PackReader, resolver store.BaseResolver, opts Options, hist *Histogram) Outcome {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var checked atomic.Int64
	var histMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, e := range entries {
		e := e
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			if opts.Interrupt != nil && opts.Interrupt() {
				return store.ErrInterrupted
			}

			obj, err := reader.DecodeEntry(e.Offset, resolver)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", store.ErrCorruptObject, e.Hash, err)
			}

			if err := checkHash(e.Hash, obj); err != nil {
				return err
			}

			histMu.Lock()
			hist.ByKind[obj.Kind]++
			hist.TotalBytes += int64(len(obj.Content))
			histMu.Unlock()

			n := checked.Add(1)
			if opts.Progress != nil {
				opts.Progress(int(n), len(entries))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Outcome{Checked: checked.Load(), Kind: classify(err), Err: err, Histogram: hist}
	}
	return Outcome{Checked: checked.Load(), Kind: FailureNone, Histogram: hist}
}

// deltaTreeVerify precomputes the base->children relationship across
// every entry in the pack, so each base is decoded exactly once and its
// decoded bytes are handed down to its children directly, rather than
// being re-read and re-inflated once per descendant. Because a child's
// decode depends on its parent's decoded bytes being in hand, this walk
// runs single-threaded rather than fanning out like lookupVerify.
func deltaTreeVerify(ctx context.Context, idx *idxfile.MemoryIndex, entries []*idxfile.Entry, reader PackReader, resolver store.BaseResolver, opts Options, hist *Histogram) Outcome {
	nodes := make(map[int64]*deltaNode, len(entries))
	children := make(map[int64][]int64)

	for _, e := range entries {
		raw, err := reader.EntryAt(e.Offset)
		if err != nil {
			return Outcome{Kind: FailureObjectDecode, Err: err, Histogram: hist}
		}
		nodes[e.Offset] = &deltaNode{hash: e.Hash, raw: raw}
	}

	var roots []int64
	for off, n := range nodes {
		switch n.raw.Kind {
		case plumbing.OFSDeltaObject:
			n.base, n.hasBase = n.raw.BaseOffset, true
			children[n.base] = append(children[n.base], off)
		case plumbing.REFDeltaObject:
			if baseOff, err := idx.FindOffset(n.raw.BaseID); err == nil {
				n.base, n.hasBase = baseOff, true
				children[baseOff] = append(children[baseOff], off)
			} else {
				roots = append(roots, off)
			}
		default:
			roots = append(roots, off)
		}
	}

	decoded := make(map[int64]*store.Object, len(nodes))

	var checked int64
	queue := roots
	for len(queue) > 0 {
		off := queue[0]
		queue = queue[1:]

		if opts.Interrupt != nil && opts.Interrupt() {
			return Outcome{Checked: checked, Kind: FailureInterrupted, Err: store.ErrInterrupted, Histogram: hist}
		}
		select {
		case <-ctx.Done():
			return Outcome{Checked: checked, Kind: FailureInterrupted, Err: ctx.Err(), Histogram: hist}
		default:
		}

		n := nodes[off]

		var obj *store.Object
		var err error
		if n.hasBase {
			obj, err = applyRawDelta(decoded[n.base], n.raw.Raw)
		} else {
			obj, err = reader.DecodeEntry(off, resolver)
		}
		if err != nil {
			return Outcome{Checked: checked, Kind: FailureObjectDecode, Err: fmt.Errorf("%w: %s: %v", store.ErrCorruptObject, n.hash, err), Histogram: hist}
		}
		decoded[off] = obj

		if err := checkHash(n.hash, obj); err != nil {
			return Outcome{Checked: checked, Kind: FailureObjectHashMismatch, Err: err, Histogram: hist}
		}

		hist.ByKind[obj.Kind]++
		hist.TotalBytes += int64(len(obj.Content))
		hist.DeltaChainLen[n.depth]++
		if n.depth > hist.LongestChain {
			hist.LongestChain = n.depth
		}

		checked++
		if opts.Progress != nil {
			opts.Progress(int(checked), len(entries))
		}

		for _, childOff := range children[off] {
			nodes[childOff].depth = n.depth + 1
			queue = append(queue, childOff)
		}
	}

	if checked != int64(len(entries)) {
		return Outcome{Checked: checked, Kind: FailureObjectDecode, Err: fmt.Errorf("%w: delta graph left %d of %d entries unreachable from a root", store.ErrCorruptDelta, int64(len(entries))-checked, len(entries)), Histogram: hist}
	}

	return Outcome{Checked: checked, Kind: FailureNone, Histogram: hist}
}

// deltaNode is one pack entry's place in the base->children graph built
// by deltaTreeVerify. hasBase is false for a root: a non-delta entry, or
// a REFDelta entry whose base lies outside this pack (a thin-pack base),
// both of which fall back to reader.DecodeEntry instead of applyRawDelta.
type deltaNode struct {
	hash    plumbing.Hash
	raw     store.RawEntry
	depth   int
	base    int64
	hasBase bool
}

// applyRawDelta patches a decoded base's content with delta's
// instruction stream, without going through reader.DecodeEntry again.
func applyRawDelta(base *store.Object, delta []byte) (*store.Object, error) {
	content, err := packfile.PatchDelta(base.Content, delta)
	if err != nil {
		return nil, err
	}
	return &store.Object{Kind: base.Kind, Content: content}, nil
}

func checkHash(want plumbing.Hash, obj *store.Object) error {
	hasher := plumbing.NewHasher(objectFormatFor(want), obj.Kind, int64(len(obj.Content)))
	hasher.Write(obj.Content)
	if got := hasher.Sum(); !bytes.Equal(got.Bytes(), want.Bytes()) {
		return &store.Error{
			Reason:   store.ReasonObjectHashMismatch,
			ID:       want,
			Expected: want.String(),
			Actual:   got.String(),
		}
	}
	return nil
}

func classify(err error) FailureKind {
	if err == store.ErrInterrupted {
		return FailureInterrupted
	}
	var sErr *store.Error
	if asStoreError(err, &sErr) {
		return FailureObjectHashMismatch
	}
	return FailureObjectDecode
}

func asStoreError(err error, target **store.Error) bool {
	se, ok := err.(*store.Error)
	if !ok {
		return false
	}
	*target = se
	return true
}
