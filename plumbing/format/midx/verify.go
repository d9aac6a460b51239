package midx

import (
	"fmt"

	"github.com/git-odb/godb/plumbing"
)

// PackOffsetMismatch reports that a multi-pack-index's recorded offset
// for an object disagrees with the offset recorded in that object's own
// pack's single-pack index (§4.5 integrity check).
type PackOffsetMismatch struct {
	PackName string
	ID       plumbing.Hash
	Expected int64
	Actual   int64
}

func (e *PackOffsetMismatch) Error() string {
	return fmt.Sprintf("midx: pack %s: offset mismatch for %s: midx says %d, pack index says %d",
		e.PackName, e.ID, e.Expected, e.Actual)
}

// PackIndexLookup is the capability VerifyIntegrity needs to cross-check
// one member pack's own offsets: typically a thin wrapper around that
// pack's decoded idxfile.MemoryIndex.
type PackIndexLookup interface {
	FindOffset(id plumbing.Hash) (int64, error)
}

// VerifyIntegrity groups every indexed object by the member pack it
// belongs to, then for each pack compares the midx's recorded offset
// against that pack's own index, via openIndex (called once for each
// member pack that at least one entry belongs to, in no fixed order).
func (m *MultiPackIndex) VerifyIntegrity(openIndex func(packName string) (PackIndexLookup, error)) error {
	byPack := make(map[int][]int, len(m.PackNames))
	for i, po := range m.offsets {
		byPack[po.PackIndex] = append(byPack[po.PackIndex], i)
	}

	for packIdx, entryIdxs := range byPack {
		if packIdx < 0 || packIdx >= len(m.PackNames) {
			return fmt.Errorf("%w: entry references unknown pack index %d", ErrInvalidMultiPackIndex, packIdx)
		}
		name := m.PackNames[packIdx]

		idx, err := openIndex(name)
		if err != nil {
			return fmt.Errorf("midx: opening %s: %w", name, err)
		}

		for _, ei := range entryIdxs {
			id, ok := plumbing.FromBytes(m.oids[ei])
			if !ok {
				return ErrInvalidMultiPackIndex
			}

			want, err := idx.FindOffset(id)
			if err != nil {
				return fmt.Errorf("midx: %s: looking up %s: %w", name, id, err)
			}
			if want != m.offsets[ei].Offset {
				return &PackOffsetMismatch{
					PackName: name,
					ID:       id,
					Expected: m.offsets[ei].Offset,
					Actual:   want,
				}
			}
		}
	}

	return nil
}
