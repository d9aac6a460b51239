package midx

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/git-odb/godb/plumbing/format/objfmt"
	"github.com/git-odb/godb/utils/binary"
)

// Decoder reads and decodes a multi-pack-index file into a
// MultiPackIndex.
type Decoder struct {
	r io.ReadSeeker
}

// NewDecoder returns a Decoder reading from r, which must support
// seeking since the chunk table records absolute offsets.
func NewDecoder(r io.ReadSeeker) *Decoder {
	return &Decoder{r: r}
}

type chunkEntry struct {
	id     [4]byte
	offset int64
}

// Decode reads the multi-pack-index from d's reader into idx.
func (d *Decoder) Decode(idx *MultiPackIndex) error {
	sig := make([]byte, 4)
	if _, err := io.ReadFull(d.r, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMultiPackIndex, err)
	}
	if !bytes.Equal(sig, Signature) {
		return fmt.Errorf("%w: bad signature", ErrInvalidMultiPackIndex)
	}

	hdr := make([]byte, 4)
	if _, err := io.ReadFull(d.r, hdr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMultiPackIndex, err)
	}
	version, oidVersion, numChunks := hdr[0], hdr[1], hdr[2]
	if uint32(version) != VersionSupported {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidMultiPackIndex, version)
	}

	switch oidVersion {
	case 1:
		idx.HashSize = objfmt.SHA1Size
	case 2:
		idx.HashSize = objfmt.SHA256Size
	default:
		return fmt.Errorf("%w: unsupported oid version %d", ErrInvalidMultiPackIndex, oidVersion)
	}
	idx.Version = uint32(version)

	var numPacks uint32
	if err := binary.Read(d.r, &numPacks); err != nil {
		return fmt.Errorf("%w: reading pack count: %v", ErrInvalidMultiPackIndex, err)
	}

	chunks := make([]chunkEntry, 0, int(numChunks)+1)
	for i := 0; i < int(numChunks)+1; i++ {
		var ce chunkEntry
		if _, err := io.ReadFull(d.r, ce.id[:]); err != nil {
			return fmt.Errorf("%w: reading chunk id: %v", ErrInvalidMultiPackIndex, err)
		}
		off, err := binary.ReadUint64(d.r)
		if err != nil {
			return fmt.Errorf("%w: reading chunk offset: %v", ErrInvalidMultiPackIndex, err)
		}
		ce.offset = int64(off)
		chunks = append(chunks, ce)
	}

	find := func(id [4]byte) (int64, int64, bool) {
		for i := 0; i+1 < len(chunks); i++ {
			if chunks[i].id == id {
				return chunks[i].offset, chunks[i+1].offset, true
			}
		}
		return 0, 0, false
	}

	if off, end, ok := find(chunkPackNames); ok {
		if err := d.readPackNames(idx, off, end); err != nil {
			return err
		}
	}

	fanoutOff, _, ok := find(chunkOIDFanout)
	if !ok {
		return fmt.Errorf("%w: missing OIDF chunk", ErrInvalidMultiPackIndex)
	}
	total, err := d.readFanout(idx, fanoutOff)
	if err != nil {
		return err
	}

	oidLookupOff, _, ok := find(chunkOIDLookup)
	if !ok {
		return fmt.Errorf("%w: missing OIDL chunk", ErrInvalidMultiPackIndex)
	}
	if err := d.readOIDLookup(idx, oidLookupOff, total); err != nil {
		return err
	}

	offOff, _, ok := find(chunkObjOffsets)
	if !ok {
		return fmt.Errorf("%w: missing OOFF chunk", ErrInvalidMultiPackIndex)
	}
	largeOff, _, hasLarge := find(chunkObjLargeOff)
	if err := d.readOffsets(idx, offOff, total, largeOff, hasLarge); err != nil {
		return err
	}

	return nil
}

func (d *Decoder) readPackNames(idx *MultiPackIndex, off, end int64) error {
	if _, err := d.r.Seek(off, io.SeekStart); err != nil {
		return err
	}
	buf := make([]byte, end-off)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return fmt.Errorf("%w: reading pack names: %v", ErrInvalidMultiPackIndex, err)
	}
	names := strings.Split(strings.TrimRight(string(buf), "\x00"), "\x00")
	out := names[:0]
	for _, n := range names {
		if n != "" {
			out = append(out, n)
		}
	}
	idx.PackNames = out
	return nil
}

func (d *Decoder) readFanout(idx *MultiPackIndex, off int64) (uint32, error) {
	if _, err := d.r.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	for i := 0; i < fanoutSize; i++ {
		v, err := binary.ReadUint32(d.r)
		if err != nil {
			return 0, fmt.Errorf("%w: reading fanout: %v", ErrInvalidMultiPackIndex, err)
		}
		idx.fanout[i] = v
	}
	return idx.fanout[fanoutSize-1], nil
}

func (d *Decoder) readOIDLookup(idx *MultiPackIndex, off int64, total uint32) error {
	if _, err := d.r.Seek(off, io.SeekStart); err != nil {
		return err
	}
	idx.oids = make([][]byte, total)
	for i := range idx.oids {
		buf := make([]byte, idx.HashSize)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return fmt.Errorf("%w: reading oid lookup: %v", ErrInvalidMultiPackIndex, err)
		}
		idx.oids[i] = buf
	}
	return nil
}

func (d *Decoder) readOffsets(idx *MultiPackIndex, off int64, total uint32, largeOff int64, hasLarge bool) error {
	if _, err := d.r.Seek(off, io.SeekStart); err != nil {
		return err
	}
	idx.offsets = make([]PackOffset, total)

	type rawOff struct {
		packID uint32
		off32  uint32
	}
	raws := make([]rawOff, total)
	var numLarge int
	for i := range raws {
		packID, err := binary.ReadUint32(d.r)
		if err != nil {
			return fmt.Errorf("%w: reading pack id: %v", ErrInvalidMultiPackIndex, err)
		}
		o, err := binary.ReadUint32(d.r)
		if err != nil {
			return fmt.Errorf("%w: reading offset: %v", ErrInvalidMultiPackIndex, err)
		}
		raws[i] = rawOff{packID, o}
		if o&0x80000000 != 0 {
			numLarge++
		}
	}

	var largeOffsets []uint64
	if hasLarge && numLarge > 0 {
		if _, err := d.r.Seek(largeOff, io.SeekStart); err != nil {
			return err
		}
		largeOffsets = make([]uint64, numLarge)
		for i := range largeOffsets {
			v, err := binary.ReadUint64(d.r)
			if err != nil {
				return fmt.Errorf("%w: reading large offset: %v", ErrInvalidMultiPackIndex, err)
			}
			largeOffsets[i] = v
		}
	}

	for i, r := range raws {
		var offset int64
		if r.off32&0x80000000 != 0 {
			li := r.off32 &^ 0x80000000
			if int(li) >= len(largeOffsets) {
				return fmt.Errorf("%w: large offset index out of range", ErrInvalidMultiPackIndex)
			}
			offset = int64(largeOffsets[li])
		} else {
			offset = int64(r.off32)
		}
		idx.offsets[i] = PackOffset{PackIndex: int(r.packID), Offset: offset}
	}

	return nil
}

// sortedPackNames is a helper for tests and encoders: git writes pack
// names sorted lexically.
func sortedPackNames(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
