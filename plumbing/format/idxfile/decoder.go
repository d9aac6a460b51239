package idxfile

import (
	"bytes"
	"fmt"
	"io"

	"github.com/git-odb/godb/plumbing/format/objfmt"
	"github.com/git-odb/godb/utils/binary"
)

// Decoder reads and decodes idx files from an input stream, filling a
// MemoryIndex.
type Decoder struct {
	r io.Reader
}

// NewDecoder returns a new Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads the idx file from d's reader and stores the result in idx.
// idx is normally created with NewMemoryIndex so its hash size is known;
// an idx with no hash size recorded is decoded as SHA1.
func (d *Decoder) Decode(idx *MemoryIndex) error {
	if idx == nil {
		return fmt.Errorf("nil index")
	}
	if idx.hashSize == 0 {
		// A MemoryIndex created with new(MemoryIndex) rather than
		// NewMemoryIndex has no hash size recorded; assume SHA1, the
		// only idx version 2 format produced before SHA256 repos.
		idx.hashSize = objfmt.SHA1Size
	}

	flow := []func(*MemoryIndex) error{
		d.readHeader,
		d.readFanout,
		d.readHashes,
		d.readCRC32,
		d.readOffsets,
		d.readChecksums,
	}

	for _, f := range flow {
		if err := f(idx); err != nil {
			return err
		}
	}

	return nil
}

func (d *Decoder) readHeader(idx *MemoryIndex) error {
	header := make([]byte, len(IdxHeader))
	if _, err := io.ReadFull(d.r, header); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidIdxFile, err)
	}
	if !bytes.Equal(header, IdxHeader) {
		return fmt.Errorf("%w: invalid signature", ErrInvalidIdxFile)
	}

	version, err := binary.ReadUint32(d.r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidIdxFile, err)
	}
	if version != VersionSupported {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidIdxFile, version)
	}

	idx.Version = version
	return nil
}

func (d *Decoder) readFanout(idx *MemoryIndex) error {
	for i := 0; i < fanout; i++ {
		v, err := binary.ReadUint32(d.r)
		if err != nil {
			return fmt.Errorf("%w: reading fanout: %w", ErrInvalidIdxFile, err)
		}
		idx.Fanout[i] = v
	}

	last := uint32(0)
	bucket := -1
	for i := 0; i < fanout; i++ {
		count := idx.Fanout[i] - last
		if count > 0 {
			bucket++
			idx.FanoutMapping[i] = bucket
			idx.Names = append(idx.Names, make([]byte, 0, int(count)*idx.hashSize))
			idx.Offset32 = append(idx.Offset32, make([]byte, 0, int(count)*4))
			idx.CRC32 = append(idx.CRC32, make([]byte, 0, int(count)*4))
		} else {
			idx.FanoutMapping[i] = noMapping
		}
		last = idx.Fanout[i]
	}

	return nil
}

func (d *Decoder) readHashes(idx *MemoryIndex) error {
	last := uint32(0)
	for i := 0; i < fanout; i++ {
		pos := idx.FanoutMapping[i]
		if pos == noMapping {
			continue
		}

		count := int(idx.Fanout[i] - last)
		last = idx.Fanout[i]

		buf := make([]byte, count*idx.hashSize)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return fmt.Errorf("%w: reading hashes: %w", ErrInvalidIdxFile, err)
		}
		idx.Names[pos] = buf
	}
	return nil
}

func (d *Decoder) readCRC32(idx *MemoryIndex) error {
	last := uint32(0)
	for i := 0; i < fanout; i++ {
		pos := idx.FanoutMapping[i]
		if pos == noMapping {
			continue
		}

		count := int(idx.Fanout[i] - last)
		last = idx.Fanout[i]

		buf := make([]byte, count*4)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return fmt.Errorf("%w: reading CRC32 table: %w", ErrInvalidIdxFile, err)
		}
		idx.CRC32[pos] = buf
	}
	return nil
}

func (d *Decoder) readOffsets(idx *MemoryIndex) error {
	last := uint32(0)
	var numLargeOffsets int
	for i := 0; i < fanout; i++ {
		pos := idx.FanoutMapping[i]
		if pos == noMapping {
			continue
		}

		count := int(idx.Fanout[i] - last)
		last = idx.Fanout[i]

		buf := make([]byte, count*4)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return fmt.Errorf("%w: reading offsets: %w", ErrInvalidIdxFile, err)
		}
		idx.Offset32[pos] = buf

		for j := 0; j < count; j++ {
			v := uint32(buf[j*4])<<24 | uint32(buf[j*4+1])<<16 | uint32(buf[j*4+2])<<8 | uint32(buf[j*4+3])
			if uint64(v)&Is64BitsMask != 0 {
				numLargeOffsets++
			}
		}
	}

	if numLargeOffsets > 0 {
		buf := make([]byte, numLargeOffsets*8)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return fmt.Errorf("%w: reading large offsets: %w", ErrInvalidIdxFile, err)
		}
		idx.Offset64 = buf
	}

	return nil
}

func (d *Decoder) readChecksums(idx *MemoryIndex) error {
	packChecksum := make([]byte, idx.hashSize)
	if _, err := io.ReadFull(d.r, packChecksum); err != nil {
		return fmt.Errorf("%w: reading packfile checksum: %w", ErrInvalidIdxFile, err)
	}
	idx.PackfileChecksum.ResetBySize(idx.hashSize)
	_, _ = idx.PackfileChecksum.Write(packChecksum)

	idxChecksum := make([]byte, idx.hashSize)
	if _, err := io.ReadFull(d.r, idxChecksum); err != nil {
		return fmt.Errorf("%w: reading idx checksum: %w", ErrInvalidIdxFile, err)
	}
	idx.IdxChecksum.ResetBySize(idx.hashSize)
	_, _ = idx.IdxChecksum.Write(idxChecksum)

	return nil
}
