package binary

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/git-odb/godb/plumbing"
)

// sniffLen is the number of leading bytes inspected by IsBinary, matching
// the window git itself uses to decide whether a blob is binary.
const sniffLen = 8000

// Read reads structured binary data from r into each of data, in order,
// using big-endian byte order.
func Read(r io.Reader, data ...interface{}) error {
	for _, v := range data {
		if err := binary.Read(r, binary.BigEndian, v); err != nil {
			return err
		}
	}
	return nil
}

// ReadUint32 reads 4 bytes from r as a big-endian uint32.
func ReadUint32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// ReadUint64 reads 8 bytes from r as a big-endian uint64.
func ReadUint64(r io.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// ReadUint16 reads 2 bytes from r as a big-endian uint16.
func ReadUint16(r io.Reader) (uint16, error) {
	var v uint16
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// ReadUntil reads bytes from r up to, but excluding, the next occurrence
// of delim, consuming the delimiter.
func ReadUntil(r io.Reader, delim byte) ([]byte, error) {
	var buf []byte
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		if b[0] == delim {
			return buf, nil
		}
		buf = append(buf, b[0])
	}
}

// ReadUntilFromBufioReader behaves like ReadUntil, but takes advantage of
// bufio.Reader's buffered ReadBytes to avoid a byte-at-a-time read loop.
func ReadUntilFromBufioReader(r *bufio.Reader, delim byte) ([]byte, error) {
	b, err := r.ReadBytes(delim)
	if err != nil {
		return nil, err
	}
	return b[:len(b)-1], nil
}

// ReadVariableWidthInt reads the variable-width integer encoding used for
// OFS_DELTA negative offsets in packfiles: each byte contributes 7 bits,
// the high bit marks continuation, and every continuation byte after the
// first adds 1 before shifting (so the encoding has no redundant forms).
func ReadVariableWidthInt(r io.Reader) (int64, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	result := int64(b[0] & 0x7f)
	for b[0]&0x80 != 0 {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		result = ((result + 1) << 7) | int64(b[0]&0x7f)
	}

	return result, nil
}

// ReadHash reads size bytes from r and returns them as a Hash. size must
// be a supported hash size (20 for SHA1, 32 for SHA256).
func ReadHash(r io.Reader, size int) (plumbing.Hash, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return plumbing.ZeroHash, err
	}

	var h plumbing.Hash
	h.ResetBySize(size)
	if _, err := h.Write(buf); err != nil {
		return plumbing.ZeroHash, err
	}

	return h, nil
}

// IsBinary detects whether r's content looks like a binary file, by
// checking for a NUL byte within the first sniffLen bytes.
func IsBinary(r io.Reader) (bool, error) {
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}

	return bytes.IndexByte(buf[:n], 0) != -1, nil
}
