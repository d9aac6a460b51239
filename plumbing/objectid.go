package plumbing

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/git-odb/godb/plumbing/format/objfmt"
)

var empty = make([]byte, objfmt.SHA256Size)

// FromHex parses a hexadecimal string and returns an ObjectID
// and a boolean confirming whether the operation was successful.
// The object format is inferred from the length of the input.
//
// For backwards compatibility, partial hashes will be handled as
// being SHA1.
func FromHex(in string) (ObjectID, bool) {
	var id ObjectID

	switch len(in) {
	case objfmt.SHA256HexSize:
		id.format = objfmt.SHA256
	default:
		id.format = objfmt.SHA1
	}

	out, err := hex.DecodeString(in)
	if err != nil {
		return id, false
	}

	id.Write(out)
	return id, true
}

// FromBytes creates an ObjectID based off raw bytes.
// The object format is inferred from the length of the input.
//
// If the size of [in] does not match the supported object formats,
// an empty ObjectID will be returned.
func FromBytes(in []byte) (ObjectID, bool) {
	var id ObjectID

	switch len(in) {
	case objfmt.SHA1Size:
		id.format = objfmt.SHA1

	case objfmt.SHA256Size:
		id.format = objfmt.SHA256

	default:
		return id, false
	}

	copy(id.hash[:], in)
	return id, true
}

// ObjectID represents the ID of a Git object. The id is kept as raw hash
// bytes; String returns its hexadecimal form.
type ObjectID struct {
	hash   [objfmt.SHA256Size]byte
	format objfmt.ObjectFormat
}

func (s ObjectID) HexSize() int {
	return s.Size() * 2
}

// Size returns the length of the resulting hash.
func (s ObjectID) Size() int {
	if s.format == objfmt.SHA256 {
		return objfmt.SHA256Size
	}
	return objfmt.SHA1Size
}

// Compare compares the hash's sum with a slice of bytes.
func (s ObjectID) Compare(b []byte) int {
	return bytes.Compare(s.hash[:s.Size()], b)
}

func (s ObjectID) Equal(in ObjectID) bool {
	return bytes.Equal(s.hash[:], in.hash[:])
}

// Bytes returns the slice of bytes containing the hash.
func (s ObjectID) Bytes() []byte {
	if len(s.hash) == 0 {
		v := make([]byte, s.Size())
		return v
	}
	return s.hash[:s.Size()]
}

func (s ObjectID) HasPrefix(prefix []byte) bool {
	return bytes.HasPrefix(s.hash[:s.Size()], prefix)
}

// IsZero returns true if the hash is zero.
func (s ObjectID) IsZero() bool {
	return bytes.Equal(s.hash[:], empty)
}

// String returns the hexadecimal representation of the ObjectID.
func (s ObjectID) String() string {
	val := s.hash[:s.Size()]
	return hex.EncodeToString(val)
}

func (s *ObjectID) Write(in []byte) (int, error) {
	if s.format == "" {
		s.format = objfmt.SHA1
	}

	n := copy(s.hash[:], in[:])
	return n, nil
}

// ReadFrom loads the ObjectID from [r].
func (s *ObjectID) ReadFrom(r io.Reader) (int64, error) {
	if s.format == "" {
		s.format = objfmt.SHA1
	}

	err := binary.Read(r, binary.BigEndian, s.hash[:s.Size()])
	if err != nil {
		return 0, fmt.Errorf("read hash from binary: %w", err)
	}
	return int64(s.Size()), nil
}

func (s *ObjectID) WriteTo(w io.Writer) (int64, error) {
	err := binary.Write(w, binary.BigEndian, s.hash[:s.Size()])
	if err != nil {
		return 0, err
	}
	return int64(s.Size()), nil
}

func (s *ObjectID) ResetBySize(idSize int) {
	if idSize == objfmt.SHA256Size {
		s.format = objfmt.SHA256
	} else {
		s.format = objfmt.SHA1
	}
	copy(s.hash[:], s.hash[:0])
}

// Prefix is a partial ObjectID: only the first HexLen hex characters are
// significant. It is used for short-hash lookups (§4.7).
type Prefix struct {
	id     ObjectID
	hexLen int
}

// NewPrefix builds a Prefix from a hex string of at least 4 and at most
// 64 hex characters; shorter, longer or non-hex input is rejected.
func NewPrefix(hexIn string) (Prefix, error) {
	if len(hexIn) < 4 {
		return Prefix{}, fmt.Errorf("prefix too short: %q", hexIn)
	}

	padded := hexIn
	if len(padded)%2 != 0 {
		padded += "0"
	}
	b, err := hex.DecodeString(padded)
	if err != nil {
		return Prefix{}, fmt.Errorf("invalid hex prefix %q: %w", hexIn, err)
	}

	id, ok := FromBytesPadded(b)
	if !ok {
		return Prefix{}, fmt.Errorf("invalid prefix length %q", hexIn)
	}

	return Prefix{id: id, hexLen: len(hexIn)}, nil
}

// FromBytesPadded builds an ObjectID whose size is inferred from the
// smallest supported hash size that can hold len(in) bytes, right-padding
// with zero bytes. Used for prefix construction, where the caller supplies
// fewer than hash_size bytes.
func FromBytesPadded(in []byte) (ObjectID, bool) {
	var id ObjectID
	switch {
	case len(in) <= objfmt.SHA1Size:
		id.format = objfmt.SHA1
	case len(in) <= objfmt.SHA256Size:
		id.format = objfmt.SHA256
	default:
		return id, false
	}
	copy(id.hash[:], in)
	return id, true
}

// HexLen reports how many leading hex characters of the prefix are
// significant.
func (p Prefix) HexLen() int { return p.hexLen }

// Matches reports whether id's first p.HexLen hex characters equal the
// prefix's.
func (p Prefix) Matches(id ObjectID) bool {
	full := p.hexLen / 2
	for i := 0; i < full; i++ {
		if p.id.hash[i] != id.hash[i] {
			return false
		}
	}
	if p.hexLen%2 == 1 {
		// Compare only the high nibble of the next byte.
		return p.id.hash[full]&0xf0 == id.hash[full]&0xf0
	}
	return true
}

func (p Prefix) String() string {
	s := p.id.String()
	if p.hexLen < len(s) {
		return s[:p.hexLen]
	}
	return s
}
