package binary

import (
	"encoding/binary"
	"io"
)

// Write writes the binary representation of data into w, using BigEndian order
// https://golang.org/pkg/encoding/binary/#Write
func Write(w io.Writer, data ...interface{}) error {
	for _, v := range data {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return err
		}
	}

	return nil
}

// WriteUint32 writes the binary representation of a uint32 into w, in BigEndian
// order
func WriteUint32(w io.Writer, value uint32) error {
	return binary.Write(w, binary.BigEndian, value)
}

// WriteUint16 writes the binary representation of a uint16 into w, in BigEndian
// order
func WriteUint16(w io.Writer, value uint16) error {
	return binary.Write(w, binary.BigEndian, value)
}

// WriteVariableWidthInt writes n using the variable-width encoding read by
// ReadVariableWidthInt: the last byte holds the low 7 bits, and each byte
// prepended before it holds the next 7 bits of (n-1), with its high bit set
// to mark continuation.
func WriteVariableWidthInt(w io.Writer, n int64) error {
	var buf [10]byte
	pos := len(buf) - 1
	buf[pos] = byte(n & 0x7f)
	n >>= 7
	for n != 0 {
		n--
		pos--
		buf[pos] = 0x80 | byte(n&0x7f)
		n >>= 7
	}
	_, err := w.Write(buf[pos:])
	return err
}
