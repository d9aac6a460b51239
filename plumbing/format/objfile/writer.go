package objfile

import (
	"compress/zlib"
	"io"
	"strconv"

	"github.com/git-odb/godb/plumbing"
	"github.com/git-odb/godb/plumbing/format/objfmt"
)

// Writer writes loose objects: zlib-compressed "<type> <size>\0<content>"
// streams.
type Writer struct {
	w      io.Writer
	zw     *zlib.Writer
	hasher plumbing.Hasher

	size      int64
	remaining int64
}

// NewWriter returns a Writer that writes a loose object to dest.
func NewWriter(dest io.Writer) *Writer {
	return &Writer{
		w:  dest,
		zw: zlib.NewWriter(dest),
	}
}

// WriteHeader writes the object header and must be called exactly once,
// before any call to Write.
func (w *Writer) WriteHeader(t plumbing.ObjectType, size int64) error {
	if !t.Valid() {
		return plumbing.ErrInvalidType
	}
	if size < 0 {
		return ErrNegativeSize
	}

	w.size = size
	w.remaining = size
	w.hasher = plumbing.NewHasher(objfmt.UnsetObjectFormat, t, size)

	header := make([]byte, 0, len(t.String())+1+len(strconv.FormatInt(size, 10))+1)
	header = append(header, t.Bytes()...)
	header = append(header, ' ')
	header = strconv.AppendInt(header, size, 10)
	header = append(header, 0)

	_, err := w.zw.Write(header)
	return err
}

// Write writes p as object content. It returns ErrOverflow, along with the
// number of bytes actually written, if p would exceed the size declared to
// WriteHeader.
func (w *Writer) Write(p []byte) (int, error) {
	overflow := int64(len(p)) > w.remaining
	if overflow {
		p = p[:w.remaining]
	}

	n, err := w.zw.Write(p)
	if n > 0 {
		w.hasher.Write(p[:n])
		w.remaining -= int64(n)
	}
	if err != nil {
		return n, err
	}
	if overflow {
		return n, ErrOverflow
	}
	return n, nil
}

// Hash returns the hash of the content written so far.
func (w *Writer) Hash() plumbing.Hash {
	return w.hasher.Sum()
}

// Close flushes and closes the underlying zlib writer.
func (w *Writer) Close() error {
	return w.zw.Close()
}
