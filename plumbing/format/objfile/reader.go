package objfile

import (
	"bufio"
	"compress/zlib"
	"fmt"
	"io"
	"strconv"

	"github.com/git-odb/godb/plumbing"
	"github.com/git-odb/godb/plumbing/format/objfmt"
)

// Reader reads loose objects: zlib-compressed "<type> <size>\0<content>"
// streams. The hash returned by Hash is only valid once the full content
// has been read.
type Reader struct {
	zr     io.ReadCloser
	br     *bufio.Reader
	hasher plumbing.Hasher

	typ       plumbing.ObjectType
	size      int64
	remaining int64
}

// NewReader opens source as a loose object. The zlib stream is opened
// eagerly, so a non-zlib or empty source fails here rather than on the
// first read.
func NewReader(source io.Reader) (*Reader, error) {
	zr, err := zlib.NewReader(source)
	if err != nil {
		return nil, fmt.Errorf("objfile: zlib: %w", err)
	}

	return &Reader{
		zr: zr,
		br: bufio.NewReader(zr),
	}, nil
}

// Header reads and parses the object header, returning its type and
// declared content size. It must be called before Read.
func (r *Reader) Header() (t plumbing.ObjectType, size int64, err error) {
	raw, err := r.br.ReadString(' ')
	if err != nil {
		return plumbing.InvalidObject, 0, fmt.Errorf("objfile: reading type: %w", err)
	}
	raw = raw[:len(raw)-1]

	t, err = plumbing.ParseObjectType(raw)
	if err != nil {
		return plumbing.InvalidObject, 0, err
	}

	raw, err = r.br.ReadString(0)
	if err != nil {
		return plumbing.InvalidObject, 0, fmt.Errorf("objfile: reading size: %w", err)
	}
	raw = raw[:len(raw)-1]

	size, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return plumbing.InvalidObject, 0, fmt.Errorf("objfile: invalid size %q: %w", raw, err)
	}

	r.typ = t
	r.size = size
	r.remaining = size

	r.hasher = plumbing.NewHasher(objfmt.UnsetObjectFormat, t, size)

	return t, size, nil
}

// Read implements io.Reader, returning the object's content.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.br.Read(p)
	if n > 0 {
		r.hasher.Write(p[:n])
		r.remaining -= int64(n)
	}
	return n, err
}

// Hash returns the hash of the object read so far. It is only meaningful
// once the content has been fully read.
func (r *Reader) Hash() plumbing.Hash {
	return r.hasher.Sum()
}

// Close releases the underlying zlib reader.
func (r *Reader) Close() error {
	return r.zr.Close()
}
