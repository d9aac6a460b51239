package dotgit

import (
	"github.com/go-git/go-billy/v5"

	"github.com/git-odb/godb/plumbing/format/objfile"
)

// ObjectWriter writes a new loose object to a temp file, then renames it
// into place under its content hash once Close succeeds. Rename-over-
// existing is a no-op, since the destination — if present — already
// holds identical bytes.
type ObjectWriter struct {
	*objfile.Writer
	fs billy.Filesystem
	f  billy.File
}

func newObjectWriter(fs billy.Filesystem) (*ObjectWriter, error) {
	f, err := fs.TempFile("", "tmp_obj_")
	if err != nil {
		return nil, err
	}

	return &ObjectWriter{
		Writer: objfile.NewWriter(f),
		fs:     fs,
		f:      f,
	}, nil
}

// Close flushes the zlib stream and renames the temp file to its
// content-addressed path.
func (w *ObjectWriter) Close() error {
	if err := w.Writer.Close(); err != nil {
		return err
	}
	if err := w.f.Close(); err != nil {
		return err
	}

	hex := w.Writer.Hash().String()
	dir := hex[:2]
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return w.fs.Rename(w.f.Name(), w.fs.Join(dir, hex[2:]))
}
