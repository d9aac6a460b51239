// Package loose implements the one-file-per-object store (§4.1): each
// object lives zlib-compressed at <object-dir>/<id[0:2]>/<id[2:]>.
package loose

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-billy/v5"

	"github.com/git-odb/godb/plumbing"
	"github.com/git-odb/godb/plumbing/format/objfile"
	"github.com/git-odb/godb/plumbing/format/objfmt"
	"github.com/git-odb/godb/store"
	"github.com/git-odb/godb/store/dotgit"
)

// objectFormatFor infers the hash kind to re-hash with from an id's byte
// width, since ObjectID does not expose its format tag directly.
func objectFormatFor(id plumbing.Hash) objfmt.ObjectFormat {
	if id.Size() == objfmt.SHA256Size {
		return objfmt.SHA256
	}
	return objfmt.SHA1
}

// Store is a loose object store rooted at a single object directory.
type Store struct {
	dir *dotgit.DotGit
}

// New returns a Store backed by fs.
func New(fs billy.Filesystem) *Store {
	return &Store{dir: dotgit.New(fs)}
}

// TryFind decompresses and parses the object named by id, returning nil
// (not an error) if no loose file exists for it.
func (s *Store) TryFind(id plumbing.Hash) (*store.Object, error) {
	f, err := s.dir.OpenObject(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("loose: open %s: %w", id, err)
	}
	defer f.Close()

	r, err := objfile.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("loose: %s: %w", id, err)
	}
	defer r.Close()

	kind, size, err := r.Header()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrCorruptObject, id, err)
	}

	content := make([]byte, size)
	if _, err := io.ReadFull(r, content); err != nil {
		return nil, fmt.Errorf("loose: %s: %w", id, err)
	}

	return &store.Object{Kind: kind, Content: content}, nil
}

// TryHeader decompresses only enough bytes to parse the header, avoiding
// full decompression of large blobs. Returns nil if no loose file exists.
func (s *Store) TryHeader(id plumbing.Hash) (*store.Header, error) {
	f, err := s.dir.OpenObject(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("loose: open %s: %w", id, err)
	}
	defer f.Close()

	r, err := objfile.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("loose: %s: %w", id, err)
	}
	defer r.Close()

	kind, size, err := r.Header()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrCorruptObject, id, err)
	}

	return &store.Header{Kind: kind, Size: size}, nil
}

// Contains is a pure filesystem existence check at the computed path.
func (s *Store) Contains(id plumbing.Hash) bool {
	return s.dir.HasObject(id)
}

// Iter returns every id currently stored, in unspecified order. The
// returned slice is a snapshot; it does not reflect concurrent writes
// made after the call.
func (s *Store) Iter() ([]plumbing.Hash, error) {
	fanouts, err := s.dir.Fanout()
	if err != nil {
		return nil, err
	}

	var ids []plumbing.Hash
	for _, prefix := range fanouts {
		entries, err := s.dir.FanoutEntries(prefix)
		if err != nil {
			return nil, err
		}
		for _, rest := range entries {
			id, ok := plumbing.FromHex(prefix + rest)
			if !ok {
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// LookupPrefix scans the one fanout subdirectory indicated by the
// prefix's first byte. If candidates is non-nil, every match is appended
// to it and the scan continues to completion; otherwise the scan stops
// and reports ErrAmbiguous as soon as a second match is found.
//
// Returns (id, true, nil) on exactly one match, (zero, false, nil) on no
// match, and (zero, false, ErrAmbiguous) on multiple matches.
func (s *Store) LookupPrefix(prefix plumbing.Prefix, candidates *[]plumbing.Hash) (plumbing.Hash, bool, error) {
	full := prefix.String()
	if len(full) < 2 {
		return plumbing.ZeroHash, false, fmt.Errorf("loose: prefix too short for fanout lookup: %q", full)
	}

	entries, err := s.dir.FanoutEntries(full[:2])
	if err != nil {
		if os.IsNotExist(err) {
			return plumbing.ZeroHash, false, nil
		}
		return plumbing.ZeroHash, false, err
	}

	var found plumbing.Hash
	count := 0
	for _, rest := range entries {
		id, ok := plumbing.FromHex(full[:2] + rest)
		if !ok || !prefix.Matches(id) {
			continue
		}

		count++
		if candidates != nil {
			*candidates = append(*candidates, id)
		} else if count == 1 {
			found = id
		} else {
			return plumbing.ZeroHash, false, store.ErrAmbiguous
		}
	}

	switch {
	case count == 0:
		return plumbing.ZeroHash, false, nil
	case count == 1:
		if candidates != nil {
			found = (*candidates)[0]
		}
		return found, true, nil
	default:
		return plumbing.ZeroHash, false, store.ErrAmbiguous
	}
}

// Write hashes the object (header + content) and writes it to the
// content-addressed path, atomically via temp-file-then-rename. It is
// idempotent: writing the same content twice is a no-op the second time.
func (s *Store) Write(kind plumbing.ObjectType, content []byte) (plumbing.Hash, error) {
	w, err := s.dir.NewObject()
	if err != nil {
		return plumbing.ZeroHash, err
	}

	if err := w.WriteHeader(kind, int64(len(content))); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, err
	}

	id := w.Hash()
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return id, nil
}

// VerifyIntegrity iterates every object, decompresses it, re-hashes it,
// and returns at the first mismatch or error; it checks interrupt
// between objects.
func (s *Store) VerifyIntegrity(progress store.Progress, interrupt store.Interrupt) (checked int, err error) {
	ids, err := s.Iter()
	if err != nil {
		return 0, err
	}

	for i, id := range ids {
		if interrupt.triggered() {
			return checked, store.ErrInterrupted
		}

		obj, err := s.TryFind(id)
		if err != nil {
			return checked, err
		}
		if obj == nil {
			return checked, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}

		hasher := plumbing.NewHasher(objectFormatFor(id), obj.Kind, int64(len(obj.Content)))
		hasher.Write(obj.Content)
		got := hasher.Sum()
		if !bytes.Equal(got.Bytes(), id.Bytes()) {
			return checked, &store.Error{
				Reason:   store.ReasonObjectHashMismatch,
				ID:       id,
				Expected: id.String(),
				Actual:   got.String(),
			}
		}

		checked++
		progress.report(checked, len(ids))
	}

	return checked, nil
}
