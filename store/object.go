package store

import "github.com/git-odb/godb/plumbing"

// Object is a decoded, content-addressed value: a kind tag plus the
// decoded bytes with any wire-format header stripped.
type Object struct {
	Kind    plumbing.ObjectType
	Content []byte
}

// Header is the lightweight (size, kind) pair returned without
// decompressing an object's full content.
type Header struct {
	Kind plumbing.ObjectType
	Size int64
}

// EmptyTreeID is the well-known hash of the canonical empty tree. Per
// §4.7, a Handle special-cases it to always succeed without consulting
// storage.
var EmptyTreeID = plumbing.NewHash("4b825dc642cb6eb9a060e54bf8d69288fbee4904")

// LooseDB is the subset of loose.Store's contract the Store and Handle
// depend on. Defined here, rather than imported, to avoid a cycle between
// store and store/loose (which itself depends on store for shared types).
type LooseDB interface {
	TryFind(id plumbing.Hash) (*Object, error)
	TryHeader(id plumbing.Hash) (*Header, error)
	Contains(id plumbing.Hash) bool
	Iter() ([]plumbing.Hash, error)
	LookupPrefix(prefix plumbing.Prefix, candidates *[]plumbing.Hash) (plumbing.Hash, bool, error)
	Write(kind plumbing.ObjectType, content []byte) (plumbing.Hash, error)
}
