package store

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/git-odb/godb/internal/packtest"
	"github.com/git-odb/godb/plumbing"
)

type SuiteBundle struct {
	suite.Suite
}

func TestSuiteBundle(t *testing.T) {
	suite.Run(t, new(SuiteBundle))
}

// openBundle writes pack.Data to an in-memory file and pairs it with
// pack's own index, exactly as Store.loadSlot does for an on-disk pack.
func (s *SuiteBundle) openBundle(pack *packtest.Pack) *Bundle {
	fs := memfs.New()
	f, err := fs.Create("pack-test.pack")
	s.Require().NoError(err)
	_, err = f.Write(pack.Data)
	s.Require().NoError(err)
	s.Require().NoError(f.Close())

	f, err = fs.Open("pack-test.pack")
	s.Require().NoError(err)

	idx, err := packtest.Index(pack)
	s.Require().NoError(err)

	return NewBundle(idx, f)
}

func (s *SuiteBundle) TestFindOffsetAndDecodeNonDelta() {
	pack, err := packtest.Build([]packtest.Object{
		{Kind: plumbing.BlobObject, Content: []byte("hello world"), DeltaBase: -1},
		{Kind: plumbing.TreeObject, Content: []byte("100644 a\x00" + string(make([]byte, 20))), DeltaBase: -1},
	})
	s.Require().NoError(err)

	b := s.openBundle(pack)
	defer b.Close()

	for _, e := range pack.Entries {
		off, ok, err := b.FindOffset(e.ID)
		s.Require().NoError(err)
		s.True(ok)
		s.Equal(e.Offset, off)

		obj, err := b.DecodeEntry(off, noopResolver{})
		s.Require().NoError(err)
		s.Equal(e.Kind, obj.Kind)
		s.Equal(e.Content, obj.Content)
	}
}

func (s *SuiteBundle) TestFindOffsetMissing() {
	pack, err := packtest.Build([]packtest.Object{
		{Kind: plumbing.BlobObject, Content: []byte("x"), DeltaBase: -1},
	})
	s.Require().NoError(err)

	b := s.openBundle(pack)
	defer b.Close()

	_, ok, err := b.FindOffset(plumbing.NewHash("0000000000000000000000000000000000000000"))
	s.Require().NoError(err)
	s.False(ok)
}

func (s *SuiteBundle) TestDecodeEntryFollowsOFSDeltaChain() {
	pack, err := packtest.Build([]packtest.Object{
		{Kind: plumbing.BlobObject, Content: []byte("base content here"), DeltaBase: -1},
		{Kind: plumbing.BlobObject, Content: []byte("derived content here"), DeltaBase: 0},
	})
	s.Require().NoError(err)

	b := s.openBundle(pack)
	defer b.Close()

	child := pack.Entries[1]
	off, ok, err := b.FindOffset(child.ID)
	s.Require().NoError(err)
	s.True(ok)

	obj, err := b.DecodeEntry(off, noopResolver{})
	s.Require().NoError(err)
	s.Equal(plumbing.BlobObject, obj.Kind)
	s.Equal(child.Content, obj.Content)
}

func (s *SuiteBundle) TestEntryAtExposesRawDeltaWithoutResolving() {
	pack, err := packtest.Build([]packtest.Object{
		{Kind: plumbing.BlobObject, Content: []byte("base content here"), DeltaBase: -1},
		{Kind: plumbing.BlobObject, Content: []byte("derived content here"), DeltaBase: 0},
	})
	s.Require().NoError(err)

	b := s.openBundle(pack)
	defer b.Close()

	base := pack.Entries[0]
	child := pack.Entries[1]

	raw, err := b.EntryAt(child.Offset)
	s.Require().NoError(err)
	s.Equal(plumbing.OFSDeltaObject, raw.Kind)
	s.Equal(base.Offset, raw.BaseOffset)

	baseRaw, err := b.EntryAt(base.Offset)
	s.Require().NoError(err)
	s.Equal(plumbing.BlobObject, baseRaw.Kind)
	s.Equal(base.Content, baseRaw.Raw)
}

type noopResolver struct{}

func (noopResolver) ResolveByID(id plumbing.Hash) (*Object, error)   { return nil, ErrNotFound }
func (noopResolver) ResolveByOffset(offset int64) (*Object, error)  { return nil, ErrNotFound }
