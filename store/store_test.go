package store

import (
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/git-odb/godb/internal/packtest"
	"github.com/git-odb/godb/plumbing"
	"github.com/git-odb/godb/plumbing/format/idxfile"
	"github.com/git-odb/godb/store/dotgit"
)

type SuiteStore struct {
	suite.Suite
	fs billy.Filesystem
}

func TestSuiteStore(t *testing.T) {
	suite.Run(t, new(SuiteStore))
}

func (s *SuiteStore) SetupTest() {
	s.fs = memfs.New()
}

// writePack writes pack's data and matching index under fs's pack
// directory, named id, as Store.Refresh/loadSlot expect to find it.
func (s *SuiteStore) writePack(fs billy.Filesystem, id string, pack *packtest.Pack) {
	d := dotgit.New(fs)

	packFile, err := fs.Create(d.ObjectPackPath(id))
	s.Require().NoError(err)
	_, err = packFile.Write(pack.Data)
	s.Require().NoError(err)
	s.Require().NoError(packFile.Close())

	idx, err := packtest.Index(pack)
	s.Require().NoError(err)

	idxFile, err := fs.Create(d.ObjectPackIdxPath(id))
	s.Require().NoError(err)
	_, err = idxfile.NewEncoder(idxFile).Encode(idx)
	s.Require().NoError(err)
	s.Require().NoError(idxFile.Close())
}

type fakeLooseDB struct{}

func (fakeLooseDB) TryFind(id plumbing.Hash) (*Object, error)   { return nil, nil }
func (fakeLooseDB) TryHeader(id plumbing.Hash) (*Header, error) { return nil, nil }
func (fakeLooseDB) Contains(id plumbing.Hash) bool              { return false }
func (fakeLooseDB) Iter() ([]plumbing.Hash, error)              { return nil, nil }
func (fakeLooseDB) LookupPrefix(prefix plumbing.Prefix, candidates *[]plumbing.Hash) (plumbing.Hash, bool, error) {
	return plumbing.ZeroHash, false, nil
}
func (fakeLooseDB) Write(kind plumbing.ObjectType, content []byte) (plumbing.Hash, error) {
	return plumbing.ZeroHash, ErrNotFound
}

func (s *SuiteStore) TestNewScansExistingPackAndHandleFindResolves() {
	pack, err := packtest.Build([]packtest.Object{
		{Kind: plumbing.BlobObject, Content: []byte("hello world"), DeltaBase: -1},
	})
	s.Require().NoError(err)
	s.writePack(s.fs, "aaaa", pack)

	st, err := New(s.fs, fakeLooseDB{}, nil)
	s.Require().NoError(err)

	h := st.NewHandle(Never)
	defer h.Close()

	obj, err := h.Find(pack.Entries[0].ID)
	s.Require().NoError(err)
	s.Equal(pack.Entries[0].Content, obj.Content)

	m := st.Metrics()
	s.Equal(1, m.KnownIndices)
	s.EqualValues(1, m.NumHandles)
}

func (s *SuiteStore) TestRefreshDetectsNewPack() {
	st, err := New(s.fs, fakeLooseDB{}, nil)
	s.Require().NoError(err)
	s.Empty(st.Snapshot().Slots())

	pack, err := packtest.Build([]packtest.Object{
		{Kind: plumbing.BlobObject, Content: []byte("new pack"), DeltaBase: -1},
	})
	s.Require().NoError(err)
	s.writePack(s.fs, "bbbb", pack)

	s.Require().NoError(st.Refresh())
	s.Len(st.Snapshot().Slots(), 1)

	h := st.NewHandle(Never)
	defer h.Close()
	obj, err := h.Find(pack.Entries[0].ID)
	s.Require().NoError(err)
	s.Equal(pack.Entries[0].Content, obj.Content)
}

func (s *SuiteStore) TestRefreshTransitionsLoadedToGarbageToMissing() {
	pack, err := packtest.Build([]packtest.Object{
		{Kind: plumbing.BlobObject, Content: []byte("will disappear"), DeltaBase: -1},
	})
	s.Require().NoError(err)
	s.writePack(s.fs, "cccc", pack)

	st, err := New(s.fs, fakeLooseDB{}, nil)
	s.Require().NoError(err)

	h := st.NewHandle(Never)
	_, err = h.Find(pack.Entries[0].ID)
	s.Require().NoError(err)

	sl := st.Snapshot().Slots()[0]
	s.Equal(Loaded, sl.State())

	d := dotgit.New(s.fs)
	s.Require().NoError(s.fs.Remove(d.ObjectPackPath("cccc")))
	s.Require().NoError(s.fs.Remove(d.ObjectPackIdxPath("cccc")))

	s.Require().NoError(st.Refresh())
	s.Equal(Garbage, sl.State())

	s.Require().NoError(h.Close())
	s.Require().NoError(st.Refresh())
	s.Equal(Missing, sl.State())
}
