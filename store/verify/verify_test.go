package verify

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/git-odb/godb/internal/packtest"
	"github.com/git-odb/godb/plumbing"
	"github.com/git-odb/godb/plumbing/format/idxfile"
	"github.com/git-odb/godb/store"
)

type SuiteVerify struct {
	suite.Suite
}

func TestSuiteVerify(t *testing.T) {
	suite.Run(t, new(SuiteVerify))
}

type noopResolver struct{}

func (noopResolver) ResolveByID(id plumbing.Hash) (*store.Object, error) {
	return nil, store.ErrNotFound
}

func (noopResolver) ResolveByOffset(offset int64) (*store.Object, error) {
	return nil, store.ErrNotFound
}

// openBundle mirrors the fixture-pairing store tests use: pack.Data in an
// in-memory file next to pack's own index.
func (s *SuiteVerify) openBundle(pack *packtest.Pack) *store.Bundle {
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

	return store.NewBundle(idx, f)
}

func (s *SuiteVerify) samplePack() *packtest.Pack {
	pack, err := packtest.Build([]packtest.Object{
		{Kind: plumbing.BlobObject, Content: []byte("root content"), DeltaBase: -1},
		{Kind: plumbing.BlobObject, Content: []byte("child of root, a bit longer"), DeltaBase: 0},
		{Kind: plumbing.BlobObject, Content: []byte("grandchild, longer still, derived from child"), DeltaBase: 1},
		{Kind: plumbing.TreeObject, Content: []byte("unrelated tree object"), DeltaBase: -1},
	})
	s.Require().NoError(err)
	return pack
}

func (s *SuiteVerify) TestLookupTraversalSucceeds() {
	pack := s.samplePack()
	idx, err := packtest.Index(pack)
	s.Require().NoError(err)
	b := s.openBundle(pack)
	defer b.Close()

	out := Bundle(context.Background(), idx, pack.Checksum.Bytes(), b, noopResolver{}, Options{Traversal: Lookup})
	s.Require().NoError(out.Err)
	s.Equal(FailureNone, out.Kind)
	s.EqualValues(len(pack.Entries), out.Checked)
	s.Equal(int64(3), out.Histogram.ByKind[plumbing.BlobObject])
	s.Equal(int64(1), out.Histogram.ByKind[plumbing.TreeObject])
}

func (s *SuiteVerify) TestDeltaTreeTraversalSucceeds() {
	pack := s.samplePack()
	idx, err := packtest.Index(pack)
	s.Require().NoError(err)
	b := s.openBundle(pack)
	defer b.Close()

	out := Bundle(context.Background(), idx, pack.Checksum.Bytes(), b, noopResolver{}, Options{Traversal: DeltaTree})
	s.Require().NoError(out.Err)
	s.Equal(FailureNone, out.Kind)
	s.EqualValues(len(pack.Entries), out.Checked)
	s.Equal(2, out.Histogram.LongestChain)
	s.Equal(int64(1), out.Histogram.DeltaChainLen[0+1]) // the middle entry, depth 1
	s.Equal(int64(1), out.Histogram.DeltaChainLen[2])    // the grandchild, depth 2
}

func (s *SuiteVerify) TestChecksumMismatchIsReportedBeforeDecoding() {
	pack := s.samplePack()
	idx, err := packtest.Index(pack)
	s.Require().NoError(err)
	b := s.openBundle(pack)
	defer b.Close()

	wrong := make([]byte, len(pack.Checksum.Bytes()))
	copy(wrong, pack.Checksum.Bytes())
	wrong[0] ^= 0xff

	out := Bundle(context.Background(), idx, wrong, b, noopResolver{}, Options{Traversal: Lookup})
	s.Equal(FailureChecksumMismatch, out.Kind)
	s.Error(out.Err)
}

func (s *SuiteVerify) TestObjectHashMismatchDetected() {
	pack := s.samplePack()
	b := s.openBundle(pack)
	defer b.Close()

	// Build an index that claims the wrong id for the first entry, as if
	// its content had been corrupted on disk without the index noticing.
	w := &idxfile.Writer{}
	s.Require().NoError(w.OnHeader(uint32(len(pack.Entries))))
	w.Add(plumbing.NewHash("ffffffffffffffffffffffffffffffffffffff"), pack.Entries[0].Offset, pack.Entries[0].CRC32)
	for _, e := range pack.Entries[1:] {
		w.Add(e.ID, e.Offset, e.CRC32)
	}
	s.Require().NoError(w.OnFooter(pack.Checksum))
	badIdx, err := w.CreateIndex()
	s.Require().NoError(err)

	for _, traversal := range []Traversal{Lookup, DeltaTree} {
		out := Bundle(context.Background(), badIdx, pack.Checksum.Bytes(), b, noopResolver{}, Options{Traversal: traversal})
		s.Equal(FailureObjectHashMismatch, out.Kind, "traversal=%v", traversal)
		s.Error(out.Err)
	}
}

func (s *SuiteVerify) TestInterruptStopsDeltaTreeTraversal() {
	pack := s.samplePack()
	idx, err := packtest.Index(pack)
	s.Require().NoError(err)
	b := s.openBundle(pack)
	defer b.Close()

	out := Bundle(context.Background(), idx, pack.Checksum.Bytes(), b, noopResolver{}, Options{
		Traversal: DeltaTree,
		Interrupt: func() bool { return true },
	})
	s.Equal(FailureInterrupted, out.Kind)
	s.ErrorIs(out.Err, store.ErrInterrupted)
}
