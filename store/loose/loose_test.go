package loose

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/git-odb/godb/plumbing"
	"github.com/git-odb/godb/store"
)

type SuiteLoose struct {
	suite.Suite
	s *Store
}

func TestSuiteLoose(t *testing.T) {
	suite.Run(t, new(SuiteLoose))
}

func (s *SuiteLoose) SetupTest() {
	s.s = New(memfs.New())
}

func (s *SuiteLoose) TestWriteAndFind() {
	id, err := s.s.Write(plumbing.BlobObject, []byte("hello world"))
	s.NoError(err)
	s.NotEqual(plumbing.ZeroHash, id)

	obj, err := s.s.TryFind(id)
	s.NoError(err)
	s.Require().NotNil(obj)
	s.Equal(plumbing.BlobObject, obj.Kind)
	s.Equal([]byte("hello world"), obj.Content)
}

func (s *SuiteLoose) TestWriteIsIdempotent() {
	id1, err := s.s.Write(plumbing.BlobObject, []byte("same content"))
	s.NoError(err)

	id2, err := s.s.Write(plumbing.BlobObject, []byte("same content"))
	s.NoError(err)

	s.Equal(id1, id2)
}

func (s *SuiteLoose) TestTryFindMissingReturnsNilNil() {
	missing := plumbing.NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	obj, err := s.s.TryFind(missing)
	s.NoError(err)
	s.Nil(obj)
}

func (s *SuiteLoose) TestTryHeaderMatchesTryFind() {
	id, err := s.s.Write(plumbing.TreeObject, []byte("tree content"))
	s.NoError(err)

	hdr, err := s.s.TryHeader(id)
	s.NoError(err)
	s.Require().NotNil(hdr)
	s.Equal(plumbing.TreeObject, hdr.Kind)
	s.EqualValues(len("tree content"), hdr.Size)
}

func (s *SuiteLoose) TestContains() {
	id, err := s.s.Write(plumbing.BlobObject, []byte("x"))
	s.NoError(err)

	s.True(s.s.Contains(id))
	s.False(s.s.Contains(plumbing.NewHash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")))
}

func (s *SuiteLoose) TestIterReturnsEveryWrittenObject() {
	var ids []plumbing.Hash
	for _, content := range []string{"a", "b", "c"} {
		id, err := s.s.Write(plumbing.BlobObject, []byte(content))
		s.NoError(err)
		ids = append(ids, id)
	}

	got, err := s.s.Iter()
	s.NoError(err)
	s.ElementsMatch(ids, got)
}

func (s *SuiteLoose) TestLookupPrefixUniqueMatch() {
	id, err := s.s.Write(plumbing.BlobObject, []byte("prefix me"))
	s.NoError(err)

	prefix, err := plumbing.NewPrefix(id.String()[:8])
	s.Require().NoError(err)

	found, ok, err := s.s.LookupPrefix(prefix, nil)
	s.NoError(err)
	s.True(ok)
	s.Equal(id, found)
}

func (s *SuiteLoose) TestLookupPrefixNoMatch() {
	prefix, err := plumbing.NewPrefix("deadbeef")
	s.Require().NoError(err)

	_, ok, err := s.s.LookupPrefix(prefix, nil)
	s.NoError(err)
	s.False(ok)
}

func (s *SuiteLoose) TestLookupPrefixCollectsCandidates() {
	// Writes two objects and checks that a prefix lookup with a candidate
	// list appends the match to it (and the second id too, if the two
	// happen to share a leading byte). The ids of "one" and "two" do not
	// share their first 4 hex characters, so the ambiguity branch is not
	// reached here.
	var candidates []plumbing.Hash
	id1, err := s.s.Write(plumbing.BlobObject, []byte("one"))
	s.NoError(err)
	id2, err := s.s.Write(plumbing.BlobObject, []byte("two"))
	s.NoError(err)

	prefix, err := plumbing.NewPrefix(id1.String()[:4])
	s.Require().NoError(err)

	_, _, err = s.s.LookupPrefix(prefix, &candidates)
	s.NoError(err)
	s.Contains(candidates, id1)
	if id1.String()[:2] == id2.String()[:2] {
		s.Contains(candidates, id2)
	}
}

func (s *SuiteLoose) TestVerifyIntegrity() {
	for _, content := range []string{"alpha", "beta", "gamma"} {
		_, err := s.s.Write(plumbing.BlobObject, []byte(content))
		s.NoError(err)
	}

	checked, err := s.s.VerifyIntegrity(nil, nil)
	s.NoError(err)
	s.Equal(3, checked)
}

func (s *SuiteLoose) TestVerifyIntegrityRespectsInterrupt() {
	for _, content := range []string{"alpha", "beta", "gamma"} {
		_, err := s.s.Write(plumbing.BlobObject, []byte(content))
		s.NoError(err)
	}

	calls := 0
	interrupt := store.Interrupt(func() bool {
		calls++
		return calls > 1
	})

	_, err := s.s.VerifyIntegrity(nil, interrupt)
	s.ErrorIs(err, store.ErrInterrupted)
}
