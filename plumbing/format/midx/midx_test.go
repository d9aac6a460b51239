package midx

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/git-odb/godb/plumbing"
	"github.com/git-odb/godb/utils/binary"
)

type SuiteMultiPackIndex struct {
	suite.Suite
}

func TestSuiteMultiPackIndex(t *testing.T) {
	suite.Run(t, new(SuiteMultiPackIndex))
}

type fixtureEntry struct {
	id     plumbing.Hash
	pack   int
	offset uint32
}

// buildMIDX hand-assembles a minimal, valid multi-pack-index byte stream
// from entries, so Decoder can be exercised without a real object
// directory. Mirrors the chunk layout Decoder.Decode expects: a 4-chunk
// table (PNAM, OIDF, OIDL, OOFF) plus the trailing sentinel offset.
func buildMIDX(packNames []string, entries []fixtureEntry) []byte {
	sorted := append([]fixtureEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].id.Bytes(), sorted[j].id.Bytes()) < 0
	})

	namesBuf := &bytes.Buffer{}
	for _, n := range packNames {
		namesBuf.WriteString(n)
		namesBuf.WriteByte(0)
	}
	for namesBuf.Len()%4 != 0 {
		namesBuf.WriteByte(0)
	}

	fanoutBuf := &bytes.Buffer{}
	var fanout [256]uint32
	for _, e := range sorted {
		fanout[e.id.Bytes()[0]]++
	}
	var running uint32
	for i := 0; i < 256; i++ {
		running += fanout[i]
		fanout[i] = running
		_ = binary.WriteUint32(fanoutBuf, fanout[i])
	}

	oidBuf := &bytes.Buffer{}
	for _, e := range sorted {
		oidBuf.Write(e.id.Bytes())
	}

	offBuf := &bytes.Buffer{}
	for _, e := range sorted {
		_ = binary.WriteUint32(offBuf, uint32(e.pack))
		_ = binary.WriteUint32(offBuf, e.offset)
	}

	type chunk struct {
		id   [4]byte
		data []byte
	}
	chunks := []chunk{
		{chunkPackNames, namesBuf.Bytes()},
		{chunkOIDFanout, fanoutBuf.Bytes()},
		{chunkOIDLookup, oidBuf.Bytes()},
		{chunkObjOffsets, offBuf.Bytes()},
	}

	headerSize := int64(4 + 4 + 4)
	tableSize := int64((len(chunks) + 1) * (4 + 8))
	pos := headerSize + tableSize

	buf := &bytes.Buffer{}
	buf.Write(Signature)
	buf.WriteByte(byte(VersionSupported))
	buf.WriteByte(1) // oidVersion: SHA1
	buf.WriteByte(byte(len(chunks)))
	buf.WriteByte(0)
	_ = binary.WriteUint32(buf, uint32(len(packNames)))

	for _, c := range chunks {
		buf.Write(c.id[:])
		_ = binary.WriteUint32(buf, 0) // high 32 bits of offset
		_ = binary.WriteUint32(buf, uint32(pos))
		pos += int64(len(c.data))
	}
	// sentinel entry: zero id, offset = end of file
	buf.Write([]byte{0, 0, 0, 0})
	_ = binary.WriteUint32(buf, 0)
	_ = binary.WriteUint32(buf, uint32(pos))

	for _, c := range chunks {
		buf.Write(c.data)
	}

	return buf.Bytes()
}

func (s *SuiteMultiPackIndex) decode(data []byte) *MultiPackIndex {
	idx := &MultiPackIndex{}
	s.Require().NoError(NewDecoder(bytes.NewReader(data)).Decode(idx))
	return idx
}

func (s *SuiteMultiPackIndex) sampleEntries() []fixtureEntry {
	return []fixtureEntry{
		{id: plumbing.NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), pack: 0, offset: 12},
		{id: plumbing.NewHash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), pack: 0, offset: 512},
		{id: plumbing.NewHash("cccccccccccccccccccccccccccccccccccccccc"), pack: 1, offset: 40},
	}
}

func (s *SuiteMultiPackIndex) TestDecodeRoundTrip() {
	entries := s.sampleEntries()
	data := buildMIDX([]string{"pack-one.pack", "pack-two.pack"}, entries)

	idx := s.decode(data)
	s.Equal(uint32(VersionSupported), idx.Version)
	s.Equal([]string{"pack-one.pack", "pack-two.pack"}, idx.PackNames)
	s.EqualValues(len(entries), idx.Count())

	for _, e := range entries {
		got, ok := idx.FindOffset(e.id)
		s.True(ok, "expected to find %s", e.id)
		s.Equal(e.pack, got.PackIndex)
		s.Equal(int64(e.offset), got.Offset)
	}
}

func (s *SuiteMultiPackIndex) TestFindOffsetMissing() {
	data := buildMIDX([]string{"pack-one.pack"}, s.sampleEntries())
	idx := s.decode(data)

	_, ok := idx.FindOffset(plumbing.NewHash("dddddddddddddddddddddddddddddddddddddddd"))
	s.False(ok)
}

func (s *SuiteMultiPackIndex) TestLookupPrefixUniqueMatch() {
	data := buildMIDX([]string{"pack-one.pack", "pack-two.pack"}, s.sampleEntries())
	idx := s.decode(data)

	prefix, err := plumbing.NewPrefix("bbbbbbbb")
	s.Require().NoError(err)

	match, ok, err := idx.LookupPrefix(prefix, nil)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(plumbing.NewHash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), match)
}

func (s *SuiteMultiPackIndex) TestLookupPrefixAmbiguousCollectsCandidates() {
	entries := []fixtureEntry{
		{id: plumbing.NewHash("aaaa" + strings.Repeat("1", 35) + "a"), pack: 0, offset: 1},
		{id: plumbing.NewHash("aaaa" + strings.Repeat("2", 35) + "b"), pack: 0, offset: 2},
	}
	data := buildMIDX([]string{"pack-one.pack"}, entries)
	idx := s.decode(data)

	prefix, err := plumbing.NewPrefix("aaaa")
	s.Require().NoError(err)

	var candidates []plumbing.Hash
	_, found, err := idx.LookupPrefix(prefix, &candidates)
	s.Require().ErrorIs(err, errAmbiguous)
	s.False(found)
	s.Len(candidates, 2)
}

type stubPackIndex struct {
	offsets map[plumbing.Hash]int64
}

func (p stubPackIndex) FindOffset(id plumbing.Hash) (int64, error) {
	if off, ok := p.offsets[id]; ok {
		return off, nil
	}
	return 0, errors.New("not found")
}

func (s *SuiteMultiPackIndex) TestVerifyIntegritySucceeds() {
	entries := s.sampleEntries()
	data := buildMIDX([]string{"pack-one.pack", "pack-two.pack"}, entries)
	idx := s.decode(data)

	byPack := map[string]stubPackIndex{
		"pack-one.pack": {offsets: map[plumbing.Hash]int64{
			entries[0].id: int64(entries[0].offset),
			entries[1].id: int64(entries[1].offset),
		}},
		"pack-two.pack": {offsets: map[plumbing.Hash]int64{
			entries[2].id: int64(entries[2].offset),
		}},
	}

	err := idx.VerifyIntegrity(func(name string) (PackIndexLookup, error) {
		return byPack[name], nil
	})
	s.NoError(err)
}

func (s *SuiteMultiPackIndex) TestVerifyIntegrityDetectsOffsetMismatch() {
	entries := s.sampleEntries()
	data := buildMIDX([]string{"pack-one.pack", "pack-two.pack"}, entries)
	idx := s.decode(data)

	byPack := map[string]stubPackIndex{
		"pack-one.pack": {offsets: map[plumbing.Hash]int64{
			entries[0].id: 999, // wrong
			entries[1].id: int64(entries[1].offset),
		}},
		"pack-two.pack": {offsets: map[plumbing.Hash]int64{
			entries[2].id: int64(entries[2].offset),
		}},
	}

	err := idx.VerifyIntegrity(func(name string) (PackIndexLookup, error) {
		return byPack[name], nil
	})
	s.Require().Error(err)
	var mismatch *PackOffsetMismatch
	s.Require().ErrorAs(err, &mismatch)
	s.Equal(entries[0].id, mismatch.ID)
}

func (s *SuiteMultiPackIndex) TestDecodeRejectsBadSignature() {
	data := buildMIDX([]string{"pack-one.pack"}, s.sampleEntries())
	data[0] = 'X'

	idx := &MultiPackIndex{}
	err := NewDecoder(bytes.NewReader(data)).Decode(idx)
	s.Require().ErrorIs(err, ErrInvalidMultiPackIndex)
}
