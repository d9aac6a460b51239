package objfile

import (
	"bytes"
	"encoding/base64"

	"github.com/git-odb/godb/plumbing"
)

type fixture struct {
	hash    string
	content string
	data    string
	t       plumbing.ObjectType
}

var objfileFixtures = buildObjfileFixtures()

// buildObjfileFixtures encodes a handful of objects with Writer to derive
// their loose-object bytes and hash, rather than embedding pre-baked
// binary blobs.
func buildObjfileFixtures() []fixture {
	raw := []struct {
		content string
		t       plumbing.ObjectType
	}{
		{"hello world\n", plumbing.BlobObject},
		{"", plumbing.BlobObject},
		{"tree d8e0ea7e3e4e7d0e5e3a8c9f7a6e1b2c3d4e5f6a\nparent f6e5d4c3b2a1908070605040302010009080706\nauthor A U Thor <author@example.com> 1257894000 +0000\ncommitter A U Thor <author@example.com> 1257894000 +0000\n\nfoo\n", plumbing.CommitObject},
		{"100644 blob e69de29bb2d1d6434b8b29ae775ad8c2e48c5391\tfile.txt\n", plumbing.TreeObject},
	}

	fixtures := make([]fixture, len(raw))
	for i, r := range raw {
		content := []byte(r.content)

		buf := bytes.NewBuffer(nil)
		w := NewWriter(buf)
		if err := w.WriteHeader(r.t, int64(len(content))); err != nil {
			panic(err)
		}
		if _, err := w.Write(content); err != nil {
			panic(err)
		}
		hash := w.Hash()
		if err := w.Close(); err != nil {
			panic(err)
		}

		fixtures[i] = fixture{
			hash:    hash.String(),
			content: base64.StdEncoding.EncodeToString(content),
			data:    base64.StdEncoding.EncodeToString(buf.Bytes()),
			t:       r.t,
		}
	}

	return fixtures
}
