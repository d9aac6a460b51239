// Package dotgit resolves the on-disk layout of a Git object directory:
// the loose-object fanout tree, the pack directory, the optional
// multi-pack index, and info/alternates. All access goes through a
// billy.Filesystem, never os directly, matching the reference codebase's
// own dotgit package.
package dotgit

import (
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/git-odb/godb/plumbing"
)

const (
	packPath       = "pack"
	infoPath       = "info"
	alternatesFile = "alternates"

	packPrefix = "pack-"
	packExt    = ".pack"
	idxExt     = ".idx"
	revExt     = ".rev"

	midxName = "multi-pack-index"
)

// DotGit wraps a filesystem rooted at a Git object directory (spec §6:
// the fs handle the core is constructed with).
type DotGit struct {
	fs billy.Filesystem
}

// New returns a DotGit rooted at fs.
func New(fs billy.Filesystem) *DotGit {
	return &DotGit{fs: fs}
}

// Filesystem returns the underlying filesystem.
func (d *DotGit) Filesystem() billy.Filesystem { return d.fs }

// ObjectPath returns the loose-object path for id: <first-2-hex>/<rest>.
func (d *DotGit) ObjectPath(id plumbing.Hash) string {
	hex := id.String()
	return d.fs.Join(hex[:2], hex[2:])
}

// OpenObject opens the loose object file for id.
func (d *DotGit) OpenObject(id plumbing.Hash) (billy.File, error) {
	return d.fs.Open(d.ObjectPath(id))
}

// HasObject reports whether a loose object file exists for id.
func (d *DotGit) HasObject(id plumbing.Hash) bool {
	_, err := d.fs.Stat(d.ObjectPath(id))
	return err == nil
}

// Fanout lists the two-hex-char subdirectories present under the object
// directory, in unspecified order.
func (d *DotGit) Fanout() ([]string, error) {
	infos, err := d.fs.ReadDir("")
	if err != nil {
		return nil, err
	}

	var out []string
	for _, fi := range infos {
		if fi.IsDir() && len(fi.Name()) == 2 && isHex(fi.Name()) {
			out = append(out, fi.Name())
		}
	}
	return out, nil
}

// FanoutEntries lists the loose-object filenames (id minus its first two
// hex chars) present under the given fanout directory.
func (d *DotGit) FanoutEntries(dir string) ([]string, error) {
	infos, err := d.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(infos))
	for _, fi := range infos {
		if !fi.IsDir() {
			out = append(out, fi.Name())
		}
	}
	return out, nil
}

func isHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// NewObject returns a writer for a new loose object. The caller must call
// WriteHeader, write the content, then Close.
func (d *DotGit) NewObject() (*ObjectWriter, error) {
	return newObjectWriter(d.fs)
}

func (d *DotGit) packBase(id string) string {
	return d.fs.Join(packPath, packPrefix+id)
}

// ObjectPackPath returns the on-disk path of the pack data file for id.
func (d *DotGit) ObjectPackPath(id string) string { return d.packBase(id) + packExt }

// ObjectPackIdxPath returns the on-disk path of the pack index file for id.
func (d *DotGit) ObjectPackIdxPath(id string) string { return d.packBase(id) + idxExt }

// ObjectPackRevPath returns the on-disk path of the optional
// reverse-index file for id.
func (d *DotGit) ObjectPackRevPath(id string) string { return d.packBase(id) + revExt }

// MultiPackIndexPath returns the on-disk path of the multi-pack index.
func (d *DotGit) MultiPackIndexPath() string {
	return d.fs.Join(packPath, midxName)
}

// ObjectPack opens the pack data file for id.
func (d *DotGit) ObjectPack(id string) (billy.File, error) {
	return d.fs.Open(d.ObjectPackPath(id))
}

// ObjectPackIdx opens the pack index file for id.
func (d *DotGit) ObjectPackIdx(id string) (billy.File, error) {
	return d.fs.Open(d.ObjectPackIdxPath(id))
}

// ObjectPackRev opens the reverse-index file for id, if present.
func (d *DotGit) ObjectPackRev(id string) (billy.File, error) {
	return d.fs.Open(d.ObjectPackRevPath(id))
}

// HasMultiPackIndex reports whether a multi-pack index is present.
func (d *DotGit) HasMultiPackIndex() bool {
	_, err := d.fs.Stat(d.MultiPackIndexPath())
	return err == nil
}

// MultiPackIndex opens the multi-pack index file.
func (d *DotGit) MultiPackIndex() (billy.File, error) {
	return d.fs.Open(d.MultiPackIndexPath())
}

// PackIDs returns the hash stems of every pack present on disk, i.e. the
// "<hash>" in "pack-<hash>.pack", sorted for deterministic scans.
func (d *DotGit) PackIDs() ([]string, error) {
	infos, err := d.fs.ReadDir(packPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	for _, fi := range infos {
		name := fi.Name()
		if !strings.HasPrefix(name, packPrefix) || !strings.HasSuffix(name, packExt) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, packPrefix), packExt)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Alternates reads info/alternates, returning one path per line. A
// missing file is not an error; it yields a nil slice.
func (d *DotGit) Alternates() ([]string, error) {
	f, err := d.fs.Open(d.fs.Join(infoPath, alternatesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// RemovePack deletes a pack's data, index, and (if present) reverse-index
// files. Used for housekeeping of packs superseded by repacking.
func (d *DotGit) RemovePack(id string) error {
	for _, p := range []string{d.ObjectPackPath(id), d.ObjectPackIdxPath(id), d.ObjectPackRevPath(id)} {
		if err := d.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
