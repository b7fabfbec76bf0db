// Package store implements the content-addressed schema store: a two-level
// file tree holding SQL source blobs and manifest blobs, both indexed by
// their SHA-1.
//
// A source blob is the raw contents of a schema SQL file, addressed by the
// SHA-1 of those contents. A manifest blob lists the source blobs of one
// schema snapshot, one "{hash}:{filename}" line per file, and is addressed
// by the SHA-1 of the concatenated source hashes in ascending hash order.
//
// Blobs are written once and never mutated; writes of an existing path are
// a no-op, which makes concurrent writers safe because content addressing
// turns collisions into identical files. Deletion happens only through GC.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/beim/sdm/pkg/checksum"
	"github.com/beim/sdm/pkg/plan"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Sentinel errors surfaced by verification.
var (
	ErrMissingBlob      = errors.New("blob not found in schema store")
	ErrChecksumMismatch = errors.New("blob checksum mismatch")
)

type (
	// Store is a content-addressed blob store rooted at a directory of a
	// filesystem. Production code passes afero.NewOsFs(); tests use
	// MemMapFs.
	Store struct {
		fs   afero.Fs
		root string
	}

	// ManifestEntry is one line of a manifest blob.
	ManifestEntry struct {
		Hash     string
		Filename string
	}
)

// New creates a store rooted at root on the given filesystem.
func New(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Path returns the absolute path of the blob with the given hash.
func (s *Store) Path(hash string) (string, error) {
	rel, err := checksum.PathFor(hash)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, rel), nil
}

// Init creates the 256 two-hex-digit fan-out directories, each holding a
// .gitkeep placeholder so empty directories survive version control.
func (s *Store) Init() error {
	for i := 0; i < 256; i++ {
		dir := filepath.Join(s.root, fmt.Sprintf("%02x", i))
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create store directory: %s", dir)
		}
		keep := filepath.Join(dir, ".gitkeep")
		if err := afero.WriteFile(s.fs, keep, nil, 0o644); err != nil {
			return errors.Wrapf(err, "failed to create placeholder: %s", keep)
		}
	}
	return nil
}

// Write stores content under hash. If the blob already exists the call
// returns without error; otherwise the content is written to a temporary
// file and renamed into place.
func (s *Store) Write(hash string, content []byte) error {
	path, err := s.Path(hash)
	if err != nil {
		return err
	}
	if ok, err := afero.Exists(s.fs, path); err != nil {
		return errors.Wrapf(err, "failed to stat blob: %s", path)
	} else if ok {
		return nil
	}

	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create store directory: %s", dir)
	}
	tmp, err := afero.TempFile(s.fs, dir, ".blob-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary blob file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return errors.Wrapf(err, "failed to write blob: %s", path)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return errors.Wrapf(err, "failed to close blob: %s", path)
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		_ = s.fs.Remove(tmpName)
		return errors.Wrapf(err, "failed to rename blob into place: %s", path)
	}
	return nil
}

// WriteFiles hashes each named content as a source blob, writes every
// blob plus the manifest built from them, and returns the manifest hash.
// contents maps original filename to file bytes.
func (s *Store) WriteFiles(contents map[string][]byte) (string, error) {
	manifestHash, manifest := BuildManifest(contents)
	if err := s.Write(manifestHash, []byte(manifest)); err != nil {
		return "", err
	}
	for _, data := range contents {
		if err := s.Write(checksum.Strings(string(data)), data); err != nil {
			return "", err
		}
	}
	return manifestHash, nil
}

// BuildManifest computes the manifest content and hash for a set of files
// without touching the store. Entries are ordered by ascending source
// hash, and the manifest hash is the SHA-1 of the concatenated source
// hashes in that order.
func BuildManifest(contents map[string][]byte) (hash, manifest string) {
	entries := make([]ManifestEntry, 0, len(contents))
	for name, data := range contents {
		entries = append(entries, ManifestEntry{
			Hash:     checksum.Strings(string(data)),
			Filename: name,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Hash < entries[j].Hash })

	hashes := make([]string, 0, len(entries))
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		hashes = append(hashes, e.Hash)
		lines = append(lines, e.Hash+":"+e.Filename)
	}
	return checksum.Strings(hashes...), strings.Join(lines, "\n")
}

// ReadManifest parses the manifest blob with the given hash, preserving
// file order. When verify is true the manifest hash is recomputed from the
// listed source hashes and compared.
func (s *Store) ReadManifest(hash string, verify bool) ([]ManifestEntry, error) {
	path, err := s.Path(hash)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrMissingBlob, "manifest %s (%s)", hash, path)
		}
		return nil, errors.Wrapf(err, "failed to read manifest: %s", path)
	}

	var entries []ManifestEntry
	var hashes []string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			return nil, errors.Errorf("malformed manifest line in %s: %q", hash, line)
		}
		e := ManifestEntry{Hash: line[:idx], Filename: strings.TrimSpace(line[idx+1:])}
		entries = append(entries, e)
		hashes = append(hashes, e.Hash)
	}

	if verify {
		if actual := checksum.Strings(hashes...); actual != hash {
			return nil, errors.Wrapf(ErrChecksumMismatch,
				"manifest %s, actual %s", hash, actual)
		}
	}
	return entries, nil
}

// Materialize copies every source blob named by the manifest into destDir
// under its original filename.
func (s *Store) Materialize(hash, destDir string) error {
	entries, err := s.ReadManifest(hash, false)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path, err := s.Path(e.Hash)
		if err != nil {
			return err
		}
		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			if os.IsNotExist(err) {
				return errors.Wrapf(ErrMissingBlob, "source %s (%s)", e.Hash, e.Filename)
			}
			return errors.Wrapf(err, "failed to read source blob: %s", path)
		}
		dest := filepath.Join(destDir, e.Filename)
		if err := afero.WriteFile(s.fs, dest, data, 0o644); err != nil {
			return errors.Wrapf(err, "failed to materialize %s", dest)
		}
	}
	return nil
}

// Verify checks the manifest blob and every source blob it references. In
// fast mode only existence is checked; in full mode every SHA-1 is
// recomputed and compared.
func (s *Store) Verify(hash string, full bool) error {
	entries, err := s.ReadManifest(hash, full)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path, err := s.Path(e.Hash)
		if err != nil {
			return err
		}
		if !full {
			ok, err := afero.Exists(s.fs, path)
			if err != nil {
				return errors.Wrapf(err, "failed to stat source blob: %s", path)
			}
			if !ok {
				return errors.Wrapf(ErrMissingBlob, "source %s (%s)", e.Hash, e.Filename)
			}
			continue
		}
		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			if os.IsNotExist(err) {
				return errors.Wrapf(ErrMissingBlob, "source %s (%s)", e.Hash, e.Filename)
			}
			return errors.Wrapf(err, "failed to read source blob: %s", path)
		}
		if actual := checksum.Strings(string(data)); actual != e.Hash {
			return errors.Wrapf(ErrChecksumMismatch,
				"source %s (%s), actual %s", e.Hash, e.Filename, actual)
		}
	}
	return nil
}

// Reachable returns the set of blob hashes referenced by any schema plan:
// the forward and backward manifest ids plus every source hash those
// manifests name.
func (s *Store) Reachable(plans []*plan.Plan) (map[string]struct{}, error) {
	manifests := make(map[string]struct{})
	for _, p := range plans {
		if p.Type != plan.TypeSchema {
			continue
		}
		if p.Change.Forward != nil && p.Change.Forward.ID != "" {
			manifests[p.Change.Forward.ID] = struct{}{}
		}
		if p.Change.Backward != nil && p.Change.Backward.ID != "" {
			manifests[p.Change.Backward.ID] = struct{}{}
		}
	}

	reachable := make(map[string]struct{}, len(manifests))
	for id := range manifests {
		reachable[id] = struct{}{}
		entries, err := s.ReadManifest(id, false)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			reachable[e.Hash] = struct{}{}
		}
	}
	return reachable, nil
}

// GC walks the store and removes (or, in dry-run mode, reports) every
// blob not in reachable. Placeholder .gitkeep files are always excluded.
// Returned paths are relative to the store root.
func (s *Store) GC(reachable map[string]struct{}, dryRun bool) ([]string, error) {
	valid := make(map[string]struct{}, len(reachable))
	for hash := range reachable {
		rel, err := checksum.PathFor(hash)
		if err != nil {
			return nil, err
		}
		valid[rel] = struct{}{}
	}

	var unreachable []string
	err := afero.Walk(s.fs, s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, ".gitkeep") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if _, ok := valid[rel]; ok {
			return nil
		}
		unreachable = append(unreachable, rel)
		if !dryRun {
			if err := s.fs.Remove(path); err != nil {
				return errors.Wrapf(err, "failed to remove %s", path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to walk schema store")
	}
	sort.Strings(unreachable)
	return unreachable, nil
}
