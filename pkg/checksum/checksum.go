// Package checksum provides the SHA-1 content hashing used throughout the
// migration tool: plan checksums, schema store blob ids, and the two-level
// path layout of the content-addressed store.
package checksum

import (
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Hasher accumulates string fragments and whole-file contents into a
// single SHA-1 digest.
//
// Example usage:
//
//	h := checksum.NewHasher()
//	h.AddString(canonicalJSON)
//	if err := h.AddFile(scriptPath); err != nil { ... }
//	sum := h.Sum()
type Hasher struct {
	h hash.Hash
}

// NewHasher creates an empty SHA-1 accumulator.
func NewHasher() *Hasher {
	return &Hasher{h: sha1.New()}
}

// AddString feeds one or more string fragments into the digest.
func (s *Hasher) AddString(fragments ...string) {
	for _, f := range fragments {
		_, _ = io.WriteString(s.h, f)
	}
}

// AddFile feeds the contents of one or more files into the digest.
func (s *Hasher) AddFile(paths ...string) error {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return errors.Wrapf(err, "failed to read file for checksum: %s", p)
		}
		_, _ = s.h.Write(data)
	}
	return nil
}

// Sum returns the lowercase hex digest of everything accumulated so far.
func (s *Hasher) Sum() string {
	return hex.EncodeToString(s.h.Sum(nil))
}

// Strings hashes the given fragments in order and returns the hex digest.
func Strings(fragments ...string) string {
	h := NewHasher()
	h.AddString(fragments...)
	return h.Sum()
}

// PathFor maps a hex digest to its two-level store path, e.g.
// "da39a3ee..." -> "da/39a3ee...".
func PathFor(digest string) (string, error) {
	if len(digest) < 3 {
		return "", errors.Errorf("digest too short for store path: %q", digest)
	}
	return filepath.Join(digest[:2], digest[2:]), nil
}
