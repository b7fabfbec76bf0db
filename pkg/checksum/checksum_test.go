package checksum_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/beim/sdm/pkg/checksum"
	"github.com/stretchr/testify/require"
)

func TestStrings(t *testing.T) {
	// Known SHA-1 vectors.
	require.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", checksum.Strings())
	require.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", checksum.Strings("abc"))

	// Fragment boundaries must not affect the digest.
	require.Equal(t, checksum.Strings("abc"), checksum.Strings("a", "bc"))
}

func TestHasherAddFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.sql")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	h := checksum.NewHasher()
	require.NoError(t, h.AddFile(path))
	require.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", h.Sum())

	h = checksum.NewHasher()
	require.Error(t, h.AddFile(filepath.Join(dir, "missing.sql")))
}

func TestHasherMixed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.sql")
	require.NoError(t, os.WriteFile(path, []byte("bc"), 0o644))

	h := checksum.NewHasher()
	h.AddString("a")
	require.NoError(t, h.AddFile(path))
	require.Equal(t, checksum.Strings("abc"), h.Sum())
}

func TestPathFor(t *testing.T) {
	p, err := checksum.PathFor("a9993e364706816aba3e25717850c26c9cd0d89d")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("a9", "993e364706816aba3e25717850c26c9cd0d89d"), p)

	_, err = checksum.PathFor("ab")
	require.Error(t, err)
}
