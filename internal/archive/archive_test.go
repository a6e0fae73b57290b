package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestOpenZip_EntriesAndStream(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.zip")
	writeTestZip(t, path, map[string]string{
		"x.txt":     "hello",
		"dir/y.txt": "world",
		"dir/z.bin": "binary",
	})

	r, err := OpenZip(path)
	require.NoError(t, err)
	defer r.Close()

	entries, err := r.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byPath := map[string]Entry{}
	for _, e := range entries {
		byPath[e.InternalPath] = e
	}
	require.Contains(t, byPath, "x.txt")
	require.Contains(t, byPath, "dir/y.txt")
	require.Contains(t, byPath, "dir/z.bin")

	stream, err := byPath["x.txt"].OpenStream()
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.NoError(t, stream.Close())
}

func TestRegistry_Lookup(t *testing.T) {
	reg := NewRegistry()

	_, ok := reg.Lookup("/data/archive.zip")
	require.True(t, ok)

	_, ok = reg.Lookup("/data/archive.tar.gz")
	require.True(t, ok)

	_, ok = reg.Lookup("/data/archive.rar")
	require.True(t, ok)

	_, ok = reg.Lookup("/data/plain.txt")
	require.False(t, ok)
}
