package walker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/filecat/internal/ignore"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestWalk_SortedDepthFirst(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.txt"))
	writeFile(t, filepath.Join(root, "a.txt"))
	writeFile(t, filepath.Join(root, "sub", "c.txt"))

	out := make(chan Candidate, 16)
	Walk(context.Background(), root, ignore.New(nil), Signals{}, out)

	var paths []string
	for c := range out {
		paths = append(paths, c.Path)
	}

	require.Equal(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "b.txt"),
		filepath.Join(root, "sub", "c.txt"),
	}, paths)
}

func TestWalk_HonorsIgnore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "node_modules", "x.txt"))
	writeFile(t, filepath.Join(root, "keep.txt"))

	m := ignore.New([]string{"node_modules"})
	out := make(chan Candidate, 16)
	Walk(context.Background(), root, m, Signals{}, out)

	var paths []string
	for c := range out {
		paths = append(paths, c.Path)
	}
	require.Equal(t, []string{filepath.Join(root, "keep.txt")}, paths)
}

func TestWalk_DotDirExcludedUnconditionally(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".git", "HEAD"))
	writeFile(t, filepath.Join(root, "keep.txt"))

	out := make(chan Candidate, 16)
	Walk(context.Background(), root, ignore.New(nil), Signals{}, out)

	var paths []string
	for c := range out {
		paths = append(paths, c.Path)
	}
	require.Equal(t, []string{filepath.Join(root, "keep.txt")}, paths)
}

func TestWalk_EmitsDirEnteredSignal(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sub", "c.txt"))

	var dirs []string
	sig := Signals{DirEntered: func(path string) { dirs = append(dirs, path) }}

	out := make(chan Candidate, 16)
	Walk(context.Background(), root, ignore.New(nil), sig, out)
	for range out {
	}

	require.ElementsMatch(t, []string{root, filepath.Join(root, "sub")}, dirs)
}

func TestWalk_CancelStopsEarly(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		writeFile(t, filepath.Join(root, "d", string(rune('a'+i%26))+".txt"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan Candidate, 1)
	Walk(ctx, root, ignore.New(nil), Signals{}, out)
	_, open := <-out
	require.False(t, open)
}
