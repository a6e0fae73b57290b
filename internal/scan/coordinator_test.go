package scan

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kraklabs/filecat/internal/archive"
	"github.com/kraklabs/filecat/internal/catalog"
	"github.com/kraklabs/filecat/internal/config"
	"github.com/kraklabs/filecat/internal/metrics"
	"github.com/stretchr/testify/require"
)

func newCoordinator(t *testing.T, cfg config.Config) (*Coordinator, *catalog.Store) {
	t.Helper()
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &Coordinator{
		Store:    store,
		Registry: archive.NewRegistry(),
		Metrics:  metrics.New(false, "test-host"),
		Config:   cfg,
		Machine:  "test-host",
	}, store
}

func TestCoordinator_EmptyRoot(t *testing.T) {
	root := t.TempDir()
	coord, _ := newCoordinator(t, config.Default())

	result, err := coord.Run(context.Background(), root)
	require.NoError(t, err)
	require.EqualValues(t, 1, result.DirectoriesScanned)
	require.EqualValues(t, 0, result.FilesScanned)
}

func TestCoordinator_TwoIdenticalFiles(t *testing.T) {
	root := t.TempDir()
	content := make([]byte, 1024)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.bin"), content, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.bin"), content, 0o644))

	coord, store := newCoordinator(t, config.Default())
	result, err := coord.Run(context.Background(), root)
	require.NoError(t, err)
	require.EqualValues(t, 2, result.FilesScanned)
	require.EqualValues(t, 2, result.Added)

	stats, err := store.Statistics(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.HashCount)
	require.EqualValues(t, 2, stats.FileRecordCount)

	groups, err := store.Duplicates(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Paths, 2)
}

func TestCoordinator_IncrementalRescanSkips(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "f"+string(rune('0'+i))+".txt"), []byte("hello"), 0o644))
	}

	coord, _ := newCoordinator(t, config.Default())
	first, err := coord.Run(context.Background(), root)
	require.NoError(t, err)
	require.EqualValues(t, 10, first.Added)

	second, err := coord.Run(context.Background(), root)
	require.NoError(t, err)
	require.EqualValues(t, 10, second.FilesScanned)
	require.EqualValues(t, 0, second.Added)
	require.EqualValues(t, 0, second.Modified)
	require.EqualValues(t, 10, second.Skipped)
}

func TestCoordinator_ModifiedFileIsMod(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	coord, _ := newCoordinator(t, config.Default())
	_, err := coord.Run(context.Background(), root)
	require.NoError(t, err)

	newTime := time.Now().Add(time.Hour)
	require.NoError(t, os.WriteFile(path, []byte("v2-longer"), 0o644))
	require.NoError(t, os.Chtimes(path, newTime, newTime))

	result, err := coord.Run(context.Background(), root)
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Modified)
	require.EqualValues(t, 0, result.Added)
}

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

func TestCoordinator_ZipWithThreeEntries(t *testing.T) {
	root := t.TempDir()
	zipPath := filepath.Join(root, "sample.zip")
	writeTestZip(t, zipPath, map[string]string{
		"x.txt":     "hello",
		"dir/y.txt": "world",
		"dir/z.bin": "binary",
	})

	coord, store := newCoordinator(t, config.Default())
	result, err := coord.Run(context.Background(), root)
	require.NoError(t, err)
	require.EqualValues(t, 3, result.Added)

	entries, err := store.LookupByPaths(context.Background(), []string{
		zipPath + "::x.txt",
		zipPath + "::dir/y.txt",
		zipPath + "::dir/z.bin",
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		require.True(t, e.Record.IsArchived)
		require.Equal(t, zipPath, e.Record.ArchivePath)
	}
}
