package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filecat.yaml")
	require.NoError(t, writeFile(path, "scan_archives: false\nmax_archive_size: 1024\n"))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.ScanArchives)
	require.EqualValues(t, 1024, cfg.MaxArchiveSize)
	require.EqualValues(t, 104857600, cfg.MaxArchiveFileSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filecat.yaml")
	require.NoError(t, writeFile(path, "scan_archives: true\n"))

	t.Setenv("FILECAT_SCAN_ARCHIVES", "false")
	t.Setenv("FILECAT_WORKERS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.ScanArchives)
	require.Equal(t, 4, cfg.Concurrency.Workers)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
