package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/filecat/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func pendingRecord(path, md5, sha1, sha256 string, size int64, op model.Operation) model.PendingRecord {
	now := time.Now().UTC()
	return model.PendingRecord{
		Name:      filepath.Base(path),
		Path:      path,
		Machine:   "host-a",
		Created:   now,
		Modified:  now,
		Scanned:   now,
		Operation: op,
		Size:      size,
		MD5:       md5,
		SHA1:      sha1,
		SHA256:    sha256,
	}
}

func TestUpsertBatch_InsertThenLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := pendingRecord("/data/a.bin", "m1", "s1", "h1", 1024, model.OpAdd)
	result, err := s.UpsertBatch(ctx, []model.PendingRecord{rec})
	require.NoError(t, err)
	require.Equal(t, 1, result.Inserted)
	require.Empty(t, result.FailedPaths)

	got, hash, ok, err := s.LookupByPath(ctx, "/data/a.bin")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/data/a.bin", got.Path)
	require.Equal(t, model.OpAdd, got.Operation)
	require.Equal(t, int64(1024), hash.Size)
	require.Equal(t, "h1", hash.SHA256)
}

func TestUpsertBatch_DeduplicatesIdenticalContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs := []model.PendingRecord{
		pendingRecord("/data/a.bin", "m1", "s1", "h1", 1024, model.OpAdd),
		pendingRecord("/data/b.bin", "m1", "s1", "h1", 1024, model.OpAdd),
	}
	result, err := s.UpsertBatch(ctx, recs)
	require.NoError(t, err)
	require.Equal(t, 2, result.Inserted)

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.HashCount, "identical content must share one hash row")
	require.Equal(t, int64(2), stats.FileRecordCount)

	dups, err := s.Duplicates(ctx, 2)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	require.ElementsMatch(t, []string{"/data/a.bin", "/data/b.bin"}, dups[0].Paths)
}

func TestUpsertBatch_ModUpdatesInPlace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertBatch(ctx, []model.PendingRecord{
		pendingRecord("/data/a.bin", "m1", "s1", "h1", 1024, model.OpAdd),
	})
	require.NoError(t, err)

	result, err := s.UpsertBatch(ctx, []model.PendingRecord{
		pendingRecord("/data/a.bin", "m2", "s2", "h2", 2048, model.OpMod),
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Updated)

	_, hash, ok, err := s.LookupByPath(ctx, "/data/a.bin")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2048), hash.Size)

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.HashCount, "old and new content both get a hash row")
	require.Equal(t, int64(1), stats.FileRecordCount, "MOD rewrites in place, it does not add a row")
}

func TestUpsertBatch_LookupByPaths(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertBatch(ctx, []model.PendingRecord{
		pendingRecord("/data/a.bin", "m1", "s1", "h1", 1024, model.OpAdd),
		pendingRecord("/data/b.bin", "m2", "s2", "h2", 2048, model.OpAdd),
	})
	require.NoError(t, err)

	found, err := s.LookupByPaths(ctx, []string{"/data/a.bin", "/data/missing.bin"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Contains(t, found, "/data/a.bin")
}

func TestHealthCheck(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.HealthCheck(context.Background()))
}
