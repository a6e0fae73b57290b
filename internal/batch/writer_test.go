package batch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kraklabs/filecat/internal/catalog"
	"github.com/kraklabs/filecat/internal/model"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := catalog.Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func pending(path, md5 string, op model.Operation) model.PendingRecord {
	return model.PendingRecord{
		Path:      path,
		Name:      filepath.Base(path),
		Machine:   "test-host",
		Operation: op,
		Size:      10,
		MD5:       md5,
		SHA1:      md5 + "-sha1",
		SHA256:    md5 + "-sha256",
	}
}

func TestWriter_FlushesOnSizeTrigger(t *testing.T) {
	store := openTestStore(t)
	flushed := make(chan struct{}, 10)
	w := New(store, Config{MaxBuffered: 2, FlushInterval: time.Hour, ChunkSize: 200},
		FlushObserver{OnFlush: func(catalog.UpsertResult, time.Duration) { flushed <- struct{}{} }}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, w.Submit(ctx, pending("/a", "h1", model.OpAdd)))
	require.NoError(t, w.Submit(ctx, pending("/b", "h2", model.OpAdd)))

	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected size-triggered flush")
	}

	entries, err := store.LookupByPaths(context.Background(), []string{"/a", "/b"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestWriter_FlushesOnInterval(t *testing.T) {
	store := openTestStore(t)
	flushed := make(chan struct{}, 10)
	w := New(store, Config{MaxBuffered: 500, FlushInterval: 50 * time.Millisecond, ChunkSize: 200},
		FlushObserver{OnFlush: func(catalog.UpsertResult, time.Duration) { flushed <- struct{}{} }}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, w.Submit(ctx, pending("/c", "h3", model.OpAdd)))

	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected interval-triggered flush")
	}
}

func TestWriter_FlushOnClose(t *testing.T) {
	store := openTestStore(t)
	w := New(store, Config{MaxBuffered: 500, FlushInterval: time.Hour, ChunkSize: 200}, FlushObserver{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	require.NoError(t, w.Submit(ctx, pending("/d", "h4", model.OpAdd)))
	w.Close()
	cancel()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to finish")
	}

	entries, err := store.LookupByPaths(context.Background(), []string{"/d"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriter_ExplicitFlush(t *testing.T) {
	store := openTestStore(t)
	w := New(store, Config{MaxBuffered: 500, FlushInterval: time.Hour, ChunkSize: 200}, FlushObserver{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, w.Submit(ctx, pending("/e", "h5", model.OpAdd)))
	require.NoError(t, w.Flush(ctx))

	entries, err := store.LookupByPaths(context.Background(), []string{"/e"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
