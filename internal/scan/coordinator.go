// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scan wires the walker, decider, hasher, archive readers, and
// batch writer into the coordinated pipeline of spec §4.8.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kraklabs/filecat/internal/archive"
	"github.com/kraklabs/filecat/internal/batch"
	"github.com/kraklabs/filecat/internal/catalog"
	"github.com/kraklabs/filecat/internal/config"
	"github.com/kraklabs/filecat/internal/decide"
	scanerrors "github.com/kraklabs/filecat/internal/errors"
	"github.com/kraklabs/filecat/internal/hashx"
	"github.com/kraklabs/filecat/internal/ignore"
	"github.com/kraklabs/filecat/internal/metrics"
	"github.com/kraklabs/filecat/internal/model"
	"github.com/kraklabs/filecat/internal/walker"
)

// flushOnShutdownDeadline bounds how long the coordinator waits for the
// batch writer to drain after a shutdown signal (spec §5).
const flushOnShutdownDeadline = 30 * time.Second

// Result summarizes one scan, aggregating the counters spec §8's seed
// scenarios check.
type Result struct {
	FilesScanned       int64
	DirectoriesScanned int64
	ArchivesScanned    map[string]int64
	Added              int64
	Modified           int64
	Skipped            int64
	BytesHashed        int64
	Errors             map[scanerrors.Scope]int64
}

// Coordinator owns one scan's lifecycle: it starts the walker, a worker
// pool, and the batch writer, and tears all three down on completion or
// cancellation (spec §4.8).
type Coordinator struct {
	Store    *catalog.Store
	Registry *archive.Registry
	Metrics  *metrics.Exporter
	Logger   *slog.Logger
	Config   config.Config
	Machine  string
	Progress ProgressFunc
}

// ProgressFunc receives a cheap, monotonically increasing snapshot of scan
// progress. Run calls it from its own 100 ms ticker, so it fires at most
// 10 times a second (spec §4.8).
type ProgressFunc func(scanned, written int64)

// Run performs one full scan of root and blocks until it completes or ctx
// is canceled. On cancellation it stops admitting new paths, lets in-flight
// hashing finish (bounded by flushOnShutdownDeadline), flushes the writer,
// and returns the partial Result plus the context's error.
func (c *Coordinator) Run(ctx context.Context, root string) (Result, error) {
	logger := c.logger()
	result := Result{
		ArchivesScanned: map[string]int64{},
		Errors:          map[scanerrors.Scope]int64{},
	}
	var mu sync.Mutex
	addErr := func(scope scanerrors.Scope) {
		mu.Lock()
		result.Errors[scope]++
		mu.Unlock()
		c.Metrics.IncErrors(string(scope))
	}
	addArchive := func(archiveType string) {
		mu.Lock()
		result.ArchivesScanned[archiveType]++
		mu.Unlock()
	}

	matcher, err := c.loadIgnoreMatcher(root)
	if err != nil {
		return result, fmt.Errorf("scan: load ignore rules: %w", err)
	}

	c.Metrics.SetScanInProgress(true)
	defer c.Metrics.SetScanInProgress(false)

	writer := batch.New(c.Store, batch.Config{
		MaxBuffered:   c.Config.Batch.MaxBuffered,
		FlushInterval: c.Config.Batch.FlushInterval,
		ChunkSize:     c.Config.Batch.ChunkSize,
	}, batch.FlushObserver{
		OnFlush: func(r catalog.UpsertResult, dur time.Duration) {
			c.Metrics.AddDBWrites(r.Inserted + r.Updated)
			c.Metrics.ObserveFlushDuration(dur)
			c.Metrics.ObserveBatchSize(r.Inserted + r.Updated + len(r.FailedPaths))
			for _, p := range r.FailedPaths {
				logger.Warn("scan.write.failed", "path", p)
				addErr(scanerrors.ScopeDBFlush)
			}
		},
		OnError: func(err error) {
			logger.Error("scan.flush.error", "err", err)
			addErr(scanerrors.ScopeDBFlush)
		},
	}, logger)

	writerCtx, cancelWriter := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		writer.Run(writerCtx)
		close(writerDone)
	}()

	pathQueueCap := c.Config.Queues.PathQueueCapacity
	if pathQueueCap <= 0 {
		pathQueueCap = 10000
	}
	candidates := make(chan walker.Candidate, pathQueueCap)

	walkCtx, cancelWalk := context.WithCancel(context.Background())
	walkDone := make(chan struct{})
	go func() {
		defer close(walkDone)
		walker.Walk(walkCtx, root, matcher, walker.Signals{
			DirEntered: func(string) {
				atomic.AddInt64(&result.DirectoriesScanned, 1)
				c.Metrics.IncDirectoriesScanned()
			},
			TraversalError: func(path string, err error) {
				logger.Warn("scan.walk.error", "path", path, "err", err)
				addErr(scanerrors.ScopeDirIter)
			},
		}, candidates)
	}()

	numWorkers := c.Config.Concurrency.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
		if numWorkers > 8 {
			numWorkers = 8
		}
	}
	c.Metrics.SetWorkersRunning(numWorkers)
	defer c.Metrics.SetWorkersRunning(0)

	w := &pipelineWorker{
		coord:      c,
		store:      c.Store,
		writer:     writer,
		logger:     logger,
		addErr:     addErr,
		addArchive: addArchive,
		result:     &result,
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx, candidates)
		}()
	}

	stopProgress := make(chan struct{})
	progressDone := make(chan struct{})
	if c.Progress != nil {
		go func() {
			defer close(progressDone)
			ticker := time.NewTicker(100 * time.Millisecond) // 10 Hz, per spec §4.8
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					written := atomic.LoadInt64(&result.Added) + atomic.LoadInt64(&result.Modified)
					c.Progress(atomic.LoadInt64(&result.FilesScanned), written)
				case <-stopProgress:
					return
				}
			}
		}()
	} else {
		close(progressDone)
	}

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
		cancelWalk()
		logger.Info("scan.shutdown.signal")
	case <-waitChan(&wg, walkDone):
	}

	if runErr != nil {
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(flushOnShutdownDeadline):
			logger.Warn("scan.shutdown.grace_period_exceeded")
		}
	} else {
		wg.Wait()
	}
	cancelWalk()
	<-walkDone
	close(stopProgress)
	<-progressDone

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), flushOnShutdownDeadline)
	if err := writer.Flush(flushCtx); err != nil {
		logger.Error("scan.final_flush.error", "err", err)
		addErr(scanerrors.ScopeDBFlush)
	}
	cancelFlush()

	writer.Close()
	cancelWriter()
	<-writerDone

	return result, runErr
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// loadIgnoreMatcher loads .filecatignore from root when enabled, matching
// spec §4.1/§6. When disabled, a nil-rule matcher still excludes
// dot/underscore-prefixed directories unconditionally.
func (c *Coordinator) loadIgnoreMatcher(root string) (*ignore.Matcher, error) {
	if !c.Config.EnableIgnoreRules {
		return ignore.New(nil), nil
	}
	f, err := os.Open(filepath.Join(root, ".filecatignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return ignore.New(nil), nil
		}
		return nil, err
	}
	defer f.Close()
	return ignore.Load(f)
}

func waitChan(wg *sync.WaitGroup, walkDone <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		<-walkDone
		wg.Wait()
		close(done)
	}()
	return done
}

// pipelineWorker implements one worker iteration of spec §4.8.
type pipelineWorker struct {
	coord      *Coordinator
	store      *catalog.Store
	writer     *batch.Writer
	logger     *slog.Logger
	addErr     func(scanerrors.Scope)
	addArchive func(archiveType string)
	result     *Result
}

func (w *pipelineWorker) run(ctx context.Context, candidates <-chan walker.Candidate) {
	for {
		select {
		case cand, ok := <-candidates:
			if !ok {
				return
			}
			w.process(ctx, cand)
		case <-ctx.Done():
			return
		}
	}
}

func (w *pipelineWorker) process(ctx context.Context, cand walker.Candidate) {
	atomic.AddInt64(&w.result.FilesScanned, 1)
	w.coord.Metrics.IncFilesScanned()

	modTime := time.Unix(0, cand.ModTime)
	decision := w.decideFor(ctx, cand.Path, cand.Size, modTime)
	if decision == decide.Skip {
		atomic.AddInt64(&w.result.Skipped, 1)
		return
	}

	if w.coord.Config.ScanArchives {
		if opener, ok := w.coord.Registry.Lookup(cand.Path); ok {
			w.processArchive(ctx, cand, opener)
			return
		}
	}

	w.processPlainFile(ctx, cand, decision)
}

func (w *pipelineWorker) decideFor(ctx context.Context, path string, size int64, modTime time.Time) decide.Decision {
	rec, hash, found, err := w.store.LookupByPath(ctx, path)
	if err != nil {
		w.logger.Warn("scan.lookup.error", "path", path, "err", err)
		return decide.Add
	}
	prior := decide.Prior{HasRecord: found, Size: hash.Size, ModTime: rec.Modified}
	return decide.Decide(decide.Stat{Size: size, ModTime: modTime}, prior)
}

func (w *pipelineWorker) processPlainFile(ctx context.Context, cand walker.Candidate, decision decide.Decision) {
	f, err := os.Open(cand.Path)
	if err != nil {
		w.logger.Warn("scan.read.error", "path", cand.Path, "err", err)
		w.addErr(scanerrors.ScopeScanFile)
		return
	}
	defer f.Close()

	start := time.Now()
	digest, err := hashx.Sum(f, cand.Size)
	w.coord.Metrics.ObserveFileDuration(time.Since(start))
	if err != nil {
		w.logger.Warn("scan.hash.error", "path", cand.Path, "err", err)
		w.addErr(scanerrors.ScopeScanFile)
		return
	}
	w.coord.Metrics.AddBytesHashed(digest.Size)
	atomic.AddInt64(&w.result.BytesHashed, digest.Size)

	now := time.Now()
	rec := model.PendingRecord{
		Name:      filepath.Base(cand.Path),
		Path:      cand.Path,
		Machine:   w.coord.Machine,
		Created:   now,
		Modified:  time.Unix(0, cand.ModTime),
		Scanned:   now,
		Operation: toOperation(decision),
		Size:      digest.Size,
		MD5:       digest.MD5,
		SHA1:      digest.SHA1,
		SHA256:    digest.SHA256,
	}
	w.submit(ctx, rec, decision)
}

func (w *pipelineWorker) processArchive(ctx context.Context, cand walker.Candidate, opener archive.Opener) {
	archiveType := archiveTypeOf(cand.Path)

	if w.coord.Config.MaxArchiveSize > 0 && cand.Size > w.coord.Config.MaxArchiveSize {
		w.logger.Info("scan.archive.skip", "path", cand.Path, "reason", "max_archive_size")
		w.addErr(scanerrors.ScopeArchiveSkip)
		return
	}

	reader, err := opener(cand.Path)
	if err != nil {
		w.logger.Info("scan.archive.skip", "path", cand.Path, "err", err)
		w.addErr(scanerrors.ScopeArchiveSkip)
		return
	}
	defer reader.Close()
	w.coord.Metrics.IncArchivesScanned(archiveType)
	w.addArchive(archiveType)

	entries, err := reader.Entries()
	if err != nil {
		w.logger.Warn("scan.archive.read_error", "path", cand.Path, "err", err)
		w.addErr(scanerrors.ScopeArchiveRead)
		return
	}
	w.coord.Metrics.AddArchiveEntries(archiveType, len(entries))

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if w.coord.Config.MaxArchiveFileSize > 0 && entry.Size > w.coord.Config.MaxArchiveFileSize {
			continue
		}
		virtualPath := cand.Path + "::" + entry.InternalPath
		decision := w.decideFor(ctx, virtualPath, entry.Size, entry.ModTime)
		if decision == decide.Skip {
			atomic.AddInt64(&w.result.Skipped, 1)
			continue
		}
		w.hashArchiveEntry(ctx, cand.Path, virtualPath, entry, decision)
	}
}

func (w *pipelineWorker) hashArchiveEntry(ctx context.Context, archivePath, virtualPath string, entry archive.Entry, decision decide.Decision) {
	stream, err := entry.OpenStream()
	if err != nil {
		w.logger.Warn("scan.archive.entry_error", "path", virtualPath, "err", err)
		w.addErr(scanerrors.ScopeArchiveRead)
		return
	}
	defer stream.Close()

	start := time.Now()
	digest, err := hashx.Sum(stream, entry.Size)
	w.coord.Metrics.ObserveFileDuration(time.Since(start))
	if err != nil {
		w.logger.Warn("scan.archive.entry_error", "path", virtualPath, "err", err)
		w.addErr(scanerrors.ScopeArchiveRead)
		return
	}
	w.coord.Metrics.AddBytesHashed(digest.Size)
	atomic.AddInt64(&w.result.BytesHashed, digest.Size)

	now := time.Now()
	rec := model.PendingRecord{
		Name:        filepath.Base(entry.InternalPath),
		Path:        virtualPath,
		Machine:     w.coord.Machine,
		Created:     now,
		Modified:    entry.ModTime,
		Scanned:     now,
		Operation:   toOperation(decision),
		IsArchived:  true,
		ArchivePath: archivePath,
		Size:        digest.Size,
		MD5:         digest.MD5,
		SHA1:        digest.SHA1,
		SHA256:      digest.SHA256,
	}
	w.submit(ctx, rec, decision)
}

func (w *pipelineWorker) submit(ctx context.Context, rec model.PendingRecord, decision decide.Decision) {
	if err := w.writer.Submit(ctx, rec); err != nil {
		w.logger.Warn("scan.submit.canceled", "path", rec.Path, "err", err)
		return
	}
	if decision == decide.Add {
		atomic.AddInt64(&w.result.Added, 1)
	} else {
		atomic.AddInt64(&w.result.Modified, 1)
	}
}

func toOperation(d decide.Decision) model.Operation {
	if d == decide.Add {
		return model.OpAdd
	}
	return model.OpMod
}

func archiveTypeOf(path string) string {
	switch {
	case hasAnySuffix(path, ".zip"):
		return "zip"
	case hasAnySuffix(path, ".tar", ".tar.gz", ".tgz", ".tar.bz2", ".tbz2"):
		return "tar"
	case hasAnySuffix(path, ".rar"):
		return "rar"
	default:
		return "unknown"
	}
}

func hasAnySuffix(path string, suffixes ...string) bool {
	for _, s := range suffixes {
		if len(path) >= len(s) && path[len(path)-len(s):] == s {
			return true
		}
	}
	return false
}
