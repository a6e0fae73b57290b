// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package batch buffers pending catalog records and flushes them to the
// store on a size or time trigger, isolating the single-writer SQLite
// connection from the many hashing workers feeding it (spec §4.7).
package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/kraklabs/filecat/internal/catalog"
	"github.com/kraklabs/filecat/internal/model"
)

// Config controls when the background flush goroutine drains its buffer.
type Config struct {
	// MaxBuffered triggers a flush once this many records are queued.
	MaxBuffered int
	// FlushInterval triggers a flush after this much wall-clock time has
	// elapsed since the last one, even if MaxBuffered has not been reached.
	FlushInterval time.Duration
	// ChunkSize is the number of records committed per transaction within
	// a single flush (spec §4.7's "chunk_size").
	ChunkSize int
}

// DefaultConfig matches the defaults named in spec §4.7.
var DefaultConfig = Config{
	MaxBuffered:   500,
	FlushInterval: 5 * time.Second,
	ChunkSize:     200,
}

// FlushObserver receives per-flush telemetry; nil fields are skipped. The
// scan coordinator plugs in metrics.Exporter and progress reporting here.
type FlushObserver struct {
	OnFlush func(result catalog.UpsertResult, dur time.Duration)
	OnError func(err error)
}

// Writer is the single-threaded background writer of spec §4.7. Producers
// call Submit from any goroutine; a dedicated loop goroutine owns the
// buffer and the catalog.Store connection it flushes to.
type Writer struct {
	store    *catalog.Store
	cfg      Config
	obs      FlushObserver
	logger   *slog.Logger
	submit   chan model.PendingRecord
	flushNow chan chan struct{}
	done     chan struct{}
}

// New builds a Writer. Start must be called to begin draining.
func New(store *catalog.Store, cfg Config, obs FlushObserver, logger *slog.Logger) *Writer {
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = DefaultConfig.MaxBuffered
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig.FlushInterval
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig.ChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:    store,
		cfg:      cfg,
		obs:      obs,
		logger:   logger,
		submit:   make(chan model.PendingRecord, cfg.MaxBuffered),
		flushNow: make(chan chan struct{}),
		done:     make(chan struct{}),
	}
}

// Submit enqueues a record for the next flush. It blocks if the internal
// channel is full, providing backpressure to hashing workers.
func (w *Writer) Submit(ctx context.Context, rec model.PendingRecord) error {
	select {
	case w.submit <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the submit channel until ctx is canceled, flushing on the size
// trigger, the interval trigger, or an explicit Flush call. It performs one
// final flush before returning. Run is meant to be launched in its own
// goroutine and is not safe to call twice concurrently.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	buf := make([]model.PendingRecord, 0, w.cfg.MaxBuffered)

	// drain moves records already queued in the submit channel into buf, so
	// an explicit or final flush covers everything submitted before it.
	drain := func() {
		for {
			select {
			case rec, ok := <-w.submit:
				if !ok {
					return
				}
				buf = append(buf, rec)
			default:
				return
			}
		}
	}

	flush := func() {
		if len(buf) == 0 {
			return
		}
		start := time.Now()
		// A flush runs to completion even once ctx is canceled, so the final
		// flush on shutdown is not lost.
		result, err := w.flushChunked(context.WithoutCancel(ctx), buf)
		dur := time.Since(start)
		if err != nil {
			w.logger.Error("batch.flush.error", "records", len(buf), "err", err)
			if w.obs.OnError != nil {
				w.obs.OnError(err)
			}
		} else {
			w.logger.Info("batch.flush.ok", "records", len(buf), "inserted", result.Inserted,
				"updated", result.Updated, "failed", len(result.FailedPaths), "dur", dur)
		}
		if w.obs.OnFlush != nil {
			w.obs.OnFlush(result, dur)
		}
		buf = buf[:0]
	}

	for {
		select {
		case rec, ok := <-w.submit:
			if !ok {
				flush()
				return
			}
			buf = append(buf, rec)
			if len(buf) >= w.cfg.MaxBuffered {
				flush()
			}
		case <-ticker.C:
			flush()
		case reply := <-w.flushNow:
			drain()
			flush()
			close(reply)
		case <-ctx.Done():
			drain()
			flush()
			return
		}
	}
}

// flushChunked commits buf in ChunkSize-sized transactions, matching spec
// §4.7's per-chunk commit boundary, and merges the per-chunk results.
func (w *Writer) flushChunked(ctx context.Context, buf []model.PendingRecord) (catalog.UpsertResult, error) {
	var total catalog.UpsertResult
	for start := 0; start < len(buf); start += w.cfg.ChunkSize {
		end := start + w.cfg.ChunkSize
		if end > len(buf) {
			end = len(buf)
		}
		result, err := w.store.UpsertBatch(ctx, buf[start:end])
		total.Inserted += result.Inserted
		total.Updated += result.Updated
		total.FailedPaths = append(total.FailedPaths, result.FailedPaths...)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Flush requests an out-of-band flush and blocks until it completes. Used
// by the coordinator at the end of a scan to ensure every record reaches
// the catalog before it reports completion.
func (w *Writer) Flush(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case w.flushNow <- reply:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return nil
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals Submit producers are done; callers should cancel Run's
// context and wait on Done after calling Close to guarantee the final
// flush has completed.
func (w *Writer) Close() {
	close(w.submit)
}

// Done reports when Run has returned, e.g. after a final flush.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}
