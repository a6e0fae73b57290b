// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package scan

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// ConsoleProgress renders the coordinator's ≤10 Hz updates as a single
// live-updating line when stdout is a terminal, and as periodic plain-text
// lines otherwise (log aggregators, CI). It owns no scan state of its own:
// Update is just a sink for whatever the coordinator computes.
type ConsoleProgress struct {
	w        io.Writer
	bar      *progressbar.ProgressBar
	isTTY    bool
	lastLine string
}

// NewConsoleProgress builds a progress sink writing to w. total is the
// known or estimated file count; 0 renders an indeterminate spinner.
func NewConsoleProgress(w io.Writer, total int64) *ConsoleProgress {
	isTTY := false
	if f, ok := w.(*os.File); ok {
		isTTY = isatty.IsTerminal(f.Fd())
	}

	cp := &ConsoleProgress{w: w, isTTY: isTTY}
	if isTTY {
		cp.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("scanning"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionThrottle(100*1000*1000), // 100ms, matching the 10 Hz update rate
			progressbar.OptionClearOnFinish(),
		)
	}
	return cp
}

// Update renders one progress snapshot. Safe to call from the coordinator's
// own ticker goroutine; it never blocks on I/O longer than one line write.
func (cp *ConsoleProgress) Update(scanned, written int64) {
	if cp.bar != nil {
		_ = cp.bar.Set64(scanned)
		return
	}
	line := fmt.Sprintf("scanned=%d written=%d", scanned, written)
	if line == cp.lastLine {
		return
	}
	cp.lastLine = line
	fmt.Fprintln(cp.w, line)
}

// Finish closes out the progress display.
func (cp *ConsoleProgress) Finish() {
	if cp.bar != nil {
		_ = cp.bar.Finish()
	}
}

// Summary prints the scan's final counters, colorized when stdout is a
// terminal (matching the teacher's use of fatih/color for CLI summaries).
func Summary(w io.Writer, result Result, dur time.Duration) {
	isTTY := false
	if f, ok := w.(*os.File); ok {
		isTTY = isatty.IsTerminal(f.Fd())
	}

	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	if !isTTY {
		bold.DisableColor()
		green.DisableColor()
	}

	bold.Fprintf(w, "scan complete in %s\n", dur.Round(time.Millisecond))
	green.Fprintf(w, "  files scanned:  %d\n", result.FilesScanned)
	fmt.Fprintf(w, "  directories:    %d\n", result.DirectoriesScanned)
	fmt.Fprintf(w, "  added:          %d\n", result.Added)
	fmt.Fprintf(w, "  modified:       %d\n", result.Modified)
	fmt.Fprintf(w, "  skipped:        %d\n", result.Skipped)
	fmt.Fprintf(w, "  bytes hashed:   %s\n", humanize.Bytes(uint64(result.BytesHashed)))
	for archiveType, count := range result.ArchivesScanned {
		fmt.Fprintf(w, "  archives (%s):  %d\n", archiveType, count)
	}
	for scope, count := range result.Errors {
		fmt.Fprintf(w, "  errors (%s):    %d\n", scope, count)
	}
}
