// Package scanner walks the music root and brings the Store's File table
// into approximate agreement with it. The worker-pool shape (bounded
// goroutines feeding a single serialized writer) is grounded on the
// reference library's own scanner, generalized from tag-library metadata
// extraction to the tag probe's artist/title pair.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/liquidsoap-community/autodj/internal/errs"
	"github.com/liquidsoap-community/autodj/internal/normalize"
	"github.com/liquidsoap-community/autodj/internal/probe"
	"github.com/liquidsoap-community/autodj/internal/store"
)

const numWorkers = 8

// Options configures one scan pass. All fields are read from the LS_*
// environment configuration by the caller.
type Options struct {
	MusicDir            string
	ScanExts            []string
	ProbeBinary         string
	ProbeTimeout        time.Duration
	LockStaleSec        int64
	BucketUnknownArtist bool
}

// Stats summarizes one completed scan, logged by the Command Surface.
type Stats struct {
	Walked  int
	Probed  int
	Skipped int
	Removed int64
}

// ErrLockHeld is returned when another scanner already holds the lock and
// it has not gone stale.
var ErrLockHeld = errs.ErrScanLockHeld

type walkedFile struct {
	path  string
	ext   string
	mtime int64
}

// Run acquires the scan lock, walks Options.MusicDir, probes new or
// modified files, deletes File rows for paths no longer observed, and
// records Meta.last_full_scan. holder identifies the caller (typically
// "pid:<n>") for the scan lock row; now is the caller's view of the
// current unix time.
func Run(ctx context.Context, st *store.Store, opts Options, holder string, now int64) (Stats, error) {
	acquired, err := st.AcquireScanLock(ctx, holder, opts.LockStaleSec, now)
	if err != nil {
		return Stats{}, err
	}
	if !acquired {
		return Stats{}, ErrLockHeld
	}
	defer st.ReleaseScanLock(ctx) //nolint:errcheck // best-effort release; a stale lock self-heals

	extSet := make(map[string]struct{}, len(opts.ScanExts))
	for _, e := range opts.ScanExts {
		extSet[strings.ToLower(e)] = struct{}{}
	}

	files := walk(opts.MusicDir, extSet)

	stats := Stats{Walked: len(files)}

	toProbe, toTouch := partitionByMtime(ctx, st, files)

	probeAndWrite(ctx, st, opts, toProbe, now, &stats)

	for _, f := range toTouch {
		if err := st.TouchFile(ctx, f.path, now); err != nil {
			slog.Warn("scanner: touch unchanged file", "path", f.path, "error", err)
		}
	}
	stats.Skipped = len(toTouch)

	removed, err := st.DeleteMissing(ctx, now)
	if err != nil {
		slog.Warn("scanner: delete missing files", "error", err)
	} else {
		stats.Removed = removed
	}

	if err := st.SetMeta(ctx, "last_full_scan", fmt.Sprintf("%d", now)); err != nil {
		slog.Warn("scanner: record last_full_scan", "error", err)
	}

	return stats, nil
}

func walk(root string, extSet map[string]struct{}) []walkedFile {
	var files []walkedFile
	filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error { //nolint:errcheck
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := extSet[ext]; !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, walkedFile{path: path, ext: ext, mtime: info.ModTime().Unix()})
		return nil
	})
	return files
}

// partitionByMtime splits the walked files into those that need a fresh
// probe (new, or modified since last_scanned) and those already current.
func partitionByMtime(ctx context.Context, st *store.Store, files []walkedFile) (toProbe, toTouch []walkedFile) {
	for _, f := range files {
		lastScanned, ok, err := st.FileLastScanned(ctx, f.path)
		if err != nil || !ok || f.mtime > lastScanned {
			toProbe = append(toProbe, f)
			continue
		}
		toTouch = append(toTouch, f)
	}
	return toProbe, toTouch
}

func probeAndWrite(ctx context.Context, st *store.Store, opts Options, files []walkedFile, now int64, stats *Stats) {
	if len(files) == 0 {
		return
	}

	work := make(chan walkedFile, len(files))
	results := make(chan store.FileRow, len(files))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range work {
				tags := probe.Probe(ctx, opts.ProbeBinary, f.path, opts.ProbeTimeout)
				results <- store.FileRow{
					Path:             f.path,
					Artist:           tags.Artist,
					Title:            tags.Title,
					NormalizedArtist: normalize.ArtistKey(tags.Artist, opts.BucketUnknownArtist),
					NormalizedTitle:  normalize.TitleKey(tags.Title),
					Ext:              f.ext,
					LastScanned:      now,
				}
			}
		}()
	}

	go func() {
		for _, f := range files {
			work <- f
		}
		close(work)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Single serialized writer: modernc.org/sqlite, like most embedded
	// engines, serializes writers anyway, so fanning writes back into one
	// goroutine avoids lock-contention retries across workers.
	for row := range results {
		if err := st.UpsertFile(ctx, row); err != nil {
			slog.Warn("scanner: upsert file", "path", row.Path, "error", err)
			continue
		}
		stats.Probed++
	}
}
