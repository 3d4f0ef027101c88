// Command autodj is the track selector invoked once per song by the
// streaming host. It has no long-running mode: every subcommand is a
// short-lived process that opens the Store, does its work, and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/liquidsoap-community/autodj/internal/config"
	"github.com/liquidsoap-community/autodj/internal/errs"
	"github.com/liquidsoap-community/autodj/internal/logging"
	"github.com/liquidsoap-community/autodj/internal/normalize"
	"github.com/liquidsoap-community/autodj/internal/picker"
	"github.com/liquidsoap-community/autodj/internal/scanner"
	"github.com/liquidsoap-community/autodj/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: autodj <init|rebuild-cache|pick-next|track-start|vacuum|status> [flags]")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "autodj: load config:", err)
		return 1
	}
	logging.Setup(cfg.LogLevel)

	sub, rest := args[0], args[1:]

	switch sub {
	case "init":
		return cmdInit(cfg)
	case "rebuild-cache":
		return cmdRebuildCache(cfg, rest)
	case "pick-next":
		return cmdPickNext(cfg)
	case "track-start":
		return cmdTrackStart(cfg, rest)
	case "vacuum":
		return cmdVacuum(cfg)
	case "status":
		return cmdStatus(cfg)
	case scanner.InternalRescanFlagName():
		return cmdInternalRescan(cfg)
	default:
		fmt.Fprintf(os.Stderr, "autodj: unknown subcommand %q\n", sub)
		return 2
	}
}

func openStore(cfg config.Config) (*store.Store, error) {
	return store.Open(cfg.DBPath, 2000)
}

func cmdInit(cfg config.Config) int {
	st, err := openStore(cfg)
	if err != nil {
		slog.Error("init: open store", "error", err)
		return 1
	}
	defer st.Close()
	slog.Info("init: store ready", "path", cfg.DBPath)
	return 0
}

func cmdRebuildCache(cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("rebuild-cache", flag.ContinueOnError)
	full := fs.Bool("full", false, "ignore modification times and re-probe every file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("rebuild-cache: open store", "error", err)
		return 1
	}
	defer st.Close()

	now := time.Now().Unix()
	if *full {
		// A full refresh ignores last_scanned by forcing every file to look
		// unscanned: touching the walk's mtime comparison the same way a
		// from-scratch Store would, without dropping rows that are still
		// valid in every other column.
		if err := forceFullRescan(context.Background(), st); err != nil {
			slog.Warn("rebuild-cache: reset scan state for full refresh", "error", err)
		}
	}

	opts := scanOptionsFromConfig(cfg)
	holder := "pid:" + strconv.Itoa(os.Getpid())

	stats, err := scanner.Run(context.Background(), st, opts, holder, now)
	if err == scanner.ErrLockHeld {
		slog.Warn("rebuild-cache: scan lock held by another process")
		return 1
	}
	if err != nil {
		slog.Error("rebuild-cache: scan failed", "error", err)
		return 1
	}

	slog.Info("rebuild-cache: complete",
		"walked", stats.Walked, "probed", stats.Probed, "skipped", stats.Skipped, "removed", stats.Removed)
	return 0
}

// forceFullRescan zeroes last_scanned on every File row so the next Run
// treats every file as needing a fresh probe.
func forceFullRescan(ctx context.Context, st *store.Store) error {
	count, err := st.CountFiles(ctx)
	if err != nil || count == 0 {
		return err
	}
	return st.ResetLastScanned(ctx)
}

func cmdPickNext(cfg config.Config) int {
	st, err := openStore(cfg)
	if err != nil {
		// StoreUnavailable: no Picker can be built without a live Store, so
		// fall back to the filesystem-only quick random dart directly. Play
		// recording is skipped: there's no Store to record it in.
		slog.Warn("pick-next: store unavailable, falling back to filesystem dart", "error", err)
		path := picker.QuickRandomDart(cfg.MusicDir, cfg.TopNDirs, cfg.FilesPerDirTry, cfg.ScanExts)
		if path == "" {
			slog.Warn("pick-next: no candidate produced", "error", errs.ErrNoCandidates)
		}
		fmt.Println(path)
		return 0
	}
	defer st.Close()

	p := picker.New(st, pickerConfigFromConfig(cfg), func() {
		if err := scanner.Detach(); err != nil {
			slog.Warn("pick-next: trigger detached rescan", "error", err)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	path := p.Pick(ctx, time.Now().Unix())
	if path == "" {
		slog.Warn("pick-next: no candidate produced", "error", errs.ErrNoCandidates)
	}
	fmt.Println(path)
	return 0
}

func cmdTrackStart(cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("track-start", flag.ContinueOnError)
	artist := fs.String("artist", "", "artist as reported by the streaming host")
	title := fs.String("title", "", "title as reported by the streaming host")
	path := fs.String("path", "", "absolute path of the track that started playing")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *path == "" {
		return 0
	}

	st, err := openStore(cfg)
	if err != nil {
		slog.Warn("track-start: store unavailable, silent no-op", "error", err)
		return 0
	}
	defer st.Close()

	artistKey := normalize.ArtistKey(*artist, cfg.UnknownArtistBucket)
	titleKey := normalize.TitleKey(*title)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().Unix()
	if err := st.RecordPlay(ctx, *path, artistKey, titleKey, *artist, *title, now, cfg.HistoryKeep, cfg.HistoryKeepPaths); err != nil {
		slog.Warn("track-start: record play", "error", err)
	}
	return 0
}

func cmdVacuum(cfg config.Config) int {
	st, err := openStore(cfg)
	if err != nil {
		slog.Error("vacuum: open store", "error", err)
		return 1
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := st.Vacuum(ctx); err != nil {
		slog.Error("vacuum: failed", "error", err)
		return 1
	}
	return 0
}

// cmdStatus is not part of the process interface's original subcommand
// list; it reports the library size and scan freshness for operators
// debugging a deployment, without mutating anything.
func cmdStatus(cfg config.Config) int {
	st, err := openStore(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "autodj: status: store unavailable:", err)
		return 1
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, _ := st.CountFiles(ctx)
	lastFullScan, ok, _ := st.GetMeta(ctx, "last_full_scan")
	if !ok {
		lastFullScan = "never"
	}

	fmt.Fprintf(os.Stderr, "files=%d last_full_scan=%s db=%s music_dir=%s\n", count, lastFullScan, cfg.DBPath, cfg.MusicDir)
	return 0
}

// cmdInternalRescan is the hidden entry point a detached child process runs
// under: a synchronous, in-process scan exactly like rebuild-cache, just
// invoked by scanner.Detach instead of a human.
func cmdInternalRescan(cfg config.Config) int {
	st, err := openStore(cfg)
	if err != nil {
		slog.Error("internal-rescan: open store", "error", err)
		return 1
	}
	defer st.Close()

	opts := scanOptionsFromConfig(cfg)
	holder := "pid:" + strconv.Itoa(os.Getpid())

	stats, err := scanner.Run(context.Background(), st, opts, holder, time.Now().Unix())
	if err == scanner.ErrLockHeld {
		slog.Info("internal-rescan: lock held, another scan is already running")
		return 0
	}
	if err != nil {
		slog.Error("internal-rescan: failed", "error", err)
		return 1
	}

	slog.Info("internal-rescan: complete",
		"walked", stats.Walked, "probed", stats.Probed, "skipped", stats.Skipped, "removed", stats.Removed)
	return 0
}

func scanOptionsFromConfig(cfg config.Config) scanner.Options {
	return scanner.Options{
		MusicDir:            cfg.MusicDir,
		ScanExts:            cfg.ScanExts,
		ProbeBinary:         "ffprobe",
		ProbeTimeout:        time.Duration(cfg.FfprobeTimeout * float64(time.Second)),
		LockStaleSec:        int64(cfg.LockStaleSec),
		BucketUnknownArtist: cfg.UnknownArtistBucket,
	}
}

func pickerConfigFromConfig(cfg config.Config) picker.Config {
	return picker.Config{
		ArtistSepMin:        cfg.ArtistSepMin,
		TitleSepMin:         cfg.TitleSepMin,
		TrackSepSec:         cfg.TrackSepSec,
		RescanSec:           cfg.RescanSec,
		SampleN:             cfg.SampleN,
		TopNDirs:            cfg.TopNDirs,
		FilesPerDirTry:      cfg.FilesPerDirTry,
		BucketUnknownArtist: cfg.UnknownArtistBucket,
		HistoryKeep:         cfg.HistoryKeep,
		HistoryKeepPaths:    cfg.HistoryKeepPaths,
		MusicDir:            cfg.MusicDir,
		ScanExts:            cfg.ScanExts,
	}
}
