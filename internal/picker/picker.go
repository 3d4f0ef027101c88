// Package picker implements the selection algorithm: a freshness check that
// may trigger a detached rescan, a cold-path quick random dart against the
// filesystem when the Store is empty, and a warm path that samples
// candidate files from the Store and runs a strict separation pass followed
// by a deterministic least-violating fallback.
package picker

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/liquidsoap-community/autodj/internal/normalize"
	"github.com/liquidsoap-community/autodj/internal/store"
)

// Config mirrors the LS_* environment knobs the Picker consults directly.
type Config struct {
	ArtistSepMin        int
	TitleSepMin         int
	TrackSepSec         int
	RescanSec           int
	SampleN             int
	TopNDirs            int
	FilesPerDirTry      int
	BucketUnknownArtist bool
	HistoryKeep         int
	HistoryKeepPaths    int
	MusicDir            string
	ScanExts            []string
}

// Picker holds the Store handle and the function used to trigger a
// detached background rescan (overridable in tests; production callers
// pass scanner.Detach).
type Picker struct {
	Store         *store.Store
	Config        Config
	TriggerRescan func()
}

// New builds a Picker. triggerRescan is called, non-blocking, whenever the
// freshness check decides the cache is stale; pass nil to disable
// triggering (tests that don't care about the rescan side effect).
func New(st *store.Store, cfg Config, triggerRescan func()) *Picker {
	if triggerRescan == nil {
		triggerRescan = func() {}
	}
	return &Picker{Store: st, Config: cfg, TriggerRescan: triggerRescan}
}

// Pick runs the full algorithm and returns the chosen path, or "" if no
// candidate could be produced at all. It never returns an error: Store
// failures degrade to the filesystem-only cold path, matching pick-next's
// "never block, never fail" contract.
func (p *Picker) Pick(ctx context.Context, now int64) string {
	p.checkFreshness(ctx, now)

	count, err := p.Store.CountFiles(ctx)
	if err != nil || count == 0 {
		return p.coldPath(ctx, now)
	}

	path := p.warmPath(ctx, now)
	if path == "" {
		return p.coldPath(ctx, now)
	}
	return path
}

func (p *Picker) checkFreshness(ctx context.Context, now int64) {
	count, err := p.Store.CountFiles(ctx)
	if err != nil {
		p.TriggerRescan()
		return
	}

	lastFullScan, ok, err := p.Store.GetMeta(ctx, "last_full_scan")
	stale := err != nil || !ok
	if !stale {
		if ts, parseErr := parseUnix(lastFullScan); parseErr == nil {
			stale = now-ts > int64(p.Config.RescanSec)
		} else {
			stale = true
		}
	}

	if count == 0 || stale {
		p.TriggerRescan()
	}
}

// coldPath samples the filesystem directly, without touching the Store
// beyond recording the provisional play: a quick random dart across up to
// TopNDirs subdirectories, up to FilesPerDirTry entries each.
func (p *Picker) coldPath(ctx context.Context, now int64) string {
	path := quickRandomDart(p.Config.MusicDir, p.Config.TopNDirs, p.Config.FilesPerDirTry, p.Config.ScanExts)
	if path == "" {
		return ""
	}

	artistKey := normalize.ArtistKey("", p.Config.BucketUnknownArtist)
	titleKey := normalize.TitleKey("")
	_ = p.Store.RecordPlay(ctx, path, artistKey, titleKey, "", "", now, p.Config.HistoryKeep, p.Config.HistoryKeepPaths)

	return path
}

// QuickRandomDart runs the same filesystem-only cold-path dart coldPath
// uses, without requiring a Store at all. It is the entry point
// StoreUnavailable callers use: when the database can't even be opened,
// there is no Picker to construct, but the music root can still be sampled
// directly so pick-next keeps emitting a playable path.
func QuickRandomDart(musicDir string, topNDirs, filesPerDirTry int, scanExts []string) string {
	return quickRandomDart(musicDir, topNDirs, filesPerDirTry, scanExts)
}

func quickRandomDart(musicDir string, topNDirs, filesPerDirTry int, scanExts []string) string {
	dirs := sampleDirs(musicDir, topNDirs)
	if len(dirs) == 0 {
		return ""
	}

	extSet := make(map[string]struct{}, len(scanExts))
	for _, e := range scanExts {
		extSet[strings.ToLower(e)] = struct{}{}
	}

	var candidates []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		tried := 0
		for _, e := range entries {
			if tried >= filesPerDirTry {
				break
			}
			tried++
			if e.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if _, ok := extSet[ext]; !ok {
				continue
			}
			candidates = append(candidates, filepath.Join(dir, e.Name()))
		}
	}

	if len(candidates) == 0 {
		return ""
	}
	return candidates[rand.Intn(len(candidates))]
}

// sampleDirs returns up to n directories drawn from musicDir itself and its
// immediate subdirectories (one level is enough for the "quick" contract:
// this is a cold-path fallback, not a full walk). When there are more than
// n, a random n are kept, and musicDir itself may be among those dropped.
func sampleDirs(musicDir string, n int) []string {
	entries, err := os.ReadDir(musicDir)
	if err != nil {
		return nil
	}

	dirs := []string{musicDir}
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(musicDir, e.Name()))
		}
	}

	if len(dirs) <= n {
		return dirs
	}

	rand.Shuffle(len(dirs), func(i, j int) { dirs[i], dirs[j] = dirs[j], dirs[i] })
	return dirs[:n]
}

// warmPath samples candidates from the Store and runs the strict pass
// followed by the least-violating fallback. Returns "" if SamplePaths
// itself returned nothing, signaling the caller to fall back to the cold
// path.
func (p *Picker) warmPath(ctx context.Context, now int64) string {
	candidates, err := p.Store.SamplePaths(ctx, p.Config.SampleN)
	if err != nil || len(candidates) == 0 {
		return ""
	}

	artistKeys := make([]string, len(candidates))
	titleKeys := make([]string, len(candidates))
	pathKeys := make([]string, len(candidates))
	for i, c := range candidates {
		artistKeys[i] = c.NormalizedArtist
		titleKeys[i] = c.NormalizedTitle
		pathKeys[i] = c.Path
	}

	artistPlays, _ := p.Store.LastPlayBatch(ctx, store.KindArtist, artistKeys)
	titlePlays, _ := p.Store.LastPlayBatch(ctx, store.KindTitle, titleKeys)

	var pathPlays map[string]int64
	if p.Config.TrackSepSec > 0 {
		pathPlays, _ = p.Store.LastPlayBatch(ctx, store.KindPath, pathKeys)
	}

	artistWindow := int64(p.Config.ArtistSepMin) * 60
	titleWindow := int64(p.Config.TitleSepMin) * 60
	trackWindow := int64(p.Config.TrackSepSec)

	type evaluated struct {
		store.Candidate
		artistTS, titleTS, pathTS int64
		artistOK, titleOK, pathOK bool
	}

	evals := make([]evaluated, len(candidates))
	for i, c := range candidates {
		aTS, aHas := artistPlays[c.NormalizedArtist]
		tTS, tHas := titlePlays[c.NormalizedTitle]
		pTS, pHas := pathPlays[c.Path]

		aOK := !aHas || now-aTS > artistWindow
		tOK := !tHas || now-tTS > titleWindow
		pOK := trackWindow == 0 || !pHas || now-pTS > trackWindow

		evals[i] = evaluated{
			Candidate: c,
			artistTS:  aTS, titleTS: tTS, pathTS: pTS,
			artistOK: aOK, titleOK: tOK, pathOK: pOK,
		}
	}

	for _, e := range evals {
		if e.artistOK && e.titleOK && e.pathOK {
			p.recordPick(ctx, e.Candidate, now)
			return e.Path
		}
	}

	// Least-violating pass: smallest maximum-timestamp among the
	// constraints each candidate violates, ties broken by lexicographic
	// path.
	best := -1
	var bestScore int64
	for i, e := range evals {
		var score int64
		if !e.artistOK && e.artistTS > score {
			score = e.artistTS
		}
		if !e.titleOK && e.titleTS > score {
			score = e.titleTS
		}
		if !e.pathOK && e.pathTS > score {
			score = e.pathTS
		}

		if best == -1 || score < bestScore || (score == bestScore && e.Path < evals[best].Path) {
			best = i
			bestScore = score
		}
	}

	if best == -1 {
		return ""
	}

	p.recordPick(ctx, evals[best].Candidate, now)
	return evals[best].Path
}

func (p *Picker) recordPick(ctx context.Context, c store.Candidate, now int64) {
	_ = p.Store.RecordPlay(ctx, c.Path, c.NormalizedArtist, c.NormalizedTitle, "", "", now, p.Config.HistoryKeep, p.Config.HistoryKeepPaths)
}

func parseUnix(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
