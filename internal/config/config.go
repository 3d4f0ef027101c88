// Package config loads the LS_* environment configuration the rest of the
// service reads at process start. All knobs in this package are documented in
// the environment variable table of the project spec; every field has a
// default so a bare `autodj pick-next` works against an empty environment.
package config

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "LS_"

// Config holds every LS_* knob, defaults already applied.
type Config struct {
	MusicDir            string   `koanf:"music_dir"`
	DBPath              string   `koanf:"db"`
	ArtistSepMin        int      `koanf:"artist_sep_min"`
	TitleSepMin         int      `koanf:"title_sep_min"`
	TrackSepSec         int      `koanf:"track_sep_sec"`
	RescanSec           int      `koanf:"rescan_sec"`
	LockStaleSec        int      `koanf:"lock_stale_sec"`
	TopNDirs            int      `koanf:"top_n_dirs"`
	FilesPerDirTry      int      `koanf:"files_per_dir_try"`
	FfprobeTimeout      float64  `koanf:"ffprobe_timeout_s"`
	ScanExts            []string `koanf:"-"`
	ScanExtsRaw         string   `koanf:"scan_exts"`
	UnknownArtistBucket bool     `koanf:"unknown_artist_bucket"`
	HistoryKeep         int      `koanf:"history_keep"`
	HistoryKeepPaths    int      `koanf:"history_keep_paths"`
	LogLevel            string   `koanf:"log_level"`

	// SampleN is the Picker's two-pass sample size. Not exposed as an LS_
	// environment variable in the spec; kept here so tests and callers share
	// one place for it.
	SampleN int `koanf:"-"`
}

// Default returns a Config with every field set to its documented default,
// before any environment overlay is applied.
func Default() Config {
	return Config{
		MusicDir:            "/srv/music",
		DBPath:              "/var/lib/liquidsoap/liquidsoap.db",
		ArtistSepMin:        45,
		TitleSepMin:         180,
		TrackSepSec:         0,
		RescanSec:           86400,
		LockStaleSec:        3600,
		TopNDirs:            64,
		FilesPerDirTry:      128,
		FfprobeTimeout:      0.8,
		ScanExts:            []string{".mp3", ".flac", ".m4a", ".ogg", ".wav", ".aac"},
		ScanExtsRaw:         ".mp3,.flac,.m4a,.ogg,.wav,.aac",
		UnknownArtistBucket: true,
		HistoryKeep:         10000,
		HistoryKeepPaths:    20000,
		LogLevel:            "info",
		SampleN:             2000,
	}
}

// Load reads LS_* environment variables over the documented defaults.
//
// The mechanism mirrors the teacher's koanf-based config loader
// (internal/config.Load in the reference repo), retargeted from a TOML file
// provider to an env provider: LS_MUSIC_DIR becomes the koanf key
// "music_dir" via the prefix-strip + lower-case transform below, and
// mapstructure's weakly-typed decoding turns the always-string environment
// values into the Config struct's ints/floats/bools.
func Load() (Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if err := k.Load(defaultsProvider{cfg: cfg}, nil); err != nil {
		return cfg, err
	}

	provider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
		},
	})

	if err := k.Load(provider, nil); err != nil {
		return cfg, err
	}

	decoder := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, decoder); err != nil {
		return cfg, err
	}

	cfg.ScanExts = splitExts(cfg.ScanExtsRaw)

	return cfg, nil
}

func splitExts(raw string) []string {
	parts := strings.Split(raw, ",")
	exts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, ".") {
			p = "." + p
		}
		exts = append(exts, p)
	}
	return exts
}

// defaultsProvider adapts a Config value into a koanf.Provider so Default()
// can seed koanf before the environment overlay is loaded.
type defaultsProvider struct{ cfg Config }

func (p defaultsProvider) Read() (map[string]interface{}, error) {
	return map[string]interface{}{
		"music_dir":             p.cfg.MusicDir,
		"db":                    p.cfg.DBPath,
		"artist_sep_min":        p.cfg.ArtistSepMin,
		"title_sep_min":         p.cfg.TitleSepMin,
		"track_sep_sec":         p.cfg.TrackSepSec,
		"rescan_sec":            p.cfg.RescanSec,
		"lock_stale_sec":        p.cfg.LockStaleSec,
		"top_n_dirs":            p.cfg.TopNDirs,
		"files_per_dir_try":     p.cfg.FilesPerDirTry,
		"ffprobe_timeout_s":     p.cfg.FfprobeTimeout,
		"scan_exts":             p.cfg.ScanExtsRaw,
		"unknown_artist_bucket": p.cfg.UnknownArtistBucket,
		"history_keep":          p.cfg.HistoryKeep,
		"history_keep_paths":    p.cfg.HistoryKeepPaths,
		"log_level":             p.cfg.LogLevel,
	}, nil
}
