package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/liquidsoap-community/autodj/internal/store"
)

func fakeFFprobe(t *testing.T, artist, title string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffprobe")
	script := "#!/bin/sh\ncat <<EOF\n{\"format\":{\"tags\":{\"artist\":\"" + artist + "\",\"title\":\"" + title + "\"}},\"streams\":[]}\nEOF\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake ffprobe: %v", err)
	}
	return path
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), 2000)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeMusicFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake audio"), 0o644); err != nil {
		t.Fatalf("write music file: %v", err)
	}
	return path
}

func TestRunProbesNewFiles(t *testing.T) {
	musicDir := t.TempDir()
	writeMusicFile(t, musicDir, "a.mp3")
	writeMusicFile(t, musicDir, "b.mp3")
	writeMusicFile(t, musicDir, "ignore.txt")

	st := openTestStore(t)
	ctx := context.Background()

	opts := Options{
		MusicDir:            musicDir,
		ScanExts:            []string{".mp3"},
		ProbeBinary:         fakeFFprobe(t, "The Beatles", "Help!"),
		ProbeTimeout:        time.Second,
		LockStaleSec:        3600,
		BucketUnknownArtist: true,
	}

	stats, err := Run(ctx, st, opts, "pid:1", 1000)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Walked != 2 {
		t.Errorf("Walked = %d, want 2 (ignore.txt should be filtered)", stats.Walked)
	}
	if stats.Probed != 2 {
		t.Errorf("Probed = %d, want 2", stats.Probed)
	}

	n, err := st.CountFiles(ctx)
	if err != nil || n != 2 {
		t.Fatalf("CountFiles() = %d, %v, want 2, nil", n, err)
	}
}

func TestRunSkipsUnchangedFiles(t *testing.T) {
	musicDir := t.TempDir()
	writeMusicFile(t, musicDir, "a.mp3")

	st := openTestStore(t)
	ctx := context.Background()

	opts := Options{
		MusicDir:            musicDir,
		ScanExts:            []string{".mp3"},
		ProbeBinary:         fakeFFprobe(t, "X", "Y"),
		ProbeTimeout:        time.Second,
		LockStaleSec:        3600,
		BucketUnknownArtist: true,
	}

	// Scan times must not predate the file's real mtime, or the file counts
	// as modified since last_scanned and is probed again.
	now := time.Now().Unix()
	if _, err := Run(ctx, st, opts, "pid:1", now); err != nil {
		t.Fatalf("Run() (first pass) error = %v", err)
	}

	stats, err := Run(ctx, st, opts, "pid:1", now+1000)
	if err != nil {
		t.Fatalf("Run() (second pass) error = %v", err)
	}
	if stats.Probed != 0 {
		t.Errorf("second pass Probed = %d, want 0 (mtime unchanged)", stats.Probed)
	}
	if stats.Skipped != 1 {
		t.Errorf("second pass Skipped = %d, want 1", stats.Skipped)
	}
}

func TestRunDeletesMissingFiles(t *testing.T) {
	musicDir := t.TempDir()
	path := writeMusicFile(t, musicDir, "a.mp3")

	st := openTestStore(t)
	ctx := context.Background()

	opts := Options{
		MusicDir:            musicDir,
		ScanExts:            []string{".mp3"},
		ProbeBinary:         fakeFFprobe(t, "X", "Y"),
		ProbeTimeout:        time.Second,
		LockStaleSec:        3600,
		BucketUnknownArtist: true,
	}

	if _, err := Run(ctx, st, opts, "pid:1", 1000); err != nil {
		t.Fatalf("Run() (first pass) error = %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove music file: %v", err)
	}

	stats, err := Run(ctx, st, opts, "pid:1", 2000)
	if err != nil {
		t.Fatalf("Run() (second pass) error = %v", err)
	}
	if stats.Removed != 1 {
		t.Errorf("Removed = %d, want 1", stats.Removed)
	}
	if n, _ := st.CountFiles(ctx); n != 0 {
		t.Errorf("CountFiles() after deletion = %d, want 0", n)
	}
}

func TestRunReturnsErrLockHeldWhenLockFresh(t *testing.T) {
	musicDir := t.TempDir()
	st := openTestStore(t)
	ctx := context.Background()

	ok, err := st.AcquireScanLock(ctx, "other-pid", 3600, 1000)
	if err != nil || !ok {
		t.Fatalf("AcquireScanLock() setup = %v, %v", ok, err)
	}

	opts := Options{
		MusicDir:     musicDir,
		ScanExts:     []string{".mp3"},
		ProbeBinary:  fakeFFprobe(t, "X", "Y"),
		ProbeTimeout: time.Second,
		LockStaleSec: 3600,
	}

	_, err = Run(ctx, st, opts, "pid:1", 1010)
	if err != ErrLockHeld {
		t.Errorf("Run() error = %v, want ErrLockHeld", err)
	}
}
