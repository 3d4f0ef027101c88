package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, 2000)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesSchemaVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, ok, err := s.GetMeta(ctx, "schema_version")
	if err != nil {
		t.Fatalf("GetMeta() error = %v", err)
	}
	if !ok {
		t.Fatal("schema_version not set after Open")
	}
	if v != "1" {
		t.Errorf("schema_version = %q, want 1", v)
	}
}

func TestUpsertFileAndCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if n, err := s.CountFiles(ctx); err != nil || n != 0 {
		t.Fatalf("CountFiles() = %d, %v, want 0, nil", n, err)
	}

	row := FileRow{
		Path:             "/m/a.mp3",
		Artist:           "The Beatles",
		Title:            "Help!",
		NormalizedArtist: "beatles",
		NormalizedTitle:  "help",
		Ext:              ".mp3",
		LastScanned:      100,
	}
	if err := s.UpsertFile(ctx, row); err != nil {
		t.Fatalf("UpsertFile() error = %v", err)
	}

	n, err := s.CountFiles(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CountFiles() = %d, %v, want 1, nil", n, err)
	}

	// Re-upsert the same path updates in place rather than duplicating.
	row.LastScanned = 200
	if err := s.UpsertFile(ctx, row); err != nil {
		t.Fatalf("UpsertFile() (update) error = %v", err)
	}
	if n, err := s.CountFiles(ctx); err != nil || n != 1 {
		t.Fatalf("CountFiles() after re-upsert = %d, %v, want 1, nil", n, err)
	}

	ts, ok, err := s.FileLastScanned(ctx, "/m/a.mp3")
	if err != nil || !ok || ts != 200 {
		t.Fatalf("FileLastScanned() = %d, %v, %v, want 200, true, nil", ts, ok, err)
	}
}

func TestDeleteMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, ts := range []int64{100, 100, 200} {
		path := filepath.Join("/m", string(rune('a'+i))+".mp3")
		if err := s.UpsertFile(ctx, FileRow{Path: path, LastScanned: ts}); err != nil {
			t.Fatalf("UpsertFile() error = %v", err)
		}
	}

	removed, err := s.DeleteMissing(ctx, 200)
	if err != nil {
		t.Fatalf("DeleteMissing() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("DeleteMissing() removed = %d, want 2", removed)
	}

	n, err := s.CountFiles(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CountFiles() after DeleteMissing = %d, %v, want 1, nil", n, err)
	}
}

func TestRecordPlayIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordPlay(ctx, "/m/a.mp3", "beatles", "help", "The Beatles", "Help!", 100, 0, 0); err != nil {
		t.Fatalf("RecordPlay() error = %v", err)
	}

	ts, ok, err := s.LastPlay(ctx, KindArtist, "beatles")
	if err != nil || !ok || ts != 100 {
		t.Fatalf("LastPlay() = %d, %v, %v, want 100, true, nil", ts, ok, err)
	}

	// An older timestamp must never move the stored value backwards.
	if err := s.RecordPlay(ctx, "/m/a.mp3", "beatles", "help", "The Beatles", "Help!", 50, 0, 0); err != nil {
		t.Fatalf("RecordPlay() (stale) error = %v", err)
	}
	ts, _, _ = s.LastPlay(ctx, KindArtist, "beatles")
	if ts != 100 {
		t.Errorf("LastPlay() after stale write = %d, want 100 (unchanged)", ts)
	}

	// A later timestamp (as a track-start overwrite) must win.
	if err := s.RecordPlay(ctx, "/m/a.mp3", "beatles", "help", "The Beatles", "Help!", 150, 0, 0); err != nil {
		t.Fatalf("RecordPlay() (fresh) error = %v", err)
	}
	ts, _, _ = s.LastPlay(ctx, KindArtist, "beatles")
	if ts != 150 {
		t.Errorf("LastPlay() after fresh write = %d, want 150", ts)
	}
}

func TestRecordPlayAppendsHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, ts := range []int64{10, 20, 30} {
		if err := s.RecordPlay(ctx, "/m/a.mp3", "x", "y", "X", "Y", ts, 2, 0); err != nil {
			t.Fatalf("RecordPlay() error = %v", err)
		}
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&n); err != nil {
		t.Fatalf("count history: %v", err)
	}
	if n != 2 {
		t.Errorf("history rows = %d, want 2 (historyKeep=2 should trim)", n)
	}
}

func TestSamplePathsReturnsUpToN(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		path := filepath.Join("/m", "track", string(rune('a'+i%26)), "f.mp3")
		path = path + string(rune('0'+i/26))
		if err := s.UpsertFile(ctx, FileRow{Path: path, LastScanned: int64(i)}); err != nil {
			t.Fatalf("UpsertFile() error = %v", err)
		}
	}

	cands, err := s.SamplePaths(ctx, 10)
	if err != nil {
		t.Fatalf("SamplePaths() error = %v", err)
	}
	if len(cands) == 0 || len(cands) > 10 {
		t.Fatalf("SamplePaths() returned %d candidates, want 1..10", len(cands))
	}

	seen := make(map[string]bool)
	for _, c := range cands {
		if seen[c.Path] {
			t.Errorf("SamplePaths() returned duplicate path %q", c.Path)
		}
		seen[c.Path] = true
	}
}

func TestAcquireScanLock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireScanLock(ctx, "pid:1", 3600, 1000)
	if err != nil || !ok {
		t.Fatalf("AcquireScanLock() = %v, %v, want true, nil", ok, err)
	}

	// A second holder must not acquire while the lock is fresh.
	ok, err = s.AcquireScanLock(ctx, "pid:2", 3600, 1010)
	if err != nil || ok {
		t.Fatalf("AcquireScanLock() (contended) = %v, %v, want false, nil", ok, err)
	}

	// Once the lock is older than the staleness window, it can be reclaimed.
	ok, err = s.AcquireScanLock(ctx, "pid:2", 3600, 1000+3601)
	if err != nil || !ok {
		t.Fatalf("AcquireScanLock() (stale) = %v, %v, want true, nil", ok, err)
	}

	if err := s.ReleaseScanLock(ctx); err != nil {
		t.Fatalf("ReleaseScanLock() error = %v", err)
	}
	ok, err = s.AcquireScanLock(ctx, "pid:3", 3600, 2000)
	if err != nil || !ok {
		t.Fatalf("AcquireScanLock() (after release) = %v, %v, want true, nil", ok, err)
	}
}

func TestVacuum(t *testing.T) {
	s := openTestStore(t)
	if err := s.Vacuum(context.Background()); err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}
}
