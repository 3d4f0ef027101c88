// Package store provides the embedded, single-file persistence layer: the
// File table (scanned library tags), the three play tables (ArtistPlay,
// TitlePlay, PathPlay), an append-only History ring, and a Meta key/value
// area used for schema versioning and the scan lock.
//
// The storage engine is modernc.org/sqlite, the same pure-Go SQLite driver
// the reference player uses for its own local database, configured the same
// way: WAL journal mode, a busy timeout, NORMAL synchronous durability, and
// foreign keys on. All public methods are safe to call from multiple
// short-lived processes against the same database file; serialization is
// left to SQLite's own locking plus the scan lock row in Meta.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/liquidsoap-community/autodj/internal/errs"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Kind selects which play table a last-play lookup or upsert targets.
type Kind string

const (
	KindArtist Kind = "artist"
	KindTitle  Kind = "title"
	KindPath   Kind = "path"
)

// ErrUnavailable wraps failures to open or migrate the database file.
var ErrUnavailable = errs.ErrStoreUnavailable

// ErrBusy wraps failures caused by a transient lock or a full disk.
var ErrBusy = errs.ErrStoreBusy

// Store is a handle on one LS_DB file.
type Store struct {
	db *sql.DB
}

// FileRow is one row of the File table, as written by the Scanner.
type FileRow struct {
	Path             string
	Artist           string
	Title            string
	NormalizedArtist string
	NormalizedTitle  string
	Ext              string
	LastScanned      int64
}

// Candidate is one row returned by SamplePaths: just enough to run the
// Picker's separation predicates without a second round trip per file.
type Candidate struct {
	Path             string
	NormalizedArtist string
	NormalizedTitle  string
}

// Open creates the database file and its directory if absent, applies
// schema migrations, and configures WAL with the given busy timeout. It
// returns ErrUnavailable wrapping the underlying error if any of that
// fails — callers are expected to treat this as "fall back to the
// filesystem", never as fatal.
func Open(path string, busyTimeoutMs int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMs),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CountFiles returns the number of rows in File.
func (s *Store) CountFiles(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file`).Scan(&n)
	if err != nil {
		return 0, busyOrErr(err)
	}
	return n, nil
}

// SamplePaths returns up to n rows chosen at random from File, without
// loading the whole table. It draws random row-ids from the known
// [MIN(rowid), MAX(rowid)] range and requeries on a miss; when the range is
// too sparse relative to the row count for that to converge quickly it
// falls back to ORDER BY RANDOM() LIMIT n, which is fine at the table sizes
// this service expects.
func (s *Store) SamplePaths(ctx context.Context, n int) ([]Candidate, error) {
	if n <= 0 {
		return nil, nil
	}

	total, err := s.CountFiles(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}
	if n > total {
		n = total
	}

	var minID, maxID int64
	row := s.db.QueryRowContext(ctx, `SELECT MIN(rowid), MAX(rowid) FROM file`)
	if err := row.Scan(&minID, &maxID); err != nil {
		return nil, busyOrErr(err)
	}

	span := maxID - minID + 1
	density := float64(total) / float64(span)

	if span <= 0 || density < 0.2 {
		return s.sampleByOrderRandom(ctx, n)
	}

	return s.sampleByRowidDraws(ctx, n, minID, maxID, total)
}

func (s *Store) sampleByOrderRandom(ctx context.Context, n int) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, normalized_artist, normalized_title
		FROM file ORDER BY RANDOM() LIMIT ?`, n)
	if err != nil {
		return nil, busyOrErr(err)
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// sampleByRowidDraws draws distinct random rowids in [minID, maxID] and
// fetches them in batches, topping up with fresh draws whenever a batch
// misses (a rowid with no matching row, e.g. after a delete), until it has
// n candidates or gives up after a bounded number of rounds.
func (s *Store) sampleByRowidDraws(ctx context.Context, n int, minID, maxID int64, total int) ([]Candidate, error) {
	seen := make(map[string]struct{}, n)
	out := make([]Candidate, 0, n)

	span := maxID - minID + 1
	for round := 0; round < 8 && len(out) < n; round++ {
		need := n - len(out)
		draws := need * 2
		if int64(draws) > span {
			draws = int(span)
		}
		if draws <= 0 {
			break
		}

		ids := make([]any, 0, draws)
		placeholders := make([]string, 0, draws)
		drawn := make(map[int64]struct{}, draws)
		for len(drawn) < draws {
			id := minID + rand.Int63n(span)
			drawn[id] = struct{}{}
		}
		for id := range drawn {
			ids = append(ids, id)
			placeholders = append(placeholders, "?")
		}

		query := fmt.Sprintf(`
			SELECT path, normalized_artist, normalized_title
			FROM file WHERE rowid IN (%s)`, strings.Join(placeholders, ","))

		rows, err := s.db.QueryContext(ctx, query, ids...)
		if err != nil {
			return nil, busyOrErr(err)
		}
		batch, err := scanCandidates(rows)
		if err != nil {
			return nil, err
		}

		for _, c := range batch {
			if _, dup := seen[c.Path]; dup {
				continue
			}
			seen[c.Path] = struct{}{}
			out = append(out, c)
			if len(out) == n {
				break
			}
		}
	}

	if len(out) < n {
		// id-range draws did not converge (heavily clustered deletions);
		// top up with a single ORDER BY RANDOM() pass excluding what we have.
		more, err := s.sampleByOrderRandom(ctx, n-len(out))
		if err != nil {
			return out, nil //nolint:nilerr // partial sample is acceptable
		}
		for _, c := range more {
			if _, dup := seen[c.Path]; !dup {
				out = append(out, c)
			}
		}
	}

	return out, nil
}

func scanCandidates(rows *sql.Rows) ([]Candidate, error) {
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.Path, &c.NormalizedArtist, &c.NormalizedTitle); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LastPlay returns the unix timestamp of the most recent play for kind/key,
// and false if no play has been recorded yet.
func (s *Store) LastPlay(ctx context.Context, kind Kind, key string) (int64, bool, error) {
	table, column := tableFor(kind)
	query := fmt.Sprintf(`SELECT played_at FROM %s WHERE %s = ?`, table, column)

	var ts int64
	err := s.db.QueryRowContext(ctx, query, key).Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, busyOrErr(err)
	}
	return ts, true, nil
}

// LastPlayBatch resolves last-play timestamps for many keys of the same
// kind in one round trip, letting the Picker evaluate its separation
// predicates over a whole sample without a query per candidate.
func (s *Store) LastPlayBatch(ctx context.Context, kind Kind, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	table, column := tableFor(kind)
	dedup := make(map[string]struct{}, len(keys))
	args := make([]any, 0, len(keys))
	placeholders := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := dedup[k]; ok {
			continue
		}
		dedup[k] = struct{}{}
		args = append(args, k)
		placeholders = append(placeholders, "?")
	}

	query := fmt.Sprintf(`SELECT %s, played_at FROM %s WHERE %s IN (%s)`,
		column, table, column, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, busyOrErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var ts int64
		if err := rows.Scan(&key, &ts); err != nil {
			return nil, err
		}
		out[key] = ts
	}
	return out, rows.Err()
}

func tableFor(kind Kind) (table, column string) {
	switch kind {
	case KindArtist:
		return "artist_play", "artist_key"
	case KindTitle:
		return "title_play", "title_key"
	default:
		return "path_play", "path"
	}
}

// RecordPlay upserts the three play tables for one pick or track-start, and
// appends a History row, all inside one transaction. historyKeep and
// pathPlayKeep bound the History ring and PathPlay table respectively;
// passing 0 disables trimming for that table.
func (s *Store) RecordPlay(ctx context.Context, path, artistNorm, titleNorm, artistRaw, titleRaw string, ts int64, historyKeep, pathPlayKeep int) error {
	err := withTx(s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO artist_play (artist_key, played_at) VALUES (?, ?)
			ON CONFLICT(artist_key) DO UPDATE SET played_at = excluded.played_at
			WHERE excluded.played_at > artist_play.played_at`, artistNorm, ts); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO title_play (title_key, played_at) VALUES (?, ?)
			ON CONFLICT(title_key) DO UPDATE SET played_at = excluded.played_at
			WHERE excluded.played_at > title_play.played_at`, titleNorm, ts); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO path_play (path, played_at) VALUES (?, ?)
			ON CONFLICT(path) DO UPDATE SET played_at = excluded.played_at
			WHERE excluded.played_at > path_play.played_at`, path, ts); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO history (played_at, path, artist_raw, title_raw) VALUES (?, ?, ?, ?)`,
			ts, path, artistRaw, titleRaw); err != nil {
			return err
		}

		if historyKeep > 0 {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM history WHERE id IN (
					SELECT id FROM history ORDER BY played_at DESC, id DESC
					LIMIT -1 OFFSET ?
				)`, historyKeep); err != nil {
				return err
			}
		}

		if pathPlayKeep > 0 {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM path_play WHERE path IN (
					SELECT path FROM path_play ORDER BY played_at DESC
					LIMIT -1 OFFSET ?
				)`, pathPlayKeep); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return busyOrErr(err)
	}
	return nil
}

// UpsertFile inserts or updates one File row.
func (s *Store) UpsertFile(ctx context.Context, row FileRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file (path, artist, title, normalized_artist, normalized_title, ext, last_scanned)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			artist = excluded.artist,
			title = excluded.title,
			normalized_artist = excluded.normalized_artist,
			normalized_title = excluded.normalized_title,
			ext = excluded.ext,
			last_scanned = excluded.last_scanned`,
		row.Path, row.Artist, row.Title, row.NormalizedArtist, row.NormalizedTitle, row.Ext, row.LastScanned)
	if err != nil {
		return busyOrErr(err)
	}
	return nil
}

// FileLastScanned returns the last_scanned timestamp for path, and false if
// the file is not yet in the table.
func (s *Store) FileLastScanned(ctx context.Context, path string) (int64, bool, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT last_scanned FROM file WHERE path = ?`, path).Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, busyOrErr(err)
	}
	return ts, true, nil
}

// TouchFile bumps last_scanned on an existing File row without touching its
// tags, for files the Scanner revisits but finds unchanged by modification
// time — it still needs to mark them "observed this pass" so DeleteMissing
// doesn't treat them as gone.
func (s *Store) TouchFile(ctx context.Context, path string, ts int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE file SET last_scanned = ? WHERE path = ?`, ts, path)
	if err != nil {
		return busyOrErr(err)
	}
	return nil
}

// ResetLastScanned zeroes last_scanned on every File row, used by
// rebuild-cache --full so the next scan re-probes every file regardless of
// modification time.
func (s *Store) ResetLastScanned(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE file SET last_scanned = 0`)
	if err != nil {
		return busyOrErr(err)
	}
	return nil
}

// DeleteMissing removes every File row whose last_scanned predates sinceTs,
// i.e. rows no walk pass touched during the current scan. It returns the
// number of rows removed.
func (s *Store) DeleteMissing(ctx context.Context, sinceTs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM file WHERE last_scanned < ?`, sinceTs)
	if err != nil {
		return 0, busyOrErr(err)
	}
	return res.RowsAffected()
}

// SetMeta upserts one Meta key/value pair.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return busyOrErr(err)
	}
	return nil
}

// setMetaTx is the non-contextual form used by initSchema before a Store
// exists to hold a context.
func setMetaTx(db *sql.DB, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// GetMeta reads one Meta value, returning false if the key is unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, busyOrErr(err)
	}
	return v, true, nil
}

// Vacuum compacts the database file.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM`)
	if err != nil {
		return busyOrErr(err)
	}
	return nil
}

// scanLockValue packs a holder identifier and acquisition time into the
// single TEXT value the meta table stores.
func scanLockValue(holder string, acquiredAt int64) string {
	return holder + ":" + strconv.FormatInt(acquiredAt, 10)
}

func parseScanLockValue(v string) (holder string, acquiredAt int64, ok bool) {
	idx := strings.LastIndex(v, ":")
	if idx < 0 {
		return "", 0, false
	}
	ts, err := strconv.ParseInt(v[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return v[:idx], ts, true
}

// AcquireScanLock attempts to take the scan lock for holder (typically
// "pid:<n>"). It succeeds if no lock exists, or the existing lock is at
// least staleSec old. now is the caller's view of the current unix time, passed
// in so tests can control it.
func (s *Store) AcquireScanLock(ctx context.Context, holder string, staleSec int64, now int64) (bool, error) {
	acquired := false
	err := withTx(s.db, func(tx *sql.Tx) error {
		var v string
		err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'scan_lock'`).Scan(&v)
		switch {
		case err == sql.ErrNoRows:
			// no lock held
		case err != nil:
			return err
		default:
			if _, ts, ok := parseScanLockValue(v); ok {
				if now-ts < staleSec {
					return nil // lock held and fresh
				}
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES ('scan_lock', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			scanLockValue(holder, now)); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, busyOrErr(err)
	}
	return acquired, nil
}

// ReleaseScanLock clears the scan lock row.
func (s *Store) ReleaseScanLock(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM meta WHERE key = 'scan_lock'`)
	if err != nil {
		return busyOrErr(err)
	}
	return nil
}

func busyOrErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "locked") || strings.Contains(msg, "busy") || strings.Contains(msg, "no space") {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}
