package store

import (
	"database/sql"
	"strconv"
)

const currentSchemaVersion = 1

// initSchema creates every table and index this package needs if they are
// absent. Migrations are additive and idempotent: re-running initSchema
// against an already-current database is a no-op.
func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS file (
			path TEXT PRIMARY KEY,
			artist TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			normalized_artist TEXT NOT NULL DEFAULT '',
			normalized_title TEXT NOT NULL DEFAULT '',
			ext TEXT NOT NULL DEFAULT '',
			last_scanned INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_file_normalized_artist ON file(normalized_artist);
		CREATE INDEX IF NOT EXISTS idx_file_normalized_title ON file(normalized_title);

		CREATE TABLE IF NOT EXISTS artist_play (
			artist_key TEXT PRIMARY KEY,
			played_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS title_play (
			title_key TEXT PRIMARY KEY,
			played_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS path_play (
			path TEXT PRIMARY KEY,
			played_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			played_at INTEGER NOT NULL,
			path TEXT NOT NULL,
			artist_raw TEXT NOT NULL DEFAULT '',
			title_raw TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_history_played_at ON history(played_at);

		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	return setMetaTx(db, "schema_version", strconv.Itoa(currentSchemaVersion))
}
