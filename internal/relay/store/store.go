// Package store persists the relay's history: diff chains, current file
// fingerprints, conflict records and the lock mirror. Content never lives
// here, only patches and hashes.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/nyroxsystems-boop/partsync/internal/db"
	"github.com/nyroxsystems-boop/partsync/internal/message"
)

// MaxDiffHistory bounds the per-file retention of diff rows.
const MaxDiffHistory = 100

const schema = `
CREATE TABLE IF NOT EXISTS diffs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file TEXT NOT NULL,
    patch TEXT NOT NULL,
    author TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'human',
    timestamp INTEGER NOT NULL,
    version TEXT NOT NULL,
    previous_version TEXT NOT NULL,
    compressed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_diffs_file ON diffs(file);
CREATE INDEX IF NOT EXISTS idx_diffs_timestamp ON diffs(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_diffs_file_version ON diffs(file, version);

CREATE TABLE IF NOT EXISTS locks (
    file TEXT PRIMARY KEY,
    locked_by TEXT NOT NULL,
    lock_type TEXT NOT NULL DEFAULT 'editing',
    since INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS file_versions (
    file TEXT PRIMARY KEY,
    hash TEXT NOT NULL,
    timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conflicts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file TEXT NOT NULL,
    conflict_file TEXT NOT NULL,
    author_a TEXT NOT NULL,
    author_b TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    resolved INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_conflicts_file ON conflicts(file);
`

// FileVersion is the single-row current fingerprint per file.
type FileVersion struct {
	File      string `json:"file" db:"file"`
	Hash      string `json:"hash" db:"hash"`
	Timestamp int64  `json:"timestamp" db:"timestamp"`
}

// Store owns the relay's sqlite database.
type Store struct {
	db     *sqlx.DB
	dbPath string
}

// Open creates or opens the store at dbPath. Use ":memory:" for tests.
func Open(dbPath string) (*Store, error) {
	sdb, err := db.NewSqliteDb(db.WithPath(dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if _, err := sdb.Exec(schema); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("initialize store schema: %w", err)
	}

	return &Store{db: sdb, dbPath: dbPath}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		slog.Error("store close", "error", err)
		return err
	}
	return nil
}

// InsertDiff appends a diff row and returns its store-assigned id.
func (s *Store) InsertDiff(d *message.FileDiff) (int64, error) {
	res, err := s.db.NamedExec(`
		INSERT INTO diffs (file, patch, author, type, timestamp, version, previous_version, compressed)
		VALUES (:file, :patch, :author, :type, :timestamp, :version, :previous_version, :compressed)`, d)
	if err != nil {
		return 0, fmt.Errorf("insert diff for %s: %w", d.File, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert diff id for %s: %w", d.File, err)
	}
	return id, nil
}

// UpsertVersion replaces the current fingerprint row for file.
func (s *Store) UpsertVersion(file, hash string, timestamp int64) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO file_versions (file, hash, timestamp) VALUES (?, ?, ?)`,
		file, hash, timestamp)
	if err != nil {
		return fmt.Errorf("upsert version for %s: %w", file, err)
	}
	return nil
}

// GetVersion returns the current fingerprint for file, or nil if unknown.
func (s *Store) GetVersion(file string) (*FileVersion, error) {
	var v FileVersion
	err := s.db.Get(&v, `SELECT file, hash, timestamp FROM file_versions WHERE file = ?`, file)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query version for %s: %w", file, err)
	}
	return &v, nil
}

// AllVersions returns the fingerprint rows for every file the relay knows.
func (s *Store) AllVersions() ([]*FileVersion, error) {
	var versions []*FileVersion
	if err := s.db.Select(&versions, `SELECT file, hash, timestamp FROM file_versions ORDER BY file`); err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	return versions, nil
}

// DeleteVersion drops the fingerprint row for a removed file.
func (s *Store) DeleteVersion(file string) error {
	if _, err := s.db.Exec(`DELETE FROM file_versions WHERE file = ?`, file); err != nil {
		return fmt.Errorf("delete version for %s: %w", file, err)
	}
	return nil
}

// DiffsByFile returns up to limit diffs for file, newest first.
func (s *Store) DiffsByFile(file string, limit int) ([]*message.FileDiff, error) {
	if limit <= 0 {
		limit = MaxDiffHistory
	}
	var diffs []*message.FileDiff
	err := s.db.Select(&diffs, `
		SELECT id, file, patch, author, type, timestamp, version, previous_version, compressed
		FROM diffs WHERE file = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, file, limit)
	if err != nil {
		return nil, fmt.Errorf("query diffs for %s: %w", file, err)
	}
	return diffs, nil
}

// DiffsSince returns every diff for file newer than the latest row whose
// version matches the given fingerprint, oldest first. If no row matches,
// the full chain is returned.
func (s *Store) DiffsSince(file, version string) ([]*message.FileDiff, error) {
	var sinceId int64
	err := s.db.Get(&sinceId, `SELECT COALESCE(MAX(id), 0) FROM diffs WHERE file = ? AND version = ?`, file, version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query chain anchor for %s: %w", file, err)
	}

	var diffs []*message.FileDiff
	err = s.db.Select(&diffs, `
		SELECT id, file, patch, author, type, timestamp, version, previous_version, compressed
		FROM diffs WHERE file = ? AND id > ? ORDER BY id ASC`, file, sinceId)
	if err != nil {
		return nil, fmt.Errorf("query diffs since for %s: %w", file, err)
	}
	return diffs, nil
}

// Recent returns the newest diffs across all files.
func (s *Store) Recent(limit int) ([]*message.FileDiff, error) {
	var diffs []*message.FileDiff
	err := s.db.Select(&diffs, `
		SELECT id, file, patch, author, type, timestamp, version, previous_version, compressed
		FROM diffs ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent diffs: %w", err)
	}
	return diffs, nil
}

// ByID looks up a single diff, used for undo.
func (s *Store) ByID(id int64) (*message.FileDiff, error) {
	var d message.FileDiff
	err := s.db.Get(&d, `
		SELECT id, file, patch, author, type, timestamp, version, previous_version, compressed
		FROM diffs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query diff %d: %w", id, err)
	}
	return &d, nil
}

// Prune deletes rows for file not in the newest keep by timestamp.
func (s *Store) Prune(file string, keep int) error {
	if keep <= 0 {
		keep = MaxDiffHistory
	}
	_, err := s.db.Exec(`
		DELETE FROM diffs WHERE file = ? AND id NOT IN (
			SELECT id FROM diffs WHERE file = ? ORDER BY timestamp DESC, id DESC LIMIT ?
		)`, file, file, keep)
	if err != nil {
		return fmt.Errorf("prune diffs for %s: %w", file, err)
	}
	return nil
}

// InsertConflict persists a conflict record and returns its id.
func (s *Store) InsertConflict(e *message.ConflictEvent) (int64, error) {
	res, err := s.db.NamedExec(`
		INSERT INTO conflicts (file, conflict_file, author_a, author_b, timestamp, resolved)
		VALUES (:file, :conflict_file, :author_a, :author_b, :timestamp, :resolved)`, e)
	if err != nil {
		return 0, fmt.Errorf("insert conflict for %s: %w", e.File, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert conflict id for %s: %w", e.File, err)
	}
	return id, nil
}

// RecentConflicts returns the newest conflict records.
func (s *Store) RecentConflicts(limit int) ([]*message.ConflictEvent, error) {
	var events []*message.ConflictEvent
	err := s.db.Select(&events, `
		SELECT id, file, conflict_file, author_a, author_b, timestamp, resolved
		FROM conflicts ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent conflicts: %w", err)
	}
	return events, nil
}

// SaveLock mirrors a lock row. The holder's connection id is runtime-only
// and never persisted.
func (s *Store) SaveLock(l *message.LockState) error {
	_, err := s.db.NamedExec(`
		INSERT OR REPLACE INTO locks (file, locked_by, lock_type, since)
		VALUES (:file, :locked_by, :lock_type, :since)`, l)
	if err != nil {
		return fmt.Errorf("save lock for %s: %w", l.File, err)
	}
	return nil
}

func (s *Store) DeleteLock(file string) error {
	if _, err := s.db.Exec(`DELETE FROM locks WHERE file = ?`, file); err != nil {
		return fmt.Errorf("delete lock for %s: %w", file, err)
	}
	return nil
}

func (s *Store) AllLocks() ([]*message.LockState, error) {
	var locks []*message.LockState
	if err := s.db.Select(&locks, `SELECT file, locked_by, lock_type, since FROM locks ORDER BY file`); err != nil {
		return nil, fmt.Errorf("query locks: %w", err)
	}
	return locks, nil
}

// TotalDiffs counts stored diff rows across all files.
func (s *Store) TotalDiffs() (int64, error) {
	var n int64
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM diffs`); err != nil {
		return 0, fmt.Errorf("count diffs: %w", err)
	}
	return n, nil
}

// TotalFiles counts files with a known fingerprint.
func (s *Store) TotalFiles() (int64, error) {
	var n int64
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM file_versions`); err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return n, nil
}

// SizeBytes reports the database file size, 0 for in-memory stores.
func (s *Store) SizeBytes() int64 {
	if s.dbPath == ":memory:" {
		return 0
	}
	info, err := os.Stat(s.dbPath)
	if err != nil {
		return 0
	}
	return info.Size()
}
