// Package store is the embedded relational persistence layer: schema
// owner and home of the bulk upsert/replace primitives the rest of the
// pipeline relies on for failure-atomic per-cycle updates.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"eve-market-intel/internal/logger"
	"eve-market-intel/internal/market"

	_ "modernc.org/sqlite"
)

// chunkSize bounds how many rows go into a single multi-row INSERT
// statement, amortizing per-statement overhead without building one
// enormous parameter list for the largest order books.
const chunkSize = 500

const (
	maxRetries    = 3
	retryBaseWait = 250 * time.Millisecond
)

// Store wraps a SQLite connection. A single writer at a time; the
// database/sql pool serializes conflicting writers, replace_*/upsert_*
// operations additionally retry on transient lock contention.
type Store struct {
	sql *sql.DB
}

func defaultPath() string {
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "market-intel.db")
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "market-intel.db")
}

// Open opens (or creates) the database at path and runs migrations. An
// empty path uses the working-directory default, mirroring the
// teacher's dbPath() fallback order.
func Open(path string) (*Store, error) {
	if path == "" {
		path = defaultPath()
	}
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	s := &Store{sql: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	logger.Success("STORE", fmt.Sprintf("opened %s", path))
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate() error {
	version := 0
	s.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS type_catalog (
				type_id       INTEGER PRIMARY KEY,
				type_name     TEXT NOT NULL DEFAULT '',
				group_id      INTEGER NOT NULL DEFAULT 0,
				group_name    TEXT NOT NULL DEFAULT '',
				category_id   INTEGER NOT NULL DEFAULT 0,
				category_name TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE IF NOT EXISTS watchlist (
				type_id       INTEGER PRIMARY KEY,
				type_name     TEXT NOT NULL DEFAULT '',
				group_id      INTEGER NOT NULL DEFAULT 0,
				group_name    TEXT NOT NULL DEFAULT '',
				category_id   INTEGER NOT NULL DEFAULT 0,
				category_name TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE IF NOT EXISTS market_order (
				order_id      INTEGER PRIMARY KEY,
				type_id       INTEGER NOT NULL,
				type_name     TEXT NOT NULL DEFAULT '',
				volume_remain INTEGER NOT NULL,
				price         TEXT NOT NULL,
				issued        TEXT NOT NULL,
				duration      INTEGER NOT NULL,
				is_buy_order  INTEGER NOT NULL,
				timestamp     TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_market_order_type ON market_order(type_id);

			CREATE TABLE IF NOT EXISTS market_history (
				date        TEXT NOT NULL,
				type_id     INTEGER NOT NULL,
				type_name   TEXT NOT NULL DEFAULT '',
				average     TEXT NOT NULL,
				highest     TEXT NOT NULL,
				lowest      TEXT NOT NULL,
				order_count INTEGER NOT NULL,
				volume      INTEGER NOT NULL,
				timestamp   TEXT NOT NULL,
				PRIMARY KEY (date, type_id)
			);

			CREATE TABLE IF NOT EXISTS market_stats (
				type_id               INTEGER PRIMARY KEY,
				total_volume_remain   INTEGER NOT NULL,
				min_price             TEXT NOT NULL,
				price_low_percentile  TEXT NOT NULL,
				avg_of_avg_price      TEXT NOT NULL,
				avg_daily_volume      REAL NOT NULL,
				group_id              INTEGER NOT NULL DEFAULT 0,
				type_name             TEXT NOT NULL DEFAULT '',
				group_name            TEXT NOT NULL DEFAULT '',
				category_id           INTEGER NOT NULL DEFAULT 0,
				category_name         TEXT NOT NULL DEFAULT '',
				days_remaining        REAL NOT NULL,
				comparator_sell       TEXT NOT NULL DEFAULT '0',
				comparator_buy        TEXT NOT NULL DEFAULT '0',
				timestamp             TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS doctrines (
				fit_id       INTEGER NOT NULL,
				type_id      INTEGER NOT NULL,
				category     TEXT NOT NULL DEFAULT '',
				fit          TEXT NOT NULL DEFAULT '',
				ship         TEXT NOT NULL DEFAULT '',
				item         TEXT NOT NULL DEFAULT '',
				qty          INTEGER NOT NULL,
				stock        INTEGER NOT NULL,
				fits         INTEGER NOT NULL,
				days         REAL NOT NULL,
				price_low    TEXT NOT NULL,
				avg_vol      REAL NOT NULL,
				avg_price    TEXT NOT NULL,
				delta        INTEGER NOT NULL,
				doctrine     TEXT NOT NULL DEFAULT '',
				"group"      TEXT NOT NULL DEFAULT '',
				cat_id       INTEGER NOT NULL DEFAULT 0,
				grp_id       INTEGER NOT NULL DEFAULT 0,
				doc_id       INTEGER NOT NULL DEFAULT 0,
				ship_id      INTEGER NOT NULL DEFAULT 0,
				timestamp    TEXT NOT NULL,
				PRIMARY KEY (fit_id, type_id)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}
	return nil
}

// SqlDB exposes the underlying *sql.DB for collaborators (e.g. an
// auxiliary station-name cache) that need raw access; the pipeline
// components themselves only use the typed operations below.
func (s *Store) SqlDB() *sql.DB {
	return s.sql
}

// withRetry runs fn, retrying up to maxRetries times with exponential
// backoff on transient I/O errors (SQLITE_BUSY from file lock
// contention). Integrity/constraint violations are programmer errors
// and are returned immediately without retry.
func withRetry(fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBaseWait * time.Duration(1<<(attempt-1)))
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
		logger.Warn("STORE", fmt.Sprintf("transient error (attempt %d/%d): %v", attempt+1, maxRetries+1, err))
	}
	return fmt.Errorf("store: exhausted retries: %w", lastErr)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "sqlite_busy")
}

// ReadWatchlist returns the watchlist as a set of type ids.
func (s *Store) ReadWatchlist() (map[int32]bool, error) {
	rows, err := s.sql.Query(`SELECT type_id FROM watchlist`)
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	defer rows.Close()

	out := make(map[int32]bool)
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan watchlist row: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// MergeWatchlist inserts any type ids not already present, denormalizing
// TypeInfo fields when known. Used to fold in every type referenced by a
// loaded Fit (spec invariant: every fit-referenced type_id is in the
// watchlist for the next cycle).
func (s *Store) MergeWatchlist(infos []market.TypeInfo) error {
	if len(infos) == 0 {
		return nil
	}
	return withRetry(func() error {
		tx, err := s.sql.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO watchlist (type_id, type_name, group_id, group_name, category_id, category_name)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(type_id) DO UPDATE SET
				type_name = excluded.type_name,
				group_id = excluded.group_id,
				group_name = excluded.group_name,
				category_id = excluded.category_id,
				category_name = excluded.category_name
			WHERE excluded.type_name != ''`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, info := range infos {
			if _, err := stmt.Exec(info.TypeID, info.TypeName, info.GroupID, info.GroupName, info.CategoryID, info.CategoryName); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}
