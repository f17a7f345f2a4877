package mapping

import (
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const snapshotFileName = "mappings.db"

var (
	initQueries = []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA synchronous=NORMAL`,
		`CREATE TABLE IF NOT EXISTS rule (
  position INTEGER PRIMARY KEY,
  interface TEXT NOT NULL,
  internal_prefix TEXT NOT NULL,
  external_prefix TEXT NOT NULL,
  prefix_len INTEGER NOT NULL
 ) STRICT`,
		`CREATE TABLE IF NOT EXISTS snapshot (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  saved_at INTEGER NOT NULL
 ) STRICT`,
	}
)

// SQLiteSnapshot keeps the last successfully loaded rule table on disk.
type SQLiteSnapshot struct {
	db *sql.DB
}

// type check
var _ Snapshotter = (*SQLiteSnapshot)(nil)

func NewSQLiteSnapshot(dbPath string) (*SQLiteSnapshot, error) {
	dbURL := url.URL{
		Scheme:   "file",
		Path:     filepath.Join(dbPath, snapshotFileName),
		OmitHost: true,
	}
	db, err := sql.Open("sqlite", dbURL.String())
	if err != nil {
		return nil, fmt.Errorf("can't open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("DB ping failed: %w", err)
	}

	for _, query := range initQueries {
		if _, err = db.Exec(query); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup command (%q) error: %w", query, err)
		}
	}

	return &SQLiteSnapshot{
		db: db,
	}, nil
}

// Save replaces the stored snapshot with rules.
func (s *SQLiteSnapshot) Save(rules []Rule, savedAt time.Time) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("can't begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM rule`); err != nil {
		return fmt.Errorf("snapshot cleanup error: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO rule (position, interface, internal_prefix, external_prefix, prefix_len)
			VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("can't prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rule := range rules {
		if _, err = stmt.Exec(i, rule.Interface, rule.Internal.String(), rule.External.String(), rule.Bits); err != nil {
			return fmt.Errorf("insert query error: %w", err)
		}
	}

	if _, err = tx.Exec(`INSERT INTO snapshot (id, saved_at) VALUES (1, ?)
			ON CONFLICT (id) DO UPDATE SET saved_at = excluded.saved_at`, savedAt.UnixNano()); err != nil {
		return fmt.Errorf("snapshot timestamp update error: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit error: %w", err)
	}
	return nil
}

// Load returns the stored rules in their original order. ErrNoSnapshot is
// returned if nothing was ever saved.
func (s *SQLiteSnapshot) Load() ([]Rule, time.Time, error) {
	var savedAtNanos int64
	row := s.db.QueryRow(`SELECT saved_at FROM snapshot WHERE id = 1`)
	if err := row.Scan(&savedAtNanos); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, ErrNoSnapshot
		}
		return nil, time.Time{}, fmt.Errorf("snapshot query error: %w", err)
	}

	rows, err := s.db.Query(`SELECT interface, internal_prefix, external_prefix, prefix_len
			FROM rule ORDER BY position ASC`)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("rule query error: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var (
			rule                Rule
			internalStr, extStr string
		)
		if err := rows.Scan(&rule.Interface, &internalStr, &extStr, &rule.Bits); err != nil {
			return nil, time.Time{}, fmt.Errorf("rule scan error: %w", err)
		}
		if rule.Internal, err = netip.ParseAddr(internalStr); err != nil {
			return nil, time.Time{}, fmt.Errorf("can't parse IP address %q from DB: %w", internalStr, err)
		}
		if rule.External, err = netip.ParseAddr(extStr); err != nil {
			return nil, time.Time{}, fmt.Errorf("can't parse IP address %q from DB: %w", extStr, err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("rule iteration error: %w", err)
	}

	return rules, time.Unix(0, savedAtNanos), nil
}

func (s *SQLiteSnapshot) Close() error {
	return s.db.Close()
}
