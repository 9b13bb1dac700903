// Package storage is the SQLite ledger backend for the registry.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ssd-technologies/nebulon/internal/registry"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to a SQLite database and implements
// registry.Store.
type DB struct {
	db *sql.DB
}

var _ registry.Store = (*DB)(nil)

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
func NewDB(path string) (*DB, error) {
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes every transaction, which is the ordering
	// the registry relies on for read-modify-write of the aggregate.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
//
// Unsigned counters are stored bit-for-bit in INTEGER columns; see u64/i64.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS registry (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    schema_version INTEGER NOT NULL,
    owner TEXT NOT NULL,
    admins TEXT NOT NULL,
    reward_token TEXT NOT NULL,
    vault TEXT NOT NULL,
    total_agents INTEGER NOT NULL DEFAULT 0,
    total_score INTEGER NOT NULL DEFAULT 0,
    min_score_threshold INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS handles (
    handle TEXT PRIMARY KEY,
    latest_version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS identities (
    handle TEXT NOT NULL,
    version INTEGER NOT NULL,
    schema_version INTEGER NOT NULL,
    owner TEXT NOT NULL,
    mint TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    hex_id BLOB NOT NULL,
    score INTEGER NOT NULL DEFAULT 0,
    tier INTEGER NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    uri TEXT NOT NULL DEFAULT '',
    public_data TEXT NOT NULL DEFAULT '',
    last_claim_timestamp INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    sns TEXT NOT NULL DEFAULT '{}',
    private_vault BLOB,
    recommendations INTEGER NOT NULL DEFAULT 0,
    reports INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (handle, version),
    FOREIGN KEY (handle) REFERENCES handles(handle)
);

CREATE TABLE IF NOT EXISTS balances (
    owner TEXT NOT NULL,
    asset TEXT NOT NULL,
    amount INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (owner, asset)
);

CREATE TABLE IF NOT EXISTS events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    actor TEXT NOT NULL,
    handle TEXT NOT NULL DEFAULT '',
    target TEXT NOT NULL DEFAULT '',
    amount INTEGER NOT NULL DEFAULT 0,
    score INTEGER NOT NULL DEFAULT 0,
    tier INTEGER NOT NULL DEFAULT 0,
    at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_identities_owner_active ON identities(owner, is_active);`
	_, err := d.db.Exec(schema)
	return err
}

// Update runs fn in one immediate transaction. Any error from fn rolls the
// whole transaction back.
func (d *DB) Update(ctx context.Context, fn func(registry.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&ledgerTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// View runs fn in a transaction that is always rolled back.
func (d *DB) View(ctx context.Context, fn func(registry.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	return fn(&ledgerTx{tx: tx, readOnly: true})
}

// boolToInt converts a bool to an integer (0 or 1) for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// i64 stores an unsigned counter in a signed column without loss.
func i64(u uint64) int64 { return int64(u) }

// u64 reverses i64.
func u64(i int64) uint64 { return uint64(i) }
