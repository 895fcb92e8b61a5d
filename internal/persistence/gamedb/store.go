// Package gamedb is the transactional source of truth for players, timed
// actions, battle sessions, match history, state snapshots, and stored
// formulas. Entities are persisted as JSON documents alongside the indexed
// columns used for guarded updates and recovery scans.
package gamedb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"fablebot.gg/internal/protocol"
)

var (
	ErrNotFound = errors.New("gamedb: not found")
	// ErrConflict reports a guarded update that found the row in a
	// different status than expected (e.g. a stale timer racing a cancel).
	ErrConflict = errors.New("gamedb: status conflict")
)

// auditFileWriter is the optional raw JSONL trail alongside the audits table.
type auditFileWriter interface {
	Write(v any) error
}

type Store struct {
	db *sql.DB

	ch   chan protocol.Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	auditFile auditFileWriter
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db: db,
		// Bursty audit writes (a long battle resolving many turns) must not
		// stall gameplay.
		ch: make(chan protocol.Event, 8192),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.auditLoop()
	}()
	return s, nil
}

// SetAuditFile tees audit events into a raw file trail in addition to the
// audits table. Must be called before the first Audit.
func (s *Store) SetAuditFile(w auditFileWriter) { s.auditFile = w }

func initPragmas(db *sql.DB) error {
	// WAL suits the append-heavy audit workload; NORMAL is an acceptable
	// durability/perf tradeoff with WAL.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			gold INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS actions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			ends_at INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_user_status ON actions(user_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_status_ends ON actions(status, ends_at);`,
		`CREATE TABLE IF NOT EXISTS battles (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			challenger_id TEXT NOT NULL,
			opponent_id TEXT NOT NULL,
			stake INTEGER NOT NULL,
			stake_state TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_battles_status_expires ON battles(status, expires_at);`,
		`CREATE INDEX IF NOT EXISTS idx_battles_challenger ON battles(challenger_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_battles_opponent ON battles(opponent_id, status);`,
		`CREATE TABLE IF NOT EXISTS matches (
			battle_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			challenger_id TEXT NOT NULL,
			opponent_ref TEXT NOT NULL,
			winner_id TEXT,
			stake INTEGER NOT NULL,
			pot INTEGER NOT NULL,
			turns INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_matches_challenger ON matches(challenger_id, ended_at);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			owner TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			expires_at INTEGER NOT NULL,
			restored INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_restored ON snapshots(restored, expires_at);`,
		`CREATE TABLE IF NOT EXISTS formulas (
			name TEXT PRIMARY KEY,
			expr TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			actor TEXT,
			event_type TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor ON audits(actor, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
