package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/waffletower/invokeai-graph/registry"
	"github.com/waffletower/invokeai-graph/runtime"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStoreConfig configures the SQLite session store. Grounded on
// bus.SQLiteStoreConfig.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionAge prunes completed execution states older than this
	// duration (0 = no age-based pruning).
	RetentionAge time.Duration

	// PruneInterval is how often the background pruner runs (default 1 hour).
	PruneInterval time.Duration

	// Registry resolves node variant factories/schemas when decoding a
	// stored graph document. Defaults to registry.Global().
	Registry *registry.Registry
}

// SQLiteStore persists execution states as JSON blob documents
// (encodeExecutionState/decodeExecutionState), keyed by execution-state
// id. Grounded directly on bus.SQLiteEventStore: WAL mode, an embedded
// schema, and a background pruner goroutine for old terminal sessions.
type SQLiteStore struct {
	db   *sql.DB
	cfg  SQLiteStoreConfig
	reg  *registry.Registry
	stop chan struct{}
	done chan struct{}
}

// NewSQLiteStore opens (or creates) a SQLite-backed session store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.Global()
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: sqlite open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: sqlite set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: sqlite create schema: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		cfg:  cfg,
		reg:  reg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if cfg.RetentionAge > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}

	return s, nil
}

func (s *SQLiteStore) Set(ctx context.Context, state *runtime.ExecutionState) error {
	doc := encodeExecutionState(state, s.reg)
	blob, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: marshal execution state %s: %w", state.ID, err)
	}

	complete := 0
	if state.IsComplete() {
		complete = 1
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO execution_states (id, document, complete, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET document = excluded.document, complete = excluded.complete, updated_at = excluded.updated_at`,
		state.ID, blob, complete, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: set %s: %w", state.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*runtime.ExecutionState, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM execution_states WHERE id = ?`, id).Scan(&blob)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}

	var doc executionStateDoc
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, fmt.Errorf("store: unmarshal execution state %s: %w", id, err)
	}
	return decodeExecutionState(doc, s.reg)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM execution_states WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return nil
}

// Prune deletes completed execution states older than RetentionAge.
// Exported for tests and for daemon.Scheduler's cron-driven maintenance tick.
func (s *SQLiteStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-s.cfg.RetentionAge).UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `DELETE FROM execution_states WHERE complete = 1 AND updated_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("store: prune: %w", err)
	}
	return nil
}

func (s *SQLiteStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Prune(context.Background())
		}
	}
}

// Close stops the background pruner and closes the database connection.
func (s *SQLiteStore) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

var _ SessionStore = (*SQLiteStore)(nil)
