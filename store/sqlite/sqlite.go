/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore using SQLite: the append-only money ledger
  plus versioned aggregate documents. In production the same patterns
  apply to PostgreSQL with minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.EntryStore:    Ledger entries (disbursements, repayments, payments)
  generic.DocumentStore: Versioned aggregates (pay runs, advances, orders, tax tables)
  generic.TxStore:       Both, inside one database transaction

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the entries table
  - No DELETE statements on the entries table
  - Corrections are reversal entries

OPTIMISTIC VERSIONING:
  documents.version is bumped on every write. An UPDATE carries the version
  the caller read; zero affected rows means someone else got there first.

KEY TABLES:
  entries:   Immutable ledger of every money movement
  documents: One JSON body per aggregate, keyed by (kind, id)

INDEXES:
  - idx_entries_aggregate: Outstanding balance and payment history (hot path)
  - idx_entries_idempotency: Enforces one entry per idempotency key
  - idx_entries_reference: Bank reference lookups

CONCURRENCY:
  Uses sync.RWMutex so a transaction never interleaves with another write.
  Inside WithTx every read goes through the *sql.Tx, never the pool.

WAL MODE:
  File databases are opened with WAL so readers don't block the writer.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  advances := wageadvance.NewManager(store, roster, policy, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/payroll-engine/generic"
)

// Store implements generic.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ generic.TxStore = (*Store)(nil)

// New opens the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	if dbPath == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		aggregate_kind TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		effective_at TEXT NOT NULL,
		reference TEXT,
		reason TEXT,
		idempotency_key TEXT,
		metadata_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_entries_aggregate
		ON entries(aggregate_kind, aggregate_id, effective_at);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_idempotency
		ON entries(idempotency_key) WHERE idempotency_key IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_entries_reference
		ON entries(reference) WHERE reference IS NOT NULL;

	CREATE TABLE IF NOT EXISTS documents (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		body TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// timeLayout is fixed-width so ORDER BY on the text column is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ENTRY STORE
// =============================================================================

// Append persists a single entry. Append-only.
func (s *Store) Append(ctx context.Context, e generic.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

// Load returns an aggregate's entries ordered by effective time, then insertion.
func (s *Store) Load(ctx context.Context, kind generic.AggregateKind, aggregateID string) ([]generic.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadEntries(ctx, s.db, kind, aggregateID)
}

// Exists checks if an idempotency key has been used.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entryExists(ctx, s.db, idempotencyKey)
}

func appendEntry(ctx context.Context, db querier, e generic.Entry) error {
	var metadataJSON sql.NullString
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO entries (
			id, aggregate_kind, aggregate_id, type, amount, effective_at,
			reference, reason, idempotency_key, metadata_json, created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.AggregateKind), e.AggregateID, string(e.Type), e.Amount.Kobo(),
		e.EffectiveAt.UTC().Format(timeLayout),
		nullString(e.Reference), nullString(e.Reason), nullString(e.IdempotencyKey),
		metadataJSON, nullString(e.CreatedBy), createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func loadEntries(ctx context.Context, db querier, kind generic.AggregateKind, aggregateID string) ([]generic.Entry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, aggregate_kind, aggregate_id, type, amount, effective_at,
		       reference, reason, idempotency_key, metadata_json, created_by, created_at
		FROM entries
		WHERE aggregate_kind = ? AND aggregate_id = ?
		ORDER BY effective_at, rowid`,
		string(kind), aggregateID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var result []generic.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanEntry(rows *sql.Rows) (generic.Entry, error) {
	var (
		e              generic.Entry
		kind, typ      string
		amount         int64
		effectiveAt    string
		reference      sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		metadataJSON   sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)
	err := rows.Scan(
		&e.ID, &kind, &e.AggregateID, &typ, &amount, &effectiveAt,
		&reference, &reason, &idempotencyKey, &metadataJSON, &createdBy, &createdAt,
	)
	if err != nil {
		return generic.Entry{}, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.AggregateKind = generic.AggregateKind(kind)
	e.Type = generic.EntryType(typ)
	e.Amount = generic.Money(amount)
	e.Reference = reference.String
	e.Reason = reason.String
	e.IdempotencyKey = idempotencyKey.String
	e.CreatedBy = createdBy.String
	if e.EffectiveAt, err = time.Parse(timeLayout, effectiveAt); err != nil {
		return generic.Entry{}, fmt.Errorf("failed to parse effective_at: %w", err)
	}
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	if metadataJSON.Valid {
		if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
			return generic.Entry{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return e, nil
}

func entryExists(ctx context.Context, db querier, idempotencyKey string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE idempotency_key = ?", idempotencyKey,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency: %w", err)
	}
	return count > 0, nil
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

func (s *Store) GetDocument(ctx context.Context, kind generic.DocumentKind, id string) (generic.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDocument(ctx, s.db, kind, id)
}

func (s *Store) PutDocument(ctx context.Context, doc generic.Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putDocument(ctx, s.db, doc)
}

func (s *Store) ListDocuments(ctx context.Context, kind generic.DocumentKind) ([]generic.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDocuments(ctx, s.db, kind)
}

func getDocument(ctx context.Context, db querier, kind generic.DocumentKind, id string) (generic.Document, error) {
	var (
		doc       = generic.Document{Kind: kind, ID: id}
		body      string
		updatedAt string
	)
	err := db.QueryRowContext(ctx,
		"SELECT version, body, updated_at FROM documents WHERE kind = ? AND id = ?",
		string(kind), id,
	).Scan(&doc.Version, &body, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Document{}, generic.ErrNotFound
	}
	if err != nil {
		return generic.Document{}, fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}
	doc.Body = []byte(body)
	doc.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return doc, nil
}

func putDocument(ctx context.Context, db querier, doc generic.Document) (int64, error) {
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	ts := updatedAt.UTC().Format(timeLayout)

	if doc.Version == 0 {
		_, err := db.ExecContext(ctx,
			"INSERT INTO documents (kind, id, version, body, updated_at) VALUES (?, ?, 1, ?, ?)",
			string(doc.Kind), doc.ID, string(doc.Body), ts,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return 0, generic.ErrConcurrentModification
			}
			return 0, fmt.Errorf("failed to insert %s %s: %w", doc.Kind, doc.ID, err)
		}
		return 1, nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE documents SET version = version + 1, body = ?, updated_at = ?
		WHERE kind = ? AND id = ? AND version = ?`,
		string(doc.Body), ts, string(doc.Kind), doc.ID, doc.Version,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s %s: %w", doc.Kind, doc.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, generic.ErrConcurrentModification
	}
	return doc.Version + 1, nil
}

func listDocuments(ctx context.Context, db querier, kind generic.DocumentKind) ([]generic.Document, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, version, body, updated_at FROM documents WHERE kind = ? ORDER BY id",
		string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	var result []generic.Document
	for rows.Next() {
		var (
			doc       = generic.Document{Kind: kind}
			body      string
			updatedAt string
		)
		if err := rows.Scan(&doc.ID, &doc.Version, &body, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		doc.Body = []byte(body)
		doc.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		result = append(result, doc)
	}
	return result, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction. fn must only use the
// Store it is given.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Append(ctx context.Context, e generic.Entry) error {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) Load(ctx context.Context, kind generic.AggregateKind, aggregateID string) ([]generic.Entry, error) {
	return loadEntries(ctx, ts.tx, kind, aggregateID)
}

func (ts *txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return entryExists(ctx, ts.tx, idempotencyKey)
}

func (ts *txStore) GetDocument(ctx context.Context, kind generic.DocumentKind, id string) (generic.Document, error) {
	return getDocument(ctx, ts.tx, kind, id)
}

func (ts *txStore) PutDocument(ctx context.Context, doc generic.Document) (int64, error) {
	return putDocument(ctx, ts.tx, doc)
}

func (ts *txStore) ListDocuments(ctx context.Context, kind generic.DocumentKind) ([]generic.Document, error) {
	return listDocuments(ctx, ts.tx, kind)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"))
}
