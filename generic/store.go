/*
store.go - Persistence interfaces for ledger entries and aggregates

PURPOSE:
  Defines the interface between the domain logic and the database.
  Money movements are persisted append-only; aggregates (wage advances,
  purchase orders, pay runs, tax tables) are persisted as versioned
  documents guarded by optimistic concurrency.

KEY INTERFACES:
  EntryStore:    Append-only ledger persistence (append, load, exists)
  DocumentStore: Versioned aggregate persistence (get, put, list)
  Store:         Both of the above
  TxStore:       Store plus atomic multi-write transactions

APPEND-ONLY CONTRACT:
  EntryStore has no Update() or Delete(). A repayment or payment, once
  written, stays written.

OPTIMISTIC VERSIONING:
  PutDocument carries the version the caller loaded. The write succeeds
  only if the stored version still matches, and the stored version is then
  incremented. Version 0 means "create"; it fails if the document exists.
  Two concurrent read-modify-write cycles on the same aggregate can't both
  win: the loser gets ErrConcurrentModification.

ATOMIC WRITES:
  TxStore.WithTx groups ledger appends and document puts. Recording a
  repayment appends an entry AND bumps the advance's amount_repaid; either
  both are written or neither is.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for tests and dev

SEE ALSO:
  - ledger.go: Higher-level interface using EntryStore
*/
package generic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// ENTRY STORE - Append-only money movements
// =============================================================================

// EntryStore handles persistence of ledger entries.
// IMPORTANT: EntryStore is APPEND-ONLY. No Update, No Delete. Ever.
type EntryStore interface {
	// Append persists an entry. Returns ErrDuplicateIdempotencyKey if the key exists.
	Append(ctx context.Context, e Entry) error

	// Load returns all entries for an aggregate, ordered by EffectiveAt.
	Load(ctx context.Context, kind AggregateKind, aggregateID string) ([]Entry, error)

	// Exists checks if an idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// DOCUMENT STORE - Versioned aggregates
// =============================================================================

// DocumentKind names a family of aggregates.
type DocumentKind string

const (
	KindTaxTable       DocumentKind = "tax_table"
	KindShopTaxSetting DocumentKind = "shop_tax_setting"
	KindEmployee       DocumentKind = "employee"
	KindPayrollPeriod  DocumentKind = "payroll_period"
	KindPayRun         DocumentKind = "pay_run"
	KindWageAdvance    DocumentKind = "wage_advance"
	KindPurchaseOrder  DocumentKind = "purchase_order"
	KindStockLevel     DocumentKind = "stock_level"
	KindApprovalChain  DocumentKind = "approval_chain"
)

// Document is a serialized aggregate.
type Document struct {
	Kind      DocumentKind
	ID        string
	Version   int64
	Body      []byte
	UpdatedAt time.Time
}

// DocumentStore persists aggregates with optimistic versioning.
type DocumentStore interface {
	// GetDocument returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, kind DocumentKind, id string) (Document, error)

	// PutDocument writes doc if the stored version equals doc.Version
	// (0 = must not exist). Returns the new version.
	PutDocument(ctx context.Context, doc Document) (int64, error)

	// ListDocuments returns every document of a kind ordered by ID.
	ListDocuments(ctx context.Context, kind DocumentKind) ([]Document, error)
}

// Store is everything a domain service needs.
type Store interface {
	EntryStore
	DocumentStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, everything it wrote is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// JSON HELPERS
// =============================================================================

// GetJSON loads a document and decodes its body into v. Returns the version.
func GetJSON(ctx context.Context, s DocumentStore, kind DocumentKind, id string, v any) (int64, error) {
	doc, err := s.GetDocument(ctx, kind, id)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(doc.Body, v); err != nil {
		return 0, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return doc.Version, nil
}

// PutJSON encodes v and writes it with the expected version. Returns the new version.
func PutJSON(ctx context.Context, s DocumentStore, kind DocumentKind, id string, expectedVersion int64, v any) (int64, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	return s.PutDocument(ctx, Document{
		Kind:      kind,
		ID:        id,
		Version:   expectedVersion,
		Body:      body,
		UpdatedAt: time.Now().UTC(),
	})
}

// ListJSON decodes every document of a kind with decode.
func ListJSON(ctx context.Context, s DocumentStore, kind DocumentKind, decode func(doc Document) error) error {
	docs, err := s.ListDocuments(ctx, kind)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := decode(doc); err != nil {
			return fmt.Errorf("decode %s %s: %w", kind, doc.ID, err)
		}
	}
	return nil
}
