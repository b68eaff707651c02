// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     map[entryKey][]generic.Entry
	idempotency map[string]bool
	documents   map[docKey]generic.Document
}

type entryKey struct {
	Kind        generic.AggregateKind
	AggregateID string
}

type docKey struct {
	Kind generic.DocumentKind
	ID   string
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[entryKey][]generic.Entry),
		idempotency: make(map[string]bool),
		documents:   make(map[docKey]generic.Document),
	}
}

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, e generic.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Memory) appendLocked(e generic.Entry) error {
	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	k := entryKey{Kind: e.AggregateKind, AggregateID: e.AggregateID}
	es := m.entries[k]

	// Binary search for insertion point keeps entries ordered by EffectiveAt
	i := sort.Search(len(es), func(i int) bool {
		return es[i].EffectiveAt.After(e.EffectiveAt)
	})

	es = append(es, generic.Entry{})
	copy(es[i+1:], es[i:])
	es[i] = e
	m.entries[k] = es

	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Load(_ context.Context, kind generic.AggregateKind, aggregateID string) ([]generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(kind, aggregateID), nil
}

func (m *Memory) loadLocked(kind generic.AggregateKind, aggregateID string) []generic.Entry {
	k := entryKey{Kind: kind, AggregateID: aggregateID}
	result := make([]generic.Entry, len(m.entries[k]))
	copy(result, m.entries[k])
	return result
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func (m *Memory) GetDocument(_ context.Context, kind generic.DocumentKind, id string) (generic.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(kind, id)
}

func (m *Memory) getLocked(kind generic.DocumentKind, id string) (generic.Document, error) {
	doc, ok := m.documents[docKey{Kind: kind, ID: id}]
	if !ok {
		return generic.Document{}, generic.ErrNotFound
	}
	doc.Body = append([]byte(nil), doc.Body...)
	return doc, nil
}

func (m *Memory) PutDocument(_ context.Context, doc generic.Document) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(doc)
}

func (m *Memory) putLocked(doc generic.Document) (int64, error) {
	k := docKey{Kind: doc.Kind, ID: doc.ID}
	current, exists := m.documents[k]
	switch {
	case doc.Version == 0 && exists:
		return 0, generic.ErrConcurrentModification
	case doc.Version != 0 && (!exists || current.Version != doc.Version):
		return 0, generic.ErrConcurrentModification
	}
	doc.Version++
	doc.Body = append([]byte(nil), doc.Body...)
	m.documents[k] = doc
	return doc.Version, nil
}

func (m *Memory) ListDocuments(_ context.Context, kind generic.DocumentKind) ([]generic.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(kind), nil
}

func (m *Memory) listLocked(kind generic.DocumentKind) []generic.Document {
	var docs []generic.Document
	for k, doc := range m.documents {
		if k.Kind == kind {
			doc.Body = append([]byte(nil), doc.Body...)
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	entriesCopy := make(map[entryKey][]generic.Entry, len(tm.entries))
	for k, v := range tm.entries {
		entriesCopy[k] = append([]generic.Entry{}, v...)
	}
	idempCopy := make(map[string]bool, len(tm.idempotency))
	for k, v := range tm.idempotency {
		idempCopy[k] = v
	}
	docsCopy := make(map[docKey]generic.Document, len(tm.documents))
	for k, v := range tm.documents {
		docsCopy[k] = v
	}
	return memorySnapshot{entries: entriesCopy, idempotency: idempCopy, documents: docsCopy}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.entries = s.entries
	tm.idempotency = s.idempotency
	tm.documents = s.documents
}

type memorySnapshot struct {
	entries     map[entryKey][]generic.Entry
	idempotency map[string]bool
	documents   map[docKey]generic.Document
}

// txMemoryView runs with the parent lock already held.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Append(_ context.Context, e generic.Entry) error {
	return tv.parent.appendLocked(e)
}

func (tv *txMemoryView) Load(_ context.Context, kind generic.AggregateKind, aggregateID string) ([]generic.Entry, error) {
	return tv.parent.loadLocked(kind, aggregateID), nil
}

func (tv *txMemoryView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idempotencyKey], nil
}

func (tv *txMemoryView) GetDocument(_ context.Context, kind generic.DocumentKind, id string) (generic.Document, error) {
	return tv.parent.getLocked(kind, id)
}

func (tv *txMemoryView) PutDocument(_ context.Context, doc generic.Document) (int64, error) {
	return tv.parent.putLocked(doc)
}

func (tv *txMemoryView) ListDocuments(_ context.Context, kind generic.DocumentKind) ([]generic.Document, error) {
	return tv.parent.listLocked(kind), nil
}

var (
	_ generic.TxStore = (*TxMemory)(nil)
	_ generic.Store   = (*txMemoryView)(nil)
)
