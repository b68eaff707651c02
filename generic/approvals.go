package generic

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Approvals persists approval chains as versioned documents. Build one over
// a transaction view to make a decision atomic with its consequences.
type Approvals struct {
	Store DocumentStore
}

func NewApprovals(store DocumentStore) *Approvals {
	return &Approvals{Store: store}
}

// Open creates and stores a pending chain for subject.
func (a *Approvals) Open(ctx context.Context, subject ApprovalSubject, roles ...string) (*ApprovalChain, error) {
	chain, err := NewApprovalChain(uuid.NewString(), subject, roles...)
	if err != nil {
		return nil, err
	}
	if _, err := PutJSON(ctx, a.Store, KindApprovalChain, chain.ID, 0, chain); err != nil {
		return nil, err
	}
	return chain, nil
}

func (a *Approvals) Get(ctx context.Context, id string) (*ApprovalChain, error) {
	var chain ApprovalChain
	if _, err := GetJSON(ctx, a.Store, KindApprovalChain, id, &chain); err != nil {
		return nil, err
	}
	return &chain, nil
}

// Decide records a decision on the chain's current step.
func (a *Approvals) Decide(ctx context.Context, id string, actor Actor, decision ApprovalDecision, comment string, at time.Time) (*ApprovalChain, error) {
	return a.update(ctx, id, func(c *ApprovalChain) error {
		return c.Decide(actor, decision, comment, at)
	})
}

func (a *Approvals) Cancel(ctx context.Context, id string) (*ApprovalChain, error) {
	return a.update(ctx, id, func(c *ApprovalChain) error { return c.Cancel() })
}

// ForSubject lists the chains opened for one record, in ID order.
func (a *Approvals) ForSubject(ctx context.Context, kind ApprovableKind, subjectID string) ([]ApprovalChain, error) {
	var out []ApprovalChain
	err := ListJSON(ctx, a.Store, KindApprovalChain, func(doc Document) error {
		var c ApprovalChain
		if err := json.Unmarshal(doc.Body, &c); err != nil {
			return err
		}
		if c.Subject.Kind == kind && c.Subject.ID == subjectID {
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

func (a *Approvals) update(ctx context.Context, id string, fn func(*ApprovalChain) error) (*ApprovalChain, error) {
	var chain ApprovalChain
	version, err := GetJSON(ctx, a.Store, KindApprovalChain, id, &chain)
	if err != nil {
		return nil, err
	}
	if err := fn(&chain); err != nil {
		return nil, err
	}
	if _, err := PutJSON(ctx, a.Store, KindApprovalChain, id, version, &chain); err != nil {
		return nil, err
	}
	return &chain, nil
}
