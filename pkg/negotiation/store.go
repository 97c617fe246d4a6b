// Copyright 2025 Certen Protocol
package negotiation

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence contract the orchestrator depends on. The
// Postgres-backed implementation lives in pkg/database; an in-memory
// implementation (memstore.go) backs tests, per SPEC_FULL §8.
type Store interface {
	// FindByProviderPid and FindByConsumerPid look a process up by one of
	// its two identifiers. Both return (nil, nil) when not found.
	FindByProviderPid(ctx context.Context, pid string) (*Process, error)
	FindByConsumerPid(ctx context.Context, pid string) (*Process, error)

	// CreateProcess atomically inserts a new process row and its first
	// message row. If the process's identifier pair already exists, the
	// in-memory store fails with ErrConflict; the Postgres store returns
	// the wrapped driver error.
	CreateProcess(ctx context.Context, p *Process, firstMessage *Message) error

	// ApplyTransition atomically advances an existing process: updates its
	// state (optimistic concurrency on Revision), appends msg, and
	// optionally inserts offer/agreement rows and an identifier binding.
	// It fails with ErrConflict if p.Revision no longer matches the stored
	// row (lost the race to a concurrent writer, spec.md §5 scenario E).
	ApplyTransition(ctx context.Context, p *Process, msg *Message, offer *Offer, agreement *Agreement, newPid *IdentifierBinding) error

	// ActivateAgreement sets the active flag on the process's agreement.
	// It is a write of its own: the orchestrators call it after the
	// VERIFIED transition's ApplyTransition has committed, not inside it.
	ActivateAgreement(ctx context.Context, processID uuid.UUID) error

	// Messages returns every message row for a process, in append order.
	Messages(ctx context.Context, processID uuid.UUID) ([]*Message, error)

	// OfferCount returns how many offers have been recorded for a process,
	// used to enforce the per-process offer cap (SPEC_FULL §9).
	OfferCount(ctx context.Context, processID uuid.UUID) (int, error)

	// Agreement returns the process's agreement row, or nil if none exists.
	Agreement(ctx context.Context, processID uuid.UUID) (*Agreement, error)
}

// IdentifierBinding records that a (key, value) pid pair belongs to a
// process, per spec.md §3.
type IdentifierBinding struct {
	ProcessID uuid.UUID
	Key       string // "providerPid" or "consumerPid"
	Value     string
}

// ErrConflict is returned by Store methods when an optimistic-concurrency
// check fails: a concurrent writer already advanced the row, or the
// identifier pair already exists.
var ErrConflict = &storeError{"conflicting write"}

type storeError struct{ msg string }

func (e *storeError) Error() string { return e.msg }
