package transfer

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence contract the orchestrator depends on.
type Store interface {
	FindByProviderPid(ctx context.Context, pid string) (*Process, error)
	FindByConsumerPid(ctx context.Context, pid string) (*Process, error)

	CreateProcess(ctx context.Context, p *Process, firstMessage *Message) error
	ApplyTransition(ctx context.Context, p *Process, msg *Message, newPid *IdentifierBinding) error
	Messages(ctx context.Context, processID uuid.UUID) ([]*Message, error)
}

// IdentifierBinding records that a (key, value) pid pair belongs to a
// process.
type IdentifierBinding struct {
	ProcessID uuid.UUID
	Key       string
	Value     string
}

// ErrConflict is returned when an optimistic-concurrency check fails.
var ErrConflict = &storeError{"conflicting write"}

type storeError struct{ msg string }

func (e *storeError) Error() string { return e.msg }
