// Copyright 2025 Certen Protocol
//
// Integration tests for NegotiationRepository.
// Uses a test database or skips entirely, mirroring the teacher's
// proof-artifact repository tests.

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/rainbow-dsp/connector/pkg/corestate"
	"github.com/rainbow-dsp/connector/pkg/negotiation"
)

var negTestDB *sql.DB

func TestMain(m *testing.M) {
	connStr := os.Getenv("CONNECTOR_TEST_DB")
	if connStr == "" {
		os.Exit(0)
	}

	var err error
	negTestDB, err = sql.Open("postgres", connStr)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}

	code := m.Run()
	negTestDB.Close()
	os.Exit(code)
}

func TestNegotiationRepository_CreateAndFind(t *testing.T) {
	if negTestDB == nil {
		t.Skip("test database not configured")
	}

	repo := NewNegotiationRepository(negTestDB)
	ctx := context.Background()

	proc := &negotiation.Process{
		ID:             uuid.New(),
		ProviderPid:    "urn:uuid:" + uuid.New().String(),
		Role:           corestate.RoleProvider,
		Initiator:      corestate.RoleConsumer,
		AssociatedPeer: "test-consumer",
		State:          negotiation.StateRequested,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	msg := &negotiation.Message{
		ID:        uuid.New(),
		ProcessID: proc.ID,
		Direction: corestate.DirectionInbound,
		Type:      negotiation.MsgContractRequest,
		FromRole:  corestate.RoleConsumer,
		ToRole:    corestate.RoleProvider,
		ToState:   negotiation.StateRequested,
		Raw:       json.RawMessage(`{"@type":"ContractRequestMessage"}`),
		Timestamp: time.Now(),
	}

	if err := repo.CreateProcess(ctx, proc, msg); err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	defer func() {
		_, _ = negTestDB.ExecContext(ctx, "DELETE FROM negotiation_processes WHERE id = $1", proc.ID)
	}()

	found, err := repo.FindByProviderPid(ctx, proc.ProviderPid)
	if err != nil {
		t.Fatalf("FindByProviderPid: %v", err)
	}
	if found == nil {
		t.Fatal("expected to find the created process")
	}
	if found.State != negotiation.StateRequested {
		t.Errorf("expected state %s, got %s", negotiation.StateRequested, found.State)
	}
	if found.Revision != 1 {
		t.Errorf("expected initial revision 1, got %d", found.Revision)
	}

	msgs, err := repo.Messages(ctx, proc.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestNegotiationRepository_ApplyTransitionConflict(t *testing.T) {
	if negTestDB == nil {
		t.Skip("test database not configured")
	}

	repo := NewNegotiationRepository(negTestDB)
	ctx := context.Background()

	proc := &negotiation.Process{
		ID:             uuid.New(),
		ProviderPid:    "urn:uuid:" + uuid.New().String(),
		Role:           corestate.RoleProvider,
		Initiator:      corestate.RoleConsumer,
		AssociatedPeer: "test-consumer",
		State:          negotiation.StateRequested,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := repo.CreateProcess(ctx, proc, &negotiation.Message{
		ID: uuid.New(), ProcessID: proc.ID, ToState: negotiation.StateRequested,
		Raw: json.RawMessage(`{}`), Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	defer func() {
		_, _ = negTestDB.ExecContext(ctx, "DELETE FROM negotiation_processes WHERE id = $1", proc.ID)
	}()

	// Stale revision must be rejected.
	stale := *proc
	stale.Revision = 5
	stale.State = negotiation.StateOffered
	err := repo.ApplyTransition(ctx, &stale, &negotiation.Message{
		ID: uuid.New(), ProcessID: proc.ID, ToState: negotiation.StateOffered,
		Raw: json.RawMessage(`{}`), Timestamp: time.Now(),
	}, nil, nil, nil)
	if err != negotiation.ErrConflict {
		t.Fatalf("expected ErrConflict on stale revision, got %v", err)
	}
}
