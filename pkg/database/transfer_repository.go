// Copyright 2025 Certen Protocol
//
// Transfer Repository - persistence for the Transfer Process state machine.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rainbow-dsp/connector/pkg/transfer"
)

// TransferRepository implements transfer.Store over *sql.DB.
type TransferRepository struct {
	db *sql.DB
}

// NewTransferRepository creates a new transfer repository.
func NewTransferRepository(db *sql.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) FindByProviderPid(ctx context.Context, pid string) (*transfer.Process, error) {
	return r.findBy(ctx, "provider_pid", pid)
}

func (r *TransferRepository) FindByConsumerPid(ctx context.Context, pid string) (*transfer.Process, error) {
	return r.findBy(ctx, "consumer_pid", pid)
}

func (r *TransferRepository) findBy(ctx context.Context, column, value string) (*transfer.Process, error) {
	query := fmt.Sprintf(`
		SELECT id, provider_pid, consumer_pid, role, initiator, associated_peer,
		       callback_address, agreement_id, format, data_address, state, revision, created_at, updated_at
		FROM transfer_processes WHERE %s = $1`, column)

	var p transfer.Process
	var providerPid, consumerPid sql.NullString
	var dataAddress []byte
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&p.ID, &providerPid, &consumerPid, &p.Role, &p.Initiator, &p.AssociatedPeer,
		&p.CallbackAddress, &p.AgreementID, &p.Format, &dataAddress, &p.State, &p.Revision, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find process by %s: %w", column, err)
	}
	p.ProviderPid = providerPid.String
	p.ConsumerPid = consumerPid.String
	if dataAddress != nil {
		p.DataAddress = json.RawMessage(dataAddress)
	}
	return &p, nil
}

func (r *TransferRepository) CreateProcess(ctx context.Context, p *transfer.Process, firstMessage *transfer.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transfer_processes
			(id, provider_pid, consumer_pid, role, initiator, associated_peer, callback_address, agreement_id, format, data_address, state, revision, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $12)`,
		p.ID, p.ProviderPid, p.ConsumerPid, p.Role, p.Initiator, p.AssociatedPeer, p.CallbackAddress,
		p.AgreementID, p.Format, nullableJSON(p.DataAddress), p.State, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert process: %w", err)
	}

	if err := insertTransferMessage(ctx, tx, firstMessage); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	p.Revision = 1
	return nil
}

func (r *TransferRepository) ApplyTransition(ctx context.Context, p *transfer.Process, msg *transfer.Message, newPid *transfer.IdentifierBinding) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE transfer_processes
		SET provider_pid = COALESCE(provider_pid, NULLIF($1,'')),
		    consumer_pid = COALESCE(consumer_pid, NULLIF($2,'')),
		    data_address = COALESCE($3, data_address),
		    state = $4, revision = $5, updated_at = $6
		WHERE id = $7 AND revision = $5 - 1`,
		p.ProviderPid, p.ConsumerPid, nullableJSON(p.DataAddress), p.State, p.Revision, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update process: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return transfer.ErrConflict
	}

	if err := insertTransferMessage(ctx, tx, msg); err != nil {
		return err
	}

	if newPid != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transfer_identifier_bindings (process_id, key, value) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`, p.ID, newPid.Key, newPid.Value); err != nil {
			return fmt.Errorf("insert identifier binding: %w", err)
		}
	}

	return tx.Commit()
}

func (r *TransferRepository) Messages(ctx context.Context, processID uuid.UUID) ([]*transfer.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, process_id, direction, type, from_role, to_role, from_state, to_state, raw, created_at
		FROM transfer_messages WHERE process_id = $1 ORDER BY created_at ASC`, processID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*transfer.Message
	for rows.Next() {
		var m transfer.Message
		var raw []byte
		if err := rows.Scan(&m.ID, &m.ProcessID, &m.Direction, &m.Type, &m.FromRole, &m.ToRole, &m.FromState, &m.ToState, &raw, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Raw = json.RawMessage(raw)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func insertTransferMessage(ctx context.Context, tx *sql.Tx, msg *transfer.Message) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transfer_messages (id, process_id, direction, type, from_role, to_role, from_state, to_state, raw, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, msg.ProcessID, msg.Direction, msg.Type, msg.FromRole, msg.ToRole, msg.FromState, msg.ToState, []byte(msg.Raw), msg.Timestamp)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
