// Copyright 2025 Certen Protocol
//
// Negotiation Repository - persistence for the Contract Negotiation state
// machine, adapted from the request repository's raw-SQL idiom.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rainbow-dsp/connector/pkg/negotiation"
)

// NegotiationRepository implements negotiation.Store over *sql.DB.
type NegotiationRepository struct {
	db *sql.DB
}

// NewNegotiationRepository creates a new negotiation repository.
func NewNegotiationRepository(db *sql.DB) *NegotiationRepository {
	return &NegotiationRepository{db: db}
}

func (r *NegotiationRepository) FindByProviderPid(ctx context.Context, pid string) (*negotiation.Process, error) {
	return r.findBy(ctx, "provider_pid", pid)
}

func (r *NegotiationRepository) FindByConsumerPid(ctx context.Context, pid string) (*negotiation.Process, error) {
	return r.findBy(ctx, "consumer_pid", pid)
}

func (r *NegotiationRepository) findBy(ctx context.Context, column, value string) (*negotiation.Process, error) {
	query := fmt.Sprintf(`
		SELECT id, provider_pid, consumer_pid, role, initiator, associated_peer,
		       callback_address, state, revision, created_at, updated_at
		FROM negotiation_processes WHERE %s = $1`, column)

	var p negotiation.Process
	var providerPid, consumerPid sql.NullString
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&p.ID, &providerPid, &consumerPid, &p.Role, &p.Initiator, &p.AssociatedPeer,
		&p.CallbackAddress, &p.State, &p.Revision, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find process by %s: %w", column, err)
	}
	p.ProviderPid = providerPid.String
	p.ConsumerPid = consumerPid.String
	return &p, nil
}

func (r *NegotiationRepository) CreateProcess(ctx context.Context, p *negotiation.Process, firstMessage *negotiation.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO negotiation_processes
			(id, provider_pid, consumer_pid, role, initiator, associated_peer, callback_address, state, revision, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), $4, $5, $6, $7, $8, 1, $9, $9)`,
		p.ID, p.ProviderPid, p.ConsumerPid, p.Role, p.Initiator, p.AssociatedPeer, p.CallbackAddress, p.State, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert process: %w", err)
	}

	if err := insertNegotiationMessage(ctx, tx, firstMessage); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	p.Revision = 1
	return nil
}

func (r *NegotiationRepository) ApplyTransition(ctx context.Context, p *negotiation.Process, msg *negotiation.Message, offer *negotiation.Offer, agreement *negotiation.Agreement, newPid *negotiation.IdentifierBinding) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE negotiation_processes
		SET provider_pid = COALESCE(provider_pid, NULLIF($1,'')),
		    consumer_pid = COALESCE(consumer_pid, NULLIF($2,'')),
		    state = $3, revision = $4, updated_at = $5
		WHERE id = $6 AND revision = $4 - 1`,
		p.ProviderPid, p.ConsumerPid, p.State, p.Revision, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update process: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return negotiation.ErrConflict
	}

	if err := insertNegotiationMessage(ctx, tx, msg); err != nil {
		return err
	}

	if offer != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO negotiation_offers (id, process_id, message_id, offer_id, content, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			offer.ID, p.ID, offer.MessageID, offer.OfferID, []byte(offer.Content), offer.CreatedAt); err != nil {
			return fmt.Errorf("insert offer: %w", err)
		}
	}

	if agreement != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO negotiation_agreements (id, process_id, message_id, consumer_participant, provider_participant, content, target_dataset, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			agreement.ID, p.ID, agreement.MessageID, agreement.ConsumerParticipant, agreement.ProviderParticipant, []byte(agreement.Content), agreement.TargetDataset, agreement.CreatedAt); err != nil {
			return fmt.Errorf("insert agreement: %w", err)
		}
	}

	if newPid != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO negotiation_identifier_bindings (process_id, key, value) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`, p.ID, newPid.Key, newPid.Value); err != nil {
			return fmt.Errorf("insert identifier binding: %w", err)
		}
	}

	return tx.Commit()
}

func (r *NegotiationRepository) ActivateAgreement(ctx context.Context, processID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE negotiation_agreements SET active = true, activated_at = now() WHERE process_id = $1`, processID)
	if err != nil {
		return fmt.Errorf("activate agreement: %w", err)
	}
	return nil
}

func (r *NegotiationRepository) Messages(ctx context.Context, processID uuid.UUID) ([]*negotiation.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, process_id, direction, type, from_role, to_role, from_state, to_state, raw, created_at
		FROM negotiation_messages WHERE process_id = $1 ORDER BY created_at ASC`, processID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*negotiation.Message
	for rows.Next() {
		var m negotiation.Message
		var raw []byte
		if err := rows.Scan(&m.ID, &m.ProcessID, &m.Direction, &m.Type, &m.FromRole, &m.ToRole, &m.FromState, &m.ToState, &raw, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Raw = json.RawMessage(raw)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *NegotiationRepository) OfferCount(ctx context.Context, processID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM negotiation_offers WHERE process_id = $1`, processID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count offers: %w", err)
	}
	return count, nil
}

func (r *NegotiationRepository) Agreement(ctx context.Context, processID uuid.UUID) (*negotiation.Agreement, error) {
	var a negotiation.Agreement
	var content []byte
	var targetDataset sql.NullString
	var activatedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, process_id, message_id, consumer_participant, provider_participant, content, target_dataset, active, created_at, activated_at
		FROM negotiation_agreements WHERE process_id = $1`, processID).Scan(
		&a.ID, &a.ProcessID, &a.MessageID, &a.ConsumerParticipant, &a.ProviderParticipant, &content,
		&targetDataset, &a.Active, &a.CreatedAt, &activatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find agreement: %w", err)
	}
	a.Content = json.RawMessage(content)
	a.TargetDataset = targetDataset.String
	if activatedAt.Valid {
		a.ActivatedAt = &activatedAt.Time
	}
	return &a, nil
}

func insertNegotiationMessage(ctx context.Context, tx *sql.Tx, msg *negotiation.Message) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO negotiation_messages (id, process_id, direction, type, from_role, to_role, from_state, to_state, raw, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, msg.ProcessID, msg.Direction, msg.Type, msg.FromRole, msg.ToRole, msg.FromState, msg.ToState, []byte(msg.Raw), msg.Timestamp)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}
