// Copyright 2025 Certen Protocol
//
// Mates Repository - persistence for the peer registry (SPEC_FULL §3.1).
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rainbow-dsp/connector/pkg/mates"
)

// MatesRepository implements mates.Store over *sql.DB.
type MatesRepository struct {
	db *sql.DB
}

// NewMatesRepository creates a new mates repository.
func NewMatesRepository(db *sql.DB) *MatesRepository {
	return &MatesRepository{db: db}
}

func (r *MatesRepository) Get(ctx context.Context, participantID string) (*mates.Mate, error) {
	return r.scanOne(ctx, `
		SELECT participant_id, base_url, token, updated_at FROM mates WHERE participant_id = $1`, participantID)
}

func (r *MatesRepository) GetByToken(ctx context.Context, token string) (*mates.Mate, error) {
	return r.scanOne(ctx, `
		SELECT participant_id, base_url, token, updated_at FROM mates WHERE token = $1`, token)
}

func (r *MatesRepository) scanOne(ctx context.Context, query string, arg string) (*mates.Mate, error) {
	var m mates.Mate
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&m.ParticipantID, &m.BaseURL, &m.Token, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find mate: %w", err)
	}
	return &m, nil
}

func (r *MatesRepository) List(ctx context.Context) ([]*mates.Mate, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT participant_id, base_url, token, updated_at FROM mates`)
	if err != nil {
		return nil, fmt.Errorf("list mates: %w", err)
	}
	defer rows.Close()

	var out []*mates.Mate
	for rows.Next() {
		var m mates.Mate
		if err := rows.Scan(&m.ParticipantID, &m.BaseURL, &m.Token, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan mate: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *MatesRepository) Upsert(ctx context.Context, m *mates.Mate) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mates (participant_id, base_url, token, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (participant_id) DO UPDATE SET base_url = $2, token = $3, updated_at = now()`,
		m.ParticipantID, m.BaseURL, m.Token)
	if err != nil {
		return fmt.Errorf("upsert mate: %w", err)
	}
	return nil
}
