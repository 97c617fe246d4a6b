// Copyright 2025 Certen Protocol
//
// Notification Subscription Repository - backs the notify package's HTTP
// callback fan-out (SPEC_FULL §3.2).
package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/rainbow-dsp/connector/pkg/notify"
)

// NotificationRepository implements notify.SubscriptionStore over *sql.DB.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository creates a new notification subscription repository.
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) List(ctx context.Context, category notify.Category) ([]notify.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, category, callback_url FROM notification_subscriptions WHERE category = $1`, string(category))
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []notify.Subscription
	for rows.Next() {
		var s notify.Subscription
		var category string
		if err := rows.Scan(&s.ID, &category, &s.CallbackURL); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		s.Category = notify.Category(category)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Create registers a new callback subscription.
func (r *NotificationRepository) Create(ctx context.Context, category notify.Category, callbackURL string) (notify.Subscription, error) {
	id := uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_subscriptions (id, category, callback_url, created_at)
		VALUES ($1, $2, $3, now())`, id, string(category), callbackURL)
	if err != nil {
		return notify.Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	return notify.Subscription{ID: id.String(), Category: category, CallbackURL: callbackURL}, nil
}
