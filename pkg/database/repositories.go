// Copyright 2025 Certen Protocol
//
// Repositories - Convenience wrapper for all database repositories
// Provides a single point of access to all repository types

package database

// Repositories holds all repository instances the connector needs.
type Repositories struct {
	Negotiations  *NegotiationRepository
	Transfers     *TransferRepository
	Mates         *MatesRepository
	Notifications *NotificationRepository
}

// NewRepositories creates all repositories with the given client.
func NewRepositories(client *Client) *Repositories {
	db := client.DB()
	return &Repositories{
		Negotiations:  NewNegotiationRepository(db),
		Transfers:     NewTransferRepository(db),
		Mates:         NewMatesRepository(db),
		Notifications: NewNotificationRepository(db),
	}
}
