package mates

import (
	"context"
	"sync"
)

// Memstore is an in-memory Store used by tests.
type Memstore struct {
	mu    sync.Mutex
	mates map[string]*Mate
}

// NewMemstore returns an empty Memstore.
func NewMemstore() *Memstore {
	return &Memstore{mates: make(map[string]*Mate)}
}

func (m *Memstore) Get(ctx context.Context, participantID string) (*Mate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mates[participantID], nil
}

func (m *Memstore) GetByToken(ctx context.Context, token string) (*Mate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mate := range m.mates {
		if mate.Token == token {
			return mate, nil
		}
	}
	return nil, nil
}

func (m *Memstore) List(ctx context.Context) ([]*Mate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Mate, 0, len(m.mates))
	for _, mate := range m.mates {
		out = append(out, mate)
	}
	return out, nil
}

func (m *Memstore) Upsert(ctx context.Context, mate *Mate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mates[mate.ParticipantID] = mate
	return nil
}
