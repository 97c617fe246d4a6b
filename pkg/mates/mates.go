// Copyright 2025 Certen Protocol
//
// Package mates implements the Mates registry: the mapping from a peer
// participant id to its base URL and bearer token, used both to resolve an
// inbound caller's token to a participant and to address outbound calls.
// See SPEC_FULL.md §3.1.
package mates

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a participant or token has no registry entry.
var ErrNotFound = errors.New("mates: not found")

// Mate is a single registry entry.
type Mate struct {
	ParticipantID string
	BaseURL       string
	Token         string
	UpdatedAt     time.Time
}

// Store is the persistence contract backing the registry.
type Store interface {
	Get(ctx context.Context, participantID string) (*Mate, error)
	GetByToken(ctx context.Context, token string) (*Mate, error)
	List(ctx context.Context) ([]*Mate, error)
	Upsert(ctx context.Context, m *Mate) error
}

// Registry is a read-mostly, in-process cache over Store, guarded by a
// single sync.RWMutex as described in spec.md §5 ("the Mates registry cache
// is read-mostly; writes are serialized by its own internal lock and are
// rare").
type Registry struct {
	mu    sync.RWMutex
	store Store

	byParticipant map[string]*Mate
	byToken       map[string]*Mate
}

// New builds a Registry backed by store. Call Refresh once at startup to
// warm the cache.
func New(store Store) *Registry {
	return &Registry{
		store:         store,
		byParticipant: make(map[string]*Mate),
		byToken:       make(map[string]*Mate),
	}
}

// Refresh reloads the entire registry from the store. The store is read
// without the lock; the write lock is held only to swap in the new maps.
func (r *Registry) Refresh(ctx context.Context) error {
	mates, err := r.store.List(ctx)
	if err != nil {
		return err
	}

	byParticipant := make(map[string]*Mate, len(mates))
	byToken := make(map[string]*Mate, len(mates))
	for _, m := range mates {
		byParticipant[m.ParticipantID] = m
		if m.Token != "" {
			byToken[m.Token] = m
		}
	}

	r.mu.Lock()
	r.byParticipant = byParticipant
	r.byToken = byToken
	r.mu.Unlock()
	return nil
}

// ResolveToken resolves a bearer token to its owning participant, consulting
// the store on a cache miss before failing (a newly-registered mate should
// not require a full Refresh to become usable).
func (r *Registry) ResolveToken(ctx context.Context, token string) (*Mate, error) {
	r.mu.RLock()
	m, ok := r.byToken[token]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	m, err := r.store.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if m == nil {
		return nil, ErrNotFound
	}

	r.mu.Lock()
	r.byToken[token] = m
	r.byParticipant[m.ParticipantID] = m
	r.mu.Unlock()
	return m, nil
}

// Resolve returns the registry entry for a participant id.
func (r *Registry) Resolve(ctx context.Context, participantID string) (*Mate, error) {
	r.mu.RLock()
	m, ok := r.byParticipant[participantID]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	m, err := r.store.Get(ctx, participantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if m == nil {
		return nil, ErrNotFound
	}

	r.mu.Lock()
	r.byParticipant[participantID] = m
	if m.Token != "" {
		r.byToken[m.Token] = m
	}
	r.mu.Unlock()
	return m, nil
}

// Upsert writes through to the store and updates the cache under the write
// lock.
func (r *Registry) Upsert(ctx context.Context, m *Mate) error {
	if err := r.store.Upsert(ctx, m); err != nil {
		return err
	}
	r.mu.Lock()
	r.byParticipant[m.ParticipantID] = m
	if m.Token != "" {
		r.byToken[m.Token] = m
	}
	r.mu.Unlock()
	return nil
}
