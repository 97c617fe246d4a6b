package negotiation

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memstore is an in-memory Store used by orchestrator and RPC tests. It is
// not used in production; pkg/database holds the Postgres-backed Store.
type Memstore struct {
	mu         sync.Mutex
	byProvider map[string]*Process
	byConsumer map[string]*Process
	messages   map[uuid.UUID][]*Message
	offers     map[uuid.UUID][]*Offer
	agreements map[uuid.UUID]*Agreement
}

// NewMemstore returns an empty Memstore.
func NewMemstore() *Memstore {
	return &Memstore{
		byProvider: make(map[string]*Process),
		byConsumer: make(map[string]*Process),
		messages:   make(map[uuid.UUID][]*Message),
		offers:     make(map[uuid.UUID][]*Offer),
		agreements: make(map[uuid.UUID]*Agreement),
	}
}

func (m *Memstore) FindByProviderPid(ctx context.Context, pid string) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byProvider[pid]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *Memstore) FindByConsumerPid(ctx context.Context, pid string) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byConsumer[pid]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *Memstore) CreateProcess(ctx context.Context, p *Process, firstMessage *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ProviderPid != "" {
		if _, exists := m.byProvider[p.ProviderPid]; exists {
			return ErrConflict
		}
	}
	if p.ConsumerPid != "" {
		if _, exists := m.byConsumer[p.ConsumerPid]; exists {
			return ErrConflict
		}
	}

	p.Revision = 1
	cp := *p
	if p.ProviderPid != "" {
		m.byProvider[p.ProviderPid] = &cp
	}
	if p.ConsumerPid != "" {
		m.byConsumer[p.ConsumerPid] = &cp
	}
	m.messages[p.ID] = append(m.messages[p.ID], firstMessage)
	return nil
}

func (m *Memstore) ApplyTransition(ctx context.Context, p *Process, msg *Message, offer *Offer, agreement *Agreement, newPid *IdentifierBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.byProvider[p.ProviderPid]
	if !ok {
		existing, ok = m.byConsumer[p.ConsumerPid]
	}
	if !ok || existing.Revision != p.Revision-1 {
		if ok && existing.Revision != p.Revision-1 {
			return ErrConflict
		}
	}

	if newPid != nil {
		if newPid.Key == "providerPid" {
			p.ProviderPid = newPid.Value
		} else {
			p.ConsumerPid = newPid.Value
		}
	}

	cp := *p
	if p.ProviderPid != "" {
		m.byProvider[p.ProviderPid] = &cp
	}
	if p.ConsumerPid != "" {
		m.byConsumer[p.ConsumerPid] = &cp
	}
	m.messages[p.ID] = append(m.messages[p.ID], msg)
	if offer != nil {
		m.offers[p.ID] = append(m.offers[p.ID], offer)
	}
	if agreement != nil {
		m.agreements[p.ID] = agreement
	}
	return nil
}

func (m *Memstore) ActivateAgreement(ctx context.Context, processID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[processID]
	if !ok {
		return ErrConflict
	}
	a.Active = true
	return nil
}

func (m *Memstore) Messages(ctx context.Context, processID uuid.UUID) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Message(nil), m.messages[processID]...), nil
}

func (m *Memstore) OfferCount(ctx context.Context, processID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.offers[processID]), nil
}

func (m *Memstore) Agreement(ctx context.Context, processID uuid.UUID) (*Agreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[processID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}
