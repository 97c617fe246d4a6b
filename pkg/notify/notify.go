// Copyright 2025 Certen Protocol
//
// Package notify implements the connector's notification fan-out: every
// accepted inbound or outbound message emits one notification (spec.md
// §4.3 step 8, §4.4 step 6). Delivery is best-effort and never blocks or
// fails the caller's request; see SPEC_FULL.md §3.2 and §5.
package notify

import (
	"context"
	"log"
	"sync"
)

// Category names which engine raised the notification.
type Category string

const (
	CategoryNegotiation Category = "negotiation"
	CategoryTransfer    Category = "transfer"
)

// Operation names why the notification was raised.
type Operation string

const (
	OperationIncomingMessage Operation = "IncomingMessage"
	OperationOutgoingMessage Operation = "OutgoingMessage"
)

// Notification is the payload broadcast on every accepted transition.
type Notification struct {
	Category    Category    `json:"category"`
	Operation   Operation   `json:"operation"`
	ProcessID   string      `json:"processId"`
	ProviderPid string      `json:"providerPid,omitempty"`
	ConsumerPid string      `json:"consumerPid,omitempty"`
	MessageType string      `json:"messageType"`
	State       string      `json:"state"`
	Payload     interface{} `json:"payload,omitempty"`
}

// Sink receives every emitted notification. Implementations must not block
// for long; the Bus already isolates callers from slow sinks via its own
// worker pool.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// Subscription is a registered callback target, per the
// notification_subscriptions table (SPEC_FULL §3.2).
type Subscription struct {
	ID          string
	Category    Category
	CallbackURL string
}

// SubscriptionStore backs the notification_subscriptions table.
type SubscriptionStore interface {
	List(ctx context.Context, category Category) ([]Subscription, error)
}

// Bus fans notifications out to a bounded worker pool so that a stalled
// subscriber cannot block the caller past enqueue (spec.md §5, "notification
// broadcast suspends until fan-out enqueue completes").
type Bus struct {
	subs    SubscriptionStore
	sinks   []Sink
	queue   chan Notification
	logger  *log.Logger
	wg      sync.WaitGroup
	closeCh chan struct{}
}

// New builds a Bus with the given worker count and extra sinks (e.g. a
// FirestoreSink). subs may be nil when HTTP callback fan-out is not needed.
func New(subs SubscriptionStore, workers int, logger *log.Logger, sinks ...Sink) *Bus {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Notify] ", log.LstdFlags)
	}

	b := &Bus{
		subs:    subs,
		sinks:   sinks,
		queue:   make(chan Notification, 256),
		logger:  logger,
		closeCh: make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

// Emit enqueues a notification for best-effort delivery. It never returns an
// error to the caller; delivery failures are logged only.
func (b *Bus) Emit(n Notification) {
	select {
	case b.queue <- n:
	default:
		b.logger.Printf("notification queue full, dropping category=%s operation=%s processId=%s", n.Category, n.Operation, n.ProcessID)
	}
}

// Close stops accepting new work and waits for in-flight deliveries to
// drain.
func (b *Bus) Close() {
	close(b.closeCh)
	close(b.queue)
	b.wg.Wait()
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for n := range b.queue {
		b.deliver(n)
	}
}

func (b *Bus) deliver(n Notification) {
	ctx := context.Background()

	for _, sink := range b.sinks {
		if err := sink.Deliver(ctx, n); err != nil {
			b.logger.Printf("sink delivery failed category=%s processId=%s: %v", n.Category, n.ProcessID, err)
		}
	}

	if b.subs == nil {
		return
	}
	subs, err := b.subs.List(ctx, n.Category)
	if err != nil {
		b.logger.Printf("failed to list subscribers for category=%s: %v", n.Category, err)
		return
	}
	for _, sub := range subs {
		if err := deliverHTTP(ctx, sub.CallbackURL, n); err != nil {
			b.logger.Printf("callback delivery failed subscription=%s: %v", sub.ID, err)
		}
	}
}
