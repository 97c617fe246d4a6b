// Copyright 2025 Certen Protocol
package notify

import (
	"context"
	"log"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []Notification
	done chan struct{}
}

func newRecordingSink(expect int) *recordingSink {
	return &recordingSink{done: make(chan struct{}, expect)}
}

func (s *recordingSink) Deliver(ctx context.Context, n Notification) error {
	s.mu.Lock()
	s.got = append(s.got, n)
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func TestBus_EmitDeliversToSinks(t *testing.T) {
	sink := newRecordingSink(1)
	bus := New(nil, 1, log.New(log.Writer(), "[test] ", 0), sink)
	defer bus.Close()

	bus.Emit(Notification{Category: CategoryNegotiation, Operation: OperationIncomingMessage, ProcessID: "p1"})

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != 1 || sink.got[0].ProcessID != "p1" {
		t.Fatalf("expected one delivered notification for p1, got %+v", sink.got)
	}
}

func TestBus_EmitNeverBlocksOnFullQueue(t *testing.T) {
	// A zero-worker-equivalent bus (no sinks draining in time) must still
	// accept Emit calls without blocking the caller, dropping excess work
	// once the bounded queue fills (spec.md §5).
	bus := &Bus{
		queue:   make(chan Notification, 1),
		logger:  log.New(log.Writer(), "[test] ", 0),
		closeCh: make(chan struct{}),
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit(Notification{ProcessID: "overflow"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked past the bounded queue instead of dropping")
	}
}
