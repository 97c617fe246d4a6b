// Copyright 2025 Certen Protocol
package mates

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry_RefreshAndResolve(t *testing.T) {
	store := NewMemstore()
	ctx := context.Background()

	if err := store.Upsert(ctx, &Mate{ParticipantID: "peer-a", BaseURL: "https://a.example", Token: "token-a"}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	reg := New(store)
	if err := reg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	m, err := reg.Resolve(ctx, "peer-a")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.BaseURL != "https://a.example" {
		t.Errorf("expected base URL https://a.example, got %s", m.BaseURL)
	}

	byToken, err := reg.ResolveToken(ctx, "token-a")
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if byToken.ParticipantID != "peer-a" {
		t.Errorf("expected peer-a, got %s", byToken.ParticipantID)
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	reg := New(NewMemstore())
	ctx := context.Background()

	if _, err := reg.Resolve(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := reg.ResolveToken(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_UpsertUpdatesCacheWithoutRefresh(t *testing.T) {
	store := NewMemstore()
	reg := New(store)
	ctx := context.Background()

	if err := reg.Upsert(ctx, &Mate{ParticipantID: "peer-b", BaseURL: "https://b.example", Token: "token-b"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	m, err := reg.Resolve(ctx, "peer-b")
	if err != nil {
		t.Fatalf("Resolve after Upsert: %v", err)
	}
	if m.Token != "token-b" {
		t.Errorf("expected token-b, got %s", m.Token)
	}

	byToken, err := reg.ResolveToken(ctx, "token-b")
	if err != nil {
		t.Fatalf("ResolveToken after Upsert: %v", err)
	}
	if byToken.ParticipantID != "peer-b" {
		t.Errorf("expected peer-b, got %s", byToken.ParticipantID)
	}
}

func TestRegistry_ResolveOnCacheMissFallsThroughToStore(t *testing.T) {
	store := NewMemstore()
	ctx := context.Background()
	if err := store.Upsert(ctx, &Mate{ParticipantID: "peer-c", BaseURL: "https://c.example", Token: "token-c"}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	// No Refresh call: the registry's cache starts empty, so Resolve must
	// fall through to the store on a miss (SPEC_FULL §3.1).
	reg := New(store)
	m, err := reg.Resolve(ctx, "peer-c")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.ParticipantID != "peer-c" {
		t.Errorf("expected peer-c, got %s", m.ParticipantID)
	}
}
