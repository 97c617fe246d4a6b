// Copyright 2025 Certen Protocol
//
// DataPlane is the boundary between the transfer orchestrator and the
// facade that actually moves bytes (spec.md §4.5). The core never touches
// data; it only calls these hooks and embeds whatever descriptor they
// return in the outbound wire message and the caller's acknowledgement.
package transfer

import (
	"context"
	"encoding/json"
)

// DataPlane exposes the five hook points the transfer orchestrator calls,
// each keyed by the provider-side pid only.
type DataPlane interface {
	OnTransferRequest(ctx context.Context, providerPid string) error
	OnTransferStart(ctx context.Context, providerPid string) (dataAddress json.RawMessage, err error)
	OnTransferSuspension(ctx context.Context, providerPid string) error
	OnTransferCompletion(ctx context.Context, providerPid string) error
	OnTransferTermination(ctx context.Context, providerPid string) error
}

// NoopDataPlane is the default DataPlane: it accepts every hook and returns
// an empty data address. Used in tests and until a real data-plane facade
// is wired in by the deployment (SPEC_FULL §4.5).
type NoopDataPlane struct{}

func (NoopDataPlane) OnTransferRequest(ctx context.Context, providerPid string) error { return nil }

func (NoopDataPlane) OnTransferStart(ctx context.Context, providerPid string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (NoopDataPlane) OnTransferSuspension(ctx context.Context, providerPid string) error { return nil }

func (NoopDataPlane) OnTransferCompletion(ctx context.Context, providerPid string) error { return nil }

func (NoopDataPlane) OnTransferTermination(ctx context.Context, providerPid string) error { return nil }
