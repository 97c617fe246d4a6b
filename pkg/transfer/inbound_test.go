package transfer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rainbow-dsp/connector/pkg/apierr"
	"github.com/rainbow-dsp/connector/pkg/corestate"
	"github.com/rainbow-dsp/connector/pkg/mates"
	"github.com/rainbow-dsp/connector/pkg/schema"
)

func newTestInbound(t *testing.T) *Inbound {
	t.Helper()
	ms := mates.NewMemstore()
	if err := ms.Upsert(context.Background(), &mates.Mate{ParticipantID: "urn:participant:consumer", BaseURL: "http://consumer.example", Token: "consumer-token"}); err != nil {
		t.Fatalf("seed mate: %v", err)
	}
	registry := mates.New(ms)
	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh registry: %v", err)
	}

	return &Inbound{
		Kernel:    NewKernel(),
		Store:     NewMemstore(),
		Mates:     registry,
		Schemas:   schema.NewBank(),
		DataPlane: NoopDataPlane{},
		SelfRole:  corestate.RoleProvider,
	}
}

func TestInbound_RequestThenStartThenCompletion(t *testing.T) {
	in := newTestInbound(t)
	ctx := context.Background()

	request := json.RawMessage(`{"@context":"https://w3id.org/dspace/2024/1/context.json","@type":"TransferRequestMessage","consumerPid":"urn:uuid:consumer-1","agreementId":"urn:uuid:agreement-1","format":"application/json"}`)
	ack, err := in.Handle(ctx, "", request, "consumer-token")
	if err != nil {
		t.Fatalf("request should succeed: %v", err)
	}
	if ack.State != StateRequested {
		t.Fatalf("expected REQUESTED, got %s", ack.State)
	}
	if ack.ProviderPid == "" {
		t.Fatalf("expected self-assigned providerPid on creation")
	}

	start := json.RawMessage(`{"@context":"https://w3id.org/dspace/2024/1/context.json","@type":"TransferStartMessage","providerPid":"` + ack.ProviderPid + `","consumerPid":"urn:uuid:consumer-1"}`)
	ack, err = in.Handle(ctx, "", start, "consumer-token")
	if err != nil {
		t.Fatalf("start should succeed: %v", err)
	}
	if ack.State != StateStarted {
		t.Fatalf("expected STARTED, got %s", ack.State)
	}

	completion := json.RawMessage(`{"@context":"https://w3id.org/dspace/2024/1/context.json","@type":"TransferCompletionMessage","providerPid":"` + ack.ProviderPid + `","consumerPid":"urn:uuid:consumer-1"}`)
	ack, err = in.Handle(ctx, "", completion, "consumer-token")
	if err != nil {
		t.Fatalf("completion should succeed: %v", err)
	}
	if ack.State != StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", ack.State)
	}

	_, err = in.Handle(ctx, "", start, "consumer-token")
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Kind != apierr.KindProtocol {
		t.Fatalf("expected Protocol error after terminal state, got %v", err)
	}
}
