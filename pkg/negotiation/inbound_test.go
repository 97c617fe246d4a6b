package negotiation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rainbow-dsp/connector/pkg/apierr"
	"github.com/rainbow-dsp/connector/pkg/corestate"
	"github.com/rainbow-dsp/connector/pkg/mates"
	"github.com/rainbow-dsp/connector/pkg/schema"
)

func newTestInbound(t *testing.T) (*Inbound, *mates.Memstore) {
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
		SelfRole:  corestate.RoleProvider,
		MaxOffers: MaxOffersPerProcess,
	}, ms
}

func contractRequest(offer string) json.RawMessage {
	return json.RawMessage(`{"@context":"https://w3id.org/dspace/2024/1/context.json","@type":"ContractRequestMessage","consumerPid":"urn:uuid:consumer-1","offer":` + offer + `}`)
}

func TestInbound_CreationThenTerminationThenReplayRejected(t *testing.T) {
	in, _ := newTestInbound(t)
	ctx := context.Background()

	ack, err := in.Handle(ctx, "", contractRequest(`{"target":"urn:uuid:dataset-1"}`), "consumer-token")
	if err != nil {
		t.Fatalf("creation request should succeed: %v", err)
	}
	if ack.State != StateRequested {
		t.Fatalf("expected REQUESTED, got %s", ack.State)
	}

	terminationRaw := json.RawMessage(`{"@context":"https://w3id.org/dspace/2024/1/context.json","@type":"ContractNegotiationTerminationMessage","providerPid":"` + ack.ProviderPid + `","consumerPid":"urn:uuid:consumer-1"}`)
	ack, err = in.Handle(ctx, "", terminationRaw, "consumer-token")
	if err != nil {
		t.Fatalf("termination should succeed: %v", err)
	}
	if ack.State != StateTerminated {
		t.Fatalf("expected TERMINATED, got %s", ack.State)
	}

	_, err = in.Handle(ctx, "", contractRequest(`{"target":"urn:uuid:dataset-1"}`), "consumer-token")
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		t.Fatalf("expected apierr.Error, got %v (%T)", err, err)
	}
	if apiErr.Kind != apierr.KindIdentifier && apiErr.Kind != apierr.KindProtocol {
		t.Fatalf("expected Identifier or Protocol kind, got %s", apiErr.Kind)
	}
}

func TestInbound_SchemaRejection(t *testing.T) {
	in, _ := newTestInbound(t)
	ctx := context.Background()

	missingOffer := json.RawMessage(`{"@context":"https://w3id.org/dspace/2024/1/context.json","@type":"ContractRequestMessage","consumerPid":"urn:uuid:consumer-2"}`)
	_, err := in.Handle(ctx, "", missingOffer, "consumer-token")
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		t.Fatalf("expected apierr.Error, got %v", err)
	}
	if apiErr.Kind != apierr.KindSchema {
		t.Fatalf("expected Schema kind, got %s", apiErr.Kind)
	}
}

func TestInbound_UnknownTokenRejected(t *testing.T) {
	in, _ := newTestInbound(t)
	_, err := in.Handle(context.Background(), "", contractRequest(`{"target":"urn:uuid:dataset-1"}`), "not-a-real-token")
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Kind != apierr.KindUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}
