// Copyright 2025 Certen Protocol
package negotiation

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rainbow-dsp/connector/pkg/corestate"
	"github.com/rainbow-dsp/connector/pkg/mates"
	"github.com/rainbow-dsp/connector/pkg/schema"
)

// TestScenarioA_HappyPathNegotiation drives the full happy-path negotiation
// (spec.md §8 scenario A) end to end: REQUESTED -> AGREED -> VERIFIED ->
// FINALIZED, with each side's Inbound served over real HTTP and both
// Outbounds posting through it, rather than calling the kernel directly.
func TestScenarioA_HappyPathNegotiation(t *testing.T) {
	ctx := context.Background()

	providerMates := mates.NewMemstore()
	consumerMates := mates.NewMemstore()

	providerIn := &Inbound{
		Kernel:    NewKernel(),
		Store:     NewMemstore(),
		Mates:     mates.New(providerMates),
		Schemas:   schema.NewBank(),
		SelfRole:  corestate.RoleProvider,
		MaxOffers: MaxOffersPerProcess,
	}
	consumerIn := &Inbound{
		Kernel:    NewKernel(),
		Store:     NewMemstore(),
		Mates:     mates.New(consumerMates),
		Schemas:   schema.NewBank(),
		SelfRole:  corestate.RoleConsumer,
		MaxOffers: MaxOffersPerProcess,
	}

	providerSrv := httptest.NewServer(NewProtocolRouter(providerIn, nil))
	defer providerSrv.Close()
	consumerSrv := httptest.NewServer(NewProtocolRouter(consumerIn, nil))
	defer consumerSrv.Close()

	if err := providerMates.Upsert(ctx, &mates.Mate{ParticipantID: "urn:participant:consumer", BaseURL: consumerSrv.URL, Token: "consumer-token"}); err != nil {
		t.Fatalf("seed provider's view of consumer: %v", err)
	}
	// Both sides store the same shared secret for this pairing: the mates
	// table's token column is the bilateral credential, presented by
	// whichever side calls out and checked by whichever side receives.
	if err := consumerMates.Upsert(ctx, &mates.Mate{ParticipantID: "urn:participant:provider", BaseURL: providerSrv.URL, Token: "consumer-token"}); err != nil {
		t.Fatalf("seed consumer's view of provider: %v", err)
	}
	if err := providerIn.Mates.Refresh(ctx); err != nil {
		t.Fatalf("refresh provider mates: %v", err)
	}
	if err := consumerIn.Mates.Refresh(ctx); err != nil {
		t.Fatalf("refresh consumer mates: %v", err)
	}

	providerOut := NewOutbound(providerIn.Kernel, providerIn.Store, providerIn.Mates, nil, corestate.RoleProvider, "urn:participant:provider", MaxOffersPerProcess, 5*time.Second)
	consumerOut := NewOutbound(consumerIn.Kernel, consumerIn.Store, consumerIn.Mates, nil, corestate.RoleConsumer, "urn:participant:consumer", MaxOffersPerProcess, 5*time.Second)

	// Step 1: consumer -> provider, ContractRequestMessage (creation).
	ack, err := consumerOut.SetupRequest(ctx, SetupRequestInput{
		PeerParticipantID: "urn:participant:provider",
		Offer:             json.RawMessage(`{"target":"urn:uuid:dataset-1"}`),
	})
	if err != nil {
		t.Fatalf("setup-request: %v", err)
	}
	if ack.State != StateRequested {
		t.Fatalf("expected REQUESTED after setup-request, got %s", ack.State)
	}
	providerPid, consumerPid := ack.ProviderPid, ack.ConsumerPid

	// Step 2: provider -> consumer, ContractAgreementMessage straight from
	// REQUESTED (the fast path the IDSA CN state machine allows).
	agreement := json.RawMessage(`{"assignee":"urn:participant:consumer","assigner":"urn:participant:provider","target":"urn:uuid:dataset-1"}`)
	ack, err = providerOut.SetupAgreement(ctx, providerPid, consumerPid, agreement, "urn:participant:consumer", "urn:participant:provider")
	if err != nil {
		t.Fatalf("setup-agreement: %v", err)
	}
	if ack.State != StateAgreed {
		t.Fatalf("expected AGREED after setup-agreement, got %s", ack.State)
	}

	// Step 3: consumer -> provider, ContractAgreementVerificationMessage.
	ack, err = consumerOut.SetupVerification(ctx, providerPid, consumerPid)
	if err != nil {
		t.Fatalf("setup-verification: %v", err)
	}
	if ack.State != StateVerified {
		t.Fatalf("expected VERIFIED after setup-verification, got %s", ack.State)
	}

	consumerProc, err := consumerIn.Store.FindByProviderPid(ctx, providerPid)
	if err != nil {
		t.Fatalf("find consumer-side process: %v", err)
	}
	if consumerProc == nil {
		t.Fatalf("expected the consumer to hold a local process for providerPid %s", providerPid)
	}
	consumerAgreement, err := consumerIn.Store.Agreement(ctx, consumerProc.ID)
	if err != nil {
		t.Fatalf("load consumer agreement: %v", err)
	}
	if consumerAgreement == nil || !consumerAgreement.Active {
		t.Fatalf("expected the initiating consumer's local agreement to be active, got %+v", consumerAgreement)
	}

	// Step 4: provider -> consumer, ContractNegotiationEventMessage(FINALIZED).
	ack, err = providerOut.SetupFinalization(ctx, providerPid, consumerPid)
	if err != nil {
		t.Fatalf("setup-finalization: %v", err)
	}
	if ack.State != StateFinalized {
		t.Fatalf("expected FINALIZED after setup-finalization, got %s", ack.State)
	}
}
