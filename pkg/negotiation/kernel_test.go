package negotiation

import (
	"testing"

	"github.com/rainbow-dsp/connector/pkg/corestate"
)

func TestKernel_LegalTransitions(t *testing.T) {
	k := NewKernel()

	cases := []struct {
		name      string
		from      State
		msg       MessageType
		initiator corestate.Role
		want      State
	}{
		{"consumer creates via request", stateNone, MsgContractRequest, corestate.RoleConsumer, StateRequested},
		{"provider creates via offer", stateNone, MsgContractOffer, corestate.RoleProvider, StateOffered},
		{"consumer re-requests in REQUESTED", StateRequested, MsgContractRequest, corestate.RoleConsumer, StateRequested},
		{"provider counter-offers from REQUESTED", StateRequested, MsgContractOffer, corestate.RoleProvider, StateOffered},
		{"consumer offers from REQUESTED", StateRequested, MsgContractOffer, corestate.RoleConsumer, StateOffered},
		{"consumer counter-requests from OFFERED", StateOffered, MsgContractRequest, corestate.RoleConsumer, StateRequested},
		{"consumer accepts OFFERED", StateOffered, MsgNegotiationEvent, corestate.RoleConsumer, StateAccepted},
		{"provider agrees from ACCEPTED", StateAccepted, MsgContractAgreement, corestate.RoleProvider, StateAgreed},
		{"provider agrees from REQUESTED", StateRequested, MsgContractAgreement, corestate.RoleProvider, StateAgreed},
		{"consumer verifies AGREED", StateAgreed, MsgAgreementVerification, corestate.RoleConsumer, StateVerified},
		{"provider finalizes VERIFIED", StateVerified, MsgNegotiationEvent, corestate.RoleProvider, StateFinalized},
		{"consumer terminates REQUESTED", StateRequested, MsgNegotiationTermination, corestate.RoleConsumer, StateTerminated},
		{"provider terminates OFFERED", StateOffered, MsgNegotiationTermination, corestate.RoleProvider, StateTerminated},
		{"provider terminates ACCEPTED", StateAccepted, MsgNegotiationTermination, corestate.RoleProvider, StateTerminated},
		{"consumer terminates AGREED", StateAgreed, MsgNegotiationTermination, corestate.RoleConsumer, StateTerminated},
		{"provider terminates VERIFIED", StateVerified, MsgNegotiationTermination, corestate.RoleProvider, StateTerminated},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := k.Decide(tc.from, tc.msg, tc.initiator)
			if !ok {
				t.Fatalf("expected legal transition, got illegal")
			}
			if got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestKernel_IllegalTransitions(t *testing.T) {
	k := NewKernel()

	cases := []struct {
		name      string
		from      State
		msg       MessageType
		initiator corestate.Role
	}{
		{"verification from OFFERED", StateOffered, MsgAgreementVerification, corestate.RoleConsumer},
		{"event from REQUESTED", StateRequested, MsgNegotiationEvent, corestate.RoleConsumer},
		{"anything from FINALIZED", StateFinalized, MsgNegotiationTermination, corestate.RoleProvider},
		{"anything from TERMINATED", StateTerminated, MsgContractOffer, corestate.RoleProvider},
		{"request from AGREED", StateAgreed, MsgContractRequest, corestate.RoleConsumer},
		{"offer from ACCEPTED", StateAccepted, MsgContractOffer, corestate.RoleProvider},
		{"wrong initiator creates via offer", stateNone, MsgContractOffer, corestate.RoleConsumer},
		{"wrong initiator creates via request", stateNone, MsgContractRequest, corestate.RoleProvider},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := k.Decide(tc.from, tc.msg, tc.initiator); ok {
				t.Fatalf("expected illegal transition to be rejected")
			}
		})
	}
}

func TestKernel_TerminalAbsorption(t *testing.T) {
	k := NewKernel()
	for _, from := range []State{StateFinalized, StateTerminated} {
		for _, msg := range []MessageType{MsgContractRequest, MsgContractOffer, MsgContractAgreement, MsgAgreementVerification, MsgNegotiationEvent, MsgNegotiationTermination} {
			for _, initiator := range []corestate.Role{corestate.RoleConsumer, corestate.RoleProvider} {
				if _, ok := k.Decide(from, msg, initiator); ok {
					t.Fatalf("terminal state %s must absorb all messages, got legal transition for %s/%s", from, msg, initiator)
				}
			}
		}
	}
}

func TestExpectedEvent(t *testing.T) {
	if ev, ok := ExpectedEvent(StateOffered); !ok || ev != EventAccepted {
		t.Fatalf("OFFERED should expect %s, got %s (ok=%v)", EventAccepted, ev, ok)
	}
	if ev, ok := ExpectedEvent(StateVerified); !ok || ev != EventFinalized {
		t.Fatalf("VERIFIED should expect %s, got %s (ok=%v)", EventFinalized, ev, ok)
	}
	if _, ok := ExpectedEvent(StateRequested); ok {
		t.Fatalf("REQUESTED should not expect an event message")
	}
}

func TestIsCreation(t *testing.T) {
	if !IsCreation(MsgContractRequest, corestate.RoleConsumer) {
		t.Fatalf("consumer ContractRequestMessage should be a creation message")
	}
	if IsCreation(MsgContractOffer, corestate.RoleConsumer) {
		t.Fatalf("consumer ContractOfferMessage should not be a creation message")
	}
	if !IsCreation(MsgContractOffer, corestate.RoleProvider) {
		t.Fatalf("provider ContractOfferMessage should be a creation message")
	}
	if IsCreation(MsgContractRequest, corestate.RoleProvider) {
		t.Fatalf("provider ContractRequestMessage should not be a creation message")
	}
}
