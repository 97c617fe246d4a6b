package transfer

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
		{"consumer creates request", stateNone, MsgTransferRequest, corestate.RoleConsumer, StateRequested},
		{"consumer re-requests in REQUESTED", StateRequested, MsgTransferRequest, corestate.RoleConsumer, StateRequested},
		{"provider starts from REQUESTED", StateRequested, MsgTransferStart, corestate.RoleProvider, StateStarted},
		{"provider resumes from SUSPENDED", StateSuspended, MsgTransferStart, corestate.RoleProvider, StateStarted},
		{"consumer suspends STARTED", StateStarted, MsgTransferSuspension, corestate.RoleConsumer, StateSuspended},
		{"provider completes STARTED", StateStarted, MsgTransferCompletion, corestate.RoleProvider, StateCompleted},
		{"consumer terminates REQUESTED", StateRequested, MsgTransferTermination, corestate.RoleConsumer, StateTerminated},
		{"provider terminates STARTED", StateStarted, MsgTransferTermination, corestate.RoleProvider, StateTerminated},
		{"consumer terminates SUSPENDED", StateSuspended, MsgTransferTermination, corestate.RoleConsumer, StateTerminated},
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
		{"start from COMPLETED", StateCompleted, MsgTransferStart, corestate.RoleProvider},
		{"completion from REQUESTED", StateRequested, MsgTransferCompletion, corestate.RoleProvider},
		{"suspension from REQUESTED", StateRequested, MsgTransferSuspension, corestate.RoleConsumer},
		{"anything from TERMINATED", StateTerminated, MsgTransferStart, corestate.RoleProvider},
		{"provider creates", stateNone, MsgTransferRequest, corestate.RoleProvider},
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
	for _, from := range []State{StateCompleted, StateTerminated} {
		for _, msg := range []MessageType{MsgTransferRequest, MsgTransferStart, MsgTransferSuspension, MsgTransferCompletion, MsgTransferTermination} {
			for _, initiator := range []corestate.Role{corestate.RoleConsumer, corestate.RoleProvider} {
				if _, ok := k.Decide(from, msg, initiator); ok {
					t.Fatalf("terminal state %s must absorb all messages, got legal transition for %s/%s", from, msg, initiator)
				}
			}
		}
	}
}
