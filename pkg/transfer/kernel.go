// Copyright 2025 Certen Protocol
//
// Kernel implements the transfer transition table described in spec.md
// §4.2, instantiated for the transfer state alphabet.
package transfer

import (
	"github.com/rainbow-dsp/connector/pkg/corestate"
)

// stateNone is the pseudo from-state used for creation transitions.
const stateNone State = ""

type transitionKey struct {
	From      State
	Msg       MessageType
	Initiator corestate.Role
}

// Kernel holds the compiled transition table, immutable after construction.
type Kernel struct {
	table map[transitionKey]State
}

// NewKernel builds the transfer kernel's transition table.
func NewKernel() *Kernel {
	k := &Kernel{table: make(map[transitionKey]State)}

	for _, initiator := range []corestate.Role{corestate.RoleConsumer, corestate.RoleProvider} {
		// Creation: the consumer requests a transfer against an agreement.
		if initiator == corestate.RoleConsumer {
			k.add(stateNone, MsgTransferRequest, initiator, StateRequested)
			// Re-request within REQUESTED, same pair (initiator exclusivity).
			k.add(StateRequested, MsgTransferRequest, initiator, StateRequested)
		}

		// Provider starts the transfer, handing back a data address.
		k.add(StateRequested, MsgTransferStart, initiator, StateStarted)
		// Resume from SUSPENDED restarts the data flow.
		k.add(StateSuspended, MsgTransferStart, initiator, StateStarted)

		// Either side may suspend an active transfer.
		k.add(StateStarted, MsgTransferSuspension, initiator, StateSuspended)

		// Provider completes the transfer.
		k.add(StateStarted, MsgTransferCompletion, initiator, StateCompleted)

		// Termination from any non-terminal state.
		for _, from := range []State{StateRequested, StateStarted, StateSuspended} {
			k.add(from, MsgTransferTermination, initiator, StateTerminated)
		}
	}

	return k
}

func (k *Kernel) add(from State, msg MessageType, initiator corestate.Role, to State) {
	k.table[transitionKey{From: from, Msg: msg, Initiator: initiator}] = to
}

// Decide looks up the transition table.
func (k *Kernel) Decide(from State, msg MessageType, initiator corestate.Role) (to State, ok bool) {
	if from.Terminal() {
		return "", false
	}
	to, ok = k.table[transitionKey{From: from, Msg: msg, Initiator: initiator}]
	return to, ok
}

// IsCreation reports whether msg creates a new process for the given
// initiator. Only the consumer's TransferRequestMessage creates.
func IsCreation(msg MessageType, initiator corestate.Role) bool {
	return initiator == corestate.RoleConsumer && msg == MsgTransferRequest
}
