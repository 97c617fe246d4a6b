// Copyright 2025 Certen Protocol
//
// Kernel implements the negotiation transition table described in
// spec.md §4.2: a total function on {state}×{message type}×{initiator} to
// Option<next state>. absent entries mean the transition is illegal.
package negotiation

import (
	"github.com/rainbow-dsp/connector/pkg/corestate"
)

// stateNone is the pseudo from-state used for creation transitions, where
// no Process row exists yet.
const stateNone State = ""

type transitionKey struct {
	From      State
	Msg       MessageType
	Initiator corestate.Role
}

// Kernel holds the compiled transition table. It is immutable after
// construction and safe for concurrent use without locking (spec.md §5).
type Kernel struct {
	table map[transitionKey]State
}

// NewKernel builds the negotiation kernel's transition table.
func NewKernel() *Kernel {
	k := &Kernel{table: make(map[transitionKey]State)}

	for _, initiator := range []corestate.Role{corestate.RoleConsumer, corestate.RoleProvider} {
		// Creation.
		if initiator == corestate.RoleConsumer {
			k.add(stateNone, MsgContractRequest, initiator, StateRequested)
		} else {
			k.add(stateNone, MsgContractOffer, initiator, StateOffered)
		}

		// Explicit re-request within REQUESTED, same pair (spec.md §4.2
		// tie-break 1), by the consumer.
		if initiator == corestate.RoleConsumer {
			k.add(StateRequested, MsgContractRequest, initiator, StateRequested)
		}

		// Offer / counter-offer. Legal from REQUESTED on either side,
		// resolving spec.md §9 Open Question 3 (consumer-side
		// ContractOfferMessage from REQUESTED is legal, symmetric with the
		// provider's counter-offer).
		k.add(StateRequested, MsgContractOffer, initiator, StateOffered)

		if initiator == corestate.RoleConsumer {
			// Counter-request: consumer requests revised terms on an offer.
			k.add(StateOffered, MsgContractRequest, initiator, StateRequested)

			// Consumer accepts the (counter-)offer.
			k.add(StateOffered, MsgNegotiationEvent, initiator, StateAccepted)

			// Consumer verifies the agreement.
			k.add(StateAgreed, MsgAgreementVerification, initiator, StateVerified)
		} else {
			// Provider proposes the agreement. Legal from ACCEPTED (the usual
			// path) and also directly from REQUESTED, per the IDSA CN state
			// machine's fast path (spec.md §8 scenario A).
			k.add(StateAccepted, MsgContractAgreement, initiator, StateAgreed)
			k.add(StateRequested, MsgContractAgreement, initiator, StateAgreed)

			// Provider finalizes.
			k.add(StateVerified, MsgNegotiationEvent, initiator, StateFinalized)
		}

		// Termination from any non-terminal state.
		for _, from := range []State{StateRequested, StateOffered, StateAccepted, StateAgreed, StateVerified} {
			k.add(from, MsgNegotiationTermination, initiator, StateTerminated)
		}
	}

	return k
}

func (k *Kernel) add(from State, msg MessageType, initiator corestate.Role, to State) {
	k.table[transitionKey{From: from, Msg: msg, Initiator: initiator}] = to
}

// Decide looks up the transition table. ok is false when the transition is
// illegal here (spec.md §4.2, "None means illegal here").
func (k *Kernel) Decide(from State, msg MessageType, initiator corestate.Role) (to State, ok bool) {
	if from.Terminal() {
		// Terminal absorption (spec.md §4.2 rule 3): no transition escapes
		// a terminal state, regardless of message type.
		return "", false
	}
	to, ok = k.table[transitionKey{From: from, Msg: msg, Initiator: initiator}]
	return to, ok
}

// ExpectedEvent reports the EventType a ContractNegotiationEventMessage
// must carry to be legal from the given state (spec.md §4.2 tie-break).
func ExpectedEvent(from State) (EventType, bool) {
	switch from {
	case StateOffered:
		return EventAccepted, true
	case StateVerified:
		return EventFinalized, true
	default:
		return "", false
	}
}

// IsCreation reports whether msg is a request-style message that creates a
// new process for the given initiator (spec.md §4.2 rule 1).
func IsCreation(msg MessageType, initiator corestate.Role) bool {
	if initiator == corestate.RoleConsumer {
		return msg == MsgContractRequest
	}
	return msg == MsgContractOffer
}
