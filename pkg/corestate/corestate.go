// Copyright 2025 Certen Protocol
//
// Package corestate holds the vocabulary shared by the negotiation and
// transfer engines: roles, message direction, identifier correlation and
// the transition-table shape described in spec.md §4.2. Each engine
// instantiates its own state alphabet and message-type set on top of these
// primitives; corestate itself is state-alphabet agnostic.
package corestate

import "regexp"

// Role is a participant's role within a single process.
type Role string

const (
	RoleProvider Role = "PROVIDER"
	RoleConsumer Role = "CONSUMER"
)

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleProvider {
		return RoleConsumer
	}
	return RoleProvider
}

// Direction is the direction a Message travelled relative to this node.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// pidPattern is the URN shape spec.md §9 mandates for every identifier on
// the wire; legacy raw UUIDs are rejected.
var pidPattern = regexp.MustCompile(`^urn:[a-z0-9][a-z0-9-]{0,31}:.+$`)

// ValidPid reports whether s is a legal wire identifier.
func ValidPid(s string) bool {
	return s != "" && pidPattern.MatchString(s)
}

// TransitionKey is the lookup key into a state machine kernel's transition
// table: (current state, message type, initiator role), with state and
// message type widened to string. The negotiation and transfer kernels do
// not use it: each keys its map on its own unexported transitionKey of the
// same shape, typed with that engine's State and MessageType.
type TransitionKey struct {
	State     string
	Message   string
	Initiator Role
}
