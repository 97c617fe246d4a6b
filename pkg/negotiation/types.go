// Copyright 2025 Certen Protocol
//
// Package negotiation implements the Contract Negotiation protocol state
// machine: entities, transition kernel, inbound/outbound orchestration and
// the RPC facade. See spec.md §3-§4 and SPEC_FULL.md.
package negotiation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rainbow-dsp/connector/pkg/corestate"
)

// State is a point in the negotiation state alphabet (spec.md §3).
type State string

const (
	StateRequested State = "REQUESTED"
	StateOffered   State = "OFFERED"
	StateAccepted  State = "ACCEPTED"
	StateAgreed    State = "AGREED"
	StateVerified  State = "VERIFIED"
	StateFinalized State = "FINALIZED"
	StateTerminated State = "TERMINATED"
)

// Terminal reports whether state accepts no further transitions.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateFinalized
}

// MessageType is the closed set of wire message types for negotiation
// (spec.md §6).
type MessageType string

const (
	MsgContractRequest             MessageType = "ContractRequestMessage"
	MsgContractOffer               MessageType = "ContractOfferMessage"
	MsgContractAgreement           MessageType = "ContractAgreementMessage"
	MsgNegotiationEvent            MessageType = "ContractNegotiationEventMessage"
	MsgAgreementVerification       MessageType = "ContractAgreementVerificationMessage"
	MsgNegotiationTermination      MessageType = "ContractNegotiationTerminationMessage"
	MsgNegotiationError            MessageType = "ContractNegotiationError"
	MsgNegotiationAck              MessageType = "ContractNegotiationAck"
)

// EventType is the payload of a ContractNegotiationEventMessage.
type EventType string

const (
	EventAccepted  EventType = "dspace:ACCEPTED"
	EventFinalized EventType = "dspace:FINALIZED"
)

// Process is a single negotiation instance, identified by a (providerPid,
// consumerPid) pair, at most one of which is self-assigned at creation
// (spec.md §3).
type Process struct {
	ID              uuid.UUID
	ProviderPid     string
	ConsumerPid     string
	Role            corestate.Role // this node's role in the process
	Initiator       corestate.Role
	AssociatedPeer  string // participant id of the peer this node talks to
	CallbackAddress string // peer's base URL at creation time, see SPEC_FULL §9
	State           State
	Revision        int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Message is a single append-only wire exchange belonging to a Process
// (spec.md §3).
type Message struct {
	ID        uuid.UUID
	ProcessID uuid.UUID
	Direction corestate.Direction
	Type      MessageType
	FromRole  corestate.Role
	ToRole    corestate.Role
	FromState State
	ToState   State
	Raw       json.RawMessage
	Timestamp time.Time
}

// Offer is a policy expression proposed during negotiation (spec.md §3).
type Offer struct {
	ID        uuid.UUID
	ProcessID uuid.UUID
	MessageID uuid.UUID
	OfferID   string
	Content   json.RawMessage
	CreatedAt time.Time
}

// Agreement is the bound outcome of a successful negotiation (spec.md §3).
// At most one exists per process; it is created on the provider's AGREED
// transition and activated on the consumer's VERIFIED transition.
type Agreement struct {
	ID                uuid.UUID
	ProcessID         uuid.UUID
	MessageID         uuid.UUID
	ConsumerParticipant string
	ProviderParticipant string
	Content           json.RawMessage
	TargetDataset     string
	Active            bool
	CreatedAt         time.Time
	ActivatedAt       *time.Time
}

// Envelope is the fixed context envelope every wire message carries.
type Envelope struct {
	Context string      `json:"@context"`
	Type    MessageType `json:"@type"`
}

const dspaceContext = "https://w3id.org/dspace/2024/1/context.json"

// WireMessage is the common shape every negotiation message unmarshals
// into for routing purposes; message-specific fields are kept in Raw for
// schema validation and persistence, and re-parsed by the orchestrator as
// needed for the fields it acts on (ProviderPid, ConsumerPid, EventType,
// Offer, Agreement).
type WireMessage struct {
	Context       string          `json:"@context"`
	Type          MessageType     `json:"@type"`
	ProviderPid   string          `json:"providerPid,omitempty"`
	ConsumerPid   string          `json:"consumerPid,omitempty"`
	Offer         json.RawMessage `json:"offer,omitempty"`
	Agreement     json.RawMessage `json:"agreement,omitempty"`
	EventType     EventType       `json:"eventType,omitempty"`
	Code          string          `json:"code,omitempty"`
	Reason        []string        `json:"reason,omitempty"`
	ProviderParty string          `json:"assigner,omitempty"`
	ConsumerParty string          `json:"assignee,omitempty"`
}

// Ack is the canonical acknowledgement returned from inbound handlers and
// RPC verbs, carrying the process's updated state (spec.md §4.3).
type Ack struct {
	Context     string `json:"@context"`
	Type        string `json:"@type"`
	ProviderPid string `json:"providerPid"`
	ConsumerPid string `json:"consumerPid"`
	State       State  `json:"state"`
}

func newAck(p *Process) *Ack {
	return &Ack{
		Context:     dspaceContext,
		Type:        "dspace:ContractNegotiation",
		ProviderPid: p.ProviderPid,
		ConsumerPid: p.ConsumerPid,
		State:       p.State,
	}
}
