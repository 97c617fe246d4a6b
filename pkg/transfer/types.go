// Copyright 2025 Certen Protocol
//
// Package transfer implements the Transfer Process protocol state machine:
// entities, transition kernel, inbound/outbound orchestration, the RPC
// facade and the data-plane boundary. See spec.md §3-§4.5 and SPEC_FULL.md.
package transfer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rainbow-dsp/connector/pkg/corestate"
)

// State is a point in the transfer state alphabet (spec.md §3).
type State string

const (
	StateRequested  State = "REQUESTED"
	StateStarted    State = "STARTED"
	StateSuspended  State = "SUSPENDED"
	StateCompleted  State = "COMPLETED"
	StateTerminated State = "TERMINATED"
)

// Terminal reports whether state accepts no further transitions.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateCompleted
}

// MessageType is the closed set of wire message types for transfer
// (spec.md §6).
type MessageType string

const (
	MsgTransferRequest     MessageType = "TransferRequestMessage"
	MsgTransferStart       MessageType = "TransferStartMessage"
	MsgTransferSuspension  MessageType = "TransferSuspensionMessage"
	MsgTransferCompletion  MessageType = "TransferCompletionMessage"
	MsgTransferTermination MessageType = "TransferTerminationMessage"
	MsgTransferProcessAck  MessageType = "TransferProcess"
	MsgTransferError       MessageType = "TransferError"
)

// Process is a single transfer instance, identified by a (providerPid,
// consumerPid) pair (spec.md §3). The transfer alphabet carries no offers or
// agreement: it is driven purely by an agreement id established during
// negotiation.
type Process struct {
	ID              uuid.UUID
	ProviderPid     string
	ConsumerPid     string
	Role            corestate.Role
	Initiator       corestate.Role
	AssociatedPeer  string
	CallbackAddress string
	AgreementID     string
	Format          string
	DataAddress     json.RawMessage
	State           State
	Revision        int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Message is a single append-only wire exchange belonging to a Process.
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

const dspaceContext = "https://w3id.org/dspace/2024/1/context.json"

// WireMessage is the common shape every transfer message unmarshals into
// for routing purposes.
type WireMessage struct {
	Context         string          `json:"@context"`
	Type            MessageType     `json:"@type"`
	ProviderPid     string          `json:"providerPid,omitempty"`
	ConsumerPid     string          `json:"consumerPid,omitempty"`
	AgreementID     string          `json:"agreementId,omitempty"`
	Format          string          `json:"format,omitempty"`
	CallbackAddress string          `json:"callbackAddress,omitempty"`
	DataAddress     json.RawMessage `json:"dataAddress,omitempty"`
	Code            string          `json:"code,omitempty"`
	Reason          []string        `json:"reason,omitempty"`
}

// Ack is the canonical acknowledgement returned from inbound handlers and
// RPC verbs (spec.md §6, `TransferProcess`).
type Ack struct {
	Context     string          `json:"@context"`
	Type        string          `json:"@type"`
	ProviderPid string          `json:"providerPid"`
	ConsumerPid string          `json:"consumerPid"`
	State       State           `json:"state"`
	DataAddress json.RawMessage `json:"dataAddress,omitempty"`
}

func newAck(p *Process) *Ack {
	return &Ack{
		Context:     dspaceContext,
		Type:        string(MsgTransferProcessAck),
		ProviderPid: p.ProviderPid,
		ConsumerPid: p.ConsumerPid,
		State:       p.State,
		DataAddress: p.DataAddress,
	}
}
