// Copyright 2025 Certen Protocol
//
// Inbound orchestrator: the single entry point for peer-originated
// negotiation messages, implementing spec.md §4.3's nine-step pipeline.
package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rainbow-dsp/connector/pkg/apierr"
	"github.com/rainbow-dsp/connector/pkg/corestate"
	"github.com/rainbow-dsp/connector/pkg/mates"
	"github.com/rainbow-dsp/connector/pkg/metrics"
	"github.com/rainbow-dsp/connector/pkg/notify"
	"github.com/rainbow-dsp/connector/pkg/schema"
)

// Inbound implements on_inbound(path_pid?, raw_message, caller_token).
type Inbound struct {
	Kernel                *Kernel
	Store                 Store
	Mates                 *mates.Registry
	Schemas               *schema.Bank
	Notifier              *notify.Bus
	Metrics               *metrics.Registry
	SelfRole              corestate.Role
	BusinessParticipantID string
	MaxOffers             int
}

// Handle runs the full inbound pipeline, recording acceptance/rejection
// counts for the negotiation engine (SPEC_FULL §2.1). pathPid is the
// identifier carried in the URL, if any; it is empty for creation requests.
func (in *Inbound) Handle(ctx context.Context, pathPid string, raw json.RawMessage, callerToken string) (ack *Ack, err error) {
	defer func() {
		if in.Metrics == nil {
			return
		}
		outcome := "accepted"
		if err != nil {
			outcome = "rejected"
		}
		msgType := "unknown"
		var wire WireMessage
		if jsonErr := json.Unmarshal(raw, &wire); jsonErr == nil && wire.Type != "" {
			msgType = string(wire.Type)
		}
		in.Metrics.InboundTotal.WithLabelValues("negotiation", msgType, outcome).Inc()
	}()
	return in.handle(ctx, pathPid, raw, callerToken)
}

func (in *Inbound) handle(ctx context.Context, pathPid string, raw json.RawMessage, callerToken string) (*Ack, error) {
	// Step 1: resolve caller token to a participant.
	mate, err := in.Mates.ResolveToken(ctx, callerToken)
	if err != nil {
		return nil, apierr.New(apierr.KindUnauthorized, "TOKEN.UNRESOLVED", "bearer token is not registered with any known participant")
	}

	// Step 2: schema validation.
	var wire WireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, apierr.New(apierr.KindSchema, "MESSAGE.MALFORMED", "body is not valid JSON")
	}
	if violations := in.Schemas.Validate(string(wire.Type), raw); len(violations) > 0 {
		reasons := make([]string, len(violations))
		for i, v := range violations {
			reasons[i] = fmt.Sprintf("%s: %s", v.Pointer, v.Description)
		}
		return nil, apierr.New(apierr.KindSchema, "SCHEMA.VIOLATION", reasons...)
	}

	initiator := in.SelfRole.Other()

	// Step 2b: identifier shape. Every non-empty pid on the wire must be a
	// URN; legacy raw UUIDs are rejected here, before they ever reach the
	// kernel (spec.md §9).
	for _, pid := range []string{pathPid, wire.ProviderPid, wire.ConsumerPid} {
		if pid != "" && !corestate.ValidPid(pid) {
			return nil, apierr.New(apierr.KindIdentifier, "PID.MALFORMED", "identifier is not a valid URN").
				WithPids(wire.ProviderPid, wire.ConsumerPid)
		}
	}

	// Step 3: path pid / body pid consistency.
	if pathPid != "" {
		bodyPid := in.ownPidFromWire(wire)
		if bodyPid != pathPid {
			return nil, apierr.New(apierr.KindIdentifier, "PID.PATH.MISMATCH", "path pid does not match body pid").
				WithPids(wire.ProviderPid, wire.ConsumerPid)
		}
	}

	creation := IsCreation(wire.Type, initiator)

	// Step 4: process lookup.
	var proc *Process
	if creation {
		existing, lookupErr := in.findExisting(ctx, wire)
		if lookupErr != nil {
			return nil, apierr.Wrap(apierr.KindDatabase, "PROCESS.LOOKUP.FAILED", lookupErr)
		}
		if existing != nil {
			return nil, apierr.New(apierr.KindIdentifier, "PROCESS.ALREADY.EXISTS", "a process already exists for this identifier pair")
		}
	} else {
		found, lookupErr := in.findExisting(ctx, wire)
		if lookupErr != nil {
			return nil, apierr.Wrap(apierr.KindDatabase, "PROCESS.LOOKUP.FAILED", lookupErr)
		}
		if found == nil {
			return nil, apierr.New(apierr.KindNotFound, ReasonProcessNotFound, "no process matches the given identifiers").
				WithPids(wire.ProviderPid, wire.ConsumerPid)
		}
		if wire.ProviderPid != "" && found.ProviderPid != "" && wire.ProviderPid != found.ProviderPid {
			return nil, apierr.New(apierr.KindIdentifier, ReasonIdentifierMismatch, "providerPid does not correlate with the stored process")
		}
		if wire.ConsumerPid != "" && found.ConsumerPid != "" && wire.ConsumerPid != found.ConsumerPid {
			return nil, apierr.New(apierr.KindIdentifier, ReasonIdentifierMismatch, "consumerPid does not correlate with the stored process")
		}
		proc = found
	}

	// Step 5: authorization. Accept either the resolved peer participant or
	// the configured business identity (SPEC_FULL §4.6).
	if proc != nil && mate.ParticipantID != proc.AssociatedPeer && (in.BusinessParticipantID == "" || mate.ParticipantID != in.BusinessParticipantID) {
		return nil, apierr.New(apierr.KindUnauthorized, "PEER.MISMATCH", "authenticated participant is not this process's associated peer").
			WithPids(proc.ProviderPid, proc.ConsumerPid)
	}

	fromState := stateNone
	if proc != nil {
		fromState = proc.State
	}

	// Step 5b: negotiation-specific event tie-break.
	if wire.Type == MsgNegotiationEvent {
		expected, ok := ExpectedEvent(fromState)
		if !ok || wire.EventType != expected {
			return nil, apierr.New(apierr.KindProtocol, ReasonUnexpectedEvent, fmt.Sprintf("eventType %q is not legal from state %s", wire.EventType, fromState))
		}
	}

	// Step 6: kernel decision.
	toState, ok := in.Kernel.Decide(fromState, wire.Type, initiator)
	if !ok {
		return nil, apierr.New(apierr.KindProtocol, ReasonIllegalTransition, fmt.Sprintf("no transition from %s on %s", fromState, wire.Type))
	}

	now := time.Now()
	var offer *Offer
	var agreement *Agreement
	var newBinding *IdentifierBinding

	msg := &Message{
		ID:        uuid.New(),
		Direction: corestate.DirectionInbound,
		Type:      wire.Type,
		FromRole:  initiator,
		ToRole:    in.SelfRole,
		FromState: fromState,
		ToState:   toState,
		Raw:       raw,
		Timestamp: now,
	}

	if creation {
		proc = &Process{
			ID:              uuid.New(),
			ProviderPid:     wire.ProviderPid,
			ConsumerPid:     wire.ConsumerPid,
			Role:            in.SelfRole,
			Initiator:       initiator,
			AssociatedPeer:  mate.ParticipantID,
			CallbackAddress: mate.BaseURL,
			State:           toState,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		// Self-assign our own pid at creation; the peer's pid was already
		// carried on the wire or is learned on a later message (spec.md §3:
		// "exactly one of (providerPid, consumerPid) is self-assigned at
		// creation; the other is learned from the first inbound correlated
		// message").
		if in.SelfRole == corestate.RoleProvider && proc.ProviderPid == "" {
			proc.ProviderPid = newPid()
		} else if in.SelfRole == corestate.RoleConsumer && proc.ConsumerPid == "" {
			proc.ConsumerPid = newPid()
		}
		msg.ProcessID = proc.ID
		if err := in.Store.CreateProcess(ctx, proc, msg); err != nil {
			return nil, apierr.Wrap(apierr.KindDatabase, "PROCESS.CREATE.FAILED", err)
		}
		if in.Metrics != nil {
			in.Metrics.OpenProcesses.WithLabelValues("negotiation").Inc()
		}
		in.emit(notify.OperationIncomingMessage, proc, msg)
		return newAck(proc), nil
	}

	msg.ProcessID = proc.ID

	switch wire.Type {
	case MsgContractRequest, MsgContractOffer:
		count, cntErr := in.Store.OfferCount(ctx, proc.ID)
		if cntErr != nil {
			return nil, apierr.Wrap(apierr.KindDatabase, "OFFER.COUNT.FAILED", cntErr)
		}
		offerCap := in.MaxOffers
		if offerCap <= 0 {
			offerCap = MaxOffersPerProcess
		}
		if count >= offerCap {
			return nil, apierr.New(apierr.KindProtocol, ReasonOfferCapExceeded, fmt.Sprintf("process already carries %d offers", count))
		}
		offer = &Offer{ID: uuid.New(), ProcessID: proc.ID, MessageID: msg.ID, Content: wire.Offer, CreatedAt: now}

	case MsgContractAgreement:
		agreement = &Agreement{
			ID:                  uuid.New(),
			ProcessID:           proc.ID,
			MessageID:           msg.ID,
			ConsumerParticipant: wire.ConsumerParty,
			ProviderParticipant: wire.ProviderParty,
			Content:             wire.Agreement,
			CreatedAt:           now,
		}
	}

	// Learn a not-yet-known identifier on this transition.
	if proc.ProviderPid == "" && wire.ProviderPid != "" {
		newBinding = &IdentifierBinding{ProcessID: proc.ID, Key: "providerPid", Value: wire.ProviderPid}
		proc.ProviderPid = wire.ProviderPid
	} else if proc.ConsumerPid == "" && wire.ConsumerPid != "" {
		newBinding = &IdentifierBinding{ProcessID: proc.ID, Key: "consumerPid", Value: wire.ConsumerPid}
		proc.ConsumerPid = wire.ConsumerPid
	}

	proc.State = toState
	proc.UpdatedAt = now
	proc.Revision++

	if err := in.Store.ApplyTransition(ctx, proc, msg, offer, agreement, newBinding); err != nil {
		if err == ErrConflict {
			return nil, apierr.New(apierr.KindProtocol, ReasonIllegalTransition, "a concurrent writer already advanced this process")
		}
		return nil, apierr.Wrap(apierr.KindDatabase, "TRANSITION.PERSIST.FAILED", err)
	}

	if wire.Type == MsgAgreementVerification {
		if err := in.Store.ActivateAgreement(ctx, proc.ID); err != nil {
			return nil, apierr.Wrap(apierr.KindDatabase, "AGREEMENT.ACTIVATE.FAILED", err)
		}
	}

	if in.Metrics != nil && toState.Terminal() {
		in.Metrics.OpenProcesses.WithLabelValues("negotiation").Dec()
	}

	in.emit(notify.OperationIncomingMessage, proc, msg)
	return newAck(proc), nil
}

func (in *Inbound) ownPidFromWire(wire WireMessage) string {
	if in.SelfRole == corestate.RoleProvider {
		return wire.ProviderPid
	}
	return wire.ConsumerPid
}

func (in *Inbound) findExisting(ctx context.Context, wire WireMessage) (*Process, error) {
	if wire.ProviderPid != "" {
		if p, err := in.Store.FindByProviderPid(ctx, wire.ProviderPid); err != nil || p != nil {
			return p, err
		}
	}
	if wire.ConsumerPid != "" {
		if p, err := in.Store.FindByConsumerPid(ctx, wire.ConsumerPid); err != nil || p != nil {
			return p, err
		}
	}
	return nil, nil
}

func (in *Inbound) emit(op notify.Operation, proc *Process, msg *Message) {
	if in.Notifier == nil {
		return
	}
	in.Notifier.Emit(notify.Notification{
		Category:    notify.CategoryNegotiation,
		Operation:   op,
		ProcessID:   proc.ID.String(),
		ProviderPid: proc.ProviderPid,
		ConsumerPid: proc.ConsumerPid,
		MessageType: string(msg.Type),
		State:       string(proc.State),
	})
}
