// Copyright 2025 Certen Protocol
//
// Inbound orchestrator: the single entry point for peer-originated transfer
// messages, implementing spec.md §4.3's nine-step pipeline for the transfer
// alphabet, plus the data-plane hooks of §4.5.
package transfer

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

// Reason codes specific to the transfer engine, mirroring the negotiation
// engine's reason-code scheme (SPEC_FULL §9).
const (
	ReasonProcessNotFound    = "PROCESS.NOT.FOUND"
	ReasonIllegalTransition  = "TRANSFER.TRANSITION.ILLEGAL"
	ReasonIdentifierMismatch = "TRANSFER.IDENTIFIER.MISMATCH"
)

// Inbound implements on_inbound for the transfer engine.
type Inbound struct {
	Kernel                *Kernel
	Store                 Store
	Mates                 *mates.Registry
	Schemas               *schema.Bank
	Notifier              *notify.Bus
	Metrics               *metrics.Registry
	DataPlane             DataPlane
	SelfRole              corestate.Role
	BusinessParticipantID string
}

// Handle runs the full inbound pipeline, recording acceptance/rejection
// counts for the transfer engine (SPEC_FULL §2.1).
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
		in.Metrics.InboundTotal.WithLabelValues("transfer", msgType, outcome).Inc()
	}()
	return in.handle(ctx, pathPid, raw, callerToken)
}

func (in *Inbound) handle(ctx context.Context, pathPid string, raw json.RawMessage, callerToken string) (*Ack, error) {
	mate, err := in.Mates.ResolveToken(ctx, callerToken)
	if err != nil {
		return nil, apierr.New(apierr.KindUnauthorized, "TOKEN.UNRESOLVED", "bearer token is not registered with any known participant")
	}

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

	for _, pid := range []string{pathPid, wire.ProviderPid, wire.ConsumerPid} {
		if pid != "" && !corestate.ValidPid(pid) {
			return nil, apierr.New(apierr.KindIdentifier, "PID.MALFORMED", "identifier is not a valid URN").
				WithPids(wire.ProviderPid, wire.ConsumerPid)
		}
	}

	if pathPid != "" {
		bodyPid := wire.ConsumerPid
		if in.SelfRole == corestate.RoleProvider {
			bodyPid = wire.ProviderPid
		}
		if bodyPid != pathPid {
			return nil, apierr.New(apierr.KindIdentifier, "PID.PATH.MISMATCH", "path pid does not match body pid").
				WithPids(wire.ProviderPid, wire.ConsumerPid)
		}
	}

	creation := IsCreation(wire.Type, initiator)

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

	if proc != nil && mate.ParticipantID != proc.AssociatedPeer && (in.BusinessParticipantID == "" || mate.ParticipantID != in.BusinessParticipantID) {
		return nil, apierr.New(apierr.KindUnauthorized, "PEER.MISMATCH", "authenticated participant is not this process's associated peer").
			WithPids(proc.ProviderPid, proc.ConsumerPid)
	}

	fromState := stateNone
	if proc != nil {
		fromState = proc.State
	}

	toState, ok := in.Kernel.Decide(fromState, wire.Type, initiator)
	if !ok {
		return nil, apierr.New(apierr.KindProtocol, ReasonIllegalTransition, fmt.Sprintf("no transition from %s on %s", fromState, wire.Type))
	}

	now := time.Now()
	msg := &Message{
		ID:        uuid.New(),
		Type:      wire.Type,
		FromRole:  initiator,
		ToRole:    in.SelfRole,
		FromState: fromState,
		ToState:   toState,
		Direction: corestate.DirectionInbound,
		Raw:       raw,
		Timestamp: now,
	}

	var dataAddress json.RawMessage
	providerPidForHook := wire.ProviderPid

	if creation {
		proc = &Process{
			ID:              uuid.New(),
			ProviderPid:     wire.ProviderPid,
			ConsumerPid:     wire.ConsumerPid,
			Role:            in.SelfRole,
			Initiator:       initiator,
			AssociatedPeer:  mate.ParticipantID,
			CallbackAddress: wire.CallbackAddress,
			AgreementID:     wire.AgreementID,
			Format:          wire.Format,
			State:           toState,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if in.SelfRole == corestate.RoleProvider && proc.ProviderPid == "" {
			proc.ProviderPid = newPid()
		} else if in.SelfRole == corestate.RoleConsumer && proc.ConsumerPid == "" {
			proc.ConsumerPid = newPid()
		}
		providerPidForHook = proc.ProviderPid
		msg.ProcessID = proc.ID

		if hookErr := in.dataPlane().OnTransferRequest(ctx, providerPidForHook); hookErr != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "DATAPLANE.REQUEST.FAILED", hookErr)
		}
		if err := in.Store.CreateProcess(ctx, proc, msg); err != nil {
			return nil, apierr.Wrap(apierr.KindDatabase, "PROCESS.CREATE.FAILED", err)
		}
		if in.Metrics != nil {
			in.Metrics.OpenProcesses.WithLabelValues("transfer").Inc()
		}
		in.emit(notify.OperationIncomingMessage, proc, msg)
		return newAck(proc), nil
	}

	msg.ProcessID = proc.ID
	providerPidForHook = proc.ProviderPid

	switch wire.Type {
	case MsgTransferStart:
		addr, hookErr := in.dataPlane().OnTransferStart(ctx, providerPidForHook)
		if hookErr != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "DATAPLANE.START.FAILED", hookErr)
		}
		dataAddress = addr
	case MsgTransferSuspension:
		if hookErr := in.dataPlane().OnTransferSuspension(ctx, providerPidForHook); hookErr != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "DATAPLANE.SUSPENSION.FAILED", hookErr)
		}
	case MsgTransferCompletion:
		if hookErr := in.dataPlane().OnTransferCompletion(ctx, providerPidForHook); hookErr != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "DATAPLANE.COMPLETION.FAILED", hookErr)
		}
	case MsgTransferTermination:
		if hookErr := in.dataPlane().OnTransferTermination(ctx, providerPidForHook); hookErr != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "DATAPLANE.TERMINATION.FAILED", hookErr)
		}
	}

	var newBinding *IdentifierBinding
	if proc.ProviderPid == "" && wire.ProviderPid != "" {
		newBinding = &IdentifierBinding{ProcessID: proc.ID, Key: "providerPid", Value: wire.ProviderPid}
		proc.ProviderPid = wire.ProviderPid
	} else if proc.ConsumerPid == "" && wire.ConsumerPid != "" {
		newBinding = &IdentifierBinding{ProcessID: proc.ID, Key: "consumerPid", Value: wire.ConsumerPid}
		proc.ConsumerPid = wire.ConsumerPid
	}

	if dataAddress != nil {
		proc.DataAddress = dataAddress
	}
	proc.State = toState
	proc.UpdatedAt = now
	proc.Revision++

	if err := in.Store.ApplyTransition(ctx, proc, msg, newBinding); err != nil {
		if err == ErrConflict {
			return nil, apierr.New(apierr.KindProtocol, ReasonIllegalTransition, "a concurrent writer already advanced this process")
		}
		return nil, apierr.Wrap(apierr.KindDatabase, "TRANSITION.PERSIST.FAILED", err)
	}

	if in.Metrics != nil && toState.Terminal() {
		in.Metrics.OpenProcesses.WithLabelValues("transfer").Dec()
	}

	in.emit(notify.OperationIncomingMessage, proc, msg)
	return newAck(proc), nil
}

func (in *Inbound) dataPlane() DataPlane {
	if in.DataPlane == nil {
		return NoopDataPlane{}
	}
	return in.DataPlane
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
		Category:    notify.CategoryTransfer,
		Operation:   op,
		ProcessID:   proc.ID.String(),
		ProviderPid: proc.ProviderPid,
		ConsumerPid: proc.ConsumerPid,
		MessageType: string(msg.Type),
		State:       string(proc.State),
	})
}

func newPid() string {
	return "urn:uuid:" + uuid.New().String()
}
