// Copyright 2025 Certen Protocol
//
// Outbound orchestrator and RPC facade for the transfer engine, mirroring
// the negotiation engine's shape (spec.md §4.4).
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rainbow-dsp/connector/pkg/apierr"
	"github.com/rainbow-dsp/connector/pkg/corestate"
	"github.com/rainbow-dsp/connector/pkg/mates"
	"github.com/rainbow-dsp/connector/pkg/metrics"
	"github.com/rainbow-dsp/connector/pkg/notify"
)

// Outbound drives transfer forward motion on behalf of a local caller.
type Outbound struct {
	Kernel     *Kernel
	Store      Store
	Mates      *mates.Registry
	Notifier   *notify.Bus
	Metrics    *metrics.Registry
	DataPlane  DataPlane
	SelfRole   corestate.Role
	HTTPClient *http.Client
}

// NewOutbound builds an Outbound with the teacher's fixed-timeout client
// idiom.
func NewOutbound(k *Kernel, store Store, registry *mates.Registry, notifier *notify.Bus, dataPlane DataPlane, selfRole corestate.Role, timeout time.Duration) *Outbound {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if dataPlane == nil {
		dataPlane = NoopDataPlane{}
	}
	return &Outbound{
		Kernel: k, Store: store, Mates: registry, Notifier: notifier, DataPlane: dataPlane,
		SelfRole: selfRole, HTTPClient: &http.Client{Timeout: timeout},
	}
}

// SetupRequestInput is the consumer's `setup-request` input: first contact
// against an already-negotiated agreement.
type SetupRequestInput struct {
	PeerParticipantID string
	AgreementID       string
	Format            string
	CallbackAddress   string
}

// SetupRequest implements the consumer's `setup-request` verb.
func (o *Outbound) SetupRequest(ctx context.Context, in SetupRequestInput) (*Ack, error) {
	if in.AgreementID == "" || in.Format == "" {
		return nil, apierr.New(apierr.KindSchema, "AGREEMENT.REQUIRED", "setup-request requires an agreementId and a format")
	}

	mate, err := o.Mates.Resolve(ctx, in.PeerParticipantID)
	if err != nil {
		return nil, apierr.New(apierr.KindNotFound, "PEER.UNKNOWN", "peer participant is not registered in the Mates registry")
	}

	toState, ok := o.Kernel.Decide(stateNone, MsgTransferRequest, o.SelfRole)
	if !ok {
		return nil, apierr.New(apierr.KindProtocol, ReasonIllegalTransition, "transfer request is not legal for this role")
	}

	selfPid := newPid()
	wire := WireMessage{Context: dspaceContext, Type: MsgTransferRequest, ConsumerPid: selfPid, AgreementID: in.AgreementID, Format: in.Format, CallbackAddress: in.CallbackAddress}

	resp, err := o.post(ctx, mate, "", "request", wire)
	if err != nil {
		return nil, err
	}
	return o.commit(ctx, nil, true, wire, resp, toState, mate)
}

// SetupStart implements the provider's `setup-start` verb, invoking the
// data-plane start hook to obtain a data address.
func (o *Outbound) SetupStart(ctx context.Context, providerPid, consumerPid string) (*Ack, error) {
	return o.sendOnExisting(ctx, providerPid, consumerPid, MsgTransferStart, func(proc *Process, wire *WireMessage) error {
		addr, err := o.DataPlane.OnTransferStart(ctx, proc.ProviderPid)
		if err != nil {
			return err
		}
		wire.DataAddress = addr
		return nil
	})
}

// SetupSuspension implements `setup-suspension`, legal from either role.
func (o *Outbound) SetupSuspension(ctx context.Context, providerPid, consumerPid, code string, reason []string) (*Ack, error) {
	return o.sendOnExisting(ctx, providerPid, consumerPid, MsgTransferSuspension, func(proc *Process, wire *WireMessage) error {
		wire.Code = code
		wire.Reason = reason
		return o.DataPlane.OnTransferSuspension(ctx, proc.ProviderPid)
	})
}

// SetupCompletion implements the provider's `setup-completion` verb.
func (o *Outbound) SetupCompletion(ctx context.Context, providerPid, consumerPid string) (*Ack, error) {
	return o.sendOnExisting(ctx, providerPid, consumerPid, MsgTransferCompletion, func(proc *Process, wire *WireMessage) error {
		return o.DataPlane.OnTransferCompletion(ctx, proc.ProviderPid)
	})
}

// SetupTermination implements `setup-termination`, legal from either role.
func (o *Outbound) SetupTermination(ctx context.Context, providerPid, consumerPid, code string, reason []string) (*Ack, error) {
	return o.sendOnExisting(ctx, providerPid, consumerPid, MsgTransferTermination, func(proc *Process, wire *WireMessage) error {
		wire.Code = code
		wire.Reason = reason
		return o.DataPlane.OnTransferTermination(ctx, proc.ProviderPid)
	})
}

func (o *Outbound) sendOnExisting(ctx context.Context, providerPid, consumerPid string, msgType MessageType, mutate func(*Process, *WireMessage) error) (*Ack, error) {
	if err := validatePids(providerPid, consumerPid); err != nil {
		return nil, err
	}
	proc, err := o.findExisting(ctx, providerPid, consumerPid)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDatabase, "PROCESS.LOOKUP.FAILED", err)
	}
	if proc == nil {
		return nil, apierr.New(apierr.KindNotFound, ReasonProcessNotFound, "no process matches the given identifiers")
	}

	toState, ok := o.Kernel.Decide(proc.State, msgType, o.SelfRole)
	if !ok {
		return nil, apierr.New(apierr.KindProtocol, ReasonIllegalTransition, fmt.Sprintf("no transition from %s on %s", proc.State, msgType))
	}

	mate, err := o.Mates.Resolve(ctx, proc.AssociatedPeer)
	if err != nil {
		return nil, apierr.New(apierr.KindNotFound, "PEER.UNKNOWN", "peer participant is not registered in the Mates registry")
	}

	wire := WireMessage{Context: dspaceContext, Type: msgType, ProviderPid: proc.ProviderPid, ConsumerPid: proc.ConsumerPid}
	if mutate != nil {
		if hookErr := mutate(proc, &wire); hookErr != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "DATAPLANE.HOOK.FAILED", hookErr)
		}
	}

	peerPid := proc.ProviderPid
	if o.SelfRole == corestate.RoleProvider {
		peerPid = proc.ConsumerPid
	}

	resp, err := o.post(ctx, mate, peerPid, verbFor(msgType), wire)
	if err != nil {
		return nil, err
	}
	return o.commit(ctx, proc, false, wire, resp, toState, mate)
}

func verbFor(t MessageType) string {
	switch t {
	case MsgTransferStart:
		return "start"
	case MsgTransferSuspension:
		return "suspension"
	case MsgTransferCompletion:
		return "completion"
	case MsgTransferTermination:
		return "termination"
	default:
		return "request"
	}
}

func (o *Outbound) findExisting(ctx context.Context, providerPid, consumerPid string) (*Process, error) {
	if providerPid != "" {
		if p, err := o.Store.FindByProviderPid(ctx, providerPid); err != nil || p != nil {
			return p, err
		}
	}
	if consumerPid != "" {
		if p, err := o.Store.FindByConsumerPid(ctx, consumerPid); err != nil || p != nil {
			return p, err
		}
	}
	return nil, nil
}

// post sends wire to the peer's deterministic URL, classifying failures per
// spec.md §7 using the teacher's requestFromPeer idiom.
func (o *Outbound) post(ctx context.Context, mate *mates.Mate, peerPid, verb string, wire WireMessage) (ack *Ack, err error) {
	if o.Metrics != nil {
		start := time.Now()
		defer func() {
			outcome := "accepted"
			if err != nil {
				outcome = "rejected"
			}
			o.Metrics.OutboundTotal.WithLabelValues("transfer", verb, outcome).Inc()
			o.Metrics.OutboundDuration.WithLabelValues("transfer", verb).Observe(time.Since(start).Seconds())
		}()
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "MESSAGE.MARSHAL.FAILED", err)
	}

	url := fmt.Sprintf("%s/transfers", mate.BaseURL)
	if peerPid != "" {
		url = fmt.Sprintf("%s/%s", url, peerPid)
	}
	url = fmt.Sprintf("%s/%s", url, verb)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "REQUEST.BUILD.FAILED", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+mate.Token)

	httpResp, err := o.HTTPClient.Do(req)
	if err != nil {
		return nil, apierr.New(apierr.KindPeerUnreachable, "PEER.TRANSPORT.FAILED", err.Error())
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apierr.New(apierr.KindPeerUnreachable, "PEER.RESPONSE.UNREADABLE", err.Error())
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var env apierr.Envelope
		_ = json.Unmarshal(respBody, &env)
		return nil, apierr.New(apierr.KindPeerRejected, "PEER.REJECTED", append([]string{fmt.Sprintf("peer returned status %d", httpResp.StatusCode)}, env.Reason...)...)
	}

	var ack Ack
	if err := json.Unmarshal(respBody, &ack); err != nil {
		return nil, apierr.New(apierr.KindPeerRejected, "PEER.ACK.MALFORMED", err.Error())
	}
	return &ack, nil
}

func (o *Outbound) commit(ctx context.Context, proc *Process, creation bool, wire WireMessage, peerAck *Ack, toState State, mate *mates.Mate) (*Ack, error) {
	now := time.Now()
	raw, _ := json.Marshal(wire)
	msg := &Message{
		ID:        uuid.New(),
		Type:      wire.Type,
		FromRole:  o.SelfRole,
		ToRole:    o.SelfRole.Other(),
		ToState:   toState,
		Direction: corestate.DirectionOutbound,
		Raw:       raw,
		Timestamp: now,
	}

	if creation {
		proc = &Process{
			ID:              uuid.New(),
			ProviderPid:     peerAck.ProviderPid,
			ConsumerPid:     peerAck.ConsumerPid,
			Role:            o.SelfRole,
			Initiator:       o.SelfRole,
			AssociatedPeer:  mate.ParticipantID,
			CallbackAddress: mate.BaseURL,
			AgreementID:     wire.AgreementID,
			Format:          wire.Format,
			State:           toState,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		msg.FromState = stateNone
		msg.ProcessID = proc.ID
		if err := o.Store.CreateProcess(ctx, proc, msg); err != nil {
			return nil, apierr.Wrap(apierr.KindDatabase, "PROCESS.CREATE.FAILED", err)
		}
		if o.Metrics != nil {
			o.Metrics.OpenProcesses.WithLabelValues("transfer").Inc()
		}
		o.emit(notify.OperationOutgoingMessage, proc, msg)
		return newAck(proc), nil
	}

	msg.FromState = proc.State
	msg.ProcessID = proc.ID
	if wire.DataAddress != nil {
		proc.DataAddress = wire.DataAddress
	}
	proc.State = toState
	proc.UpdatedAt = now
	proc.Revision++

	if err := o.Store.ApplyTransition(ctx, proc, msg, nil); err != nil {
		if err == ErrConflict {
			return nil, apierr.New(apierr.KindProtocol, ReasonIllegalTransition, "a concurrent writer already advanced this process")
		}
		return nil, apierr.Wrap(apierr.KindDatabase, "TRANSITION.PERSIST.FAILED", err)
	}

	if o.Metrics != nil && toState.Terminal() {
		o.Metrics.OpenProcesses.WithLabelValues("transfer").Dec()
	}

	o.emit(notify.OperationOutgoingMessage, proc, msg)
	return newAck(proc), nil
}

func (o *Outbound) emit(op notify.Operation, proc *Process, msg *Message) {
	if o.Notifier == nil {
		return
	}
	o.Notifier.Emit(notify.Notification{
		Category:    notify.CategoryTransfer,
		Operation:   op,
		ProcessID:   proc.ID.String(),
		ProviderPid: proc.ProviderPid,
		ConsumerPid: proc.ConsumerPid,
		MessageType: string(msg.Type),
		State:       string(proc.State),
	})
}

// validatePids rejects non-URN identifiers before they reach the kernel
// (spec.md §9); legacy raw UUIDs are not accepted on this RPC surface.
func validatePids(providerPid, consumerPid string) error {
	if providerPid != "" && !corestate.ValidPid(providerPid) {
		return apierr.New(apierr.KindIdentifier, "PID.MALFORMED", "providerPid is not a valid URN").WithPids(providerPid, consumerPid)
	}
	if consumerPid != "" && !corestate.ValidPid(consumerPid) {
		return apierr.New(apierr.KindIdentifier, "PID.MALFORMED", "consumerPid is not a valid URN").WithPids(providerPid, consumerPid)
	}
	return nil
}
