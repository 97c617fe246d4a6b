// Copyright 2025 Certen Protocol
//
// Outbound orchestrator and RPC facade: local callers drive the negotiation
// forward via named verbs rather than wire messages (spec.md §4.4).
package negotiation

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

// Outbound drives negotiation forward motion on behalf of a local caller.
type Outbound struct {
	Kernel            *Kernel
	Store             Store
	Mates             *mates.Registry
	Notifier          *notify.Bus
	Metrics           *metrics.Registry
	SelfRole          corestate.Role
	SelfParticipantID string
	MaxOffers         int
	HTTPClient        *http.Client
}

// NewOutbound builds an Outbound with the teacher's fixed-timeout client
// idiom (attestation.Service.requestFromPeer).
func NewOutbound(k *Kernel, store Store, registry *mates.Registry, notifier *notify.Bus, selfRole corestate.Role, selfParticipantID string, maxOffers int, timeout time.Duration) *Outbound {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Outbound{
		Kernel: k, Store: store, Mates: registry, Notifier: notifier,
		SelfRole: selfRole, SelfParticipantID: selfParticipantID, MaxOffers: maxOffers,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// SetupRequestInput is the RPC input for setup-request: first contact (no
// pids) or a re-request / counter-request against an existing process.
type SetupRequestInput struct {
	ProviderPid string
	ConsumerPid string
	PeerParticipantID string
	Offer json.RawMessage
}

// SetupRequest implements the consumer's `setup-request` verb and the
// consumer's counter-request on an existing offer.
func (o *Outbound) SetupRequest(ctx context.Context, in SetupRequestInput) (*Ack, error) {
	if in.Offer == nil {
		return nil, apierr.New(apierr.KindSchema, "OFFER.REQUIRED", "setup-request requires an offer")
	}
	if err := validatePids(in.ProviderPid, in.ConsumerPid); err != nil {
		return nil, err
	}

	mate, err := o.Mates.Resolve(ctx, in.PeerParticipantID)
	if err != nil {
		return nil, apierr.New(apierr.KindNotFound, "PEER.UNKNOWN", "peer participant is not registered in the Mates registry")
	}

	var proc *Process
	creation := in.ProviderPid == "" && in.ConsumerPid == ""
	if !creation {
		proc, err = o.findExisting(ctx, in.ProviderPid, in.ConsumerPid)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindDatabase, "PROCESS.LOOKUP.FAILED", err)
		}
		if proc == nil {
			return nil, apierr.New(apierr.KindNotFound, ReasonProcessNotFound, "no process matches the given identifiers")
		}
	}

	fromState := stateNone
	if proc != nil {
		fromState = proc.State
	}
	toState, ok := o.Kernel.Decide(fromState, MsgContractRequest, o.SelfRole)
	if !ok {
		return nil, apierr.New(apierr.KindProtocol, ReasonIllegalTransition, fmt.Sprintf("no transition from %s on %s", fromState, MsgContractRequest))
	}

	wire := WireMessage{Context: dspaceContext, Type: MsgContractRequest, Offer: in.Offer}
	var selfPid string
	if creation {
		selfPid = newPid()
		if o.SelfRole == corestate.RoleConsumer {
			wire.ConsumerPid = selfPid
		} else {
			wire.ProviderPid = selfPid
		}
	} else {
		wire.ProviderPid, wire.ConsumerPid = proc.ProviderPid, proc.ConsumerPid
	}

	peerPid := wire.ProviderPid
	if o.SelfRole == corestate.RoleProvider {
		peerPid = wire.ConsumerPid
	}

	resp, err := o.post(ctx, mate, "negotiations", peerPid, "request", wire)
	if err != nil {
		return nil, err
	}

	return o.commit(ctx, proc, creation, wire, resp, toState, mate, selfPid)
}

// SetupAgreement implements the provider's `setup-agreement` verb.
func (o *Outbound) SetupAgreement(ctx context.Context, providerPid, consumerPid string, agreement json.RawMessage, consumerParty, providerParty string) (*Ack, error) {
	return o.sendOnExisting(ctx, providerPid, consumerPid, MsgContractAgreement, func(wire *WireMessage) {
		wire.Agreement = agreement
		wire.ConsumerParty = consumerParty
		wire.ProviderParty = providerParty
	})
}

// SetupVerification implements the consumer's `setup-verification` verb.
func (o *Outbound) SetupVerification(ctx context.Context, providerPid, consumerPid string) (*Ack, error) {
	return o.sendOnExisting(ctx, providerPid, consumerPid, MsgAgreementVerification, nil)
}

// SetupAccept implements the consumer's `setup-accept` verb (event=accepted).
func (o *Outbound) SetupAccept(ctx context.Context, providerPid, consumerPid string) (*Ack, error) {
	return o.sendOnExisting(ctx, providerPid, consumerPid, MsgNegotiationEvent, func(wire *WireMessage) {
		wire.EventType = EventAccepted
	})
}

// SetupFinalization implements the provider's `setup-finalization` verb
// (event=finalized).
func (o *Outbound) SetupFinalization(ctx context.Context, providerPid, consumerPid string) (*Ack, error) {
	return o.sendOnExisting(ctx, providerPid, consumerPid, MsgNegotiationEvent, func(wire *WireMessage) {
		wire.EventType = EventFinalized
	})
}

// SetupTermination implements `setup-termination`, legal from either role.
func (o *Outbound) SetupTermination(ctx context.Context, providerPid, consumerPid, code string, reason []string) (*Ack, error) {
	return o.sendOnExisting(ctx, providerPid, consumerPid, MsgNegotiationTermination, func(wire *WireMessage) {
		wire.Code = code
		wire.Reason = reason
	})
}

func (o *Outbound) sendOnExisting(ctx context.Context, providerPid, consumerPid string, msgType MessageType, mutate func(*WireMessage)) (*Ack, error) {
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
		mutate(&wire)
	}

	peerPid := proc.ProviderPid
	verb := verbFor(msgType)
	if o.SelfRole == corestate.RoleProvider {
		peerPid = proc.ConsumerPid
	}

	resp, err := o.post(ctx, mate, "negotiations", peerPid, verb, wire)
	if err != nil {
		return nil, err
	}
	return o.commit(ctx, proc, false, wire, resp, toState, mate, "")
}

func verbFor(t MessageType) string {
	switch t {
	case MsgContractAgreement:
		return "agreement"
	case MsgAgreementVerification:
		return "agreement/verification"
	case MsgNegotiationEvent:
		return "events"
	case MsgNegotiationTermination:
		return "termination"
	case MsgContractOffer:
		return "offer"
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
// spec.md §7 using the teacher's requestFromPeer idiom: transport errors
// become PeerUnreachable, non-2xx become PeerRejected with the peer's error
// envelope nested.
func (o *Outbound) post(ctx context.Context, mate *mates.Mate, plural, peerPid, verb string, wire WireMessage) (ack *Ack, err error) {
	if o.Metrics != nil {
		start := time.Now()
		defer func() {
			outcome := "accepted"
			if err != nil {
				outcome = "rejected"
			}
			o.Metrics.OutboundTotal.WithLabelValues("negotiation", verb, outcome).Inc()
			o.Metrics.OutboundDuration.WithLabelValues("negotiation", verb).Observe(time.Since(start).Seconds())
		}()
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "MESSAGE.MARSHAL.FAILED", err)
	}

	url := fmt.Sprintf("%s/%s", mate.BaseURL, plural)
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

// commit applies the same atomic persistence step as the inbound path, with
// direction = Outbound, only after the peer has accepted (spec.md §4.4 step 6).
func (o *Outbound) commit(ctx context.Context, proc *Process, creation bool, wire WireMessage, peerAck *Ack, toState State, mate *mates.Mate, selfAssignedPid string) (*Ack, error) {
	now := time.Now()
	msgID := uuid.New()
	msg := &Message{
		ID:        msgID,
		Type:      wire.Type,
		FromRole:  o.SelfRole,
		ToRole:    o.SelfRole.Other(),
		FromState: stateNone,
		ToState:   toState,
		Direction: corestate.DirectionOutbound,
		Raw:       mustMarshal(wire),
		Timestamp: now,
	}

	var offer *Offer
	var agreement *Agreement
	if wire.Type == MsgContractRequest || wire.Type == MsgContractOffer {
		offer = &Offer{ID: uuid.New(), MessageID: msgID, Content: wire.Offer, CreatedAt: now}
	}
	if wire.Type == MsgContractAgreement {
		agreement = &Agreement{ID: uuid.New(), MessageID: msgID, ConsumerParticipant: wire.ConsumerParty, ProviderParticipant: wire.ProviderParty, Content: wire.Agreement, CreatedAt: now}
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
			State:           toState,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		msg.FromState = stateNone
		msg.ProcessID = proc.ID
		if offer != nil {
			offer.ProcessID = proc.ID
		}
		if err := o.Store.CreateProcess(ctx, proc, msg); err != nil {
			return nil, apierr.Wrap(apierr.KindDatabase, "PROCESS.CREATE.FAILED", err)
		}
		if o.Metrics != nil {
			o.Metrics.OpenProcesses.WithLabelValues("negotiation").Inc()
		}
		o.emit(notify.OperationOutgoingMessage, proc, msg)
		return newAck(proc), nil
	}

	msg.FromState = proc.State
	msg.ProcessID = proc.ID
	if offer != nil {
		offer.ProcessID = proc.ID
	}
	if agreement != nil {
		agreement.ProcessID = proc.ID
	}

	proc.State = toState
	proc.UpdatedAt = now
	proc.Revision++

	if err := o.Store.ApplyTransition(ctx, proc, msg, offer, agreement, nil); err != nil {
		if err == ErrConflict {
			return nil, apierr.New(apierr.KindProtocol, ReasonIllegalTransition, "a concurrent writer already advanced this process")
		}
		return nil, apierr.Wrap(apierr.KindDatabase, "TRANSITION.PERSIST.FAILED", err)
	}

	if wire.Type == MsgAgreementVerification {
		if err := o.Store.ActivateAgreement(ctx, proc.ID); err != nil {
			return nil, apierr.Wrap(apierr.KindDatabase, "AGREEMENT.ACTIVATE.FAILED", err)
		}
	}

	if o.Metrics != nil && toState.Terminal() {
		o.Metrics.OpenProcesses.WithLabelValues("negotiation").Dec()
	}

	o.emit(notify.OperationOutgoingMessage, proc, msg)
	return newAck(proc), nil
}

func (o *Outbound) emit(op notify.Operation, proc *Process, msg *Message) {
	if o.Notifier == nil {
		return
	}
	o.Notifier.Emit(notify.Notification{
		Category:    notify.CategoryNegotiation,
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

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
