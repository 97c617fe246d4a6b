// Copyright 2025 Certen Protocol
//
// RPC facade: role-local HTTP surface at /api/v1/negotiations/rpc/<verb>,
// fronting the Outbound orchestrator for local callers (spec.md §6).
package negotiation

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/rainbow-dsp/connector/pkg/apierr"
)

// RPCHandlers serves the role-local RPC verbs.
type RPCHandlers struct {
	outbound *Outbound
	logger   *log.Logger
}

// NewRPCRouter builds the role-local RPC surface.
func NewRPCRouter(outbound *Outbound, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "[NegotiationRPC] ", log.LstdFlags)
	}
	h := &RPCHandlers{outbound: outbound, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/negotiations/rpc/setup-request", h.setupRequest)
	mux.HandleFunc("/api/v1/negotiations/rpc/setup-agreement", h.setupAgreement)
	mux.HandleFunc("/api/v1/negotiations/rpc/setup-accept", h.setupAccept)
	mux.HandleFunc("/api/v1/negotiations/rpc/setup-verification", h.setupVerification)
	mux.HandleFunc("/api/v1/negotiations/rpc/setup-finalization", h.setupFinalization)
	mux.HandleFunc("/api/v1/negotiations/rpc/setup-termination", h.setupTermination)
	return mux
}

type setupRequestBody struct {
	ProviderPid       string          `json:"providerPid,omitempty"`
	ConsumerPid       string          `json:"consumerPid,omitempty"`
	PeerParticipantID string          `json:"peerParticipantId"`
	Offer             json.RawMessage `json:"offer"`
}

func (h *RPCHandlers) setupRequest(w http.ResponseWriter, r *http.Request) {
	var body setupRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	ack, err := h.outbound.SetupRequest(r.Context(), SetupRequestInput{
		ProviderPid:       body.ProviderPid,
		ConsumerPid:       body.ConsumerPid,
		PeerParticipantID: body.PeerParticipantID,
		Offer:             body.Offer,
	})
	h.respond(w, ack, err)
}

type setupAgreementBody struct {
	ProviderPid   string          `json:"providerPid"`
	ConsumerPid   string          `json:"consumerPid"`
	Agreement     json.RawMessage `json:"agreement"`
	ConsumerParty string          `json:"assignee"`
	ProviderParty string          `json:"assigner"`
}

func (h *RPCHandlers) setupAgreement(w http.ResponseWriter, r *http.Request) {
	var body setupAgreementBody
	if !decodeBody(w, r, &body) {
		return
	}
	ack, err := h.outbound.SetupAgreement(r.Context(), body.ProviderPid, body.ConsumerPid, body.Agreement, body.ConsumerParty, body.ProviderParty)
	h.respond(w, ack, err)
}

type pidsBody struct {
	ProviderPid string   `json:"providerPid"`
	ConsumerPid string   `json:"consumerPid"`
	Code        string   `json:"code,omitempty"`
	Reason      []string `json:"reason,omitempty"`
}

func (h *RPCHandlers) setupAccept(w http.ResponseWriter, r *http.Request) {
	var body pidsBody
	if !decodeBody(w, r, &body) {
		return
	}
	ack, err := h.outbound.SetupAccept(r.Context(), body.ProviderPid, body.ConsumerPid)
	h.respond(w, ack, err)
}

func (h *RPCHandlers) setupVerification(w http.ResponseWriter, r *http.Request) {
	var body pidsBody
	if !decodeBody(w, r, &body) {
		return
	}
	ack, err := h.outbound.SetupVerification(r.Context(), body.ProviderPid, body.ConsumerPid)
	h.respond(w, ack, err)
}

func (h *RPCHandlers) setupFinalization(w http.ResponseWriter, r *http.Request) {
	var body pidsBody
	if !decodeBody(w, r, &body) {
		return
	}
	ack, err := h.outbound.SetupFinalization(r.Context(), body.ProviderPid, body.ConsumerPid)
	h.respond(w, ack, err)
}

func (h *RPCHandlers) setupTermination(w http.ResponseWriter, r *http.Request) {
	var body pidsBody
	if !decodeBody(w, r, &body) {
		return
	}
	ack, err := h.outbound.SetupTermination(r.Context(), body.ProviderPid, body.ConsumerPid, body.Code, body.Reason)
	h.respond(w, ack, err)
}

func (h *RPCHandlers) respond(w http.ResponseWriter, ack *Ack, err error) {
	if err != nil {
		apierr.WriteEnvelope(w, apierr.NegotiationErrorType, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		apierr.WriteEnvelope(w, apierr.NegotiationErrorType, apierr.New(apierr.KindProtocol, "METHOD.NOT.ALLOWED", "only POST is accepted"))
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apierr.WriteEnvelope(w, apierr.NegotiationErrorType, apierr.New(apierr.KindSchema, "BODY.MALFORMED", "request body is not valid JSON"))
		return false
	}
	return true
}
