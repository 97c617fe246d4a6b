// Copyright 2025 Certen Protocol
//
// RPC facade: role-local HTTP surface at /api/v1/transfers/rpc/<verb>.
package transfer

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
		logger = log.New(log.Writer(), "[TransferRPC] ", log.LstdFlags)
	}
	h := &RPCHandlers{outbound: outbound, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/transfers/rpc/setup-request", h.setupRequest)
	mux.HandleFunc("/api/v1/transfers/rpc/setup-start", h.setupStart)
	mux.HandleFunc("/api/v1/transfers/rpc/setup-suspension", h.setupSuspension)
	mux.HandleFunc("/api/v1/transfers/rpc/setup-completion", h.setupCompletion)
	mux.HandleFunc("/api/v1/transfers/rpc/setup-termination", h.setupTermination)
	return mux
}

type transferSetupRequestBody struct {
	PeerParticipantID string `json:"peerParticipantId"`
	AgreementID       string `json:"agreementId"`
	Format            string `json:"format"`
	CallbackAddress   string `json:"callbackAddress,omitempty"`
}

func (h *RPCHandlers) setupRequest(w http.ResponseWriter, r *http.Request) {
	var body transferSetupRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	ack, err := h.outbound.SetupRequest(r.Context(), SetupRequestInput{
		PeerParticipantID: body.PeerParticipantID,
		AgreementID:       body.AgreementID,
		Format:            body.Format,
		CallbackAddress:   body.CallbackAddress,
	})
	h.respond(w, ack, err)
}

type pidsBody struct {
	ProviderPid string   `json:"providerPid"`
	ConsumerPid string   `json:"consumerPid"`
	Code        string   `json:"code,omitempty"`
	Reason      []string `json:"reason,omitempty"`
}

func (h *RPCHandlers) setupStart(w http.ResponseWriter, r *http.Request) {
	var body pidsBody
	if !decodeBody(w, r, &body) {
		return
	}
	ack, err := h.outbound.SetupStart(r.Context(), body.ProviderPid, body.ConsumerPid)
	h.respond(w, ack, err)
}

func (h *RPCHandlers) setupSuspension(w http.ResponseWriter, r *http.Request) {
	var body pidsBody
	if !decodeBody(w, r, &body) {
		return
	}
	ack, err := h.outbound.SetupSuspension(r.Context(), body.ProviderPid, body.ConsumerPid, body.Code, body.Reason)
	h.respond(w, ack, err)
}

func (h *RPCHandlers) setupCompletion(w http.ResponseWriter, r *http.Request) {
	var body pidsBody
	if !decodeBody(w, r, &body) {
		return
	}
	ack, err := h.outbound.SetupCompletion(r.Context(), body.ProviderPid, body.ConsumerPid)
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
		apierr.WriteEnvelope(w, apierr.TransferErrorType, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		apierr.WriteEnvelope(w, apierr.TransferErrorType, apierr.New(apierr.KindProtocol, "METHOD.NOT.ALLOWED", "only POST is accepted"))
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apierr.WriteEnvelope(w, apierr.TransferErrorType, apierr.New(apierr.KindSchema, "BODY.MALFORMED", "request body is not valid JSON"))
		return false
	}
	return true
}
