// Copyright 2025 Certen Protocol
//
// HTTP surfaces for negotiation: the peer-facing protocol router and the
// role-local RPC router. Both follow the teacher's server idiom — a plain
// http.ServeMux with manual path parsing, no router framework.
package negotiation

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/rainbow-dsp/connector/pkg/apierr"
)

// ProtocolHandlers serves the peer-facing wire protocol surface.
type ProtocolHandlers struct {
	inbound *Inbound
	logger  *log.Logger
}

// NewProtocolRouter builds the peer-facing HTTP surface at
// /negotiations/... (spec.md §6).
func NewProtocolRouter(inbound *Inbound, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "[NegotiationProtocol] ", log.LstdFlags)
	}
	h := &ProtocolHandlers{inbound: inbound, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/negotiations/", h.route)
	return mux
}

// creationVerbs are the first path segment values that mean "no pid in the
// path" — a creation-style message (spec.md §6, "creation messages omit the
// pid path segment").
var creationVerbs = map[string]bool{"request": true, "offer": true}

// route parses /negotiations/{verb} (creation) or /negotiations/{pid}/{verb...}
// and dispatches.
func (h *ProtocolHandlers) route(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/negotiations/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		apierr.WriteEnvelope(w, apierr.NegotiationErrorType, apierr.New(apierr.KindIdentifier, "PID.REQUIRED", "path must carry a process identifier or verb"))
		return
	}

	if creationVerbs[parts[0]] {
		h.dispatch(w, r, "")
		return
	}
	if len(parts) < 2 {
		apierr.WriteEnvelope(w, apierr.NegotiationErrorType, apierr.New(apierr.KindIdentifier, "VERB.REQUIRED", "path must carry a verb after the process identifier"))
		return
	}
	h.dispatch(w, r, parts[0])
}

func (h *ProtocolHandlers) dispatch(w http.ResponseWriter, r *http.Request, pathPid string) {
	if r.Method != http.MethodPost {
		apierr.WriteEnvelope(w, apierr.NegotiationErrorType, apierr.New(apierr.KindProtocol, "METHOD.NOT.ALLOWED", "only POST is accepted"))
		return
	}

	token := bearerToken(r)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.WriteEnvelope(w, apierr.NegotiationErrorType, apierr.New(apierr.KindSchema, "BODY.UNREADABLE", "could not read request body"))
		return
	}

	ack, handleErr := h.inbound.Handle(r.Context(), pathPid, raw, token)
	if handleErr != nil {
		h.logger.Printf("inbound negotiation message rejected: %v", handleErr)
		apierr.WriteEnvelope(w, apierr.NegotiationErrorType, handleErr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	return ""
}
