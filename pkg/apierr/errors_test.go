// Copyright 2025 Certen Protocol
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWrap_NeverLeaksCauseIntoReason(t *testing.T) {
	cause := errors.New("pq: duplicate key value violates unique constraint \"negotiation_processes_pkey\"")
	err := Wrap(KindDatabase, "PROCESS.CREATE.FAILED", cause)

	for _, r := range err.Reason {
		if strings.Contains(r, "pq:") {
			t.Fatalf("Reason leaked the underlying cause: %v", err.Reason)
		}
	}
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose the original cause for errors.Is")
	}
}

func TestWriteEnvelope_StatusPerKind(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindSchema, http.StatusBadRequest},
		{KindIdentifier, http.StatusBadRequest},
		{KindProtocol, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindPeerUnreachable, http.StatusBadGateway},
		{KindPeerRejected, http.StatusBadGateway},
		{KindDatabase, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, c := range cases {
		rec := httptest.NewRecorder()
		WriteEnvelope(rec, NegotiationErrorType, New(c.kind, "SOME.CODE"))
		if rec.Code != c.want {
			t.Errorf("kind %s: expected status %d, got %d", c.kind, c.want, rec.Code)
		}
	}
}

func TestWriteEnvelope_NonAPIErrorBecomesInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteEnvelope(rec, TransferErrorType, errors.New("boom"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for an unrecognized error type, got %d", rec.Code)
	}

	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response was not valid JSON: %v", err)
	}
	if env.Code != "UNEXPECTED" {
		t.Errorf("expected code UNEXPECTED, got %s", env.Code)
	}
	if env.Reason == nil {
		t.Error("expected a non-nil reason slice even with no details")
	}
}

func TestWriteEnvelope_CarriesPids(t *testing.T) {
	rec := httptest.NewRecorder()
	err := New(KindNotFound, "PROCESS.NOT.FOUND").WithPids("urn:uuid:p", "urn:uuid:c")
	WriteEnvelope(rec, NegotiationErrorType, err)

	var env Envelope
	if decodeErr := json.Unmarshal(rec.Body.Bytes(), &env); decodeErr != nil {
		t.Fatalf("response was not valid JSON: %v", decodeErr)
	}
	if env.ProviderPid != "urn:uuid:p" || env.ConsumerPid != "urn:uuid:c" {
		t.Errorf("expected pids to round-trip, got %+v", env)
	}
}
