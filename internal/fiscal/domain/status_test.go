package fiscal

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusNotSent, StatusQueued, true},
		{StatusNotSent, StatusAccepted, false},
		{StatusQueued, StatusAccepted, true},
		{StatusQueued, StatusRejected, true},
		{StatusQueued, StatusNoConnectivity, true},
		{StatusNoConnectivity, StatusQueued, true},
		{StatusNoConnectivity, StatusAccepted, false},
		{StatusRejected, StatusQueued, true},
		{StatusAccepted, StatusQueued, false},
		{StatusAccepted, StatusRejected, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestTransitionSetsPermanentIncidentFlag(t *testing.T) {
	state := &State{InvoiceID: "inv-1", Status: StatusQueued}
	now := time.Now()

	if err := state.Transition(StatusNoConnectivity, now); err != nil {
		t.Fatalf("transition to no_connectivity: %v", err)
	}
	if !state.HasIncident {
		t.Fatal("incident flag must be set on no_connectivity")
	}
	state.ErrorDetail = "dial tcp: no route to host"

	if err := state.Transition(StatusQueued, now); err != nil {
		t.Fatalf("retry transition: %v", err)
	}
	if state.ErrorDetail != "" {
		t.Fatalf("connectivity error annotation must be cleared, got %q", state.ErrorDetail)
	}
	if !state.HasIncident {
		t.Fatal("incident flag must survive a successful retry")
	}

	if err := state.Transition(StatusAccepted, now); err != nil {
		t.Fatalf("accept transition: %v", err)
	}
	if !state.HasIncident {
		t.Fatal("incident flag is never cleared")
	}
}

func TestTransitionRejectsInvalidMove(t *testing.T) {
	state := &State{InvoiceID: "inv-1", Status: StatusAccepted}
	if err := state.Transition(StatusQueued, time.Now()); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestEnsureMutable(t *testing.T) {
	accepted := &State{InvoiceID: "inv-1", InvoiceNumber: "FA-2026-001", Status: StatusAccepted}
	if err := accepted.EnsureMutable("PROV-"); err != ErrImmutableFiscalRecord {
		t.Fatalf("expected ErrImmutableFiscalRecord, got %v", err)
	}

	provisional := &State{InvoiceID: "inv-2", InvoiceNumber: "PROV-17", Status: StatusAccepted}
	if err := provisional.EnsureMutable("PROV-"); err != nil {
		t.Fatalf("provisional invoices stay editable, got %v", err)
	}

	pending := &State{InvoiceID: "inv-3", InvoiceNumber: "FA-2026-002", Status: StatusNoConnectivity}
	if err := pending.EnsureMutable("PROV-"); err != nil {
		t.Fatalf("non-accepted invoices stay editable, got %v", err)
	}
}
