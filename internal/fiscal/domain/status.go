package fiscal

import (
	"strings"
	"time"
)

// Status is an invoice's fiscal lifecycle status.
type Status string

const (
	StatusNotSent        Status = "not_sent"
	StatusQueued         Status = "queued"
	StatusNoConnectivity Status = "no_connectivity"
	StatusRejected       Status = "rejected"
	StatusAccepted       Status = "accepted"
)

var transitions = map[Status][]Status{
	StatusNotSent:        {StatusQueued},
	StatusQueued:         {StatusAccepted, StatusRejected, StatusNoConnectivity},
	StatusNoConnectivity: {StatusQueued},
	// rejection sends the invoice back to draft; re-validation starts a fresh
	// record from not_sent
	StatusRejected: {StatusQueued},
	StatusAccepted: {},
}

// CanTransition reports whether the transition from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusAccepted
}

// State is the fiscal lifecycle tag attached to a host invoice. It is
// persisted durably on every transition, independently of any enclosing
// business transaction, because the authority's acknowledgment cannot be
// undone once received.
type State struct {
	InvoiceID        string
	InvoiceNumber    string
	IssuerID         string
	RecordID         string
	Status           Status
	HasIncident      bool // set on connectivity failure, never cleared
	ErrorDetail      string
	ConfirmationCode string
	GeneratedAt      time.Time
	UpdatedAt        time.Time
}

// Transition moves the state to next, enforcing the transition table.
// Entering no_connectivity sets the permanent incident flag. Leaving
// no_connectivity clears the connectivity-error annotation but keeps the
// incident flag for audit.
func (s *State) Transition(next Status, at time.Time) error {
	if !s.Status.CanTransition(next) {
		return ErrInvalidTransition
	}
	if next == StatusNoConnectivity {
		s.HasIncident = true
	}
	if s.Status == StatusNoConnectivity && next == StatusQueued {
		s.ErrorDetail = ""
	}
	s.Status = next
	s.UpdatedAt = at.UTC()
	return nil
}

// EnsureMutable fails with ErrImmutableFiscalRecord once the record has been
// accepted. Invoices numbered with the provisional prefix are pre-fiscal and
// stay freely editable.
func (s *State) EnsureMutable(provisionalPrefix string) error {
	if s == nil {
		return nil
	}
	if provisionalPrefix != "" && strings.HasPrefix(s.InvoiceNumber, provisionalPrefix) {
		return nil
	}
	if s.Status == StatusAccepted {
		return ErrImmutableFiscalRecord
	}
	return nil
}

// NormalizeStatus validates a stored status string.
func NormalizeStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusNotSent, StatusQueued, StatusNoConnectivity, StatusRejected, StatusAccepted:
		return Status(value), true
	default:
		return "", false
	}
}
