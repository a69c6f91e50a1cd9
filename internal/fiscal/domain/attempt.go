package fiscal

import "time"

// Submission attempt outcomes.
const (
	AttemptOutcomeAccepted       = "accepted"
	AttemptOutcomeRejected       = "rejected"
	AttemptOutcomeNoConnectivity = "no_connectivity"
	AttemptOutcomeServiceError   = "service_error"
)

// Attempt records one try of sending a record to the authority. A record may
// accumulate several attempts across retries; the terminal status derives
// from the latest one.
type Attempt struct {
	ID               string
	RecordID         string
	InvoiceID        string
	IssuerID         string
	Outcome          string
	ErrorCode        string
	ErrorDetail      string
	ConfirmationCode string
	RawResponse      []byte
	AttemptedAt      time.Time
}
