package events

import "time"

// InvoiceValidated is emitted when an invoice enters the fiscal pipeline.
type InvoiceValidated struct {
	EventID    string    `json:"event_id"`
	InvoiceID  string    `json:"invoice_id"`
	IssuerID   string    `json:"issuer_id"`
	Number     string    `json:"number"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RecordAccepted is emitted when the tax agency accepts a fiscal record.
type RecordAccepted struct {
	EventID          string    `json:"event_id"`
	RecordID         string    `json:"record_id"`
	InvoiceID        string    `json:"invoice_id"`
	IssuerID         string    `json:"issuer_id"`
	Fingerprint      string    `json:"fingerprint"`
	ConfirmationCode string    `json:"confirmation_code"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// RecordRejected is emitted when the tax agency rejects a fiscal record.
type RecordRejected struct {
	EventID    string    `json:"event_id"`
	RecordID   string    `json:"record_id"`
	InvoiceID  string    `json:"invoice_id"`
	IssuerID   string    `json:"issuer_id"`
	ErrorCode  string    `json:"error_code"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SubmissionDeferred is emitted when connectivity loss defers a submission.
type SubmissionDeferred struct {
	EventID    string    `json:"event_id"`
	RecordID   string    `json:"record_id"`
	InvoiceID  string    `json:"invoice_id"`
	IssuerID   string    `json:"issuer_id"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ChainCorruptionDetected is emitted when chain linkage verification fails.
type ChainCorruptionDetected struct {
	EventID    string    `json:"event_id"`
	IssuerID   string    `json:"issuer_id"`
	RecordID   string    `json:"record_id"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"`
}
