package notify

import "context"

// Alert kinds sent to operators.
const (
	KindRejected        = "rejected"
	KindChainCorruption = "chain_corruption"
)

// AlertMessage represents an operator notification payload.
type AlertMessage struct {
	Kind              string            `json:"kind"`
	IssuerID          string            `json:"issuer_id"`
	InvoiceID         string            `json:"invoice_id"`
	InvoiceNumber     string            `json:"invoice_number"`
	RecordID          string            `json:"record_id"`
	ErrorCode         string            `json:"error_code"`
	Detail            string            `json:"detail"`
	RecommendedAction string            `json:"recommended_action"`
	Meta              map[string]string `json:"meta,omitempty"`
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, msg AlertMessage) error
}
