package postgres

import (
	"context"
	"database/sql"
	"errors"

	fiscal "verifactu-bridge/internal/fiscal/domain"
)

// AttemptRepository persists submission attempts. Attempts are the audit
// trail of every round-trip to the authority, successful or not.
type AttemptRepository struct {
	db *sql.DB
}

// NewAttemptRepository constructs a repository.
func NewAttemptRepository(db *sql.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Save inserts an attempt.
func (r *AttemptRepository) Save(ctx context.Context, attempt *fiscal.Attempt) error {
	if r == nil || r.db == nil {
		return errors.New("attempt repo: nil db")
	}
	if attempt == nil {
		return errors.New("attempt repo: nil attempt")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO submission_attempts (
	id, record_id, invoice_id, issuer_id, outcome,
	error_code, error_detail, confirmation_code, raw_response, attempted_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (id) DO NOTHING`,
		attempt.ID, attempt.RecordID, attempt.InvoiceID, attempt.IssuerID, attempt.Outcome,
		attempt.ErrorCode, attempt.ErrorDetail, attempt.ConfirmationCode, attempt.RawResponse, attempt.AttemptedAt.UTC(),
	)
	return err
}

// ListByInvoice returns an invoice's attempts in chronological order.
func (r *AttemptRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]fiscal.Attempt, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("attempt repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, record_id, invoice_id, issuer_id, outcome,
	error_code, error_detail, confirmation_code, raw_response, attempted_at
FROM submission_attempts
WHERE invoice_id = $1
ORDER BY attempted_at ASC, id ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

// ListByIssuer returns an issuer's attempts in a time window, newest first.
func (r *AttemptRepository) ListByIssuer(ctx context.Context, issuerID string, limit int) ([]fiscal.Attempt, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("attempt repo: nil db")
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, record_id, invoice_id, issuer_id, outcome,
	error_code, error_detail, confirmation_code, raw_response, attempted_at
FROM submission_attempts
WHERE issuer_id = $1
ORDER BY attempted_at DESC
LIMIT $2`, issuerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func collectAttempts(rows *sql.Rows) ([]fiscal.Attempt, error) {
	var result []fiscal.Attempt
	for rows.Next() {
		var attempt fiscal.Attempt
		var raw []byte
		err := rows.Scan(
			&attempt.ID, &attempt.RecordID, &attempt.InvoiceID, &attempt.IssuerID, &attempt.Outcome,
			&attempt.ErrorCode, &attempt.ErrorDetail, &attempt.ConfirmationCode, &raw, &attempt.AttemptedAt,
		)
		if err != nil {
			return nil, err
		}
		attempt.RawResponse = raw
		attempt.AttemptedAt = attempt.AttemptedAt.UTC()
		result = append(result, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
