package postgres

import (
	"context"
	"database/sql"
	"errors"

	fiscal "verifactu-bridge/internal/fiscal/domain"
)

// StatusRepository persists the lifecycle state attached to host invoices.
// Writes commit immediately; a status change is a fact of its own, not part
// of any caller transaction.
type StatusRepository struct {
	db *sql.DB
}

// NewStatusRepository constructs a repository.
func NewStatusRepository(db *sql.DB) *StatusRepository {
	return &StatusRepository{db: db}
}

// Get fetches an invoice's fiscal state.
func (r *StatusRepository) Get(ctx context.Context, invoiceID string) (*fiscal.State, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("status repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT invoice_id, invoice_number, issuer_id, record_id, status,
	has_incident, error_detail, confirmation_code, generated_at, updated_at
FROM invoice_fiscal_status
WHERE invoice_id = $1
LIMIT 1`, invoiceID)
	return scanState(row)
}

// Save upserts the state row.
func (r *StatusRepository) Save(ctx context.Context, state *fiscal.State) error {
	if r == nil || r.db == nil {
		return errors.New("status repo: nil db")
	}
	if state == nil {
		return errors.New("status repo: nil state")
	}
	var generatedAt sql.NullTime
	if !state.GeneratedAt.IsZero() {
		generatedAt = sql.NullTime{Time: state.GeneratedAt.UTC(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO invoice_fiscal_status (
	invoice_id, invoice_number, issuer_id, record_id, status,
	has_incident, error_detail, confirmation_code, generated_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (invoice_id)
DO UPDATE SET
	invoice_number = EXCLUDED.invoice_number,
	record_id = EXCLUDED.record_id,
	status = EXCLUDED.status,
	has_incident = EXCLUDED.has_incident,
	error_detail = EXCLUDED.error_detail,
	confirmation_code = EXCLUDED.confirmation_code,
	generated_at = EXCLUDED.generated_at,
	updated_at = EXCLUDED.updated_at`,
		state.InvoiceID, state.InvoiceNumber, state.IssuerID, state.RecordID, string(state.Status),
		state.HasIncident, state.ErrorDetail, state.ConfirmationCode, generatedAt, state.UpdatedAt.UTC(),
	)
	return err
}

// ListNoConnectivity returns parked invoices in strict chain order: original
// issue date first, then invoice id as a tiebreaker. The recovery scheduler
// depends on this order; resubmitting out of order would corrupt linkage.
func (r *StatusRepository) ListNoConnectivity(ctx context.Context, limit int) ([]fiscal.State, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("status repo: nil db")
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT s.invoice_id, s.invoice_number, s.issuer_id, s.record_id, s.status,
	s.has_incident, s.error_detail, s.confirmation_code, s.generated_at, s.updated_at
FROM invoice_fiscal_status s
JOIN fiscal_records r ON r.id = s.record_id
WHERE s.status = $1
ORDER BY r.issue_date ASC, s.invoice_id ASC
LIMIT $2`, string(fiscal.StatusNoConnectivity), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []fiscal.State
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanState(row rowScanner) (*fiscal.State, error) {
	var state fiscal.State
	var status string
	var generatedAt sql.NullTime
	err := row.Scan(
		&state.InvoiceID, &state.InvoiceNumber, &state.IssuerID, &state.RecordID, &status,
		&state.HasIncident, &state.ErrorDetail, &state.ConfirmationCode, &generatedAt, &state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fiscal.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	normalized, ok := fiscal.NormalizeStatus(status)
	if !ok {
		return nil, errors.New("status repo: unknown status " + status)
	}
	state.Status = normalized
	if generatedAt.Valid {
		state.GeneratedAt = generatedAt.Time.UTC()
	}
	state.UpdatedAt = state.UpdatedAt.UTC()
	return &state, nil
}
