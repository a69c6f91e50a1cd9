package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	fiscal "verifactu-bridge/internal/fiscal/domain"
)

// RecordRepository persists fiscal records. Records are append-only; the only
// column ever updated is the incident flag, raised when a parked record is
// retried after a connectivity failure.
type RecordRepository struct {
	db *sql.DB
}

// NewRecordRepository constructs a repository.
func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Save inserts a record. Saving an existing id is a no-op so retries cannot
// overwrite a frozen record.
func (r *RecordRepository) Save(ctx context.Context, record *fiscal.Record) error {
	if r == nil || r.db == nil {
		return errors.New("record repo: nil db")
	}
	if record == nil {
		return errors.New("record repo: nil record")
	}
	lines, err := json.Marshal(record.Lines)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO fiscal_records (
	id, record_type, issuer_id, issuer_name, invoice_id, invoice_number,
	issue_date, invoice_type, tax_regime, qualification, exemption,
	recipient_id_type, recipient_id, recipient_name,
	tax_lines, tax_amount, total_amount,
	sequence_position, previous_fingerprint, fingerprint,
	generated_at, has_incident, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23
)
ON CONFLICT (id) DO NOTHING`,
		record.ID, record.Type, record.IssuerID, record.IssuerName, record.InvoiceID, record.InvoiceNumber,
		record.IssueDate.UTC(), record.InvoiceType, record.TaxRegime, record.Qualification, record.Exemption,
		record.RecipientIDType, record.RecipientID, record.RecipientName,
		lines, record.TaxAmount, record.TotalAmount,
		record.Sequence, record.PreviousFingerprint, record.Fingerprint,
		record.GeneratedAt.UTC(), record.HasIncident, record.CreatedAt.UTC(),
	)
	return err
}

// MarkIncident raises the incident flag on a record. The flag is never
// lowered.
func (r *RecordRepository) MarkIncident(ctx context.Context, recordID string) error {
	if r == nil || r.db == nil {
		return errors.New("record repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE fiscal_records
SET has_incident = TRUE
WHERE id = $1`, recordID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fiscal.ErrRecordNotFound
	}
	return nil
}

// Get fetches a record by id.
func (r *RecordRepository) Get(ctx context.Context, recordID string) (*fiscal.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("record repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, selectRecord+`
WHERE id = $1
LIMIT 1`, recordID)
	return scanRecord(row)
}

// LatestByInvoice fetches the most recent record built for an invoice.
// Rejected invoices accumulate earlier records that stay for audit.
func (r *RecordRepository) LatestByInvoice(ctx context.Context, invoiceID string) (*fiscal.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("record repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, selectRecord+`
WHERE invoice_id = $1
ORDER BY created_at DESC
LIMIT 1`, invoiceID)
	return scanRecord(row)
}

// ListByIssuer returns an issuer's records in chain order.
func (r *RecordRepository) ListByIssuer(ctx context.Context, issuerID string, limit int) ([]fiscal.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("record repo: nil db")
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, selectRecord+`
WHERE issuer_id = $1
ORDER BY sequence_position ASC
LIMIT $2`, issuerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []fiscal.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const selectRecord = `
SELECT id, record_type, issuer_id, issuer_name, invoice_id, invoice_number,
	issue_date, invoice_type, tax_regime, qualification, exemption,
	recipient_id_type, recipient_id, recipient_name,
	tax_lines, tax_amount, total_amount,
	sequence_position, previous_fingerprint, fingerprint,
	generated_at, has_incident, created_at
FROM fiscal_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*fiscal.Record, error) {
	var record fiscal.Record
	var lines []byte
	err := row.Scan(
		&record.ID, &record.Type, &record.IssuerID, &record.IssuerName, &record.InvoiceID, &record.InvoiceNumber,
		&record.IssueDate, &record.InvoiceType, &record.TaxRegime, &record.Qualification, &record.Exemption,
		&record.RecipientIDType, &record.RecipientID, &record.RecipientName,
		&lines, &record.TaxAmount, &record.TotalAmount,
		&record.Sequence, &record.PreviousFingerprint, &record.Fingerprint,
		&record.GeneratedAt, &record.HasIncident, &record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fiscal.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &record.Lines); err != nil {
			return nil, err
		}
	}
	record.IssueDate = record.IssueDate.UTC()
	record.GeneratedAt = record.GeneratedAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	return &record, nil
}
