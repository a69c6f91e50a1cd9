package fiscal

import "errors"

var (
	// ErrMissingRequiredIdentification is returned when a recipient lacks the
	// identification required for a non-simplified invoice.
	ErrMissingRequiredIdentification = errors.New("fiscal: missing required recipient identification")
	// ErrImmutableFiscalRecord is returned when an accepted invoice is modified.
	ErrImmutableFiscalRecord = errors.New("fiscal: record accepted by the authority is immutable")
	// ErrChainCorruption is returned when a record does not link to the last
	// accepted fingerprint. Submissions for the issuer must halt until the
	// chain is reconciled manually.
	ErrChainCorruption = errors.New("fiscal: chain linkage mismatch")
	// ErrInvalidTransition is returned on a disallowed status transition.
	ErrInvalidTransition = errors.New("fiscal: invalid status transition")
	// ErrRecordNotFound is returned when a fiscal record is not found.
	ErrRecordNotFound = errors.New("fiscal: record not found")
	// ErrStateNotFound is returned when an invoice has no fiscal state row.
	ErrStateNotFound = errors.New("fiscal: invoice state not found")
	// ErrCancellationRejected is returned when the authority rejects a
	// cancellation record. The original invoice stays registered.
	ErrCancellationRejected = errors.New("fiscal: cancellation rejected by the authority")
	// ErrAuthorityUnavailable is returned when a synchronous operation could
	// not obtain a definitive answer from the authority.
	ErrAuthorityUnavailable = errors.New("fiscal: authority unavailable")
	// ErrExemptionConflict is returned when both an operation qualification and
	// an exemption code are set on the same record.
	ErrExemptionConflict = errors.New("fiscal: qualification and exemption are mutually exclusive")
)
