package postgres

import (
	"context"
	"database/sql"
	"errors"

	fiscal "verifactu-bridge/internal/fiscal/domain"
)

// ChainRepository persists the per-issuer chain head. Advancing the head is
// an atomic read-modify-write: the row is locked for the duration of the
// transaction so concurrent submissions for one issuer serialize.
type ChainRepository struct {
	db *sql.DB
}

// NewChainRepository constructs a repository.
func NewChainRepository(db *sql.DB) *ChainRepository {
	return &ChainRepository{db: db}
}

// Get returns the chain head for an issuer. An issuer with no accepted
// record yet gets a zero head (empty fingerprint, sequence 0).
func (r *ChainRepository) Get(ctx context.Context, issuerID string) (fiscal.ChainState, error) {
	if r == nil || r.db == nil {
		return fiscal.ChainState{}, errors.New("chain repo: nil db")
	}
	state := fiscal.ChainState{IssuerID: issuerID}
	err := r.db.QueryRowContext(ctx, `
SELECT last_fingerprint, last_sequence, updated_at
FROM fiscal_chain_state
WHERE issuer_id = $1
LIMIT 1`, issuerID).Scan(&state.LastFingerprint, &state.LastSequence, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return fiscal.ChainState{}, err
	}
	state.UpdatedAt = state.UpdatedAt.UTC()
	return state, nil
}

// Advance moves the chain head to the given state. The current row is read
// under FOR UPDATE and the new sequence must be exactly one past it;
// anything else is a linkage fault and the head stays where it was.
func (r *ChainRepository) Advance(ctx context.Context, state fiscal.ChainState) error {
	if r == nil || r.db == nil {
		return errors.New("chain repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	var current int64
	err = tx.QueryRowContext(ctx, `
SELECT last_sequence
FROM fiscal_chain_state
WHERE issuer_id = $1
FOR UPDATE`, state.IssuerID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return err
	}
	if state.LastSequence != current+1 {
		_ = tx.Rollback()
		return fiscal.ErrChainCorruption
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO fiscal_chain_state (issuer_id, last_fingerprint, last_sequence, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (issuer_id)
DO UPDATE SET
	last_fingerprint = EXCLUDED.last_fingerprint,
	last_sequence = EXCLUDED.last_sequence,
	updated_at = EXCLUDED.updated_at`,
		state.IssuerID, state.LastFingerprint, state.LastSequence, state.UpdatedAt.UTC())
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
