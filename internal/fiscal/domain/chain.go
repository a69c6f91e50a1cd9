package fiscal

import "time"

// ChainState holds the fingerprint and sequence position of the last record
// accepted by the authority for one issuing entity. It is read to compute the
// next record's previous-fingerprint and advanced only after the authority
// confirms acceptance.
type ChainState struct {
	IssuerID        string
	LastFingerprint string // empty until the first record is accepted
	LastSequence    int64
	UpdatedAt       time.Time
}

// EnsureLink verifies that a record links to the current chain head.
func (c ChainState) EnsureLink(r Record) error {
	if r.PreviousFingerprint != c.LastFingerprint {
		return ErrChainCorruption
	}
	if r.Sequence != c.LastSequence+1 {
		return ErrChainCorruption
	}
	return nil
}

// Advanced returns the chain state after accepting the given record.
func (c ChainState) Advanced(r Record, at time.Time) ChainState {
	return ChainState{
		IssuerID:        c.IssuerID,
		LastFingerprint: r.Fingerprint,
		LastSequence:    r.Sequence,
		UpdatedAt:       at.UTC(),
	}
}
