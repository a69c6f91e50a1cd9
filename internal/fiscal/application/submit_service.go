package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	certstore "verifactu-bridge/internal/certstore/domain"
	"verifactu-bridge/internal/fiscal/application/events"
	fiscal "verifactu-bridge/internal/fiscal/domain"
	"verifactu-bridge/internal/fiscal/notify"
	"verifactu-bridge/internal/observability/metrics"
	"verifactu-bridge/internal/verifactu"
)

// RecordRepository persists fiscal records. Records are immutable except for
// the incident flag, which is raised when a parked record is retried.
type RecordRepository interface {
	Save(ctx context.Context, record *fiscal.Record) error
	Get(ctx context.Context, recordID string) (*fiscal.Record, error)
	LatestByInvoice(ctx context.Context, invoiceID string) (*fiscal.Record, error)
	MarkIncident(ctx context.Context, recordID string) error
}

// ChainRepository persists per-issuer chain state. Advance must be atomic
// with respect to concurrent submissions for the same issuer.
type ChainRepository interface {
	Get(ctx context.Context, issuerID string) (fiscal.ChainState, error)
	Advance(ctx context.Context, state fiscal.ChainState) error
}

// AttemptRepository persists submission attempts for audit.
type AttemptRepository interface {
	Save(ctx context.Context, attempt *fiscal.Attempt) error
}

// StatusRepository persists the invoice lifecycle state. Every write is a
// committed fact, independent of any broader unit of work.
type StatusRepository interface {
	Get(ctx context.Context, invoiceID string) (*fiscal.State, error)
	Save(ctx context.Context, state *fiscal.State) error
}

// Submitter performs the remote round-trip.
type Submitter interface {
	Submit(ctx context.Context, record fiscal.Record, identity *certstore.SigningIdentity) (verifactu.Outcome, error)
}

// IdentityProvider resolves the signing identity of an issuer.
type IdentityProvider interface {
	Identity(ctx context.Context, issuerEntityID string) (*certstore.SigningIdentity, error)
}

// Publisher writes domain events to the outbox.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// SubmitService runs the build-fingerprint-submit pipeline. Submissions for
// one issuer are serialized because the chain enforces a total order;
// different issuers proceed independently.
type SubmitService struct {
	builder    *Builder
	records    RecordRepository
	chains     ChainRepository
	attempts   AttemptRepository
	statuses   StatusRepository
	client     Submitter
	identities IdentityProvider
	publisher  Publisher
	alerts     notify.Notifier
	logger     *log.Logger
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSubmitService constructs the service.
func NewSubmitService(
	builder *Builder,
	records RecordRepository,
	chains ChainRepository,
	attempts AttemptRepository,
	statuses StatusRepository,
	client Submitter,
	identities IdentityProvider,
	publisher Publisher,
	alerts notify.Notifier,
	logger *log.Logger,
) (*SubmitService, error) {
	if builder == nil {
		return nil, errors.New("fiscal: nil builder")
	}
	if records == nil || chains == nil || attempts == nil || statuses == nil {
		return nil, errors.New("fiscal: nil repository")
	}
	if client == nil {
		return nil, errors.New("fiscal: nil submitter")
	}
	if identities == nil {
		return nil, errors.New("fiscal: nil identity provider")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SubmitService{
		builder:    builder,
		records:    records,
		chains:     chains,
		attempts:   attempts,
		statuses:   statuses,
		client:     client,
		identities: identities,
		publisher:  publisher,
		alerts:     alerts,
		logger:     logger,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// SubmitInvoice builds a fiscal record for a validated invoice and submits
// it. Returns the resulting lifecycle state; transport failures park the
// invoice in no_connectivity rather than escaping to the caller.
func (s *SubmitService) SubmitInvoice(ctx context.Context, invoice fiscal.Invoice, recipient fiscal.Recipient) (*fiscal.State, []Notice, error) {
	unlock := s.lockIssuer(invoice.IssuerID)
	defer unlock()

	state, err := s.loadOrInitState(ctx, invoice)
	if err != nil {
		return nil, nil, err
	}

	chain, err := s.chains.Get(ctx, invoice.IssuerID)
	if err != nil {
		return nil, nil, err
	}

	record, notices, err := s.builder.Build(invoice, recipient, chain)
	if err != nil {
		return nil, nil, err
	}
	// the record is frozen now; the fingerprint must never be recomputed
	// with different inputs afterwards
	record.Fingerprint = fiscal.Fingerprint(record.PreviousFingerprint, *record)

	if err := s.guardChain(ctx, chain, record); err != nil {
		return nil, nil, err
	}

	if err := s.records.Save(ctx, record); err != nil {
		return nil, nil, err
	}
	state.RecordID = record.ID
	state.GeneratedAt = record.GeneratedAt
	if err := s.transition(ctx, state, fiscal.StatusQueued); err != nil {
		return nil, nil, err
	}
	s.publish(ctx, events.InvoiceValidated{
		InvoiceID:  invoice.ID,
		IssuerID:   invoice.IssuerID,
		Number:     invoice.Number,
		OccurredAt: s.now().UTC(),
	})

	if err := s.dispatch(ctx, record, state); err != nil {
		return nil, nil, err
	}
	return state, notices, nil
}

// Resubmit retries a previously built record without rebuilding it. Safe to
// call on an already accepted invoice; acceptance is recorded at most once.
func (s *SubmitService) Resubmit(ctx context.Context, invoiceID string) (*fiscal.State, error) {
	state, err := s.statuses.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockIssuer(state.IssuerID)
	defer unlock()

	if state.Status == fiscal.StatusAccepted {
		return state, nil
	}
	record, err := s.records.Get(ctx, state.RecordID)
	if err != nil {
		return nil, err
	}

	chain, err := s.chains.Get(ctx, record.IssuerID)
	if err != nil {
		return nil, err
	}
	if err := s.guardChain(ctx, chain, record); err != nil {
		return nil, err
	}

	if state.HasIncident && !record.HasIncident {
		record.HasIncident = true
		if err := s.records.MarkIncident(ctx, record.ID); err != nil {
			return nil, err
		}
	}
	if err := s.transition(ctx, state, fiscal.StatusQueued); err != nil {
		return nil, err
	}
	if err := s.dispatch(ctx, record, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Cancel submits a cancellation record for a previously accepted invoice.
// The accepted record stays untouched; the cancellation is a new chain link.
func (s *SubmitService) Cancel(ctx context.Context, invoiceID string) (*fiscal.Record, error) {
	state, err := s.statuses.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if state.Status != fiscal.StatusAccepted {
		return nil, fiscal.ErrInvalidTransition
	}

	unlock := s.lockIssuer(state.IssuerID)
	defer unlock()

	accepted, err := s.records.Get(ctx, state.RecordID)
	if err != nil {
		return nil, err
	}
	chain, err := s.chains.Get(ctx, accepted.IssuerID)
	if err != nil {
		return nil, err
	}
	record, err := s.builder.BuildCancellation(*accepted, chain)
	if err != nil {
		return nil, err
	}
	record.Fingerprint = fiscal.Fingerprint(record.PreviousFingerprint, *record)
	if err := s.guardChain(ctx, chain, record); err != nil {
		return nil, err
	}
	if err := s.records.Save(ctx, record); err != nil {
		return nil, err
	}

	identity, err := s.identities.Identity(ctx, record.IssuerID)
	if err != nil {
		return nil, err
	}
	start := s.now()
	outcome, err := s.client.Submit(ctx, *record, identity)
	s.recordAttempt(ctx, record, outcome, s.now())
	metrics.ObserveSubmission(outcome.Result, s.now().Sub(start))
	if err != nil {
		return nil, err
	}
	switch outcome.Result {
	case verifactu.ResultAccepted:
		if err := s.chains.Advance(ctx, chain.Advanced(*record, s.now())); err != nil {
			return nil, err
		}
	case verifactu.ResultRejected:
		s.alert(ctx, notify.AlertMessage{
			Kind:              notify.KindRejected,
			IssuerID:          record.IssuerID,
			InvoiceID:         record.InvoiceID,
			InvoiceNumber:     record.InvoiceNumber,
			RecordID:          record.ID,
			ErrorCode:         outcome.ErrorCode,
			Detail:            outcome.ErrorDetail,
			RecommendedAction: "The invoice remains registered; review the cancellation request.",
		})
		s.logger.Printf("fiscal cancel rejected invoice=%s record=%s code=%s detail=%s",
			record.InvoiceID, record.ID, outcome.ErrorCode, outcome.ErrorDetail)
		return nil, fmt.Errorf("%w: %s %s", fiscal.ErrCancellationRejected, outcome.ErrorCode, outcome.ErrorDetail)
	default:
		s.logger.Printf("fiscal cancel deferred invoice=%s record=%s detail=%s",
			record.InvoiceID, record.ID, outcome.ErrorDetail)
		return nil, fmt.Errorf("%w: %s", fiscal.ErrAuthorityUnavailable, outcome.ErrorDetail)
	}
	return record, nil
}

// dispatch sends a queued record and applies the outcome to chain and state.
func (s *SubmitService) dispatch(ctx context.Context, record *fiscal.Record, state *fiscal.State) error {
	identity, err := s.identities.Identity(ctx, record.IssuerID)
	if err != nil {
		// no signing identity means no transport session; park for retry
		state.ErrorDetail = "signing identity unavailable: " + err.Error()
		return s.park(ctx, record, state, state.ErrorDetail)
	}

	start := s.now()
	outcome, submitErr := s.client.Submit(ctx, *record, identity)
	duration := s.now().Sub(start)
	metrics.ObserveSubmission(outcome.Result, duration)
	s.recordAttempt(ctx, record, outcome, s.now())
	if submitErr != nil {
		return submitErr
	}

	switch outcome.Result {
	case verifactu.ResultAccepted:
		return s.accept(ctx, record, state, outcome)
	case verifactu.ResultRejected:
		return s.reject(ctx, record, state, outcome)
	default:
		state.ErrorDetail = outcome.ErrorDetail
		if state.ErrorDetail == "" {
			state.ErrorDetail = "authority unreachable"
		}
		return s.park(ctx, record, state, state.ErrorDetail)
	}
}

func (s *SubmitService) accept(ctx context.Context, record *fiscal.Record, state *fiscal.State, outcome verifactu.Outcome) error {
	chain, err := s.chains.Get(ctx, record.IssuerID)
	if err != nil {
		return err
	}
	if err := s.chains.Advance(ctx, chain.Advanced(*record, s.now())); err != nil {
		return err
	}
	state.ConfirmationCode = outcome.ConfirmationCode
	state.ErrorDetail = ""
	if err := s.transition(ctx, state, fiscal.StatusAccepted); err != nil {
		return err
	}
	s.publish(ctx, events.RecordAccepted{
		RecordID:         record.ID,
		InvoiceID:        record.InvoiceID,
		IssuerID:         record.IssuerID,
		Fingerprint:      record.Fingerprint,
		ConfirmationCode: outcome.ConfirmationCode,
		OccurredAt:       s.now().UTC(),
	})
	s.logger.Printf("fiscal submit accepted invoice=%s record=%s csv=%s", record.InvoiceID, record.ID, outcome.ConfirmationCode)
	return nil
}

func (s *SubmitService) reject(ctx context.Context, record *fiscal.Record, state *fiscal.State, outcome verifactu.Outcome) error {
	state.ErrorDetail = outcome.ErrorDetail
	if err := s.transition(ctx, state, fiscal.StatusRejected); err != nil {
		return err
	}
	s.publish(ctx, events.RecordRejected{
		RecordID:   record.ID,
		InvoiceID:  record.InvoiceID,
		IssuerID:   record.IssuerID,
		ErrorCode:  outcome.ErrorCode,
		Error:      outcome.ErrorDetail,
		OccurredAt: s.now().UTC(),
	})
	s.alert(ctx, notify.AlertMessage{
		Kind:              notify.KindRejected,
		IssuerID:          record.IssuerID,
		InvoiceID:         record.InvoiceID,
		InvoiceNumber:     record.InvoiceNumber,
		RecordID:          record.ID,
		ErrorCode:         outcome.ErrorCode,
		Detail:            outcome.ErrorDetail,
		RecommendedAction: "Correct the invoice data and validate it again.",
	})
	s.logger.Printf("fiscal submit rejected invoice=%s record=%s code=%s detail=%s",
		record.InvoiceID, record.ID, outcome.ErrorCode, outcome.ErrorDetail)
	return nil
}

func (s *SubmitService) park(ctx context.Context, record *fiscal.Record, state *fiscal.State, detail string) error {
	if err := s.transition(ctx, state, fiscal.StatusNoConnectivity); err != nil {
		return err
	}
	s.publish(ctx, events.SubmissionDeferred{
		RecordID:   record.ID,
		InvoiceID:  record.InvoiceID,
		IssuerID:   record.IssuerID,
		Error:      detail,
		OccurredAt: s.now().UTC(),
	})
	s.logger.Printf("fiscal submit deferred invoice=%s record=%s detail=%s", record.InvoiceID, record.ID, detail)
	return nil
}

// guardChain verifies the record links to the chain head. A mismatch halts
// submissions for the issuer until manually reconciled.
func (s *SubmitService) guardChain(ctx context.Context, chain fiscal.ChainState, record *fiscal.Record) error {
	err := chain.EnsureLink(*record)
	if err == nil {
		return nil
	}
	metrics.IncChainCorruption()
	s.publish(ctx, events.ChainCorruptionDetected{
		IssuerID:   record.IssuerID,
		RecordID:   record.ID,
		Detail:     "record does not link to the last accepted fingerprint",
		OccurredAt: s.now().UTC(),
	})
	s.alert(ctx, notify.AlertMessage{
		Kind:              notify.KindChainCorruption,
		IssuerID:          record.IssuerID,
		InvoiceID:         record.InvoiceID,
		InvoiceNumber:     record.InvoiceNumber,
		RecordID:          record.ID,
		Detail:            "record does not link to the last accepted fingerprint",
		RecommendedAction: "Halt submissions for this issuer and reconcile the chain manually.",
	})
	s.logger.Printf("SEVERE fiscal chain corruption issuer=%s record=%s prev=%s head=%s",
		record.IssuerID, record.ID, record.PreviousFingerprint, chain.LastFingerprint)
	return err
}

func (s *SubmitService) loadOrInitState(ctx context.Context, invoice fiscal.Invoice) (*fiscal.State, error) {
	state, err := s.statuses.Get(ctx, invoice.ID)
	if errors.Is(err, fiscal.ErrStateNotFound) {
		return &fiscal.State{
			InvoiceID:     invoice.ID,
			InvoiceNumber: invoice.Number,
			IssuerID:      invoice.IssuerID,
			Status:        fiscal.StatusNotSent,
			UpdatedAt:     s.now().UTC(),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if state.Status == fiscal.StatusAccepted {
		return nil, fiscal.ErrImmutableFiscalRecord
	}
	state.InvoiceNumber = invoice.Number
	return state, nil
}

// transition applies a status change and persists it immediately. The write
// is a committed fact even if the caller's broader operation later fails.
func (s *SubmitService) transition(ctx context.Context, state *fiscal.State, next fiscal.Status) error {
	if err := state.Transition(next, s.now()); err != nil {
		return err
	}
	return s.statuses.Save(ctx, state)
}

func (s *SubmitService) recordAttempt(ctx context.Context, record *fiscal.Record, outcome verifactu.Outcome, at time.Time) {
	attempt := &fiscal.Attempt{
		ID:               recordID(record.IssuerID, record.ID+"#attempt", at),
		RecordID:         record.ID,
		InvoiceID:        record.InvoiceID,
		IssuerID:         record.IssuerID,
		Outcome:          attemptOutcome(outcome),
		ErrorCode:        outcome.ErrorCode,
		ErrorDetail:      outcome.ErrorDetail,
		ConfirmationCode: outcome.ConfirmationCode,
		RawResponse:      outcome.RawResponse,
		AttemptedAt:      at.UTC(),
	}
	if err := s.attempts.Save(ctx, attempt); err != nil {
		s.logger.Printf("fiscal attempt save failed record=%s err=%v", record.ID, err)
	}
}

func attemptOutcome(outcome verifactu.Outcome) string {
	switch outcome.Result {
	case verifactu.ResultAccepted:
		return fiscal.AttemptOutcomeAccepted
	case verifactu.ResultRejected:
		return fiscal.AttemptOutcomeRejected
	default:
		if outcome.Transport {
			return fiscal.AttemptOutcomeNoConnectivity
		}
		return fiscal.AttemptOutcomeServiceError
	}
}

func (s *SubmitService) publish(ctx context.Context, event any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Printf("fiscal event publish failed err=%v", err)
	}
}

func (s *SubmitService) alert(ctx context.Context, msg notify.AlertMessage) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Notify(ctx, msg); err != nil {
		s.logger.Printf("fiscal alert failed kind=%s err=%v", msg.Kind, err)
	}
}

func (s *SubmitService) lockIssuer(issuerID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[issuerID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[issuerID] = lock
	}
	s.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
