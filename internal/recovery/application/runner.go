package application

import (
	"context"
	"errors"
	"log"
	"sync"

	fiscal "verifactu-bridge/internal/fiscal/domain"
	"verifactu-bridge/internal/observability/metrics"
)

// ErrRunInProgress is returned when a run overlaps an active one.
var ErrRunInProgress = errors.New("recovery: run already in progress")

// ParkedLister lists invoices parked in no_connectivity, strictly ordered by
// original issue date then invoice id.
type ParkedLister interface {
	ListNoConnectivity(ctx context.Context, limit int) ([]fiscal.State, error)
}

// Resubmitter retries a parked invoice's existing record.
type Resubmitter interface {
	Resubmit(ctx context.Context, invoiceID string) (*fiscal.State, error)
}

// ConnectivityProbe checks whether the authority is reachable for an issuer.
type ConnectivityProbe interface {
	Probe(ctx context.Context, issuerID string) bool
}

// Summary reports one recovery run.
type Summary struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
}

// Runner resubmits parked invoices in chain order. A run is single-threaded
// and two runs never overlap; out-of-order or interleaved resubmission would
// corrupt previous-fingerprint linkage.
type Runner struct {
	parked     ParkedLister
	resubmit   Resubmitter
	probe      ConnectivityProbe
	batchLimit int
	logger     *log.Logger

	mu sync.Mutex
}

// NewRunner constructs a Runner.
func NewRunner(parked ParkedLister, resubmit Resubmitter, probe ConnectivityProbe, batchLimit int, logger *log.Logger) (*Runner, error) {
	if parked == nil {
		return nil, errors.New("recovery: nil parked lister")
	}
	if resubmit == nil {
		return nil, errors.New("recovery: nil resubmitter")
	}
	if batchLimit <= 0 {
		batchLimit = 200
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		parked:     parked,
		resubmit:   resubmit,
		probe:      probe,
		batchLimit: batchLimit,
		logger:     logger,
	}, nil
}

// Run processes one batch of parked invoices. Connectivity is re-checked
// before each invoice; when it drops mid-batch the remaining invoices are
// left untouched for the next run, not failed. A single invoice's failure
// never aborts the batch.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if !r.mu.TryLock() {
		return Summary{}, ErrRunInProgress
	}
	defer r.mu.Unlock()

	states, err := r.parked.ListNoConnectivity(ctx, r.batchLimit)
	if err != nil {
		metrics.ObserveRecoveryRun(metrics.ResultError)
		return Summary{}, err
	}

	var summary Summary
	for i, state := range states {
		if ctx.Err() != nil {
			summary.Skipped += len(states) - i
			break
		}
		if r.probe != nil && !r.probe.Probe(ctx, state.IssuerID) {
			summary.Skipped += len(states) - i
			r.logger.Printf("recovery connectivity lost, leaving %d invoices for the next run", len(states)-i)
			break
		}

		updated, err := r.resubmit.Resubmit(ctx, state.InvoiceID)
		if err != nil {
			summary.Errors++
			r.logger.Printf("recovery resubmit failed invoice=%s err=%v", state.InvoiceID, err)
			continue
		}
		if updated.Status == fiscal.StatusAccepted {
			summary.Processed++
			continue
		}
		summary.Errors++
	}

	metrics.ObserveRecoveryRun(metrics.ResultSuccess)
	metrics.AddRecoveryInvoices(metrics.RecoveryProcessed, summary.Processed)
	metrics.AddRecoveryInvoices(metrics.RecoveryErrors, summary.Errors)
	metrics.AddRecoveryInvoices(metrics.RecoverySkipped, summary.Skipped)
	r.logger.Printf("recovery run processed=%d errors=%d skipped=%d", summary.Processed, summary.Errors, summary.Skipped)
	return summary, nil
}
