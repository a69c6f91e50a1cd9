package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	fiscal "verifactu-bridge/internal/fiscal/domain"
)

type stubLister struct {
	states []fiscal.State
}

func (s stubLister) ListNoConnectivity(_ context.Context, _ int) ([]fiscal.State, error) {
	return s.states, nil
}

type stubResubmitter struct {
	calls   []string
	results map[string]fiscal.Status
	errs    map[string]error
	started chan struct{}
	block   chan struct{}
}

func (s *stubResubmitter) Resubmit(_ context.Context, invoiceID string) (*fiscal.State, error) {
	if s.started != nil {
		close(s.started)
		s.started = nil
	}
	if s.block != nil {
		<-s.block
	}
	s.calls = append(s.calls, invoiceID)
	if err := s.errs[invoiceID]; err != nil {
		return nil, err
	}
	status, ok := s.results[invoiceID]
	if !ok {
		status = fiscal.StatusAccepted
	}
	return &fiscal.State{InvoiceID: invoiceID, Status: status}, nil
}

type stubProbe struct {
	// answers consumed in order; the last answer repeats
	answers []bool
}

func (s *stubProbe) Probe(_ context.Context, _ string) bool {
	answer := s.answers[0]
	if len(s.answers) > 1 {
		s.answers = s.answers[1:]
	}
	return answer
}

func parked(ids ...string) []fiscal.State {
	states := make([]fiscal.State, 0, len(ids))
	for _, id := range ids {
		states = append(states, fiscal.State{
			InvoiceID: id,
			IssuerID:  "B12345678",
			Status:    fiscal.StatusNoConnectivity,
		})
	}
	return states
}

func TestRunProcessesInListedOrder(t *testing.T) {
	resubmit := &stubResubmitter{}
	runner, err := NewRunner(stubLister{states: parked("inv-1", "inv-2", "inv-3")}, resubmit, &stubProbe{answers: []bool{true}}, 10, log.Default())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 3 || summary.Errors != 0 || summary.Skipped != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	want := []string{"inv-1", "inv-2", "inv-3"}
	for i, id := range want {
		if resubmit.calls[i] != id {
			t.Fatalf("call order = %v, want %v", resubmit.calls, want)
		}
	}
}

func TestRunSkipsRemainderWhenConnectivityDrops(t *testing.T) {
	resubmit := &stubResubmitter{}
	probe := &stubProbe{answers: []bool{true, false}}
	runner, err := NewRunner(stubLister{states: parked("inv-1", "inv-2", "inv-3")}, resubmit, probe, 10, log.Default())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 1 {
		t.Fatalf("processed = %d, want 1", summary.Processed)
	}
	if summary.Skipped != 2 {
		t.Fatalf("skipped = %d, want 2; the remainder must be left untouched", summary.Skipped)
	}
	if summary.Errors != 0 {
		t.Fatalf("errors = %d; a mid-batch connectivity loss is not a failure", summary.Errors)
	}
	if len(resubmit.calls) != 1 {
		t.Fatalf("resubmit calls = %v", resubmit.calls)
	}
}

func TestRunContinuesPastSingleFailures(t *testing.T) {
	resubmit := &stubResubmitter{
		errs: map[string]error{"inv-2": errors.New("boom")},
	}
	runner, err := NewRunner(stubLister{states: parked("inv-1", "inv-2", "inv-3")}, resubmit, &stubProbe{answers: []bool{true}}, 10, log.Default())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 2 || summary.Errors != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(resubmit.calls) != 3 {
		t.Fatalf("a single failure must not abort the batch, calls = %v", resubmit.calls)
	}
}

func TestRunCountsUnrecoveredAsErrors(t *testing.T) {
	resubmit := &stubResubmitter{
		results: map[string]fiscal.Status{"inv-1": fiscal.StatusNoConnectivity},
	}
	runner, err := NewRunner(stubLister{states: parked("inv-1")}, resubmit, &stubProbe{answers: []bool{true}}, 10, log.Default())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 0 || summary.Errors != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRunRefusesOverlap(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	resubmit := &stubResubmitter{started: started, block: block}
	runner, err := NewRunner(stubLister{states: parked("inv-1")}, resubmit, &stubProbe{answers: []bool{true}}, 10, log.Default())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = runner.Run(context.Background())
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first run never started")
	}
	if _, err := runner.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("overlapping run err = %v, want ErrRunInProgress", err)
	}

	close(block)
	wg.Wait()
}
