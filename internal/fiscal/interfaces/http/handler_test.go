package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	certstore "verifactu-bridge/internal/certstore/domain"
	fiscalapp "verifactu-bridge/internal/fiscal/application"
	fiscal "verifactu-bridge/internal/fiscal/domain"
	"verifactu-bridge/internal/verifactu"
)

type memoryStatuses struct {
	states map[string]*fiscal.State
}

func (m *memoryStatuses) Get(_ context.Context, invoiceID string) (*fiscal.State, error) {
	state, ok := m.states[invoiceID]
	if !ok {
		return nil, fiscal.ErrStateNotFound
	}
	clone := *state
	return &clone, nil
}

func (m *memoryStatuses) Save(_ context.Context, state *fiscal.State) error {
	if m.states == nil {
		m.states = make(map[string]*fiscal.State)
	}
	clone := *state
	m.states[state.InvoiceID] = &clone
	return nil
}

type memoryRecords struct {
	records map[string]*fiscal.Record
}

func (m *memoryRecords) Save(_ context.Context, record *fiscal.Record) error {
	if m.records == nil {
		m.records = make(map[string]*fiscal.Record)
	}
	clone := *record
	m.records[record.ID] = &clone
	return nil
}

func (m *memoryRecords) Get(_ context.Context, recordID string) (*fiscal.Record, error) {
	record, ok := m.records[recordID]
	if !ok {
		return nil, fiscal.ErrRecordNotFound
	}
	clone := *record
	return &clone, nil
}

func (m *memoryRecords) MarkIncident(_ context.Context, recordID string) error {
	record, ok := m.records[recordID]
	if !ok {
		return fiscal.ErrRecordNotFound
	}
	record.HasIncident = true
	return nil
}

func (m *memoryRecords) LatestByInvoice(_ context.Context, invoiceID string) (*fiscal.Record, error) {
	for _, record := range m.records {
		if record.InvoiceID == invoiceID {
			clone := *record
			return &clone, nil
		}
	}
	return nil, fiscal.ErrRecordNotFound
}

type memoryChains struct {
	states map[string]fiscal.ChainState
}

func (m *memoryChains) Get(_ context.Context, issuerID string) (fiscal.ChainState, error) {
	return m.states[issuerID], nil
}

func (m *memoryChains) Advance(_ context.Context, state fiscal.ChainState) error {
	if m.states == nil {
		m.states = make(map[string]fiscal.ChainState)
	}
	m.states[state.IssuerID] = state
	return nil
}

type memoryAttempts struct {
	attempts []fiscal.Attempt
}

func (m *memoryAttempts) Save(_ context.Context, attempt *fiscal.Attempt) error {
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *memoryAttempts) ListByInvoice(_ context.Context, invoiceID string) ([]fiscal.Attempt, error) {
	var out []fiscal.Attempt
	for _, attempt := range m.attempts {
		if attempt.InvoiceID == invoiceID {
			out = append(out, attempt)
		}
	}
	return out, nil
}

type acceptingSubmitter struct{}

func (acceptingSubmitter) Submit(_ context.Context, _ fiscal.Record, _ *certstore.SigningIdentity) (verifactu.Outcome, error) {
	return verifactu.Outcome{Result: verifactu.ResultAccepted, ConfirmationCode: "CSV-OK"}, nil
}

type stubIdentities struct{}

func (stubIdentities) Identity(_ context.Context, _ string) (*certstore.SigningIdentity, error) {
	return &certstore.SigningIdentity{}, nil
}

type handlerFixture struct {
	handler  *Handler
	statuses *memoryStatuses
	records  *memoryRecords
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	statuses := &memoryStatuses{states: make(map[string]*fiscal.State)}
	records := &memoryRecords{records: make(map[string]*fiscal.Record)}
	chains := &memoryChains{states: make(map[string]fiscal.ChainState)}
	attempts := &memoryAttempts{}

	builder := fiscalapp.NewBuilder(fiscalapp.BuilderConfig{}, nil)
	submit, err := fiscalapp.NewSubmitService(
		builder, records, chains, attempts, statuses,
		acceptingSubmitter{}, stubIdentities{}, nil, nil, nil,
	)
	if err != nil {
		t.Fatalf("new submit service: %v", err)
	}

	handler, err := NewHandler(submit, statuses, records, attempts, nil, nil, "https://prewww2.aeat.es")
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return &handlerFixture{handler: handler, statuses: statuses, records: records}
}

func (f *handlerFixture) seedAccepted(t *testing.T) {
	t.Helper()
	record := &fiscal.Record{
		ID:            "fr-1",
		Type:          fiscal.RecordTypeCreation,
		IssuerID:      "B12345678",
		IssuerName:    "ACME SL",
		InvoiceID:     "inv-1",
		InvoiceNumber: "FA2026/0042",
		IssueDate:     time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		InvoiceType:   fiscal.InvoiceTypeStandard,
		TaxRegime:     fiscal.RegimeGeneral,
		TaxAmount:     21,
		TotalAmount:   121,
		Sequence:      1,
		Fingerprint:   strings.Repeat("A", 64),
		GeneratedAt:   time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	if err := f.records.Save(context.Background(), record); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	state := &fiscal.State{
		InvoiceID:        "inv-1",
		InvoiceNumber:    "FA2026/0042",
		IssuerID:         "B12345678",
		RecordID:         "fr-1",
		Status:           fiscal.StatusAccepted,
		ConfirmationCode: "CSV-OK",
		GeneratedAt:      record.GeneratedAt,
		UpdatedAt:        record.GeneratedAt,
	}
	if err := f.statuses.Save(context.Background(), state); err != nil {
		t.Fatalf("seed state: %v", err)
	}
}

func TestHandlerStatus(t *testing.T) {
	fixture := newHandlerFixture(t)
	fixture.seedAccepted(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/inv-1/fiscal", nil)
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(fiscal.StatusAccepted) || resp.ConfirmationCode != "CSV-OK" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHandlerStatusUnknownInvoice(t *testing.T) {
	fixture := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/missing/fiscal", nil)
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandlerAttemptsExport(t *testing.T) {
	fixture := newHandlerFixture(t)
	fixture.seedAccepted(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/inv-1/attempts.xlsx", nil)
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "spreadsheetml") {
		t.Fatalf("unexpected content type %q", got)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected workbook bytes")
	}
}

func TestHandlerVerificationExport(t *testing.T) {
	fixture := newHandlerFixture(t)
	fixture.seedAccepted(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/inv-1/verification.pdf", nil)
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("unexpected content type %q", got)
	}
}

func TestHandlerVerificationRequiresAcceptance(t *testing.T) {
	fixture := newHandlerFixture(t)
	state := &fiscal.State{InvoiceID: "inv-2", IssuerID: "B12345678", Status: fiscal.StatusRejected, UpdatedAt: time.Now()}
	if err := fixture.statuses.Save(context.Background(), state); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/inv-2/verification.pdf", nil)
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unaccepted invoice, got %d", rec.Code)
	}
}

func TestHandlerCancelRequiresAcceptance(t *testing.T) {
	fixture := newHandlerFixture(t)
	state := &fiscal.State{InvoiceID: "inv-3", IssuerID: "B12345678", Status: fiscal.StatusNotSent, UpdatedAt: time.Now()}
	if err := fixture.statuses.Save(context.Background(), state); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/inv-3/cancel", nil)
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandlerRecoveryRunUnconfigured(t *testing.T) {
	fixture := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recovery/run", nil)
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a runner, got %d", rec.Code)
	}
}

func TestHandlerUnknownRoute(t *testing.T) {
	fixture := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/inv-1/unknown", nil)
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
