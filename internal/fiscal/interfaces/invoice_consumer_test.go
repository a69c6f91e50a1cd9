package interfaces

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	certstore "verifactu-bridge/internal/certstore/domain"
	"verifactu-bridge/internal/fiscal/application"
	fiscal "verifactu-bridge/internal/fiscal/domain"
	"verifactu-bridge/internal/verifactu"
)

type memoryStates struct {
	states map[string]*fiscal.State
}

func newMemoryStates() *memoryStates {
	return &memoryStates{states: make(map[string]*fiscal.State)}
}

func (m *memoryStates) Get(_ context.Context, invoiceID string) (*fiscal.State, error) {
	state, ok := m.states[invoiceID]
	if !ok {
		return nil, fiscal.ErrStateNotFound
	}
	clone := *state
	return &clone, nil
}

func (m *memoryStates) Save(_ context.Context, state *fiscal.State) error {
	clone := *state
	m.states[state.InvoiceID] = &clone
	return nil
}

type noopRecords struct{}

func (noopRecords) Save(context.Context, *fiscal.Record) error { return nil }
func (noopRecords) Get(context.Context, string) (*fiscal.Record, error) {
	return nil, fiscal.ErrRecordNotFound
}
func (noopRecords) LatestByInvoice(context.Context, string) (*fiscal.Record, error) {
	return nil, fiscal.ErrRecordNotFound
}
func (noopRecords) MarkIncident(context.Context, string) error { return nil }

type noopChains struct{}

func (noopChains) Get(_ context.Context, issuerID string) (fiscal.ChainState, error) {
	return fiscal.ChainState{IssuerID: issuerID}, nil
}
func (noopChains) Advance(context.Context, fiscal.ChainState) error { return nil }

type noopAttempts struct{}

func (noopAttempts) Save(context.Context, *fiscal.Attempt) error { return nil }

type acceptingSubmitter struct{}

func (acceptingSubmitter) Submit(context.Context, fiscal.Record, *certstore.SigningIdentity) (verifactu.Outcome, error) {
	return verifactu.Outcome{Result: verifactu.ResultAccepted, ConfirmationCode: "CSV-1"}, nil
}

type noopIdentities struct{}

func (noopIdentities) Identity(context.Context, string) (*certstore.SigningIdentity, error) {
	return &certstore.SigningIdentity{}, nil
}

func newConsumerFixture(t *testing.T) (*InvoiceConsumer, *memoryStates) {
	t.Helper()
	states := newMemoryStates()
	builder := application.NewBuilder(application.BuilderConfig{}, nil)
	submit, err := application.NewSubmitService(
		builder, noopRecords{}, noopChains{}, noopAttempts{}, states,
		acceptingSubmitter{}, noopIdentities{}, nil, nil, log.Default(),
	)
	if err != nil {
		t.Fatalf("NewSubmitService: %v", err)
	}
	consumer, err := NewInvoiceConsumer(submit, states, "PROV-", log.Default())
	if err != nil {
		t.Fatalf("NewInvoiceConsumer: %v", err)
	}
	return consumer, states
}

func testEvent(kind string) HostInvoiceEvent {
	return HostInvoiceEvent{
		Kind: kind,
		Invoice: fiscal.Invoice{
			ID:          "inv-1",
			Number:      "FA2026/0042",
			Kind:        fiscal.InvoiceKindStandard,
			IssueDate:   time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
			IssuerID:    "B12345678",
			TaxAmount:   21,
			TotalAmount: 121,
		},
		Recipient: fiscal.Recipient{
			Name:    "Cliente SA",
			Country: "ES",
			TaxID:   "A87654321",
			Address: "Calle Mayor 1, Madrid",
		},
	}
}

func TestConsumeUnknownKind(t *testing.T) {
	consumer, _ := newConsumerFixture(t)
	if err := consumer.Consume(context.Background(), HostInvoiceEvent{Kind: "renamed"}); err == nil {
		t.Fatal("unknown event kind must be rejected")
	}
}

func TestConsumeCreatedInitializesState(t *testing.T) {
	consumer, states := newConsumerFixture(t)
	if err := consumer.Consume(context.Background(), testEvent(InvoiceEventCreated)); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	state, err := states.Get(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Status != fiscal.StatusNotSent {
		t.Fatalf("status = %s, want not_sent", state.Status)
	}
}

func TestConsumeValidatedRunsPipeline(t *testing.T) {
	consumer, states := newConsumerFixture(t)
	if err := consumer.Consume(context.Background(), testEvent(InvoiceEventValidated)); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	state, err := states.Get(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Status != fiscal.StatusAccepted {
		t.Fatalf("status = %s, want accepted", state.Status)
	}
}

func TestConsumeMutationGuard(t *testing.T) {
	consumer, states := newConsumerFixture(t)

	// no fiscal state yet: mutations pass through
	if err := consumer.Consume(context.Background(), testEvent(InvoiceEventDelete)); err != nil {
		t.Fatalf("pre-fiscal delete: %v", err)
	}

	if err := consumer.Consume(context.Background(), testEvent(InvoiceEventValidated)); err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, kind := range []string{InvoiceEventDelete, InvoiceEventUnvalidate, InvoiceEventModify} {
		err := consumer.Consume(context.Background(), testEvent(kind))
		if !errors.Is(err, fiscal.ErrImmutableFiscalRecord) {
			t.Fatalf("%s after acceptance: err = %v, want ErrImmutableFiscalRecord", kind, err)
		}
	}

	// provisional numbering stays editable even when accepted
	state, _ := states.Get(context.Background(), "inv-1")
	state.InvoiceNumber = "PROV-0001"
	_ = states.Save(context.Background(), state)
	if err := consumer.Consume(context.Background(), testEvent(InvoiceEventDelete)); err != nil {
		t.Fatalf("provisional delete: %v", err)
	}
}
