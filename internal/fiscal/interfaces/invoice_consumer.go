package interfaces

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"verifactu-bridge/internal/fiscal/application"
	fiscal "verifactu-bridge/internal/fiscal/domain"
)

// Host invoice lifecycle event kinds. The set is closed; dispatch is an
// explicit table keyed by kind, not name-based lookup.
const (
	InvoiceEventCreated    = "created"
	InvoiceEventValidated  = "validated"
	InvoiceEventDelete     = "delete_requested"
	InvoiceEventUnvalidate = "unvalidate_requested"
	InvoiceEventModify     = "modify_requested"
)

// HostInvoiceEvent is the message the host application emits on invoice
// lifecycle changes. Invoice and Recipient are populated for validations.
type HostInvoiceEvent struct {
	Kind      string           `json:"kind"`
	InvoiceID string           `json:"invoice_id"`
	Invoice   fiscal.Invoice   `json:"invoice"`
	Recipient fiscal.Recipient `json:"recipient"`
}

// StateStore is the slice of status persistence the consumer needs.
type StateStore interface {
	Get(ctx context.Context, invoiceID string) (*fiscal.State, error)
	Save(ctx context.Context, state *fiscal.State) error
}

// InvoiceConsumer adapts host invoice lifecycle events into the fiscal
// pipeline and enforces immutability of accepted invoices.
type InvoiceConsumer struct {
	submit            *application.SubmitService
	states            StateStore
	provisionalPrefix string
	logger            *log.Logger
	handlers          map[string]func(context.Context, HostInvoiceEvent) error
}

// NewInvoiceConsumer constructs a consumer adapter.
func NewInvoiceConsumer(submit *application.SubmitService, states StateStore, provisionalPrefix string, logger *log.Logger) (*InvoiceConsumer, error) {
	if submit == nil {
		return nil, errors.New("invoice consumer: nil submit service")
	}
	if states == nil {
		return nil, errors.New("invoice consumer: nil state store")
	}
	if logger == nil {
		logger = log.Default()
	}
	c := &InvoiceConsumer{
		submit:            submit,
		states:            states,
		provisionalPrefix: provisionalPrefix,
		logger:            logger,
	}
	c.handlers = map[string]func(context.Context, HostInvoiceEvent) error{
		InvoiceEventCreated:    c.handleCreated,
		InvoiceEventValidated:  c.handleValidated,
		InvoiceEventDelete:     c.handleMutation,
		InvoiceEventUnvalidate: c.handleMutation,
		InvoiceEventModify:     c.handleMutation,
	}
	return c, nil
}

// Consume dispatches one host event.
func (c *InvoiceConsumer) Consume(ctx context.Context, event HostInvoiceEvent) error {
	handler, ok := c.handlers[event.Kind]
	if !ok {
		return fmt.Errorf("invoice consumer: unknown event kind %q", event.Kind)
	}
	return handler(ctx, event)
}

// handleCreated initializes the invoice's fiscal state at not_sent.
func (c *InvoiceConsumer) handleCreated(ctx context.Context, event HostInvoiceEvent) error {
	_, err := c.states.Get(ctx, c.invoiceID(event))
	if err == nil {
		return nil
	}
	if !errors.Is(err, fiscal.ErrStateNotFound) {
		return err
	}
	return c.states.Save(ctx, &fiscal.State{
		InvoiceID:     c.invoiceID(event),
		InvoiceNumber: event.Invoice.Number,
		IssuerID:      event.Invoice.IssuerID,
		Status:        fiscal.StatusNotSent,
		UpdatedAt:     time.Now().UTC(),
	})
}

// handleValidated runs the build-fingerprint-submit pipeline.
func (c *InvoiceConsumer) handleValidated(ctx context.Context, event HostInvoiceEvent) error {
	state, notices, err := c.submit.SubmitInvoice(ctx, event.Invoice, event.Recipient)
	if err != nil {
		return err
	}
	for _, notice := range notices {
		c.logger.Printf("fiscal notice invoice=%s field=%s %s", event.Invoice.ID, notice.Field, notice.Text)
	}
	c.logger.Printf("fiscal pipeline invoice=%s status=%s", event.Invoice.ID, state.Status)
	return nil
}

// handleMutation rejects delete/unvalidate/modify once a record is accepted.
// Invoices still on a provisional number are pre-fiscal and stay editable.
func (c *InvoiceConsumer) handleMutation(ctx context.Context, event HostInvoiceEvent) error {
	state, err := c.states.Get(ctx, c.invoiceID(event))
	if errors.Is(err, fiscal.ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return state.EnsureMutable(c.provisionalPrefix)
}

func (c *InvoiceConsumer) invoiceID(event HostInvoiceEvent) string {
	if event.InvoiceID != "" {
		return event.InvoiceID
	}
	return event.Invoice.ID
}
