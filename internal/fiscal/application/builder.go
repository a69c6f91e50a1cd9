package application

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	fiscal "verifactu-bridge/internal/fiscal/domain"
)

// BuilderConfig carries the system-wide classification defaults. Defaults sit
// at the lowest precedence tier: a per-recipient override beats them, and an
// explicit per-invoice value beats both.
type BuilderConfig struct {
	DefaultTaxRegime     string
	DefaultQualification string
	DefaultExemption     string
}

// Notice is a user-facing warning raised while building a record, e.g. when a
// per-recipient override silently changes a code the user did not set.
type Notice struct {
	Field string
	Text  string
}

// Builder maps a validated host invoice into the canonical fiscal record
// schema. It freezes every fingerprint input except the fingerprint itself,
// which the submit path computes once the record is about to go out.
type Builder struct {
	cfg BuilderConfig
	now func() time.Time
}

// NewBuilder constructs a builder.
func NewBuilder(cfg BuilderConfig, now func() time.Time) *Builder {
	if cfg.DefaultTaxRegime == "" {
		cfg.DefaultTaxRegime = fiscal.RegimeGeneral
	}
	if cfg.DefaultQualification == "" && cfg.DefaultExemption == "" {
		cfg.DefaultQualification = fiscal.QualificationSubject
	}
	if now == nil {
		now = time.Now
	}
	return &Builder{cfg: cfg, now: now}
}

// Build produces a creation record for the invoice, chained to the current
// chain head. The returned record carries no fingerprint yet.
func (b *Builder) Build(invoice fiscal.Invoice, recipient fiscal.Recipient, chain fiscal.ChainState) (*fiscal.Record, []Notice, error) {
	simplified := invoice.POSOrigin || recipient.Simplified
	if err := checkIdentification(recipient, simplified); err != nil {
		return nil, nil, err
	}

	var notices []Notice
	regime := resolveCode(invoice.TaxRegime, recipient.TaxRegime, b.cfg.DefaultTaxRegime, "tax_regime", &notices, recipient.Name)
	qualification := resolveCode(invoice.Qualification, recipient.Qualification, b.cfg.DefaultQualification, "qualification", &notices, recipient.Name)
	exemption := resolveCode(invoice.Exemption, recipient.Exemption, b.cfg.DefaultExemption, "exemption", &notices, recipient.Name)
	if exemption != "" {
		// an exempt operation carries no qualification code
		qualification = ""
	}

	generatedAt := b.now().UTC()
	record := &fiscal.Record{
		ID:            recordID(invoice.IssuerID, invoice.ID, generatedAt),
		Type:          fiscal.RecordTypeCreation,
		IssuerID:      invoice.IssuerID,
		IssuerName:    invoice.IssuerName,
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.Number,
		IssueDate:     invoice.IssueDate,
		InvoiceType:   classify(invoice.Kind, simplified),
		TaxRegime:     regime,
		Qualification: qualification,
		Exemption:     exemption,

		Lines:       append([]fiscal.TaxLine(nil), invoice.Lines...),
		TaxAmount:   invoice.TaxAmount,
		TotalAmount: invoice.TotalAmount,

		Sequence:            chain.LastSequence + 1,
		PreviousFingerprint: chain.LastFingerprint,
		GeneratedAt:         generatedAt,
		CreatedAt:           generatedAt,
	}
	if !simplified {
		record.RecipientIDType, record.RecipientID = identify(recipient)
		record.RecipientName = recipient.Name
	}

	if err := record.Validate(); err != nil {
		return nil, nil, err
	}
	return record, notices, nil
}

// BuildCancellation produces a cancellation record voiding a previously
// accepted record. The original is never mutated.
func (b *Builder) BuildCancellation(accepted fiscal.Record, chain fiscal.ChainState) (*fiscal.Record, error) {
	generatedAt := b.now().UTC()
	record := &fiscal.Record{
		ID:            recordID(accepted.IssuerID, accepted.InvoiceID+"#void", generatedAt),
		Type:          fiscal.RecordTypeCancellation,
		IssuerID:      accepted.IssuerID,
		IssuerName:    accepted.IssuerName,
		InvoiceID:     accepted.InvoiceID,
		InvoiceNumber: accepted.InvoiceNumber,
		IssueDate:     accepted.IssueDate,

		Sequence:            chain.LastSequence + 1,
		PreviousFingerprint: chain.LastFingerprint,
		GeneratedAt:         generatedAt,
		CreatedAt:           generatedAt,
	}
	return record, nil
}

// classify maps the host invoice kind to the authority's classification code.
// Point-of-sale origin or a simplified-flagged recipient takes precedence
// over the kind mapping.
func classify(kind string, simplified bool) string {
	if simplified {
		switch kind {
		case fiscal.InvoiceKindCreditNote, fiscal.InvoiceKindCorrective:
			return fiscal.InvoiceTypeCorrectiveSimplified
		default:
			return fiscal.InvoiceTypeSimplified
		}
	}
	switch kind {
	case fiscal.InvoiceKindCreditNote, fiscal.InvoiceKindCorrective:
		return fiscal.InvoiceTypeCorrective
	case fiscal.InvoiceKindSubstitute:
		return fiscal.InvoiceTypeSubstitute
	default:
		return fiscal.InvoiceTypeStandard
	}
}

// resolveCode applies the three-tier precedence: explicit invoice value,
// then per-recipient override, then the system default. Applying a recipient
// override raises a notice since it changes data the user did not set.
func resolveCode(invoiceValue, recipientValue, defaultValue, field string, notices *[]Notice, recipientName string) string {
	if invoiceValue != "" {
		return invoiceValue
	}
	if recipientValue != "" {
		*notices = append(*notices, Notice{
			Field: field,
			Text:  fmt.Sprintf("%s set to %q from the recipient profile of %s", field, recipientValue, recipientName),
		})
		return recipientValue
	}
	return defaultValue
}

// checkIdentification enforces the recipient preconditions. Simplified
// invoices (point-of-sale or flagged recipients) are exempt.
func checkIdentification(recipient fiscal.Recipient, simplified bool) error {
	if simplified {
		return nil
	}
	if recipient.Spanish() && recipient.TaxID == "" {
		return fmt.Errorf("%w: spanish recipient without tax id", fiscal.ErrMissingRequiredIdentification)
	}
	if !recipient.Spanish() && recipient.EU() && recipient.VATNumber == "" {
		return fmt.Errorf("%w: eu recipient without vat number", fiscal.ErrMissingRequiredIdentification)
	}
	if recipient.Address == "" {
		return fmt.Errorf("%w: recipient without postal address", fiscal.ErrMissingRequiredIdentification)
	}
	return nil
}

func identify(recipient fiscal.Recipient) (idType, id string) {
	switch {
	case recipient.Spanish():
		return fiscal.RecipientIDTypeNIF, recipient.TaxID
	case recipient.EU():
		return fiscal.RecipientIDTypeVAT, recipient.VATNumber
	case recipient.TaxID != "":
		return fiscal.RecipientIDTypeOther, recipient.TaxID
	default:
		return fiscal.RecipientIDTypeOther, recipient.VATNumber
	}
}

func recordID(issuerID, invoiceID string, at time.Time) string {
	sum := sha1.Sum([]byte(issuerID + "|" + invoiceID + "|" + at.Format(time.RFC3339Nano)))
	return "fr-" + hex.EncodeToString(sum[:8])
}
