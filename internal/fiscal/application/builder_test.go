package application

import (
	"errors"
	"testing"
	"time"

	fiscal "verifactu-bridge/internal/fiscal/domain"
)

func testInvoice() fiscal.Invoice {
	return fiscal.Invoice{
		ID:          "inv-1",
		Number:      "FA2026/0042",
		Kind:        fiscal.InvoiceKindStandard,
		IssueDate:   time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		IssuerID:    "B12345678",
		IssuerName:  "Ejemplo SL",
		Lines:       []fiscal.TaxLine{{Rate: 21, Base: 100, TaxAmount: 21}},
		TaxAmount:   21,
		TotalAmount: 121,
	}
}

func testRecipient() fiscal.Recipient {
	return fiscal.Recipient{
		Name:    "Cliente SA",
		Country: "ES",
		TaxID:   "A87654321",
		Address: "Calle Mayor 1, Madrid",
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestBuildStandardInvoice(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	builder := NewBuilder(BuilderConfig{}, fixedClock(now))
	chain := fiscal.ChainState{IssuerID: "B12345678", LastFingerprint: "ABC", LastSequence: 7}

	record, notices, err := builder.Build(testInvoice(), testRecipient(), chain)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(notices) != 0 {
		t.Fatalf("expected no notices, got %v", notices)
	}
	if record.Type != fiscal.RecordTypeCreation {
		t.Fatalf("type = %s", record.Type)
	}
	if record.InvoiceType != fiscal.InvoiceTypeStandard {
		t.Fatalf("invoice type = %s, want F1", record.InvoiceType)
	}
	if record.TaxRegime != fiscal.RegimeGeneral {
		t.Fatalf("regime = %s, want 01", record.TaxRegime)
	}
	if record.Qualification != fiscal.QualificationSubject {
		t.Fatalf("qualification = %s, want S1", record.Qualification)
	}
	if record.Sequence != 8 {
		t.Fatalf("sequence = %d, want 8", record.Sequence)
	}
	if record.PreviousFingerprint != "ABC" {
		t.Fatalf("previous fingerprint = %q", record.PreviousFingerprint)
	}
	if record.Fingerprint != "" {
		t.Fatalf("builder must not compute the fingerprint, got %q", record.Fingerprint)
	}
	if !record.GeneratedAt.Equal(now) {
		t.Fatalf("generated at = %v", record.GeneratedAt)
	}
	if record.RecipientIDType != fiscal.RecipientIDTypeNIF || record.RecipientID != "A87654321" {
		t.Fatalf("recipient identification = %s/%s", record.RecipientIDType, record.RecipientID)
	}
}

func TestBuildClassificationPrecedence(t *testing.T) {
	builder := NewBuilder(BuilderConfig{}, fixedClock(time.Now()))
	chain := fiscal.ChainState{}

	cases := []struct {
		name       string
		kind       string
		pos        bool
		simplified bool
		want       string
	}{
		{"standard", fiscal.InvoiceKindStandard, false, false, fiscal.InvoiceTypeStandard},
		{"credit note", fiscal.InvoiceKindCreditNote, false, false, fiscal.InvoiceTypeCorrective},
		{"corrective", fiscal.InvoiceKindCorrective, false, false, fiscal.InvoiceTypeCorrective},
		{"substitute", fiscal.InvoiceKindSubstitute, false, false, fiscal.InvoiceTypeSubstitute},
		{"pos origin", fiscal.InvoiceKindStandard, true, false, fiscal.InvoiceTypeSimplified},
		{"simplified recipient", fiscal.InvoiceKindStandard, false, true, fiscal.InvoiceTypeSimplified},
		{"pos credit note", fiscal.InvoiceKindCreditNote, true, false, fiscal.InvoiceTypeCorrectiveSimplified},
	}
	for _, tc := range cases {
		invoice := testInvoice()
		invoice.Kind = tc.kind
		invoice.POSOrigin = tc.pos
		recipient := testRecipient()
		recipient.Simplified = tc.simplified

		record, _, err := builder.Build(invoice, recipient, chain)
		if err != nil {
			t.Fatalf("%s: Build: %v", tc.name, err)
		}
		if record.InvoiceType != tc.want {
			t.Fatalf("%s: invoice type = %s, want %s", tc.name, record.InvoiceType, tc.want)
		}
	}
}

func TestBuildOverridePrecedence(t *testing.T) {
	builder := NewBuilder(BuilderConfig{DefaultTaxRegime: fiscal.RegimeGeneral}, fixedClock(time.Now()))

	// recipient override beats the default and raises a notice
	recipient := testRecipient()
	recipient.TaxRegime = fiscal.RegimeCashBasis
	record, notices, err := builder.Build(testInvoice(), recipient, fiscal.ChainState{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if record.TaxRegime != fiscal.RegimeCashBasis {
		t.Fatalf("regime = %s, want recipient override 07", record.TaxRegime)
	}
	if len(notices) != 1 || notices[0].Field != "tax_regime" {
		t.Fatalf("expected one tax_regime notice, got %v", notices)
	}

	// explicit invoice value beats both, silently
	invoice := testInvoice()
	invoice.TaxRegime = fiscal.RegimeExport
	record, notices, err = builder.Build(invoice, recipient, fiscal.ChainState{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if record.TaxRegime != fiscal.RegimeExport {
		t.Fatalf("regime = %s, want explicit 02", record.TaxRegime)
	}
	if len(notices) != 0 {
		t.Fatalf("explicit value must not raise a notice, got %v", notices)
	}
}

func TestBuildExemptionClearsQualification(t *testing.T) {
	builder := NewBuilder(BuilderConfig{}, fixedClock(time.Now()))
	invoice := testInvoice()
	invoice.Exemption = fiscal.ExemptionArt20

	record, _, err := builder.Build(invoice, testRecipient(), fiscal.ChainState{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if record.Exemption != fiscal.ExemptionArt20 {
		t.Fatalf("exemption = %s", record.Exemption)
	}
	if record.Qualification != "" {
		t.Fatalf("qualification must be empty on exempt operations, got %s", record.Qualification)
	}
}

func TestBuildIdentificationPreconditions(t *testing.T) {
	builder := NewBuilder(BuilderConfig{}, fixedClock(time.Now()))

	spanish := testRecipient()
	spanish.TaxID = ""
	if _, _, err := builder.Build(testInvoice(), spanish, fiscal.ChainState{}); !errors.Is(err, fiscal.ErrMissingRequiredIdentification) {
		t.Fatalf("spanish without tax id: err = %v", err)
	}

	eu := testRecipient()
	eu.Country = "FR"
	eu.TaxID = ""
	eu.VATNumber = ""
	if _, _, err := builder.Build(testInvoice(), eu, fiscal.ChainState{}); !errors.Is(err, fiscal.ErrMissingRequiredIdentification) {
		t.Fatalf("eu without vat number: err = %v", err)
	}

	noAddress := testRecipient()
	noAddress.Address = ""
	if _, _, err := builder.Build(testInvoice(), noAddress, fiscal.ChainState{}); !errors.Is(err, fiscal.ErrMissingRequiredIdentification) {
		t.Fatalf("missing address: err = %v", err)
	}

	// point-of-sale origin lifts every precondition
	invoice := testInvoice()
	invoice.POSOrigin = true
	anonymous := fiscal.Recipient{Name: "walk-in"}
	if _, _, err := builder.Build(invoice, anonymous, fiscal.ChainState{}); err != nil {
		t.Fatalf("pos invoice must skip identification checks: %v", err)
	}
}

func TestBuildCancellation(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	builder := NewBuilder(BuilderConfig{}, fixedClock(now))
	accepted := fiscal.Record{
		ID:            "fr-original",
		Type:          fiscal.RecordTypeCreation,
		IssuerID:      "B12345678",
		InvoiceID:     "inv-1",
		InvoiceNumber: "FA2026/0042",
		IssueDate:     time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Fingerprint:   "HEAD",
		Sequence:      8,
	}
	chain := fiscal.ChainState{IssuerID: "B12345678", LastFingerprint: "HEAD", LastSequence: 8}

	record, err := builder.BuildCancellation(accepted, chain)
	if err != nil {
		t.Fatalf("BuildCancellation: %v", err)
	}
	if record.Type != fiscal.RecordTypeCancellation {
		t.Fatalf("type = %s", record.Type)
	}
	if record.ID == accepted.ID {
		t.Fatal("cancellation must be a new record, not a mutation of the original")
	}
	if record.PreviousFingerprint != "HEAD" || record.Sequence != 9 {
		t.Fatalf("chain linkage = %q/%d", record.PreviousFingerprint, record.Sequence)
	}
}
