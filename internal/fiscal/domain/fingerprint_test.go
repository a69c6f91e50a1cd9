package fiscal

import (
	"strings"
	"testing"
	"time"
)

func sampleRecord() Record {
	issued := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	generated := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	return Record{
		Type:          RecordTypeCreation,
		IssuerID:      "B12345678",
		InvoiceNumber: "FA-2026-001",
		IssueDate:     issued,
		InvoiceType:   InvoiceTypeStandard,
		TaxAmount:     21.00,
		TotalAmount:   121.00,
		Sequence:      1,
		GeneratedAt:   generated,
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	record := sampleRecord()
	first := Fingerprint("", record)
	for i := 0; i < 5; i++ {
		if got := Fingerprint("", record); got != first {
			t.Fatalf("fingerprint not deterministic: %s != %s", got, first)
		}
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(first))
	}
	if first != strings.ToUpper(first) {
		t.Fatalf("fingerprint must be upper-case hex: %s", first)
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := sampleRecord()
	reference := Fingerprint("", base)

	mutations := map[string]func(*Record){
		"total amount": func(r *Record) { r.TotalAmount = 121.01 },
		"tax amount":   func(r *Record) { r.TaxAmount = 21.01 },
		"issue date":   func(r *Record) { r.IssueDate = r.IssueDate.AddDate(0, 0, 1) },
		"issuer id":    func(r *Record) { r.IssuerID = "B87654321" },
		"number":       func(r *Record) { r.InvoiceNumber = "FA-2026-002" },
		"invoice type": func(r *Record) { r.InvoiceType = InvoiceTypeSimplified },
		"generated at": func(r *Record) { r.GeneratedAt = r.GeneratedAt.Add(time.Second) },
	}
	for name, mutate := range mutations {
		record := sampleRecord()
		mutate(&record)
		if got := Fingerprint("", record); got == reference {
			t.Errorf("changing %s did not change the fingerprint", name)
		}
	}

	if got := Fingerprint(reference, base); got == reference {
		t.Errorf("changing previous fingerprint did not change the fingerprint")
	}
}

func TestFingerprintChainLinkage(t *testing.T) {
	chain := ChainState{IssuerID: "B12345678"}
	previous := ""
	for i := int64(1); i <= 3; i++ {
		record := sampleRecord()
		record.Sequence = i
		record.InvoiceNumber = record.InvoiceNumber + "-" + string(rune('A'+i))
		record.PreviousFingerprint = chain.LastFingerprint
		if record.PreviousFingerprint != previous {
			t.Fatalf("record %d: previous fingerprint %q, want %q", i, record.PreviousFingerprint, previous)
		}
		record.Fingerprint = Fingerprint(record.PreviousFingerprint, record)
		if err := chain.EnsureLink(record); err != nil {
			t.Fatalf("record %d: unexpected linkage error: %v", i, err)
		}
		chain = chain.Advanced(record, time.Now())
		previous = record.Fingerprint
	}
	if chain.LastSequence != 3 {
		t.Fatalf("expected sequence 3, got %d", chain.LastSequence)
	}
}

func TestEnsureLinkDetectsCorruption(t *testing.T) {
	chain := ChainState{IssuerID: "B12345678", LastFingerprint: "AAAA", LastSequence: 4}

	record := sampleRecord()
	record.Sequence = 5
	record.PreviousFingerprint = "BBBB"
	if err := chain.EnsureLink(record); err != ErrChainCorruption {
		t.Fatalf("expected ErrChainCorruption, got %v", err)
	}

	record.PreviousFingerprint = "AAAA"
	record.Sequence = 7
	if err := chain.EnsureLink(record); err != ErrChainCorruption {
		t.Fatalf("expected ErrChainCorruption on sequence gap, got %v", err)
	}
}

func TestCancellationFingerprintDiffersFromCreation(t *testing.T) {
	creation := sampleRecord()
	cancellation := sampleRecord()
	cancellation.Type = RecordTypeCancellation
	if Fingerprint("", creation) == Fingerprint("", cancellation) {
		t.Fatal("creation and cancellation records must canonicalize differently")
	}
}
