package fiscal

import (
	"strings"
	"testing"
	"time"
)

func TestVerificationURL(t *testing.T) {
	record := Record{
		IssuerID:      "B12345678",
		InvoiceNumber: "FA 2026/001",
		IssueDate:     time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		TotalAmount:   121.00,
	}
	got := VerificationURL("https://www2.agenciatributaria.gob.es/", record)
	want := "https://www2.agenciatributaria.gob.es/wlpl/TIKE-CONT/ValidarQR?nif=B12345678&numserie=FA+2026%2F001&fecha=14-03-2026&importe=121.00"
	if got != want {
		t.Fatalf("url mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestVerificationURLParameterOrder(t *testing.T) {
	record := Record{IssuerID: "B1", InvoiceNumber: "N1", IssueDate: time.Now(), TotalAmount: 1}
	got := VerificationURL("https://example.test", record)
	order := []string{"nif=", "numserie=", "fecha=", "importe="}
	last := -1
	for _, param := range order {
		idx := strings.Index(got, param)
		if idx < 0 || idx < last {
			t.Fatalf("parameter %s out of order in %s", param, got)
		}
		last = idx
	}
}
