package fiscal

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Canonical field order and separators are mandated by the authority's record
// specification and are independently recomputed on their side. They are frozen
// here and must never change:
//
// creation:
//	IDEmisorFactura=&NumSerieFactura=&FechaExpedicionFactura=&TipoFactura=
//	&CuotaTotal=&ImporteTotal=&Huella=&FechaHoraHusoGenRegistro=
// cancellation:
//	IDEmisorFacturaAnulada=&NumSerieFacturaAnulada=&FechaExpedicionFacturaAnulada=
//	&Huella=&FechaHoraHusoGenRegistro=
//
// Dates are dd-mm-yyyy, the generation timestamp is ISO 8601 with UTC offset,
// amounts carry two decimals, values are trimmed, pairs are joined with "&".
// The digest is SHA-256 over the UTF-8 canonical string, upper-case hex.

const (
	canonicalDateLayout      = "02-01-2006"
	canonicalTimestampLayout = "2006-01-02T15:04:05-07:00"
)

// Fingerprint computes the chained fingerprint for a record. It is a pure
// function of the canonical fields and the previous accepted fingerprint;
// callers must freeze the record (amounts, generation timestamp) before
// invoking it, because any later change produces a different digest.
func Fingerprint(previous string, r Record) string {
	var pairs []string
	switch r.Type {
	case RecordTypeCancellation:
		pairs = []string{
			"IDEmisorFacturaAnulada=" + strings.TrimSpace(r.IssuerID),
			"NumSerieFacturaAnulada=" + strings.TrimSpace(r.InvoiceNumber),
			"FechaExpedicionFacturaAnulada=" + canonicalDate(r.IssueDate),
			"Huella=" + strings.TrimSpace(previous),
			"FechaHoraHusoGenRegistro=" + canonicalTimestamp(r.GeneratedAt),
		}
	default:
		pairs = []string{
			"IDEmisorFactura=" + strings.TrimSpace(r.IssuerID),
			"NumSerieFactura=" + strings.TrimSpace(r.InvoiceNumber),
			"FechaExpedicionFactura=" + canonicalDate(r.IssueDate),
			"TipoFactura=" + strings.TrimSpace(r.InvoiceType),
			"CuotaTotal=" + canonicalAmount(r.TaxAmount),
			"ImporteTotal=" + canonicalAmount(r.TotalAmount),
			"Huella=" + strings.TrimSpace(previous),
			"FechaHoraHusoGenRegistro=" + canonicalTimestamp(r.GeneratedAt),
		}
	}

	sum := sha256.Sum256([]byte(strings.Join(pairs, "&")))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func canonicalDate(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Format(canonicalDateLayout)
}

func canonicalTimestamp(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Format(canonicalTimestampLayout)
}

func canonicalAmount(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}
