package fiscal

import "time"

// Invoice kinds as the host application reports them.
const (
	InvoiceKindStandard   = "standard"
	InvoiceKindCreditNote = "credit_note"
	InvoiceKindCorrective = "corrective"
	InvoiceKindSubstitute = "substitute"
)

// Invoice is the boundary snapshot of a host invoice at validation time. The
// host's business entities stay on its side; only the attributes needed to
// build a fiscal record cross over.
type Invoice struct {
	ID         string
	Number     string
	Kind       string
	IssueDate  time.Time
	IssuerID   string
	IssuerName string
	POSOrigin  bool // issued through a point-of-sale channel

	// Explicit per-invoice codes, already set by the user. Highest override
	// precedence; empty means unset.
	TaxRegime     string
	Qualification string
	Exemption     string

	Lines       []TaxLine
	TaxAmount   float64
	TotalAmount float64
}

// Recipient is the boundary snapshot of the invoice's third party.
type Recipient struct {
	Name       string
	Country    string // ISO 3166-1 alpha-2
	TaxID      string // Spanish NIF
	VATNumber  string // intra-EU VAT number
	Address    string
	Simplified bool // flagged as simplified-invoice customer

	// Per-recipient overrides, middle precedence tier.
	TaxRegime     string
	Qualification string
	Exemption     string
}

// Spanish reports whether the recipient is domestic.
func (p Recipient) Spanish() bool {
	return p.Country == "" || p.Country == "ES"
}

// EU country set used for the VAT-number precondition.
var euCountries = map[string]struct{}{
	"AT": {}, "BE": {}, "BG": {}, "CY": {}, "CZ": {}, "DE": {}, "DK": {},
	"EE": {}, "ES": {}, "FI": {}, "FR": {}, "GR": {}, "HR": {}, "HU": {},
	"IE": {}, "IT": {}, "LT": {}, "LU": {}, "LV": {}, "MT": {}, "NL": {},
	"PL": {}, "PT": {}, "RO": {}, "SE": {}, "SI": {}, "SK": {},
}

// EU reports whether the recipient's country is an EU member state.
func (p Recipient) EU() bool {
	_, ok := euCountries[p.Country]
	return ok
}
