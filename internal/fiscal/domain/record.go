package fiscal

import "time"

const (
	// RecordTypeCreation registers a newly issued invoice.
	RecordTypeCreation = "creation"
	// RecordTypeCancellation voids a previously registered invoice. A
	// cancellation is a new record; the original is never mutated.
	RecordTypeCancellation = "cancellation"
)

// Invoice classification codes (TipoFactura).
const (
	InvoiceTypeStandard             = "F1"
	InvoiceTypeSimplified           = "F2"
	InvoiceTypeSubstitute           = "F3"
	InvoiceTypeCorrective           = "R1"
	InvoiceTypeCorrectiveArt80      = "R2"
	InvoiceTypeCorrectiveBadDebt    = "R3"
	InvoiceTypeCorrectiveOther      = "R4"
	InvoiceTypeCorrectiveSimplified = "R5"
)

// Tax regime codes (ClaveRegimen).
const (
	RegimeGeneral   = "01"
	RegimeExport    = "02"
	RegimeUsedGoods = "03"
	RegimeCashBasis = "07"
	RegimeSurcharge = "18"
)

// Operation qualification codes (CalificacionOperacion).
const (
	QualificationSubject         = "S1"
	QualificationReverseCharge   = "S2"
	QualificationNotSubject      = "N1"
	QualificationNotSubjectPlace = "N2"
)

// Exemption codes (OperacionExenta).
const (
	ExemptionArt20 = "E1"
	ExemptionArt21 = "E2"
	ExemptionArt22 = "E3"
	ExemptionArt23 = "E4"
	ExemptionArt25 = "E5"
	ExemptionOther = "E6"
)

// Recipient identification types (IDType).
const (
	RecipientIDTypeNIF      = "02"
	RecipientIDTypeVAT      = "02VAT"
	RecipientIDTypePassport = "03"
	RecipientIDTypeOther    = "07"
)

// TaxLine is one VAT breakdown line of a record.
type TaxLine struct {
	Rate      float64
	Base      float64
	TaxAmount float64
}

// Record is the canonical fiscal record submitted to the authority. Once its
// fingerprint has been accepted remotely the record is immutable.
type Record struct {
	ID            string
	Type          string
	IssuerID      string // NIF of the issuing entity
	IssuerName    string
	InvoiceID     string
	InvoiceNumber string // series + number as printed on the invoice
	IssueDate     time.Time
	InvoiceType   string
	TaxRegime     string
	Qualification string
	Exemption     string // empty unless the operation is exempt

	RecipientIDType string
	RecipientID     string
	RecipientName   string

	Lines       []TaxLine
	TaxAmount   float64
	TotalAmount float64

	Sequence            int64
	PreviousFingerprint string // empty only for the first record of an issuer
	Fingerprint         string
	GeneratedAt         time.Time
	HasIncident         bool
	CreatedAt           time.Time
}

// Validate checks structural invariants that hold for every record type.
func (r *Record) Validate() error {
	if r.Qualification != "" && r.Exemption != "" {
		return ErrExemptionConflict
	}
	return nil
}
