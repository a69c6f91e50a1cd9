package verifactu

import (
	"encoding/xml"
	"strconv"

	fiscal "verifactu-bridge/internal/fiscal/domain"
)

// Wire schema for the authority's registration service. One fiscal record per
// call, creation or cancellation.

const (
	dateLayout      = "02-01-2006"
	timestampLayout = "2006-01-02T15:04:05-07:00"

	hashAlgorithmSHA256 = "01"
)

type requestEnvelope struct {
	XMLName xml.Name    `xml:"soapenv:Envelope"`
	NS      string      `xml:"xmlns:soapenv,attr"`
	Body    requestBody `xml:"soapenv:Body"`
}

type requestBody struct {
	Registration registrationRequest `xml:"RegFactuSistemaFacturacion"`
}

type registrationRequest struct {
	Header header        `xml:"Cabecera"`
	Record recordWrapper `xml:"RegistroFactura"`
}

type header struct {
	Issuer issuerParty `xml:"ObligadoEmision"`
}

type issuerParty struct {
	Name string `xml:"NombreRazon"`
	NIF  string `xml:"NIF"`
}

type recordWrapper struct {
	Creation     *creationRecord     `xml:"RegistroAlta,omitempty"`
	Cancellation *cancellationRecord `xml:"RegistroAnulacion,omitempty"`
}

type invoiceID struct {
	IssuerNIF string `xml:"IDEmisorFactura"`
	Number    string `xml:"NumSerieFactura"`
	IssueDate string `xml:"FechaExpedicionFactura"`
}

type recipientEntry struct {
	Name  string   `xml:"NombreRazon"`
	NIF   string   `xml:"NIF,omitempty"`
	Other *otherID `xml:"IDOtro,omitempty"`
}

type otherID struct {
	Type string `xml:"IDType"`
	ID   string `xml:"ID"`
}

type breakdownLine struct {
	Regime        string `xml:"ClaveRegimen"`
	Qualification string `xml:"CalificacionOperacion,omitempty"`
	Exemption     string `xml:"OperacionExenta,omitempty"`
	Rate          string `xml:"TipoImpositivo,omitempty"`
	Base          string `xml:"BaseImponibleOimporteNoSujeto"`
	TaxAmount     string `xml:"CuotaRepercutida,omitempty"`
}

type chaining struct {
	FirstRecord string          `xml:"PrimerRegistro,omitempty"`
	Previous    *previousRecord `xml:"RegistroAnterior,omitempty"`
}

type previousRecord struct {
	Fingerprint string `xml:"Huella"`
}

type creationRecord struct {
	Version       string           `xml:"IDVersion"`
	Invoice       invoiceID        `xml:"IDFactura"`
	IssuerName    string           `xml:"NombreRazonEmisor"`
	InvoiceType   string           `xml:"TipoFactura"`
	Description   string           `xml:"DescripcionOperacion"`
	Recipients    []recipientEntry `xml:"Destinatarios>IDDestinatario,omitempty"`
	Breakdown     []breakdownLine  `xml:"Desglose>DetalleDesglose"`
	TaxTotal      string           `xml:"CuotaTotal"`
	Total         string           `xml:"ImporteTotal"`
	Chaining      chaining         `xml:"Encadenamiento"`
	GeneratedAt   string           `xml:"FechaHoraHusoGenRegistro"`
	HashAlgorithm string           `xml:"TipoHuella"`
	Fingerprint   string           `xml:"Huella"`
}

type cancellationRecord struct {
	Version       string    `xml:"IDVersion"`
	Invoice       invoiceID `xml:"IDFacturaAnulada"`
	Chaining      chaining  `xml:"Encadenamiento"`
	GeneratedAt   string    `xml:"FechaHoraHusoGenRegistro"`
	HashAlgorithm string    `xml:"TipoHuella"`
	Fingerprint   string    `xml:"Huella"`
}

type responseEnvelope struct {
	XMLName xml.Name     `xml:"Envelope"`
	Body    responseBody `xml:"Body"`
}

type responseBody struct {
	Response registrationResponse `xml:"RespuestaRegFactuSistemaFacturacion"`
}

type registrationResponse struct {
	SendStatus string         `xml:"EstadoEnvio"`
	CSV        string         `xml:"CSV"`
	Lines      []responseLine `xml:"RespuestaLinea"`
}

type responseLine struct {
	RecordStatus     string `xml:"EstadoRegistro"`
	ErrorCode        string `xml:"CodigoErrorRegistro"`
	ErrorDescription string `xml:"DescripcionErrorRegistro"`
}

// Submission outcome statuses reported by the authority.
const (
	sendStatusCorrect          = "Correcto"
	sendStatusPartiallyCorrect = "ParcialmenteCorrecto"
	sendStatusIncorrect        = "Incorrecto"

	recordStatusCorrect            = "Correcto"
	recordStatusAcceptedWithErrors = "AceptadoConErrores"
	recordStatusIncorrect          = "Incorrecto"
)

func buildRequest(record fiscal.Record) requestEnvelope {
	req := registrationRequest{
		Header: header{Issuer: issuerParty{Name: record.IssuerName, NIF: record.IssuerID}},
	}
	switch record.Type {
	case fiscal.RecordTypeCancellation:
		req.Record.Cancellation = &cancellationRecord{
			Version: "1.0",
			Invoice: invoiceID{
				IssuerNIF: record.IssuerID,
				Number:    record.InvoiceNumber,
				IssueDate: record.IssueDate.Format(dateLayout),
			},
			Chaining:      buildChaining(record),
			GeneratedAt:   record.GeneratedAt.Format(timestampLayout),
			HashAlgorithm: hashAlgorithmSHA256,
			Fingerprint:   record.Fingerprint,
		}
	default:
		req.Record.Creation = &creationRecord{
			Version: "1.0",
			Invoice: invoiceID{
				IssuerNIF: record.IssuerID,
				Number:    record.InvoiceNumber,
				IssueDate: record.IssueDate.Format(dateLayout),
			},
			IssuerName:    record.IssuerName,
			InvoiceType:   record.InvoiceType,
			Description:   "Registro de facturación",
			Recipients:    buildRecipients(record),
			Breakdown:     buildBreakdown(record),
			TaxTotal:      amount(record.TaxAmount),
			Total:         amount(record.TotalAmount),
			Chaining:      buildChaining(record),
			GeneratedAt:   record.GeneratedAt.Format(timestampLayout),
			HashAlgorithm: hashAlgorithmSHA256,
			Fingerprint:   record.Fingerprint,
		}
	}
	return requestEnvelope{
		NS:   "http://schemas.xmlsoap.org/soap/envelope/",
		Body: requestBody{Registration: req},
	}
}

func buildChaining(record fiscal.Record) chaining {
	if record.PreviousFingerprint == "" {
		return chaining{FirstRecord: "S"}
	}
	return chaining{Previous: &previousRecord{Fingerprint: record.PreviousFingerprint}}
}

func buildRecipients(record fiscal.Record) []recipientEntry {
	if record.RecipientID == "" && record.RecipientName == "" {
		return nil // simplified records carry no recipient
	}
	entry := recipientEntry{Name: record.RecipientName}
	if record.RecipientIDType == fiscal.RecipientIDTypeNIF {
		entry.NIF = record.RecipientID
	} else {
		entry.Other = &otherID{Type: record.RecipientIDType, ID: record.RecipientID}
	}
	return []recipientEntry{entry}
}

func buildBreakdown(record fiscal.Record) []breakdownLine {
	lines := make([]breakdownLine, 0, len(record.Lines))
	for _, line := range record.Lines {
		entry := breakdownLine{
			Regime: record.TaxRegime,
			Base:   amount(line.Base),
		}
		if record.Exemption != "" {
			entry.Exemption = record.Exemption
		} else {
			entry.Qualification = record.Qualification
			entry.Rate = amount(line.Rate)
			entry.TaxAmount = amount(line.TaxAmount)
		}
		lines = append(lines, entry)
	}
	if len(lines) == 0 {
		entry := breakdownLine{
			Regime: record.TaxRegime,
			Base:   amount(record.TotalAmount - record.TaxAmount),
		}
		if record.Exemption != "" {
			entry.Exemption = record.Exemption
		} else {
			entry.Qualification = record.Qualification
			entry.TaxAmount = amount(record.TaxAmount)
		}
		lines = append(lines, entry)
	}
	return lines
}

func amount(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}
