package fiscal

import (
	"net/url"
	"strings"
)

// VerificationURL builds the authority's invoice verification URL printed as a
// QR code on the rendered document. Parameter order (nif, numserie, fecha,
// importe) is part of the published contract, so the query string is assembled
// by hand instead of through url.Values.
func VerificationURL(baseURL string, r Record) string {
	base := strings.TrimRight(baseURL, "/")
	pairs := []string{
		"nif=" + url.QueryEscape(strings.TrimSpace(r.IssuerID)),
		"numserie=" + url.QueryEscape(strings.TrimSpace(r.InvoiceNumber)),
		"fecha=" + url.QueryEscape(canonicalDate(r.IssueDate)),
		"importe=" + url.QueryEscape(canonicalAmount(r.TotalAmount)),
	}
	return base + "/wlpl/TIKE-CONT/ValidarQR?" + strings.Join(pairs, "&")
}
