package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"verifactu-bridge/internal/audit"
	"verifactu-bridge/internal/auth"
	fiscalapp "verifactu-bridge/internal/fiscal/application"
	fiscal "verifactu-bridge/internal/fiscal/domain"
	"verifactu-bridge/internal/fiscal/interfaces"
	recovery "verifactu-bridge/internal/recovery/application"
)

// AttemptLister lists an invoice's submission attempts.
type AttemptLister interface {
	ListByInvoice(ctx context.Context, invoiceID string) ([]fiscal.Attempt, error)
}

// Handler provides the fiscal HTTP endpoints.
type Handler struct {
	submit      *fiscalapp.SubmitService
	statuses    fiscalapp.StatusRepository
	records     fiscalapp.RecordRepository
	attempts    AttemptLister
	runner      *recovery.Runner
	auditLogger audit.Logger
	baseURL     string
}

// NewHandler constructs a handler.
func NewHandler(
	submit *fiscalapp.SubmitService,
	statuses fiscalapp.StatusRepository,
	records fiscalapp.RecordRepository,
	attempts AttemptLister,
	runner *recovery.Runner,
	auditLogger audit.Logger,
	verificationBaseURL string,
) (*Handler, error) {
	if submit == nil {
		return nil, errors.New("fiscal handler: nil submit service")
	}
	if statuses == nil || records == nil || attempts == nil {
		return nil, errors.New("fiscal handler: nil repository")
	}
	return &Handler{
		submit:      submit,
		statuses:    statuses,
		records:     records,
		attempts:    attempts,
		runner:      runner,
		auditLogger: auditLogger,
		baseURL:     verificationBaseURL,
	}, nil
}

// ServeHTTP handles /api/v1/invoices/... and /api/v1/recovery/run.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/recovery/run":
		h.handleRecoveryRun(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/invoices/"):
		h.handleInvoice(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleInvoice(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/invoices/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	invoiceID := parts[0]

	switch parts[1] {
	case "fiscal":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleStatus(w, r, invoiceID)
	case "attempts.xlsx":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleAttemptsExport(w, r, invoiceID)
	case "verification.pdf":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleVerificationExport(w, r, invoiceID)
	case "cancel":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCancel(w, r, invoiceID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type statusResponse struct {
	InvoiceID        string `json:"invoice_id"`
	InvoiceNumber    string `json:"invoice_number"`
	IssuerID         string `json:"issuer_id"`
	RecordID         string `json:"record_id,omitempty"`
	Status           string `json:"status"`
	HasIncident      bool   `json:"has_incident"`
	ErrorDetail      string `json:"error_detail,omitempty"`
	ConfirmationCode string `json:"confirmation_code,omitempty"`
	GeneratedAt      string `json:"generated_at,omitempty"`
	UpdatedAt        string `json:"updated_at"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, invoiceID string) {
	state, err := h.statuses.Get(r.Context(), invoiceID)
	if err != nil {
		respondError(w, err)
		return
	}
	response := statusResponse{
		InvoiceID:        state.InvoiceID,
		InvoiceNumber:    state.InvoiceNumber,
		IssuerID:         state.IssuerID,
		RecordID:         state.RecordID,
		Status:           string(state.Status),
		HasIncident:      state.HasIncident,
		ErrorDetail:      state.ErrorDetail,
		ConfirmationCode: state.ConfirmationCode,
		UpdatedAt:        state.UpdatedAt.Format(time.RFC3339),
	}
	if !state.GeneratedAt.IsZero() {
		response.GeneratedAt = state.GeneratedAt.Format(time.RFC3339)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (h *Handler) handleAttemptsExport(w http.ResponseWriter, r *http.Request, invoiceID string) {
	state, err := h.statuses.Get(r.Context(), invoiceID)
	if err != nil {
		respondError(w, err)
		return
	}
	attempts, err := h.attempts.ListByInvoice(r.Context(), invoiceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	payload, err := interfaces.BuildAttemptsXLSX(state, attempts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="attempts.xlsx"`)
	_, _ = w.Write(payload)
}

func (h *Handler) handleVerificationExport(w http.ResponseWriter, r *http.Request, invoiceID string) {
	state, err := h.statuses.Get(r.Context(), invoiceID)
	if err != nil {
		respondError(w, err)
		return
	}
	if state.Status != fiscal.StatusAccepted {
		http.Error(w, "invoice has no accepted fiscal record", http.StatusConflict)
		return
	}
	record, err := h.records.Get(r.Context(), state.RecordID)
	if err != nil {
		respondError(w, err)
		return
	}
	payload, err := interfaces.BuildVerificationPDF(record, state, h.baseURL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="verification.pdf"`)
	_, _ = w.Write(payload)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, invoiceID string) {
	record, err := h.submit.Cancel(r.Context(), invoiceID)
	if err != nil {
		respondError(w, err)
		return
	}
	h.writeAudit(r, "invoice_cancel", invoiceID, record.IssuerID, map[string]string{
		"record_id": record.ID,
	})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"record_id":   record.ID,
		"fingerprint": record.Fingerprint,
	})
}

func (h *Handler) handleRecoveryRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.runner == nil {
		http.Error(w, "recovery runner not configured", http.StatusServiceUnavailable)
		return
	}
	summary, err := h.runner.Run(r.Context())
	if errors.Is(err, recovery.ErrRunInProgress) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeAudit(r, "recovery_run", "", "", map[string]string{
		"processed": strconv.Itoa(summary.Processed),
		"errors":    strconv.Itoa(summary.Errors),
		"skipped":   strconv.Itoa(summary.Skipped),
	})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}

func (h *Handler) writeAudit(r *http.Request, action, invoiceID, issuerID string, detail map[string]string) {
	if h.auditLogger == nil {
		return
	}
	metadata, _ := json.Marshal(detail)
	resourceType := "invoice"
	if invoiceID == "" {
		resourceType = "recovery"
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     auth.TenantIDFromContext(r.Context()),
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   invoiceID,
		IssuerID:     issuerID,
		Metadata:     metadata,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fiscal.ErrStateNotFound), errors.Is(err, fiscal.ErrRecordNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, fiscal.ErrImmutableFiscalRecord):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, fiscal.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, fiscal.ErrChainCorruption):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, fiscal.ErrCancellationRejected):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, fiscal.ErrAuthorityUnavailable):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
