package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"verifactu-bridge/internal/audit"
	"verifactu-bridge/internal/auth"
	"verifactu-bridge/internal/certstore/application"
	certstore "verifactu-bridge/internal/certstore/domain"
)

// maxKeystoreBytes bounds the multipart body. Real PKCS#12 containers are a
// few kilobytes.
const maxKeystoreBytes = 1 << 20

// UploadHandler accepts PKCS#12 keystore uploads for an issuing entity.
type UploadHandler struct {
	manager     *application.Manager
	auditLogger audit.Logger
	logger      *log.Logger
}

// NewUploadHandler constructs an upload handler.
func NewUploadHandler(manager *application.Manager, auditLogger audit.Logger, logger *log.Logger) (*UploadHandler, error) {
	if manager == nil {
		return nil, errors.New("keystore handler: nil manager")
	}
	return &UploadHandler{manager: manager, auditLogger: auditLogger, logger: logger}, nil
}

type uploadResponse struct {
	IssuerID  string `json:"issuer_id"`
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	NotBefore string `json:"not_before"`
	NotAfter  string `json:"not_after"`
}

// ServeHTTP handles POST /api/v1/keystore.
func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxKeystoreBytes); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	issuerID := r.FormValue("issuer_id")
	if issuerID == "" {
		http.Error(w, "missing issuer_id", http.StatusBadRequest)
		return
	}
	passphrase := r.FormValue("passphrase")

	file, header, err := r.FormFile("keystore")
	if err != nil {
		http.Error(w, "missing keystore file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !application.SupportedKeystoreName(header.Filename) {
		http.Error(w, "unsupported keystore format", http.StatusBadRequest)
		return
	}

	keystore, err := io.ReadAll(io.LimitReader(file, maxKeystoreBytes+1))
	if err != nil {
		http.Error(w, "read keystore", http.StatusBadRequest)
		return
	}
	if len(keystore) > maxKeystoreBytes {
		http.Error(w, "keystore too large", http.StatusRequestEntityTooLarge)
		return
	}

	identity, err := h.manager.Load(r.Context(), issuerID, header.Filename, keystore, passphrase)
	if err != nil {
		h.respondLoadError(w, issuerID, err)
		return
	}

	h.writeAudit(r, issuerID, header.Filename, identity)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(uploadResponse{
		IssuerID:  issuerID,
		Subject:   identity.Subject,
		Issuer:    identity.Issuer,
		NotBefore: identity.NotBefore.Format(time.RFC3339),
		NotAfter:  identity.NotAfter.Format(time.RFC3339),
	})
}

func (h *UploadHandler) respondLoadError(w http.ResponseWriter, issuerID string, err error) {
	if h.logger != nil {
		h.logger.Printf("keystore upload failed: issuer=%s err=%v", issuerID, err)
	}
	switch {
	case errors.Is(err, certstore.ErrUnsupportedKeystore):
		http.Error(w, "unsupported keystore format", http.StatusBadRequest)
	case errors.Is(err, certstore.ErrPrivateKeyExtractionFailed):
		http.Error(w, "keystore carries no exportable private key", http.StatusUnprocessableEntity)
	case errors.Is(err, certstore.ErrInvalidCertificate):
		http.Error(w, "keystore could not be opened; check the passphrase", http.StatusUnprocessableEntity)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *UploadHandler) writeAudit(r *http.Request, issuerID, filename string, identity *certstore.SigningIdentity) {
	if h.auditLogger == nil {
		return
	}
	metadata, _ := json.Marshal(map[string]string{
		"filename":  filename,
		"subject":   identity.Subject,
		"not_after": identity.NotAfter.Format(time.RFC3339),
	})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     auth.TenantIDFromContext(r.Context()),
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "keystore_upload",
		ResourceType: "keystore",
		ResourceID:   issuerID,
		IssuerID:     issuerID,
		Metadata:     metadata,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}
