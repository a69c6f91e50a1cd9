package http

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"verifactu-bridge/internal/audit"
	"verifactu-bridge/internal/certstore/application"
	certstore "verifactu-bridge/internal/certstore/domain"
)

type memoryKeystoreRepo struct {
	saved map[string]*certstore.SigningIdentity
}

func (m *memoryKeystoreRepo) Save(_ context.Context, identity *certstore.SigningIdentity) error {
	if m.saved == nil {
		m.saved = make(map[string]*certstore.SigningIdentity)
	}
	m.saved[identity.IssuerEntityID] = identity
	return nil
}

func (m *memoryKeystoreRepo) Get(_ context.Context, issuerEntityID string) (*certstore.SigningIdentity, error) {
	identity, ok := m.saved[issuerEntityID]
	if !ok {
		return nil, certstore.ErrIdentityNotFound
	}
	return identity, nil
}

type captureAudit struct {
	entries []audit.Entry
}

func (c *captureAudit) Log(_ context.Context, entry audit.Entry) error {
	c.entries = append(c.entries, entry)
	return nil
}

func buildKeystore(t *testing.T, passphrase string) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "ACME SL", SerialNumber: "B12345678"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	keystore, err := pkcs12.Modern.Encode(key, cert, nil, passphrase)
	if err != nil {
		t.Fatalf("encode keystore: %v", err)
	}
	return keystore
}

func multipartUpload(t *testing.T, issuerID, filename, passphrase string, keystore []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if issuerID != "" {
		if err := writer.WriteField("issuer_id", issuerID); err != nil {
			t.Fatalf("write issuer_id: %v", err)
		}
	}
	if err := writer.WriteField("passphrase", passphrase); err != nil {
		t.Fatalf("write passphrase: %v", err)
	}
	if keystore != nil {
		part, err := writer.CreateFormFile("keystore", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(keystore); err != nil {
			t.Fatalf("write keystore: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/keystore", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func newUploadFixture(t *testing.T) (*UploadHandler, *memoryKeystoreRepo, *captureAudit) {
	t.Helper()
	repo := &memoryKeystoreRepo{}
	manager, err := application.NewManager(repo, nil, application.PKCS12Extractor{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	auditLog := &captureAudit{}
	handler, err := NewUploadHandler(manager, auditLog, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, repo, auditLog
}

func TestUploadKeystore(t *testing.T) {
	handler, repo, auditLog := newUploadFixture(t)

	req := multipartUpload(t, "B12345678", "cert.p12", "secret", buildKeystore(t, "secret"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.IssuerID != "B12345678" {
		t.Fatalf("unexpected issuer id %q", resp.IssuerID)
	}
	if resp.Subject == "" || resp.NotAfter == "" {
		t.Fatal("expected certificate details in response")
	}
	if repo.saved["B12345678"] == nil {
		t.Fatal("identity must be persisted")
	}
	if len(auditLog.entries) != 1 || auditLog.entries[0].Action != "keystore_upload" {
		t.Fatalf("expected one keystore_upload audit entry, got %+v", auditLog.entries)
	}
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	handler, repo, _ := newUploadFixture(t)

	req := multipartUpload(t, "B12345678", "cert.jks", "secret", []byte("not a keystore"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for .jks, got %d", rec.Code)
	}
	if len(repo.saved) != 0 {
		t.Fatal("nothing must be persisted")
	}
}

func TestUploadWrongPassphrase(t *testing.T) {
	handler, _, auditLog := newUploadFixture(t)

	req := multipartUpload(t, "B12345678", "cert.p12", "wrong", buildKeystore(t, "secret"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for wrong passphrase, got %d", rec.Code)
	}
	if len(auditLog.entries) != 0 {
		t.Fatal("failed uploads must not be audited as loads")
	}
}

func TestUploadMissingIssuer(t *testing.T) {
	handler, _, _ := newUploadFixture(t)

	req := multipartUpload(t, "", "cert.p12", "secret", buildKeystore(t, "secret"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without issuer_id, got %d", rec.Code)
	}
}

func TestUploadMethodNotAllowed(t *testing.T) {
	handler, _, _ := newUploadFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/keystore", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
