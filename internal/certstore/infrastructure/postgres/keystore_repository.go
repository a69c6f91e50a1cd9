package postgres

import (
	"context"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	certstore "verifactu-bridge/internal/certstore/domain"
)

// KeystoreRepository stores extracted signing material per issuing entity.
// The decrypted private key lives here so unattended sessions can sign; the
// table is the single place holding that material and nothing reads it except
// this repository.
type KeystoreRepository struct {
	db *sql.DB
}

// NewKeystoreRepository constructs a repository.
func NewKeystoreRepository(db *sql.DB) *KeystoreRepository {
	return &KeystoreRepository{db: db}
}

// Save upserts the signing material for an issuer.
func (r *KeystoreRepository) Save(ctx context.Context, identity *certstore.SigningIdentity) error {
	if r == nil || r.db == nil {
		return errors.New("keystore repo: nil db")
	}
	if identity == nil || identity.IssuerEntityID == "" {
		return errors.New("keystore repo: invalid identity")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO signing_keystores (
	issuer_id,
	cert_pem,
	key_pem,
	subject,
	cert_issuer,
	not_before,
	not_after,
	uploaded_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (issuer_id)
DO UPDATE SET
	cert_pem = EXCLUDED.cert_pem,
	key_pem = EXCLUDED.key_pem,
	subject = EXCLUDED.subject,
	cert_issuer = EXCLUDED.cert_issuer,
	not_before = EXCLUDED.not_before,
	not_after = EXCLUDED.not_after,
	uploaded_at = EXCLUDED.uploaded_at`,
		identity.IssuerEntityID,
		identity.CertPEM,
		identity.KeyPEM,
		identity.Subject,
		identity.Issuer,
		identity.NotBefore.UTC(),
		identity.NotAfter.UTC(),
		time.Now().UTC(),
	)
	return err
}

// Get loads and re-parses the persisted material for an issuer.
func (r *KeystoreRepository) Get(ctx context.Context, issuerEntityID string) (*certstore.SigningIdentity, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("keystore repo: nil db")
	}
	var certPEM, keyPEM []byte
	err := r.db.QueryRowContext(ctx, `
SELECT cert_pem, key_pem
FROM signing_keystores
WHERE issuer_id = $1`, issuerEntityID).Scan(&certPEM, &keyPEM)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, certstore.ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	return parseIdentity(issuerEntityID, certPEM, keyPEM)
}

func parseIdentity(issuerEntityID string, certPEM, keyPEM []byte) (*certstore.SigningIdentity, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, certstore.ErrInvalidCertificate
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", certstore.ErrInvalidCertificate, err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, certstore.ErrPrivateKeyExtractionFailed
	}
	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse stored key: %w", err)
	}

	return &certstore.SigningIdentity{
		IssuerEntityID: issuerEntityID,
		Certificate:    cert,
		PrivateKey:     key,
		CertPEM:        certPEM,
		KeyPEM:         keyPEM,
		Subject:        cert.Subject.String(),
		Issuer:         cert.Issuer.String(),
		NotBefore:      cert.NotBefore,
		NotAfter:       cert.NotAfter,
	}, nil
}
