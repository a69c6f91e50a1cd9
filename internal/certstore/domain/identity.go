package certstore

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"time"
)

// SigningIdentity is a parsed certificate/private-key pair used for
// transport-level client authentication with the remote authority. It is
// immutable after a successful parse.
type SigningIdentity struct {
	IssuerEntityID string
	Certificate    *x509.Certificate
	PrivateKey     crypto.PrivateKey
	CertPEM        []byte
	KeyPEM         []byte

	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
}

// TLSCertificate returns the identity as a TLS client certificate.
func (i *SigningIdentity) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{i.Certificate.Raw},
		PrivateKey:  i.PrivateKey,
		Leaf:        i.Certificate,
	}
}

// ValidAt reports whether the certificate validity window covers the instant.
func (i *SigningIdentity) ValidAt(at time.Time) bool {
	if i == nil || i.Certificate == nil {
		return false
	}
	return !at.Before(i.NotBefore) && !at.After(i.NotAfter)
}
