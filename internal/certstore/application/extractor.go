package application

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	certstore "verifactu-bridge/internal/certstore/domain"
)

// Extractor is one strategy for pulling a certificate and private key out of a
// PKCS#12 container. Some containers are incompatible with the in-process
// parser (legacy ciphers, odd bag layouts), so extraction runs through a list
// of strategies and the first one yielding both parts wins.
type Extractor interface {
	Name() string
	Extract(keystore []byte, passphrase string) (*certstore.SigningIdentity, error)
}

// Extract tries each extractor in order. Every failure reason is retained for
// diagnostics in the returned error.
func Extract(keystore []byte, passphrase string, extractors ...Extractor) (*certstore.SigningIdentity, error) {
	if len(keystore) == 0 {
		return nil, certstore.ErrInvalidCertificate
	}
	var reasons []string
	for _, extractor := range extractors {
		identity, err := extractor.Extract(keystore, passphrase)
		if err == nil {
			return identity, nil
		}
		reasons = append(reasons, fmt.Sprintf("%s: %v", extractor.Name(), err))
		if errors.Is(err, certstore.ErrPrivateKeyExtractionFailed) {
			// The container opened but carries no exportable key; no other
			// strategy will conjure one.
			return nil, fmt.Errorf("%w (%s)", certstore.ErrPrivateKeyExtractionFailed, strings.Join(reasons, "; "))
		}
	}
	return nil, fmt.Errorf("%w (%s)", certstore.ErrInvalidCertificate, strings.Join(reasons, "; "))
}

// PKCS12Extractor parses the container in-process.
type PKCS12Extractor struct{}

// Name identifies the strategy.
func (PKCS12Extractor) Name() string { return "pkcs12" }

// Extract decodes the container and validates the leaf certificate.
func (PKCS12Extractor) Extract(keystore []byte, passphrase string) (*certstore.SigningIdentity, error) {
	key, cert, _, err := pkcs12.DecodeChain(keystore, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if cert == nil {
		return nil, certstore.ErrInvalidCertificate
	}
	if key == nil {
		return nil, certstore.ErrPrivateKeyExtractionFailed
	}
	return buildIdentity(cert, key)
}

// OpensslExtractor shells out to the openssl tool as a fallback for containers
// the in-process parser cannot open.
type OpensslExtractor struct {
	Binary string
}

// Name identifies the strategy.
func (e OpensslExtractor) Name() string { return "openssl" }

// Extract converts the container to PEM via `openssl pkcs12 -nodes` and parses
// the PEM blocks.
func (e OpensslExtractor) Extract(keystore []byte, passphrase string) (*certstore.SigningIdentity, error) {
	binary := e.Binary
	if binary == "" {
		binary = "openssl"
	}

	tmp, err := os.CreateTemp("", "keystore-*.p12")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(keystore); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	out, err := runOpenssl(binary, tmp.Name(), passphrase, false)
	if err != nil {
		// Legacy ciphers (RC2, 3DES) need the -legacy provider on openssl 3.
		legacyOut, legacyErr := runOpenssl(binary, tmp.Name(), passphrase, true)
		if legacyErr != nil {
			return nil, fmt.Errorf("openssl: %w", err)
		}
		out = legacyOut
	}

	cert, key, err := parsePEMBundle(out)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, certstore.ErrPrivateKeyExtractionFailed
	}
	return buildIdentity(cert, key)
}

func runOpenssl(binary, path, passphrase string, legacy bool) ([]byte, error) {
	args := []string{"pkcs12", "-in", path, "-nodes", "-passin", "stdin"}
	if legacy {
		args = append(args, "-legacy")
	}
	cmd := exec.Command(binary, args...)
	cmd.Stdin = strings.NewReader(passphrase + "\n")
	return cmd.Output()
}

func parsePEMBundle(bundle []byte) (*x509.Certificate, crypto.PrivateKey, error) {
	var cert *x509.Certificate
	var key crypto.PrivateKey
	rest := bundle
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			if cert != nil {
				continue // leaf comes first in openssl output
			}
			parsed, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", certstore.ErrInvalidCertificate, err)
			}
			cert = parsed
		case "PRIVATE KEY":
			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("parse private key: %w", err)
			}
			key = parsed
		case "RSA PRIVATE KEY":
			parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("parse rsa private key: %w", err)
			}
			key = parsed
		case "EC PRIVATE KEY":
			parsed, err := x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("parse ec private key: %w", err)
			}
			key = parsed
		}
	}
	if cert == nil {
		return nil, nil, certstore.ErrInvalidCertificate
	}
	return cert, key, nil
}

func buildIdentity(cert *x509.Certificate, key crypto.PrivateKey) (*certstore.SigningIdentity, error) {
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	return &certstore.SigningIdentity{
		Certificate: cert,
		PrivateKey:  key,
		CertPEM:     certPEM,
		KeyPEM:      keyPEM,
		Subject:     cert.Subject.String(),
		Issuer:      cert.Issuer.String(),
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
	}, nil
}
