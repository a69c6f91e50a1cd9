package certstore

import "errors"

var (
	// ErrInvalidCertificate is returned when the keystore does not yield a
	// well-formed X.509 certificate.
	ErrInvalidCertificate = errors.New("certstore: invalid certificate")
	// ErrPrivateKeyExtractionFailed is returned when the public certificate is
	// recoverable but no exportable private key is. A private key is mandatory
	// for mutual-TLS authentication with the authority.
	ErrPrivateKeyExtractionFailed = errors.New("certstore: private key extraction failed")
	// ErrUnsupportedKeystore is returned for unsupported container formats.
	ErrUnsupportedKeystore = errors.New("certstore: unsupported keystore format")
	// ErrIdentityNotFound is returned when no identity is stored for an issuer.
	ErrIdentityNotFound = errors.New("certstore: signing identity not found")
)
