package application

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	certstore "verifactu-bridge/internal/certstore/domain"
	"verifactu-bridge/internal/observability/metrics"
)

// KeystoreRepository persists extracted signing material so that later
// sessions can sign without the original passphrase.
type KeystoreRepository interface {
	Save(ctx context.Context, identity *certstore.SigningIdentity) error
	Get(ctx context.Context, issuerEntityID string) (*certstore.SigningIdentity, error)
}

// Manager owns signing identities. Parsing a keystore is expensive, so loads
// are cached process-wide per issuing entity and replaced only on a new
// upload.
type Manager struct {
	repo       KeystoreRepository
	extractors []Extractor
	logger     *log.Logger

	mu    sync.RWMutex
	cache map[string]*certstore.SigningIdentity
}

// NewManager constructs a manager.
func NewManager(repo KeystoreRepository, logger *log.Logger, extractors ...Extractor) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("certstore manager: nil repository")
	}
	if len(extractors) == 0 {
		extractors = []Extractor{PKCS12Extractor{}, OpensslExtractor{}}
	}
	return &Manager{
		repo:       repo,
		extractors: extractors,
		logger:     logger,
		cache:      make(map[string]*certstore.SigningIdentity),
	}, nil
}

// Load extracts an identity from an uploaded keystore, persists it for
// unattended signing and replaces any cached identity for the issuer.
func (m *Manager) Load(ctx context.Context, issuerEntityID, filename string, keystore []byte, passphrase string) (*certstore.SigningIdentity, error) {
	if issuerEntityID == "" {
		return nil, errors.New("certstore manager: empty issuer id")
	}
	if !SupportedKeystoreName(filename) {
		metrics.ObserveKeystoreLoad(metrics.ResultError)
		return nil, certstore.ErrUnsupportedKeystore
	}

	identity, err := Extract(keystore, passphrase, m.extractors...)
	if err != nil {
		metrics.ObserveKeystoreLoad(metrics.ResultError)
		return nil, err
	}
	identity.IssuerEntityID = issuerEntityID

	if err := m.repo.Save(ctx, identity); err != nil {
		metrics.ObserveKeystoreLoad(metrics.ResultError)
		return nil, err
	}

	m.mu.Lock()
	m.cache[issuerEntityID] = identity
	m.mu.Unlock()

	metrics.ObserveKeystoreLoad(metrics.ResultSuccess)
	if m.logger != nil {
		m.logger.Printf("signing identity loaded: issuer=%s subject=%q not_after=%s",
			issuerEntityID, identity.Subject, identity.NotAfter.Format(time.RFC3339))
	}
	return identity, nil
}

// Identity returns the cached identity for the issuer, falling back to the
// persisted material for sessions that never saw the upload.
func (m *Manager) Identity(ctx context.Context, issuerEntityID string) (*certstore.SigningIdentity, error) {
	m.mu.RLock()
	identity, ok := m.cache[issuerEntityID]
	m.mu.RUnlock()
	if ok {
		return identity, nil
	}

	identity, err := m.repo.Get(ctx, issuerEntityID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[issuerEntityID] = identity
	m.mu.Unlock()
	return identity, nil
}

// SupportedKeystoreName reports whether the uploaded file carries a supported
// container extension.
func SupportedKeystoreName(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".p12", ".pfx":
		return true
	default:
		return false
	}
}
