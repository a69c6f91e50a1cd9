package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"verifactu-bridge/internal/audit"
	"verifactu-bridge/internal/auth"
	certapp "verifactu-bridge/internal/certstore/application"
	certstore "verifactu-bridge/internal/certstore/domain"
	certrepo "verifactu-bridge/internal/certstore/infrastructure/postgres"
	certhttp "verifactu-bridge/internal/certstore/interfaces/http"
	"verifactu-bridge/internal/eventing"
	"verifactu-bridge/internal/eventing/eventbus"
	eventingrepo "verifactu-bridge/internal/eventing/infrastructure/postgres"
	fiscalapp "verifactu-bridge/internal/fiscal/application"
	"verifactu-bridge/internal/fiscal/application/events"
	fiscalrepo "verifactu-bridge/internal/fiscal/infrastructure/postgres"
	fiscalinterfaces "verifactu-bridge/internal/fiscal/interfaces"
	fiscalhttp "verifactu-bridge/internal/fiscal/interfaces/http"
	"verifactu-bridge/internal/fiscal/notify"
	"verifactu-bridge/internal/observability/metrics"
	recovery "verifactu-bridge/internal/recovery/application"
	"verifactu-bridge/internal/verifactu"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(fiscalinterfaces.HostInvoiceEvent{})
	registry.Register(events.InvoiceValidated{})
	registry.Register(events.RecordAccepted{})
	registry.Register(events.RecordRejected{})
	registry.Register(events.SubmissionDeferred{})
	registry.Register(events.ChainCorruptionDetected{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, cfg.TenantID, baseBus)

	keystoreRepo := certrepo.NewKeystoreRepository(db)
	certManager, err := certapp.NewManager(keystoreRepo, logger)
	if err != nil {
		logger.Fatalf("certstore manager error: %v", err)
	}

	recordRepo := fiscalrepo.NewRecordRepository(db)
	chainRepo := fiscalrepo.NewChainRepository(db)
	attemptRepo := fiscalrepo.NewAttemptRepository(db)
	statusRepo := fiscalrepo.NewStatusRepository(db)

	builder := fiscalapp.NewBuilder(fiscalapp.BuilderConfig{
		DefaultTaxRegime: cfg.DefaultTaxRegime,
	}, nil)

	client, err := verifactu.NewClient(cfg.VerifactuEndpoint, verifactu.WithTimeout(cfg.VerifactuTimeout))
	if err != nil {
		logger.Fatalf("verifactu client error: %v", err)
	}

	recoveryCfg, err := recovery.LoadConfig()
	if err != nil {
		logger.Fatalf("recovery config error: %v", err)
	}
	var alerts notify.Notifier
	if recoveryCfg.WebhookURL != "" {
		alerts = notify.NewWebhookNotifier(recoveryCfg.WebhookURL)
	}

	submitService, err := fiscalapp.NewSubmitService(
		builder,
		recordRepo,
		chainRepo,
		attemptRepo,
		statusRepo,
		client,
		certManager,
		publisher,
		alerts,
		logger,
	)
	if err != nil {
		logger.Fatalf("submit service error: %v", err)
	}

	invoiceConsumer, err := fiscalinterfaces.NewInvoiceConsumer(submitService, statusRepo, cfg.ProvisionalPrefix, logger)
	if err != nil {
		logger.Fatalf("invoice consumer error: %v", err)
	}
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[fiscalinterfaces.HostInvoiceEvent](), "fiscal.invoices", func(ctx context.Context, event any) error {
		evt, ok := event.(fiscalinterfaces.HostInvoiceEvent)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return invoiceConsumer.Consume(ctx, evt)
	}, processedStore)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[events.RecordAccepted](), "fiscal.log", func(ctx context.Context, event any) error {
		evt, ok := event.(events.RecordAccepted)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("fiscal record accepted: issuer=%s invoice=%s record=%s", evt.IssuerID, evt.InvoiceID, evt.RecordID)
		return nil
	}, processedStore)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := dispatcher.Dispatch(context.Background(), 100); err != nil {
				logger.Printf("outbox dispatch error: %v", err)
			}
		}
	}()

	probe := &connectivityProbe{
		client:     client,
		identities: certManager,
		timeout:    time.Duration(recoveryCfg.ProbeTimeoutSec) * time.Second,
	}
	runner, err := recovery.NewRunner(statusRepo, submitService, probe, recoveryCfg.BatchLimit, logger)
	if err != nil {
		logger.Fatalf("recovery runner error: %v", err)
	}
	scheduler := recovery.NewScheduler(runner, time.Duration(recoveryCfg.IntervalMinutes)*time.Minute, logger)
	go scheduler.Start(context.Background())

	fiscalHandler, err := fiscalhttp.NewHandler(submitService, statusRepo, recordRepo, attemptRepo, runner, auditRepo, cfg.VerificationBaseURL)
	if err != nil {
		logger.Fatalf("fiscal handler error: %v", err)
	}
	keystoreHandler, err := certhttp.NewUploadHandler(certManager, auditRepo, logger)
	if err != nil {
		logger.Fatalf("keystore handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/keystore", keystoreHandler)
	mux.Handle("/api/v1/recovery/run", fiscalHandler)
	mux.Handle("/api/v1/invoices/", fiscalHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL         string
	HTTPAddr            string
	TenantID            string
	JWTSecret           string
	VerifactuEndpoint   string
	VerifactuTimeout    time.Duration
	VerificationBaseURL string
	ProvisionalPrefix   string
	DefaultTaxRegime    string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:         getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:            getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:            getenvDefault("TENANT_ID", "tenant-default"),
		JWTSecret:           getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		VerifactuEndpoint:   getenvDefault("VERIFACTU_ENDPOINT", ""),
		VerifactuTimeout:    getenvDuration("VERIFACTU_TIMEOUT", 30*time.Second),
		VerificationBaseURL: getenvDefault("VERIFICATION_BASE_URL", "https://prewww2.aeat.es"),
		ProvisionalPrefix:   getenvDefault("PROVISIONAL_INVOICE_PREFIX", "PROV-"),
		DefaultTaxRegime:    getenvDefault("DEFAULT_TAX_REGIME", "01"),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	if cfg.VerifactuEndpoint == "" {
		log.Fatal("VERIFACTU_ENDPOINT is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ---- Adapters ----

// connectivityProbe answers the recovery runner's pre-check by pinging the
// authority endpoint with the issuer's signing identity.
type connectivityProbe struct {
	client     *verifactu.Client
	identities *certapp.Manager
	timeout    time.Duration
}

func (p *connectivityProbe) Probe(ctx context.Context, issuerID string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var identity *certstore.SigningIdentity
	if p.identities != nil {
		loaded, err := p.identities.Identity(probeCtx, issuerID)
		if err != nil {
			return false
		}
		identity = loaded
	}
	return p.client.Probe(probeCtx, identity)
}
