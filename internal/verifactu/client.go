package verifactu

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	certstore "verifactu-bridge/internal/certstore/domain"
	fiscal "verifactu-bridge/internal/fiscal/domain"
)

// Submission results.
const (
	ResultAccepted    = "accepted"
	ResultRejected    = "rejected"
	ResultUnavailable = "unavailable"
)

// Outcome is the classified result of one submission round-trip.
type Outcome struct {
	Result           string
	ConfirmationCode string // authority-issued CSV, set on acceptance
	ErrorCode        string
	ErrorDetail      string
	// Transport is true when no interpretable response arrived at all (no
	// network path, timeout, garbled body) as opposed to a service-level
	// failure.
	Transport   bool
	RawResponse []byte
}

// Client submits fiscal records to the authority's registration endpoint over
// mutually-authenticated TLS. A response that cannot be unambiguously
// classified is reported as unavailable, never as success: an unconfirmed
// chain link must not be assumed accepted.
type Client struct {
	endpoint string
	timeout  time.Duration

	mu      sync.Mutex
	clients map[string]*http.Client // keyed by certificate serial
}

// Option configures the client.
type Option func(*Client)

// WithTimeout overrides the round-trip timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewClient constructs a client.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("verifactu: empty endpoint")
	}
	client := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		timeout:  30 * time.Second,
		clients:  make(map[string]*http.Client),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Submit serializes and transmits one record, then classifies the response.
func (c *Client) Submit(ctx context.Context, record fiscal.Record, identity *certstore.SigningIdentity) (Outcome, error) {
	if identity == nil || identity.Certificate == nil {
		return Outcome{}, errors.New("verifactu: nil signing identity")
	}

	payload, err := xml.Marshal(buildRequest(record))
	if err != nil {
		return Outcome{}, fmt.Errorf("verifactu: marshal request: %w", err)
	}
	body := append([]byte(xml.Header), payload...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "RegFactuSistemaFacturacion")

	resp, err := c.httpClient(identity).Do(req)
	if err != nil {
		return Outcome{
			Result:      ResultUnavailable,
			Transport:   true,
			ErrorDetail: err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{Result: ResultUnavailable, Transport: true, ErrorDetail: err.Error()}, nil
	}
	return classify(resp.StatusCode, raw), nil
}

// Probe checks connectivity to the endpoint without submitting anything.
func (c *Client) Probe(ctx context.Context, identity *certstore.SigningIdentity) bool {
	if identity == nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient(identity).Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (c *Client) httpClient(identity *certstore.SigningIdentity) *http.Client {
	serial := identity.Certificate.SerialNumber.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[serial]; ok {
		return client
	}
	client := &http.Client{
		Timeout: c.timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{identity.TLSCertificate()},
				MinVersion:   tls.VersionTLS12,
			},
		},
	}
	c.clients[serial] = client
	return client
}

func classify(status int, raw []byte) Outcome {
	if status != http.StatusOK {
		return Outcome{
			Result:      ResultUnavailable,
			ErrorDetail: fmt.Sprintf("http %d", status),
			RawResponse: raw,
		}
	}

	var envelope responseEnvelope
	if err := xml.Unmarshal(raw, &envelope); err != nil {
		return Outcome{
			Result:      ResultUnavailable,
			ErrorDetail: fmt.Sprintf("unparseable response: %v", err),
			RawResponse: raw,
		}
	}

	response := envelope.Body.Response
	switch response.SendStatus {
	case sendStatusCorrect:
		return Outcome{
			Result:           ResultAccepted,
			ConfirmationCode: response.CSV,
			RawResponse:      raw,
		}
	case sendStatusPartiallyCorrect, sendStatusIncorrect:
		return classifyLine(response, raw)
	default:
		return Outcome{
			Result:      ResultUnavailable,
			ErrorDetail: fmt.Sprintf("unknown send status %q", response.SendStatus),
			RawResponse: raw,
		}
	}
}

func classifyLine(response registrationResponse, raw []byte) Outcome {
	if len(response.Lines) == 0 {
		return Outcome{
			Result:      ResultUnavailable,
			ErrorDetail: "no per-record response line",
			RawResponse: raw,
		}
	}
	line := response.Lines[0]
	switch line.RecordStatus {
	case recordStatusCorrect, recordStatusAcceptedWithErrors:
		// The authority persisted the record; errors are advisory.
		return Outcome{
			Result:           ResultAccepted,
			ConfirmationCode: response.CSV,
			ErrorCode:        line.ErrorCode,
			ErrorDetail:      line.ErrorDescription,
			RawResponse:      raw,
		}
	case recordStatusIncorrect:
		return Outcome{
			Result:      ResultRejected,
			ErrorCode:   line.ErrorCode,
			ErrorDetail: line.ErrorDescription,
			RawResponse: raw,
		}
	default:
		return Outcome{
			Result:      ResultUnavailable,
			ErrorDetail: fmt.Sprintf("unknown record status %q", line.RecordStatus),
			RawResponse: raw,
		}
	}
}
