package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WebhookNotifier sends operator alerts via webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// NewWebhookNotifier constructs a notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends an alert to webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, msg AlertMessage) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	content := formatAlertMessage(msg)
	payload := webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: content},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("webhook notifier: non-2xx")
	}
	return nil
}

func formatAlertMessage(msg AlertMessage) string {
	var b strings.Builder
	switch msg.Kind {
	case KindChainCorruption:
		b.WriteString("[Fiscal Chain Corruption]\n")
	case KindRejected:
		b.WriteString("[Fiscal Record Rejected]\n")
	default:
		b.WriteString("[Fiscal Alert]\n")
	}
	if msg.IssuerID != "" {
		fmt.Fprintf(&b, "Issuer: %s\n", msg.IssuerID)
	}
	if msg.InvoiceNumber != "" {
		fmt.Fprintf(&b, "Invoice: %s\n", msg.InvoiceNumber)
	} else if msg.InvoiceID != "" {
		fmt.Fprintf(&b, "Invoice: %s\n", msg.InvoiceID)
	}
	if msg.RecordID != "" {
		fmt.Fprintf(&b, "Record: %s\n", msg.RecordID)
	}
	if msg.ErrorCode != "" {
		fmt.Fprintf(&b, "Error Code: %s\n", msg.ErrorCode)
	}
	if msg.Detail != "" {
		fmt.Fprintf(&b, "Detail: %s\n", msg.Detail)
	}
	if msg.RecommendedAction != "" {
		fmt.Fprintf(&b, "Suggested: %s\n", msg.RecommendedAction)
	}
	return strings.TrimSpace(b.String())
}
