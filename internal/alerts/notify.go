package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	svix "github.com/standard-webhooks/standard-webhooks/libraries/go"

	"github.com/campaignforge/engine/pkg/logger"
)

// EmailSender is the narrow dependency notify.go needs for the email
// channel; cmd/engine adapts an internal/transport EmailTransport to it.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// webhookPayload is the body shape from spec.md §6: {incident, timestamp, type:"alert"}.
type webhookPayload struct {
	Incident  Incident  `json:"incident"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

// chatAttachment mirrors the severity-colored card shape from spec.md §4.5/§6.
type chatAttachment struct {
	Color  string      `json:"color"`
	Title  string      `json:"title"`
	Fields []chatField `json:"fields"`
}

type chatField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

var severityColor = map[Severity]string{
	SeverityLow:      "#36a64f",
	SeverityMedium:   "#ff9f1c",
	SeverityHigh:     "#e01e37",
	SeverityCritical: "#8b0000",
}

// Dispatcher is the default Notifier. Its HTTP dispatch is grounded on
// bravo1goingdark-mailgrid's webhook.Client: a dedicated timeout-bound
// http.Client plus a WaitGroup so in-flight requests can be drained on
// shutdown rather than abandoned mid-send.
type Dispatcher struct {
	httpClient *http.Client
	wg         sync.WaitGroup
	email      EmailSender
	log        logger.Logger
}

func NewDispatcher(email EmailSender, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		email:      email,
		log:        log,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, rule Rule, inc Incident, ch Channel) error {
	switch ch.Kind {
	case ChannelEmail:
		return d.dispatchEmail(ctx, rule, inc, ch)
	case ChannelWebhook:
		return d.dispatchWebhook(ctx, rule, inc, ch)
	case ChannelChat:
		return d.dispatchChat(ctx, rule, inc, ch)
	case ChannelSMS:
		return d.dispatchSMS(ctx, rule, inc, ch)
	default:
		return fmt.Errorf("unknown alert channel kind %q", ch.Kind)
	}
}

func (d *Dispatcher) dispatchEmail(ctx context.Context, rule Rule, inc Incident, ch Channel) error {
	if d.email == nil {
		return fmt.Errorf("email channel configured but no EmailSender wired")
	}
	to := ch.Config["to"]
	if to == "" {
		return fmt.Errorf("email channel missing %q config key", "to")
	}
	subject := fmt.Sprintf("[%s] %s", inc.Severity, rule.Name)
	body := fmt.Sprintf(
		"Alert rule %q fired.\n\nSeverity: %s\nStatus: %s\nValue: %.2f\nThreshold: %.2f\nTriggered at: %s\n",
		rule.Name, inc.Severity, inc.Status, inc.Value, inc.Threshold, inc.TriggeredAt.Format(time.RFC3339),
	)
	return d.email.Send(ctx, to, subject, body)
}

func (d *Dispatcher) dispatchWebhook(ctx context.Context, rule Rule, inc Incident, ch Channel) error {
	url := ch.Config["url"]
	if url == "" {
		return fmt.Errorf("webhook channel missing %q config key", "url")
	}
	payload, err := json.Marshal(webhookPayload{Incident: inc, Timestamp: time.Now(), Type: "alert"})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ch.Config {
		if k == "url" || k == "secret" {
			continue
		}
		req.Header.Set(k, v)
	}

	if secret := ch.Config["secret"]; secret != "" {
		if err := signRequest(req, inc.ID, payload, secret); err != nil {
			return fmt.Errorf("sign webhook payload: %w", err)
		}
	}

	return d.send(req)
}

// signRequest attaches standard-webhooks signature headers so receivers
// can verify authenticity the same way the teacher verifies inbound
// Supabase webhooks in internal/domain/supabase_integration.go.
func signRequest(req *http.Request, msgID string, payload []byte, secret string) error {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return err
	}
	ts := time.Now()
	sig, err := wh.Sign(msgID, ts, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Webhook-Id", msgID)
	req.Header.Set("Webhook-Timestamp", fmt.Sprintf("%d", ts.Unix()))
	req.Header.Set("Webhook-Signature", sig)
	return nil
}

func (d *Dispatcher) dispatchChat(ctx context.Context, rule Rule, inc Incident, ch Channel) error {
	url := ch.Config["webhookUrl"]
	if url == "" {
		return fmt.Errorf("chat channel missing %q config key", "webhookUrl")
	}
	attachment := chatAttachment{
		Color: severityColor[inc.Severity],
		Title: rule.Name,
		Fields: []chatField{
			{Title: "Severity", Value: string(inc.Severity), Short: true},
			{Title: "Status", Value: string(inc.Status), Short: true},
			{Title: "Value", Value: fmt.Sprintf("%.2f", inc.Value), Short: true},
			{Title: "Threshold", Value: fmt.Sprintf("%.2f", inc.Threshold), Short: true},
			{Title: "Triggered", Value: inc.TriggeredAt.Format(time.RFC3339), Short: false},
		},
	}
	body, err := json.Marshal(map[string]interface{}{"attachments": []chatAttachment{attachment}})
	if err != nil {
		return fmt.Errorf("marshal chat payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return d.send(req)
}

func (d *Dispatcher) dispatchSMS(ctx context.Context, rule Rule, inc Incident, ch Channel) error {
	// No SMS provider is wired in this scope; channel is accepted (so rules
	// referencing it don't error at registration time) but dispatch is a
	// documented no-op until a provider is configured.
	if d.log != nil {
		d.log.WithFields(map[string]interface{}{"incident": inc.ID, "rule": rule.ID}).
			Debug("sms alert channel has no provider configured, skipping dispatch")
	}
	return nil
}

func (d *Dispatcher) send(req *http.Request) error {
	d.wg.Add(1)
	defer d.wg.Done()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Close waits for any in-flight dispatches to finish.
func (d *Dispatcher) Close() { d.wg.Wait() }
