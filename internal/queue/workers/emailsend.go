package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/campaignforge/engine/internal/durable"
	"github.com/campaignforge/engine/internal/metrics"
	"github.com/campaignforge/engine/internal/progress"
	"github.com/campaignforge/engine/internal/queue"
	"github.com/campaignforge/engine/internal/transport"
)

const (
	sendBatchSize           = 100
	defaultRateLimitDelay   = time.Second
	defaultIntraBatchDelay  = 100 * time.Millisecond
)

// Recipient is one caller-supplied send target.
type Recipient struct {
	ID       string                 `json:"id"`
	Email    string                 `json:"email"`
	Name     string                 `json:"name,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Template carries the pre-rendered subject/html/text bodies; this module
// never compiles a template language, only substitutes `{{placeholder}}`
// tokens (spec.md §9 Open Question, resolved: substitution is single-pass
// and unknown placeholders are left intact).
type Template struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Sender identifies the outbound From address/name for a send.
type Sender struct {
	From     string `json:"from"`
	FromName string `json:"fromName"`
}

// EmailSendJobPayload is the queue payload for one send batch.
type EmailSendJobPayload struct {
	SendID     string      `json:"sendId"`
	CampaignID string      `json:"campaignId"`
	OwnerID    string      `json:"ownerId"`
	BatchIndex int         `json:"batchIndex"`
	Recipients []Recipient `json:"recipients"`
	Template   Template    `json:"template"`
	Sender     Sender      `json:"sender"`
}

// EmailSendService orchestrates campaign fan-out: batching recipients,
// enqueuing with inter-batch pacing, and per-recipient delivery with
// intra-batch pacing and circuit-breaker protection on the transport.
type EmailSendService struct {
	q          *queue.Queue
	sends      durable.SendRepository
	batches    durable.BatchRepository
	deliveries durable.DeliveryRepository
	progress   *progress.Tracker
	transport  transport.EmailTransport
	breaker    *queue.IntegrationCircuitBreaker
	intraDelay time.Duration
	metrics    *metrics.Shortcuts
}

func NewEmailSendService(q *queue.Queue, sends durable.SendRepository, batches durable.BatchRepository,
	deliveries durable.DeliveryRepository, tracker *progress.Tracker, tr transport.EmailTransport,
	breaker *queue.IntegrationCircuitBreaker) *EmailSendService {
	return &EmailSendService{
		q: q, sends: sends, batches: batches, deliveries: deliveries,
		progress: tracker, transport: tr, breaker: breaker, intraDelay: defaultIntraBatchDelay,
	}
}

// WithMetrics attaches the domain metric shortcuts; optional, nil-safe at
// every call site. Kept as a setter rather than a constructor parameter so
// existing callers (and tests) are unaffected.
func (s *EmailSendService) WithMetrics(m *metrics.Shortcuts) *EmailSendService {
	s.metrics = m
	return s
}

// StartSend creates the send record, splits recipients into BATCH_SIZE
// batches, and enqueues them with the inter-batch pacing delay.
func (s *EmailSendService) StartSend(ctx context.Context, ownerID, campaignID string, recipients []Recipient,
	tmpl Template, sender Sender) (*durable.Send, error) {
	totalBatches := (len(recipients) + sendBatchSize - 1) / sendBatchSize
	if totalBatches == 0 {
		totalBatches = 1
	}

	send := &durable.Send{
		ID:              uuid.NewString(),
		CampaignID:      campaignID,
		OwnerID:         ownerID,
		TotalRecipients: len(recipients),
		TotalBatches:    totalBatches,
		Status:          durable.RunProcessing,
		CreatedAt:       time.Now(),
	}
	if err := s.sends.Create(ctx, send); err != nil {
		return nil, fmt.Errorf("create send record: %w", err)
	}
	if s.metrics != nil {
		s.metrics.CampaignSent(ctx)
	}
	if _, err := s.progress.Create(ctx, send.ID, progress.KindEmail, ownerID, len(recipients), nil); err != nil {
		return nil, fmt.Errorf("create send progress: %w", err)
	}

	items := make([]queue.BulkItem, 0, totalBatches)
	for batchIndex := 0; batchIndex < totalBatches; batchIndex++ {
		start := batchIndex * sendBatchSize
		end := start + sendBatchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		payload := EmailSendJobPayload{
			SendID: send.ID, CampaignID: campaignID, OwnerID: ownerID, BatchIndex: batchIndex,
			Recipients: recipients[start:end], Template: tmpl, Sender: sender,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal send batch: %w", err)
		}
		items = append(items, queue.BulkItem{
			JobName: "email.batch",
			Payload: data,
			Opts: queue.JobOptions{
				Priority: -batchIndex,
				Delay:    time.Duration(batchIndex) * defaultRateLimitDelay,
			},
		})
	}

	if _, err := s.q.AddBulk(ctx, items); err != nil {
		return nil, fmt.Errorf("enqueue send batches: %w", err)
	}
	return send, nil
}

// Cancel mirrors ImportService.Cancel for a send run.
func (s *EmailSendService) Cancel(ctx context.Context, sendID string) error {
	_, err := s.q.CancelByOwner(ctx, func(raw json.RawMessage) bool {
		var p EmailSendJobPayload
		return json.Unmarshal(raw, &p) == nil && p.SendID == sendID
	})
	if err != nil {
		return err
	}
	if err := s.sends.UpdateStatus(ctx, sendID, durable.RunCancelled); err != nil {
		return err
	}
	_, err = s.progress.Update(ctx, sendID, progress.Patch{Status: statusPtr(progress.StatusCancelled)})
	return err
}

// Handler returns the queue.Handler that delivers one send batch: template
// substitution, transport dispatch paced by an intra-batch rate limiter,
// per-recipient delivery rows, and batch/send completion accounting.
func (s *EmailSendService) Handler() queue.Handler {
	return func(ctx context.Context, job *queue.Job, report queue.ProgressFunc) error {
		var payload EmailSendJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal send payload: %w", err)
		}

		send, err := s.sends.Get(ctx, payload.SendID)
		if err != nil {
			return fmt.Errorf("load send record: %w", err)
		}
		if send == nil || send.Status == durable.RunCancelled {
			return nil
		}

		limiter := rate.NewLimiter(rate.Every(s.intraDelay), 1)
		integration := payload.Sender.From

		batch := &durable.Batch{
			ID:    payload.SendID + ":" + fmt.Sprint(payload.BatchIndex),
			RunID: payload.SendID,
			Index: payload.BatchIndex,
		}

		for i, recipient := range payload.Recipients {
			if i > 0 {
				if err := limiter.Wait(ctx); err != nil {
					return fmt.Errorf("intra-batch pacing: %w", err)
				}
			}

			if s.breaker != nil && s.breaker.IsOpen(integration) {
				batch.Failed++
				batch.Errors = append(batch.Errors, fmt.Sprintf("%s: circuit open for %s", recipient.Email, integration))
				continue
			}

			msg := renderMessage(payload.Template, payload.Sender, recipient)
			providerID, sendErr := s.transport.Send(ctx, msg)

			delivery := &durable.Delivery{
				ID: uuid.NewString(), SendID: payload.SendID, RecipientID: recipient.ID,
				Email: recipient.Email, SentAt: time.Now(),
			}
			if sendErr != nil {
				delivery.Status = durable.DeliveryFailed
				delivery.Error = sendErr.Error()
				batch.Failed++
				batch.Errors = append(batch.Errors, fmt.Sprintf("%s: %v", recipient.Email, sendErr))
				if s.breaker != nil {
					s.breaker.RecordFailure(integration, sendErr)
				}
				if s.metrics != nil {
					s.metrics.EmailBounced(ctx)
				}
			} else {
				delivery.Status = durable.DeliverySent
				delivery.ProviderID = providerID
				batch.Processed++
				if s.breaker != nil {
					s.breaker.RecordSuccess(integration)
				}
				if s.metrics != nil {
					s.metrics.EmailSent(ctx)
				}
			}
			if err := s.deliveries.Create(ctx, delivery); err != nil {
				return fmt.Errorf("persist delivery: %w", err)
			}
		}
		batch.CompletedAt = time.Now()
		if err := s.batches.Upsert(ctx, batch); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}

		cumulativeProcessed, cumulativeFailed := batch.Processed, batch.Failed
		if priorBatches, err := s.batches.ListByRun(ctx, payload.SendID); err == nil {
			for _, b := range priorBatches {
				if b.Index == payload.BatchIndex {
					continue
				}
				cumulativeProcessed += b.Processed
				cumulativeFailed += b.Failed
			}
		}

		report(cumulativeProcessed+cumulativeFailed, "sending", map[string]interface{}{"currentBatch": payload.BatchIndex})
		_, _ = s.progress.Update(ctx, payload.SendID, progress.Patch{
			Processed: intPtr(cumulativeProcessed),
			Failed:    intPtr(cumulativeFailed),
		})

		return s.maybeCompleteSend(ctx, send)
	}
}

func (s *EmailSendService) maybeCompleteSend(ctx context.Context, send *durable.Send) error {
	batches, err := s.batches.ListByRun(ctx, send.ID)
	if err != nil {
		return fmt.Errorf("list batches: %w", err)
	}
	if len(batches) < send.TotalBatches {
		return nil
	}
	if err := s.sends.UpdateStatus(ctx, send.ID, durable.RunCompleted); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.CampaignCompleted(ctx)
	}
	completed := progress.StatusCompleted
	_, err = s.progress.Update(ctx, send.ID, progress.Patch{Status: &completed})
	return err
}

// renderMessage substitutes {{name}}, {{email}}, and every metadata key
// into subject/html/text in a single pass each, leaving unknown
// placeholders intact.
func renderMessage(tmpl Template, sender Sender, recipient Recipient) transport.Message {
	vars := map[string]string{"name": recipient.Name, "email": recipient.Email}
	for k, v := range recipient.Metadata {
		if s, ok := v.(string); ok {
			vars[k] = s
		} else {
			vars[k] = fmt.Sprintf("%v", v)
		}
	}

	return transport.Message{
		To:       recipient.Email,
		From:     sender.From,
		FromName: sender.FromName,
		Subject:  substitute(tmpl.Subject, vars),
		HTMLBody: substitute(tmpl.HTML, vars),
		TextBody: substitute(tmpl.Text, vars),
	}
}

// substitute performs one left-to-right pass over s, replacing every
// {{key}} found in vars and leaving any other {{...}} token untouched.
func substitute(s string, vars map[string]string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "{{")
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			b.WriteString(s)
			break
		}
		end += start
		key := strings.TrimSpace(s[start+2 : end])
		b.WriteString(s[:start])
		if v, ok := vars[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : end+2])
		}
		s = s[end+2:]
	}
	return b.String()
}
