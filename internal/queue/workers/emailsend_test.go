package workers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignforge/engine/internal/durable"
	"github.com/campaignforge/engine/internal/progress"
	"github.com/campaignforge/engine/internal/queue"
	"github.com/campaignforge/engine/internal/store"
	"github.com/campaignforge/engine/internal/transport"
	"github.com/campaignforge/engine/pkg/logger"
)

// fakeTransport returns an error for emails in failFor, success otherwise.
type fakeTransport struct {
	failFor map[string]bool
}

func (f *fakeTransport) Send(_ context.Context, msg transport.Message) (string, error) {
	if f.failFor[msg.To] {
		return "", errors.New("smtp rejected")
	}
	return "provider-" + msg.To, nil
}

func newEmailTestService(t *testing.T, tr transport.EmailTransport) (*EmailSendService, *queue.Queue, durable.DeliveryRepository) {
	t.Helper()
	s := store.NewMemoryStore(time.Minute)
	sup := queue.NewSupervisor(s, logger.NewTestLogger(), 5*time.Second)
	q := sup.Register("email", queue.Options{Concurrency: 1})

	sends := durable.NewInMemorySendRepository()
	batches := durable.NewInMemoryBatchRepository()
	deliveries := durable.NewInMemoryDeliveryRepository()
	tracker := progress.NewTracker(s, durable.NewInMemoryProgressRepository(), logger.NewTestLogger())
	breaker := queue.NewIntegrationCircuitBreaker(queue.DefaultCircuitBreakerConfig())

	svc := NewEmailSendService(q, sends, batches, deliveries, tracker, tr, breaker)
	svc.intraDelay = time.Millisecond
	return svc, q, deliveries
}

func TestStartSendSplitsIntoBatches(t *testing.T) {
	svc, q, _ := newEmailTestService(t, &fakeTransport{})
	ctx := context.Background()

	recipients := make([]Recipient, 250)
	for i := range recipients {
		recipients[i] = Recipient{ID: "r", Email: "user@example.com"}
	}

	send, err := svc.StartSend(ctx, "owner-1", "campaign-1", recipients, Template{Subject: "hi"}, Sender{From: "a@b.com"})
	require.NoError(t, err)
	assert.Equal(t, 3, send.TotalBatches)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Waiting+stats.Delayed)
}

func TestEmailHandlerSubstitutesTemplateAndRecordsDeliveries(t *testing.T) {
	svc, _, deliveries := newEmailTestService(t, &fakeTransport{failFor: map[string]bool{"bad@example.com": true}})
	ctx := context.Background()

	recipients := []Recipient{
		{ID: "r1", Email: "good@example.com", Name: "Good", Metadata: map[string]interface{}{"plan": "pro"}},
		{ID: "r2", Email: "bad@example.com", Name: "Bad"},
	}
	tmpl := Template{Subject: "Hi {{name}}", HTML: "<p>{{email}} on {{plan}}</p>", Text: "{{name}} {{unknown}}"}
	send, err := svc.StartSend(ctx, "owner-1", "campaign-1", recipients, tmpl, Sender{From: "a@b.com"})
	require.NoError(t, err)

	payload := EmailSendJobPayload{
		SendID: send.ID, CampaignID: "campaign-1", OwnerID: "owner-1", BatchIndex: 0,
		Recipients: recipients, Template: tmpl, Sender: Sender{From: "a@b.com"},
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	job := &queue.Job{Payload: data}

	handler := svc.Handler()
	require.NoError(t, handler(ctx, job, func(int, string, map[string]interface{}) {}))

	out, err := deliveries.ListBySend(ctx, send.ID, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)

	byEmail := map[string]*durable.Delivery{}
	for _, d := range out {
		byEmail[d.Email] = d
	}
	assert.Equal(t, durable.DeliverySent, byEmail["good@example.com"].Status)
	assert.Equal(t, durable.DeliveryFailed, byEmail["bad@example.com"].Status)
	assert.NotEmpty(t, byEmail["bad@example.com"].Error)
}

func TestRenderMessageLeavesUnknownPlaceholdersIntact(t *testing.T) {
	tmpl := Template{Subject: "Hi {{name}}, offer {{code}}"}
	msg := renderMessage(tmpl, Sender{From: "a@b.com"}, Recipient{Name: "Ann", Email: "ann@example.com"})
	assert.Equal(t, "Hi Ann, offer {{code}}", msg.Subject)
}
