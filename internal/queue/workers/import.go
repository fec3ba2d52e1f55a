// Package workers implements the two queue handlers this module drives:
// chunked contact import (spec.md §4.3.1) and campaign email fan-out
// (spec.md §4.3.2). Both follow the same shape as the teacher's single
// email-queue worker in internal/service/queue, generalized to a
// multi-queue engine and to this module's own payload types.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"

	"github.com/campaignforge/engine/internal/durable"
	"github.com/campaignforge/engine/internal/progress"
	"github.com/campaignforge/engine/internal/queue"
)

const importChunkSize = 1000

// ImportRecord is one caller-supplied contact row.
type ImportRecord struct {
	Email    string                 `json:"email"`
	Name     string                 `json:"name,omitempty"`
	Phone    string                 `json:"phone,omitempty"`
	Tags     []string               `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ImportJobPayload is the queue payload for one import chunk.
type ImportJobPayload struct {
	ImportID   string         `json:"importId"`
	OwnerID    string         `json:"ownerId"`
	BatchIndex int            `json:"batchIndex"`
	Records    []ImportRecord `json:"records"`
}

// ImportService orchestrates chunked contact import: splitting records
// into chunks, enqueuing one job per chunk with the soft-smoothing
// priority/delay rule, and exposing cancellation.
type ImportService struct {
	q         *queue.Queue
	imports   durable.ImportRepository
	batches   durable.BatchRepository
	contacts  durable.ContactRepository
	progress  *progress.Tracker
}

func NewImportService(q *queue.Queue, imports durable.ImportRepository, batches durable.BatchRepository,
	contacts durable.ContactRepository, tracker *progress.Tracker) *ImportService {
	return &ImportService{q: q, imports: imports, batches: batches, contacts: contacts, progress: tracker}
}

// StartImport splits records into CHUNK_SIZE chunks, creates the import
// record, and bulk-enqueues one job per chunk.
func (s *ImportService) StartImport(ctx context.Context, ownerID string, records []ImportRecord) (*durable.Import, error) {
	totalBatches := (len(records) + importChunkSize - 1) / importChunkSize
	if totalBatches == 0 {
		totalBatches = 1
	}

	imp := &durable.Import{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		TotalRecords: len(records),
		TotalBatches: totalBatches,
		Status:       durable.RunProcessing,
		CreatedAt:    time.Now(),
	}
	if err := s.imports.Create(ctx, imp); err != nil {
		return nil, fmt.Errorf("create import record: %w", err)
	}

	if _, err := s.progress.Create(ctx, imp.ID, progress.KindImport, ownerID, len(records), nil); err != nil {
		return nil, fmt.Errorf("create import progress: %w", err)
	}

	items := make([]queue.BulkItem, 0, totalBatches)
	for batchIndex := 0; batchIndex < totalBatches; batchIndex++ {
		start := batchIndex * importChunkSize
		end := start + importChunkSize
		if end > len(records) {
			end = len(records)
		}
		payload := ImportJobPayload{
			ImportID: imp.ID, OwnerID: ownerID, BatchIndex: batchIndex, Records: records[start:end],
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal import chunk: %w", err)
		}
		items = append(items, queue.BulkItem{
			JobName: "import.chunk",
			Payload: data,
			Opts: queue.JobOptions{
				Priority: -batchIndex,
				Delay:    time.Duration(batchIndex) * 100 * time.Millisecond,
			},
		})
	}

	if _, err := s.q.AddBulk(ctx, items); err != nil {
		return nil, fmt.Errorf("enqueue import chunks: %w", err)
	}
	return imp, nil
}

// Cancel removes every waiting|delayed|active job for importID and marks
// the import record cancelled.
func (s *ImportService) Cancel(ctx context.Context, importID string) error {
	_, err := s.q.CancelByOwner(ctx, func(raw json.RawMessage) bool {
		var p ImportJobPayload
		return json.Unmarshal(raw, &p) == nil && p.ImportID == importID
	})
	if err != nil {
		return err
	}
	if err := s.imports.UpdateStatus(ctx, importID, durable.RunCancelled); err != nil {
		return err
	}
	_, err = s.progress.Update(ctx, importID, progress.Patch{Status: statusPtr(progress.StatusCancelled)})
	return err
}

func statusPtr(s progress.Status) *progress.Status { return &s }

// Handler returns the queue.Handler that processes one import chunk:
// per-record validation/upsert, batch accounting, throttled progress, and
// import-completion detection.
func (s *ImportService) Handler() queue.Handler {
	return func(ctx context.Context, job *queue.Job, report queue.ProgressFunc) error {
		var payload ImportJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal import payload: %w", err)
		}

		imp, err := s.imports.Get(ctx, payload.ImportID)
		if err != nil {
			return fmt.Errorf("load import record: %w", err)
		}
		if imp == nil || imp.Status == durable.RunCancelled {
			return nil
		}

		batch := &durable.Batch{
			ID:    payload.ImportID + ":" + fmt.Sprint(payload.BatchIndex),
			RunID: payload.ImportID,
			Index: payload.BatchIndex,
		}

		processed := 0
		for _, rec := range payload.Records {
			if err := s.upsertRecord(ctx, payload.OwnerID, rec); err != nil {
				batch.Failed++
				batch.Errors = append(batch.Errors, fmt.Sprintf("%s: %v", rec.Email, err))
			} else {
				batch.Processed++
			}
			processed++
			if processed%100 == 0 {
				s.reportImportProgress(ctx, payload, report, batch.Processed, batch.Failed)
			}
		}
		batch.CompletedAt = time.Now()
		if err := s.batches.Upsert(ctx, batch); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}

		s.reportImportProgress(ctx, payload, report, batch.Processed, batch.Failed)

		return s.maybeCompleteImport(ctx, imp)
	}
}

func (s *ImportService) upsertRecord(ctx context.Context, ownerID string, rec ImportRecord) error {
	if !govalidator.IsEmail(rec.Email) {
		return fmt.Errorf("invalid email syntax")
	}

	existing, err := s.contacts.GetByEmail(ctx, ownerID, rec.Email)
	if err != nil {
		return fmt.Errorf("lookup contact: %w", err)
	}

	now := time.Now()
	c := &durable.Contact{
		OwnerID: ownerID, Email: rec.Email, Name: rec.Name, Phone: rec.Phone,
		Tags: rec.Tags, Metadata: rec.Metadata, UpdatedAt: now,
	}
	if existing != nil {
		c.Source = existing.Source
		c.Status = existing.Status
		c.CreatedAt = existing.CreatedAt
	} else {
		c.Source = "import"
		c.Status = "active"
		c.CreatedAt = now
	}
	return s.contacts.Upsert(ctx, c)
}

// reportImportProgress is called every 100 records and once at the end of
// a chunk; it recomputes the cumulative processed/failed counts across every batch
// completed so far plus this batch's in-flight counts, since accumulating
// counters must be computed by the caller rather than last-writer-wins.
func (s *ImportService) reportImportProgress(ctx context.Context, payload ImportJobPayload, report queue.ProgressFunc, inFlightProcessed, inFlightFailed int) {
	batches, err := s.batches.ListByRun(ctx, payload.ImportID)
	cumulativeProcessed, cumulativeFailed := inFlightProcessed, inFlightFailed
	if err == nil {
		for _, b := range batches {
			if b.Index == payload.BatchIndex {
				continue
			}
			cumulativeProcessed += b.Processed
			cumulativeFailed += b.Failed
		}
	}
	totalBatches := 0
	if imp, err := s.imports.Get(ctx, payload.ImportID); err == nil && imp != nil {
		totalBatches = imp.TotalBatches
	}
	report(cumulativeProcessed+cumulativeFailed, "importing", map[string]interface{}{"currentBatch": payload.BatchIndex})
	_, _ = s.progress.Update(ctx, payload.ImportID, progress.Patch{
		Processed: intPtr(cumulativeProcessed),
		Failed:    intPtr(cumulativeFailed),
		Metadata: map[string]interface{}{
			"currentBatch": payload.BatchIndex,
			"totalBatches": totalBatches,
		},
	})
}

func (s *ImportService) maybeCompleteImport(ctx context.Context, imp *durable.Import) error {
	batches, err := s.batches.ListByRun(ctx, imp.ID)
	if err != nil {
		return fmt.Errorf("list batches: %w", err)
	}
	if len(batches) < imp.TotalBatches {
		return nil
	}
	if err := s.imports.UpdateStatus(ctx, imp.ID, durable.RunCompleted); err != nil {
		return err
	}
	completed := progress.StatusCompleted
	_, err = s.progress.Update(ctx, imp.ID, progress.Patch{Status: &completed})
	return err
}

func intPtr(i int) *int { return &i }
