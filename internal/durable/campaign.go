package durable

import (
	"context"
	"time"
)

// RunStatus is the status lattice shared by Import and Send records:
// processing -> completed|cancelled, both terminal.
type RunStatus string

const (
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunCancelled  RunStatus = "cancelled"
)

// Import is the run record from spec.md §4.3.1.
type Import struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	TotalRecords int       `json:"totalRecords"`
	TotalBatches int       `json:"totalBatches"`
	Status       RunStatus `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Batch is the per-chunk accounting row shared by import and send runs.
type Batch struct {
	ID           string    `json:"id"`
	RunID        string    `json:"runId"` // importId or sendId
	Index        int       `json:"index"`
	Processed    int       `json:"processed"`
	Failed       int       `json:"failed"`
	Errors       []string  `json:"errors,omitempty"`
	CompletedAt  time.Time `json:"completedAt"`
}

// Contact is the upsert target for the import worker, keyed by
// (ownerId, email).
type Contact struct {
	OwnerID   string                 `json:"ownerId"`
	Email     string                 `json:"email"`
	Name      string                 `json:"name,omitempty"`
	Phone     string                 `json:"phone,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Source    string                 `json:"source"`
	Status    string                 `json:"status"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// Send is the run record from spec.md §4.3.2.
type Send struct {
	ID              string    `json:"id"`
	CampaignID      string    `json:"campaignId"`
	OwnerID         string    `json:"ownerId"`
	TotalRecipients int       `json:"totalRecipients"`
	TotalBatches    int       `json:"totalBatches"`
	Status          RunStatus `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}

// DeliveryStatus is the per-recipient outcome of one send attempt.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// Delivery is the per-recipient row from spec.md §4.3.2 step 3.
type Delivery struct {
	ID          string         `json:"id"`
	SendID      string         `json:"sendId"`
	RecipientID string         `json:"recipientId"`
	Email       string         `json:"email"`
	Status      DeliveryStatus `json:"status"`
	ProviderID  string         `json:"providerId,omitempty"`
	Error       string         `json:"error,omitempty"`
	SentAt      time.Time      `json:"sentAt"`
}

// ImportRepository persists import run records for the chunked contact
// import worker.
type ImportRepository interface {
	Create(ctx context.Context, imp *Import) error
	Get(ctx context.Context, id string) (*Import, error)
	UpdateStatus(ctx context.Context, id string, status RunStatus) error
}

// BatchRepository persists per-chunk accounting rows shared by the import
// and send workers.
type BatchRepository interface {
	Upsert(ctx context.Context, b *Batch) error
	ListByRun(ctx context.Context, runID string) ([]*Batch, error)
}

// ContactRepository upserts contacts by (ownerId, email) during import.
type ContactRepository interface {
	Upsert(ctx context.Context, c *Contact) error
	GetByEmail(ctx context.Context, ownerID, email string) (*Contact, error)
}

// SendRepository persists campaign send run records for the email fan-out
// worker.
type SendRepository interface {
	Create(ctx context.Context, s *Send) error
	Get(ctx context.Context, id string) (*Send, error)
	UpdateStatus(ctx context.Context, id string, status RunStatus) error
}

// DeliveryRepository persists per-recipient delivery outcomes.
type DeliveryRepository interface {
	Create(ctx context.Context, d *Delivery) error
	ListBySend(ctx context.Context, sendID string, limit int) ([]*Delivery, error)
	CountBySendStatus(ctx context.Context, sendID string) (map[DeliveryStatus]int, error)
}
