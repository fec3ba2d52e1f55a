package apikey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/campaignforge/engine/internal/errs"
	"github.com/campaignforge/engine/pkg/crypto"
	"github.com/campaignforge/engine/pkg/logger"
)

var keyPattern = regexp.MustCompile(`^es_live_[a-f0-9]{48}$`)

// Repository is the narrow durable dependency for key persistence;
// internal/durable provides the concrete implementations.
type Repository interface {
	Create(ctx context.Context, k *APIKey) error
	Get(ctx context.Context, id string) (*APIKey, error)
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	Update(ctx context.Context, k *APIKey) error
	ListByOwner(ctx context.Context, ownerID string, includeRevoked bool) ([]*APIKey, error)
	ExpiringBefore(ctx context.Context, before time.Time, autoRenewOnly bool) ([]*APIKey, error)
}

// AuditRepository is the narrow durable dependency for the append-only
// audit trail.
type AuditRepository interface {
	Append(ctx context.Context, e *AuditEntry) error
	ListByKey(ctx context.Context, keyID string, limit int) ([]*AuditEntry, error)
}

// CreatedKey is the one-time response to Create: the plaintext key is
// never retrievable again.
type CreatedKey struct {
	PlaintextKey string
	ID           string
}

// Validated is the successful result of Validate.
type Validated struct {
	OwnerID     string
	Permissions []string
	ID          string
}

type Service struct {
	repo  Repository
	audit AuditRepository
	log   logger.Logger
}

func NewService(repo Repository, audit AuditRepository, log logger.Logger) *Service {
	return &Service{repo: repo, audit: audit, log: log}
}

func generatePlaintextKey() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(buf), nil
}

func (s *Service) recordAudit(ctx context.Context, keyID, action, userID, ip string, metadata map[string]interface{}) {
	if s.audit == nil {
		return
	}
	entry := &AuditEntry{
		ID:        uuid.NewString(),
		KeyID:     keyID,
		Action:    action,
		UserID:    userID,
		IPAddress: ip,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if err := s.audit.Append(ctx, entry); err != nil && s.log != nil {
		s.log.WithFields(map[string]interface{}{"key_id": keyID, "action": action, "error": err.Error()}).
			Warn("api key audit write failed")
	}
}

// Create issues a new key, persisting only its SHA-256 hash. The
// plaintext is returned exactly once and never logged.
func (s *Service) Create(ctx context.Context, ownerID, name string, permissions []string, expirationDays int, autoRenew bool) (*CreatedKey, error) {
	if expirationDays <= 0 {
		expirationDays = 90
	}
	plaintext, err := generatePlaintextKey()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "KEY_GENERATION_FAILED", "failed to generate api key", err)
	}

	key := &APIKey{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		KeyHash:     crypto.Sha256HashHex(plaintext),
		Permissions: permissions,
		Status:      StatusActive,
		AutoRenew:   autoRenew,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().AddDate(0, 0, expirationDays),
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, key.ID, "created", "", "", map[string]interface{}{"name": name, "permissions": permissions})
	return &CreatedKey{PlaintextKey: plaintext, ID: key.ID}, nil
}

// Validate checks a plaintext key's format, existence, status and
// expiry, stamping LastUsedAt and auditing on success.
func (s *Service) Validate(ctx context.Context, plaintextKey string, reqCtx *RequestContext) (*Validated, error) {
	if !keyPattern.MatchString(plaintextKey) {
		return nil, errs.New(errs.Unauthorized, "INVALID_KEY_FORMAT", "malformed api key")
	}
	hash := crypto.Sha256HashHex(plaintextKey)
	key, err := s.repo.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errs.New(errs.Unauthorized, "KEY_NOT_FOUND", "unknown api key")
	}
	if key.Status != StatusActive {
		return nil, errs.New(errs.Unauthorized, "KEY_INACTIVE", "api key is not active")
	}
	if time.Now().After(key.ExpiresAt) {
		key.Status = StatusExpired
		_ = s.repo.Update(ctx, key)
		s.recordAudit(ctx, key.ID, "expired", "", "", nil)
		return nil, errs.New(errs.Unauthorized, "KEY_EXPIRED", "api key has expired")
	}

	now := time.Now()
	key.LastUsedAt = &now
	if err := s.repo.Update(ctx, key); err != nil && s.log != nil {
		s.log.WithField("error", err.Error()).Warn("failed to stamp api key last used")
	}
	ip, ua := "", ""
	if reqCtx != nil {
		ip, ua = reqCtx.IPAddress, reqCtx.UserAgent
	}
	s.recordAudit(ctx, key.ID, "used", "", ip, map[string]interface{}{"userAgent": ua})

	return &Validated{OwnerID: key.OwnerID, Permissions: key.Permissions, ID: key.ID}, nil
}

func (s *Service) get(ctx context.Context, id, ownerID string) (*APIKey, error) {
	key, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if key == nil || key.OwnerID != ownerID {
		return nil, errs.NewNotFound("api key", id)
	}
	return key, nil
}

func (s *Service) Revoke(ctx context.Context, id, ownerID, userID, reason string) error {
	key, err := s.get(ctx, id, ownerID)
	if err != nil {
		return err
	}
	now := time.Now()
	key.Status = StatusRevoked
	key.RevokedAt = &now
	if err := s.repo.Update(ctx, key); err != nil {
		return err
	}
	s.recordAudit(ctx, key.ID, "revoked", userID, "", map[string]interface{}{"reason": reason})
	return nil
}

func (s *Service) Renew(ctx context.Context, id, ownerID, userID string, extensionDays int) error {
	if extensionDays <= 0 {
		extensionDays = 90
	}
	key, err := s.get(ctx, id, ownerID)
	if err != nil {
		return err
	}
	key.ExpiresAt = key.ExpiresAt.AddDate(0, 0, extensionDays)
	if key.Status == StatusExpired {
		key.Status = StatusActive
	}
	if err := s.repo.Update(ctx, key); err != nil {
		return err
	}
	s.recordAudit(ctx, key.ID, "renewed", userID, "", map[string]interface{}{"extensionDays": extensionDays})
	return nil
}

func (s *Service) UpdateSettings(ctx context.Context, id, ownerID, userID string, settings map[string]interface{}) error {
	key, err := s.get(ctx, id, ownerID)
	if err != nil {
		return err
	}
	key.Settings = settings
	if err := s.repo.Update(ctx, key); err != nil {
		return err
	}
	s.recordAudit(ctx, key.ID, "settings_updated", userID, "", nil)
	return nil
}

func (s *Service) List(ctx context.Context, ownerID string, includeRevoked bool) ([]*APIKey, error) {
	return s.repo.ListByOwner(ctx, ownerID, includeRevoked)
}

func (s *Service) Stats(ctx context.Context, ownerID string) (Stats, error) {
	keys, err := s.repo.ListByOwner(ctx, ownerID, true)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	soonCutoff := time.Now().AddDate(0, 0, 7)
	for _, k := range keys {
		st.Total++
		switch k.Status {
		case StatusActive:
			st.Active++
			if k.ExpiresAt.Before(soonCutoff) {
				st.ExpiringSoon++
			}
		case StatusExpired:
			st.Expired++
		case StatusRevoked:
			st.Revoked++
		}
	}
	return st, nil
}

func (s *Service) Expiring(ctx context.Context, ownerID string, daysBefore int) ([]*APIKey, error) {
	if daysBefore <= 0 {
		daysBefore = 7
	}
	keys, err := s.repo.ListByOwner(ctx, ownerID, false)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().AddDate(0, 0, daysBefore)
	out := make([]*APIKey, 0)
	for _, k := range keys {
		if k.Status == StatusActive && k.ExpiresAt.Before(cutoff) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Service) AuditLogs(ctx context.Context, id, ownerID string, limit int) ([]*AuditEntry, error) {
	if _, err := s.get(ctx, id, ownerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.ListByKey(ctx, id, limit)
}
