// Package apikeys resolves per-user or per-tenant provider credentials.
// Secrets are stored encrypted and decrypted only at use time, when the
// gateway builds a transient adapter for a backend that has no globally
// configured key.
package apikeys

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/crypto"
	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/events"
)

// usageWarnRatio is the fraction of a key's usage limit at which a warning
// event fires.
const usageWarnRatio = 0.8

// Store is the persistence surface the manager needs. Satisfied by
// repository.InMemoryKeyStore and repository.PostgresKeyStore.
type Store interface {
	GetByUserProvider(ctx context.Context, userID, provider string) (*domain.APIKeyRecord, error)
	GetByID(ctx context.Context, id string) (*domain.APIKeyRecord, error)
	Create(ctx context.Context, rec *domain.APIKeyRecord) error
	Delete(ctx context.Context, id string) error
	IncrementUsage(ctx context.Context, id string) error
}

type Manager struct {
	store Store
	enc   *crypto.Encryptor
	bus   *events.Bus
	now   func() time.Time
}

func NewManager(store Store, enc *crypto.Encryptor, bus *events.Bus) *Manager {
	return &Manager{store: store, enc: enc, bus: bus, now: time.Now}
}

// Save encrypts and stores a provider secret for a caller, returning the
// new record.
func (m *Manager) Save(ctx context.Context, caller domain.Caller, provider, secret string, usageLimit int64, expiresAt *time.Time) (*domain.APIKeyRecord, error) {
	encrypted, err := m.enc.Encrypt(secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt provider key: %w", err)
	}

	rec := &domain.APIKeyRecord{
		ID:              uuid.NewString(),
		UserID:          caller.UserID,
		TenantID:        caller.TenantID,
		Provider:        provider,
		EncryptedSecret: encrypted,
		UsageLimit:      usageLimit,
		ExpiresAt:       expiresAt,
		CreatedAt:       m.now().UTC(),
	}
	if err := m.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Resolve returns the decrypted secret and key id for a caller and backend.
// An explicit APIKeyID on the caller wins over the user+provider lookup.
// Expired keys and keys over their usage limit fail with AUTH.
func (m *Manager) Resolve(ctx context.Context, caller domain.Caller, provider string) (secret, keyID string, err error) {
	var rec *domain.APIKeyRecord
	if caller.APIKeyID != "" {
		rec, err = m.store.GetByID(ctx, caller.APIKeyID)
		if err == nil && rec.UserID != caller.UserID {
			return "", "", domain.NewAuthError("api key does not belong to caller")
		}
	} else {
		rec, err = m.store.GetByUserProvider(ctx, caller.UserID, provider)
	}
	if err != nil {
		return "", "", err
	}

	now := m.now()
	if rec.Expired(now) {
		m.publish(events.TypeAPIKeyExpired, caller, rec)
		return "", "", domain.NewAuthError(fmt.Sprintf("api key %s expired", rec.ID))
	}
	if rec.UsageLimit > 0 && rec.UsageCount >= rec.UsageLimit {
		return "", "", domain.NewAuthError(fmt.Sprintf("api key %s usage limit reached", rec.ID))
	}

	secret, err = m.enc.Decrypt(rec.EncryptedSecret)
	if err != nil {
		return "", "", domain.NewInternalError("decrypt provider key", err)
	}

	// Counting is best effort; a failed increment never blocks the call.
	if err := m.store.IncrementUsage(ctx, rec.ID); err != nil {
		slog.Warn("api key usage increment failed", "key_id", rec.ID, "error", err)
	} else if rec.UsageLimit > 0 && float64(rec.UsageCount+1) >= usageWarnRatio*float64(rec.UsageLimit) {
		m.publish(events.TypeAPIKeyUsageWarning, caller, rec)
	}

	return secret, rec.ID, nil
}

func (m *Manager) publish(t events.Type, caller domain.Caller, rec *domain.APIKeyRecord) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Type:     t,
		UserID:   caller.UserID,
		TenantID: caller.TenantID,
		Provider: rec.Provider,
		Data: map[string]any{
			"key_id":      rec.ID,
			"usage_count": rec.UsageCount,
			"usage_limit": rec.UsageLimit,
		},
	})
}
