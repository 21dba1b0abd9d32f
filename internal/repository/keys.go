// Package repository holds the persistent stores: provider API keys,
// usage records, and entitlement plans. Each store has an in-memory
// implementation for tests and single-node setups, and a Postgres
// implementation for real deployments.
package repository

import (
	"context"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
)

// KeyStore persists per-user provider credentials. Secrets arrive already
// encrypted; the store never sees plaintext.
type KeyStore interface {
	GetByUserProvider(ctx context.Context, userID, provider string) (*domain.APIKeyRecord, error)
	GetByID(ctx context.Context, id string) (*domain.APIKeyRecord, error)
	Create(ctx context.Context, rec *domain.APIKeyRecord) error
	Delete(ctx context.Context, id string) error

	// IncrementUsage bumps the key's invocation counter.
	IncrementUsage(ctx context.Context, id string) error
}

type InMemoryKeyStore struct {
	mu         sync.RWMutex
	keys       map[string]*domain.APIKeyRecord
	byUserProv map[string]string
}

func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{
		keys:       make(map[string]*domain.APIKeyRecord),
		byUserProv: make(map[string]string),
	}
}

func userProvKey(userID, provider string) string {
	return userID + "\x00" + provider
}

func (s *InMemoryKeyStore) GetByUserProvider(ctx context.Context, userID, provider string) (*domain.APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUserProv[userProvKey(userID, provider)]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	rec := *s.keys[id]
	return &rec, nil
}

func (s *InMemoryKeyStore) GetByID(ctx context.Context, id string) (*domain.APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.keys[id]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	out := *rec
	return &out, nil
}

func (s *InMemoryKeyStore) Create(ctx context.Context, rec *domain.APIKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	stored := *rec
	s.keys[rec.ID] = &stored
	s.byUserProv[userProvKey(rec.UserID, rec.Provider)] = rec.ID
	return nil
}

func (s *InMemoryKeyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[id]
	if !ok {
		return domain.ErrKeyNotFound
	}
	delete(s.byUserProv, userProvKey(rec.UserID, rec.Provider))
	delete(s.keys, id)
	return nil
}

func (s *InMemoryKeyStore) IncrementUsage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[id]
	if !ok {
		return domain.ErrKeyNotFound
	}
	rec.UsageCount++
	return nil
}
