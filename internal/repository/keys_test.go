package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/repository"
)

func TestInMemoryKeyStore_CreateAndLookup(t *testing.T) {
	store := repository.NewInMemoryKeyStore()
	ctx := context.Background()

	rec := &domain.APIKeyRecord{
		ID:              "key-1",
		UserID:          "user-1",
		Provider:        "openai",
		EncryptedSecret: "ciphertext",
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.GetByUserProvider(ctx, "user-1", "openai")
	if err != nil {
		t.Fatalf("GetByUserProvider failed: %v", err)
	}
	if got.ID != "key-1" || got.EncryptedSecret != "ciphertext" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	byID, err := store.GetByID(ctx, "key-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if byID.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", byID.UserID)
	}
}

func TestInMemoryKeyStore_NotFound(t *testing.T) {
	store := repository.NewInMemoryKeyStore()
	ctx := context.Background()

	if _, err := store.GetByUserProvider(ctx, "nobody", "openai"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "missing"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
	if err := store.IncrementUsage(ctx, "missing"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestInMemoryKeyStore_Delete(t *testing.T) {
	store := repository.NewInMemoryKeyStore()
	ctx := context.Background()

	rec := &domain.APIKeyRecord{ID: "key-1", UserID: "user-1", Provider: "anthropic"}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Delete(ctx, "key-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.GetByUserProvider(ctx, "user-1", "anthropic"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestInMemoryKeyStore_IncrementUsage(t *testing.T) {
	store := repository.NewInMemoryKeyStore()
	ctx := context.Background()

	rec := &domain.APIKeyRecord{ID: "key-1", UserID: "user-1", Provider: "openai"}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.IncrementUsage(ctx, "key-1"); err != nil {
			t.Fatalf("IncrementUsage failed: %v", err)
		}
	}

	got, err := store.GetByID(ctx, "key-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.UsageCount != 3 {
		t.Errorf("expected usage count 3, got %d", got.UsageCount)
	}
}

func TestInMemoryKeyStore_ReturnsCopies(t *testing.T) {
	store := repository.NewInMemoryKeyStore()
	ctx := context.Background()

	exp := time.Now().Add(time.Hour).UTC()
	rec := &domain.APIKeyRecord{ID: "key-1", UserID: "user-1", Provider: "openai", ExpiresAt: &exp}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "key-1")
	got.EncryptedSecret = "tampered"

	again, _ := store.GetByID(ctx, "key-1")
	if again.EncryptedSecret == "tampered" {
		t.Error("mutating a returned record must not affect the store")
	}
}
