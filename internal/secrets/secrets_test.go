package secrets_test

import (
	"context"
	"testing"

	"github.com/modelgate/modelgate/internal/secrets"
)

func TestInMemoryStore_SetGetDelete(t *testing.T) {
	store := secrets.NewInMemoryStore()
	ctx := context.Background()

	store.Set("openai", "sk-test-123")

	value, err := store.Get(ctx, "openai")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "sk-test-123" {
		t.Errorf("expected sk-test-123, got %q", value)
	}

	store.Set("openai", "sk-rotated")
	if value, _ := store.Get(ctx, "openai"); value != "sk-rotated" {
		t.Errorf("expected rotated value, got %q", value)
	}

	store.Delete("openai")
	if _, err := store.Get(ctx, "openai"); err == nil {
		t.Error("expected error after delete")
	}
}

func TestInMemoryStore_GetMissing(t *testing.T) {
	store := secrets.NewInMemoryStore()
	if _, err := store.Get(context.Background(), "nope"); err == nil {
		t.Error("expected error for missing secret")
	}
}

func TestLoadProviderKeys(t *testing.T) {
	store := secrets.NewInMemoryStore()
	store.Set("modelgate/prod/providers", `{"openai":"sk-oa","anthropic":"sk-an"}`)

	keys, err := secrets.LoadProviderKeys(context.Background(), store, "modelgate/prod")
	if err != nil {
		t.Fatalf("LoadProviderKeys failed: %v", err)
	}
	if keys.OpenAI != "sk-oa" {
		t.Errorf("expected sk-oa, got %q", keys.OpenAI)
	}
	if keys.Anthropic != "sk-an" {
		t.Errorf("expected sk-an, got %q", keys.Anthropic)
	}
	if keys.Google != "" {
		t.Errorf("expected empty google key, got %q", keys.Google)
	}
}

func TestLoadProviderKeys_MissingSecret(t *testing.T) {
	store := secrets.NewInMemoryStore()
	if _, err := secrets.LoadProviderKeys(context.Background(), store, "modelgate/prod"); err == nil {
		t.Error("expected error for missing providers secret")
	}
}

func TestLoadProviderKeys_MalformedJSON(t *testing.T) {
	store := secrets.NewInMemoryStore()
	store.Set("modelgate/prod/providers", "not json")

	if _, err := secrets.LoadProviderKeys(context.Background(), store, "modelgate/prod"); err == nil {
		t.Error("expected error for malformed secret")
	}
}
