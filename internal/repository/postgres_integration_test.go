//go:build integration

package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/repository"
	"github.com/modelgate/modelgate/internal/usage"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return db
}

func TestPostgresKeyStore_CRUD(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store := repository.NewPostgresKeyStore(db)
	ctx := context.Background()

	userID := "test-user-" + time.Now().Format("20060102150405")
	rec := &domain.APIKeyRecord{
		ID:              "test-key-" + time.Now().Format("20060102150405"),
		UserID:          userID,
		Provider:        "openai",
		EncryptedSecret: "encrypted-test-secret",
	}

	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer store.Delete(ctx, rec.ID)

	got, err := store.GetByUserProvider(ctx, userID, "openai")
	if err != nil {
		t.Fatalf("GetByUserProvider failed: %v", err)
	}
	if got.EncryptedSecret != rec.EncryptedSecret {
		t.Errorf("expected secret %s, got %s", rec.EncryptedSecret, got.EncryptedSecret)
	}

	if err := store.IncrementUsage(ctx, rec.ID); err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}

	got, err = store.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.UsageCount != 1 {
		t.Errorf("expected usage count 1, got %d", got.UsageCount)
	}

	if err := store.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.GetByID(ctx, rec.ID); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestPostgresKeyStore_NotFound(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store := repository.NewPostgresKeyStore(db)
	ctx := context.Background()

	if _, err := store.GetByID(ctx, "does-not-exist"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestPostgresTracker_RecordAndTotals(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	tracker := repository.NewPostgresTracker(db)
	ctx := context.Background()

	userID := "test-usage-" + time.Now().Format("20060102150405")
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		rec := usage.Record{
			RequestID:        fmt.Sprintf("%s-req-%d", userID, i),
			UserID:           userID,
			Provider:         "openai",
			Model:            "gpt-4o",
			Operation:        domain.OperationChat,
			PromptTokens:     100,
			CompletionTokens: 50,
			CostUSD:          0.01,
			LatencyMs:        120,
			CreatedAt:        now,
		}
		if err := tracker.Record(ctx, rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	from := now.Add(-time.Minute)
	to := now.Add(time.Minute)

	records, err := tracker.Range(ctx, userID, from, to)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	tokens, err := tracker.TotalTokens(ctx, userID, from, to)
	if err != nil {
		t.Fatalf("TotalTokens failed: %v", err)
	}
	if tokens != 450 {
		t.Errorf("expected 450 tokens, got %d", tokens)
	}

	cost, err := tracker.TotalCost(ctx, userID, from, to)
	if err != nil {
		t.Fatalf("TotalCost failed: %v", err)
	}
	if cost < 0.029 || cost > 0.031 {
		t.Errorf("expected total cost about 0.03, got %f", cost)
	}
}

func TestPostgresTracker_RangeIsHalfOpen(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	tracker := repository.NewPostgresTracker(db)
	ctx := context.Background()

	userID := "test-range-" + time.Now().Format("20060102150405")
	boundary := time.Now().UTC().Truncate(time.Second)

	rec := usage.Record{
		RequestID: userID + "-req",
		UserID:    userID,
		Provider:  "openai",
		Model:     "gpt-4o",
		Operation: domain.OperationChat,
		CreatedAt: boundary,
	}
	if err := tracker.Record(ctx, rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	included, err := tracker.Range(ctx, userID, boundary, boundary.Add(time.Second))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(included) != 1 {
		t.Errorf("record at the lower bound should be included, got %d", len(included))
	}

	excluded, err := tracker.Range(ctx, userID, boundary.Add(-time.Second), boundary)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(excluded) != 0 {
		t.Errorf("record at the upper bound should be excluded, got %d", len(excluded))
	}
}

func TestPostgresTracker_EmptyTotals(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	tracker := repository.NewPostgresTracker(db)
	ctx := context.Background()

	now := time.Now().UTC()
	tokens, err := tracker.TotalTokens(ctx, "nonexistent-user", now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("TotalTokens failed: %v", err)
	}
	if tokens != 0 {
		t.Errorf("expected 0 tokens for unknown user, got %d", tokens)
	}
}
