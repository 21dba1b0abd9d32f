package queue_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/queue"
)

type stubExecutor struct {
	chatCalls atomic.Int64
	fail      error
}

func (s *stubExecutor) Complete(ctx context.Context, caller domain.Caller, req domain.CompletionRequest) (*domain.Result, error) {
	return &domain.Result{Operation: domain.OperationCompletion, Text: "done"}, nil
}

func (s *stubExecutor) Chat(ctx context.Context, caller domain.Caller, req domain.ChatRequest) (*domain.Result, error) {
	s.chatCalls.Add(1)
	if s.fail != nil {
		return nil, s.fail
	}
	return &domain.Result{
		Operation: domain.OperationChat,
		Message:   &domain.Message{Role: "assistant", Content: "queued reply"},
	}, nil
}

func (s *stubExecutor) Embed(ctx context.Context, caller domain.Caller, req domain.EmbeddingRequest) (*domain.Result, error) {
	return &domain.Result{Operation: domain.OperationEmbedding}, nil
}

func (s *stubExecutor) GenerateImage(ctx context.Context, caller domain.Caller, req domain.ImageRequest) (*domain.Result, error) {
	return &domain.Result{Operation: domain.OperationImage}, nil
}

func (s *stubExecutor) TranscribeAudio(ctx context.Context, caller domain.Caller, req domain.TranscriptionRequest) (*domain.Result, error) {
	return &domain.Result{Operation: domain.OperationTranscription}, nil
}

func chatTask(id string) queue.Task {
	return queue.Task{
		ID:        id,
		Caller:    domain.Caller{UserID: "user-1"},
		Operation: domain.OperationChat,
		Chat: &domain.ChatRequest{
			Messages: []domain.Message{{Role: "user", Content: "hi"}},
			Options:  domain.Options{Model: "mock-omni"},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func waitForResults(t *testing.T, q *queue.InMemoryQueue, want int) []queue.TaskResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if results := q.Results(); len(results) >= want {
			return results
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d results, have %d", want, len(q.Results()))
	return nil
}

func TestWorker_ProcessesQueuedChat(t *testing.T) {
	q := queue.NewInMemoryQueue()
	exec := &stubExecutor{}
	worker := queue.NewWorker(q, exec, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	if err := q.Enqueue(ctx, chatTask("task-1")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	results := waitForResults(t, q, 1)
	if results[0].TaskID != "task-1" {
		t.Errorf("expected task-1, got %s", results[0].TaskID)
	}
	if results[0].Error != "" {
		t.Errorf("expected success, got error %q", results[0].Error)
	}
	if results[0].Result == nil || results[0].Result.Message.Content != "queued reply" {
		t.Errorf("unexpected result: %+v", results[0].Result)
	}
}

func TestWorker_PublishesErrorCodeOnFailure(t *testing.T) {
	q := queue.NewInMemoryQueue()
	exec := &stubExecutor{fail: domain.NewRateLimitError(10, time.Second)}
	worker := queue.NewWorker(q, exec, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	if err := q.Enqueue(ctx, chatTask("task-err")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	results := waitForResults(t, q, 1)
	if results[0].Error != string(domain.ErrCodeRateLimited) {
		t.Errorf("expected RATE_LIMITED, got %q", results[0].Error)
	}
	if results[0].Result != nil {
		t.Error("failed task must not carry a result payload")
	}
}

func TestWorker_EmptyPayloadRejected(t *testing.T) {
	q := queue.NewInMemoryQueue()
	worker := queue.NewWorker(q, &stubExecutor{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	task := queue.Task{ID: "task-empty", Caller: domain.Caller{UserID: "user-1"}}
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	results := waitForResults(t, q, 1)
	if results[0].Error != string(domain.ErrCodeValidation) {
		t.Errorf("expected VALIDATION, got %q", results[0].Error)
	}
}

func TestWorker_ProcessesBacklogAcrossWorkers(t *testing.T) {
	q := queue.NewInMemoryQueue()
	exec := &stubExecutor{}
	worker := queue.NewWorker(q, exec, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 20; i++ {
		if err := q.Enqueue(ctx, chatTask("task-"+string(rune('a'+i)))); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	go worker.Run(ctx)

	waitForResults(t, q, 20)
	if got := exec.chatCalls.Load(); got != 20 {
		t.Errorf("expected 20 chat executions, got %d", got)
	}
}
