package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
)

// Executor is the request surface the worker drives. Satisfied by
// gateway.Orchestrator.
type Executor interface {
	Complete(ctx context.Context, caller domain.Caller, req domain.CompletionRequest) (*domain.Result, error)
	Chat(ctx context.Context, caller domain.Caller, req domain.ChatRequest) (*domain.Result, error)
	Embed(ctx context.Context, caller domain.Caller, req domain.EmbeddingRequest) (*domain.Result, error)
	GenerateImage(ctx context.Context, caller domain.Caller, req domain.ImageRequest) (*domain.Result, error)
	TranscribeAudio(ctx context.Context, caller domain.Caller, req domain.TranscriptionRequest) (*domain.Result, error)
}

// Worker polls the task queue and executes tasks concurrently. Each poll
// goroutine receives, processes, publishes the result, and acknowledges;
// a crash between execute and ack causes a re-delivery, never a lost task.
type Worker struct {
	queue       Queue
	exec        Executor
	concurrency int
	batchSize   int
	idleDelay   time.Duration
}

func NewWorker(q Queue, exec Executor, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Worker{
		queue:       q,
		exec:        exec,
		concurrency: concurrency,
		batchSize:   10,
		idleDelay:   time.Second,
	}
}

// Run blocks until ctx is cancelled, polling with w.concurrency goroutines.
func (w *Worker) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < w.concurrency; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			w.poll(ctx)
		}()
	}
	for i := 0; i < w.concurrency; i++ {
		<-done
	}
}

func (w *Worker) poll(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		tasks, err := w.queue.Receive(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("task receive failed", "error", err)
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}

		for _, task := range tasks {
			w.process(ctx, task)
		}
	}
}

func (w *Worker) process(ctx context.Context, task ReceivedTask) {
	res, err := w.dispatch(ctx, task.Task)

	out := TaskResult{
		TaskID:    task.ID,
		UserID:    task.Caller.UserID,
		Result:    res,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		out.Error = string(domain.CodeOf(err))
		slog.Warn("async task failed", "task_id", task.ID, "operation", task.Operation, "error", err)
	}

	if err := w.queue.PublishResult(ctx, out); err != nil {
		slog.Warn("task result publish failed", "task_id", task.ID, "error", err)
	}
	if err := w.queue.Ack(ctx, task.ReceiptHandle); err != nil {
		slog.Warn("task ack failed", "task_id", task.ID, "error", err)
	}
}

func (w *Worker) dispatch(ctx context.Context, task Task) (*domain.Result, error) {
	switch {
	case task.Completion != nil:
		return w.exec.Complete(ctx, task.Caller, *task.Completion)
	case task.Chat != nil:
		return w.exec.Chat(ctx, task.Caller, *task.Chat)
	case task.Embedding != nil:
		return w.exec.Embed(ctx, task.Caller, *task.Embedding)
	case task.Image != nil:
		return w.exec.GenerateImage(ctx, task.Caller, *task.Image)
	case task.Transcription != nil:
		return w.exec.TranscribeAudio(ctx, task.Caller, *task.Transcription)
	}
	return nil, domain.NewValidationError("task has no payload")
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.idleDelay):
	}
}
