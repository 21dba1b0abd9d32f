// Package queue provides asynchronous request execution: callers enqueue a
// task, a worker pool drives it through the gateway, and the outcome is
// published to a result queue. Delivery is at-least-once; tasks must be
// safe to re-execute.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/modelgate/modelgate/internal/domain"
)

// Task is one queued request. Exactly one payload pointer is set, matching
// Operation.
type Task struct {
	ID        string           `json:"id"`
	Caller    domain.Caller    `json:"caller"`
	Operation domain.Operation `json:"operation"`
	CreatedAt time.Time        `json:"created_at"`

	Completion    *domain.CompletionRequest    `json:"completion,omitempty"`
	Chat          *domain.ChatRequest          `json:"chat,omitempty"`
	Embedding     *domain.EmbeddingRequest     `json:"embedding,omitempty"`
	Image         *domain.ImageRequest         `json:"image,omitempty"`
	Transcription *domain.TranscriptionRequest `json:"transcription,omitempty"`
}

// ReceivedTask pairs a task with the handle needed to acknowledge it.
type ReceivedTask struct {
	Task
	ReceiptHandle string `json:"-"`
}

// TaskResult is the published outcome of one task. Error carries the
// normalized error code when the task failed.
type TaskResult struct {
	TaskID    string         `json:"task_id"`
	UserID    string         `json:"user_id"`
	Result    *domain.Result `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Receive(ctx context.Context, maxTasks int) ([]ReceivedTask, error)
	Ack(ctx context.Context, receiptHandle string) error
	PublishResult(ctx context.Context, res TaskResult) error
}

type SQSQueue struct {
	client         *sqs.Client
	taskQueueURL   string
	resultQueueURL string
}

func NewSQSQueue(ctx context.Context, region, taskQueueURL, resultQueueURL string) (*SQSQueue, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQSQueueWithConfig(cfg, taskQueueURL, resultQueueURL), nil
}

func NewSQSQueueWithConfig(cfg aws.Config, taskQueueURL, resultQueueURL string) *SQSQueue {
	return &SQSQueue{
		client:         sqs.NewFromConfig(cfg),
		taskQueueURL:   taskQueueURL,
		resultQueueURL: resultQueueURL,
	}
}

func (q *SQSQueue) Enqueue(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.taskQueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"TaskID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(task.ID),
			},
			"UserID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(task.Caller.UserID),
			},
		},
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send task: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxTasks int) ([]ReceivedTask, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.taskQueueURL),
		MaxNumberOfMessages:   int32(maxTasks),
		WaitTimeSeconds:       20,
		MessageAttributeNames: []string{"All"},
	}

	result, err := q.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("receive tasks: %w", err)
	}

	tasks := make([]ReceivedTask, 0, len(result.Messages))
	for _, msg := range result.Messages {
		var task Task
		if err := json.Unmarshal([]byte(*msg.Body), &task); err != nil {
			slog.Warn("malformed task dropped", "error", err)
			continue
		}
		tasks = append(tasks, ReceivedTask{Task: task, ReceiptHandle: *msg.ReceiptHandle})
	}
	return tasks, nil
}

func (q *SQSQueue) Ack(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.taskQueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}
	if _, err := q.client.DeleteMessage(ctx, input); err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	return nil
}

func (q *SQSQueue) PublishResult(ctx context.Context, res TaskResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.resultQueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"TaskID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(res.TaskID),
			},
		},
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("publish task result: %w", err)
	}
	return nil
}

// InMemoryQueue backs tests and single-instance development.
type InMemoryQueue struct {
	mu      sync.Mutex
	tasks   []Task
	results []TaskResult
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{}
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *InMemoryQueue) Receive(ctx context.Context, maxTasks int) ([]ReceivedTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := maxTasks
	if count > len(q.tasks) {
		count = len(q.tasks)
	}

	out := make([]ReceivedTask, count)
	for i := 0; i < count; i++ {
		out[i] = ReceivedTask{Task: q.tasks[i], ReceiptHandle: q.tasks[i].ID}
	}
	q.tasks = q.tasks[count:]
	return out, nil
}

func (q *InMemoryQueue) Ack(ctx context.Context, receiptHandle string) error {
	return nil
}

func (q *InMemoryQueue) PublishResult(ctx context.Context, res TaskResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, res)
	return nil
}

// Results returns a snapshot of everything published so far.
func (q *InMemoryQueue) Results() []TaskResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]TaskResult, len(q.results))
	copy(out, q.results)
	return out
}
