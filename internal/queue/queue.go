package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"answer-eval/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

const (
	// TaskTypeAuthor carries a question draft to be embedded and published.
	TaskTypeAuthor TaskType = "author"
)

// DefaultMaxAttempts bounds redelivery when a task does not set its own limit.
const DefaultMaxAttempts = 5

// Task represents a unit of work handed to a worker.
type Task struct {
	ID          uuid.UUID `json:"id"`
	Type        TaskType  `json:"type"`
	Payload     []byte    `json:"payload"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	NotBefore   time.Time `json:"not_before"`
}

// NewTask builds a task of the given type with a JSON payload.
func NewTask(taskType TaskType, payload any) (Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", taskType, err)
	}
	return Task{
		ID:          uuid.New(),
		Type:        taskType,
		Payload:     body,
		MaxAttempts: DefaultMaxAttempts,
	}, nil
}

// Decode unmarshals the task payload into v.
func (t Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Type, err)
	}
	return nil
}

type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	return retry.Do(ctx, attempts, base, nil, func(ctx context.Context) error {
		return q.Enqueue(ctx, task)
	})
}
