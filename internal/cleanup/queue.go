package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyQueue = "cleanup:queue"

	// Default timeout for blocking dequeues
	defaultBlockTimeout = 5 * time.Second
)

var ErrQueueEmpty = errors.New("queue is empty")

// Job is one blob awaiting deletion from the media store. Replacing an
// avatar or cover image enqueues the superseded blob here instead of
// deleting it inline, so a slow or failing delete never fails the request
// that already succeeded.
type Job struct {
	ID         string    `json:"id"`
	BlobID     string    `json:"blob_id"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// CanRetry reports whether the job has retry budget left.
func (j *Job) CanRetry(maxRetries int) bool {
	return j.Attempts < maxRetries
}

// Queue holds pending blob deletions in a Redis list.
type Queue struct {
	client *redis.Client
}

// NewQueue connects to Redis and returns a deletion queue.
func NewQueue(addr string) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

// NewQueueWithClient wraps an existing Redis client.
func NewQueueWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue schedules a blob for deletion.
func (q *Queue) Enqueue(ctx context.Context, blobID, reason string) error {
	job := &Job{
		ID:         uuid.New().String(),
		BlobID:     blobID,
		Reason:     reason,
		EnqueuedAt: time.Now(),
	}
	return q.push(ctx, job)
}

// Requeue puts a failed job back with its attempt count bumped.
func (q *Queue) Requeue(ctx context.Context, job *Job) error {
	job.Attempts++
	return q.push(ctx, job)
}

// Dequeue retrieves and removes a job from the queue (blocking).
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	if timeout == 0 {
		timeout = defaultBlockTimeout
	}

	result, err := q.client.BRPop(ctx, timeout, keyQueue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	if len(result) < 2 {
		return nil, ErrQueueEmpty
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// Length returns the number of blobs waiting for deletion.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, keyQueue).Result()
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.LPush(ctx, keyQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}
