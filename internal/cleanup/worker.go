package cleanup

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/vidhub/backend/internal/metrics"
)

const (
	DefaultWorkerCount = 2
	DefaultMaxRetries  = 5

	// Exponential backoff parameters
	baseBackoff = 2 * time.Second
	maxBackoff  = 5 * time.Minute
)

// Deleter destroys a blob by its store identifier.
type Deleter interface {
	Destroy(ctx context.Context, blobID string) error
}

// WorkerPool drains the deletion queue against the media store.
type WorkerPool struct {
	queue       *Queue
	deleter     Deleter
	workerCount int
	maxRetries  int

	wg       sync.WaitGroup
	stopChan chan struct{}
	mu       sync.RWMutex
	running  bool
}

// WorkerPoolConfig holds configuration for the worker pool.
type WorkerPoolConfig struct {
	WorkerCount int
	MaxRetries  int
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(queue *Queue, deleter Deleter, config *WorkerPoolConfig) *WorkerPool {
	if config == nil {
		config = &WorkerPoolConfig{}
	}

	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}

	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	return &WorkerPool{
		queue:       queue,
		deleter:     deleter,
		workerCount: workerCount,
		maxRetries:  maxRetries,
		stopChan:    make(chan struct{}),
	}
}

// Start launches the worker pool.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}

	wp.running = true
	wp.stopChan = make(chan struct{})

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	log.Printf("Cleanup worker pool started with %d workers", wp.workerCount)
}

// Stop gracefully stops the worker pool, waiting for in-flight deletes.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return nil
	}
	wp.running = false
	close(wp.stopChan)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Cleanup worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		log.Println("Cleanup worker pool shutdown timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the worker pool is currently running.
func (wp *WorkerPool) IsRunning() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.running
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.stopChan:
			return
		default:
			wp.processNextJob(id)
		}
	}
}

func (wp *WorkerPool) processNextJob(workerID int) {
	ctx := context.Background()

	job, err := wp.queue.Dequeue(ctx, 5*time.Second)
	if err != nil {
		if errors.Is(err, ErrQueueEmpty) {
			return
		}
		log.Printf("Cleanup worker %d: failed to dequeue job: %v", workerID, err)
		return
	}

	if length, err := wp.queue.Length(ctx); err == nil {
		metrics.Default().SetCleanupQueueLength(length)
	}

	if err := wp.deleter.Destroy(ctx, job.BlobID); err != nil {
		wp.handleFailure(ctx, workerID, job, err)
		return
	}

	metrics.Default().IncCounter("cleanup_blobs_deleted_total")
	log.Printf("Cleanup worker %d: deleted blob %s (%s)", workerID, job.BlobID, job.Reason)
}

func (wp *WorkerPool) handleFailure(ctx context.Context, workerID int, job *Job, jobErr error) {
	log.Printf("Cleanup worker %d: delete of blob %s failed: %v", workerID, job.BlobID, jobErr)

	if !job.CanRetry(wp.maxRetries) {
		metrics.Default().IncCounter("cleanup_blobs_abandoned_total")
		log.Printf("Cleanup worker %d: blob %s exceeded max retries (%d), dropping",
			workerID, job.BlobID, wp.maxRetries)
		return
	}

	backoff := calculateBackoff(job.Attempts)
	log.Printf("Cleanup worker %d: retrying blob %s in %v (attempt %d/%d)",
		workerID, job.BlobID, backoff, job.Attempts+1, wp.maxRetries)

	select {
	case <-wp.stopChan:
		// Requeue immediately so the job survives shutdown.
	case <-time.After(backoff):
	}

	if err := wp.queue.Requeue(ctx, job); err != nil {
		log.Printf("Cleanup worker %d: failed to requeue blob %s: %v", workerID, job.BlobID, err)
	}
}

// calculateBackoff computes the exponential backoff for a retry count.
func calculateBackoff(attempts int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempts))) * baseBackoff
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
