package cleanup

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, baseBackoff},
		{1, 2 * baseBackoff},
		{2, 4 * baseBackoff},
		{3, 8 * baseBackoff},
		{4, 16 * baseBackoff},
	}

	for _, tt := range tests {
		if got := calculateBackoff(tt.attempts); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestCalculateBackoffCapped(t *testing.T) {
	for attempts := 10; attempts <= 30; attempts += 10 {
		if got := calculateBackoff(attempts); got > maxBackoff {
			t.Errorf("calculateBackoff(%d) = %v, exceeds cap %v", attempts, got, maxBackoff)
		}
	}
}

func TestJobCanRetry(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		max      int
		want     bool
	}{
		{"fresh job", 0, 5, true},
		{"under limit", 4, 5, true},
		{"at limit", 5, 5, false},
		{"over limit", 6, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{Attempts: tt.attempts}
			if got := job.CanRetry(tt.max); got != tt.want {
				t.Errorf("CanRetry(%d) with %d attempts = %v, want %v", tt.max, tt.attempts, got, tt.want)
			}
		})
	}
}

func TestWorkerPoolDefaults(t *testing.T) {
	pool := NewWorkerPool(nil, nil, nil)
	if pool.workerCount != DefaultWorkerCount {
		t.Errorf("workerCount = %d, want %d", pool.workerCount, DefaultWorkerCount)
	}
	if pool.maxRetries != DefaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", pool.maxRetries, DefaultMaxRetries)
	}
	if pool.IsRunning() {
		t.Error("pool reports running before Start")
	}
}
