package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "static path untouched",
			path: "/api/v1/users/login",
			want: "/api/v1/users/login",
		},
		{
			name: "uuid collapsed",
			path: "/api/v1/users/history/3aa9c34d-9f5a-4a44-8a3b-7b2f3c4d5e6f",
			want: "/api/v1/users/history/{id}",
		},
		{
			name: "channel username collapsed",
			path: "/api/v1/users/channel/alice",
			want: "/api/v1/users/channel/{username}",
		},
		{
			name: "subscribe username collapsed",
			path: "/api/v1/users/subscribe/alice",
			want: "/api/v1/users/subscribe/{username}",
		},
		{
			name: "bare channel prefix untouched",
			path: "/api/v1/users/channel/",
			want: "/api/v1/users/channel/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeEndpoint(tt.path); got != tt.want {
				t.Errorf("normalizeEndpoint(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestRecordRequestAndHandler(t *testing.T) {
	m := New()
	m.RecordRequest("POST", "/api/v1/users/login", 200, 12*time.Millisecond)
	m.RecordRequest("POST", "/api/v1/users/login", 401, 3*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/users/channel/alice", 200, 5*time.Millisecond)
	m.SetCleanupQueueLength(4)
	m.IncCounter("cleanup_blobs_deleted_total")
	m.IncCounter("cleanup_blobs_deleted_total")

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler()(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain exposition", ct)
	}

	body := w.Body.String()
	for _, want := range []string{
		`vidhub_http_requests_total{endpoint="/api/v1/users/login",method="POST"} 2`,
		`vidhub_http_requests_total{endpoint="/api/v1/users/channel/{username}",method="GET"} 1`,
		`vidhub_http_errors_total{endpoint="/api/v1/users/login",method="POST",status_class="400"} 1`,
		`vidhub_cleanup_queue_length 4`,
		`vidhub_cleanup_blobs_deleted_total 2`,
		`vidhub_uptime_seconds`,
		`vidhub_http_request_duration_seconds_count{endpoint="/api/v1/users/login",method="POST"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestCounterValue(t *testing.T) {
	m := New()
	if got := m.CounterValue("missing"); got != 0 {
		t.Errorf("CounterValue(missing) = %d, want 0", got)
	}
	m.IncCounter("jobs")
	m.IncCounter("jobs")
	m.IncCounter("jobs")
	if got := m.CounterValue("jobs"); got != 3 {
		t.Errorf("CounterValue(jobs) = %d, want 3", got)
	}
}

func TestHistogramObserve(t *testing.T) {
	h := NewHistogram()
	h.Observe(0.004)
	h.Observe(0.2)
	h.Observe(20)

	if h.count != 3 {
		t.Errorf("count = %d, want 3", h.count)
	}
	// 0.004 lands in every bucket, 0.2 from 0.25 up, 20 in none.
	if h.bucketVals[0] != 1 {
		t.Errorf("bucket le=0.005 = %d, want 1", h.bucketVals[0])
	}
	if h.bucketVals[5] != 2 {
		t.Errorf("bucket le=0.25 = %d, want 2", h.bucketVals[5])
	}
	if h.bucketVals[10] != 2 {
		t.Errorf("bucket le=10 = %d, want 2", h.bucketVals[10])
	}
}
