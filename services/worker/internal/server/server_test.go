package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"pdfchat/pkg/queue"
)

func newTestServer(t *testing.T, ready func(context.Context) error) (*Server, *queue.RedisJobQueue) {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:   redisSrv.Addr(),
		Stream: queue.ParseStream,
		Group:  queue.ParseGroup,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	srv, err := New(Config{Queues: map[string]JobLookup{"parse": q}, Ready: ready})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, q
}

func TestJobLookup(t *testing.T) {
	srv, q := newTestServer(t, nil)
	job, err := q.Enqueue(context.Background(), queue.Payload{TargetID: "pdf-1", UserID: 7})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/parse/"+job.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got queue.JobStatus
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != job.ID || got.TargetID != "pdf-1" || got.Status != queue.StatusQueued {
		t.Fatalf("unexpected job: %+v", got)
	}
}

func TestJobLookupNotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	for _, path := range []string{"/jobs/parse/missing", "/jobs/embed/anything"} {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rec.Code)
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Fatalf("%s: expected request id header", path)
		}
	}
}

func TestHealthReportsReadiness(t *testing.T) {
	srv, _ := newTestServer(t, func(context.Context) error { return errors.New("db down") })
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	srv, _ = newTestServer(t, nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "pdfchat_http_requests_total") {
		t.Fatalf("expected prometheus output, got %d", rec.Code)
	}
}

func TestNewRequiresQueues(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without queues")
	}
}
