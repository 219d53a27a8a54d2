package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func logRequest(t *testing.T, req *http.Request, handler http.HandlerFunc) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	req = req.WithContext(ContextWithLogger(req.Context(), logger))

	WithRequestID(WithRequestLog("api", handler)).ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return line
}

func TestWithRequestLogIncludesResolvedUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/pdf-list?page=1", nil)
	req.Header.Set("X-Request-Id", "list-1")
	line := logRequest(t, req, func(w http.ResponseWriter, r *http.Request) {
		SetRequestUser(r.Context(), "5b0a3f7e-2c1d-4b8e-9a51-0c6f1d2e3a4b")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	if line["msg"] != "http_request" || line["level"] != "INFO" {
		t.Fatalf("unexpected line %v", line)
	}
	if line["user_uuid"] != "5b0a3f7e-2c1d-4b8e-9a51-0c6f1d2e3a4b" || line["request_id"] != "list-1" {
		t.Fatalf("missing correlation fields: %v", line)
	}
	if line["path"] != "/pdf-list" || line["status"] != float64(http.StatusOK) || line["bytes"] != float64(len(`{"data":[]}`)) {
		t.Fatalf("unexpected request fields: %v", line)
	}
}

func TestWithRequestLogLevelsFollowStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusUnauthorized, "WARN"},
		{http.StatusRequestEntityTooLarge, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodPost, "/pdf-upload", nil)
		line := logRequest(t, req, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		})
		if line["level"] != tc.level || line["status"] != float64(tc.status) {
			t.Fatalf("status %d: unexpected line %v", tc.status, line)
		}
		if _, ok := line["user_uuid"]; ok {
			t.Fatalf("anonymous request must not carry user_uuid: %v", line)
		}
	}
}
