package util

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type requestUserKey struct{}

// requestUser is filled in by the auth middleware once the bearer token
// resolves, after WithRequestLog has already handed the context down.
type requestUser struct {
	uuid string
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	if r.status == 0 {
		r.status = statusCode
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// SetRequestUser records the authenticated user's UUID for the http_request
// log line. It is a no-op outside WithRequestLog.
func SetRequestUser(ctx context.Context, userUUID string) {
	if u, ok := ctx.Value(requestUserKey{}).(*requestUser); ok {
		u.uuid = userUUID
	}
}

// WithRequestLog emits one http_request line per request through the
// request-scoped logger. Server errors log at error level, client errors at
// warn.
func WithRequestLog(service string, next http.Handler) http.Handler {
	service = strings.TrimSpace(service)
	if service == "" {
		service = "unknown"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		user := &requestUser{}
		ctx := context.WithValue(r.Context(), requestUserKey{}, user)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		attrs := []any{
			"service", service,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if user.uuid != "" {
			attrs = append(attrs, "user_uuid", user.uuid)
		}
		LoggerFromContext(ctx).Log(ctx, level, "http_request", attrs...)
	})
}
