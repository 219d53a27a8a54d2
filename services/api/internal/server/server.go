package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"pdfchat/internal/metrics"
	"pdfchat/internal/ratelimit"
	"pdfchat/internal/security"
	"pdfchat/internal/util"
	"pdfchat/pkg/domain"
	"pdfchat/services/api/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	RedisAddr     string
	RedisPassword string
	// RegisterRateLimit and LoginRateLimit are attempts per client IP per
	// RateLimitWindow (default one minute).
	RegisterRateLimit int
	LoginRateLimit    int
	RateLimitWindow   time.Duration
	TrustedProxies    []string
	MaxUploadBytes    int64
	Metrics           *metrics.Metrics
	// Ready reports backing store health for /healthz. Optional.
	Ready func(context.Context) error
}

// Server exposes the public HTTP API.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	validate        *validator.Validate
	metrics         *metrics.Metrics
	trustedProxies  *util.TrustedProxies
	maxUploadBytes  int64
	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	alerter         *security.AuditAlerter
	ready           func(context.Context) error
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	registerLimit := cfg.RegisterRateLimit
	if registerLimit <= 0 {
		registerLimit = 5
	}
	loginLimit := cfg.LoginRateLimit
	if loginLimit <= 0 {
		loginLimit = 10
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	limiterRedis := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "pdfchat:api:ratelimit:" + name
		limiter, err := ratelimit.NewFixedWindowLimiter(limiterRedis, prefix, limit, window)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	registerLimiter, err := newLimiter("register", registerLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		metrics:         m,
		trustedProxies:  trusted,
		maxUploadBytes:  normalizeMaxBytes(cfg.MaxUploadBytes),
		registerLimiter: registerLimiter,
		loginLimiter:    loginLimiter,
		alerter:         security.NewAuditAlerter(cfg.RedisAddr, cfg.RedisPassword, "pdfchat:api:alerts"),
		ready:           cfg.Ready,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("api",
			util.WithSecurityHeaders(s.trustedProxies,
				util.WithCORS(s.metrics.WithHTTPMetrics("api", s.mux)),
			),
		),
	)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.mux.HandleFunc("POST /account/register", s.handleRegister)
	s.mux.HandleFunc("POST /account/login", s.handleLogin)
	s.mux.Handle("POST /account/logout", s.withUser(s.handleLogout))
	s.mux.Handle("GET /account/me", s.withUser(s.handleMe))

	s.mux.Handle("POST /pdf-upload", s.withUser(s.handleUpload))
	s.mux.Handle("GET /pdf-list", s.withUser(s.handleListPDFs))
	s.mux.Handle("POST /pdf-parse", s.withUser(s.handleParse))
	s.mux.Handle("POST /pdf-select", s.withUser(s.handleSelect))

	s.mux.Handle("POST /chat/pdf-chat", s.withUser(s.handleSubmit))
	s.mux.Handle("GET /chat/chat-history", s.withUser(s.handleHistory))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			util.LoggerFromContext(r.Context()).Warn("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "SYSTEM_UNAVAILABLE", "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "api.authorize", "fail", "reason", "missing_token")
			writeUnauthorized(w)
			return
		}
		user, ok := s.app.Authenticate(r.Context(), token)
		if !ok {
			s.audit(r, "api.authorize", "fail", "reason", "invalid_token")
			writeUnauthorized(w)
			return
		}
		util.SetRequestUser(r.Context(), user.UUID)
		next(w, r, user)
	})
}

// account

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type registerResponse struct {
	UserUUID string `json:"user_uuid"`
	Email    string `json:"email"`
	Message  string `json:"message"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserUUID    string `json:"user_uuid"`
}

type meResponse struct {
	UserUUID  string    `json:"user_uuid"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, "api.register", "rate_limited")
		return
	}
	var req credentialsRequest
	if !s.decodeAndValidate(w, r, &req) {
		s.audit(r, "api.register", "fail", "reason", "invalid_request")
		return
	}
	user, err := s.app.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.register", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.register", "success", "user_uuid", user.UUID)
	writeJSON(w, http.StatusCreated, registerResponse{
		UserUUID: user.UUID,
		Email:    user.Email,
		Message:  "User registered successfully.",
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "api.login", "rate_limited")
		return
	}
	var req loginRequest
	if !s.decodeAndValidate(w, r, &req) {
		s.audit(r, "api.login", "fail", "reason", "invalid_request")
		return
	}
	token, user, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.login", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	util.SetRequestUser(r.Context(), user.UUID)
	s.audit(r, "api.login", "success", "user_uuid", user.UUID)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		UserUUID:    user.UUID,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, user domain.User) {
	token, _ := bearerToken(r)
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.audit(r, "api.logout", "fail", "user_uuid", user.UUID, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.logout", "success", "user_uuid", user.UUID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, meResponse{
		UserUUID:  user.UUID,
		Email:     user.Email,
		IsActive:  user.IsActive(),
		CreatedAt: user.CreatedAt,
	})
}

// pdfs

type pdfIDRequest struct {
	PDFID string `json:"pdf_id" validate:"required,max=64"`
}

type parseResponse struct {
	PDFID   string             `json:"pdf_id"`
	Status  domain.ParseStatus `json:"status"`
	Message string             `json:"message"`
}

type selectResponse struct {
	PDFID           string `json:"pdf_id"`
	Message         string `json:"message"`
	SelectedForChat bool   `json:"is_selected_for_chat"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "PDF_TOO_LARGE", "file exceeds the upload size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid form data")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "file is required (field: file)")
		return
	}
	defer file.Close()
	doc, err := s.app.Upload(r.Context(), user, header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	util.LoggerFromContext(r.Context()).Info("pdf uploaded", "pdf_id", doc.ID, "size_bytes", doc.SizeBytes)
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListPDFs(w http.ResponseWriter, r *http.Request, user domain.User) {
	page, size, ok := pageParams(w, r, app.DefaultPDFPageSize)
	if !ok {
		return
	}
	res, err := s.app.List(r.Context(), user, page, size)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req pdfIDRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	doc, err := s.app.RequestParsing(r.Context(), user, req.PDFID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, parseResponse{
		PDFID:   doc.ID,
		Status:  doc.ParseStatus,
		Message: "PDF parsing initiated.",
	})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req pdfIDRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	doc, err := s.app.SelectForChat(r.Context(), user, req.PDFID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, selectResponse{
		PDFID:           doc.ID,
		Message:         "PDF selected successfully for chat.",
		SelectedForChat: doc.SelectedForChat,
	})
}

// chat

type chatRequest struct {
	Message string `json:"message" validate:"required,min=1,max=4000"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req chatRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	turn, err := s.app.Submit(r.Context(), user, req.Message)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, turn)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, user domain.User) {
	page, size, ok := pageParams(w, r, app.DefaultHistoryPageSize)
	if !ok {
		return
	}
	res, err := s.app.History(r.Context(), user, page, size)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// helpers

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

func pageParams(w http.ResponseWriter, r *http.Request, defaultSize int) (int, int, bool) {
	page, size := 1, defaultSize
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PAGINATION", "page must be an integer")
			return 0, 0, false
		}
		page = n
	}
	if raw := strings.TrimSpace(q.Get("size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PAGINATION", "size must be an integer")
			return 0, 0, false
		}
		size = n
	}
	return page, size, true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)

	alert, err := s.alerter.Observe(r.Context(), event, outcome, util.ClientIP(r, s.trustedProxies))
	if err != nil {
		slog.Warn("security alert counter unavailable", "event", event, "error", err)
		return
	}
	if alert.Triggered {
		slog.Error("security_alert", append(logAttrs, "count", alert.Count, "threshold", alert.Threshold, "window", alert.Window.String())...)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	decision, err := limiter.Allow(r.Context(), util.ClientIP(r, s.trustedProxies))
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("rate limiter unavailable, denying", "path", r.URL.Path, "error", err)
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if decision.Allowed {
		return true
	}
	retry := int64(math.Ceil(decision.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", msg)
	return false
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}
