package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"pdfchat/internal/util"
	"pdfchat/pkg/auth"
	"pdfchat/pkg/domain"
	"pdfchat/services/api/internal/app"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// appErrors maps domain sentinels onto HTTP statuses and stable codes.
var appErrors = []errorMapping{
	{app.ErrEmailAndPasswordRequired, http.StatusBadRequest, "VALIDATION_FAILED"},
	{auth.ErrPasswordTooShort, http.StatusBadRequest, "VALIDATION_FAILED"},
	{auth.ErrPasswordTooLong, http.StatusBadRequest, "VALIDATION_FAILED"},
	{app.ErrInvalidMessage, http.StatusBadRequest, "VALIDATION_FAILED"},
	{domain.ErrInvalidPage, http.StatusBadRequest, "INVALID_PAGINATION"},
	{app.ErrUserAlreadyExists, http.StatusConflict, "ACCOUNT_ALREADY_EXISTS"},
	{app.ErrInvalidCredentials, http.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS"},
	{app.ErrInvalidPDFFileType, http.StatusUnsupportedMediaType, "PDF_INVALID_FILE_TYPE"},
	{app.ErrPDFNotFound, http.StatusNotFound, "PDF_NOT_FOUND"},
	{app.ErrPDFAlreadyParsing, http.StatusConflict, "PDF_ALREADY_PARSING"},
	{app.ErrPDFNotParsed, http.StatusConflict, "PDF_NOT_PARSED"},
	{app.ErrSelectionFailed, http.StatusConflict, "PDF_SELECTION_FAILED"},
	{app.ErrNoPDFSelected, http.StatusBadRequest, "CHAT_NO_PDF_SELECTED"},
	{app.ErrPDFNotParsedForChat, http.StatusConflict, "CHAT_PDF_NOT_PARSED"},
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range appErrors {
		if !errors.Is(err, m.target) {
			continue
		}
		if m.status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", `Bearer realm="pdfchat"`)
		}
		writeError(w, m.status, m.code, err.Error())
		return
	}
	util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR", "internal server error")
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="pdfchat"`)
	writeError(w, http.StatusUnauthorized, "AUTH_UNAUTHORIZED", "unauthorized")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}
