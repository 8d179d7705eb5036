package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shepherd-cms/identity/internal/repository"
	"github.com/shepherd-cms/identity/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondServiceError maps service sentinels to stable caller-facing error
// kinds. Anything unrecognized is an internal error; its details stay in the
// log, not the response.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, service.ErrEmailNotVerified):
		respondError(w, http.StatusForbidden, "email not verified")
	case errors.Is(err, service.ErrMFARequired):
		respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "mfa code required", Code: "mfa_required"})
	case errors.Is(err, service.ErrInvalidMFACode):
		respondError(w, http.StatusUnauthorized, "invalid mfa code")
	case errors.Is(err, service.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, service.ErrDuplicateEmail):
		respondError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, service.ErrMFAAlreadyEnabled):
		respondError(w, http.StatusBadRequest, "mfa already enabled")
	case errors.Is(err, service.ErrMFANotSetUp):
		respondError(w, http.StatusBadRequest, "mfa not set up")
	case errors.Is(err, service.ErrAlreadyVerified):
		respondError(w, http.StatusBadRequest, "email already verified")
	case errors.Is(err, service.ErrNotPending):
		respondError(w, http.StatusBadRequest, "account is not pending approval")
	case errors.Is(err, repository.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
