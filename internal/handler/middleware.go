package handler

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/shepherd-cms/identity/internal/repository"
)

const maxAuditedBody = 64 << 10

// pendingAllowed is the explicit capability table for the pending-mutation
// guard: operation identifier -> allowed while PENDING. Anything absent
// defaults to not allowed. Credential self-service stays open to pending
// accounts; everything else mutating does not.
var pendingAllowed = map[string]bool{
	"POST /auth/logout":           true,
	"POST /auth/mfa/setup":        true,
	"POST /auth/mfa/verify":       true,
	"PATCH /auth/password/change": true,
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// requireAuth validates the bearer access token and attaches the caller to
// the context. Requests without a valid authenticated identity are rejected
// before any other guard runs.
func (h *HTTPHandler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := extractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			respondError(w, http.StatusForbidden, "authentication required")
			return
		}

		claims, err := h.tokens.ValidateAccess(raw)
		if err != nil {
			respondError(w, http.StatusForbidden, "authentication required")
			return
		}

		role, err := repository.ParseRole(claims.Role)
		if err != nil {
			respondError(w, http.StatusForbidden, "authentication required")
			return
		}
		status, err := repository.ParseStatus(claims.Status)
		if err != nil {
			respondError(w, http.StatusForbidden, "authentication required")
			return
		}

		user := AuthUser{ID: claims.Subject, Email: claims.Email, Role: role, Status: status}

		// Pending-mutation guard: PENDING callers may read but not mutate,
		// unless the operation is listed in the capability table.
		if status == repository.StatusPending && isMutation(r.Method) && !pendingAllowed[operationID(r)] {
			respondError(w, http.StatusForbidden, "account is pending approval; read-only access")
			return
		}

		next(w, r.WithContext(ContextWithAuthUser(r.Context(), user)))
	}
}

// requireRole rejects callers whose role is outside the allow-list. It runs
// after requireAuth, so an absent caller is already rejected.
func (h *HTTPHandler) requireRole(next http.HandlerFunc, roles ...repository.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := AuthUserFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusForbidden, "authentication required")
			return
		}
		for _, role := range roles {
			if user.Role == role {
				next(w, r)
				return
			}
		}
		respondError(w, http.StatusForbidden, "insufficient role")
	}
}

// audited records a best-effort audit entry after the handler completes.
// The entry is emitted on the handling path regardless of outcome and can
// never fail the request.
func (h *HTTPHandler) audited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(io.LimitReader(r.Body, maxAuditedBody))
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		next(w, r)

		user, ok := AuthUserFromContext(r.Context())
		if !ok || !isMutation(r.Method) {
			return
		}

		entry := &repository.AuditEntry{
			UserID:       user.ID,
			Action:       strings.ReplaceAll(operationID(r), " ", "_"),
			ResourceType: resourceType(r.URL.Path),
			Details:      h.redact(body),
		}
		if id := r.PathValue("id"); id != "" {
			entry.ResourceID = &id
		}
		if ip := clientIP(r); ip != "" {
			entry.IPAddress = &ip
		}
		if ua := r.UserAgent(); ua != "" {
			entry.UserAgent = &ua
		}

		h.audit.Record(entry)
	}
}

// operationID identifies the operation by its registered route pattern,
// falling back to the raw path for unmatched requests.
func operationID(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.Method + " " + r.URL.Path
}

func resourceType(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "unknown"
	}
	return parts[0]
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", errMissingBearer
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", errMissingBearer
	}
	return token, nil
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
