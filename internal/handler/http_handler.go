package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/shepherd-cms/identity/internal/audit"
	"github.com/shepherd-cms/identity/internal/obs"
	"github.com/shepherd-cms/identity/internal/repository"
	"github.com/shepherd-cms/identity/internal/service"
	tokenpkg "github.com/shepherd-cms/identity/pkg/token"
)

var errMissingBearer = errors.New("missing bearer token")

// HTTPHandler exposes the REST surface of the identity service.
type HTTPHandler struct {
	auth         *service.AuthService
	registration *service.RegistrationService
	users        *service.UserService
	tokens       *tokenpkg.Manager
	audit        *audit.Dispatcher
	log          zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	auth *service.AuthService,
	registration *service.RegistrationService,
	users *service.UserService,
	tokens *tokenpkg.Manager,
	auditDispatcher *audit.Dispatcher,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		auth:         auth,
		registration: registration,
		users:        users,
		tokens:       tokens,
		audit:        auditDispatcher,
		log:          log,
	}
}

// Routes builds the request mux. Public endpoints carry no guard; protected
// endpoints run authn (which includes the pending-mutation guard) and audit;
// administrative endpoints additionally require role membership.
func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", h.register)
	mux.HandleFunc("POST /auth/verify-email", h.verifyEmail)
	mux.HandleFunc("POST /auth/resend-verification", h.resendVerification)
	mux.HandleFunc("POST /auth/login", h.login)
	mux.HandleFunc("POST /auth/refresh", h.refresh)
	mux.HandleFunc("POST /auth/forgot-password", h.forgotPassword)
	mux.HandleFunc("POST /auth/reset-password", h.resetPassword)

	mux.HandleFunc("POST /auth/mfa/setup", h.requireAuth(h.audited(h.setupMFA)))
	mux.HandleFunc("POST /auth/mfa/verify", h.requireAuth(h.audited(h.verifyMFA)))
	mux.HandleFunc("PATCH /auth/password/change", h.requireAuth(h.audited(h.changePassword)))
	mux.HandleFunc("POST /auth/logout", h.requireAuth(h.audited(h.logout)))
	mux.HandleFunc("GET /auth/me", h.requireAuth(h.me))

	admins := []repository.Role{repository.RoleSuperAdmin, repository.RoleAdmin}
	mux.HandleFunc("GET /users", h.requireAuth(h.requireRole(h.listUsers, admins...)))
	mux.HandleFunc("POST /users", h.requireAuth(h.requireRole(h.audited(h.createUser), admins...)))
	mux.HandleFunc("GET /users/{id}", h.requireAuth(h.requireRole(h.getUser, admins...)))
	mux.HandleFunc("PATCH /users/{id}/approve", h.requireAuth(h.requireRole(h.audited(h.approveUser), admins...)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", obs.Handler())

	return obs.Instrument(mux)
}

func (h *HTTPHandler) redact(body []byte) []byte {
	return audit.Redact(body)
}

func (h *HTTPHandler) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Phone     string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateEmail(req.Email); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validatePassword(req.Password); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateName("firstName", req.FirstName); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateName("lastName", req.LastName); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.registration.Register(r.Context(), &service.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		obs.CountRegistration(registrationOutcome(err))
		respondServiceError(w, err)
		return
	}
	obs.CountRegistration("success")
	respondJSON(w, http.StatusCreated, resp)
}

func registrationOutcome(err error) string {
	if errors.Is(err, service.ErrDuplicateEmail) {
		return "duplicate_email"
	}
	return "error"
}

func (h *HTTPHandler) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateEmail(req.Email); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ack, err := h.registration.ResendVerification(r.Context(), req.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": ack})
}

func (h *HTTPHandler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := h.registration.VerifyEmail(r.Context(), req.Token); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "email verified"})
}

func (h *HTTPHandler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		MFACode  string `json:"mfaCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateEmail(req.Email); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password == "" {
		respondError(w, http.StatusBadRequest, "password is required")
		return
	}

	resp, err := h.auth.Login(r.Context(), &service.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		MFACode:  req.MFACode,
	})
	if err != nil {
		obs.CountLogin(loginOutcome(err))
		respondServiceError(w, err)
		return
	}
	obs.CountLogin("success")
	respondJSON(w, http.StatusOK, resp)
}

func loginOutcome(err error) string {
	switch {
	case errors.Is(err, service.ErrMFARequired):
		return "mfa_required"
	case errors.Is(err, service.ErrInvalidMFACode):
		return "invalid_mfa_code"
	case errors.Is(err, service.ErrEmailNotVerified):
		return "email_not_verified"
	case errors.Is(err, service.ErrInvalidCredentials):
		return "invalid_credentials"
	}
	return "error"
}

func (h *HTTPHandler) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	resp, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		obs.CountRefresh(refreshOutcome(err))
		respondServiceError(w, err)
		return
	}
	obs.CountRefresh("success")
	respondJSON(w, http.StatusOK, resp)
}

func refreshOutcome(err error) string {
	if errors.Is(err, service.ErrInvalidToken) {
		return "invalid_token"
	}
	return "error"
}

func (h *HTTPHandler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateEmail(req.Email); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ack, err := h.registration.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": ack})
}

func (h *HTTPHandler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := validatePassword(req.NewPassword); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.registration.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "password reset"})
}

func (h *HTTPHandler) setupMFA(w http.ResponseWriter, r *http.Request) {
	user, _ := AuthUserFromContext(r.Context())

	enrollment, err := h.auth.SetupMFA(r.Context(), user.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"secret":          enrollment.Secret,
		"provisioningUri": enrollment.ProvisioningURI,
		"qrCode":          enrollment.QRCodePNG,
	})
}

func (h *HTTPHandler) verifyMFA(w http.ResponseWriter, r *http.Request) {
	user, _ := AuthUserFromContext(r.Context())

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := h.auth.VerifyMFA(r.Context(), user.ID, req.Code); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "mfa enabled"})
}

func (h *HTTPHandler) changePassword(w http.ResponseWriter, r *http.Request) {
	user, _ := AuthUserFromContext(r.Context())

	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OldPassword == "" {
		respondError(w, http.StatusBadRequest, "oldPassword is required")
		return
	}
	if err := validatePassword(req.NewPassword); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.auth.ChangePassword(r.Context(), user.ID, req.OldPassword, req.NewPassword); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}

func (h *HTTPHandler) logout(w http.ResponseWriter, r *http.Request) {
	user, _ := AuthUserFromContext(r.Context())

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	if err := h.auth.Logout(r.Context(), user.ID, req.RefreshToken); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *HTTPHandler) me(w http.ResponseWriter, r *http.Request) {
	user, _ := AuthUserFromContext(r.Context())

	summary, err := h.auth.Me(r.Context(), user.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *HTTPHandler) listUsers(w http.ResponseWriter, r *http.Request) {
	var status repository.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := repository.ParseStatus(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	users, err := h.users.ListUsers(r.Context(), status, page, pageSize)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	summaries := make([]*service.UserSummary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, h.summaryOf(u))
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": summaries})
}

func (h *HTTPHandler) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Phone     string `json:"phone"`
		Role      string `json:"role"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateEmail(req.Email); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validatePassword(req.Password); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	role, err := repository.ParseRole(req.Role)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status repository.Status
	if req.Status != "" {
		status, err = repository.ParseStatus(req.Status)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	user, err := h.users.CreateUser(r.Context(), &service.CreateUserRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Role:      role,
		Status:    status,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.summaryOf(user))
}

func (h *HTTPHandler) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.summaryOf(user))
}

func (h *HTTPHandler) approveUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.registration.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.summaryOf(user))
}

// summaryOf builds the caller-facing view of a stored user without secrets.
// Phone stays encrypted here; only /auth/me decrypts its own phone.
func (h *HTTPHandler) summaryOf(u *repository.User) *service.UserSummary {
	return &service.UserSummary{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          u.Role,
		Status:        u.Status,
		EmailVerified: u.EmailVerified,
		MFAEnabled:    u.MFAEnabled,
		LastLoginAt:   u.LastLoginAt,
	}
}
