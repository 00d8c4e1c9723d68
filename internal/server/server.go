package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"storerate/internal/app"
	"storerate/internal/metrics"
	"storerate/internal/ratelimit"
	"storerate/internal/util"
	"storerate/pkg/auth"
	"storerate/pkg/domain"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server. A nil limiter
// disables rate limiting for its route group.
type Config struct {
	App                *app.App
	Metrics            *metrics.Metrics
	SignupLimiter      ratelimit.Limiter
	LoginLimiter       ratelimit.Limiter
	PasswordLimiter    ratelimit.Limiter
	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
}

// Server exposes the store rating API over HTTP.
type Server struct {
	app             *app.App
	metrics         *metrics.Metrics
	mux             *http.ServeMux
	signupLimiter   ratelimit.Limiter
	loginLimiter    ratelimit.Limiter
	passwordLimiter ratelimit.Limiter
	trusted         *util.TrustedProxies
	corsOrigins     []string
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:             cfg.App,
		metrics:         cfg.Metrics,
		mux:             http.NewServeMux(),
		signupLimiter:   cfg.SignupLimiter,
		loginLimiter:    cfg.LoginLimiter,
		passwordLimiter: cfg.PasswordLimiter,
		trusted:         cfg.TrustedProxies,
		corsOrigins:     cfg.CORSAllowedOrigins,
	}
	s.routes()
	return s
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = s.metrics.Instrument(h)
	h = util.WithRequestLog(h)
	h = util.WithRequestID(h)
	h = util.WithCORS(s.corsOrigins, h)
	return util.WithSecurityHeaders(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/.well-known/jwks.json", s.handleJWKS)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	// auth
	s.mux.HandleFunc("/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/auth/logout", s.handleLogout)

	// admin
	s.mux.Handle("/admin/dashboard", s.adminOnly(s.handleAdminDashboard))
	s.mux.Handle("/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/admin/users/", s.adminOnly(s.handleAdminUserByID))
	s.mux.Handle("/admin/stores", s.adminOnly(s.handleAdminStores))
	s.mux.Handle("/admin/stores/", s.adminOnly(s.handleAdminStoreByID))

	// owner
	s.mux.Handle("/owner/dashboard", s.ownerOnly(s.handleOwnerDashboard))
	s.mux.Handle("/owner/update-password", s.ownerOnly(s.handleUpdatePassword))

	// stores and user (any signed-in role)
	s.mux.Handle("/stores", s.authenticated(s.handleListStores))
	s.mux.Handle("/stores/", s.authenticated(s.handleStoreSubtree))
	s.mux.Handle("/user/stores", s.authenticated(s.handleListStores))
	s.mux.Handle("/user/rate/", s.authenticated(s.handleUserRate))
	s.mux.Handle("/user/update-password", s.authenticated(s.handleUpdatePassword))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "storerate-api"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	keys := s.app.JWKS()
	if keys == nil {
		writeError(w, http.StatusNotFound, "jwks not available")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.Principal)

func (s *Server) authenticated(next authHandler) http.Handler {
	return s.withRoles(auth.AnyRole, "authorize", next)
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.withRoles(auth.AdminOnly, "admin.authorize", next)
}

func (s *Server) ownerOnly(next authHandler) http.Handler {
	return s.withRoles(auth.OwnerOnly, "owner.authorize", next)
}

func (s *Server) withRoles(allowed auth.RoleSet, event string, next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, event, "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		p, err := s.app.Authenticate(token)
		if err != nil {
			if app.KindOf(err) != app.KindUnauthenticated {
				s.audit(r, event, "fail", "reason", "session_backend")
				s.writeAppError(w, r, err)
				return
			}
			s.audit(r, event, "fail", "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := app.RequireRole(p, allowed); err != nil {
			s.audit(r, event, "fail", "user_id", p.ID, "role", string(p.Role), "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, p)
	})
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "signup", "too many signup attempts") {
		s.audit(r, "signup", "rate_limited")
		return
	}
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "signup", "fail", "reason", "invalid_json")
		return
	}
	account, err := s.app.SignUp(app.SignUpInput{
		Name:     req.Name,
		Email:    req.Email,
		Address:  req.Address,
		Password: req.Password,
	})
	if err != nil {
		s.audit(r, "signup", "fail", "reason", auditReason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "signup", "success", "user_id", account.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"id": account.ID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "login", "too many login attempts") {
		s.audit(r, "login", "rate_limited")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "login", "fail", "reason", "invalid_json")
		return
	}
	token, p, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "login", "fail", "reason", auditReason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "login", "success", "user_id", p.ID)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: p})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "logout", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(token); err != nil {
		s.audit(r, "logout", "fail", "reason", "revoke_failed")
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

// store browsing
func (s *Server) handleListStores(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stores, err := s.app.ListStores(p, storeQuery(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stores)
}

// handleStoreSubtree serves /stores/me/password and /stores/{id}/rate.
func (s *Server) handleStoreSubtree(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/stores/"), "/")
	parts := strings.Split(rest, "/")
	switch {
	case rest == "me/password":
		s.handleResetPassword(w, r, p)
	case len(parts) == 2 && parts[0] != "" && parts[1] == "rate":
		s.rate(w, r, p, parts[0])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleUserRate(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	storeID := strings.TrimPrefix(r.URL.Path, "/user/rate/")
	if storeID == "" || strings.Contains(storeID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.rate(w, r, p, storeID)
}

func (s *Server) rate(w http.ResponseWriter, r *http.Request, p domain.Principal, storeID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req rateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	score, ok := parseScore(req.Score)
	if !ok {
		s.metrics.RatingSubmitted("rejected")
		s.writeAppError(w, r, app.ValidateScore(0))
		return
	}
	rating, err := s.app.SubmitRating(p, storeID, score)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.passwordLimiter, "password", "too many password change attempts") {
		s.audit(r, "password.reset", "rate_limited", "user_id", p.ID)
		return
	}
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.ResetPassword(p.ID, req.Password); err != nil {
		s.audit(r, "password.reset", "fail", "user_id", p.ID, "reason", auditReason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "password.reset", "success", "user_id", p.ID)
	writeJSON(w, http.StatusOK, passwordUpdatedResponse())
}

func (s *Server) handleUpdatePassword(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.passwordLimiter, "password", "too many password change attempts") {
		s.audit(r, "password.change", "rate_limited", "user_id", p.ID)
		return
	}
	var req updatePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.UpdatePassword(p.ID, req.OldPassword, req.NewPassword); err != nil {
		s.audit(r, "password.change", "fail", "user_id", p.ID, "reason", auditReason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "password.change", "success", "user_id", p.ID)
	writeJSON(w, http.StatusOK, passwordUpdatedResponse())
}

func (s *Server) handleOwnerDashboard(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stores, err := s.app.OwnerDashboard(p.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stores)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Address  string `json:"address"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string           `json:"token"`
	User  domain.Principal `json:"user"`
}

type rateRequest struct {
	Score json.RawMessage `json:"score"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type updatePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func passwordUpdatedResponse() map[string]any {
	return map[string]any{"ok": true, "message": "Password updated successfully"}
}

func storeQuery(r *http.Request) app.StoreQuery {
	q := r.URL.Query()
	return app.StoreQuery{
		Name:    q.Get("name"),
		Address: q.Get("address"),
		SortBy:  q.Get("sortBy"),
		Order:   q.Get("order"),
	}
}

// parseScore accepts a bare JSON integer. Strings, fractions and missing
// values are rejected.
func parseScore(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || v < math.MinInt32 || v > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid JSON body",
			"fields": []app.FieldError{{Field: "body", Message: "Request body must be a valid JSON object"}},
		})
		return false
	}
	return true
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError answers err with the status of its kind. Unexpected errors
// are logged and hidden behind a generic message.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *app.ValidationError
	if errors.As(err, &verr) {
		msg := "validation failed"
		if len(verr.Fields) > 0 {
			msg = verr.Fields[0].Message
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg, "fields": verr.Fields})
		return
	}
	switch app.KindOf(err) {
	case app.KindUnauthenticated:
		if errors.Is(err, app.ErrUnauthenticated) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeError(w, http.StatusUnauthorized, err.Error())
	case app.KindForbidden:
		writeError(w, http.StatusForbidden, err.Error())
	case app.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case app.KindConflict:
		writeError(w, http.StatusConflict, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func auditReason(err error) string {
	switch app.KindOf(err) {
	case app.KindValidation:
		return "invalid_input"
	case app.KindUnauthenticated:
		return "invalid_credentials"
	case app.KindConflict:
		return "conflict"
	case app.KindNotFound:
		return "not_found"
	case app.KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// allowRate records one hit against limiter for the caller's address. Limiter
// failures reject the request.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, scope, msg string) bool {
	if limiter == nil {
		return true
	}
	decision, err := limiter.Allow(r.Context(), scope, util.ClientIP(r, s.trusted))
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("rate limiter unavailable", "scope", scope, "err", err)
	}
	if err == nil && decision.Allowed {
		return true
	}
	s.metrics.RateLimited(scope)
	retry := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
