package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"careadmin/internal/auth"
	"careadmin/internal/session"
	"careadmin/internal/transport/http/shared"
	dErrors "careadmin/pkg/domain-errors"
	"careadmin/pkg/requestcontext"
)

// AuthHandler serves login and logout. Logout evicts the session record so
// the subject's next request starts a fresh session.
type AuthHandler struct {
	service  *auth.Service
	sessions session.Tracker
	logger   *slog.Logger
}

func NewAuthHandler(service *auth.Service, sessions session.Tracker, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: service, sessions: sessions, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.Email == "" || req.Password == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "email and password are required"))
		return
	}

	u, token, err := h.service.Login(ctx, req.Email, req.Password)
	if err != nil {
		h.logger.WarnContext(ctx, "login failed",
			"email", req.Email,
			"request_id", requestcontext.RequestID(ctx),
		)
		shared.WriteError(w, err)
		return
	}

	// Start the inactivity window now and annotate the record so the sessions
	// listing can show what device logged in.
	if _, err := h.sessions.Check(ctx, u.ID); err != nil {
		h.logger.ErrorContext(ctx, "could not create session record", "error", err)
	}
	if ua := requestcontext.UserAgent(ctx); ua != "" {
		_ = h.sessions.SetUserAgent(ctx, u.ID, ua)
	}

	shared.WriteJSON(w, http.StatusOK, loginResponse{Token: token, Name: u.Name, Role: u.Role})
}

func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := requestcontext.Subject(ctx)
	if subject.ID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "not authenticated"))
		return
	}

	if err := h.sessions.Evict(ctx, subject.ID); err != nil {
		h.logger.ErrorContext(ctx, "could not evict session",
			"error", err,
			"subject_id", subject.ID,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "logout failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
