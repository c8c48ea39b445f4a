package account

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/auth"
	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/utilities"
)

// Handler exposes HTTP endpoints for signup, login and device sessions.
type Handler struct {
	svc    *Service
	tokens *auth.TokenService
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, tokens *auth.TokenService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, tokens: tokens, logger: logger}
}

// SignupRequest request body for signup endpoint.
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupResponse struct {
	ID    int64  `json:"id,string"`
	Email string `json:"email"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !h.decode(w, r, "signup", &req) {
		return
	}
	a, err := h.svc.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, "signup", err)
		return
	}
	writeJSON(w, http.StatusCreated, SignupResponse{ID: a.ID, Email: a.Email})
}

// maxBodyBytes caps signup and login payloads.
const maxBodyBytes = 16 << 10

// decode reads a JSON body of at most maxBodyBytes into v and writes the error
// response itself when that fails.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil {
		return true
	}
	h.logger.Debugw("invalid "+op+" payload", "err", err)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
		return false
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	return false
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string        `json:"email"`
	Password string        `json:"password"`
	Device   entity.Device `json:"device"`
}

type LoginResponse struct {
	AccessToken      string               `json:"access_token"`
	TokenType        string               `json:"token_type"`
	ExpiresAt        time.Time            `json:"expires_at"`
	Session          entity.DeviceSession `json:"session"`
	EvictedSessionID string               `json:"evicted_session_id,omitempty"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, "login", &req) {
		return
	}
	req.Device.IPAddress = r.RemoteAddr
	req.Device.UserAgent = r.UserAgent()
	res, err := h.svc.Authenticate(r.Context(), req.Email, req.Password, req.Device)
	if err != nil {
		h.writeError(w, "login", err)
		return
	}
	tok, exp, err := h.tokens.Issue(res.Account.ID, res.Session.ID, time.Now())
	if err != nil {
		h.logger.Warnw("token signing failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}
	out := LoginResponse{AccessToken: tok, TokenType: "Bearer", ExpiresAt: exp, Session: res.Session}
	if res.Evicted != nil {
		out.EvictedSessionID = res.Evicted.ID
	}
	writeJSON(w, http.StatusOK, out)
}

// Logout revokes the session the request token was issued for.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing_token"})
		return
	}
	if err := h.svc.Revoke(r.Context(), p.AccountID, p.SessionID); err != nil {
		h.writeError(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionView struct {
	entity.DeviceSession
	Current bool `json:"current"`
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing_token"})
		return
	}
	sessions, err := h.svc.Sessions(r.Context(), p.AccountID)
	if err != nil {
		h.writeError(w, "list sessions", err)
		return
	}
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionView{DeviceSession: s, Current: s.ID == p.SessionID})
	}
	writeJSON(w, http.StatusOK, out)
}

// RevokeSession signs out another device of the same account.
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing_token"})
		return
	}
	if err := h.svc.Revoke(r.Context(), p.AccountID, r.PathValue("id")); err != nil {
		h.writeError(w, "revoke session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var locked *AccountLockedError
	switch {
	case errors.As(err, &locked):
		writeJSON(w, http.StatusLocked, map[string]any{"error": "account locked", "locked_until": locked.Until.UTC()})
	case errors.Is(err, ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	case errors.Is(err, ErrSessionLimitExceeded):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "device session limit reached"})
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrAccountNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, ErrEmailTaken):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrPasswordTooShort), errors.Is(err, ErrInvalidDevice):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, utilities.ErrDependencyUnavailable):
		h.logger.Warnw(op+" failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable, retry later"})
	default:
		h.logger.Warnw(op+" failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": op + " failed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
