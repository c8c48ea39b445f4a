package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/utilities"
)

// SessionChecker reports whether a device session is still active without
// recording any activity on it.
type SessionChecker interface {
	SessionActive(ctx context.Context, accountID int64, sessionID string) (bool, error)
}

type Handler struct {
	tokens   *TokenService
	sessions SessionChecker
}

func NewHandler(tokens *TokenService, sessions SessionChecker) *Handler {
	return &Handler{tokens: tokens, sessions: sessions}
}

func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"issuer":                                h.tokens.issuer,
		"jwks_uri":                              h.tokens.issuer + "/jwks.json",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.tokens.JWKS())
}

// Introspect follows RFC 7662 for access tokens issued by this service. The
// response is {"active": false} for anything that does not verify or whose
// device session has been revoked.
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}
	token := r.Form.Get("token")
	if token == "" {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	p, err := h.tokens.Parse(token)
	if err != nil {
		_ = json.NewEncoder(w).Encode(map[string]any{"active": false})
		return
	}
	active, err := h.sessions.SessionActive(r.Context(), p.AccountID, p.SessionID)
	if err != nil && errors.Is(err, utilities.ErrDependencyUnavailable) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "temporarily unavailable, retry later"})
		return
	}
	if err != nil || !active {
		_ = json.NewEncoder(w).Encode(map[string]any{"active": false})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"active":     true,
		"sub":        strconv.FormatInt(p.AccountID, 10),
		"sid":        p.SessionID,
		"iss":        h.tokens.issuer,
		"token_type": "access_token",
	})
}
