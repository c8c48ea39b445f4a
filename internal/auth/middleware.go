package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/utilities"
)

// Principal identifies the authenticated account and device session.
type Principal struct {
	AccountID int64
	SessionID string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal set by the middleware, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// SessionToucher confirms that the device session behind a token is still
// active and records the activity.
type SessionToucher interface {
	Touch(ctx context.Context, accountID int64, sessionID string) error
}

// Middleware authenticates bearer tokens. With required unset, requests
// without an Authorization header pass through anonymously; a header that is
// present must still be valid.
func Middleware(tokens *TokenService, sessions SessionToucher, logger *zap.SugaredLogger, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok {
				if required {
					writeError(w, http.StatusUnauthorized, "missing_token")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			p, err := tokens.Parse(raw)
			if err != nil {
				logger.Debugw("token rejected", "err", err)
				writeError(w, http.StatusUnauthorized, "invalid_token")
				return
			}
			if err := sessions.Touch(r.Context(), p.AccountID, p.SessionID); err != nil {
				if errors.Is(err, utilities.ErrDependencyUnavailable) {
					logger.Warnw("session check failed", "account_id", p.AccountID, "err", err)
					writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry later")
					return
				}
				logger.Debugw("session no longer active", "account_id", p.AccountID, "session_id", p.SessionID, "err", err)
				writeError(w, http.StatusUnauthorized, "session_revoked")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < len("bearer ") || !strings.EqualFold(h[:len("bearer ")], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[len("bearer "):])
	return tok, tok != ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
