package router

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/auth"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/content"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			// ensure status is set
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", r.Header.Get("X-Request-ID"),
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets the response headers every JSON endpoint of
// this service carries. Responses hold tokens and session data, so they are
// never cached.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=31536000")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDMiddleware tags every request with an X-Request-ID, keeping one
// supplied by the caller.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
				r.Header.Set("X-Request-ID", id)
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r)
		})
	}
}

const prefix = "/streaming-core"

// Deps are the handlers mounted by RegisterRoutes.
type Deps struct {
	Accounts *account.Handler
	Content  *content.Handler
	Auth     *auth.Handler
	Tokens   *auth.TokenService
	Sessions auth.SessionToucher
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, d Deps) http.Handler {
	mux := http.NewServeMux()
	required := auth.Middleware(d.Tokens, d.Sessions, logger, true)
	optional := auth.Middleware(d.Tokens, d.Sessions, logger, false)

	// health
	mux.HandleFunc("GET "+prefix+"/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// token metadata
	mux.HandleFunc("GET "+prefix+"/.well-known/openid-configuration", d.Auth.Discovery)
	mux.HandleFunc("GET "+prefix+"/jwks.json", d.Auth.JWKS)
	mux.HandleFunc("POST "+prefix+"/introspect", d.Auth.Introspect)

	// accounts
	mux.HandleFunc("POST "+prefix+"/accounts/signup", d.Accounts.Signup)
	mux.HandleFunc("POST "+prefix+"/accounts/login", d.Accounts.Login)
	mux.Handle("POST "+prefix+"/accounts/logout", required(http.HandlerFunc(d.Accounts.Logout)))
	mux.Handle("GET "+prefix+"/accounts/sessions", required(http.HandlerFunc(d.Accounts.ListSessions)))
	mux.Handle("DELETE "+prefix+"/accounts/sessions/{id}", required(http.HandlerFunc(d.Accounts.RevokeSession)))

	// content; anonymous viewers are allowed, a token adds the subscription
	mux.Handle("GET "+prefix+"/contents/{id}/access", optional(http.HandlerFunc(d.Content.Access)))
	mux.Handle("GET "+prefix+"/contents/{id}/playback", optional(http.HandlerFunc(d.Content.Playback)))

	return RequestIDMiddleware()(LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux)))
}
