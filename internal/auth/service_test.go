package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/utilities"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func newTestTokens(t *testing.T, cfg Config) *TokenService {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return newTokenService(testKey, cfg)
}

func TestIssueAndParse(t *testing.T) {
	s := newTestTokens(t, Config{Issuer: "http://issuer", Audience: "clients", TTL: time.Minute})

	tok, exp, err := s.Issue(42, "sess-1", time.Now())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 2*time.Second)

	p, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, Principal{AccountID: 42, SessionID: "sess-1"}, p)
}

func TestParseRejects(t *testing.T) {
	s := newTestTokens(t, Config{Issuer: "http://issuer", Audience: "clients", TTL: time.Minute})

	expired, _, err := s.Issue(42, "sess-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = s.Parse(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	other := newTestTokens(t, Config{Issuer: "http://other", Audience: "clients"})
	foreign, _, err := other.Issue(42, "sess-1", time.Now())
	require.NoError(t, err)
	_, err = s.Parse(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Parse("not.a.token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenServiceLoadsPEM(t *testing.T) {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.pem")
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

	s, err := NewTokenService(Config{Issuer: "i", Audience: "a", KeyFile: path})
	require.NoError(t, err)
	assert.Equal(t, k.N, s.key.N)

	jwks := s.JWKS()
	keys := jwks["keys"].([]any)
	require.Len(t, keys, 1)
	assert.Equal(t, "RS256", keys[0].(map[string]any)["alg"])
}

type fakeSessions struct {
	err      error
	touched  []string
	revoked  map[string]bool
	checkErr error
}

func (f *fakeSessions) SessionActive(_ context.Context, _ int64, sessionID string) (bool, error) {
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return !f.revoked[sessionID], nil
}

func (f *fakeSessions) Touch(_ context.Context, _ int64, sessionID string) error {
	f.touched = append(f.touched, sessionID)
	return f.err
}

func serve(mw func(http.Handler) http.Handler, header string) (*httptest.ResponseRecorder, *Principal) {
	var seen *Principal
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := FromContext(r.Context()); ok {
			seen = &p
		}
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestMiddleware(t *testing.T) {
	s := newTestTokens(t, Config{Issuer: "http://issuer", Audience: "clients", TTL: time.Minute})
	tok, _, err := s.Issue(7, "sess-7", time.Now())
	require.NoError(t, err)
	logger := zap.NewNop().Sugar()

	sessions := &fakeSessions{}
	required := Middleware(s, sessions, logger, true)
	optional := Middleware(s, sessions, logger, false)

	rec, p := serve(required, "Bearer "+tok)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, p)
	assert.Equal(t, int64(7), p.AccountID)
	assert.Equal(t, []string{"sess-7"}, sessions.touched)

	rec, _ = serve(required, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, p = serve(optional, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, p)

	rec, _ = serve(optional, "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sessions.err = errors.New("device session not found")
	rec, _ = serve(required, "bearer "+tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sessions.err = utilities.Unavailable("touch", errors.New("db down"))
	rec, _ = serve(required, "Bearer "+tok)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIntrospect(t *testing.T) {
	s := newTestTokens(t, Config{Issuer: "http://issuer", Audience: "clients", TTL: time.Minute})
	sessions := &fakeSessions{revoked: map[string]bool{}}
	h := NewHandler(s, sessions)
	tok, _, err := s.Issue(7, "sess-7", time.Now())
	require.NoError(t, err)

	introspect := func(token string) *httptest.ResponseRecorder {
		form := url.Values{"token": {token}}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		h.Introspect(rec, req)
		return rec
	}

	assert.Contains(t, introspect(tok).Body.String(), `"active":true`)
	assert.Contains(t, introspect(tok).Body.String(), `"sub":"7"`)
	assert.Contains(t, introspect("nope").Body.String(), `"active":false`)
	assert.Empty(t, sessions.touched, "introspection records no activity")

	sessions.revoked["sess-7"] = true
	assert.JSONEq(t, `{"active":false}`, introspect(tok).Body.String())

	sessions.checkErr = utilities.Unavailable("load account", errors.New("db down"))
	assert.Equal(t, http.StatusServiceUnavailable, introspect(tok).Code)
}
