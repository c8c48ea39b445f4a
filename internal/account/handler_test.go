package account

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/auth"
)

func newTestHandler(t *testing.T, p Policy) (*Handler, *Service, *auth.TokenService) {
	t.Helper()
	svc, _, _ := newTestService(t, p)
	tokens, err := auth.NewTokenService(auth.Config{Issuer: "http://test", Audience: "clients"})
	require.NoError(t, err)
	return NewHandler(svc, tokens, zap.NewNop().Sugar()), svc, tokens
}

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestSignupAndLoginHandlers(t *testing.T) {
	h, _, tokens := newTestHandler(t, testPolicy())

	rec := post(h.Signup, `{"email":"viewer@example.com","password":"correct horse"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = post(h.Signup, `{"email":"viewer@example.com","password":"correct horse"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = post(h.Login, `{"email":"viewer@example.com","password":"correct horse","device":{"id":"tv-1","type":"tv","name":"Living room"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var out LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "Bearer", out.TokenType)
	assert.Equal(t, "tv-1", out.Session.DeviceID)

	p, err := tokens.Parse(out.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, out.Session.ID, p.SessionID)
}

func TestLoginHandlerErrorMapping(t *testing.T) {
	p := testPolicy()
	p.Sessions = SessionPolicy{MaxSessions: 1, Overflow: OverflowReject}
	h, _, _ := newTestHandler(t, p)
	require.Equal(t, http.StatusCreated, post(h.Signup, `{"email":"viewer@example.com","password":"correct horse"}`).Code)

	assert.Equal(t, http.StatusBadRequest, post(h.Login, `{`).Code)
	assert.Equal(t, http.StatusBadRequest, post(h.Login, `{"email":"viewer@example.com","password":"correct horse","device":{"id":"x"}}`).Code)

	require.Equal(t, http.StatusOK, post(h.Login, `{"email":"viewer@example.com","password":"correct horse","device":{"id":"a","type":"web"}}`).Code)
	assert.Equal(t, http.StatusConflict, post(h.Login, `{"email":"viewer@example.com","password":"correct horse","device":{"id":"b","type":"web"}}`).Code)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusUnauthorized, post(h.Login, `{"email":"viewer@example.com","password":"nope","device":{"id":"a","type":"web"}}`).Code)
	}
	rec := post(h.Login, `{"email":"viewer@example.com","password":"correct horse","device":{"id":"a","type":"web"}}`)
	require.Equal(t, http.StatusLocked, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body["locked_until"])
}

func TestHandlersRejectOversizedBodies(t *testing.T) {
	h, svc, _ := newTestHandler(t, testPolicy())
	huge := `{"email":"viewer@example.com","password":"` + strings.Repeat("x", maxBodyBytes) + `"}`

	assert.Equal(t, http.StatusRequestEntityTooLarge, post(h.Signup, huge).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, post(h.Login, huge).Code)

	_, err := svc.StatusByEmail(t.Context(), "viewer@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSessionHandlers(t *testing.T) {
	h, svc, _ := newTestHandler(t, testPolicy())
	a := signup(t, svc)
	phone, err := svc.Authenticate(t.Context(), a.Email, password, webDevice("phone"))
	require.NoError(t, err)
	tv, err := svc.Authenticate(t.Context(), a.Email, password, webDevice("tv"))
	require.NoError(t, err)

	withPrincipal := func(r *http.Request, sid string) *http.Request {
		return r.WithContext(auth.WithPrincipal(r.Context(), auth.Principal{AccountID: a.ID, SessionID: sid}))
	}

	rec := httptest.NewRecorder()
	h.ListSessions(rec, withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), phone.Session.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []struct {
		ID      string `json:"id"`
		Current bool   `json:"current"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	require.Len(t, listed, 2)
	assert.True(t, listed[0].Current)
	assert.False(t, listed[1].Current)

	req := withPrincipal(httptest.NewRequest(http.MethodDelete, "/", nil), phone.Session.ID)
	req.SetPathValue("id", tv.Session.ID)
	rec = httptest.NewRecorder()
	h.RevokeSession(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.Logout(rec, withPrincipal(httptest.NewRequest(http.MethodPost, "/", nil), phone.Session.ID))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	sessions, err := svc.Sessions(t.Context(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	rec = httptest.NewRecorder()
	h.Logout(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
