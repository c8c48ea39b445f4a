package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Config struct {
	Issuer   string
	Audience string
	TTL      time.Duration
	// KeyFile is a PEM encoded RSA private key. A fresh key is generated when
	// empty, which invalidates tokens on restart.
	KeyFile string
}

// ConfigFromEnv reads AUTH_ISSUER, AUTH_AUDIENCE, AUTH_TOKEN_TTL and
// AUTH_SIGNING_KEY_FILE.
func ConfigFromEnv() Config {
	cfg := Config{
		Issuer:   os.Getenv("AUTH_ISSUER"),
		Audience: os.Getenv("AUTH_AUDIENCE"),
		TTL:      15 * time.Minute,
		KeyFile:  os.Getenv("AUTH_SIGNING_KEY_FILE"),
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "http://localhost:8431/streaming-core"
	}
	if cfg.Audience == "" {
		cfg.Audience = "streaming-clients"
	}
	if v := os.Getenv("AUTH_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TTL = d
		}
	}
	return cfg
}

// Claims carried by access tokens. Subject is the account id, SessionID the
// device session the token was issued for.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// TokenService signs and verifies RS256 access tokens.
type TokenService struct {
	key      *rsa.PrivateKey
	kid      string
	issuer   string
	audience string
	ttl      time.Duration
}

func NewTokenService(cfg Config) (*TokenService, error) {
	var (
		k   *rsa.PrivateKey
		err error
	)
	if cfg.KeyFile != "" {
		pem, rerr := os.ReadFile(cfg.KeyFile)
		if rerr != nil {
			return nil, fmt.Errorf("read signing key: %w", rerr)
		}
		k, err = jwt.ParseRSAPrivateKeyFromPEM(pem)
	} else {
		k, err = rsa.GenerateKey(rand.Reader, 2048)
	}
	if err != nil {
		return nil, err
	}
	return newTokenService(k, cfg), nil
}

func newTokenService(k *rsa.PrivateKey, cfg Config) *TokenService {
	// kid: base64 of SHA256 of public key
	pubBytes, _ := json.Marshal(k.PublicKey)
	h := sha256.Sum256(pubBytes)
	kid := base64.RawURLEncoding.EncodeToString(h[:8])
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenService{key: k, kid: kid, issuer: cfg.Issuer, audience: cfg.Audience, ttl: ttl}
}

func (s *TokenService) Issuer() string { return s.issuer }

// Issue signs an access token for the account and device session.
func (s *TokenService) Issue(accountID int64, sessionID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(accountID, 10),
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		SessionID: sessionID,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse verifies signature, issuer, audience and expiry and returns the
// principal the token was issued for.
func (s *TokenService) Parse(token string) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return &s.key.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || claims.SessionID == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{AccountID: id, SessionID: claims.SessionID}, nil
}

// JWKS returns a minimal JWKS containing the public key.
func (s *TokenService) JWKS() map[string]any {
	pub := s.key.PublicKey
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	// encode exponent using big.Int to get minimal big-endian bytes
	e := base64.RawURLEncoding.EncodeToString(new(big.Int).SetInt64(int64(pub.E)).Bytes())
	jwk := map[string]any{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": s.kid,
		"n":   n,
		"e":   e,
	}
	return map[string]any{"keys": []any{jwk}}
}
