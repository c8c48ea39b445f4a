package geo

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProxyAware(t *testing.T, cfg ProxyConfig) *ProxyAwareResolver {
	t.Helper()
	tr, err := NewTableResolver(strings.NewReader(table))
	require.NoError(t, err)
	return NewProxyAwareResolver(tr, cfg)
}

func origin(remote string, kv ...string) Origin {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return Origin{RemoteAddr: remote, Header: h}
}

func TestProxyAwareResolver(t *testing.T) {
	proxies := []string{"192.0.2.0/24", "198.51.100.7"}
	var cfg ProxyConfig
	for _, p := range proxies {
		pfx, err := parsePrefix(p)
		require.NoError(t, err)
		cfg.Trusted = append(cfg.Trusted, pfx)
	}
	cfg.CountryHeader = "cf-ipcountry"
	r := newProxyAware(t, cfg)
	ctx := context.Background()

	cases := []struct {
		name string
		in   Origin
		want string
	}{
		{"direct connection uses peer", origin("10.20.1.1:443"), "FR"},
		{"untrusted peer headers ignored", origin("10.1.1.1:443", "CF-IPCountry", "JP", "X-Forwarded-For", "10.20.1.1"), "US"},
		{"trusted proxy country header", origin("192.0.2.10:443", "CF-IPCountry", "jp"), "JP"},
		{"unknown country header falls back to forwarded for", origin("192.0.2.10:443", "CF-IPCountry", "XX", "X-Forwarded-For", "10.20.1.1"), "FR"},
		{"right-most untrusted hop wins", origin("192.0.2.10:443", "X-Forwarded-For", "10.1.1.1, 10.20.1.1, 198.51.100.7"), "FR"},
		{"split headers are joined", origin("198.51.100.7:80", "X-Forwarded-For", "2001:db8::9", "X-Forwarded-For", "192.0.2.1"), "DE"},
		{"malformed hop gives up on header", origin("192.0.2.10:443", "X-Forwarded-For", "garbage"), ""},
		{"all hops trusted uses peer", origin("192.0.2.10:443", "X-Forwarded-For", "192.0.2.11"), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Country(ctx, tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestProxyAwareResolverWithoutProxies(t *testing.T) {
	r := newProxyAware(t, ProxyConfig{CountryHeader: "CF-IPCountry"})
	got, err := r.Country(context.Background(), origin("10.1.2.3:80", "CF-IPCountry", "FR"))
	require.NoError(t, err)
	assert.Equal(t, "US", got, "headers from arbitrary clients are not believed")
}

func TestProxyConfigFromEnv(t *testing.T) {
	t.Setenv("GEO_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1 ,")
	t.Setenv("GEO_COUNTRY_HEADER", "CF-IPCountry")
	cfg, err := ProxyConfigFromEnv()
	require.NoError(t, err)
	require.Len(t, cfg.Trusted, 2)
	assert.Equal(t, 32, cfg.Trusted[1].Bits())
	assert.Equal(t, "CF-IPCountry", cfg.CountryHeader)

	t.Setenv("GEO_TRUSTED_PROXIES", "10.0.0.0/40")
	_, err = ProxyConfigFromEnv()
	assert.Error(t, err)

	_, err = ConfigFromEnv()
	assert.Error(t, err)
}

func TestNewWithoutTableStillReadsHeader(t *testing.T) {
	pfx, err := parsePrefix("192.0.2.0/24")
	require.NoError(t, err)
	r, err := New(Config{Proxy: ProxyConfig{Trusted: []netip.Prefix{pfx}, CountryHeader: "CF-IPCountry"}})
	require.NoError(t, err)

	got, err := r.Country(context.Background(), origin("192.0.2.9:1", "CF-IPCountry", "BR"))
	require.NoError(t, err)
	assert.Equal(t, "BR", got)

	got, err = r.Country(context.Background(), origin("203.0.113.1:1"))
	require.NoError(t, err)
	assert.Empty(t, got)
}
