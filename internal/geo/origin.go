package geo

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"strings"
)

// Origin is what a request reveals about where it came from: the peer address
// of the connection and the headers a fronting proxy may have added.
type Origin struct {
	RemoteAddr string
	Header     http.Header
}

// OriginResolver maps a request origin to a country code. "" means unknown.
type OriginResolver interface {
	Country(ctx context.Context, o Origin) (string, error)
}

// ProxyConfig describes the proxies in front of the service. Headers are only
// believed when the connection comes from one of Trusted.
type ProxyConfig struct {
	Trusted       []netip.Prefix
	CountryHeader string
}

// ProxyConfigFromEnv reads GEO_TRUSTED_PROXIES (comma separated CIDRs or
// addresses) and GEO_COUNTRY_HEADER (for example CF-IPCountry).
func ProxyConfigFromEnv() (ProxyConfig, error) {
	cfg := ProxyConfig{CountryHeader: strings.TrimSpace(os.Getenv("GEO_COUNTRY_HEADER"))}
	for _, raw := range strings.Split(os.Getenv("GEO_TRUSTED_PROXIES"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p, err := parsePrefix(raw)
		if err != nil {
			return ProxyConfig{}, fmt.Errorf("GEO_TRUSTED_PROXIES: %w", err)
		}
		cfg.Trusted = append(cfg.Trusted, p)
	}
	return cfg, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	a = a.Unmap()
	return netip.PrefixFrom(a, a.BitLen()), nil
}

// ProxyAwareResolver resolves the viewer behind trusted proxies. For a
// connection from a trusted proxy it prefers the country header, then the
// right-most untrusted X-Forwarded-For address. Any other connection is
// resolved by its own address and its headers are ignored.
type ProxyAwareResolver struct {
	next          Resolver
	trusted       []netip.Prefix
	countryHeader string
}

func NewProxyAwareResolver(next Resolver, cfg ProxyConfig) *ProxyAwareResolver {
	header := ""
	if cfg.CountryHeader != "" {
		header = http.CanonicalHeaderKey(cfg.CountryHeader)
	}
	return &ProxyAwareResolver{next: next, trusted: cfg.Trusted, countryHeader: header}
}

func (p *ProxyAwareResolver) Country(ctx context.Context, o Origin) (string, error) {
	peer, ok := parseAddr(o.RemoteAddr)
	if !ok || !p.isTrusted(peer) {
		return p.next.CountryOf(ctx, o.RemoteAddr)
	}
	if p.countryHeader != "" {
		if code, ok := countryCode(o.Header.Get(p.countryHeader)); ok {
			return code, nil
		}
	}
	if client, ok := p.forwardedClient(o.Header); ok {
		return p.next.CountryOf(ctx, client.String())
	}
	return p.next.CountryOf(ctx, o.RemoteAddr)
}

func (p *ProxyAwareResolver) isTrusted(a netip.Addr) bool {
	for _, pfx := range p.trusted {
		if pfx.Contains(a) {
			return true
		}
	}
	return false
}

// forwardedClient walks X-Forwarded-For from the right, skipping trusted hops.
// Entries left of the first untrusted address were written by the client and
// are not believed.
func (p *ProxyAwareResolver) forwardedClient(h http.Header) (netip.Addr, bool) {
	var hops []string
	for _, v := range h.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		a, ok := parseAddr(hops[i])
		if !ok {
			return netip.Addr{}, false
		}
		if !p.isTrusted(a) {
			return a, true
		}
	}
	return netip.Addr{}, false
}

// countryCode accepts two ASCII letters. XX is the conventional "unknown" value
// of CDN country headers.
func countryCode(v string) (string, bool) {
	v = strings.ToUpper(strings.TrimSpace(v))
	if len(v) != 2 || v == "XX" {
		return "", false
	}
	for i := 0; i < 2; i++ {
		if v[i] < 'A' || v[i] > 'Z' {
			return "", false
		}
	}
	return v, true
}
