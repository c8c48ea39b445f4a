package geo

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Resolver maps a request's network origin to an ISO 3166-1 alpha-2 country
// code. An empty code with a nil error means the origin is unknown.
type Resolver interface {
	CountryOf(ctx context.Context, remoteAddr string) (string, error)
}

type Config struct {
	TablePath string
	CacheSize int
	CacheTTL  time.Duration
	Proxy     ProxyConfig
}

// ConfigFromEnv reads GEO_TABLE, GEO_CACHE_SIZE and GEO_CACHE_TTL plus the
// proxy settings of ProxyConfigFromEnv.
func ConfigFromEnv() (Config, error) {
	proxy, err := ProxyConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{TablePath: os.Getenv("GEO_TABLE"), CacheSize: 10000, CacheTTL: 10 * time.Minute, Proxy: proxy}
	if n, err := strconv.Atoi(os.Getenv("GEO_CACHE_SIZE")); err == nil && n > 0 {
		cfg.CacheSize = n
	}
	if d, err := time.ParseDuration(os.Getenv("GEO_CACHE_TTL")); err == nil {
		cfg.CacheTTL = d
	}
	return cfg, nil
}

type entry struct {
	prefix  netip.Prefix
	country string
}

// TableResolver resolves addresses against a static CIDR table using longest
// prefix match.
type TableResolver struct {
	entries []entry
}

// NewTableResolver builds a resolver from "cidr,country" CSV rows. Blank lines
// and lines starting with '#' are skipped.
func NewTableResolver(r io.Reader) (*TableResolver, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	var entries []entry
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read geo table: %w", err)
		}
		prefix, err := netip.ParsePrefix(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("parse prefix %q: %w", rec[0], err)
		}
		code := strings.ToUpper(strings.TrimSpace(rec[1]))
		if len(code) != 2 {
			return nil, fmt.Errorf("invalid country code %q for %s", rec[1], prefix)
		}
		entries = append(entries, entry{prefix: prefix.Masked(), country: code})
	}
	// most specific prefixes first so the first hit is the longest match
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].prefix.Bits() > entries[j].prefix.Bits()
	})
	return &TableResolver{entries: entries}, nil
}

// LoadTableFile opens path and parses it with NewTableResolver.
func LoadTableFile(path string) (*TableResolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geo table: %w", err)
	}
	defer f.Close()
	return NewTableResolver(f)
}

func (t *TableResolver) CountryOf(_ context.Context, remoteAddr string) (string, error) {
	addr, ok := parseAddr(remoteAddr)
	if !ok {
		return "", nil
	}
	for _, e := range t.entries {
		if e.prefix.Contains(addr) {
			return e.country, nil
		}
	}
	return "", nil
}

// parseAddr accepts "ip", "ip:port" and "[ipv6]:port".
func parseAddr(remoteAddr string) (netip.Addr, bool) {
	s := strings.TrimSpace(remoteAddr)
	if s == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	if a, err := netip.ParseAddr(strings.Trim(s, "[]")); err == nil {
		return a.Unmap(), true
	}
	return netip.Addr{}, false
}

// CachedResolver memoizes lookups by address (port stripped). Errors are not cached.
type CachedResolver struct {
	next  Resolver
	cache *expirable.LRU[netip.Addr, string]
}

func NewCachedResolver(next Resolver, size int, ttl time.Duration) *CachedResolver {
	if size <= 0 {
		size = 1024
	}
	return &CachedResolver{next: next, cache: expirable.NewLRU[netip.Addr, string](size, nil, ttl)}
}

func (c *CachedResolver) CountryOf(ctx context.Context, remoteAddr string) (string, error) {
	addr, ok := parseAddr(remoteAddr)
	if !ok {
		return "", nil
	}
	if code, hit := c.cache.Get(addr); hit {
		return code, nil
	}
	code, err := c.next.CountryOf(ctx, addr.String())
	if err != nil {
		return "", err
	}
	c.cache.Add(addr, code)
	return code, nil
}

// Unknown resolves every address to "unknown". Used when no table is configured.
type Unknown struct{}

func (Unknown) CountryOf(context.Context, string) (string, error) { return "", nil }

func (Unknown) Country(context.Context, Origin) (string, error) { return "", nil }

// New builds the resolver described by cfg. A trusted country header still
// works when no table is configured.
func New(cfg Config) (OriginResolver, error) {
	var base Resolver = Unknown{}
	if cfg.TablePath != "" {
		table, err := LoadTableFile(cfg.TablePath)
		if err != nil {
			return nil, err
		}
		base = table
		if cfg.CacheTTL > 0 {
			base = NewCachedResolver(table, cfg.CacheSize, cfg.CacheTTL)
		}
	}
	return NewProxyAwareResolver(base, cfg.Proxy), nil
}
