package subscription

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/subscription/entity"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/subscription/repo"
	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/utilities"
)

// Resolver returns the current subscription of a user. A nil state with a nil
// error means the user has no subscription. Any I/O failure is reported as an
// error wrapping utilities.ErrDependencyUnavailable.
type Resolver interface {
	CurrentSubscription(ctx context.Context, userID string) (*entity.State, error)
}

const (
	SourceDatabase = "db"
	SourceBilling  = "billing"
)

type Config struct {
	Source     string
	BillingURL string
	Timeout    time.Duration
	Attempts   uint
	CacheSize  int
	CacheTTL   time.Duration
}

// ConfigFromEnv reads SUBSCRIPTION_SOURCE (db|billing), BILLING_URL,
// BILLING_TIMEOUT, BILLING_ATTEMPTS, SUBSCRIPTION_CACHE_SIZE and SUBSCRIPTION_CACHE_TTL.
func ConfigFromEnv() Config {
	cfg := Config{
		Source:     strings.ToLower(os.Getenv("SUBSCRIPTION_SOURCE")),
		BillingURL: os.Getenv("BILLING_URL"),
		Timeout:    3 * time.Second,
		Attempts:   3,
		CacheSize:  4096,
		CacheTTL:   30 * time.Second,
	}
	if cfg.Source == "" {
		cfg.Source = SourceDatabase
	}
	if d, err := time.ParseDuration(os.Getenv("BILLING_TIMEOUT")); err == nil && d > 0 {
		cfg.Timeout = d
	}
	if n, err := parseUint(os.Getenv("BILLING_ATTEMPTS")); err == nil && n > 0 {
		cfg.Attempts = n
	}
	if n, err := parseUint(os.Getenv("SUBSCRIPTION_CACHE_SIZE")); err == nil {
		cfg.CacheSize = int(n)
	}
	if d, err := time.ParseDuration(os.Getenv("SUBSCRIPTION_CACHE_TTL")); err == nil {
		cfg.CacheTTL = d
	}
	return cfg
}

func parseUint(s string) (uint, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	return uint(n), err
}

// RepoResolver reads the billing projection table.
type RepoResolver struct {
	repo *repo.SubscriptionRepo
}

func NewRepoResolver(r *repo.SubscriptionRepo) *RepoResolver {
	return &RepoResolver{repo: r}
}

func (r *RepoResolver) CurrentSubscription(ctx context.Context, userID string) (*entity.State, error) {
	st, err := r.repo.CurrentByUser(ctx, userID)
	if err != nil {
		return nil, utilities.Unavailable("load subscription", err)
	}
	return st, nil
}

// CachedResolver keeps successful lookups (including "no subscription") for a
// short TTL. Errors are never cached.
type CachedResolver struct {
	next  Resolver
	cache *expirable.LRU[string, cachedState]
}

type cachedState struct {
	state *entity.State
}

func NewCachedResolver(next Resolver, size int, ttl time.Duration) *CachedResolver {
	if size <= 0 {
		size = 1024
	}
	return &CachedResolver{next: next, cache: expirable.NewLRU[string, cachedState](size, nil, ttl)}
}

func (c *CachedResolver) CurrentSubscription(ctx context.Context, userID string) (*entity.State, error) {
	if v, ok := c.cache.Get(userID); ok {
		return copyState(v.state), nil
	}
	st, err := c.next.CurrentSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(userID, cachedState{state: copyState(st)})
	return st, nil
}

func copyState(st *entity.State) *entity.State {
	if st == nil {
		return nil
	}
	out := *st
	if st.ExpiresAt != nil {
		t := *st.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

// New builds the resolver selected by cfg. A zero cache TTL disables caching.
func New(cfg Config, r *repo.SubscriptionRepo, logger *zap.SugaredLogger) (Resolver, error) {
	var base Resolver
	switch cfg.Source {
	case SourceDatabase:
		if r == nil {
			return nil, fmt.Errorf("subscription source %q needs a database", cfg.Source)
		}
		base = NewRepoResolver(r)
	case SourceBilling:
		client, err := NewBillingClient(cfg.BillingURL, cfg.Timeout, cfg.Attempts, logger)
		if err != nil {
			return nil, err
		}
		base = client
	default:
		return nil, fmt.Errorf("unknown subscription source %q", cfg.Source)
	}
	if cfg.CacheTTL <= 0 {
		return base, nil
	}
	return NewCachedResolver(base, cfg.CacheSize, cfg.CacheTTL), nil
}
