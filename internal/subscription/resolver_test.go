package subscription

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/subscription/entity"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/subscription/repo"
	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/utilities"
)

type countingResolver struct {
	calls atomic.Int32
	state *entity.State
	err   error
}

func (r *countingResolver) CurrentSubscription(_ context.Context, _ string) (*entity.State, error) {
	r.calls.Add(1)
	return copyState(r.state), r.err
}

func TestCachedResolverCachesStates(t *testing.T) {
	next := &countingResolver{state: &entity.State{UserID: "1", Status: entity.StatusActive}}
	c := NewCachedResolver(next, 8, time.Minute)
	ctx := context.Background()

	first, err := c.CurrentSubscription(ctx, "1")
	require.NoError(t, err)
	first.Status = entity.StatusCancelled

	second, err := c.CurrentSubscription(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusActive, second.Status, "cached copy must not alias caller state")
	assert.EqualValues(t, 1, next.calls.Load())
}

func TestCachedResolverCachesNoSubscription(t *testing.T) {
	next := &countingResolver{}
	c := NewCachedResolver(next, 8, time.Minute)

	for range 3 {
		st, err := c.CurrentSubscription(context.Background(), "2")
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	assert.EqualValues(t, 1, next.calls.Load())
}

func TestCachedResolverSkipsErrors(t *testing.T) {
	next := &countingResolver{err: utilities.Unavailable("lookup", errors.New("boom"))}
	c := NewCachedResolver(next, 8, time.Minute)

	for range 2 {
		_, err := c.CurrentSubscription(context.Background(), "3")
		assert.ErrorIs(t, err, utilities.ErrDependencyUnavailable)
	}
	assert.EqualValues(t, 2, next.calls.Load())
}

func TestCachedResolverExpires(t *testing.T) {
	next := &countingResolver{state: &entity.State{Status: entity.StatusActive}}
	c := NewCachedResolver(next, 8, 20*time.Millisecond)

	_, err := c.CurrentSubscription(context.Background(), "4")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = c.CurrentSubscription(context.Background(), "4")
	require.NoError(t, err)
	assert.EqualValues(t, 2, next.calls.Load())
}

func newSubscriptionRepo(t *testing.T) (*repo.SubscriptionRepo, *sqlx.DB) {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	r := repo.NewSubscriptionRepo(db)
	require.NoError(t, r.EnsureTable(context.Background()))
	return r, db
}

func TestRepoResolverReturnsLatestRow(t *testing.T) {
	r, db := newSubscriptionRepo(t)
	ctx := context.Background()
	exp := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := db.ExecContext(ctx, `INSERT INTO subscriptions (user_id, plan_id, status, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?), (?, ?, ?, ?, ?)`,
		"5", "basic", "cancelled", nil, base,
		"5", "premium", "active", exp, base.Add(time.Hour))
	require.NoError(t, err)

	res := NewRepoResolver(r)
	st, err := res.CurrentSubscription(ctx, "5")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "premium", st.PlanID)
	assert.Equal(t, entity.StatusActive, st.Status)
	require.NotNil(t, st.ExpiresAt)
	assert.True(t, st.ExpiresAt.Equal(exp))

	none, err := res.CurrentSubscription(ctx, "6")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRepoResolverWrapsStorageFailure(t *testing.T) {
	r, db := newSubscriptionRepo(t)
	require.NoError(t, db.Close())

	_, err := NewRepoResolver(r).CurrentSubscription(context.Background(), "5")
	assert.ErrorIs(t, err, utilities.ErrDependencyUnavailable)
}

func TestNewSelectsSource(t *testing.T) {
	_, err := New(Config{Source: SourceDatabase}, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{Source: "ldap"}, nil, nil)
	assert.Error(t, err)

	res, err := New(Config{Source: SourceBilling, BillingURL: "http://billing.local", Attempts: 1}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &BillingClient{}, res)

	r, _ := newSubscriptionRepo(t)
	res, err = New(Config{Source: SourceDatabase, CacheTTL: time.Second, CacheSize: 4}, r, nil)
	require.NoError(t, err)
	assert.IsType(t, &CachedResolver{}, res)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SUBSCRIPTION_SOURCE", "BILLING")
	t.Setenv("BILLING_URL", "http://billing:9000")
	t.Setenv("BILLING_ATTEMPTS", "5")
	t.Setenv("BILLING_TIMEOUT", "750ms")
	t.Setenv("SUBSCRIPTION_CACHE_TTL", "0s")

	cfg := ConfigFromEnv()
	assert.Equal(t, SourceBilling, cfg.Source)
	assert.Equal(t, "http://billing:9000", cfg.BillingURL)
	assert.EqualValues(t, 5, cfg.Attempts)
	assert.Equal(t, 750*time.Millisecond, cfg.Timeout)
	assert.Zero(t, cfg.CacheTTL)
	assert.Equal(t, 4096, cfg.CacheSize)
}
