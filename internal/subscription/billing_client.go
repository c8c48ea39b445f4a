package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/subscription/entity"
	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/utilities"
)

// BillingClient asks the billing service for a user's subscription over HTTP:
// GET {base}/users/{id}/subscription. 404 means "no subscription".
type BillingClient struct {
	base     *url.URL
	http     *http.Client
	attempts uint
	delay    time.Duration
	budget   time.Duration
	group    singleflight.Group
	logger   *zap.SugaredLogger
}

func NewBillingClient(baseURL string, timeout time.Duration, attempts uint, logger *zap.SugaredLogger) (*BillingClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("billing url is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse billing url: %w", err)
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if attempts == 0 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &BillingClient{
		base:     u,
		http:     &http.Client{Timeout: timeout},
		attempts: attempts,
		delay:    100 * time.Millisecond,
		budget:   time.Duration(attempts)*timeout + time.Second,
		logger:   logger,
	}, nil
}

// statusError is returned for non-2xx responses other than 404.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("billing responded %d", e.code) }

func (c *BillingClient) CurrentSubscription(ctx context.Context, userID string) (*entity.State, error) {
	// Concurrent lookups for the same user share one round trip. The shared
	// fetch outlives any single caller; each caller only waits on its own ctx.
	ch := c.group.DoChan(userID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.budget)
		defer cancel()
		return c.fetchWithRetry(fctx, userID)
	})
	select {
	case <-ctx.Done():
		return nil, utilities.Unavailable("billing lookup", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, utilities.Unavailable("billing lookup", res.Err)
		}
		st, _ := res.Val.(*entity.State)
		return copyState(st), nil
	}
}

func (c *BillingClient) fetchWithRetry(ctx context.Context, userID string) (*entity.State, error) {
	return retry.DoWithData(
		func() (*entity.State, error) { return c.fetch(ctx, userID) },
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debugw("billing lookup retry", "user_id", userID, "attempt", n+1, "err", err)
		}),
	)
}

// retryable reports whether a failed billing call is worth repeating. Client
// errors (4xx) are not; transport errors and 5xx are.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

func (c *BillingClient) fetch(ctx context.Context, userID string) (*entity.State, error) {
	endpoint := c.base.JoinPath("users", userID, "subscription")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &statusError{code: resp.StatusCode}
	}

	var st entity.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode billing response: %w", err)
	}
	if st.UserID == "" {
		st.UserID = userID
	}
	return &st, nil
}
