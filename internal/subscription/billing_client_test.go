package subscription

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/subscription/entity"
	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/utilities"
)

func newBilling(t *testing.T, h http.HandlerFunc) (*BillingClient, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewBillingClient(srv.URL+"/", time.Second, 3, nil)
	require.NoError(t, err)
	c.delay = time.Millisecond
	return c, &calls
}

func TestBillingClientDecodesState(t *testing.T) {
	c, calls := newBilling(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/42/subscription", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"plan_id":"premium","status":"active","expires_at":"2030-01-01T00:00:00Z"}`))
	})

	st, err := c.CurrentSubscription(context.Background(), "42")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "42", st.UserID)
	assert.Equal(t, "premium", st.PlanID)
	assert.Equal(t, entity.StatusActive, st.Status)
	require.NotNil(t, st.ExpiresAt)
	assert.True(t, st.ExpiresAt.Equal(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, st.Entitled())
	assert.EqualValues(t, 1, calls.Load())
}

func TestBillingClientNotFoundMeansNoSubscription(t *testing.T) {
	c, _ := newBilling(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	st, err := c.CurrentSubscription(context.Background(), "7")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestBillingClientRetriesServerErrors(t *testing.T) {
	var n atomic.Int32
	c, calls := newBilling(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"trialing"}`))
	})

	st, err := c.CurrentSubscription(context.Background(), "9")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, entity.StatusTrialing, st.Status)
	assert.EqualValues(t, 2, calls.Load())
}

func TestBillingClientGivesUpAsUnavailable(t *testing.T) {
	c, calls := newBilling(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	st, err := c.CurrentSubscription(context.Background(), "9")
	assert.Nil(t, st)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utilities.ErrDependencyUnavailable))
	assert.EqualValues(t, 3, calls.Load())
}

func TestBillingClientDoesNotRetryClientErrors(t *testing.T) {
	c, calls := newBilling(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.CurrentSubscription(context.Background(), "9")
	require.ErrorIs(t, err, utilities.ErrDependencyUnavailable)
	var se *statusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.code)
	assert.EqualValues(t, 1, calls.Load())
}

func TestBillingClientMalformedBody(t *testing.T) {
	c, _ := newBilling(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":`))
	})

	_, err := c.CurrentSubscription(context.Background(), "9")
	assert.ErrorIs(t, err, utilities.ErrDependencyUnavailable)
}

func TestNewBillingClientRequiresURL(t *testing.T) {
	_, err := NewBillingClient("  ", time.Second, 1, nil)
	assert.Error(t, err)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&statusError{code: 500}))
	assert.True(t, retryable(&statusError{code: http.StatusTooManyRequests}))
	assert.False(t, retryable(&statusError{code: 403}))
	assert.True(t, retryable(errors.New("connection reset")))
	assert.False(t, retryable(context.Canceled))
}

func TestBillingClientSharedLookupSurvivesCallerCancel(t *testing.T) {
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	c, calls := newBilling(t, func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`{"status":"active"}`))
	})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.CurrentSubscription(firstCtx, "11")
		firstErr <- err
	}()
	<-arrived

	type result struct {
		st  *entity.State
		err error
	}
	second := make(chan result, 1)
	go func() {
		st, err := c.CurrentSubscription(context.Background(), "11")
		second <- result{st, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	err := <-firstErr
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, utilities.ErrDependencyUnavailable)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	require.NotNil(t, res.st)
	assert.Equal(t, entity.StatusActive, res.st.Status)
	assert.EqualValues(t, 1, calls.Load())
}
