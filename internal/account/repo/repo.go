package repo

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account/entity"
)

var (
	ErrNotFound  = errors.New("account not found")
	ErrDuplicate = errors.New("account email already registered")
	ErrConflict  = errors.New("account modified concurrently")
	// ErrNoChange may be returned by an update function to skip the write.
	ErrNoChange = errors.New("no change")
)

// maxUpdateAttempts bounds optimistic retries when a concurrent writer wins.
// With jittered backoff capped at maxConflictDelay a burst of a few dozen
// writers on one account settles well inside the budget.
const (
	maxUpdateAttempts = 32
	maxConflictDelay  = 40 * time.Millisecond
)

// retryConflicts reruns op while it fails with ErrConflict. Other errors
// return at once.
func retryConflicts(ctx context.Context, op func() (*entity.Account, error)) (*entity.Account, error) {
	return retry.DoWithData(op,
		retry.Context(ctx),
		retry.Attempts(maxUpdateAttempts),
		retry.Delay(2*time.Millisecond),
		retry.MaxDelay(maxConflictDelay),
		retry.MaxJitter(5*time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrConflict) }),
	)
}
