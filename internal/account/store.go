package account

import (
	"context"
	"time"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account/entity"
)

// Store persists account aggregates.
//
// Update must be all-or-nothing: fn receives a private copy and the result is
// committed only if fn returns nil. fn may run more than once when a store
// retries after a concurrent write, so it must derive everything from the
// account it is given. Returning repo.ErrNoChange skips the write.
type Store interface {
	Create(ctx context.Context, a *entity.Account) error
	Get(ctx context.Context, id int64) (*entity.Account, error)
	GetByEmail(ctx context.Context, email string) (*entity.Account, error)
	Update(ctx context.Context, id int64, fn func(*entity.Account) error) (*entity.Account, error)
	ExpiredLocks(ctx context.Context, now time.Time) ([]int64, error)
}
