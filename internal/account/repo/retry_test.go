package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account/entity"
)

func TestRetryConflictsOutlastsABurst(t *testing.T) {
	calls := 0
	a, err := retryConflicts(context.Background(), func() (*entity.Account, error) {
		calls++
		if calls <= 20 {
			return nil, ErrConflict
		}
		return &entity.Account{ID: 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, 21, calls)
}

func TestRetryConflictsGivesUp(t *testing.T) {
	calls := 0
	_, err := retryConflicts(context.Background(), func() (*entity.Account, error) {
		calls++
		return nil, ErrConflict
	})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, maxUpdateAttempts, calls)
}

func TestRetryConflictsStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := retryConflicts(context.Background(), func() (*entity.Account, error) {
		calls++
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
