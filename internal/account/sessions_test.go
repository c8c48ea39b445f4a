package account

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account/entity"
)

func testManager(p SessionPolicy) SessionManager {
	m := NewSessionManager(p)
	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
	return m
}

func device(id string) entity.Device {
	return entity.Device{ID: id, Type: entity.DeviceWeb, Name: id}
}

// fill opens n sessions from devices d1..dn, one minute apart.
func fill(t *testing.T, m SessionManager, a *entity.Account, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, _, err := m.CreateSession(a, device(fmt.Sprintf("d%d", i)), t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
}

func TestCreateSessionAcceptsUpToCap(t *testing.T) {
	for _, policy := range []OverflowPolicy{OverflowReject, OverflowEvictOldest} {
		t.Run(string(policy), func(t *testing.T) {
			m := testManager(SessionPolicy{MaxSessions: 5, Overflow: policy, RetainInactive: 20})
			a := &entity.Account{}
			fill(t, m, a, 4)

			s, evicted, err := m.CreateSession(a, device("d5"), t0.Add(time.Hour))

			require.NoError(t, err)
			assert.Nil(t, evicted)
			assert.True(t, s.Active)
			assert.Len(t, a.ActiveSessions(), 5)
		})
	}
}

func TestCreateSessionRejectsOverCap(t *testing.T) {
	m := testManager(SessionPolicy{MaxSessions: 5, Overflow: OverflowReject, RetainInactive: 20})
	a := &entity.Account{}
	fill(t, m, a, 5)
	before := a.Clone()

	_, _, err := m.CreateSession(a, device("d6"), t0.Add(time.Hour))

	require.ErrorIs(t, err, ErrSessionLimitExceeded)
	assert.Equal(t, before.DeviceSessions, a.DeviceSessions)
	assert.Len(t, a.ActiveSessions(), 5)
}

func TestCreateSessionEvictsLeastRecentlyActive(t *testing.T) {
	m := testManager(SessionPolicy{MaxSessions: 5, Overflow: OverflowEvictOldest, RetainInactive: 20})
	a := &entity.Account{}
	fill(t, m, a, 5)
	// d1 is the oldest by creation but was used recently
	require.NoError(t, m.Touch(a, "s1", t0.Add(30*time.Minute)))

	s, evicted, err := m.CreateSession(a, device("d6"), t0.Add(time.Hour))

	require.NoError(t, err)
	require.NotNil(t, evicted)
	assert.Equal(t, "d2", evicted.DeviceID)
	assert.Equal(t, "d6", s.DeviceID)
	active := a.ActiveSessions()
	assert.Len(t, active, 5)
	for _, ds := range active {
		assert.NotEqual(t, "d2", ds.DeviceID)
	}
}

func TestCreateSessionRefreshesKnownDevice(t *testing.T) {
	m := testManager(SessionPolicy{MaxSessions: 5, Overflow: OverflowReject, RetainInactive: 20})
	a := &entity.Account{}
	fill(t, m, a, 5)

	later := t0.Add(2 * time.Hour)
	s, evicted, err := m.CreateSession(a, device("d3"), later)

	require.NoError(t, err)
	assert.Nil(t, evicted)
	assert.Equal(t, "s3", s.ID)
	assert.Equal(t, later, s.LastActivity)
	assert.Len(t, a.DeviceSessions, 5)
}

func TestCreateSessionReplacesRevokedDevice(t *testing.T) {
	m := testManager(SessionPolicy{MaxSessions: 5, Overflow: OverflowReject, RetainInactive: 20})
	a := &entity.Account{}
	fill(t, m, a, 2)
	require.NoError(t, m.Revoke(a, "s1"))

	s, _, err := m.CreateSession(a, device("d1"), t0.Add(time.Hour))

	require.NoError(t, err)
	assert.NotEqual(t, "s1", s.ID)
	assert.Equal(t, -1, a.SessionIndex("s1"))
	assert.Len(t, a.ActiveSessions(), 2)
}

func TestRevokedSessionsDoNotCountTowardCap(t *testing.T) {
	m := testManager(SessionPolicy{MaxSessions: 2, Overflow: OverflowReject, RetainInactive: 20})
	a := &entity.Account{}
	fill(t, m, a, 2)
	require.NoError(t, m.Revoke(a, "s2"))

	_, _, err := m.CreateSession(a, device("d9"), t0.Add(time.Hour))

	require.NoError(t, err)
	assert.Len(t, a.ActiveSessions(), 2)
}

func TestTouchAndRevoke(t *testing.T) {
	m := testManager(DefaultSessionPolicy())
	a := &entity.Account{}
	fill(t, m, a, 1)

	require.NoError(t, m.Touch(a, "s1", t0.Add(time.Hour)))
	assert.Equal(t, t0.Add(time.Hour), a.DeviceSessions[0].LastActivity)

	require.ErrorIs(t, m.Touch(a, "missing", t0), ErrSessionNotFound)
	require.NoError(t, m.Revoke(a, "s1"))
	require.NoError(t, m.Revoke(a, "s1"))
	require.ErrorIs(t, m.Touch(a, "s1", t0.Add(2*time.Hour)), ErrSessionNotFound)
	require.ErrorIs(t, m.Revoke(a, "missing"), ErrSessionNotFound)
}

func TestPruneDropsOldestInactive(t *testing.T) {
	m := testManager(SessionPolicy{MaxSessions: 10, Overflow: OverflowReject, RetainInactive: 1})
	a := &entity.Account{}
	fill(t, m, a, 4)
	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, m.Revoke(a, id))
	}

	m.Prune(a)

	require.Len(t, a.DeviceSessions, 2)
	assert.Equal(t, "s3", a.DeviceSessions[0].ID)
	assert.Equal(t, "s4", a.DeviceSessions[1].ID)
}
