package account

import (
	"time"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account/entity"
)

// LockPolicy configures lockout after repeated failed logins.
type LockPolicy struct {
	Threshold int           `validate:"min=1"`
	Duration  time.Duration `validate:"gt=0"`
}

func DefaultLockPolicy() LockPolicy {
	return LockPolicy{Threshold: 5, Duration: 2 * time.Hour}
}

// LockGuard holds the lockout state machine. All methods are pure functions of
// the account fields and the supplied now; callers persist the result through
// Store.Update.
type LockGuard struct {
	policy LockPolicy
}

func NewLockGuard(p LockPolicy) LockGuard {
	return LockGuard{policy: p}
}

// IsLocked reports whether the account is locked at now.
func (g LockGuard) IsLocked(a *entity.Account, now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

// lockExpired reports a lock that is still stored but no longer in force.
func (g LockGuard) lockExpired(a *entity.Account, now time.Time) bool {
	return a.LockedUntil != nil && !now.Before(*a.LockedUntil)
}

// RecordFailure registers one failed credential check and reports whether the
// account is locked afterwards.
//
// An expired lock is cleared lazily and the counter restarts at 1, not 0: the
// failure being recorded is the first of the new window. A failure while the
// lock is in force increments the counter but never extends the lock.
func (g LockGuard) RecordFailure(a *entity.Account, now time.Time) bool {
	if g.lockExpired(a, now) {
		a.FailedAttempts = 1
		a.LockedUntil = nil
		return false
	}

	locked := g.IsLocked(a, now)
	a.FailedAttempts++
	if a.FailedAttempts >= g.policy.Threshold && !locked {
		until := now.Add(g.policy.Duration)
		a.LockedUntil = &until
		return true
	}
	return locked
}

// RecordSuccess clears the failure counter and any lock.
func (g LockGuard) RecordSuccess(a *entity.Account) {
	a.FailedAttempts = 0
	a.LockedUntil = nil
}

// ClearExpired drops a lock whose time has passed and resets the counter so the
// next failure counts as 1, the same result RecordFailure produces lazily.
// It reports whether anything changed.
func (g LockGuard) ClearExpired(a *entity.Account, now time.Time) bool {
	if !g.lockExpired(a, now) {
		return false
	}
	a.FailedAttempts = 0
	a.LockedUntil = nil
	return true
}
