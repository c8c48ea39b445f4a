package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/utilities"
)

// Service orchestrates signup, authentication and device session flows. Every
// mutation of an account goes through Store.Update so concurrent requests
// against the same account never lose an update.
type Service struct {
	store      Store
	hasher     PasswordHasher
	guard      LockGuard
	sessions   SessionManager
	minPass    int
	touchEvery time.Duration
	logger     *zap.SugaredLogger
	now        func() time.Time
}

func NewService(store Store, hasher PasswordHasher, p Policy, logger *zap.SugaredLogger) *Service {
	if hasher == nil {
		hasher = BcryptHasher{Cost: p.BcryptCost}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:      store,
		hasher:     hasher,
		guard:      NewLockGuard(p.Lock),
		sessions:   NewSessionManager(p.Sessions),
		minPass:    p.MinPasswordLength,
		touchEvery: p.Sessions.TouchInterval,
		logger:     logger,
		now:        time.Now,
	}
}

// LoginResult is returned by a successful Authenticate.
type LoginResult struct {
	Account *entity.Account
	Session entity.DeviceSession
	// Evicted is the session deactivated to make room, if any.
	Evicted *entity.DeviceSession
}

// LockStatus is the lockout view of an account at a point in time.
type LockStatus struct {
	AccountID      int64      `json:"account_id"`
	Email          string     `json:"email"`
	Locked         bool       `json:"locked"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	FailedAttempts int        `json:"failed_attempts"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Signup creates an account with a hashed password.
func (s *Service) Signup(ctx context.Context, email, password string) (*entity.Account, error) {
	email = normalizeEmail(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) < s.minPass {
		return nil, ErrPasswordTooShort
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	a := &entity.Account{
		ID:           utilities.NewAccountID(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, a); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, utilities.Unavailable("create account", err)
	}
	s.logger.Infow("account created", "account_id", a.ID)
	return a, nil
}

// Authenticate verifies the password and opens or refreshes the device's
// session. A locked account is rejected before the password is compared.
func (s *Service) Authenticate(ctx context.Context, email, password string, dev entity.Device) (*LoginResult, error) {
	if err := validate.Struct(dev); err != nil {
		return nil, ErrInvalidDevice
	}
	a, err := s.store.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			burnCompare(password)
			return nil, ErrInvalidCredentials
		}
		return nil, utilities.Unavailable("load account", err)
	}

	now := s.now()
	if s.guard.IsLocked(a, now) {
		s.logger.Debugw("login rejected, account locked", "account_id", a.ID, "until", a.LockedUntil)
		return nil, &AccountLockedError{Until: *a.LockedUntil}
	}

	if !s.hasher.Verify(a.PasswordHash, password) {
		return nil, s.recordFailure(ctx, a.ID, now)
	}

	var rehash string
	if s.hasher.NeedsRehash(a.PasswordHash) {
		if h, err := s.hasher.Hash(password); err == nil {
			rehash = h
		}
	}

	res := &LoginResult{}
	updated, err := s.update(ctx, a.ID, "login", func(acc *entity.Account) error {
		// a concurrent failure may have locked the account since it was read
		if s.guard.IsLocked(acc, now) {
			return &AccountLockedError{Until: *acc.LockedUntil}
		}
		s.guard.RecordSuccess(acc)
		sess, evicted, err := s.sessions.CreateSession(acc, dev, now)
		if err != nil {
			return err
		}
		res.Session, res.Evicted = sess, evicted
		t := now
		acc.LastLoginAt = &t
		acc.UpdatedAt = now
		if rehash != "" {
			acc.PasswordHash = rehash
		}
		return nil
	})
	if err != nil {
		s.logger.Debugw("login failed", "account_id", a.ID, "err", err)
		return nil, err
	}
	if res.Evicted != nil {
		s.logger.Infow("device session evicted", "account_id", a.ID, "session_id", res.Evicted.ID, "device_id", res.Evicted.DeviceID)
	}
	res.Account = updated
	return res, nil
}

func (s *Service) recordFailure(ctx context.Context, id int64, now time.Time) error {
	var locked bool
	_, err := s.update(ctx, id, "record failure", func(acc *entity.Account) error {
		locked = s.guard.RecordFailure(acc, now)
		acc.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}
	if locked {
		s.logger.Infow("account locked after failed logins", "account_id", id)
	}
	return ErrInvalidCredentials
}

// Touch records activity on a session. It fails with ErrSessionNotFound once
// the session was revoked or evicted. No write happens while the stored
// LastActivity is younger than the policy's TouchInterval.
func (s *Service) Touch(ctx context.Context, accountID int64, sessionID string) error {
	now := s.now()
	a, err := s.get(ctx, accountID)
	if err != nil {
		return err
	}
	i := a.SessionIndex(sessionID)
	if i < 0 || !a.DeviceSessions[i].Active {
		return ErrSessionNotFound
	}
	if now.Sub(a.DeviceSessions[i].LastActivity) < s.touchEvery {
		return nil
	}
	_, err = s.update(ctx, accountID, "touch session", func(acc *entity.Account) error {
		return s.sessions.Touch(acc, sessionID, now)
	})
	return err
}

// SessionActive reports whether the session exists and is active. Unlike
// Touch it never writes.
func (s *Service) SessionActive(ctx context.Context, accountID int64, sessionID string) (bool, error) {
	a, err := s.get(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	i := a.SessionIndex(sessionID)
	return i >= 0 && a.DeviceSessions[i].Active, nil
}

// Revoke deactivates a session of the account.
func (s *Service) Revoke(ctx context.Context, accountID int64, sessionID string) error {
	now := s.now()
	_, err := s.update(ctx, accountID, "revoke session", func(acc *entity.Account) error {
		if err := s.sessions.Revoke(acc, sessionID); err != nil {
			return err
		}
		s.sessions.Prune(acc)
		acc.UpdatedAt = now
		return nil
	})
	if err == nil {
		s.logger.Infow("device session revoked", "account_id", accountID, "session_id", sessionID)
	}
	return err
}

// Sessions lists the active sessions of the account in stored order.
func (s *Service) Sessions(ctx context.Context, accountID int64) ([]entity.DeviceSession, error) {
	a, err := s.get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return a.ActiveSessions(), nil
}

// Status reports the lockout state of the account at now.
func (s *Service) Status(ctx context.Context, accountID int64) (LockStatus, error) {
	a, err := s.get(ctx, accountID)
	if err != nil {
		return LockStatus{}, err
	}
	return s.status(a), nil
}

// StatusByEmail is Status keyed by email.
func (s *Service) StatusByEmail(ctx context.Context, email string) (LockStatus, error) {
	a, err := s.store.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return LockStatus{}, ErrAccountNotFound
		}
		return LockStatus{}, utilities.Unavailable("load account", err)
	}
	return s.status(a), nil
}

func (s *Service) status(a *entity.Account) LockStatus {
	st := LockStatus{AccountID: a.ID, Email: a.Email, FailedAttempts: a.FailedAttempts}
	if s.guard.IsLocked(a, s.now()) {
		st.Locked = true
		st.LockedUntil = a.LockedUntil
	}
	return st
}

// Unlock clears the failure counter and any lock, as a successful login would.
func (s *Service) Unlock(ctx context.Context, accountID int64) error {
	now := s.now()
	_, err := s.update(ctx, accountID, "unlock", func(acc *entity.Account) error {
		if acc.FailedAttempts == 0 && acc.LockedUntil == nil {
			return repo.ErrNoChange
		}
		s.guard.RecordSuccess(acc)
		acc.UpdatedAt = now
		return nil
	})
	if err == nil {
		s.logger.Infow("account unlocked", "account_id", accountID)
	}
	return err
}

// SweepExpiredLocks clears locks that have already expired and returns how
// many accounts changed. Expiry is also handled lazily at login, so the sweep
// only keeps stored state tidy.
func (s *Service) SweepExpiredLocks(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.store.ExpiredLocks(ctx, now)
	if err != nil {
		return 0, utilities.Unavailable("list expired locks", err)
	}
	cleared := 0
	for _, id := range ids {
		var changed bool
		_, err := s.update(ctx, id, "clear expired lock", func(acc *entity.Account) error {
			changed = s.guard.ClearExpired(acc, now)
			if !changed {
				return repo.ErrNoChange
			}
			acc.UpdatedAt = now
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				continue
			}
			return cleared, err
		}
		if changed {
			cleared++
		}
	}
	return cleared, nil
}

func (s *Service) get(ctx context.Context, id int64) (*entity.Account, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, utilities.Unavailable("load account", err)
	}
	return a, nil
}

// update runs fn through the store. Errors produced by fn are returned as is;
// store failures are reported as a dependency outage.
func (s *Service) update(ctx context.Context, id int64, op string, fn func(*entity.Account) error) (*entity.Account, error) {
	var fnErr error
	a, err := s.store.Update(ctx, id, func(acc *entity.Account) error {
		fnErr = fn(acc)
		return fnErr
	})
	switch {
	case err == nil:
		return a, nil
	case fnErr != nil && errors.Is(err, fnErr):
		return nil, err
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrAccountNotFound
	default:
		return nil, utilities.Unavailable(op, err)
	}
}
