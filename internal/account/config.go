package account

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Policy groups the account security settings.
type Policy struct {
	Lock              LockPolicy
	Sessions          SessionPolicy
	MinPasswordLength int `validate:"min=1"`
	BcryptCost        int `validate:"min=4,max=31"`
	SweepInterval     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Lock:              DefaultLockPolicy(),
		Sessions:          DefaultSessionPolicy(),
		MinPasswordLength: 8,
		BcryptCost:        12,
	}
}

// PolicyFromEnv reads the policy from environment variables, falling back to
// DefaultPolicy for unset values.
//
//	LOCKOUT_THRESHOLD        failed attempts before lockout (5)
//	LOCKOUT_DURATION         lock length, Go duration (2h)
//	MAX_DEVICE_SESSIONS      active sessions per account (5)
//	SESSION_OVERFLOW_POLICY  reject | evict_oldest (evict_oldest)
//	SESSION_RETAIN_INACTIVE  inactive sessions kept for auditing (20)
//	PASSWORD_MIN_LENGTH      (8)
//	BCRYPT_COST              (12)
//	LOCK_SWEEP_INTERVAL      expired lock sweep period, 0 disables (0)
func PolicyFromEnv() (Policy, error) {
	p := DefaultPolicy()
	var err error
	if p.Lock.Threshold, err = envInt("LOCKOUT_THRESHOLD", p.Lock.Threshold); err != nil {
		return p, err
	}
	if p.Lock.Duration, err = envDuration("LOCKOUT_DURATION", p.Lock.Duration); err != nil {
		return p, err
	}
	if p.Sessions.MaxSessions, err = envInt("MAX_DEVICE_SESSIONS", p.Sessions.MaxSessions); err != nil {
		return p, err
	}
	if v := os.Getenv("SESSION_OVERFLOW_POLICY"); v != "" {
		p.Sessions.Overflow = OverflowPolicy(v)
	}
	if p.Sessions.RetainInactive, err = envInt("SESSION_RETAIN_INACTIVE", p.Sessions.RetainInactive); err != nil {
		return p, err
	}
	if p.Sessions.TouchInterval, err = envDuration("SESSION_TOUCH_INTERVAL", p.Sessions.TouchInterval); err != nil {
		return p, err
	}
	if p.MinPasswordLength, err = envInt("PASSWORD_MIN_LENGTH", p.MinPasswordLength); err != nil {
		return p, err
	}
	if p.BcryptCost, err = envInt("BCRYPT_COST", p.BcryptCost); err != nil {
		return p, err
	}
	if p.SweepInterval, err = envDuration("LOCK_SWEEP_INTERVAL", p.SweepInterval); err != nil {
		return p, err
	}
	return p, p.Validate()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the policy including the nested lock and session settings.
func (p Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid account policy: %w", err)
	}
	return nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
