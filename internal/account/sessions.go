package account

import (
	"errors"
	"time"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/utilities"
)

var (
	ErrSessionLimitExceeded = errors.New("device session limit exceeded")
	ErrSessionNotFound      = errors.New("device session not found")
)

// OverflowPolicy decides what happens when a new device logs in while the
// account already has MaxSessions active sessions.
type OverflowPolicy string

const (
	OverflowReject      OverflowPolicy = "reject"
	OverflowEvictOldest OverflowPolicy = "evict_oldest"
)

type SessionPolicy struct {
	MaxSessions int            `validate:"min=1"`
	Overflow    OverflowPolicy `validate:"oneof=reject evict_oldest"`
	// RetainInactive bounds how many inactive sessions are kept for auditing.
	RetainInactive int `validate:"min=0"`
	// TouchInterval is the smallest LastActivity change worth a write.
	TouchInterval time.Duration `validate:"min=0"`
}

func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{MaxSessions: 5, Overflow: OverflowEvictOldest, RetainInactive: 20, TouchInterval: time.Minute}
}

// SessionManager applies device session rules to an account aggregate in
// memory. Persistence happens in the enclosing Store.Update.
type SessionManager struct {
	policy SessionPolicy
	newID  func() string
}

func NewSessionManager(p SessionPolicy) SessionManager {
	return SessionManager{policy: p, newID: utilities.NewSessionID}
}

// CreateSession registers dev on the account. A device that already has an
// active session gets that session refreshed instead of a second one. When the
// cap is reached the configured overflow policy applies; evicted is the
// session deactivated to make room, if any.
func (m SessionManager) CreateSession(a *entity.Account, dev entity.Device, now time.Time) (s entity.DeviceSession, evicted *entity.DeviceSession, err error) {
	for i := range a.DeviceSessions {
		cur := &a.DeviceSessions[i]
		if cur.Active && cur.DeviceID == dev.ID {
			cur.LastActivity = now
			cur.DeviceType = dev.Type
			if dev.Name != "" {
				cur.DeviceName = dev.Name
			}
			cur.IPAddress = dev.IPAddress
			cur.UserAgent = dev.UserAgent
			return *cur, nil, nil
		}
	}

	if len(a.ActiveSessions()) >= m.policy.MaxSessions {
		if m.policy.Overflow != OverflowEvictOldest {
			return entity.DeviceSession{}, nil, ErrSessionLimitExceeded
		}
		idx := oldestActive(a.DeviceSessions)
		a.DeviceSessions[idx].Active = false
		out := a.DeviceSessions[idx]
		evicted = &out
	}

	// a revoked session of the same device is replaced, never revived, so old
	// tokens bound to it stay invalid
	kept := a.DeviceSessions[:0]
	for _, cur := range a.DeviceSessions {
		if !cur.Active && cur.DeviceID == dev.ID {
			continue
		}
		kept = append(kept, cur)
	}
	a.DeviceSessions = kept

	s = entity.DeviceSession{
		ID:           m.newID(),
		DeviceID:     dev.ID,
		DeviceType:   dev.Type,
		DeviceName:   dev.Name,
		IPAddress:    dev.IPAddress,
		UserAgent:    dev.UserAgent,
		LastActivity: now,
		Active:       true,
		CreatedAt:    now,
	}
	a.DeviceSessions = append(a.DeviceSessions, s)
	m.Prune(a)
	return s, evicted, nil
}

// oldestActive returns the index of the active session with the oldest
// LastActivity; ties go to the earliest stored. Callers ensure one exists.
func oldestActive(sessions []entity.DeviceSession) int {
	idx := -1
	for i, s := range sessions {
		if !s.Active {
			continue
		}
		if idx < 0 || s.LastActivity.Before(sessions[idx].LastActivity) {
			idx = i
		}
	}
	return idx
}

// Touch records activity on an active session.
func (m SessionManager) Touch(a *entity.Account, sessionID string, now time.Time) error {
	i := a.SessionIndex(sessionID)
	if i < 0 || !a.DeviceSessions[i].Active {
		return ErrSessionNotFound
	}
	if now.After(a.DeviceSessions[i].LastActivity) {
		a.DeviceSessions[i].LastActivity = now
	}
	return nil
}

// Revoke deactivates a session. Revoking an inactive session is a no-op.
func (m SessionManager) Revoke(a *entity.Account, sessionID string) error {
	i := a.SessionIndex(sessionID)
	if i < 0 {
		return ErrSessionNotFound
	}
	a.DeviceSessions[i].Active = false
	return nil
}

// Prune drops the oldest inactive sessions beyond RetainInactive.
func (m SessionManager) Prune(a *entity.Account) {
	inactive := 0
	for _, s := range a.DeviceSessions {
		if !s.Active {
			inactive++
		}
	}
	drop := inactive - m.policy.RetainInactive
	if drop <= 0 {
		return
	}
	kept := a.DeviceSessions[:0]
	for _, s := range a.DeviceSessions {
		if !s.Active && drop > 0 {
			drop--
			continue
		}
		kept = append(kept, s)
	}
	a.DeviceSessions = kept
}
