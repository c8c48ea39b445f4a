package entity

import "time"

type DeviceType string

const (
	DeviceWeb    DeviceType = "web"
	DeviceMobile DeviceType = "mobile"
	DeviceTV     DeviceType = "tv"
)

// Device describes the client presenting credentials.
type Device struct {
	ID        string     `json:"id" validate:"required,max=128"`
	Type      DeviceType `json:"type" validate:"required,oneof=web mobile tv"`
	Name      string     `json:"name" validate:"max=128"`
	IPAddress string     `json:"-"`
	UserAgent string     `json:"-"`
}

// DeviceSession is one authenticated device of an account. Inactive sessions
// are kept for a while for auditing but never count toward the session cap.
type DeviceSession struct {
	ID           string     `json:"id" bson:"id"`
	DeviceID     string     `json:"device_id" bson:"deviceId"`
	DeviceType   DeviceType `json:"device_type" bson:"deviceType"`
	DeviceName   string     `json:"device_name,omitempty" bson:"deviceName"`
	IPAddress    string     `json:"ip_address,omitempty" bson:"ipAddress"`
	UserAgent    string     `json:"user_agent,omitempty" bson:"userAgent"`
	LastActivity time.Time  `json:"last_activity" bson:"lastActivity"`
	Active       bool       `json:"active" bson:"isActive"`
	CreatedAt    time.Time  `json:"created_at" bson:"createdAt"`
}

// Account is the aggregate mutated by the lock guard and the session manager.
// Version increases by one on every committed update.
type Account struct {
	ID             int64           `json:"id" bson:"_id"`
	Email          string          `json:"email" bson:"email"`
	PasswordHash   string          `json:"-" bson:"passwordHash"`
	FailedAttempts int             `json:"failed_attempts" bson:"loginAttempts"`
	LockedUntil    *time.Time      `json:"locked_until,omitempty" bson:"lockUntil,omitempty"`
	LastLoginAt    *time.Time      `json:"last_login_at,omitempty" bson:"lastLogin,omitempty"`
	DeviceSessions []DeviceSession `json:"device_sessions" bson:"deviceSessions"`
	Version        int64           `json:"version" bson:"version"`
	CreatedAt      time.Time       `json:"created_at" bson:"createdAt"`
	UpdatedAt      time.Time       `json:"updated_at" bson:"updatedAt"`
}

// Clone returns a deep copy so a failed update never leaks partial changes.
func (a *Account) Clone() *Account {
	out := *a
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		out.LockedUntil = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		out.LastLoginAt = &t
	}
	if a.DeviceSessions != nil {
		out.DeviceSessions = append([]DeviceSession(nil), a.DeviceSessions...)
	}
	return &out
}

// ActiveSessions returns the active sessions in stored order.
func (a *Account) ActiveSessions() []DeviceSession {
	var out []DeviceSession
	for _, s := range a.DeviceSessions {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// SessionIndex returns the index of the session with id, or -1.
func (a *Account) SessionIndex(id string) int {
	for i := range a.DeviceSessions {
		if a.DeviceSessions[i].ID == id {
			return i
		}
	}
	return -1
}
