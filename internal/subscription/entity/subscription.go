package entity

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusPastDue   Status = "past_due"
	StatusTrialing  Status = "trialing"
)

// State is the read-only projection of a user's current subscription as reported by billing.
type State struct {
	UserID    string     `json:"user_id" db:"user_id"`
	PlanID    string     `json:"plan_id" db:"plan_id"`
	Status    Status     `json:"status" db:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// Entitled reports whether the status grants access to subscriber-only content.
func (s *State) Entitled() bool {
	if s == nil {
		return false
	}
	return s.Status == StatusActive || s.Status == StatusTrialing
}
