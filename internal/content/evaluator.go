package content

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/content/entity"
	subentity "github.com/ovaphlow/pitchfork/service-streaming-core/internal/subscription/entity"
)

type DenialReason string

const (
	ReasonUnpublished          DenialReason = "UNPUBLISHED"
	ReasonNotPublic            DenialReason = "NOT_PUBLIC"
	ReasonOutsideWindow        DenialReason = "OUTSIDE_WINDOW"
	ReasonGeoBlocked           DenialReason = "GEO_BLOCKED"
	ReasonSubscriptionRequired DenialReason = "SUBSCRIPTION_REQUIRED"
)

// Viewer carries everything the evaluator needs to know about the requester.
// CountryCode is empty when the origin could not be resolved.
type Viewer struct {
	Subscription *subentity.State
	CountryCode  string
	Now          time.Time
}

// Decision is the outcome of Evaluate. Reason is empty when Allowed.
type Decision struct {
	Allowed bool         `json:"allowed"`
	Reason  DenialReason `json:"reason,omitempty"`
}

func allow() Decision              { return Decision{Allowed: true} }
func deny(r DenialReason) Decision { return Decision{Reason: r} }

// Err returns nil for an allowed decision and an *AccessDeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &AccessDeniedError{Reason: d.Reason}
}

// AccessDeniedError is the error form of a denied Decision.
type AccessDeniedError struct {
	Reason DenialReason
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s", e.Reason)
}

type rule func(c *entity.Content, v Viewer) Decision

// rules run in a fixed order so the same inputs always report the same first
// failing reason. The first three need no collaborator data.
var rules = []rule{
	checkStatus,
	checkPublic,
	checkWindow,
	checkGeo,
	checkSubscription,
}

// localRules is the prefix of rules that only read the content record and the clock.
const localRules = 3

// Evaluate decides whether the viewer may access c at v.Now. It has no side
// effects and never consults the wall clock.
func Evaluate(c *entity.Content, v Viewer) Decision {
	return evaluate(c, v, rules)
}

func evaluate(c *entity.Content, v Viewer, rs []rule) Decision {
	for _, r := range rs {
		if d := r(c, v); !d.Allowed {
			return d
		}
	}
	return allow()
}

func checkStatus(c *entity.Content, _ Viewer) Decision {
	if c.Status != entity.StatusPublished {
		return deny(ReasonUnpublished)
	}
	return allow()
}

func checkPublic(c *entity.Content, _ Viewer) Decision {
	if !c.Visibility.IsPublic {
		return deny(ReasonNotPublic)
	}
	return allow()
}

func checkWindow(c *entity.Content, v Viewer) Decision {
	vis := c.Visibility
	if vis.PublishAt != nil && v.Now.Before(*vis.PublishAt) {
		return deny(ReasonOutsideWindow)
	}
	if vis.ExpireAt != nil && v.Now.After(*vis.ExpireAt) {
		return deny(ReasonOutsideWindow)
	}
	return allow()
}

// checkGeo applies the allow list when present, otherwise the block list.
// An unknown viewer country never satisfies an allow list.
func checkGeo(c *entity.Content, v Viewer) Decision {
	vis := c.Visibility
	if !vis.GeoBlocked {
		return allow()
	}
	country := normalizeCountry(v.CountryCode)
	if len(vis.AllowedCountries) > 0 {
		if country == "" || !containsCountry(vis.AllowedCountries, country) {
			return deny(ReasonGeoBlocked)
		}
		return allow()
	}
	if len(vis.BlockedCountries) > 0 && country != "" && containsCountry(vis.BlockedCountries, country) {
		return deny(ReasonGeoBlocked)
	}
	return allow()
}

func checkSubscription(c *entity.Content, v Viewer) Decision {
	vis := c.Visibility
	if !vis.RequiresSubscription {
		return allow()
	}
	sub := v.Subscription
	if !sub.Entitled() {
		return deny(ReasonSubscriptionRequired)
	}
	if len(vis.AllowedPlanIDs) > 0 && !slices.Contains(vis.AllowedPlanIDs, sub.PlanID) {
		return deny(ReasonSubscriptionRequired)
	}
	return allow()
}

func normalizeCountry(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func containsCountry(list []string, country string) bool {
	for _, c := range list {
		if normalizeCountry(c) == country {
			return true
		}
	}
	return false
}
