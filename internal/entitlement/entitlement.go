// Package entitlement decides whether a principal may use an operation.
// Decisions are computed from the principal's stored fields and the
// current time; nothing here writes state.
package entitlement

import (
	"time"

	"github.com/aisaas-platform/aisaas/internal/apperr"
	"github.com/aisaas-platform/aisaas/internal/models"
)

// Tier is the access level an operation requires.
type Tier int

const (
	Public Tier = iota
	Authenticated
	Pro
	Admin
)

func (t Tier) String() string {
	switch t {
	case Public:
		return "public"
	case Authenticated:
		return "authenticated"
	case Pro:
		return "pro"
	case Admin:
		return "admin"
	}
	return "unknown"
}

// Decision is the outcome of Authorize. Reason is set when access is denied.
type Decision struct {
	Granted bool
	Reason  string
}

// Err converts a denial into a Forbidden error, or nil when granted.
func (d Decision) Err() error {
	if d.Granted {
		return nil
	}
	if d.Reason == reasonAuthRequired {
		return apperr.Unauthenticated(nil)
	}
	return apperr.Forbidden(d.Reason)
}

const reasonAuthRequired = "authentication_required"

var granted = Decision{Granted: true}

// EffectivePro reports whether u holds Pro at now. A past end date wins
// over the stored flag.
func EffectivePro(u *models.User, now time.Time) bool {
	if u == nil || !u.IsPro {
		return false
	}
	return !u.SubscriptionExpired(now)
}

// Authorize evaluates u against required. A nil u is an anonymous caller.
// Rules are checked from most to least privileged; admin status does not
// imply Pro and no tier implies admin.
func Authorize(u *models.User, required Tier, now time.Time) Decision {
	switch required {
	case Admin:
		if u == nil || !u.IsAdmin {
			return Decision{Reason: apperr.ReasonAdminRequired}
		}
		return granted
	case Pro:
		if !EffectivePro(u, now) {
			return Decision{Reason: apperr.ReasonProRequired}
		}
		return granted
	case Authenticated:
		if u == nil {
			return Decision{Reason: reasonAuthRequired}
		}
		return granted
	case Public:
		return granted
	}
	return Decision{Reason: "unknown_tier"}
}

var toolTiers = map[models.ToolType]Tier{
	models.ToolArticleWriter:     Authenticated,
	models.ToolBlogGenerator:     Authenticated,
	models.ToolImageGenerator:    Pro,
	models.ToolBackgroundRemoval: Pro,
	models.ToolObjectRemoval:     Pro,
	models.ToolResumeReviewer:    Pro,
}

// ToolTier returns the tier required to invoke tool. Unknown tools
// require Admin so a new tool is closed until it is classified.
func ToolTier(tool models.ToolType) Tier {
	if t, ok := toolTiers[tool]; ok {
		return t
	}
	return Admin
}
