// Package targeting decides whether a candidate's eligibility conditions are
// satisfied by the current behavior signals and session context.
package targeting

import "github.com/nudgeworks/nudge/internal/signals"

// User types understood by the UserType predicate.
const (
	UserAny       = "any"
	UserNew       = "new"
	UserReturning = "returning"
)

// Condition is a set of optional predicates. Absent predicates impose no
// constraint; all present predicates must hold.
type Condition struct {
	// PageTypes restricts eligibility to the listed page types.
	PageTypes []string `json:"page_types,omitempty"`
	// UserType is "new", "returning" or "any". Empty and "any" always match.
	UserType string `json:"user_type,omitempty"`
	// MinTimeOnPageSeconds requires at least this much time on page.
	MinTimeOnPageSeconds int `json:"min_time_on_page_seconds,omitempty"`
	// MinScrollDepthPercent requires the visitor scrolled at least this deep.
	MinScrollDepthPercent float64 `json:"min_scroll_depth_percent,omitempty"`
	// CartNotEmpty requires at least one item in the cart.
	CartNotEmpty bool `json:"cart_not_empty,omitempty"`
}

// Context is the session state a Condition is evaluated against.
type Context struct {
	PageType      string
	UserType      string
	CartItemCount int
}

// IsEligible reports whether all present predicates of cond hold for the
// given snapshot and context. It is pure: identical inputs always produce
// identical results.
func IsEligible(cond Condition, snap signals.Snapshot, ctx Context) bool {
	if len(cond.PageTypes) > 0 && !contains(cond.PageTypes, ctx.PageType) {
		return false
	}
	if cond.UserType != "" && cond.UserType != UserAny && cond.UserType != ctx.UserType {
		return false
	}
	if snap.TimeOnPageSeconds < cond.MinTimeOnPageSeconds {
		return false
	}
	if snap.ScrollDepthPercent < cond.MinScrollDepthPercent {
		return false
	}
	if cond.CartNotEmpty && ctx.CartItemCount <= 0 {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
