package targeting_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nudgeworks/nudge/internal/signals"
	"github.com/nudgeworks/nudge/internal/targeting"
)

func TestEmptyConditionAlwaysEligible(t *testing.T) {
	ok := targeting.IsEligible(targeting.Condition{}, signals.Snapshot{}, targeting.Context{})
	assert.True(t, ok)
}

func TestAllPredicatesMustHold(t *testing.T) {
	cond := targeting.Condition{
		PageTypes:             []string{"product"},
		MinScrollDepthPercent: 50,
	}
	ctx := targeting.Context{PageType: "product"}

	// Both hold.
	assert.True(t, targeting.IsEligible(cond, signals.Snapshot{ScrollDepthPercent: 60}, ctx))

	// Scroll predicate fails.
	assert.False(t, targeting.IsEligible(cond, signals.Snapshot{ScrollDepthPercent: 40}, ctx))

	// Page predicate fails.
	assert.False(t, targeting.IsEligible(cond,
		signals.Snapshot{ScrollDepthPercent: 60},
		targeting.Context{PageType: "checkout"}))
}

func TestThresholdsAreInclusive(t *testing.T) {
	cond := targeting.Condition{
		MinTimeOnPageSeconds:  30,
		MinScrollDepthPercent: 50,
	}
	snap := signals.Snapshot{TimeOnPageSeconds: 30, ScrollDepthPercent: 50}
	assert.True(t, targeting.IsEligible(cond, snap, targeting.Context{}))

	snap.TimeOnPageSeconds = 29
	assert.False(t, targeting.IsEligible(cond, snap, targeting.Context{}))
}

func TestUserTypePredicate(t *testing.T) {
	newUser := targeting.Context{UserType: targeting.UserNew}
	returning := targeting.Context{UserType: targeting.UserReturning}

	cond := targeting.Condition{UserType: targeting.UserNew}
	assert.True(t, targeting.IsEligible(cond, signals.Snapshot{}, newUser))
	assert.False(t, targeting.IsEligible(cond, signals.Snapshot{}, returning))

	// "any" matches every user type.
	cond.UserType = targeting.UserAny
	assert.True(t, targeting.IsEligible(cond, signals.Snapshot{}, newUser))
	assert.True(t, targeting.IsEligible(cond, signals.Snapshot{}, returning))
}

func TestCartNotEmptyPredicate(t *testing.T) {
	cond := targeting.Condition{CartNotEmpty: true}

	assert.False(t, targeting.IsEligible(cond, signals.Snapshot{}, targeting.Context{CartItemCount: 0}))
	assert.True(t, targeting.IsEligible(cond, signals.Snapshot{}, targeting.Context{CartItemCount: 2}))
}

func TestDeterminism(t *testing.T) {
	cond := targeting.Condition{
		PageTypes:            []string{"product", "cart"},
		UserType:             targeting.UserReturning,
		MinTimeOnPageSeconds: 10,
	}
	snap := signals.Snapshot{TimeOnPageSeconds: 15}
	ctx := targeting.Context{PageType: "cart", UserType: targeting.UserReturning}

	first := targeting.IsEligible(cond, snap, ctx)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, targeting.IsEligible(cond, snap, ctx))
	}
}
