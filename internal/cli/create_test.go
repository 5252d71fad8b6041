package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVariants(t *testing.T) {
	variants, err := parseVariants("control:50,treatment:50", "control")
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, "control", variants[0].ID)
	assert.Equal(t, 50.0, variants[0].Weight)
	assert.True(t, variants[0].IsControl)
	assert.False(t, variants[1].IsControl)
}

func TestParseVariantsEvenSplit(t *testing.T) {
	variants, err := parseVariants("none, timer, stock", "")
	require.NoError(t, err)
	require.Len(t, variants, 3)
	for _, v := range variants {
		assert.InDelta(t, 100.0/3, v.Weight, 0.001)
	}
}

func TestParseVariantsErrors(t *testing.T) {
	// Mixed weighted and unweighted.
	_, err := parseVariants("a:50,b", "")
	assert.Error(t, err)

	// Weight out of range.
	_, err = parseVariants("a:150,b:50", "")
	assert.Error(t, err)

	// Control not in the list.
	_, err = parseVariants("a:50,b:50", "c")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := parseDate("", fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, got)

	got, err = parseDate("2026-06-15", fallback)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC), got)

	_, err = parseDate("June 15", fallback)
	assert.Error(t, err)
}

func TestBuildTargeting(t *testing.T) {
	// All-empty input means no targeting at all.
	assert.Nil(t, buildTargeting("", "", 0, 0, false))

	cond := buildTargeting("product, cart", "new", 30, 50, true)
	require.NotNil(t, cond)
	assert.Equal(t, []string{"product", "cart"}, cond.PageTypes)
	assert.Equal(t, "new", cond.UserType)
	assert.Equal(t, 30, cond.MinTimeOnPageSeconds)
	assert.Equal(t, 50.0, cond.MinScrollDepthPercent)
	assert.True(t, cond.CartNotEmpty)
}

func TestParseRates(t *testing.T) {
	rates, err := parseRates("control=0.10,treatment=0.16")
	require.NoError(t, err)
	assert.Equal(t, 0.10, rates["control"])
	assert.Equal(t, 0.16, rates["treatment"])

	rates, err = parseRates("")
	require.NoError(t, err)
	assert.Empty(t, rates)

	_, err = parseRates("control")
	assert.Error(t, err)

	_, err = parseRates("control=1.5")
	assert.Error(t, err)
}
