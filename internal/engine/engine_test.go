package engine_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgeworks/nudge/internal/engine"
	"github.com/nudgeworks/nudge/internal/events"
)

// mapKV is a minimal in-memory KV for tests.
type mapKV struct {
	m map[string]string
}

func newMapKV() *mapKV { return &mapKV{m: make(map[string]string)} }

func (kv *mapKV) Get(key string) (string, bool, error) {
	v, ok := kv.m[key]
	return v, ok, nil
}

func (kv *mapKV) Set(key, value string) error {
	kv.m[key] = value
	return nil
}

// fixedClock always reports the same instant.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func twoVariantExperiment() engine.Experiment {
	return engine.Experiment{
		ID:      "checkout-cta",
		Enabled: true,
		Variants: []engine.Variant{
			{ID: "control", Weight: 50, IsControl: true},
			{ID: "treatment", Weight: 50},
		},
		Goal: &engine.ConversionGoal{EventName: "checkout_completed", DefaultValue: 1},
	}
}

func newTestEngine(kv engine.KV, sink engine.Sink) *engine.Engine {
	return engine.New(engine.Options{
		Store:  kv,
		Clock:  fixedClock{t: testNow},
		Rand:   engine.NewSeededRand(1),
		Sink:   sink,
		Logger: slog.Default(),
	})
}

func TestWeightedSelectionFairness(t *testing.T) {
	def := engine.Experiment{
		ID:      "weights",
		Enabled: true,
		Variants: []engine.Variant{
			{ID: "a", Weight: 30},
			{ID: "b", Weight: 70},
		},
	}

	rng := engine.NewSeededRand(42)
	const draws = 10000
	countA := 0
	for i := 0; i < draws; i++ {
		e := engine.New(engine.Options{Store: newMapKV(), Rand: rng})
		e.RegisterExperiments([]engine.Experiment{def})
		v := e.GetVariant("weights")
		require.NotNil(t, v)
		if v.ID == "a" {
			countA++
		}
	}

	share := float64(countA) / draws
	assert.InDelta(t, 0.30, share, 0.02)
}

func TestStickyBucketing(t *testing.T) {
	kv := newMapKV()
	e := newTestEngine(kv, nil)
	e.RegisterExperiments([]engine.Experiment{twoVariantExperiment()})

	first := e.GetVariant("checkout-cta")
	require.NotNil(t, first)

	for i := 0; i < 20; i++ {
		v := e.GetVariant("checkout-cta")
		require.NotNil(t, v)
		assert.Equal(t, first.ID, v.ID)
	}

	// A fresh engine over the same store (a page reload) sees the same
	// enrollment and does not count another impression.
	e2 := newTestEngine(kv, nil)
	e2.RegisterExperiments([]engine.Experiment{twoVariantExperiment()})
	v := e2.GetVariant("checkout-cta")
	require.NotNil(t, v)
	assert.Equal(t, first.ID, v.ID)

	results := e2.Results("checkout-cta")
	total := 0
	for _, vr := range results.Variants {
		total += vr.Impressions
	}
	assert.Equal(t, 1, total)
}

func TestEnrollmentEmitsEvent(t *testing.T) {
	sink := &events.Capture{}
	e := newTestEngine(newMapKV(), sink)
	e.RegisterExperiments([]engine.Experiment{twoVariantExperiment()})

	v := e.GetVariant("checkout-cta")
	require.NotNil(t, v)

	emitted := sink.Named(engine.EventEnrollment)
	require.Len(t, emitted, 1)
	assert.Equal(t, "checkout-cta", emitted[0].Props["experiment_id"])
	assert.Equal(t, v.ID, emitted[0].Props["variant_id"])
}

func TestIdempotentConversion(t *testing.T) {
	e := newTestEngine(newMapKV(), nil)
	e.RegisterExperiments([]engine.Experiment{twoVariantExperiment()})
	v := e.GetVariant("checkout-cta")
	require.NotNil(t, v)

	e.RecordConversion("checkout-cta", "checkout_completed")
	e.RecordConversion("checkout-cta", "checkout_completed")
	e.RecordConversion("checkout-cta", "checkout_completed", 49.99)

	results := e.Results("checkout-cta")
	total := 0
	for _, vr := range results.Variants {
		total += vr.Conversions
	}
	assert.Equal(t, 1, total)

	enr, ok := e.Enrollment("checkout-cta")
	require.True(t, ok)
	assert.True(t, enr.Converted)
	assert.Equal(t, 1.0, enr.ConversionValue)
}

func TestConversionRequiresMatchingGoal(t *testing.T) {
	e := newTestEngine(newMapKV(), nil)
	e.RegisterExperiments([]engine.Experiment{twoVariantExperiment()})
	require.NotNil(t, e.GetVariant("checkout-cta"))

	// Non-matching events are silently ignored, not errors.
	e.RecordConversion("checkout-cta", "newsletter_signup")

	enr, _ := e.Enrollment("checkout-cta")
	assert.False(t, enr.Converted)
}

func TestConversionWithoutEnrollmentIsNoop(t *testing.T) {
	e := newTestEngine(newMapKV(), nil)
	e.RegisterExperiments([]engine.Experiment{twoVariantExperiment()})

	e.RecordConversion("checkout-cta", "checkout_completed")

	results := e.Results("checkout-cta")
	for _, vr := range results.Variants {
		assert.Zero(t, vr.Conversions)
	}
}

func TestDisabledExperimentNeverEnrolls(t *testing.T) {
	def := twoVariantExperiment()
	def.Enabled = false

	e := newTestEngine(newMapKV(), nil)
	e.RegisterExperiments([]engine.Experiment{def})

	assert.Nil(t, e.GetVariant("checkout-cta"))
}

func TestActivityWindowGating(t *testing.T) {
	future := twoVariantExperiment()
	future.ID = "future"
	future.StartDate = testNow.Add(24 * time.Hour)

	expired := twoVariantExperiment()
	expired.ID = "expired"
	expired.StartDate = testNow.Add(-48 * time.Hour)
	expired.EndDate = testNow.Add(-24 * time.Hour)

	open := twoVariantExperiment()
	open.ID = "open"
	open.StartDate = testNow.Add(-24 * time.Hour)

	e := newTestEngine(newMapKV(), nil)
	e.RegisterExperiments([]engine.Experiment{future, expired, open})

	assert.Nil(t, e.GetVariant("future"))
	assert.Nil(t, e.GetVariant("expired"))
	assert.NotNil(t, e.GetVariant("open"))
}

func TestZeroWeightNeverEnrolls(t *testing.T) {
	def := engine.Experiment{
		ID:      "dead",
		Enabled: true,
		Variants: []engine.Variant{
			{ID: "a", Weight: 0},
			{ID: "b", Weight: 0},
		},
	}
	empty := engine.Experiment{ID: "empty", Enabled: true}

	e := newTestEngine(newMapKV(), nil)
	e.RegisterExperiments([]engine.Experiment{def, empty})

	assert.Nil(t, e.GetVariant("dead"))
	assert.Nil(t, e.GetVariant("empty"))
	assert.Nil(t, e.GetVariant("unknown"))
}

func TestCorruptStateFailsOpen(t *testing.T) {
	kv := newMapKV()
	kv.m["nudge:enrollments"] = "{not json"
	kv.m["nudge:results"] = "also not json"

	e := newTestEngine(kv, nil)
	e.RegisterExperiments([]engine.Experiment{twoVariantExperiment()})

	// Corrupt persisted state is treated as absent, never propagated.
	v := e.GetVariant("checkout-cta")
	require.NotNil(t, v)

	results := e.Results("checkout-cta")
	require.NotNil(t, results)
}

func TestReRegisterKeepsEnrollmentAndCounters(t *testing.T) {
	kv := newMapKV()
	e := newTestEngine(kv, nil)
	e.RegisterExperiments([]engine.Experiment{twoVariantExperiment()})

	v := e.GetVariant("checkout-cta")
	require.NotNil(t, v)
	e.RecordConversion("checkout-cta", "checkout_completed")

	// Replace the definition; enrollment and counters must survive.
	updated := twoVariantExperiment()
	updated.Goal.EventName = "purchase"
	e.RegisterExperiments([]engine.Experiment{updated})

	v2 := e.GetVariant("checkout-cta")
	require.NotNil(t, v2)
	assert.Equal(t, v.ID, v2.ID)

	results := e.Results("checkout-cta")
	conv := 0
	for _, vr := range results.Variants {
		conv += vr.Conversions
	}
	assert.Equal(t, 1, conv)
}

func TestResultsRates(t *testing.T) {
	e := newTestEngine(newMapKV(), nil)
	e.RegisterExperiments([]engine.Experiment{twoVariantExperiment()})

	// Results are derived purely from counters, so an experiment with no
	// traffic reports zero rates without errors.
	results := e.Results("checkout-cta")
	require.NotNil(t, results)
	for _, vr := range results.Variants {
		assert.Zero(t, vr.Rate)
	}
	assert.Nil(t, e.Results("unknown"))
}

func TestReset(t *testing.T) {
	e := newTestEngine(newMapKV(), nil)
	e.RegisterExperiments([]engine.Experiment{twoVariantExperiment()})

	require.NotNil(t, e.GetVariant("checkout-cta"))
	e.RecordConversion("checkout-cta", "checkout_completed")

	e.Reset("checkout-cta")

	_, enrolled := e.Enrollment("checkout-cta")
	assert.False(t, enrolled)

	results := e.Results("checkout-cta")
	for _, vr := range results.Variants {
		assert.Zero(t, vr.Impressions)
		assert.Zero(t, vr.Conversions)
	}

	// After the reset the user can enroll again.
	assert.NotNil(t, e.GetVariant("checkout-cta"))
}
