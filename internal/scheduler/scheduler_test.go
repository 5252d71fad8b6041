package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgeworks/nudge/internal/events"
	"github.com/nudgeworks/nudge/internal/scheduler"
	"github.com/nudgeworks/nudge/internal/signals"
	"github.com/nudgeworks/nudge/internal/targeting"
)

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

// stepClock is a clock the test advances by hand.
type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time          { return c.t }
func (c *stepClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestScheduler(kv scheduler.KV, clock scheduler.Clock) *scheduler.Scheduler {
	return scheduler.New(scheduler.SchedulerOptions{Store: kv, Clock: clock})
}

func ids(cands []scheduler.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}

func TestSelectRanksByPriorityDescending(t *testing.T) {
	s := newTestScheduler(newMapKV(), nil)

	pool := []scheduler.Candidate{
		{ID: "low", Priority: 1},
		{ID: "high", Priority: 10},
		{ID: "mid", Priority: 5},
	}

	got := s.Select(pool, signals.Snapshot{}, targeting.Context{}, scheduler.Options{})
	assert.Equal(t, []string{"high", "mid", "low"}, ids(got))
}

func TestSelectStableAmongEqualPriorities(t *testing.T) {
	s := newTestScheduler(newMapKV(), nil)

	pool := []scheduler.Candidate{
		{ID: "first", Priority: 5},
		{ID: "second", Priority: 5},
		{ID: "third", Priority: 5},
	}

	got := s.Select(pool, signals.Snapshot{}, targeting.Context{}, scheduler.Options{})
	assert.Equal(t, []string{"first", "second", "third"}, ids(got))
}

func TestSelectDeterminism(t *testing.T) {
	s := newTestScheduler(newMapKV(), nil)

	pool := []scheduler.Candidate{
		{ID: "a", Priority: 3, Targeting: targeting.Condition{MinScrollDepthPercent: 20}},
		{ID: "b", Priority: 3},
		{ID: "c", Priority: 7},
	}
	snap := signals.Snapshot{ScrollDepthPercent: 50}
	ctx := targeting.Context{PageType: "product"}
	opts := scheduler.Options{MaxCount: 2}

	first := ids(s.Select(pool, snap, ctx, opts))
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, ids(s.Select(pool, snap, ctx, opts)))
	}
}

func TestSelectFiltersIneligible(t *testing.T) {
	s := newTestScheduler(newMapKV(), nil)

	pool := []scheduler.Candidate{
		{ID: "cart-saver", Priority: 9, Targeting: targeting.Condition{CartNotEmpty: true}},
		{ID: "welcome", Priority: 1},
	}

	got := s.Select(pool, signals.Snapshot{}, targeting.Context{CartItemCount: 0}, scheduler.Options{})
	assert.Equal(t, []string{"welcome"}, ids(got))
}

func TestSelectTruncatesToMaxCount(t *testing.T) {
	s := newTestScheduler(newMapKV(), nil)

	pool := []scheduler.Candidate{
		{ID: "a", Priority: 1},
		{ID: "b", Priority: 2},
		{ID: "c", Priority: 3},
	}

	got := s.Select(pool, signals.Snapshot{}, targeting.Context{}, scheduler.Options{MaxCount: 1})
	assert.Equal(t, []string{"c"}, ids(got))
}

func TestFrequencyCap(t *testing.T) {
	clock := &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestScheduler(newMapKV(), clock)

	pool := []scheduler.Candidate{{ID: "promo", Priority: 1}}
	opts := scheduler.Options{MaxDisplays: 3}

	// Show three times; each pass still selects because the cap is not hit.
	for i := 0; i < 3; i++ {
		got := s.Select(pool, signals.Snapshot{}, targeting.Context{}, opts)
		require.Len(t, got, 1)
		s.MarkShown("promo")
		clock.Advance(time.Hour)
	}

	// The fourth attempt is never shown, even long after any cooldown.
	clock.Advance(30 * 24 * time.Hour)
	got := s.Select(pool, signals.Snapshot{}, targeting.Context{}, opts)
	assert.Empty(t, got)
}

func TestCooldownWindow(t *testing.T) {
	clock := &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestScheduler(newMapKV(), clock)

	pool := []scheduler.Candidate{{ID: "banner", Priority: 1}}
	opts := scheduler.Options{Cooldown: 10 * time.Minute}

	require.Len(t, s.Select(pool, signals.Snapshot{}, targeting.Context{}, opts), 1)
	s.MarkShown("banner")

	// Still cooling down.
	clock.Advance(5 * time.Minute)
	assert.Empty(t, s.Select(pool, signals.Snapshot{}, targeting.Context{}, opts))

	// Cooldown elapsed.
	clock.Advance(6 * time.Minute)
	assert.Len(t, s.Select(pool, signals.Snapshot{}, targeting.Context{}, opts), 1)
}

func TestConvertedSurfaceNeverShownAgain(t *testing.T) {
	clock := &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestScheduler(newMapKV(), clock)

	pool := []scheduler.Candidate{{ID: "exit-offer", Priority: 1}}

	require.Len(t, s.Select(pool, signals.Snapshot{}, targeting.Context{}, scheduler.Options{}), 1)
	s.MarkConverted("exit-offer")

	// Converted surfaces stay suppressed regardless of counters or time.
	clock.Advance(365 * 24 * time.Hour)
	assert.Empty(t, s.Select(pool, signals.Snapshot{}, targeting.Context{}, scheduler.Options{}))
}

func TestMarkShownPersistsState(t *testing.T) {
	kv := newMapKV()
	clock := &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestScheduler(kv, clock)

	s.MarkShown("promo")
	s.MarkShown("promo")

	state := s.DisplayState("promo")
	assert.Equal(t, 2, state.DisplayCount)
	assert.Equal(t, clock.Now(), state.LastShownAt)

	// A fresh scheduler over the same store sees the same state.
	s2 := newTestScheduler(kv, clock)
	assert.Equal(t, state, s2.DisplayState("promo"))
}

func TestCorruptDisplayStateFailsOpen(t *testing.T) {
	kv := newMapKV()
	kv.m["nudge:display:promo"] = "{broken"
	s := newTestScheduler(kv, nil)

	state := s.DisplayState("promo")
	assert.Zero(t, state.DisplayCount)
	assert.False(t, state.HasConverted)
}

func TestMarkEventsFlowThroughSink(t *testing.T) {
	sink := &events.Capture{}
	s := scheduler.New(scheduler.SchedulerOptions{Store: newMapKV(), Sink: sink})

	s.MarkShown("promo")
	s.MarkConverted("promo")
	s.MarkConverted("promo") // suppressed, already converted

	shown := sink.Named(scheduler.EventShown)
	require.Len(t, shown, 1)
	assert.Equal(t, "promo", shown[0].Props["surface_id"])
	assert.Equal(t, 1, shown[0].Props["count"])
	assert.Len(t, sink.Named(scheduler.EventConverted), 1)
}
