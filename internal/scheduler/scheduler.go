// Package scheduler picks which CTAs and urgency surfaces to display: it
// filters candidates by targeting eligibility, enforces per-surface
// frequency caps, ranks by priority, and truncates to the display budget.
package scheduler

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/nudgeworks/nudge/internal/signals"
	"github.com/nudgeworks/nudge/internal/targeting"
)

// Event names emitted through the Sink.
const (
	EventShown     = "surface_shown"
	EventConverted = "surface_converted"
)

// KV is the persisted store for display state. Same contract as the
// engine's store port.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Sink receives analytics events.
type Sink interface {
	Emit(name string, props map[string]any)
}

// Candidate is a CTA variant or urgency indicator competing for a display
// slot. Payload is opaque display metadata the scheduler never interprets.
type Candidate struct {
	ID string `json:"id"`
	// Priority ranks candidates; higher wins. Candidates with equal
	// priority keep their pool order.
	Priority  int                 `json:"priority"`
	Targeting targeting.Condition `json:"targeting"`
	Payload   map[string]string   `json:"payload,omitempty"`
	// Duration bounds time-limited offers; zero means unbounded.
	Duration time.Duration `json:"duration,omitempty"`
}

// DisplayState tracks how often one surface has been shown to this user.
type DisplayState struct {
	DisplayCount int       `json:"display_count"`
	LastShownAt  time.Time `json:"last_shown_at,omitzero"`
	HasConverted bool      `json:"has_converted,omitempty"`
}

// Options bounds one selection pass.
type Options struct {
	// MaxCount truncates the ranked result. Zero or negative means no limit.
	MaxCount int
	// MaxDisplays caps how many times a surface may ever be shown.
	// Zero or negative means uncapped.
	MaxDisplays int
	// Cooldown is the minimum spacing between two showings of the same
	// surface. Emergency-priority surfaces typically configure a shorter
	// one.
	Cooldown time.Duration
}

// Scheduler selects display surfaces. It is trigger-agnostic: exit intent,
// deep scroll, or timed triggers all just invoke Select once per
// qualifying trigger.
type Scheduler struct {
	store  KV
	clock  Clock
	sink   Sink
	logger *slog.Logger
	ns     string
}

// SchedulerOptions configures a Scheduler. Store is required.
type SchedulerOptions struct {
	Store KV
	Clock Clock
	Sink  Sink
	// Namespace prefixes display-state keys. Defaults to "nudge".
	Namespace string
	Logger    *slog.Logger
}

// New creates a Scheduler.
func New(opts SchedulerOptions) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Namespace == "" {
		opts.Namespace = "nudge"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		store:  opts.Store,
		clock:  opts.Clock,
		sink:   opts.Sink,
		logger: opts.Logger,
		ns:     opts.Namespace,
	}
}

func (s *Scheduler) displayKey(surfaceID string) string {
	return s.ns + ":display:" + surfaceID
}

// Select returns the candidates to display, ranked by priority descending
// and truncated to opts.MaxCount. A candidate is dropped when its
// targeting conditions fail, it has already converted, its display count
// reached opts.MaxDisplays, or it was shown within opts.Cooldown.
// Identical inputs always produce the identical ordered subset.
func (s *Scheduler) Select(pool []Candidate, snap signals.Snapshot, ctx targeting.Context, opts Options) []Candidate {
	now := s.clock.Now()

	eligible := make([]Candidate, 0, len(pool))
	for _, c := range pool {
		if !targeting.IsEligible(c.Targeting, snap, ctx) {
			continue
		}

		state := s.DisplayState(c.ID)
		if state.HasConverted {
			continue
		}
		if opts.MaxDisplays > 0 && state.DisplayCount >= opts.MaxDisplays {
			continue
		}
		if opts.Cooldown > 0 && !state.LastShownAt.IsZero() && now.Sub(state.LastShownAt) < opts.Cooldown {
			continue
		}
		eligible = append(eligible, c)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Priority > eligible[j].Priority
	})

	if opts.MaxCount > 0 && len(eligible) > opts.MaxCount {
		eligible = eligible[:opts.MaxCount]
	}
	return eligible
}

// MarkShown records an actual display of the surface: it increments the
// display count, stamps the showing time, persists the state, and emits a
// shown event. Callers invoke it only for candidates returned by Select,
// which keeps the display count within the configured cap.
func (s *Scheduler) MarkShown(surfaceID string) {
	state := s.DisplayState(surfaceID)
	state.DisplayCount++
	state.LastShownAt = s.clock.Now()
	s.save(surfaceID, state)

	if s.sink != nil {
		s.sink.Emit(EventShown, map[string]any{
			"category":   "surface",
			"label":      surfaceID,
			"surface_id": surfaceID,
			"count":      state.DisplayCount,
		})
	}
}

// MarkConverted permanently suppresses the surface for this user.
func (s *Scheduler) MarkConverted(surfaceID string) {
	state := s.DisplayState(surfaceID)
	if state.HasConverted {
		return
	}
	state.HasConverted = true
	s.save(surfaceID, state)

	if s.sink != nil {
		s.sink.Emit(EventConverted, map[string]any{
			"category":   "surface",
			"label":      surfaceID,
			"surface_id": surfaceID,
		})
	}
}

// DisplayState loads the persisted state for one surface, failing open to
// a zero state on missing keys or corrupt JSON.
func (s *Scheduler) DisplayState(surfaceID string) DisplayState {
	var state DisplayState
	raw, ok, err := s.store.Get(s.displayKey(surfaceID))
	if err != nil || !ok {
		if err != nil {
			s.logger.Debug("display state read failed, starting empty", "surface", surfaceID, "error", err)
		}
		return state
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		s.logger.Debug("corrupt display state discarded", "surface", surfaceID, "error", err)
		return DisplayState{}
	}
	return state
}

func (s *Scheduler) save(surfaceID string, state DisplayState) {
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := s.store.Set(s.displayKey(surfaceID), string(raw)); err != nil {
		s.logger.Debug("display state write failed", "surface", surfaceID, "error", err)
	}
}
