// Package engine owns experiment definitions, sticky variant enrollment,
// and conversion accounting for one user session.
package engine

import (
	"encoding/json"
	"sync"
	"log/slog"
	"math/rand"
	"time"

	"github.com/nudgeworks/nudge/internal/stats"
)

// Event names emitted through the Sink.
const (
	EventEnrollment = "ab_test_enrollment"
	EventConversion = "ab_test_conversion"
)

// Options configures an Engine. Store is required; every other field has a
// working default.
type Options struct {
	Store KV
	Clock Clock
	Rand  Rand
	Sink  Sink
	// Namespace prefixes all persisted keys. Defaults to "nudge".
	Namespace string
	Logger    *slog.Logger
}

// Engine assigns users to experiment variants and records conversions.
// All state lives in the injected KV store, so results are recomputable
// from the persisted counters alone.
//
// The engine performs no locking against other processes sharing the same
// store: two sessions enrolling concurrently for the same experiment can
// each count an impression. Within one Engine instance all mutation is
// serialized.
type Engine struct {
	mu     sync.Mutex
	store  KV
	clock  Clock
	rand   Rand
	sink   Sink
	logger *slog.Logger

	ns    string
	defs  map[string]Experiment
	order []string
}

// New creates an Engine. Misconfigured experiments degrade to "no test
// running" rather than returning errors from lookups.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Rand == nil {
		opts.Rand = systemRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Namespace == "" {
		opts.Namespace = "nudge"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:  opts.Store,
		clock:  opts.Clock,
		rand:   opts.Rand,
		sink:   opts.Sink,
		logger: opts.Logger,
		ns:     opts.Namespace,
		defs:   make(map[string]Experiment),
	}
}

func (e *Engine) enrollmentsKey() string { return e.ns + ":enrollments" }
func (e *Engine) resultsKey() string     { return e.ns + ":results" }

// RegisterExperiments registers or replaces experiment definitions.
// Re-registering an ID replaces its definition but never touches its
// existing enrollment or counters. Counters are initialized to zero for
// variants seen for the first time.
func (e *Engine) RegisterExperiments(defs []Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()

	counters := e.loadCounters()
	changed := false

	for _, def := range defs {
		if def.ID == "" {
			continue
		}
		if _, seen := e.defs[def.ID]; !seen {
			e.order = append(e.order, def.ID)
		}
		e.defs[def.ID] = def

		if counters[def.ID] == nil {
			counters[def.ID] = make(map[string]Counters)
		}
		for _, v := range def.Variants {
			if _, ok := counters[def.ID][v.ID]; !ok {
				counters[def.ID][v.ID] = Counters{}
				changed = true
			}
		}
	}

	if changed {
		e.saveCounters(counters)
	}
}

// Definition returns a registered experiment definition.
func (e *Engine) Definition(experimentID string) (Experiment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.defs[experimentID]
	return def, ok
}

// Experiments returns all registered definitions in registration order.
func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Experiment, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.defs[id])
	}
	return out
}

// GetVariant returns the variant this user is bucketed into, enrolling on
// first call. It returns nil when the experiment is unknown, disabled,
// outside its activity window, or has zero total weight — callers must
// treat nil as "no test running", not as an error.
func (e *Engine) GetVariant(experimentID string) *Variant {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.defs[experimentID]
	if !ok {
		return nil
	}

	// Disabled or out-of-window experiments stop serving even for
	// already-enrolled users; the enrollment itself stays persisted.
	if !def.ActiveAt(e.clock.Now()) {
		return nil
	}

	enrollments := e.loadEnrollments()
	if enr, ok := enrollments[experimentID]; ok {
		return e.variantByID(def, enr.VariantID)
	}

	if def.TotalWeight() <= 0 {
		return nil
	}

	enr := e.enroll(def, enrollments)
	return e.variantByID(def, enr.VariantID)
}

// Enroll buckets the user into the experiment if not already enrolled and
// the experiment is active. It is a no-op otherwise.
func (e *Engine) Enroll(experimentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.defs[experimentID]
	if !ok {
		return
	}
	enrollments := e.loadEnrollments()
	if _, ok := enrollments[experimentID]; ok {
		return
	}
	if !def.ActiveAt(e.clock.Now()) || def.TotalWeight() <= 0 {
		return
	}
	e.enroll(def, enrollments)
}

// enroll performs the weighted random draw, persists the enrollment, and
// counts exactly one impression. Draw r uniform over the total weight,
// then walk variants in definition order subtracting each weight; the
// first variant driving the remainder to zero or below is selected, so
// selection probability is proportional to weight.
func (e *Engine) enroll(def Experiment, enrollments map[string]Enrollment) Enrollment {
	r := e.rand.Float64() * def.TotalWeight()
	selected := def.Variants[len(def.Variants)-1]
	for _, v := range def.Variants {
		r -= v.Weight
		if r <= 0 {
			selected = v
			break
		}
	}

	enr := Enrollment{
		ExperimentID: def.ID,
		VariantID:    selected.ID,
		EnrolledAt:   e.clock.Now(),
	}
	enrollments[def.ID] = enr
	e.saveEnrollments(enrollments)

	counters := e.loadCounters()
	if counters[def.ID] == nil {
		counters[def.ID] = make(map[string]Counters)
	}
	c := counters[def.ID][selected.ID]
	c.Impressions++
	counters[def.ID][selected.ID] = c
	e.saveCounters(counters)

	e.sink.Emit(EventEnrollment, map[string]any{
		"category":      "ab_test",
		"label":         def.ID,
		"experiment_id": def.ID,
		"variant_id":    selected.ID,
	})
	return enr
}

// RecordConversion marks the user's enrollment converted and increments
// the variant's conversion counter. It is a no-op when the user is not
// enrolled, already converted, or eventName does not match the
// experiment's conversion goal. Conversions count at most once per user
// per experiment.
func (e *Engine) RecordConversion(experimentID, eventName string, value ...float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.defs[experimentID]
	if !ok {
		return
	}
	if def.Goal == nil || def.Goal.EventName != eventName {
		return
	}

	enrollments := e.loadEnrollments()
	enr, ok := enrollments[experimentID]
	if !ok || enr.Converted {
		return
	}

	now := e.clock.Now()
	enr.Converted = true
	enr.ConvertedAt = &now
	enr.ConversionValue = def.Goal.DefaultValue
	if len(value) > 0 {
		enr.ConversionValue = value[0]
	}
	enrollments[experimentID] = enr
	e.saveEnrollments(enrollments)

	counters := e.loadCounters()
	if counters[experimentID] == nil {
		counters[experimentID] = make(map[string]Counters)
	}
	c := counters[experimentID][enr.VariantID]
	c.Conversions++
	counters[experimentID][enr.VariantID] = c
	e.saveCounters(counters)

	e.sink.Emit(EventConversion, map[string]any{
		"category":      "ab_test",
		"label":         experimentID,
		"experiment_id": experimentID,
		"variant_id":    enr.VariantID,
		"value":         enr.ConversionValue,
	})
}

// Enrollment returns this user's enrollment for the experiment, if any.
func (e *Engine) Enrollment(experimentID string) (Enrollment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	enr, ok := e.loadEnrollments()[experimentID]
	return enr, ok
}

// Results recomputes the experiment's statistics from the persisted
// counters. Returns nil for unknown experiments.
func (e *Engine) Results(experimentID string) *stats.Results {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.defs[experimentID]
	if !ok {
		return nil
	}

	counters := e.loadCounters()[experimentID]
	counts := make([]stats.VariantCount, len(def.Variants))
	for i, v := range def.Variants {
		c := counters[v.ID]
		counts[i] = stats.VariantCount{
			ID:          v.ID,
			IsControl:   v.IsControl,
			Impressions: c.Impressions,
			Conversions: c.Conversions,
		}
	}
	return stats.Analyze(counts)
}

// Reset deletes the user's enrollment and zeroes the counters for one
// experiment. This is the only path that ever removes an enrollment.
func (e *Engine) Reset(experimentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	enrollments := e.loadEnrollments()
	delete(enrollments, experimentID)
	e.saveEnrollments(enrollments)

	counters := e.loadCounters()
	if def, ok := e.defs[experimentID]; ok {
		fresh := make(map[string]Counters, len(def.Variants))
		for _, v := range def.Variants {
			fresh[v.ID] = Counters{}
		}
		counters[experimentID] = fresh
	} else {
		delete(counters, experimentID)
	}
	e.saveCounters(counters)
}

// loadEnrollments reads the enrollment collection, failing open to an
// empty map on missing keys or corrupt JSON.
func (e *Engine) loadEnrollments() map[string]Enrollment {
	out := make(map[string]Enrollment)
	raw, ok, err := e.store.Get(e.enrollmentsKey())
	if err != nil || !ok {
		if err != nil {
			e.logger.Debug("enrollment read failed, starting empty", "error", err)
		}
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		e.logger.Debug("corrupt enrollment state discarded", "error", err)
		return make(map[string]Enrollment)
	}
	return out
}

func (e *Engine) saveEnrollments(m map[string]Enrollment) {
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := e.store.Set(e.enrollmentsKey(), string(raw)); err != nil {
		e.logger.Debug("enrollment write failed", "error", err)
	}
}

func (e *Engine) loadCounters() map[string]map[string]Counters {
	out := make(map[string]map[string]Counters)
	raw, ok, err := e.store.Get(e.resultsKey())
	if err != nil || !ok {
		if err != nil {
			e.logger.Debug("counter read failed, starting empty", "error", err)
		}
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		e.logger.Debug("corrupt counter state discarded", "error", err)
		return make(map[string]map[string]Counters)
	}
	return out
}

func (e *Engine) saveCounters(m map[string]map[string]Counters) {
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := e.store.Set(e.resultsKey(), string(raw)); err != nil {
		e.logger.Debug("counter write failed", "error", err)
	}
}

// variantByID returns the definition's variant with the given ID. When a
// re-registered definition no longer lists the enrolled variant, the
// enrollment still wins: a synthesized variant with that ID is returned.
func (e *Engine) variantByID(def Experiment, id string) *Variant {
	for i := range def.Variants {
		if def.Variants[i].ID == id {
			v := def.Variants[i]
			return &v
		}
	}
	return &Variant{ID: id}
}
