package engine

import (
	"math/rand"
	"time"
)

// KV is the persisted key-value store the engine writes enrollments and
// counters to. Values are JSON strings. Implementations must treat Get on
// a missing key as (_, false, nil).
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// Clock supplies the current time. Substitutable for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Rand draws uniform floats in [0,1). Substitutable with a seeded source
// for deterministic tests of weighted selection.
type Rand interface {
	Float64() float64
}

type systemRand struct{ r *rand.Rand }

func (s systemRand) Float64() float64 { return s.r.Float64() }

// NewSeededRand returns a Rand backed by math/rand with the given seed.
func NewSeededRand(seed int64) Rand {
	return systemRand{r: rand.New(rand.NewSource(seed))}
}

// Sink receives analytics events. Calls are fire-and-forget; the engine
// never inspects a response.
type Sink interface {
	Emit(name string, props map[string]any)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(string, map[string]any) {}
