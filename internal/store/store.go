// Package store persists experiment definitions, beacon events, and the
// namespaced key-value state consumed by the engine and scheduler.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nudgeworks/nudge/internal/engine"
)

var ErrNotFound = errors.New("not found")

// State is the server-side lifecycle of an experiment.
type State string

const (
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
)

// Beacon event types accepted by the collection server.
const (
	EventEnroll  = "enroll"
	EventConvert = "convert"
)

// Record wraps an experiment definition with its lifecycle metadata.
type Record struct {
	Experiment      engine.Experiment
	State           State
	WinnerVariantID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Store is the full persistence contract: the KV port used by the engine
// and scheduler, definition CRUD for the CLI and server, and the beacon
// event log.
type Store interface {
	// KV port (engine.KV / scheduler.KV).
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error

	// Experiment definitions.
	SaveExperiment(ctx context.Context, def engine.Experiment) error
	GetExperiment(ctx context.Context, id string) (*Record, error)
	ListExperiments(ctx context.Context) ([]*Record, error)
	SetState(ctx context.Context, id string, state State) error
	SetWinner(ctx context.Context, id, variantID string) error
	// Reopen clears a declared winner and puts the experiment back in
	// the running state.
	Reopen(ctx context.Context, id string) error
	DeleteExperiment(ctx context.Context, id string) error

	// Beacon events. RecordEvent deduplicates on
	// (experiment, visitor, event type).
	RecordEvent(ctx context.Context, experimentID, variantID, eventType, visitorID string, value float64) error
	VariantCounts(ctx context.Context, experimentID string) (map[string]engine.Counters, error)
	DeleteEvents(ctx context.Context, experimentID string) error

	Close() error
}
