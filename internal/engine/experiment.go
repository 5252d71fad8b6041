package engine

import (
	"time"

	"github.com/nudgeworks/nudge/internal/targeting"
)

// Variant is one treatment arm of an experiment.
type Variant struct {
	ID string `json:"id"`
	// Weight is the variant's relative share of traffic in [0,100].
	// Weights need not sum to 100; selection normalizes by the total.
	Weight    float64 `json:"weight"`
	IsControl bool    `json:"is_control,omitempty"`
}

// ConversionGoal names the analytics event that counts as a conversion.
type ConversionGoal struct {
	EventName    string  `json:"event_name"`
	DefaultValue float64 `json:"default_value,omitempty"`
}

// Experiment is a named A/B test definition.
type Experiment struct {
	ID       string    `json:"id"`
	Variants []Variant `json:"variants"`
	Enabled  bool      `json:"enabled"`
	// StartDate and EndDate bound the activity window. A zero EndDate
	// means the experiment runs until disabled.
	StartDate time.Time            `json:"start_date"`
	EndDate   time.Time            `json:"end_date,omitzero"`
	Goal      *ConversionGoal      `json:"goal,omitempty"`
	Targeting *targeting.Condition `json:"targeting,omitempty"`
}

// TotalWeight sums the variant weights. An experiment with total weight 0
// never enrolls.
func (e Experiment) TotalWeight() float64 {
	total := 0.0
	for _, v := range e.Variants {
		total += v.Weight
	}
	return total
}

// ActiveAt reports whether the experiment is enabled and inside its
// activity window at the given time.
func (e Experiment) ActiveAt(now time.Time) bool {
	if !e.Enabled {
		return false
	}
	if !e.StartDate.IsZero() && now.Before(e.StartDate) {
		return false
	}
	if !e.EndDate.IsZero() && now.After(e.EndDate) {
		return false
	}
	return true
}

// Enrollment is the sticky record binding this user to one variant of one
// experiment. It is immutable once created, except for the conversion
// fields which flip at most once.
type Enrollment struct {
	ExperimentID    string     `json:"experiment_id"`
	VariantID       string     `json:"variant_id"`
	EnrolledAt      time.Time  `json:"enrolled_at"`
	Converted       bool       `json:"converted,omitempty"`
	ConvertedAt     *time.Time `json:"converted_at,omitempty"`
	ConversionValue float64    `json:"conversion_value,omitempty"`
}

// Counters holds the persisted per-variant tallies. They only ever
// increase; derived statistics are recomputed from them on demand.
type Counters struct {
	Impressions int `json:"impressions"`
	Conversions int `json:"conversions"`
}
