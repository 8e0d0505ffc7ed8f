package priors

import (
	"time"

	"github.com/markerlab/reconciler/internal/marker"
)

// #region types

// Source records where a prior's information came from.
type Source string

const (
	SourcePopulation     Source = "population"
	SourceMeasurement    Source = "measurement"
	SourceInferredStable Source = "inferred_stable"
)

// Distribution is a Gaussian belief about a marker. Std is the
// full-strength standard deviation; the effective std at read time is
// widened by decay (see Decayed).
type Distribution struct {
	Marker    marker.ID `json:"marker"`
	Mean      float64   `json:"mean"`
	Std       float64   `json:"std"`
	Source    Source    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"` // start of the decay clock
	Points    int       `json:"points"`     // observations folded in
}

// Decayed is a distribution read at a point in time: the stored belief
// widened by elapsed decay.
type Decayed struct {
	Distribution
	Strength    float64 `json:"strength"`     // exp-decay weight in [0.01, 1]
	DecayedStd  float64 `json:"decayed_std"`  // Std / sqrt(Strength)
	ElapsedDays float64 `json:"elapsed_days"`
}

// Store persists per-subject, per-marker distributions. Absence is
// reported via ok=false, never an error.
type Store interface {
	GetPrior(subject string, m marker.ID) (Distribution, bool, error)
	PutPrior(subject string, d Distribution) error
}

// #endregion types
