package config

import "github.com/markerlab/reconciler/internal/marker"

// #region registry types

// VelocityClass buckets how fast a marker can plausibly move.
type VelocityClass string

const (
	VelocityFast     VelocityClass = "fast"
	VelocityModerate VelocityClass = "moderate"
	VelocitySlow     VelocityClass = "slow"
	VelocityVerySlow VelocityClass = "very_slow"
)

// JustificationWindowDays returns how far back a life event can still
// justify an otherwise-implausible change for the class.
func (v VelocityClass) JustificationWindowDays() float64 {
	switch v {
	case VelocityFast:
		return 3
	case VelocityModerate:
		return 14
	case VelocitySlow:
		return 30
	default:
		return 90
	}
}

// Kinetics bounds a marker's plausible rate of change.
type Kinetics struct {
	Class VelocityClass `yaml:"class"`
	// MaxDailyFraction caps per-day drift as a fraction of the current
	// value. MaxDailyAbsolute is a floor in marker units so low-valued
	// markers are not frozen.
	MaxDailyFraction   float64 `yaml:"max_daily_fraction"`
	MaxDailyAbsolute   float64 `yaml:"max_daily_absolute"`
	StabilityThreshold float64 `yaml:"stability_threshold"` // CV under this counts as stable
	MinBaselineDays    float64 `yaml:"min_baseline_days"`
}

// PopulationPrior is the cold-start distribution for a marker.
type PopulationPrior struct {
	Mean float64 `yaml:"mean"`
	Std  float64 `yaml:"std"`
	Unit string  `yaml:"unit,omitempty"`
}

// BaselineRequirement sets the data adequacy floor for a personal
// baseline.
type BaselineRequirement struct {
	MinPoints     int     `yaml:"min_points"`
	MinDays       int     `yaml:"min_days"`
	MinSpanDays   float64 `yaml:"min_span_days"`
	SplitWeekdays bool    `yaml:"split_weekdays,omitempty"`
}

// Blocker names a circumstance under which inference for a marker is
// invalid. Condition matches the subject's reported conditions,
// Medication their medication list; either alone trips the blocker.
type Blocker struct {
	Condition  string `yaml:"condition,omitempty"`
	Medication string `yaml:"medication,omitempty"`
	Note       string `yaml:"note,omitempty"`
}

// ConfidenceWeights are the calibration component weights. They are
// expected to sum to 1 before the interference penalty.
type ConfidenceWeights struct {
	Completeness  float64 `yaml:"completeness"`
	Coherence     float64 `yaml:"coherence"`
	Agreement     float64 `yaml:"agreement"`
	Stability     float64 `yaml:"stability"`
	SignalQuality float64 `yaml:"signal_quality"`
}

// GatePolicy is the output policy for one anchor support tier.
type GatePolicy struct {
	Emit          bool    `yaml:"emit"`
	MaxConfidence float64 `yaml:"max_confidence"`
	MinRangeFrac  float64 `yaml:"min_range_fraction"` // of center, full width
}

// Registry is the full tunable surface: built-in defaults overlaid by
// an optional YAML file. Unknown markers fall back to Fallback* values
// and the lookup records a note rather than failing the run.
type Registry struct {
	HalfLifeDays map[marker.ID]float64             `yaml:"half_life_days"`
	Kinetics     map[marker.ID]Kinetics            `yaml:"kinetics"`
	Priors       map[marker.ID]PopulationPrior     `yaml:"population_priors"`
	Baselines    map[marker.ID]BaselineRequirement `yaml:"baseline_requirements"`
	Weights      ConfidenceWeights                 `yaml:"confidence_weights"`
	GatePolicies map[string]GatePolicy             `yaml:"gate_policies"`
	Blockers     map[marker.ID][]Blocker           `yaml:"blockers"`

	FallbackHalfLifeDays float64             `yaml:"fallback_half_life_days"`
	FallbackKinetics     Kinetics            `yaml:"fallback_kinetics"`
	FallbackBaseline     BaselineRequirement `yaml:"fallback_baseline"`
}

// #endregion registry types
