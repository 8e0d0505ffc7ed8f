package lattice

import "github.com/markerlab/reconciler/internal/marker"

// #region types

// Kind classifies the relationship a constraint encodes.
type Kind string

const (
	KindCorrelation     Kind = "correlation"
	KindContradiction   Kind = "contradiction"
	KindCausality       Kind = "causality"
	KindBound           Kind = "bound"
	KindMutualExclusion Kind = "mutual_exclusion"
)

// Severity scales how strongly a violated constraint adjusts an
// estimate.
type Severity string

const (
	SeveritySoft     Severity = "soft"
	SeverityModerate Severity = "moderate"
	SeverityStrong   Severity = "strong"
	SeverityHard     Severity = "hard"
)

// Status is the outcome of evaluating one constraint against a value
// set.
type Status string

const (
	// StatusSatisfied means all involved markers were present and the
	// relationship held.
	StatusSatisfied Status = "satisfied"
	// StatusViolated means all involved markers were present and the
	// relationship did not hold.
	StatusViolated Status = "violated"
	// StatusNotTriggered means at least one involved marker was absent.
	StatusNotTriggered Status = "not_triggered"
	// StatusNeutral means the constraint fired but its rule has no
	// decisive check for the observed configuration.
	StatusNeutral Status = "neutral"
)

// CheckFunc evaluates a constraint given the values of its markers.
// Values are keyed by marker ID; every listed marker is guaranteed
// present when the func is called.
type CheckFunc func(values map[marker.ID]float64) Status

// Constraint is one edge of the lattice: a named relationship among
// two or more markers with adjustment factors applied on evaluation.
type Constraint struct {
	Name     string
	Kind     Kind
	Severity Severity
	Markers  []marker.ID

	// Adjustments applied per evaluation outcome.
	ViolationPenalty float64 // subtracted from confidence when violated
	ViolationWiden   float64 // range multiplier when violated (>= 1)
	SatisfiedTighten float64 // range multiplier when satisfied (<= 1)

	Check  CheckFunc
	Reason string // human-readable statement of the relationship
}

// Evaluation records one constraint's outcome against a value set.
type Evaluation struct {
	Constraint string   `json:"constraint"`
	Kind       Kind     `json:"kind"`
	Severity   Severity `json:"severity"`
	Status     Status   `json:"status"`
	Detail     string   `json:"detail,omitempty"`

	Penalty float64 `json:"penalty"` // 0 unless violated
	Widen   float64 `json:"widen"`   // 1 unless violated
	Tighten float64 `json:"tighten"` // 1 unless satisfied
}

// Summary aggregates evaluations that touched a single marker.
type Summary struct {
	Marker       marker.ID `json:"marker"`
	Evaluated    int       `json:"evaluated"`
	Violated     int       `json:"violated"`
	Satisfied    int       `json:"satisfied"`
	TotalPenalty float64   `json:"total_penalty"` // capped at MaxTotalPenalty
	RangeFactor  float64   `json:"range_factor"`  // product of widens and tightens
	Details      []string  `json:"details,omitempty"`
}

// MaxTotalPenalty caps the summed confidence penalty from constraint
// violations for a single marker.
const MaxTotalPenalty = 0.50

// #endregion types
