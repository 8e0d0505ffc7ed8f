package solver

import (
	"time"

	"github.com/markerlab/reconciler/internal/config"
	"github.com/markerlab/reconciler/internal/ingest"
	"github.com/markerlab/reconciler/internal/marker"
)

// #region types

// Method names a solver family. Fusion weights are keyed by method.
type Method string

const (
	MethodDeterministic Method = "deterministic"
	MethodCovariance    Method = "covariance"
	MethodLatent        Method = "latent"
	MethodTemporal      Method = "temporal"
	MethodConstraint    Method = "constraint"
	MethodPopulation    Method = "population"
)

// baseWeight returns the fusion weight for a method before modulation
// by the solver's own confidence.
func baseWeight(m Method) float64 {
	switch m {
	case MethodDeterministic:
		return 2.0
	case MethodCovariance:
		return 1.5
	case MethodLatent:
		return 1.3
	case MethodTemporal:
		return 1.2
	case MethodConstraint:
		return 1.0
	default:
		return 0.8
	}
}

// Input is everything a solver may consult for one target marker.
// Values holds measured values and anchors only, never the target's
// own seeded estimate.
type Input struct {
	Target   marker.ID
	Values   map[marker.ID]float64
	Context  ingest.Context
	History  []ingest.HistoryPoint // target's history, oldest first
	Registry *config.Registry
	Now      time.Time
}

// Output is one solver's independent opinion.
type Output struct {
	Method     Method  `json:"method"`
	Solver     string  `json:"solver"`
	Value      float64 `json:"value"`
	Std        float64 `json:"std"`
	Confidence float64 `json:"confidence"` // solver's own 0-1 certainty
	Detail     string  `json:"detail,omitempty"`
}

// Solver produces an estimate for a target when its inputs are
// available. ok=false means the solver abstains for this input set.
type Solver interface {
	Name() string
	Method() Method
	Solve(in Input) (Output, bool)
}

// Consensus is the fused verdict over all applicable solvers.
type Consensus struct {
	Marker     marker.ID `json:"marker"`
	Value      float64   `json:"value"`
	Std        float64   `json:"std"`
	Agreement  float64   `json:"agreement"` // 1 - CV, clamped to [0, 1]
	Convergent bool      `json:"convergent"`
	// RangeFactor tightens on convergence and widens on disagreement;
	// callers multiply their range by it.
	RangeFactor float64  `json:"range_factor"`
	Outputs     []Output `json:"outputs"`
}

// #endregion types
