package solver

import (
	"math"

	"github.com/markerlab/reconciler/internal/marker"
)

// #region consensus

const (
	// convergenceCV is the coefficient-of-variation threshold under
	// which solvers are considered convergent.
	convergenceCV = 0.15
	// convergentTighten applies when solvers converge with high
	// agreement; disagreement widens by up to half.
	convergentTighten     = 0.90
	agreementTightenFloor = 0.7
	maxDisagreementWiden  = 0.5
	// noSolverWiden applies when nothing fires at all.
	noSolverWiden = 1.5
)

// Engine runs a fixed solver set and fuses their outputs.
type Engine struct {
	solvers []Solver
}

// NewEngine builds the engine with the default solver set.
func NewEngine() *Engine {
	return &Engine{solvers: []Solver{
		DeterministicSolver{},
		CovarianceSolver{},
		LatentSolver{},
		TemporalSolver{},
		ConstraintSolver{},
		PopulationSolver{},
	}}
}

// NewEngineWith builds the engine over an explicit solver set.
func NewEngineWith(solvers ...Solver) *Engine {
	return &Engine{solvers: solvers}
}

// Run collects every applicable solver's output for the target and
// fuses them. ok=false means no solver fired; the returned consensus
// then carries maximum uncertainty.
func (e *Engine) Run(in Input) (Consensus, bool) {
	var outputs []Output
	for _, s := range e.solvers {
		if out, ok := s.Solve(in); ok {
			outputs = append(outputs, out)
		}
	}
	return Fuse(in.Target, outputs)
}

// Fuse combines solver outputs by confidence-modulated method weight.
// Agreement is 1 minus the coefficient of variation across solver
// values; convergent high-agreement sets tighten the range, while
// disagreement widens it proportionally.
func Fuse(m marker.ID, outputs []Output) (Consensus, bool) {
	if len(outputs) == 0 {
		return Consensus{Marker: m, Agreement: 0, RangeFactor: noSolverWiden}, false
	}

	var sumW, sumWV float64
	for _, o := range outputs {
		w := baseWeight(o.Method) * math.Max(o.Confidence, 0.01)
		sumW += w
		sumWV += w * o.Value
	}
	value := sumWV / sumW

	// Weighted spread across solver opinions plus their own stds.
	var sumWVar float64
	for _, o := range outputs {
		w := baseWeight(o.Method) * math.Max(o.Confidence, 0.01)
		d := o.Value - value
		sumWVar += w * (d*d + o.Std*o.Std)
	}
	std := math.Sqrt(sumWVar / sumW)

	cv := spreadCV(outputs, value)
	agreement := marker.Clamp01(1 - cv)
	convergent := len(outputs) == 1 || cv < convergenceCV

	factor := 1.0
	switch {
	case convergent && agreement > agreementTightenFloor:
		factor = convergentTighten
	case !convergent:
		factor = 1 + (1-agreement)*maxDisagreementWiden
	}

	return Consensus{
		Marker:      m,
		Value:       value,
		Std:         std,
		Agreement:   agreement,
		Convergent:  convergent,
		RangeFactor: factor,
		Outputs:     outputs,
	}, true
}

// spreadCV is the unweighted coefficient of variation across solver
// values.
func spreadCV(outputs []Output, mean float64) float64 {
	if len(outputs) < 2 || mean == 0 {
		return 0
	}
	var sumSq float64
	for _, o := range outputs {
		d := o.Value - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq/float64(len(outputs))) / math.Abs(mean)
}

// #endregion consensus
