package solver

import (
	"fmt"
	"math"

	"github.com/markerlab/reconciler/internal/marker"
)

// #region temporal

// TemporalSolver extrapolates the target's history forward, damping
// the observed trend to the marker's kinetic limits and widening its
// spread as the last observation ages past the half-life.
type TemporalSolver struct{}

func (TemporalSolver) Name() string   { return "temporal" }
func (TemporalSolver) Method() Method { return MethodTemporal }

func (s TemporalSolver) Solve(in Input) (Output, bool) {
	if len(in.History) == 0 {
		return Output{}, false
	}
	last := in.History[len(in.History)-1]
	elapsedDays := in.Now.Sub(last.ObservedAt).Hours() / 24
	if elapsedDays < 0 {
		elapsedDays = 0
	}

	kin, _ := in.Registry.KineticsFor(in.Target)
	hl, _ := in.Registry.HalfLife(in.Target)

	// Trend from the last two points, clamped to the kinetic limit.
	value := last.Value
	if len(in.History) >= 2 {
		prev := in.History[len(in.History)-2]
		dt := last.ObservedAt.Sub(prev.ObservedAt).Hours() / 24
		if dt > 0 {
			daily := (last.Value - prev.Value) / dt
			limit := math.Max(kin.MaxDailyFraction*math.Abs(last.Value), kin.MaxDailyAbsolute)
			daily = marker.Clamp(daily, -limit, limit)
			// Damp the trend: extrapolation decays toward holding
			// steady as the gap grows.
			damp := math.Exp(-elapsedDays / math.Max(hl, 0.1))
			value = last.Value + daily*elapsedDays*damp
		}
	}

	// Confidence decays with age relative to the half-life.
	freshness := math.Exp(-math.Ln2 * elapsedDays / math.Max(hl, 0.1))
	std := math.Max(math.Abs(last.Value)*0.05, 0.5) / math.Max(math.Sqrt(freshness), 0.1)
	return Output{
		Method: MethodTemporal, Solver: s.Name(),
		Value: value, Std: std,
		Confidence: marker.Clamp(0.2+0.6*freshness, 0, 0.8),
		Detail:     fmt.Sprintf("extrapolated %.1f days from last reading", elapsedDays),
	}, true
}

// #endregion temporal

// #region population

// PopulationSolver falls back to the registered population prior. Its
// low weight means it only matters when nothing stronger fires.
type PopulationSolver struct{}

func (PopulationSolver) Name() string   { return "population" }
func (PopulationSolver) Method() Method { return MethodPopulation }

func (s PopulationSolver) Solve(in Input) (Output, bool) {
	p, ok := in.Registry.PriorFor(in.Target)
	if !ok {
		return Output{}, false
	}
	return Output{
		Method: MethodPopulation, Solver: s.Name(),
		Value: p.Mean, Std: p.Std, Confidence: 0.25,
		Detail: "population prior",
	}, true
}

// #endregion population
