package solver

import (
	"fmt"
	"math"

	"github.com/markerlab/reconciler/internal/lattice"
	"github.com/markerlab/reconciler/internal/marker"
)

// #region latent factor

const (
	// latentMinIndicators is the smallest indicator set worth pooling;
	// a single correlate is the covariance solver's territory.
	latentMinIndicators = 2
	// latentRidge shrinks the factor score toward zero so a thin
	// indicator set cannot push the estimate far from the marginal.
	latentRidge = 1.0
)

// LatentSolver treats the target's correlated markers as noisy
// indicators of one shared latent state, pools their standardized
// values by loading, and maps the shrunk factor score back onto the
// target's marginal.
type LatentSolver struct{}

func (LatentSolver) Name() string   { return "latent_factor" }
func (LatentSolver) Method() Method { return MethodLatent }

func (s LatentSolver) Solve(in Input) (Output, bool) {
	pairs, ok := covariance[in.Target]
	if !ok {
		return Output{}, false
	}
	targetPrior, ok := in.Registry.PriorFor(in.Target)
	if !ok || targetPrior.Std == 0 {
		return Output{}, false
	}

	var num, den float64
	var used int
	for _, p := range pairs {
		x, ok := in.Values[p.from]
		if !ok {
			continue
		}
		fromPrior, ok := in.Registry.PriorFor(p.from)
		if !ok || fromPrior.Std == 0 {
			continue
		}
		z := (x - fromPrior.Mean) / fromPrior.Std
		num += p.rho * z
		den += p.rho * p.rho
		used++
	}
	if used < latentMinIndicators {
		return Output{}, false
	}

	score := num / (den + latentRidge)
	value := targetPrior.Mean + targetPrior.Std*score
	std := targetPrior.Std / math.Sqrt(1+den)
	return Output{
		Method: MethodLatent, Solver: s.Name(),
		Value: value, Std: std,
		Confidence: marker.Clamp(0.25+0.10*float64(used), 0, 0.65),
		Detail:     fmt.Sprintf("one-factor pooling of %d indicators", used),
	}, true
}

// #endregion latent factor

// #region constraint

// egfrCreatinineBandFactor bounds how far a creatinine-implied eGFR
// (or the inverse) may sit from the measured partner.
const egfrCreatinineBandFactor = 1.30

// feasible is a closed interval of values compatible with the measured
// partners.
type feasible struct {
	lo, hi float64
}

// ConstraintSolver intersects the feasibility intervals the measured
// partners impose on the target and proposes the midpoint. It abstains
// when no band applies or the intersection is empty; an empty
// intersection is a contradiction for the lattice to report, not a
// value to invent.
type ConstraintSolver struct{}

func (ConstraintSolver) Name() string   { return "constraint" }
func (ConstraintSolver) Method() Method { return MethodConstraint }

func (s ConstraintSolver) Solve(in Input) (Output, bool) {
	ivs := s.intervals(in)
	if len(ivs) == 0 {
		return Output{}, false
	}

	band := ivs[0]
	for _, iv := range ivs[1:] {
		band.lo = math.Max(band.lo, iv.lo)
		band.hi = math.Min(band.hi, iv.hi)
	}
	if band.lo >= band.hi {
		return Output{}, false
	}

	mid := (band.lo + band.hi) / 2
	return Output{
		Method: MethodConstraint, Solver: s.Name(),
		Value: mid, Std: (band.hi - band.lo) / 4,
		Confidence: marker.Clamp(0.30+0.05*float64(len(ivs)), 0, 0.50),
		Detail:     fmt.Sprintf("intersection of %d feasibility bands", len(ivs)),
	}, true
}

func (s ConstraintSolver) intervals(in Input) []feasible {
	var ivs []feasible
	switch in.Target {
	case marker.Glucose:
		if a1c, ok := in.Values[marker.HbA1c]; ok {
			if eag := lattice.EstimatedAvgGlucose(a1c); eag > 0 {
				ivs = append(ivs, feasible{
					lo: eag * (1 - lattice.A1cGlucoseDeviationLimit),
					hi: eag * (1 + lattice.A1cGlucoseDeviationLimit),
				})
			}
		}
	case marker.HbA1c:
		if g, ok := in.Values[marker.Glucose]; ok && g > 0 {
			a1c := lattice.A1cFromGlucose(g)
			ivs = append(ivs, feasible{
				lo: a1c * (1 - lattice.A1cGlucoseDeviationLimit),
				hi: a1c * (1 + lattice.A1cGlucoseDeviationLimit),
			})
		}
	case marker.LDL:
		// Cholesterol mass balance bounds LDL when triglycerides are
		// unmeasured: the VLDL term tg/5 spans roughly 8-80 mg/dL over
		// the plausible triglyceride range.
		tc, okTC := in.Values[marker.TotalChol]
		hdl, okHDL := in.Values[marker.HDL]
		_, okTG := in.Values[marker.Triglyceride]
		if okTC && okHDL && !okTG {
			ivs = append(ivs, feasible{
				lo: math.Max(tc-hdl-80, 0),
				hi: tc - hdl - 8,
			})
		}
	case marker.EGFR:
		if scr, ok := in.Values[marker.Creatinine]; ok && scr > 0 && in.Context.AgeYears > 0 {
			egfr := ckdEpi(scr, in.Context.AgeYears, in.Context.Sex)
			ivs = append(ivs, feasible{
				lo: egfr / egfrCreatinineBandFactor,
				hi: egfr * egfrCreatinineBandFactor,
			})
		}
	case marker.Creatinine:
		if egfr, ok := in.Values[marker.EGFR]; ok && egfr > 0 && in.Context.AgeYears > 0 {
			scr := creatinineForEGFR(egfr, in.Context.AgeYears, in.Context.Sex)
			ivs = append(ivs, feasible{
				lo: scr / egfrCreatinineBandFactor,
				hi: scr * egfrCreatinineBandFactor,
			})
		}
	}
	return ivs
}

// creatinineForEGFR inverts CKD-EPI by bisection; eGFR is strictly
// decreasing in creatinine over the physiological range.
func creatinineForEGFR(egfr, ageYears float64, sex string) float64 {
	lo, hi := 0.1, 15.0
	for i := 0; i < 60; i++ {
		mid := (lo + hi) / 2
		if ckdEpi(mid, ageYears, sex) > egfr {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// #endregion constraint
