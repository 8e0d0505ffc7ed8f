package solver

import (
	"fmt"
	"math"

	"github.com/markerlab/reconciler/internal/lattice"
	"github.com/markerlab/reconciler/internal/marker"
)

// #region deterministic

// DeterministicSolver applies closed-form clinical formulas: CKD-EPI
// eGFR, the ADAG A1c-glucose relation in both directions, and the
// Friedewald LDL equation.
type DeterministicSolver struct{}

func (DeterministicSolver) Name() string   { return "deterministic" }
func (DeterministicSolver) Method() Method { return MethodDeterministic }

func (s DeterministicSolver) Solve(in Input) (Output, bool) {
	switch in.Target {
	case marker.EGFR:
		return s.egfr(in)
	case marker.Glucose:
		if a1c, ok := in.Values[marker.HbA1c]; ok {
			eag := lattice.EstimatedAvgGlucose(a1c)
			return Output{
				Method: MethodDeterministic, Solver: s.Name(),
				Value: eag, Std: eag * 0.12, Confidence: 0.75,
				Detail: "ADAG average glucose from A1c",
			}, true
		}
	case marker.HbA1c:
		if g, ok := in.Values[marker.Glucose]; ok {
			a1c := lattice.A1cFromGlucose(g)
			// A spot glucose is a weak proxy for a 90-day average.
			return Output{
				Method: MethodDeterministic, Solver: s.Name(),
				Value: a1c, Std: a1c * 0.10, Confidence: 0.45,
				Detail: "ADAG inversion from spot glucose",
			}, true
		}
	case marker.LDL:
		return s.friedewald(in)
	}
	return Output{}, false
}

func (s DeterministicSolver) egfr(in Input) (Output, bool) {
	scr, ok := in.Values[marker.Creatinine]
	if !ok || scr <= 0 || in.Context.AgeYears <= 0 {
		return Output{}, false
	}
	egfr := ckdEpi(scr, in.Context.AgeYears, in.Context.Sex)
	return Output{
		Method: MethodDeterministic, Solver: s.Name(),
		Value: egfr, Std: egfr * 0.08, Confidence: 0.85,
		Detail: "CKD-EPI 2021 from creatinine",
	}, true
}

// ckdEpi computes the CKD-EPI 2021 race-free eGFR from serum
// creatinine (mg/dL).
func ckdEpi(scr, ageYears float64, sex string) float64 {
	kappa, alpha, sexFactor := 0.9, -0.302, 1.0
	if sex == "female" {
		kappa, alpha, sexFactor = 0.7, -0.241, 1.012
	}
	ratio := scr / kappa
	return 142 *
		math.Pow(math.Min(ratio, 1), alpha) *
		math.Pow(math.Max(ratio, 1), -1.200) *
		math.Pow(0.9938, ageYears) *
		sexFactor
}

func (s DeterministicSolver) friedewald(in Input) (Output, bool) {
	tc, okTC := in.Values[marker.TotalChol]
	hdl, okHDL := in.Values[marker.HDL]
	tg, okTG := in.Values[marker.Triglyceride]
	if !okTC || !okHDL || !okTG {
		return Output{}, false
	}
	if tg > 400 {
		// Friedewald is invalid at high triglycerides.
		return Output{}, false
	}
	ldl := tc - hdl - tg/5
	return Output{
		Method: MethodDeterministic, Solver: s.Name(),
		Value: ldl, Std: math.Max(ldl*0.08, 5), Confidence: 0.80,
		Detail: "Friedewald equation",
	}, true
}

// #endregion deterministic

// #region covariance

// covariancePair is one regularized marker correlation used for
// conditional inference.
type covariancePair struct {
	from marker.ID
	rho  float64
}

// covariance holds shrunk pairwise correlations keyed by target.
// Correlations are pre-regularized (population estimates shrunk
// toward zero) so a single odd input cannot swing the inference.
var covariance = map[marker.ID][]covariancePair{
	marker.Glucose:      {{marker.HbA1c, 0.72}, {marker.Triglyceride, 0.30}, {marker.BMI, 0.25}},
	marker.HbA1c:        {{marker.Glucose, 0.72}, {marker.BMI, 0.28}},
	marker.LDL:          {{marker.TotalChol, 0.80}},
	marker.TotalChol:    {{marker.LDL, 0.80}},
	marker.Triglyceride: {{marker.Glucose, 0.30}, {marker.HDL, -0.40}, {marker.BMI, 0.32}},
	marker.HDL:          {{marker.Triglyceride, -0.40}, {marker.BMI, -0.30}},
	marker.EGFR:         {{marker.Creatinine, -0.75}},
	marker.Creatinine:   {{marker.EGFR, -0.75}},
	marker.TSAT:         {{marker.Iron, 0.70}, {marker.Ferritin, 0.35}},
	marker.Ferritin:     {{marker.CRP, 0.35}, {marker.Iron, 0.30}},
	marker.VitaminD:     {{marker.BMI, -0.25}},
}

// CovarianceSolver infers a target from correlated markers via the
// conditional Gaussian, using population priors for the marginals.
type CovarianceSolver struct{}

func (CovarianceSolver) Name() string   { return "covariance" }
func (CovarianceSolver) Method() Method { return MethodCovariance }

func (s CovarianceSolver) Solve(in Input) (Output, bool) {
	pairs, ok := covariance[in.Target]
	if !ok {
		return Output{}, false
	}
	targetPrior, ok := in.Registry.PriorFor(in.Target)
	if !ok {
		return Output{}, false
	}

	// Average the single-conditioning estimates over available pairs,
	// weighting by |rho|.
	var sumVal, sumW, bestAbsRho float64
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
		cond := targetPrior.Mean + p.rho*(targetPrior.Std/fromPrior.Std)*(x-fromPrior.Mean)
		w := math.Abs(p.rho)
		sumVal += w * cond
		sumW += w
		used++
		if w > bestAbsRho {
			bestAbsRho = w
		}
	}
	if used == 0 {
		return Output{}, false
	}
	value := sumVal / sumW
	condStd := targetPrior.Std * math.Sqrt(1-bestAbsRho*bestAbsRho)
	return Output{
		Method: MethodCovariance, Solver: s.Name(),
		Value: value, Std: condStd,
		Confidence: marker.Clamp(0.3+0.5*bestAbsRho, 0, 0.8),
		Detail:     fmt.Sprintf("conditioned on %d correlated markers", used),
	}, true
}

// #endregion covariance
