package solver

import (
	"math"
	"testing"
	"time"

	"github.com/markerlab/reconciler/internal/config"
	"github.com/markerlab/reconciler/internal/ingest"
	"github.com/markerlab/reconciler/internal/lattice"
	"github.com/markerlab/reconciler/internal/marker"
)

var now = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func input(target marker.ID, values map[marker.ID]float64) Input {
	return Input{
		Target:   target,
		Values:   values,
		Registry: config.Default(),
		Now:      now,
	}
}

func TestDeterministicGlucoseFromA1c(t *testing.T) {
	in := input(marker.Glucose, map[marker.ID]float64{marker.HbA1c: 7.0})
	out, ok := DeterministicSolver{}.Solve(in)
	if !ok {
		t.Fatalf("solver should fire with a1c present")
	}
	want := lattice.EstimatedAvgGlucose(7.0)
	if math.Abs(out.Value-want) > 1e-9 {
		t.Fatalf("expected eAG %v, got %v", want, out.Value)
	}
}

func TestDeterministicEGFR(t *testing.T) {
	in := input(marker.EGFR, map[marker.ID]float64{marker.Creatinine: 1.0})
	in.Context = ingest.Context{AgeYears: 50, Sex: "male"}
	out, ok := DeterministicSolver{}.Solve(in)
	if !ok {
		t.Fatalf("solver should fire with creatinine and age")
	}
	// CKD-EPI for a 50-year-old male at Scr 1.0 lands near 90.
	if out.Value < 75 || out.Value > 105 {
		t.Fatalf("implausible eGFR %v", out.Value)
	}
}

func TestDeterministicEGFRNeedsAge(t *testing.T) {
	in := input(marker.EGFR, map[marker.ID]float64{marker.Creatinine: 1.0})
	if _, ok := (DeterministicSolver{}).Solve(in); ok {
		t.Fatalf("solver must abstain without age")
	}
}

func TestFriedewaldInvalidAtHighTriglycerides(t *testing.T) {
	in := input(marker.LDL, map[marker.ID]float64{
		marker.TotalChol:    220,
		marker.HDL:          50,
		marker.Triglyceride: 450,
	})
	if _, ok := (DeterministicSolver{}).Solve(in); ok {
		t.Fatalf("Friedewald must abstain above 400 mg/dL triglycerides")
	}
}

func TestFriedewald(t *testing.T) {
	in := input(marker.LDL, map[marker.ID]float64{
		marker.TotalChol:    220,
		marker.HDL:          50,
		marker.Triglyceride: 150,
	})
	out, ok := DeterministicSolver{}.Solve(in)
	if !ok {
		t.Fatalf("solver should fire")
	}
	if out.Value != 140 {
		t.Fatalf("expected LDL 140, got %v", out.Value)
	}
}

func TestCovarianceDirection(t *testing.T) {
	// High A1c should pull the glucose inference above the population
	// mean.
	in := input(marker.Glucose, map[marker.ID]float64{marker.HbA1c: 7.5})
	out, ok := CovarianceSolver{}.Solve(in)
	if !ok {
		t.Fatalf("solver should fire")
	}
	if out.Value <= 95 {
		t.Fatalf("high a1c should imply above-mean glucose, got %v", out.Value)
	}
}

func TestCovarianceAbstainsWithoutInputs(t *testing.T) {
	in := input(marker.Glucose, map[marker.ID]float64{})
	if _, ok := (CovarianceSolver{}.Solve(in)); ok {
		t.Fatalf("solver must abstain with no correlated markers")
	}
}

func TestTemporalExtrapolation(t *testing.T) {
	in := input(marker.CRP, nil)
	in.History = []ingest.HistoryPoint{
		{Marker: marker.CRP, Value: 2.0, ObservedAt: now.AddDate(0, 0, -10)},
		{Marker: marker.CRP, Value: 1.5, ObservedAt: now.AddDate(0, 0, -5)},
	}
	out, ok := TemporalSolver{}.Solve(in)
	if !ok {
		t.Fatalf("solver should fire with history")
	}
	if out.Value > 1.5 {
		t.Fatalf("downward trend should extrapolate at or below last value, got %v", out.Value)
	}
	if out.Value < 0 {
		t.Fatalf("extrapolation overshot: %v", out.Value)
	}
}

func TestTemporalConfidenceDecaysWithAge(t *testing.T) {
	fresh := input(marker.CRP, nil)
	fresh.History = []ingest.HistoryPoint{{Marker: marker.CRP, Value: 2, ObservedAt: now.AddDate(0, 0, -1)}}
	stale := input(marker.CRP, nil)
	stale.History = []ingest.HistoryPoint{{Marker: marker.CRP, Value: 2, ObservedAt: now.AddDate(0, 0, -60)}}

	fo, _ := TemporalSolver{}.Solve(fresh)
	so, _ := TemporalSolver{}.Solve(stale)
	if so.Confidence >= fo.Confidence {
		t.Fatalf("stale reading should be less confident: %v >= %v", so.Confidence, fo.Confidence)
	}
	if so.Std <= fo.Std {
		t.Fatalf("stale reading should be wider: %v <= %v", so.Std, fo.Std)
	}
}

func TestFuseZeroSolversMaxUncertainty(t *testing.T) {
	c, ok := Fuse(marker.Glucose, nil)
	if ok {
		t.Fatalf("empty fuse must report not-ok")
	}
	if c.RangeFactor != 1.5 || c.Agreement != 0 {
		t.Fatalf("expected max-uncertainty consensus, got %+v", c)
	}
}

func TestFuseConvergentTightens(t *testing.T) {
	outputs := []Output{
		{Method: MethodDeterministic, Value: 100, Std: 5, Confidence: 0.8},
		{Method: MethodCovariance, Value: 102, Std: 8, Confidence: 0.6},
		{Method: MethodTemporal, Value: 98, Std: 6, Confidence: 0.7},
	}
	c, ok := Fuse(marker.Glucose, outputs)
	if !ok {
		t.Fatalf("fuse failed")
	}
	if !c.Convergent {
		t.Fatalf("2%% spread should be convergent, got CV-derived agreement %v", c.Agreement)
	}
	if c.RangeFactor != 0.90 {
		t.Fatalf("expected tighten 0.90, got %v", c.RangeFactor)
	}
	if c.Value < 98 || c.Value > 102 {
		t.Fatalf("fused value outside opinion span: %v", c.Value)
	}
}

func TestFuseDisagreementWidens(t *testing.T) {
	outputs := []Output{
		{Method: MethodDeterministic, Value: 100, Std: 5, Confidence: 0.8},
		{Method: MethodPopulation, Value: 220, Std: 40, Confidence: 0.25},
	}
	c, ok := Fuse(marker.Glucose, outputs)
	if !ok {
		t.Fatalf("fuse failed")
	}
	if c.Convergent {
		t.Fatalf("wild disagreement should not converge")
	}
	if c.RangeFactor <= 1 || c.RangeFactor > 1.5 {
		t.Fatalf("widening should be in (1, 1.5], got %v", c.RangeFactor)
	}
	// Deterministic weight should dominate the fused value.
	if math.Abs(c.Value-100) > math.Abs(c.Value-220) {
		t.Fatalf("fused value should sit closer to the deterministic opinion: %v", c.Value)
	}
}

func TestFuseHigherWeightDominates(t *testing.T) {
	outputs := []Output{
		{Method: MethodDeterministic, Value: 100, Std: 5, Confidence: 0.8},
		{Method: MethodPopulation, Value: 120, Std: 15, Confidence: 0.8},
	}
	c, _ := Fuse(marker.Glucose, outputs)
	if c.Value >= 110 {
		t.Fatalf("deterministic (weight 2.0) should outweigh population (0.8): %v", c.Value)
	}
}

func TestEngineRunCollectsSolvers(t *testing.T) {
	in := input(marker.Glucose, map[marker.ID]float64{marker.HbA1c: 7.0})
	in.History = []ingest.HistoryPoint{{Marker: marker.Glucose, Value: 150, ObservedAt: now.AddDate(0, 0, -2)}}
	c, ok := NewEngine().Run(in)
	if !ok {
		t.Fatalf("engine should produce a consensus")
	}
	// Deterministic, covariance, constraint, temporal, and population
	// fire; latent abstains with a single indicator.
	if len(c.Outputs) != 5 {
		t.Fatalf("expected 5 solver outputs, got %d", len(c.Outputs))
	}
	for _, o := range c.Outputs {
		if o.Method == MethodLatent {
			t.Fatalf("latent solver must abstain below %d indicators", latentMinIndicators)
		}
	}
}

func TestLatentPoolsMultipleIndicators(t *testing.T) {
	in := input(marker.Glucose, map[marker.ID]float64{
		marker.HbA1c:        7.0,
		marker.Triglyceride: 180,
	})
	out, ok := LatentSolver{}.Solve(in)
	if !ok {
		t.Fatalf("latent solver should fire with two indicators")
	}
	// Elevated A1c and triglycerides pull the factor above the
	// population mean, but ridge shrinkage keeps it under the pure
	// ADAG value.
	if out.Value <= 95 || out.Value >= lattice.EstimatedAvgGlucose(7.0) {
		t.Fatalf("latent estimate should sit between prior mean and eAG, got %v", out.Value)
	}
	if out.Method != MethodLatent {
		t.Fatalf("wrong method %s", out.Method)
	}
}

func TestLatentAbstainsWithOneIndicator(t *testing.T) {
	in := input(marker.Glucose, map[marker.ID]float64{marker.HbA1c: 7.0})
	if _, ok := (LatentSolver{}).Solve(in); ok {
		t.Fatalf("a single indicator is the covariance solver's case, not latent's")
	}
}

func TestConstraintGlucoseBandCentersOnEAG(t *testing.T) {
	in := input(marker.Glucose, map[marker.ID]float64{marker.HbA1c: 7.0})
	out, ok := ConstraintSolver{}.Solve(in)
	if !ok {
		t.Fatalf("constraint solver should fire with a1c present")
	}
	want := lattice.EstimatedAvgGlucose(7.0)
	if math.Abs(out.Value-want) > 1e-9 {
		t.Fatalf("band midpoint should equal eAG %v, got %v", want, out.Value)
	}
	if out.Std <= 0 {
		t.Fatalf("band must carry positive spread, got %v", out.Std)
	}
}

func TestConstraintLDLBoundsWithoutTriglycerides(t *testing.T) {
	in := input(marker.LDL, map[marker.ID]float64{
		marker.TotalChol: 220,
		marker.HDL:       50,
	})
	out, ok := ConstraintSolver{}.Solve(in)
	if !ok {
		t.Fatalf("mass balance should bound LDL without a triglyceride value")
	}
	// tc - hdl - tg/5 over tg in [40, 400] gives [90, 162]; midpoint 126.
	if out.Value != 126 {
		t.Fatalf("expected midpoint 126, got %v", out.Value)
	}

	in.Values[marker.Triglyceride] = 120
	if _, ok := (ConstraintSolver{}).Solve(in); ok {
		t.Fatalf("with triglycerides measured the deterministic solver owns LDL")
	}
}

func TestConstraintAbstainsOnInfeasibleBand(t *testing.T) {
	in := input(marker.LDL, map[marker.ID]float64{
		marker.TotalChol: 55,
		marker.HDL:       50,
	})
	if _, ok := (ConstraintSolver{}).Solve(in); ok {
		t.Fatalf("an empty feasibility band must abstain, not invent a value")
	}
}

func TestConstraintCreatinineFromEGFR(t *testing.T) {
	in := input(marker.Creatinine, map[marker.ID]float64{marker.EGFR: 60})
	in.Context = ingest.Context{AgeYears: 50, Sex: "male"}
	out, ok := ConstraintSolver{}.Solve(in)
	if !ok {
		t.Fatalf("constraint solver should invert eGFR with age present")
	}
	// An eGFR of 60 in a 50-year-old male implies creatinine around 1.3-1.4.
	if out.Value < 1.0 || out.Value > 2.0 {
		t.Fatalf("implausible creatinine %v for eGFR 60", out.Value)
	}
}

func TestConstraintCreatinineNeedsAge(t *testing.T) {
	in := input(marker.Creatinine, map[marker.ID]float64{marker.EGFR: 60})
	if _, ok := (ConstraintSolver{}).Solve(in); ok {
		t.Fatalf("constraint solver must abstain without age")
	}
}
