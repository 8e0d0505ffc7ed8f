package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/markerlab/reconciler/internal/marker"
)

// #region defaults

// Default returns the built-in registry. Values mirror the published
// reference ranges and kinetic limits the engine was tuned against.
func Default() *Registry {
	return &Registry{
		HalfLifeDays: map[marker.ID]float64{
			marker.Glucose:      0.1,
			marker.Insulin:      0.2,
			marker.Cortisol:     0.5,
			marker.Sodium:       1,
			marker.Potassium:    1,
			marker.SleepHours:   1,
			marker.Iron:         7,
			marker.CRP:          14,
			marker.TSAT:         14,
			marker.Triglyceride: 30,
			marker.Ferritin:     60,
			marker.HDL:          60,
			marker.LDL:          60,
			marker.TotalChol:    60,
			marker.HbA1c:        90,
			marker.BMI:          90,
			marker.VitaminD:     120,
			marker.Creatinine:   180,
			marker.EGFR:         180,
		},
		Kinetics: map[marker.ID]Kinetics{
			marker.Glucose:      {Class: VelocityFast, MaxDailyFraction: 0.50, MaxDailyAbsolute: 100, StabilityThreshold: 0.15, MinBaselineDays: 7},
			marker.Insulin:      {Class: VelocityFast, MaxDailyFraction: 0.50, MaxDailyAbsolute: 10, StabilityThreshold: 0.25, MinBaselineDays: 7},
			marker.Cortisol:     {Class: VelocityFast, MaxDailyFraction: 0.40, MaxDailyAbsolute: 8, StabilityThreshold: 0.25, MinBaselineDays: 7},
			marker.Sodium:       {Class: VelocityFast, MaxDailyFraction: 0.03, MaxDailyAbsolute: 5, StabilityThreshold: 0.02, MinBaselineDays: 7},
			marker.Potassium:    {Class: VelocityFast, MaxDailyFraction: 0.10, MaxDailyAbsolute: 0.5, StabilityThreshold: 0.05, MinBaselineDays: 7},
			marker.SleepHours:   {Class: VelocityFast, MaxDailyFraction: 0.50, MaxDailyAbsolute: 4, StabilityThreshold: 0.20, MinBaselineDays: 7},
			marker.CRP:          {Class: VelocityModerate, MaxDailyFraction: 0.30, MaxDailyAbsolute: 5, StabilityThreshold: 0.30, MinBaselineDays: 14},
			marker.Triglyceride: {Class: VelocityModerate, MaxDailyFraction: 0.20, MaxDailyAbsolute: 40, StabilityThreshold: 0.20, MinBaselineDays: 14},
			marker.Iron:         {Class: VelocityModerate, MaxDailyFraction: 0.20, MaxDailyAbsolute: 25, StabilityThreshold: 0.20, MinBaselineDays: 14},
			marker.TSAT:         {Class: VelocityModerate, MaxDailyFraction: 0.20, MaxDailyAbsolute: 8, StabilityThreshold: 0.20, MinBaselineDays: 14},
			marker.HDL:          {Class: VelocitySlow, MaxDailyFraction: 0.02, MaxDailyAbsolute: 2, StabilityThreshold: 0.10, MinBaselineDays: 30},
			marker.LDL:          {Class: VelocitySlow, MaxDailyFraction: 0.02, MaxDailyAbsolute: 4, StabilityThreshold: 0.10, MinBaselineDays: 30},
			marker.TotalChol:    {Class: VelocitySlow, MaxDailyFraction: 0.02, MaxDailyAbsolute: 6, StabilityThreshold: 0.10, MinBaselineDays: 30},
			marker.Ferritin:     {Class: VelocitySlow, MaxDailyFraction: 0.03, MaxDailyAbsolute: 10, StabilityThreshold: 0.15, MinBaselineDays: 30},
			marker.VitaminD:     {Class: VelocitySlow, MaxDailyFraction: 0.02, MaxDailyAbsolute: 2, StabilityThreshold: 0.12, MinBaselineDays: 30},
			marker.BMI:          {Class: VelocitySlow, MaxDailyFraction: 0.01, MaxDailyAbsolute: 0.3, StabilityThreshold: 0.05, MinBaselineDays: 30},
			marker.HbA1c:        {Class: VelocityVerySlow, MaxDailyFraction: 0.01, MaxDailyAbsolute: 0.05, StabilityThreshold: 0.05, MinBaselineDays: 60},
			marker.Creatinine:   {Class: VelocityVerySlow, MaxDailyFraction: 0.02, MaxDailyAbsolute: 0.1, StabilityThreshold: 0.08, MinBaselineDays: 60},
			marker.EGFR:         {Class: VelocityVerySlow, MaxDailyFraction: 0.02, MaxDailyAbsolute: 3, StabilityThreshold: 0.08, MinBaselineDays: 60},
		},
		Priors: map[marker.ID]PopulationPrior{
			marker.Glucose:      {Mean: 95, Std: 15, Unit: "mg/dL"},
			marker.HbA1c:        {Mean: 5.4, Std: 0.5, Unit: "%"},
			marker.Insulin:      {Mean: 8, Std: 5, Unit: "uIU/mL"},
			marker.Creatinine:   {Mean: 0.9, Std: 0.2, Unit: "mg/dL"},
			marker.EGFR:         {Mean: 95, Std: 15, Unit: "mL/min/1.73m2"},
			marker.TotalChol:    {Mean: 190, Std: 35, Unit: "mg/dL"},
			marker.LDL:          {Mean: 110, Std: 30, Unit: "mg/dL"},
			marker.HDL:          {Mean: 55, Std: 15, Unit: "mg/dL"},
			marker.Triglyceride: {Mean: 110, Std: 50, Unit: "mg/dL"},
			marker.CRP:          {Mean: 1.5, Std: 2.0, Unit: "mg/L"},
			marker.Ferritin:     {Mean: 100, Std: 80, Unit: "ng/mL"},
			marker.Iron:         {Mean: 90, Std: 30, Unit: "ug/dL"},
			marker.TSAT:         {Mean: 30, Std: 10, Unit: "%"},
			marker.VitaminD:     {Mean: 30, Std: 10, Unit: "ng/mL"},
			marker.Sodium:       {Mean: 140, Std: 2, Unit: "mmol/L"},
			marker.Potassium:    {Mean: 4.2, Std: 0.4, Unit: "mmol/L"},
			marker.Cortisol:     {Mean: 12, Std: 5, Unit: "ug/dL"},
			marker.BMI:          {Mean: 26, Std: 5, Unit: "kg/m2"},
			marker.SleepHours:   {Mean: 7, Std: 1, Unit: "h"},
		},
		Baselines: map[marker.ID]BaselineRequirement{
			marker.Glucose:    {MinPoints: 10, MinDays: 5, MinSpanDays: 14, SplitWeekdays: true},
			marker.SleepHours: {MinPoints: 10, MinDays: 7, MinSpanDays: 14, SplitWeekdays: true},
			marker.Cortisol:   {MinPoints: 6, MinDays: 4, MinSpanDays: 14},
		},
		Weights: ConfidenceWeights{
			Completeness:  0.22,
			Coherence:     0.22,
			Agreement:     0.20,
			Stability:     0.16,
			SignalQuality: 0.12,
		},
		GatePolicies: map[string]GatePolicy{
			"strong":   {Emit: true, MaxConfidence: 0.90, MinRangeFrac: 0.05},
			"moderate": {Emit: true, MaxConfidence: 0.70, MinRangeFrac: 0.15},
			"weak":     {Emit: true, MaxConfidence: 0.45, MinRangeFrac: 0.30},
			"none":     {Emit: false, MaxConfidence: 0.25, MinRangeFrac: 0.50},
		},
		Blockers: map[marker.ID][]Blocker{
			marker.Glucose: {
				{Condition: "pregnancy", Note: "A1c-derived glucose is unreliable in pregnancy"},
			},
			marker.HbA1c: {
				{Condition: "pregnancy", Note: "red cell turnover shifts glycation"},
				{Condition: "recent_transfusion", Note: "donor cells distort the glycation average"},
			},
			marker.EGFR: {
				{Condition: "acute_kidney_injury", Note: "creatinine is not at steady state"},
			},
			marker.Creatinine: {
				{Condition: "acute_kidney_injury", Note: "steady-state inference does not hold"},
			},
			marker.Cortisol: {
				{Medication: "corticosteroids", Note: "exogenous steroids mask endogenous production"},
			},
			marker.Ferritin: {
				{Condition: "acute_inflammation", Note: "acute phase response inflates ferritin"},
			},
		},
		FallbackHalfLifeDays: 30,
		FallbackKinetics:     Kinetics{Class: VelocityModerate, MaxDailyFraction: 0.20, MaxDailyAbsolute: 10, StabilityThreshold: 0.20, MinBaselineDays: 14},
		FallbackBaseline:     BaselineRequirement{MinPoints: 5, MinDays: 3, MinSpanDays: 14},
	}
}

// #endregion defaults

// #region load

// Load returns the default registry overlaid with the YAML file at
// path. An empty path returns the defaults unchanged.
func Load(path string) (*Registry, error) {
	reg := Default()
	if path == "" {
		return reg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry overlay: %w", err)
	}
	var overlay Registry
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse registry overlay: %w", err)
	}
	reg.merge(&overlay)
	return reg, nil
}

// merge copies every populated overlay entry over the defaults.
func (r *Registry) merge(o *Registry) {
	for m, v := range o.HalfLifeDays {
		r.HalfLifeDays[m] = v
	}
	for m, v := range o.Kinetics {
		r.Kinetics[m] = v
	}
	for m, v := range o.Priors {
		r.Priors[m] = v
	}
	for m, v := range o.Baselines {
		r.Baselines[m] = v
	}
	if o.Weights != (ConfidenceWeights{}) {
		r.Weights = o.Weights
	}
	for tier, p := range o.GatePolicies {
		r.GatePolicies[tier] = p
	}
	for m, bs := range o.Blockers {
		r.Blockers[m] = bs
	}
	if o.FallbackHalfLifeDays > 0 {
		r.FallbackHalfLifeDays = o.FallbackHalfLifeDays
	}
	if o.FallbackKinetics != (Kinetics{}) {
		r.FallbackKinetics = o.FallbackKinetics
	}
	if o.FallbackBaseline != (BaselineRequirement{}) {
		r.FallbackBaseline = o.FallbackBaseline
	}
}

// #endregion load

// #region lookups

// HalfLife returns the decay half-life for m in days. The second
// return reports whether the marker was registered; callers log a
// processing note on fallback.
func (r *Registry) HalfLife(m marker.ID) (float64, bool) {
	if hl, ok := r.HalfLifeDays[m]; ok {
		return hl, true
	}
	return r.FallbackHalfLifeDays, false
}

// KineticsFor returns the kinetic limits for m, falling back when
// unregistered.
func (r *Registry) KineticsFor(m marker.ID) (Kinetics, bool) {
	if k, ok := r.Kinetics[m]; ok {
		return k, true
	}
	return r.FallbackKinetics, false
}

// BaselineFor returns the baseline adequacy requirement for m.
func (r *Registry) BaselineFor(m marker.ID) BaselineRequirement {
	if b, ok := r.Baselines[m]; ok {
		return b
	}
	return r.FallbackBaseline
}

// PriorFor returns the population prior for m if one is registered.
func (r *Registry) PriorFor(m marker.ID) (PopulationPrior, bool) {
	p, ok := r.Priors[m]
	return p, ok
}

// PolicyFor returns the gate policy for a support tier name.
func (r *Registry) PolicyFor(tier string) (GatePolicy, bool) {
	p, ok := r.GatePolicies[tier]
	return p, ok
}

// BlockersFor returns the circumstances that invalidate inference for
// a marker. Unregistered markers have none.
func (r *Registry) BlockersFor(m marker.ID) []Blocker {
	return r.Blockers[m]
}

// #endregion lookups
