package lattice

import (
	"math"

	"github.com/markerlab/reconciler/internal/marker"
)

// #region deterministic relations

// EstimatedAvgGlucose converts HbA1c (%) to estimated average glucose
// (mg/dL) via the ADAG regression.
func EstimatedAvgGlucose(a1c float64) float64 {
	return 28.7*a1c - 46.7
}

// A1cFromGlucose inverts the ADAG regression.
func A1cFromGlucose(glucose float64) float64 {
	return (glucose + 46.7) / 28.7
}

// A1cGlucoseDeviationLimit is the relative deviation between observed
// glucose and the A1c-implied average beyond which the pair is
// physiologically inconsistent.
const A1cGlucoseDeviationLimit = 0.20

// #endregion deterministic relations

// #region builtin rules

func builtinConstraints() []Constraint {
	return []Constraint{
		{
			Name:             "a1c_glucose_consistency",
			Kind:             KindBound,
			Severity:         SeverityModerate,
			Markers:          []marker.ID{marker.HbA1c, marker.Glucose},
			ViolationPenalty: 0.15,
			ViolationWiden:   1.20,
			SatisfiedTighten: 0.95,
			Reason:           "glucose deviates more than 20% from the A1c-implied average",
			Check: func(v map[marker.ID]float64) Status {
				eag := EstimatedAvgGlucose(v[marker.HbA1c])
				if eag <= 0 {
					return StatusNeutral
				}
				if math.Abs(v[marker.Glucose]-eag)/eag > A1cGlucoseDeviationLimit {
					return StatusViolated
				}
				return StatusSatisfied
			},
		},
		{
			Name:             "egfr_creatinine_consistency",
			Kind:             KindBound,
			Severity:         SeverityStrong,
			Markers:          []marker.ID{marker.EGFR, marker.Creatinine},
			ViolationPenalty: 0.20,
			ViolationWiden:   1.30,
			SatisfiedTighten: 0.95,
			Reason:           "eGFR and creatinine move in the same direction",
			Check: func(v map[marker.ID]float64) Status {
				egfr, cr := v[marker.EGFR], v[marker.Creatinine]
				// Inverse relation: low clearance must come with high
				// creatinine and vice versa.
				if egfr < 60 && cr < 1.0 {
					return StatusViolated
				}
				if egfr > 90 && cr > 1.5 {
					return StatusViolated
				}
				return StatusSatisfied
			},
		},
		{
			Name:             "hdl_triglyceride_inverse",
			Kind:             KindCorrelation,
			Severity:         SeveritySoft,
			Markers:          []marker.ID{marker.HDL, marker.Triglyceride},
			ViolationPenalty: 0.05,
			ViolationWiden:   1.10,
			SatisfiedTighten: 0.97,
			Reason:           "high HDL rarely coexists with high triglycerides",
			Check: func(v map[marker.ID]float64) Status {
				if v[marker.HDL] > 70 && v[marker.Triglyceride] > 250 {
					return StatusViolated
				}
				return StatusSatisfied
			},
		},
		{
			Name:             "triglyceride_glucose_coupling",
			Kind:             KindCorrelation,
			Severity:         SeveritySoft,
			Markers:          []marker.ID{marker.Triglyceride, marker.Glucose},
			ViolationPenalty: 0.05,
			ViolationWiden:   1.10,
			SatisfiedTighten: 0.98,
			Reason:           "very high triglycerides with fully normal glucose is uncommon",
			Check: func(v map[marker.ID]float64) Status {
				if v[marker.Triglyceride] > 400 && v[marker.Glucose] < 85 {
					return StatusViolated
				}
				return StatusSatisfied
			},
		},
		{
			Name:             "inflammation_iron_sequestration",
			Kind:             KindCausality,
			Severity:         SeverityModerate,
			Markers:          []marker.ID{marker.CRP, marker.TSAT},
			ViolationPenalty: 0.10,
			ViolationWiden:   1.15,
			SatisfiedTighten: 0.97,
			Reason:           "active inflammation sequesters iron, suppressing transferrin saturation",
			Check: func(v map[marker.ID]float64) Status {
				if v[marker.CRP] > 10 && v[marker.TSAT] > 45 {
					return StatusViolated
				}
				return StatusSatisfied
			},
		},
		{
			Name:             "sodium_potassium_homeostasis",
			Kind:             KindBound,
			Severity:         SeverityStrong,
			Markers:          []marker.ID{marker.Sodium, marker.Potassium},
			ViolationPenalty: 0.25,
			ViolationWiden:   1.30,
			SatisfiedTighten: 0.95,
			Reason:           "electrolytes outside survivable homeostatic bounds",
			Check: func(v map[marker.ID]float64) Status {
				na, k := v[marker.Sodium], v[marker.Potassium]
				if na < 120 || na > 160 || k < 2.5 || k > 7.0 {
					return StatusViolated
				}
				return StatusSatisfied
			},
		},
		{
			Name:             "glucose_insulin_homeostasis",
			Kind:             KindCausality,
			Severity:         SeverityModerate,
			Markers:          []marker.ID{marker.Glucose, marker.Insulin},
			ViolationPenalty: 0.10,
			ViolationWiden:   1.15,
			SatisfiedTighten: 0.97,
			Reason:           "sustained high glucose with suppressed insulin, or the reverse",
			Check: func(v map[marker.ID]float64) Status {
				g, ins := v[marker.Glucose], v[marker.Insulin]
				if g > 180 && ins < 2 {
					return StatusViolated
				}
				if g < 60 && ins > 25 {
					return StatusViolated
				}
				return StatusSatisfied
			},
		},
		{
			Name:             "vitamin_d_inflammation_inverse",
			Kind:             KindCorrelation,
			Severity:         SeveritySoft,
			Markers:          []marker.ID{marker.VitaminD, marker.CRP},
			ViolationPenalty: 0.05,
			ViolationWiden:   1.10,
			SatisfiedTighten: 1.0,
			Reason:           "vitamin D and systemic inflammation trend inversely",
			Check: func(v map[marker.ID]float64) Status {
				// Directional tendency only; individual pairs routinely
				// dissociate, so no configuration is decisive.
				return StatusNeutral
			},
		},
		{
			Name:             "kidney_vitamin_d_activation",
			Kind:             KindCausality,
			Severity:         SeverityModerate,
			Markers:          []marker.ID{marker.EGFR, marker.VitaminD},
			ViolationPenalty: 0.10,
			ViolationWiden:   1.15,
			SatisfiedTighten: 0.98,
			Reason:           "severely reduced kidney function limits vitamin D activation",
			Check: func(v map[marker.ID]float64) Status {
				if v[marker.EGFR] < 30 && v[marker.VitaminD] > 60 {
					return StatusViolated
				}
				return StatusSatisfied
			},
		},
		{
			Name:             "adiposity_vitamin_d_storage",
			Kind:             KindCorrelation,
			Severity:         SeveritySoft,
			Markers:          []marker.ID{marker.BMI, marker.VitaminD},
			ViolationPenalty: 0.05,
			ViolationWiden:   1.10,
			SatisfiedTighten: 1.0,
			Reason:           "adipose sequestration lowers circulating vitamin D",
			Check: func(v map[marker.ID]float64) Status {
				return StatusNeutral
			},
		},
		{
			Name:             "sleep_cortisol_rhythm",
			Kind:             KindCausality,
			Severity:         SeveritySoft,
			Markers:          []marker.ID{marker.SleepHours, marker.Cortisol},
			ViolationPenalty: 0.05,
			ViolationWiden:   1.10,
			SatisfiedTighten: 1.0,
			Reason:           "chronic short sleep elevates morning cortisol",
			Check: func(v map[marker.ID]float64) Status {
				return StatusNeutral
			},
		},
	}
}

// #endregion builtin rules
