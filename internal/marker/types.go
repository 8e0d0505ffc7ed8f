package marker

import "time"

// #region identity

// ID names a physiological marker. IDs are lowercase snake_case and
// shared across lattice rules, registries, and stores.
type ID string

// Markers referenced by built-in rules and registries. The pipeline
// accepts IDs outside this list; registries fall back to defaults.
const (
	Glucose      ID = "glucose"
	HbA1c        ID = "hba1c"
	Insulin      ID = "insulin"
	Creatinine   ID = "creatinine"
	EGFR         ID = "egfr"
	TotalChol    ID = "total_cholesterol"
	LDL          ID = "ldl_cholesterol"
	HDL          ID = "hdl_cholesterol"
	Triglyceride ID = "triglycerides"
	CRP          ID = "crp"
	Ferritin     ID = "ferritin"
	Iron         ID = "iron"
	TSAT         ID = "transferrin_saturation"
	VitaminD     ID = "vitamin_d"
	Sodium       ID = "sodium"
	Potassium    ID = "potassium"
	Cortisol     ID = "cortisol"
	BMI          ID = "bmi"
	SleepHours   ID = "sleep_hours"
)

// #endregion identity

// #region grades

// EvidenceGrade ranks the strength of the evidence chain behind an
// estimate. Grades only ever cap confidence; no stage raises a grade.
type EvidenceGrade string

const (
	GradeA EvidenceGrade = "A" // direct recent measurement
	GradeB EvidenceGrade = "B" // strong surrogate or recent indirect
	GradeC EvidenceGrade = "C" // model inference from related markers
	GradeD EvidenceGrade = "D" // population-level only
)

// Cap returns the confidence ceiling for the grade. Unknown grades are
// treated as D.
func (g EvidenceGrade) Cap() float64 {
	switch g {
	case GradeA:
		return 0.90
	case GradeB:
		return 0.75
	case GradeC:
		return 0.55
	default:
		return 0.35
	}
}

// Worse reports whether g is a weaker grade than other.
func (g EvidenceGrade) Worse(other EvidenceGrade) bool {
	return g.rank() > other.rank()
}

func (g EvidenceGrade) rank() int {
	switch g {
	case GradeA:
		return 0
	case GradeB:
		return 1
	case GradeC:
		return 2
	default:
		return 3
	}
}

// SupportKind classifies how an estimate is backed by evidence.
type SupportKind string

const (
	SupportDirect     SupportKind = "direct"     // measured value echoed through
	SupportDerived    SupportKind = "derived"    // deterministic formula over measurements
	SupportProxy      SupportKind = "proxy"      // surrogate marker inference
	SupportRelational SupportKind = "relational" // cross-marker model inference
	SupportPopulation SupportKind = "population" // population prior only
)

// #endregion grades

// #region estimate

// Estimate is one marker's reconciled value: a center, a symmetric
// uncertainty range (full width), and a calibrated confidence.
type Estimate struct {
	Marker     ID            `json:"marker"`
	Center     float64       `json:"center"`
	Range      float64       `json:"range"` // full width, Center +/- Range/2
	Confidence float64       `json:"confidence"`
	Grade      EvidenceGrade `json:"grade"`
	Support    SupportKind   `json:"support"`
	Unit       string        `json:"unit,omitempty"`
	AsOf       time.Time     `json:"as_of"`
	Notes      []string      `json:"notes,omitempty"`
}

// Low returns the lower edge of the estimate range.
func (e Estimate) Low() float64 { return e.Center - e.Range/2 }

// High returns the upper edge of the estimate range.
func (e Estimate) High() float64 { return e.Center + e.Range/2 }

// Contains reports whether v falls inside the estimate range.
func (e Estimate) Contains(v float64) bool {
	return v >= e.Low() && v <= e.High()
}

// Anchor is a ground-truth measurement. Anchors are inputs only: no
// pipeline stage modifies an anchor, and estimates always yield to
// a conflicting anchor rather than the other way around.
type Anchor struct {
	Marker     ID        `json:"marker"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	MeasuredAt time.Time `json:"measured_at"`
	Source     string    `json:"source,omitempty"`
}

// AgeDays returns the anchor age in fractional days at the given time.
func (a Anchor) AgeDays(now time.Time) float64 {
	return now.Sub(a.MeasuredAt).Hours() / 24
}

// #endregion estimate

// #region suppression

// SuppressionReason is a machine-readable code explaining why an
// estimate was withheld from output.
type SuppressionReason string

const (
	SuppressMissingAnchor  SuppressionReason = "missing_required_anchor"
	SuppressLowCoherence   SuppressionReason = "low_coherence"
	SuppressLowConfidence  SuppressionReason = "confidence_below_threshold"
	SuppressBlocker        SuppressionReason = "blocker_condition_met"
	SuppressNoEvidence     SuppressionReason = "no_supporting_evidence"
	SuppressStaleEvidence  SuppressionReason = "evidence_too_stale"
	SuppressNone           SuppressionReason = ""
)

// #endregion suppression

// #region helpers

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// #endregion helpers
