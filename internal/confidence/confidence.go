package confidence

import (
	"sort"

	"github.com/markerlab/reconciler/internal/config"
	"github.com/markerlab/reconciler/internal/marker"
)

// #region types

// Components are the 0-1 inputs to calibration for one marker.
type Components struct {
	Completeness  float64 `json:"completeness"`   // evidence coverage
	Coherence     float64 `json:"coherence"`      // constraint satisfaction
	Agreement     float64 `json:"agreement"`      // solver consensus
	Stability     float64 `json:"stability"`      // temporal steadiness
	SignalQuality float64 `json:"signal_quality"` // upstream data quality
	// Interference is the summed penalty from conflicts and
	// violations; it subtracts after the weighted blend.
	Interference float64 `json:"interference"`
}

// Driver names one component's contribution for explanation.
type Driver struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Calibration is the final confidence verdict for one marker.
type Calibration struct {
	Score float64 `json:"score"` // after weights, penalty, clamp, grade cap
	Raw   float64 `json:"raw"`   // before the grade cap
	// Capped reports whether the evidence-grade ceiling bound the
	// score.
	Capped        bool                 `json:"capped"`
	Grade         marker.EvidenceGrade `json:"grade"`
	Drivers       []Driver             `json:"drivers"`       // top 3 supporting components
	Uncertainties []Driver             `json:"uncertainties"` // bottom 2 components
}

// #endregion types

// #region calibrate

// interferenceReportFloor is the interference level above which the
// penalty is surfaced as an uncertainty driver.
const interferenceReportFloor = 0.10

// Calibrate blends the weighted components, subtracts interference,
// clamps to [0, 1], and applies the evidence-grade ceiling. The grade
// cap is absolute: no combination of strong components can lift a
// score above its grade's ceiling.
func Calibrate(c Components, grade marker.EvidenceGrade, w config.ConfidenceWeights) Calibration {
	raw := w.Completeness*c.Completeness +
		w.Coherence*c.Coherence +
		w.Agreement*c.Agreement +
		w.Stability*c.Stability +
		w.SignalQuality*c.SignalQuality -
		c.Interference
	raw = marker.Clamp01(raw)

	score := raw
	capped := false
	if ceiling := grade.Cap(); score > ceiling {
		score = ceiling
		capped = true
	}

	drivers := []Driver{
		{Name: "completeness", Value: c.Completeness},
		{Name: "coherence", Value: c.Coherence},
		{Name: "agreement", Value: c.Agreement},
		{Name: "stability", Value: c.Stability},
		{Name: "signal_quality", Value: c.SignalQuality},
	}
	sort.SliceStable(drivers, func(i, j int) bool { return drivers[i].Value > drivers[j].Value })

	top := make([]Driver, 0, 3)
	top = append(top, drivers[:3]...)

	bottom := make([]Driver, 0, 3)
	bottom = append(bottom, drivers[len(drivers)-2:]...)
	if c.Interference > interferenceReportFloor {
		bottom = append(bottom, Driver{Name: "interference", Value: c.Interference})
	}

	return Calibration{
		Score:         score,
		Raw:           raw,
		Capped:        capped,
		Grade:         grade,
		Drivers:       top,
		Uncertainties: bottom,
	}
}

// #endregion calibrate
