package baseline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/markerlab/reconciler/internal/config"
	"github.com/markerlab/reconciler/internal/marker"
)

// #region types

// Confidence grades how much a baseline can be trusted.
type Confidence string

const (
	ConfInsufficient Confidence = "insufficient"
	ConfLow          Confidence = "low"
	ConfModerate     Confidence = "moderate"
	ConfHigh         Confidence = "high"
)

// Point is one historical reading used to build a baseline.
type Point struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// Baseline is a subject's personal normal for one marker: a median
// center with a P10-P90 band. A baseline below its data requirements
// is marked insufficient and must not be used as if it existed.
type Baseline struct {
	Marker     marker.ID  `json:"marker"`
	Center     float64    `json:"center"` // median
	Low        float64    `json:"low"`    // P10
	High       float64    `json:"high"`   // P90
	Confidence Confidence `json:"confidence"`
	Score      float64    `json:"score"` // 0-1 adequacy
	Points     int        `json:"points"`
	Days       int        `json:"days"`
	SpanDays   float64    `json:"span_days"`
	BuiltAt    time.Time  `json:"built_at"`

	// Weekday/weekend sub-baselines, present only when the marker's
	// requirement asks for the split and both slices have coverage.
	Weekday *Baseline `json:"weekday,omitempty"`
	Weekend *Baseline `json:"weekend,omitempty"`
}

// Usable reports whether the baseline met its data requirements.
func (b Baseline) Usable() bool {
	return b.Confidence != ConfInsufficient && b.Confidence != ""
}

// BandWidth returns the full P10-P90 width.
func (b Baseline) BandWidth() float64 { return b.High - b.Low }

// Deviation severity buckets.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Deviation is how far a value sits from a subject's personal normal.
type Deviation struct {
	Score    float64  `json:"score"` // (v - center) / (band/2), signed
	Severity Severity `json:"severity"`
}

// Store persists baselines per subject and marker.
type Store interface {
	GetBaseline(subject string, m marker.ID) (Baseline, bool, error)
	PutBaseline(subject string, b Baseline) error
}

// #endregion types

// #region build

// Build computes a baseline from history points against the marker's
// adequacy requirement. Too little data yields an insufficient
// baseline carrying whatever partial statistics exist.
func Build(m marker.ID, points []Point, req config.BaselineRequirement, now time.Time) Baseline {
	b := Baseline{Marker: m, BuiltAt: now}
	if len(points) == 0 {
		b.Confidence = ConfInsufficient
		return b
	}

	values := make([]float64, len(points))
	days := make(map[string]bool)
	first, last := points[0].At, points[0].At
	for i, p := range points {
		values[i] = p.Value
		days[p.At.Format("2006-01-02")] = true
		if p.At.Before(first) {
			first = p.At
		}
		if p.At.After(last) {
			last = p.At
		}
	}
	sort.Float64s(values)

	b.Center = percentile(values, 0.50)
	b.Low = percentile(values, 0.10)
	b.High = percentile(values, 0.90)
	b.Points = len(points)
	b.Days = len(days)
	b.SpanDays = last.Sub(first).Hours() / 24

	b.Score, b.Confidence = adequacy(b, req)
	if b.Usable() && req.SplitWeekdays {
		attachSplit(&b, points, req, now)
	}
	return b
}

// adequacy scores data sufficiency from three ratios: points against
// twice the minimum, distinct days against twice the minimum, and span
// against 1.5x the minimum. Any unmet floor is insufficient outright.
func adequacy(b Baseline, req config.BaselineRequirement) (float64, Confidence) {
	if b.Points < req.MinPoints || b.Days < req.MinDays || b.SpanDays < req.MinSpanDays {
		return 0, ConfInsufficient
	}
	pr := math.Min(float64(b.Points)/(2*float64(req.MinPoints)), 1)
	dr := math.Min(float64(b.Days)/(2*float64(req.MinDays)), 1)
	sr := math.Min(b.SpanDays/(1.5*req.MinSpanDays), 1)
	score := (pr + dr + sr) / 3
	switch {
	case score >= 0.8:
		return score, ConfHigh
	case score >= 0.5:
		return score, ConfModerate
	default:
		return score, ConfLow
	}
}

// attachSplit builds weekday and weekend sub-baselines when each slice
// alone meets the (unsplit) requirement.
func attachSplit(b *Baseline, points []Point, req config.BaselineRequirement, now time.Time) {
	var wd, we []Point
	for _, p := range points {
		switch p.At.Weekday() {
		case time.Saturday, time.Sunday:
			we = append(we, p)
		default:
			wd = append(wd, p)
		}
	}
	sub := req
	sub.SplitWeekdays = false
	if wdB := Build(b.Marker, wd, sub, now); wdB.Usable() {
		b.Weekday = &wdB
	}
	if weB := Build(b.Marker, we, sub, now); weB.Usable() {
		b.Weekend = &weB
	}
}

// percentile interpolates the p-quantile of sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// #endregion build

// #region deviation

// Deviate scores a value against the baseline band: the signed
// distance from center in half-band units. An unusable baseline or a
// degenerate band reports no deviation.
func (b Baseline) Deviate(v float64) Deviation {
	if !b.Usable() || b.BandWidth() <= 0 {
		return Deviation{Severity: SeverityNone}
	}
	score := (v - b.Center) / (b.BandWidth() / 2)
	abs := math.Abs(score)
	var sev Severity
	switch {
	case abs >= 1.5:
		sev = SeveritySevere
	case abs >= 1.0:
		sev = SeverityModerate
	case abs >= 0.5:
		sev = SeverityMild
	default:
		sev = SeverityNone
	}
	return Deviation{Score: score, Severity: sev}
}

// #endregion deviation

// #region engine

// Engine builds and persists baselines.
type Engine struct {
	store    Store
	registry *config.Registry
}

// NewEngine wires the engine to a store and registry.
func NewEngine(store Store, registry *config.Registry) *Engine {
	return &Engine{store: store, registry: registry}
}

// Refresh rebuilds the subject's baseline for m from points and
// persists it.
func (e *Engine) Refresh(subject string, m marker.ID, points []Point, now time.Time) (Baseline, error) {
	b := Build(m, points, e.registry.BaselineFor(m), now)
	if err := e.store.PutBaseline(subject, b); err != nil {
		return Baseline{}, fmt.Errorf("persist baseline %s/%s: %w", subject, m, err)
	}
	return b, nil
}

// Read returns the stored baseline for the subject and marker. A
// missing baseline reads as an insufficient one so callers can treat
// absence uniformly.
func (e *Engine) Read(subject string, m marker.ID) (Baseline, error) {
	b, ok, err := e.store.GetBaseline(subject, m)
	if err != nil {
		return Baseline{}, fmt.Errorf("read baseline %s/%s: %w", subject, m, err)
	}
	if !ok {
		return Baseline{Marker: m, Confidence: ConfInsufficient}, nil
	}
	return b, nil
}

// #endregion engine
