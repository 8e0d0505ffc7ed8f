package inertia

import (
	"math"
	"time"

	"github.com/markerlab/reconciler/internal/config"
	"github.com/markerlab/reconciler/internal/ingest"
	"github.com/markerlab/reconciler/internal/marker"
)

// #region types

const (
	// maxConfidencePenalty caps how much an unjustified jump can cost.
	maxConfidencePenalty = 0.30
	// maxRangeWiden caps how much an unjustified jump widens the range.
	maxRangeWiden = 0.50
	// stabilityConfidenceBonus and stabilityRangeTighten reward markers
	// holding steady over their minimum baseline window.
	stabilityConfidenceBonus = 0.05
	stabilityRangeTighten    = 0.05
)

// Assessment is the temporal plausibility verdict for one proposed
// estimate against the subject's history.
type Assessment struct {
	Marker marker.ID `json:"marker"`

	// Evaluated is false when there is no prior value to compare
	// against; all adjustment fields are then neutral.
	Evaluated bool `json:"evaluated"`

	ImpliedDaily float64 `json:"implied_daily,omitempty"` // |change| per day
	AllowedDaily float64 `json:"allowed_daily,omitempty"`
	ExcessRatio  float64 `json:"excess_ratio,omitempty"` // implied / allowed

	Violated    bool   `json:"violated"`
	JustifiedBy string `json:"justified_by,omitempty"` // life event name

	ConfidenceDelta float64 `json:"confidence_delta"` // signed, penalty or bonus
	RangeFactor     float64 `json:"range_factor"`     // multiplier, 1 when neutral
	StableBonus     bool    `json:"stable_bonus"`
	Detail          string  `json:"detail,omitempty"`
}

// #endregion types

// #region assessment

// Assess checks a proposed center against the most recent prior value
// under the marker's kinetic limits. A change faster than the limit is
// a violation unless a life event inside the velocity class's
// justification window explains it. Stable recent history earns a
// small confidence bonus and range tightening instead.
func Assess(
	m marker.ID,
	proposed float64,
	history []ingest.HistoryPoint,
	events []ingest.LifeEvent,
	kin config.Kinetics,
	now time.Time,
) Assessment {
	a := Assessment{Marker: m, RangeFactor: 1}
	if len(history) == 0 {
		return a
	}
	prev := history[len(history)-1]
	elapsedDays := now.Sub(prev.ObservedAt).Hours() / 24
	if elapsedDays < 1.0/24 {
		elapsedDays = 1.0 / 24 // floor at one hour so instant pairs do not blow up
	}

	allowed := math.Max(kin.MaxDailyFraction*math.Abs(prev.Value), kin.MaxDailyAbsolute)
	implied := math.Abs(proposed-prev.Value) / elapsedDays

	a.Evaluated = true
	a.ImpliedDaily = implied
	a.AllowedDaily = allowed
	if allowed > 0 {
		a.ExcessRatio = implied / allowed
	}

	if implied <= allowed {
		if stable(history, kin, now) {
			a.StableBonus = true
			a.ConfidenceDelta = stabilityConfidenceBonus
			a.RangeFactor = 1 - stabilityRangeTighten
		}
		return a
	}

	// Change exceeds kinetic limits; look for a justifying event
	// within the class window.
	window := kin.Class.JustificationWindowDays()
	for _, ev := range events {
		if ev.Justifies(m, now, window) {
			a.JustifiedBy = ev.Name
			a.Detail = "rapid change justified by " + ev.Name
			return a
		}
	}

	a.Violated = true
	severity := marker.Clamp01((a.ExcessRatio - 1) / 4)
	a.ConfidenceDelta = -maxConfidencePenalty * severity
	a.RangeFactor = 1 + maxRangeWiden*severity
	a.Detail = "change exceeds kinetic limit with no justifying event"
	return a
}

// stable reports whether history shows low variation over at least the
// marker's minimum baseline window.
func stable(history []ingest.HistoryPoint, kin config.Kinetics, now time.Time) bool {
	if len(history) < 3 {
		return false
	}
	span := now.Sub(history[0].ObservedAt).Hours() / 24
	if span < kin.MinBaselineDays {
		return false
	}
	var sum, sumSq float64
	for _, p := range history {
		sum += p.Value
		sumSq += p.Value * p.Value
	}
	n := float64(len(history))
	mean := sum / n
	if mean == 0 {
		return false
	}
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	cv := math.Sqrt(variance) / math.Abs(mean)
	return cv < kin.StabilityThreshold
}

// #endregion assessment
