package gate

import (
	"fmt"
	"math"
	"time"

	"github.com/markerlab/reconciler/internal/config"
	"github.com/markerlab/reconciler/internal/ingest"
	"github.com/markerlab/reconciler/internal/marker"
)

// #region support map

// surrogates lists which measured markers count as indirect anchors
// for a derived marker. The required anchor set for a marker is itself
// plus its surrogates.
var surrogates = map[marker.ID][]marker.ID{
	marker.Glucose:      {marker.HbA1c},
	marker.HbA1c:        {marker.Glucose},
	marker.EGFR:         {marker.Creatinine},
	marker.Creatinine:   {marker.EGFR},
	marker.LDL:          {marker.TotalChol, marker.HDL, marker.Triglyceride},
	marker.TotalChol:    {marker.LDL, marker.HDL},
	marker.TSAT:         {marker.Iron, marker.Ferritin},
	marker.Ferritin:     {marker.Iron, marker.CRP},
	marker.Triglyceride: {marker.Glucose, marker.HDL},
}

// Overall support weights.
const (
	weightDirect    = 0.40
	weightCoverage  = 0.25
	weightSurrogate = 0.20
	weightTemporal  = 0.15
)

// Tier thresholds over the overall score.
const (
	strongFloor   = 0.70
	moderateFloor = 0.40
	weakFloor     = 0.15
)

// #endregion support map

// #region gate

// Gate decides, per estimate, whether anchor support justifies
// emitting it and which confidence and range caps apply.
type Gate struct {
	config   GateConfig
	registry *config.Registry
}

// NewGate creates a gate with the given configuration.
func NewGate(cfg GateConfig, registry *config.Registry) *Gate {
	return &Gate{config: cfg, registry: registry}
}

// Score computes the anchor support behind one marker.
func (g *Gate) Score(
	m marker.ID,
	anchors map[marker.ID]marker.Anchor,
	history []ingest.HistoryPoint,
	now time.Time,
) SupportScore {
	s := SupportScore{}

	if a, ok := anchors[m]; ok {
		s.Direct = g.anchorFreshness(m, a, now)
	}

	required := append([]marker.ID{m}, surrogates[m]...)
	var present int
	for _, r := range required {
		if a, ok := anchors[r]; ok && g.anchorFreshness(r, a, now) > 0 {
			present++
			if r != m {
				if f := g.anchorFreshness(r, a, now); f > s.Surrogate {
					s.Surrogate = f
				}
			}
		}
	}
	s.Coverage = float64(present) / float64(len(required))

	if len(history) > 0 {
		last := history[len(history)-1]
		depth := math.Min(float64(len(history))/5, 1)
		s.Temporal = depth * g.freshness(m, now.Sub(last.ObservedAt).Hours()/24)
	}

	s.Overall = weightDirect*s.Direct +
		weightCoverage*s.Coverage +
		weightSurrogate*s.Surrogate +
		weightTemporal*s.Temporal
	return s
}

// anchorFreshness scores an anchor's recency on the marker's own
// timescale.
func (g *Gate) anchorFreshness(m marker.ID, a marker.Anchor, now time.Time) float64 {
	return g.freshness(m, a.AgeDays(now))
}

// freshness decays linearly over a horizon of four half-lives, with a
// 30-day floor so fast-moving markers still get credit for recent
// labs.
func (g *Gate) freshness(m marker.ID, ageDays float64) float64 {
	if ageDays < 0 {
		return 1
	}
	hl, _ := g.registry.HalfLife(m)
	horizon := math.Max(hl*4, 30)
	return marker.Clamp01(1 - ageDays/horizon)
}

// tier maps a support score onto the output policy ladder. Strong
// requires a live direct anchor on top of the score floor; any
// surrogate keeps a marker out of the bottom tier.
func tier(s SupportScore) Tier {
	switch {
	case s.Overall >= strongFloor && s.Direct > 0:
		return TierStrong
	case s.Overall >= moderateFloor:
		return TierModerate
	case s.Overall >= weakFloor || s.Surrogate > 0:
		return TierWeak
	default:
		return TierNone
	}
}

// Evaluate runs hard suppression checks first, then applies the tier
// policy caps. The returned estimate is a capped copy; the input is
// not modified.
func (g *Gate) Evaluate(
	est marker.Estimate,
	coherence float64,
	subject ingest.Context,
	anchors map[marker.ID]marker.Anchor,
	history []ingest.HistoryPoint,
	now time.Time,
) (marker.Estimate, Decision) {
	support := g.Score(est.Marker, anchors, history, now)
	t := tier(support)

	policy, ok := g.registry.PolicyFor(string(t))
	if !ok {
		// Unregistered tier reads as the most restrictive policy.
		policy = config.GatePolicy{Emit: false, MaxConfidence: 0.25, MinRangeFrac: 0.50}
	}

	d := Decision{
		Marker:        est.Marker,
		Tier:          t,
		Support:       support,
		MaxConfidence: policy.MaxConfidence,
		MinRangeFrac:  policy.MinRangeFrac,
		MissingInputs: g.missing(est.Marker, anchors, now),
		BlockedBy:     g.blockedBy(est, subject),
	}

	// --- Hard suppression pass ---
	reason := marker.SuppressNone
	switch {
	case d.BlockedBy != "":
		reason = marker.SuppressBlocker
	case est.Confidence < g.config.MinConfidence:
		reason = marker.SuppressLowConfidence
	case coherence < g.config.MinCoherence:
		reason = marker.SuppressLowCoherence
	case !policy.Emit:
		reason = g.noEmitReason(est.Marker, support, anchors, now)
	}
	if reason != marker.SuppressNone && !g.config.ForceOutput {
		d.Suppressed = true
		d.Reason = reason
		return g.applyPolicy(est, policy), d
	}

	d.Emit = true
	return g.applyPolicy(est, policy), d
}

// blockedBy returns the first tripped blocker for a non-direct
// estimate. A measured value stands on its own: a blocker invalidates
// inference, not the assay.
func (g *Gate) blockedBy(est marker.Estimate, subject ingest.Context) string {
	if est.Support == marker.SupportDirect {
		return ""
	}
	for _, b := range g.registry.BlockersFor(est.Marker) {
		if b.Condition != "" && subject.HasCondition(b.Condition) {
			return b.Condition
		}
		if b.Medication != "" && subject.OnMedication(b.Medication) {
			return b.Medication
		}
	}
	return ""
}

// noEmitReason distinguishes why a none-tier marker is withheld: a
// direct anchor that has expired, nothing supporting the marker at
// all, or an absent required anchor over otherwise thin support.
func (g *Gate) noEmitReason(
	m marker.ID,
	s SupportScore,
	anchors map[marker.ID]marker.Anchor,
	now time.Time,
) marker.SuppressionReason {
	if a, ok := anchors[m]; ok && g.anchorFreshness(m, a, now) == 0 {
		return marker.SuppressStaleEvidence
	}
	if s.Overall == 0 && s.Surrogate == 0 {
		return marker.SuppressNoEvidence
	}
	return marker.SuppressMissingAnchor
}

// applyPolicy caps confidence and floors the range width per the tier
// policy.
func (g *Gate) applyPolicy(est marker.Estimate, policy config.GatePolicy) marker.Estimate {
	out := est
	if out.Confidence > policy.MaxConfidence {
		out.Confidence = policy.MaxConfidence
	}
	if floor := policy.MinRangeFrac * math.Abs(out.Center); out.Range < floor {
		out.Range = floor
	}
	return out
}

// missing lists absent or stale anchors from the marker's required
// set.
func (g *Gate) missing(m marker.ID, anchors map[marker.ID]marker.Anchor, now time.Time) []string {
	var out []string
	for _, r := range append([]marker.ID{m}, surrogates[m]...) {
		a, ok := anchors[r]
		if !ok {
			out = append(out, fmt.Sprintf("anchor:%s", r))
			continue
		}
		if g.anchorFreshness(r, a, now) == 0 {
			out = append(out, fmt.Sprintf("fresh anchor:%s", r))
		}
	}
	return out
}

// #endregion gate
