package reconcile

import (
	"fmt"

	"github.com/markerlab/reconciler/internal/lattice"
	"github.com/markerlab/reconciler/internal/marker"
)

// #region types

// anchorConflictWiden and anchorConflictConfidence apply when a
// ground-truth anchor falls outside an inferred range: the estimate
// yields, never the anchor.
const (
	anchorConflictWiden      = 1.5
	anchorConflictConfidence = 0.7
)

// Conflict records an estimate contradicted by an anchor.
type Conflict struct {
	Marker      marker.ID `json:"marker"`
	AnchorValue float64   `json:"anchor_value"`
	Center      float64   `json:"center"`
	Note        string    `json:"note"`
}

// Result is the reconciled estimate set with per-marker constraint
// summaries and anchor conflicts.
type Result struct {
	Estimates map[marker.ID]marker.Estimate `json:"estimates"`
	Summaries map[marker.ID]lattice.Summary `json:"summaries"`
	Conflicts []Conflict                    `json:"conflicts"`
	// Coherence is the whole-set constraint satisfaction score used by
	// confidence calibration.
	Coherence float64 `json:"coherence"`
}

// #endregion types

// #region reconcile

// Run applies the constraint lattice across the whole estimate set
// plus anchors, then enforces anchor priority. Input maps are not
// modified; anchors are read-only throughout.
func Run(l *lattice.Lattice, estimates map[marker.ID]marker.Estimate, anchors map[marker.ID]marker.Anchor) Result {
	// Value set: estimate centers overlaid by anchor values. Anchors
	// win because they are ground truth.
	values := make(map[marker.ID]float64, len(estimates)+len(anchors))
	for m, e := range estimates {
		values[m] = e.Center
	}
	for m, a := range anchors {
		values[m] = a.Value
	}

	out := Result{
		Estimates: make(map[marker.ID]marker.Estimate, len(estimates)),
		Summaries: make(map[marker.ID]lattice.Summary, len(estimates)),
		Coherence: lattice.CoherenceScore(l.EvaluateAll(values)),
	}

	for m, e := range estimates {
		adjusted := e

		// Constraint pass. Direct measurements still get checked so
		// contradictory inputs surface, but only inferred estimates
		// are numerically adjusted.
		summary := lattice.Summarize(m, l.Evaluate(m, values))
		out.Summaries[m] = summary
		if e.Support != marker.SupportDirect {
			adjusted.Confidence = marker.Clamp01(adjusted.Confidence - summary.TotalPenalty)
			adjusted.Range *= summary.RangeFactor
			for _, d := range summary.Details {
				adjusted.Notes = append(adjusted.Notes, d)
			}
		}

		// Anchor priority pass.
		if a, ok := anchors[m]; ok && !adjusted.Contains(a.Value) {
			adjusted.Range *= anchorConflictWiden
			adjusted.Confidence *= anchorConflictConfidence
			note := fmt.Sprintf(
				"anchor %s=%.4g contradicts estimate center %.4g",
				m, a.Value, adjusted.Center,
			)
			adjusted.Notes = append(adjusted.Notes, note)
			out.Conflicts = append(out.Conflicts, Conflict{
				Marker:      m,
				AnchorValue: a.Value,
				Center:      adjusted.Center,
				Note:        note,
			})
		}

		out.Estimates[m] = adjusted
	}

	return out
}

// #endregion reconcile
