package pipeline

import (
	"time"

	"github.com/markerlab/reconciler/internal/baseline"
	"github.com/markerlab/reconciler/internal/confidence"
	"github.com/markerlab/reconciler/internal/gate"
	"github.com/markerlab/reconciler/internal/inertia"
	"github.com/markerlab/reconciler/internal/marker"
	"github.com/markerlab/reconciler/internal/reconcile"
	"github.com/markerlab/reconciler/internal/solver"
	"github.com/markerlab/reconciler/internal/store"
)

// #region report

// MarkerReport is the full per-marker output: the gated estimate plus
// every intermediate verdict that produced it.
type MarkerReport struct {
	Estimate    marker.Estimate        `json:"estimate"`
	Calibration confidence.Calibration `json:"calibration"`
	Decision    gate.Decision          `json:"decision"`

	Consensus *solver.Consensus  `json:"consensus,omitempty"`
	Deviation baseline.Deviation `json:"deviation"`
	Inertia   inertia.Assessment `json:"inertia"`

	Recommendations []string `json:"recommendations,omitempty"`
	Summary         string   `json:"summary"`
	// Degraded notes a stage-local failure that left this marker at
	// reduced fidelity rather than failing the run.
	Degraded string `json:"degraded,omitempty"`
}

// Report is one reconciliation run's output.
type Report struct {
	RunID       string                     `json:"run_id"`
	SubjectID   string                     `json:"subject_id"`
	GeneratedAt time.Time                  `json:"generated_at"`
	Markers     map[marker.ID]MarkerReport `json:"markers"`
	Conflicts   []reconcile.Conflict       `json:"conflicts,omitempty"`
	Coherence   float64                    `json:"coherence"`
	Notes       []string                   `json:"notes,omitempty"`
}

// Emitted returns only the reports the gate allowed out.
func (r Report) Emitted() map[marker.ID]MarkerReport {
	out := make(map[marker.ID]MarkerReport)
	for m, mr := range r.Markers {
		if mr.Decision.Emit {
			out[m] = mr
		}
	}
	return out
}

// RunLog persists finished run reports.
type RunLog interface {
	RecordRun(rec store.RunRecord) error
}

// #endregion report
