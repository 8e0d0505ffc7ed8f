package gate

import (
	"github.com/markerlab/reconciler/internal/marker"
)

// #region types

// Tier classifies how well-anchored a derived estimate is.
type Tier string

const (
	TierStrong   Tier = "strong"
	TierModerate Tier = "moderate"
	TierWeak     Tier = "weak"
	TierNone     Tier = "none"
)

// SupportScore breaks down the anchor support behind one marker.
type SupportScore struct {
	Direct    float64 `json:"direct"`    // recency-weighted direct anchor presence
	Coverage  float64 `json:"coverage"`  // fraction of the required anchor set present
	Surrogate float64 `json:"surrogate"` // best surrogate anchor presence
	Temporal  float64 `json:"temporal"`  // history depth and freshness
	Overall   float64 `json:"overall"`   // weighted blend
}

// Decision is the gate's verdict for one estimate.
type Decision struct {
	Marker  marker.ID    `json:"marker"`
	Tier    Tier         `json:"tier"`
	Support SupportScore `json:"support"`

	Emit       bool                     `json:"emit"`
	Suppressed bool                     `json:"suppressed"`
	Reason     marker.SuppressionReason `json:"reason,omitempty"`
	// BlockedBy names the condition or medication that tripped a
	// blocker suppression.
	BlockedBy string `json:"blocked_by,omitempty"`
	// MissingInputs lists the anchors that would raise the tier.
	MissingInputs []string `json:"missing_inputs,omitempty"`

	// Applied policy, recorded for provenance.
	MaxConfidence float64 `json:"max_confidence"`
	MinRangeFrac  float64 `json:"min_range_fraction"`
}

// GateConfig tunes the hard-suppression checks that run before the
// tier policy.
type GateConfig struct {
	// MinConfidence suppresses estimates whose calibrated confidence
	// fell below any useful level.
	MinConfidence float64
	// MinCoherence suppresses estimates when the surrounding estimate
	// set is internally contradictory.
	MinCoherence float64
	// ForceOutput bypasses suppression; the tier policy caps still
	// apply.
	ForceOutput bool
}

// DefaultGateConfig returns the production guardrails.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinConfidence: 0.10,
		MinCoherence:  0.25,
	}
}

// #endregion types
