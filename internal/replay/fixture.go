package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/markerlab/reconciler/internal/ingest"
	"github.com/markerlab/reconciler/internal/marker"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay scenario: one
// input set plus the outcomes the run is expected to produce.
type Fixture struct {
	Description string         `json:"description"`
	Input       ingest.Input   `json:"input"`
	Expected    []ExpectedEmit `json:"expected_results"`
}

// ExpectedEmit is one asserted per-marker outcome.
type ExpectedEmit struct {
	Marker marker.ID `json:"marker"`
	Emit   bool      `json:"emit"`
	// Reason asserts the suppression reason when Emit is false; empty
	// means any reason passes.
	Reason marker.SuppressionReason `json:"reason,omitempty"`
	// Center bounds, applied only when both are set.
	MinCenter float64 `json:"min_center,omitempty"`
	MaxCenter float64 `json:"max_center,omitempty"`
	// MaxConfidence asserts a ceiling when > 0.
	MaxConfidence float64 `json:"max_confidence,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON scenario file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// #endregion fixture-loader
