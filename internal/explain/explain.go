package explain

import (
	"fmt"
	"strings"

	"github.com/markerlab/reconciler/internal/confidence"
	"github.com/markerlab/reconciler/internal/gate"
)

// #region explanations

// componentRemedies maps a weak calibration component to the concrete
// action that would raise it.
var componentRemedies = map[string]string{
	"completeness":   "collect the missing related markers",
	"coherence":      "resolve the flagged marker contradictions",
	"agreement":      "add an independent measurement to break the solver disagreement",
	"stability":      "log more readings over a longer window to establish a trend",
	"signal_quality": "re-measure with a higher-quality source",
	"interference":   "re-test the conflicting markers to clear the contradiction",
}

// weakComponentFloor is the level under which a component earns a
// recommendation.
const weakComponentFloor = 0.5

// Recommendations turns a calibration and gate decision into the
// short list of actions that would most tighten the estimate.
func Recommendations(cal confidence.Calibration, d gate.Decision) []string {
	var out []string

	// Missing anchors dominate everything else.
	for _, missing := range d.MissingInputs {
		name := strings.TrimPrefix(missing, "fresh ")
		name = strings.TrimPrefix(name, "anchor:")
		out = append(out, fmt.Sprintf("measure %s directly to raise anchor support", name))
		if len(out) == 2 {
			break
		}
	}

	for _, u := range cal.Uncertainties {
		if u.Name != "interference" && u.Value >= weakComponentFloor {
			continue
		}
		if remedy, ok := componentRemedies[u.Name]; ok {
			out = append(out, remedy)
		}
	}

	if cal.Capped {
		out = append(out, fmt.Sprintf(
			"confidence is ceilinged at %.2f by grade %s evidence; only stronger evidence raises it",
			cal.Grade.Cap(), cal.Grade,
		))
	}

	return dedupe(out)
}

// Summary renders a one-line human explanation of the verdict.
func Summary(d gate.Decision, cal confidence.Calibration) string {
	if d.Suppressed {
		if d.BlockedBy != "" {
			return fmt.Sprintf("%s withheld (%s: %s)", d.Marker, d.Reason, d.BlockedBy)
		}
		return fmt.Sprintf("%s withheld (%s, support tier %s)", d.Marker, d.Reason, d.Tier)
	}
	top := "no dominant driver"
	if len(cal.Drivers) > 0 {
		top = fmt.Sprintf("driven by %s %.2f", cal.Drivers[0].Name, cal.Drivers[0].Value)
	}
	return fmt.Sprintf("%s emitted at confidence %.2f (tier %s, %s)", d.Marker, cal.Score, d.Tier, top)
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}

// #endregion explanations
