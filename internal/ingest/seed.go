package ingest

import (
	"sort"
	"time"

	"github.com/markerlab/reconciler/internal/marker"
)

// #region candidate seeding

// directEchoStaleDays bounds how old a direct measurement can be and
// still seed a grade-A candidate. Older measurements still enter the
// pipeline but start at grade B.
const directEchoStaleDays = 7

// SeedCandidates turns an input set into initial per-marker estimates.
// A directly measured marker seeds a direct-support candidate whose
// grade reflects recency; it still flows through every downstream
// stage so constraint checks and gating apply to measured values too.
func SeedCandidates(in Input) map[marker.ID]marker.Estimate {
	latest := LatestObservations(in.Observations)
	out := make(map[marker.ID]marker.Estimate, len(latest))
	for m, obs := range latest {
		grade := marker.GradeA
		support := marker.SupportDirect
		age := in.AsOf.Sub(obs.CollectedAt).Hours() / 24
		if age > directEchoStaleDays {
			grade = marker.GradeB
		}
		// Range seeds narrow for fresh direct measurements and widens
		// with age; downstream stages only ever adjust from here.
		width := obs.Value * 0.05
		if width < 0.5 {
			width = 0.5
		}
		if age > directEchoStaleDays {
			width *= 2
		}
		out[m] = marker.Estimate{
			Marker:     m,
			Center:     obs.Value,
			Range:      width,
			Confidence: grade.Cap(),
			Grade:      grade,
			Support:    support,
			Unit:       obs.Unit,
			AsOf:       in.AsOf,
		}
	}
	return out
}

// LatestObservations keeps the most recent measurement per marker,
// skipping absence records.
func LatestObservations(obs []Observation) map[marker.ID]Observation {
	latest := make(map[marker.ID]Observation)
	for _, o := range obs {
		if o.IsAbsence() {
			continue
		}
		if cur, ok := latest[o.Marker]; !ok || o.CollectedAt.After(cur.CollectedAt) {
			latest[o.Marker] = o
		}
	}
	return latest
}

// AnchorMap indexes anchors by marker, keeping the most recent per
// marker. The input slice is never modified.
func AnchorMap(anchors []marker.Anchor) map[marker.ID]marker.Anchor {
	out := make(map[marker.ID]marker.Anchor, len(anchors))
	for _, a := range anchors {
		if cur, ok := out[a.Marker]; !ok || a.MeasuredAt.After(cur.MeasuredAt) {
			out[a.Marker] = a
		}
	}
	return out
}

// HistoryFor returns m's history sorted oldest first.
func HistoryFor(points []HistoryPoint, m marker.ID) []HistoryPoint {
	var out []HistoryPoint
	for _, p := range points {
		if p.Marker == m {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out
}

// Targets resolves the marker set a run should estimate: the explicit
// target list when present, otherwise every marker seen in
// observations, anchors, or history.
func Targets(in Input) []marker.ID {
	if len(in.Targets) > 0 {
		return in.Targets
	}
	seen := make(map[marker.ID]bool)
	var out []marker.ID
	add := func(m marker.ID) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	for _, o := range in.Observations {
		add(o.Marker)
	}
	for _, a := range in.Anchors {
		add(a.Marker)
	}
	for _, h := range in.History {
		add(h.Marker)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MissingnessTally counts absence records by class; user-skipped and
// biologically-unavailable absences do not count against evidence
// completeness.
func MissingnessTally(obs []Observation) map[Missingness]int {
	tally := make(map[Missingness]int)
	for _, o := range obs {
		if o.IsAbsence() {
			tally[o.Missing]++
		}
	}
	return tally
}

// PenalizingAbsences counts the absence records that do reduce
// completeness.
func PenalizingAbsences(tally map[Missingness]int) int {
	n := 0
	for class, count := range tally {
		switch class {
		case MissUserSkipped, MissBioUnavailable, MissNotApplicable:
			// evidentially neutral
		default:
			n += count
		}
	}
	return n
}

// ObservationAge returns the age in days of the freshest measurement
// for m, or ok=false when none exists.
func ObservationAge(obs []Observation, m marker.ID, now time.Time) (float64, bool) {
	latest := LatestObservations(obs)
	o, ok := latest[m]
	if !ok {
		return 0, false
	}
	return now.Sub(o.CollectedAt).Hours() / 24, true
}

// #endregion candidate seeding
