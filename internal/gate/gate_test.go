package gate

import (
	"reflect"
	"testing"
	"time"

	"github.com/markerlab/reconciler/internal/config"
	"github.com/markerlab/reconciler/internal/ingest"
	"github.com/markerlab/reconciler/internal/marker"
)

var now = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func newTestGate() *Gate {
	return NewGate(DefaultGateConfig(), config.Default())
}

func estimate(m marker.ID, conf float64) marker.Estimate {
	return marker.Estimate{
		Marker: m, Center: 100, Range: 10, Confidence: conf,
		Grade: marker.GradeB, Support: marker.SupportDerived, AsOf: now,
	}
}

func TestFreshDirectAnchorIsStrong(t *testing.T) {
	g := newTestGate()
	anchors := map[marker.ID]marker.Anchor{
		marker.HbA1c:   {Marker: marker.HbA1c, Value: 5.6, MeasuredAt: now.AddDate(0, 0, -3)},
		marker.Glucose: {Marker: marker.Glucose, Value: 95, MeasuredAt: now.AddDate(0, 0, -3)},
	}
	history := []ingest.HistoryPoint{
		{Marker: marker.HbA1c, Value: 5.5, ObservedAt: now.AddDate(0, 0, -30)},
		{Marker: marker.HbA1c, Value: 5.6, ObservedAt: now.AddDate(0, 0, -10)},
		{Marker: marker.HbA1c, Value: 5.6, ObservedAt: now.AddDate(0, 0, -2)},
		{Marker: marker.HbA1c, Value: 5.7, ObservedAt: now.AddDate(0, 0, -1)},
		{Marker: marker.HbA1c, Value: 5.6, ObservedAt: now},
	}
	s := g.Score(marker.HbA1c, anchors, history, now)
	if tier(s) != TierStrong {
		t.Fatalf("fresh direct anchor with full coverage should be strong, got %s (%+v)", tier(s), s)
	}
}

func TestNoAnchorsIsNoneAndSuppressed(t *testing.T) {
	g := newTestGate()
	est := estimate(marker.Glucose, 0.6)
	_, d := g.Evaluate(est, 0.9, ingest.Context{}, nil, nil, now)
	if d.Tier != TierNone {
		t.Fatalf("no anchors should tier none, got %s", d.Tier)
	}
	if !d.Suppressed || d.Reason != marker.SuppressNoEvidence {
		t.Fatalf("a marker with no support at all should suppress with no_supporting_evidence: %+v", d)
	}
	if len(d.MissingInputs) == 0 {
		t.Fatalf("suppression must list missing inputs")
	}
}

func TestThinSupportSuppressesAsMissingAnchor(t *testing.T) {
	g := newTestGate()
	// A single fresh history point gives faint temporal support but no
	// anchors anywhere.
	history := []ingest.HistoryPoint{
		{Marker: marker.VitaminD, Value: 28, ObservedAt: now.AddDate(0, 0, -5)},
	}
	est := estimate(marker.VitaminD, 0.6)
	_, d := g.Evaluate(est, 0.9, ingest.Context{}, nil, history, now)
	if d.Tier != TierNone {
		t.Fatalf("expected none tier, got %s (%+v)", d.Tier, d.Support)
	}
	if !d.Suppressed || d.Reason != marker.SuppressMissingAnchor {
		t.Fatalf("thin support should suppress with missing_required_anchor: %+v", d)
	}
}

func TestExpiredAnchorSuppressesAsStale(t *testing.T) {
	g := newTestGate()
	anchors := map[marker.ID]marker.Anchor{
		marker.VitaminD: {Marker: marker.VitaminD, Value: 28, MeasuredAt: now.AddDate(-5, 0, 0)},
	}
	est := estimate(marker.VitaminD, 0.6)
	_, d := g.Evaluate(est, 0.9, ingest.Context{}, anchors, nil, now)
	if !d.Suppressed || d.Reason != marker.SuppressStaleEvidence {
		t.Fatalf("an anchor years past the horizon should suppress as stale: %+v", d)
	}
}

func TestSurrogateOnlyAvoidsBottomTier(t *testing.T) {
	g := newTestGate()
	anchors := map[marker.ID]marker.Anchor{
		marker.HbA1c: {Marker: marker.HbA1c, Value: 5.6, MeasuredAt: now.AddDate(0, 0, -10)},
	}
	s := g.Score(marker.Glucose, anchors, nil, now)
	if got := tier(s); got == TierNone {
		t.Fatalf("surrogate anchor should keep the marker above none, got %s (%+v)", got, s)
	}
	if s.Direct != 0 {
		t.Fatalf("surrogate must not count as direct: %+v", s)
	}
}

func TestStrongRequiresDirectAnchor(t *testing.T) {
	s := SupportScore{Direct: 0, Coverage: 1, Surrogate: 1, Temporal: 1}
	s.Overall = weightCoverage + weightSurrogate + weightTemporal // 0.60
	if tier(s) == TierStrong {
		t.Fatalf("strong tier must require a direct anchor")
	}
}

func TestPolicyCapsConfidenceAndFloorsRange(t *testing.T) {
	g := newTestGate()
	anchors := map[marker.ID]marker.Anchor{
		marker.HbA1c: {Marker: marker.HbA1c, Value: 5.6, MeasuredAt: now.AddDate(0, 0, -10)},
	}
	est := estimate(marker.Glucose, 0.95)
	est.Range = 1 // implausibly tight for weak support
	got, d := g.Evaluate(est, 0.9, ingest.Context{}, anchors, nil, now)
	if got.Confidence > d.MaxConfidence {
		t.Fatalf("confidence %v exceeds tier cap %v", got.Confidence, d.MaxConfidence)
	}
	if got.Range < d.MinRangeFrac*est.Center {
		t.Fatalf("range %v below tier floor %v", got.Range, d.MinRangeFrac*est.Center)
	}
}

func TestLowConfidenceSuppressed(t *testing.T) {
	g := newTestGate()
	anchors := map[marker.ID]marker.Anchor{
		marker.Glucose: {Marker: marker.Glucose, Value: 95, MeasuredAt: now},
	}
	_, d := g.Evaluate(estimate(marker.Glucose, 0.05), 0.9, ingest.Context{}, anchors, nil, now)
	if !d.Suppressed || d.Reason != marker.SuppressLowConfidence {
		t.Fatalf("confidence under the floor should suppress: %+v", d)
	}
}

func TestLowCoherenceSuppressed(t *testing.T) {
	g := newTestGate()
	anchors := map[marker.ID]marker.Anchor{
		marker.Glucose: {Marker: marker.Glucose, Value: 95, MeasuredAt: now},
	}
	_, d := g.Evaluate(estimate(marker.Glucose, 0.6), 0.1, ingest.Context{}, anchors, nil, now)
	if !d.Suppressed || d.Reason != marker.SuppressLowCoherence {
		t.Fatalf("incoherent set should suppress: %+v", d)
	}
}

func TestForceOutputBypassesSuppression(t *testing.T) {
	cfg := DefaultGateConfig()
	cfg.ForceOutput = true
	g := NewGate(cfg, config.Default())
	got, d := g.Evaluate(estimate(marker.Glucose, 0.6), 0.9, ingest.Context{}, nil, nil, now)
	if d.Suppressed || !d.Emit {
		t.Fatalf("force output should emit: %+v", d)
	}
	// The none-tier caps still bind.
	if got.Confidence > 0.25 {
		t.Fatalf("forced output must still honor the none-tier cap, got %v", got.Confidence)
	}
}

func TestStaleAnchorLosesSupport(t *testing.T) {
	g := newTestGate()
	fresh := map[marker.ID]marker.Anchor{
		marker.HbA1c: {Marker: marker.HbA1c, Value: 5.6, MeasuredAt: now.AddDate(0, 0, -5)},
	}
	stale := map[marker.ID]marker.Anchor{
		marker.HbA1c: {Marker: marker.HbA1c, Value: 5.6, MeasuredAt: now.AddDate(-3, 0, 0)},
	}
	fs := g.Score(marker.HbA1c, fresh, nil, now)
	ss := g.Score(marker.HbA1c, stale, nil, now)
	if ss.Direct >= fs.Direct {
		t.Fatalf("a 3-year-old anchor should score below a 5-day-old one: %v >= %v", ss.Direct, fs.Direct)
	}
	if ss.Direct != 0 {
		t.Fatalf("an anchor past the horizon should score zero, got %v", ss.Direct)
	}
}

func TestEvaluateDoesNotModifyInput(t *testing.T) {
	g := newTestGate()
	est := estimate(marker.Glucose, 0.95)
	before := est
	g.Evaluate(est, 0.9, ingest.Context{}, nil, nil, now)
	if !reflect.DeepEqual(est, before) {
		t.Fatalf("input estimate mutated: %+v", est)
	}
}

func TestBlockerConditionSuppressesDerivedEstimate(t *testing.T) {
	g := newTestGate()
	anchors := map[marker.ID]marker.Anchor{
		marker.HbA1c: {Marker: marker.HbA1c, Value: 6.2, MeasuredAt: now.AddDate(0, 0, -3)},
	}
	subject := ingest.Context{Conditions: []string{"pregnancy"}}
	est := estimate(marker.Glucose, 0.6)
	_, d := g.Evaluate(est, 0.9, subject, anchors, nil, now)
	if !d.Suppressed || d.Reason != marker.SuppressBlocker {
		t.Fatalf("pregnancy should block A1c-derived glucose: %+v", d)
	}
	if d.BlockedBy != "pregnancy" {
		t.Fatalf("decision should name the tripping condition, got %q", d.BlockedBy)
	}
}

func TestBlockerDoesNotSuppressDirectMeasurement(t *testing.T) {
	g := newTestGate()
	anchors := map[marker.ID]marker.Anchor{
		marker.Glucose: {Marker: marker.Glucose, Value: 95, MeasuredAt: now.AddDate(0, 0, -1)},
	}
	subject := ingest.Context{Conditions: []string{"pregnancy"}}
	est := estimate(marker.Glucose, 0.6)
	est.Grade = marker.GradeA
	est.Support = marker.SupportDirect
	_, d := g.Evaluate(est, 0.9, subject, anchors, nil, now)
	if d.Suppressed || d.BlockedBy != "" {
		t.Fatalf("a measured value is not invalidated by the condition: %+v", d)
	}
}

func TestBlockerMedicationSuppresses(t *testing.T) {
	g := newTestGate()
	anchors := map[marker.ID]marker.Anchor{
		marker.Cortisol: {Marker: marker.Cortisol, Value: 14, MeasuredAt: now.AddDate(0, 0, -1)},
	}
	subject := ingest.Context{Medications: []string{"Corticosteroids"}}
	est := estimate(marker.Cortisol, 0.6)
	_, d := g.Evaluate(est, 0.9, subject, anchors, nil, now)
	if !d.Suppressed || d.Reason != marker.SuppressBlocker {
		t.Fatalf("corticosteroid use should block cortisol inference: %+v", d)
	}
	if d.BlockedBy != "corticosteroids" {
		t.Fatalf("decision should name the tripping medication, got %q", d.BlockedBy)
	}
}

func TestBlockerIgnoresUnrelatedCondition(t *testing.T) {
	g := newTestGate()
	anchors := map[marker.ID]marker.Anchor{
		marker.HbA1c: {Marker: marker.HbA1c, Value: 6.2, MeasuredAt: now.AddDate(0, 0, -3)},
	}
	subject := ingest.Context{Conditions: []string{"acute_inflammation"}}
	est := estimate(marker.Glucose, 0.6)
	_, d := g.Evaluate(est, 0.9, subject, anchors, nil, now)
	if d.Reason == marker.SuppressBlocker {
		t.Fatalf("an unrelated condition must not block glucose: %+v", d)
	}
}
