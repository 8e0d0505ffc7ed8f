package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/markerlab/reconciler/internal/baseline"
	"github.com/markerlab/reconciler/internal/gate"
	"github.com/markerlab/reconciler/internal/ingest"
	"github.com/markerlab/reconciler/internal/lattice"
	"github.com/markerlab/reconciler/internal/marker"
	"github.com/markerlab/reconciler/internal/priors"
	"github.com/markerlab/reconciler/internal/store"
)

var now = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

// #region in-memory stores

type memPriorStore struct{ data map[string]priors.Distribution }

func newMemPriorStore() *memPriorStore {
	return &memPriorStore{data: make(map[string]priors.Distribution)}
}

func (s *memPriorStore) GetPrior(subject string, m marker.ID) (priors.Distribution, bool, error) {
	d, ok := s.data[subject+"/"+string(m)]
	return d, ok, nil
}

func (s *memPriorStore) PutPrior(subject string, d priors.Distribution) error {
	s.data[subject+"/"+string(d.Marker)] = d
	return nil
}

type memBaselineStore struct{ data map[string]baseline.Baseline }

func newMemBaselineStore() *memBaselineStore {
	return &memBaselineStore{data: make(map[string]baseline.Baseline)}
}

func (s *memBaselineStore) GetBaseline(subject string, m marker.ID) (baseline.Baseline, bool, error) {
	b, ok := s.data[subject+"/"+string(m)]
	return b, ok, nil
}

func (s *memBaselineStore) PutBaseline(subject string, b baseline.Baseline) error {
	s.data[subject+"/"+string(b.Marker)] = b
	return nil
}

type memRunLog struct{ records []store.RunRecord }

func (l *memRunLog) RecordRun(rec store.RunRecord) error {
	l.records = append(l.records, rec)
	return nil
}

// #endregion in-memory stores

func newTestPipeline(runLog RunLog) *Pipeline {
	return New(Config{Gate: gate.DefaultGateConfig()}, newMemPriorStore(), newMemBaselineStore(), runLog)
}

func TestDirectMeasurementEmitted(t *testing.T) {
	p := newTestPipeline(nil)
	in := ingest.Input{
		Context: ingest.Context{SubjectID: "subj-1"},
		AsOf:    now,
		Observations: []ingest.Observation{
			{Marker: marker.Glucose, Value: 95, CollectedAt: now.Add(-2 * time.Hour)},
		},
		Anchors: []marker.Anchor{
			{Marker: marker.Glucose, Value: 95, MeasuredAt: now.Add(-2 * time.Hour)},
		},
	}
	rep, err := p.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	mr, ok := rep.Markers[marker.Glucose]
	if !ok {
		t.Fatalf("glucose missing from report")
	}
	if !mr.Decision.Emit {
		t.Fatalf("anchored direct measurement should emit: %+v", mr.Decision)
	}
	if mr.Estimate.Grade != marker.GradeA {
		t.Fatalf("fresh measurement should be grade A, got %s", mr.Estimate.Grade)
	}
}

func TestInferredGlucoseFromA1cAnchor(t *testing.T) {
	p := newTestPipeline(nil)
	in := ingest.Input{
		Context: ingest.Context{SubjectID: "subj-1"},
		AsOf:    now,
		Anchors: []marker.Anchor{
			{Marker: marker.HbA1c, Value: 7.0, MeasuredAt: now.AddDate(0, 0, -5)},
		},
		Targets: []marker.ID{marker.Glucose},
	}
	rep, err := p.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	mr := rep.Markers[marker.Glucose]
	// The ADAG relation puts average glucose for A1c 7.0 near 154;
	// the population prior pulls the blend down but not below normal.
	if mr.Estimate.Center < 100 || mr.Estimate.Center > 160 {
		t.Fatalf("implausible inferred glucose %v", mr.Estimate.Center)
	}
	if mr.Estimate.Support == marker.SupportDirect {
		t.Fatalf("inferred estimate must not claim direct support")
	}
	if !mr.Decision.Emit {
		t.Fatalf("surrogate-anchored estimate should emit: %+v", mr.Decision)
	}
	if mr.Estimate.Confidence > mr.Decision.MaxConfidence {
		t.Fatalf("confidence %v exceeds tier cap %v", mr.Estimate.Confidence, mr.Decision.MaxConfidence)
	}
}

func TestUnanchoredMarkerSuppressed(t *testing.T) {
	p := newTestPipeline(nil)
	in := ingest.Input{
		Context: ingest.Context{SubjectID: "subj-1"},
		AsOf:    now,
		Targets: []marker.ID{marker.VitaminD},
	}
	rep, err := p.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	mr := rep.Markers[marker.VitaminD]
	if mr.Decision.Emit {
		t.Fatalf("marker with no anchors should be suppressed: %+v", mr.Decision)
	}
	if mr.Decision.Reason != marker.SuppressNoEvidence {
		t.Fatalf("expected no_supporting_evidence, got %s", mr.Decision.Reason)
	}
	if len(mr.Decision.MissingInputs) == 0 {
		t.Fatalf("suppression must name missing inputs")
	}
	if _, emitted := rep.Emitted()[marker.VitaminD]; emitted {
		t.Fatalf("suppressed marker leaked into emitted set")
	}
}

func TestGradeCapInvariantAcrossRun(t *testing.T) {
	p := newTestPipeline(nil)
	in := ingest.Input{
		Context: ingest.Context{SubjectID: "subj-1", AgeYears: 50, Sex: "male"},
		AsOf:    now,
		Observations: []ingest.Observation{
			{Marker: marker.Creatinine, Value: 1.0, CollectedAt: now.Add(-4 * time.Hour)},
			{Marker: marker.TotalChol, Value: 210, CollectedAt: now.AddDate(0, 0, -2)},
			{Marker: marker.HDL, Value: 50, CollectedAt: now.AddDate(0, 0, -2)},
			{Marker: marker.Triglyceride, Value: 140, CollectedAt: now.AddDate(0, 0, -2)},
		},
		Anchors: []marker.Anchor{
			{Marker: marker.Creatinine, Value: 1.0, MeasuredAt: now.Add(-4 * time.Hour)},
		},
		Targets: []marker.ID{marker.Creatinine, marker.EGFR, marker.LDL, marker.Glucose},
	}
	rep, err := p.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for m, mr := range rep.Markers {
		if mr.Estimate.Confidence > mr.Estimate.Grade.Cap()+1e-9 {
			t.Fatalf("%s: confidence %v exceeds grade %s cap", m, mr.Estimate.Confidence, mr.Estimate.Grade)
		}
	}
}

func TestAnchorContradictionFlagged(t *testing.T) {
	p := newTestPipeline(nil)
	// A1c 9.0 implies glucose around 211; anchor says 95. The inferred
	// glucose must carry the contradiction.
	in := ingest.Input{
		Context: ingest.Context{SubjectID: "subj-1"},
		AsOf:    now,
		Anchors: []marker.Anchor{
			{Marker: marker.HbA1c, Value: 9.0, MeasuredAt: now.AddDate(0, 0, -3)},
			{Marker: marker.Glucose, Value: 95, MeasuredAt: now.AddDate(0, 0, -1)},
		},
		Targets: []marker.ID{marker.Glucose, marker.HbA1c},
	}
	rep, err := p.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Coherence >= 1 {
		t.Fatalf("contradictory anchors should lower coherence, got %v", rep.Coherence)
	}
}

func TestAnchorsNotMutatedByRun(t *testing.T) {
	p := newTestPipeline(nil)
	anchors := []marker.Anchor{
		{Marker: marker.HbA1c, Value: 7.0, MeasuredAt: now.AddDate(0, 0, -5)},
	}
	before := anchors[0]
	in := ingest.Input{
		Context: ingest.Context{SubjectID: "subj-1"},
		AsOf:    now,
		Anchors: anchors,
		Targets: []marker.ID{marker.Glucose},
	}
	if _, err := p.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if anchors[0] != before {
		t.Fatalf("anchor mutated by run: %+v", anchors[0])
	}
}

func TestRunPersistedToLog(t *testing.T) {
	rl := &memRunLog{}
	p := newTestPipeline(rl)
	in := ingest.Input{
		Context: ingest.Context{SubjectID: "subj-1"},
		AsOf:    now,
		Observations: []ingest.Observation{
			{Marker: marker.Glucose, Value: 95, CollectedAt: now.Add(-2 * time.Hour)},
		},
	}
	rep, err := p.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rl.records) != 1 {
		t.Fatalf("expected one run record, got %d", len(rl.records))
	}
	rec := rl.records[0]
	if rec.RunID != rep.RunID || rec.SubjectID != "subj-1" {
		t.Fatalf("record mismatch: %+v", rec)
	}
	var stored Report
	if err := json.Unmarshal([]byte(rec.ReportJSON), &stored); err != nil {
		t.Fatalf("stored report not valid JSON: %v", err)
	}
	if len(stored.Markers) != len(rep.Markers) {
		t.Fatalf("stored report lost markers")
	}
}

func TestInferredCenterTracksADAG(t *testing.T) {
	p := newTestPipeline(nil)
	in := ingest.Input{
		Context: ingest.Context{SubjectID: "subj-1"},
		AsOf:    now,
		Anchors: []marker.Anchor{
			{Marker: marker.HbA1c, Value: 7.0, MeasuredAt: now.AddDate(0, 0, -5)},
		},
		Targets: []marker.ID{marker.Glucose},
	}
	rep, err := p.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	eag := lattice.EstimatedAvgGlucose(7.0)
	center := rep.Markers[marker.Glucose].Estimate.Center
	// The blend sits between the population mean and the ADAG value.
	if center <= 95 || center >= eag+1 {
		t.Fatalf("blend should fall between prior mean 95 and eAG %v, got %v", eag, center)
	}
}
