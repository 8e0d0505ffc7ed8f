package replay

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/markerlab/reconciler/internal/ingest"
	"github.com/markerlab/reconciler/internal/marker"
)

func TestLoadFixture(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "glucose_from_a1c.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if f.Description == "" {
		t.Fatalf("description missing")
	}
	if len(f.Input.Anchors) != 1 || f.Input.Anchors[0].Marker != marker.HbA1c {
		t.Fatalf("anchor not parsed: %+v", f.Input.Anchors)
	}
	if len(f.Expected) != 1 {
		t.Fatalf("expected results not parsed")
	}
}

func TestLoadFixtureMissingFile(t *testing.T) {
	if _, err := LoadFixture(filepath.Join("testdata", "does_not_exist.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestReplayGlucoseFixturePasses(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "glucose_from_a1c.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	res, err := Replay(context.Background(), f, DefaultReplayConfig())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Passed() {
		t.Fatalf("fixture failed: %+v", res.Checks)
	}
}

func TestReplaySuppressionFixturePasses(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "unanchored_suppressed.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	res, err := Replay(context.Background(), f, DefaultReplayConfig())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Passed() {
		t.Fatalf("fixture failed: %+v", res.Checks)
	}
}

func TestReplayBlockedInferenceFixturePasses(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "blocked_inference.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	res, err := Replay(context.Background(), f, DefaultReplayConfig())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Passed() {
		t.Fatalf("fixture failed: %+v", res.Checks)
	}
}

func TestCheckFailsOnWrongEmit(t *testing.T) {
	f := &Fixture{
		Description: "inline",
		Input: ingest.Input{
			Context: ingest.Context{SubjectID: "inline-1"},
			AsOf:    time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
			Targets: []marker.ID{marker.VitaminD},
		},
		Expected: []ExpectedEmit{{Marker: marker.VitaminD, Emit: true}},
	}
	res, err := Replay(context.Background(), f, DefaultReplayConfig())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Passed() {
		t.Fatalf("expectation of emit should fail for an unanchored marker")
	}
}

func TestSummarize(t *testing.T) {
	results := []ReplayResult{
		{Checks: []CheckResult{{Passed: true}, {Passed: true}}},
		{Checks: []CheckResult{{Passed: false, Reason: "emit mismatch"}}},
	}
	s := Summarize(results)
	if s.Fixtures != 2 || s.Passed != 1 || s.Failed != 1 || s.Checks != 3 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}
