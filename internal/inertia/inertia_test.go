package inertia

import (
	"testing"
	"time"

	"github.com/markerlab/reconciler/internal/config"
	"github.com/markerlab/reconciler/internal/ingest"
	"github.com/markerlab/reconciler/internal/marker"
)

var now = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func glucoseKinetics() config.Kinetics {
	k, _ := config.Default().KineticsFor(marker.Glucose)
	return k
}

func hba1cKinetics() config.Kinetics {
	k, _ := config.Default().KineticsFor(marker.HbA1c)
	return k
}

func TestNoHistoryIsNeutral(t *testing.T) {
	a := Assess(marker.Glucose, 95, nil, nil, glucoseKinetics(), now)
	if a.Evaluated || a.Violated || a.RangeFactor != 1 || a.ConfidenceDelta != 0 {
		t.Fatalf("no history should be neutral: %+v", a)
	}
}

func TestPlausibleChangePasses(t *testing.T) {
	history := []ingest.HistoryPoint{
		{Marker: marker.Glucose, Value: 95, ObservedAt: now.AddDate(0, 0, -1)},
	}
	a := Assess(marker.Glucose, 110, history, nil, glucoseKinetics(), now)
	if !a.Evaluated || a.Violated {
		t.Fatalf("15 mg/dL over a day is within glucose kinetics: %+v", a)
	}
}

func TestImplausibleJumpViolates(t *testing.T) {
	// 95 -> 300 in one day is far beyond even fast glucose kinetics
	// when scaled to slow markers; use hba1c where the limit is tiny.
	history := []ingest.HistoryPoint{
		{Marker: marker.HbA1c, Value: 5.6, ObservedAt: now.AddDate(0, 0, -7)},
	}
	a := Assess(marker.HbA1c, 9.0, history, nil, hba1cKinetics(), now)
	if !a.Violated {
		t.Fatalf("hba1c 5.6 -> 9.0 in a week should violate: %+v", a)
	}
	if a.ConfidenceDelta >= 0 || a.ConfidenceDelta < -0.30 {
		t.Fatalf("penalty should be negative and capped at 0.30: %v", a.ConfidenceDelta)
	}
	if a.RangeFactor <= 1 || a.RangeFactor > 1.5 {
		t.Fatalf("widening should be in (1, 1.5]: %v", a.RangeFactor)
	}
}

func TestGlucoseSameDayTripleViolates(t *testing.T) {
	history := []ingest.HistoryPoint{
		{Marker: marker.Glucose, Value: 95, ObservedAt: now.Add(-12 * time.Hour)},
	}
	a := Assess(marker.Glucose, 300, history, nil, glucoseKinetics(), now)
	if !a.Violated {
		t.Fatalf("glucose 95 -> 300 in half a day should violate: %+v", a)
	}
}

func TestEventJustifiesRapidChange(t *testing.T) {
	history := []ingest.HistoryPoint{
		{Marker: marker.CRP, Value: 1.0, ObservedAt: now.AddDate(0, 0, -2)},
	}
	events := []ingest.LifeEvent{
		{Name: "acute_infection", OccurredAt: now.AddDate(0, 0, -3)},
	}
	k, _ := config.Default().KineticsFor(marker.CRP)
	a := Assess(marker.CRP, 60, history, events, k, now)
	if a.Violated {
		t.Fatalf("infection inside the window should justify the spike: %+v", a)
	}
	if a.JustifiedBy != "acute_infection" {
		t.Fatalf("expected justification recorded, got %q", a.JustifiedBy)
	}
	if a.ConfidenceDelta != 0 || a.RangeFactor != 1 {
		t.Fatalf("justified change should be neutral: %+v", a)
	}
}

func TestStaleEventDoesNotJustify(t *testing.T) {
	history := []ingest.HistoryPoint{
		{Marker: marker.CRP, Value: 1.0, ObservedAt: now.AddDate(0, 0, -2)},
	}
	events := []ingest.LifeEvent{
		// CRP is a moderate-velocity marker with a 14-day window.
		{Name: "old_infection", OccurredAt: now.AddDate(0, 0, -60)},
	}
	k, _ := config.Default().KineticsFor(marker.CRP)
	a := Assess(marker.CRP, 60, history, events, k, now)
	if !a.Violated {
		t.Fatalf("event outside the window should not justify: %+v", a)
	}
}

func TestStabilityBonus(t *testing.T) {
	var history []ingest.HistoryPoint
	for d := 70; d >= 1; d -= 7 {
		history = append(history, ingest.HistoryPoint{
			Marker: marker.HbA1c, Value: 5.6, ObservedAt: now.AddDate(0, 0, -d),
		})
	}
	a := Assess(marker.HbA1c, 5.6, history, nil, hba1cKinetics(), now)
	if !a.StableBonus {
		t.Fatalf("steady hba1c over 70 days should earn the bonus: %+v", a)
	}
	if a.ConfidenceDelta != 0.05 {
		t.Fatalf("expected +0.05 confidence, got %v", a.ConfidenceDelta)
	}
	if a.RangeFactor != 0.95 {
		t.Fatalf("expected 0.95 range factor, got %v", a.RangeFactor)
	}
}

func TestShortHistoryNoStabilityBonus(t *testing.T) {
	history := []ingest.HistoryPoint{
		{Marker: marker.HbA1c, Value: 5.6, ObservedAt: now.AddDate(0, 0, -10)},
		{Marker: marker.HbA1c, Value: 5.6, ObservedAt: now.AddDate(0, 0, -5)},
		{Marker: marker.HbA1c, Value: 5.6, ObservedAt: now.AddDate(0, 0, -1)},
	}
	a := Assess(marker.HbA1c, 5.6, history, nil, hba1cKinetics(), now)
	if a.StableBonus {
		t.Fatalf("10-day history is under the 60-day minimum: %+v", a)
	}
}
