package ingest

import (
	"strings"
	"time"

	"github.com/markerlab/reconciler/internal/marker"
)

// #region observations

// Missingness classifies why an expected observation is absent. The
// classes carry different evidential weight downstream: user_skipped
// and biologically_unavailable are not treated as lack of evidence
// about the subject's state.
type Missingness string

const (
	MissNotCollected   Missingness = "not_collected"
	MissUserSkipped    Missingness = "user_skipped"
	MissBioUnavailable Missingness = "biologically_unavailable"
	MissSensorUnavail  Missingness = "sensor_unavailable"
	MissNotApplicable  Missingness = "not_applicable"
)

// Observation is a single collected data point at the ingestion
// boundary.
type Observation struct {
	Specimen    string      `json:"specimen,omitempty"` // blood, urine, wearable, survey
	Marker      marker.ID   `json:"marker"`
	Value       float64     `json:"value"`
	Unit        string      `json:"unit,omitempty"`
	CollectedAt time.Time   `json:"collected_at"`
	Missing     Missingness `json:"missing,omitempty"` // set only on absence records
	Quality     float64     `json:"quality,omitempty"` // 0-1 signal quality, 0 means unknown
}

// IsAbsence reports whether the observation records a missing value
// rather than a measurement.
func (o Observation) IsAbsence() bool { return o.Missing != "" }

// HistoryPoint is a prior value for temporal reasoning.
type HistoryPoint struct {
	Marker     marker.ID `json:"marker"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// #endregion observations

// #region context

// LifeEvent is a dated occurrence that can justify rapid change in a
// marker (illness onset, medication change, surgery, a diet shift).
type LifeEvent struct {
	Name       string      `json:"name"`
	OccurredAt time.Time   `json:"occurred_at"`
	Markers    []marker.ID `json:"markers,omitempty"` // empty means all markers
	Severity   float64     `json:"severity,omitempty"`
}

// Justifies reports whether the event can explain a change in m within
// the given window ending at now.
func (e LifeEvent) Justifies(m marker.ID, now time.Time, windowDays float64) bool {
	age := now.Sub(e.OccurredAt).Hours() / 24
	if age < 0 || age > windowDays {
		return false
	}
	if len(e.Markers) == 0 {
		return true
	}
	for _, em := range e.Markers {
		if em == m {
			return true
		}
	}
	return false
}

// Context carries subject demographics and circumstances the solvers,
// inertia engine, and gate consult.
type Context struct {
	SubjectID   string      `json:"subject_id"`
	AgeYears    float64     `json:"age_years,omitempty"`
	Sex         string      `json:"sex,omitempty"` // "female" or "male" where relevant
	Conditions  []string    `json:"conditions,omitempty"`
	Medications []string    `json:"medications,omitempty"`
	Events      []LifeEvent `json:"events,omitempty"`
}

// HasCondition reports whether the named clinical condition is active
// for the subject.
func (c Context) HasCondition(name string) bool {
	return containsFold(c.Conditions, name)
}

// OnMedication reports whether the subject takes the named medication.
func (c Context) OnMedication(name string) bool {
	return containsFold(c.Medications, name)
}

func containsFold(list []string, name string) bool {
	for _, v := range list {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}

// #endregion context

// #region input set

// Input is everything one reconciliation run consumes.
type Input struct {
	Context      Context         `json:"context"`
	Observations []Observation   `json:"observations"`
	Anchors      []marker.Anchor `json:"anchors"`
	History      []HistoryPoint  `json:"history"`
	AsOf         time.Time       `json:"as_of"`
	Targets      []marker.ID     `json:"targets,omitempty"` // empty means infer from inputs
}

// #endregion input set
