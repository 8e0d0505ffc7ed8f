package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/markerlab/reconciler/internal/pipeline"
	"github.com/markerlab/reconciler/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", envOr("RECONCILER_DB", ""), "path to reconciler.db")
	subject := flag.String("subject", "", "subject ID")
	runID := flag.String("run", "", "show single run detail")
	last := flag.Int("last", 20, "show N most recent runs")
	showPriors := flag.Bool("priors", false, "dump stored priors")
	showBaselines := flag.Bool("baselines", false, "dump stored baselines")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/reconciler.db --subject id [--run id] [--last N] [--priors] [--baselines] [--json]")
		os.Exit(2)
	}

	db, err := store.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := dispatch(db, *subject, *runID, *last, *showPriors, *showBaselines, *jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(db *store.Store, subject, runID string, last int, showPriors, showBaselines, jsonOut bool) error {
	if runID != "" {
		return runDetailMode(db, runID, jsonOut)
	}
	if subject == "" {
		return fmt.Errorf("--subject is required unless --run is given")
	}
	if showPriors {
		return runPriorsMode(db, subject, jsonOut)
	}
	if showBaselines {
		return runBaselinesMode(db, subject, jsonOut)
	}
	return runListMode(db, subject, last, jsonOut)
}

// #endregion main

// #region run-modes

type runRow struct {
	RunID     string  `json:"run_id"`
	CreatedAt string  `json:"created_at"`
	Markers   int     `json:"markers"`
	Emitted   int     `json:"emitted"`
	Coherence float64 `json:"coherence"`
}

func runListMode(db *store.Store, subject string, last int, jsonOut bool) error {
	recs, err := db.ListRuns(subject, last)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]runRow, 0, len(recs))
	for _, rec := range recs {
		var report pipeline.Report
		if err := json.Unmarshal([]byte(rec.ReportJSON), &report); err != nil {
			return fmt.Errorf("parse run %s: %w", rec.RunID, err)
		}
		rows = append(rows, runRow{
			RunID:     rec.RunID,
			CreatedAt: rec.CreatedAt.Format(time.RFC3339),
			Markers:   len(report.Markers),
			Emitted:   len(report.Emitted()),
			Coherence: report.Coherence,
		})
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-12s  %-20s  %7s  %7s  %9s\n", "Run", "Time", "Markers", "Emitted", "Coherence")
	for _, r := range rows {
		fmt.Printf("%-12s  %-20s  %7d  %7d  %9.2f\n",
			shortID(r.RunID), r.CreatedAt, r.Markers, r.Emitted, r.Coherence)
	}
	return nil
}

func runDetailMode(db *store.Store, runID string, jsonOut bool) error {
	rec, err := db.GetRun(runID)
	if err != nil {
		return err
	}
	var report pipeline.Report
	if err := json.Unmarshal([]byte(rec.ReportJSON), &report); err != nil {
		return fmt.Errorf("parse run %s: %w", rec.RunID, err)
	}

	if jsonOut {
		return printJSON(report)
	}

	fmt.Printf("Run:       %s\n", report.RunID)
	fmt.Printf("Subject:   %s\n", report.SubjectID)
	fmt.Printf("Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Printf("Coherence: %.2f\n", report.Coherence)

	fmt.Printf("\n%-12s  %-6s  %8s  %8s  %5s  %-8s  %s\n",
		"Marker", "Grade", "Center", "Range", "Conf", "Tier", "Status")
	for m, mr := range report.Markers {
		status := "emit"
		if !mr.Decision.Emit {
			status = string(mr.Decision.Reason)
		}
		fmt.Printf("%-12s  %-6s  %8.2f  %8.2f  %5.2f  %-8s  %s\n",
			m, mr.Estimate.Grade, mr.Estimate.Center, mr.Estimate.Range,
			mr.Estimate.Confidence, mr.Decision.Tier, status)
	}

	if len(report.Conflicts) > 0 {
		fmt.Printf("\nConflicts:\n")
		for _, c := range report.Conflicts {
			fmt.Printf("  %-12s anchor %.2f vs estimate %.2f (%s)\n",
				c.Marker, c.AnchorValue, c.Center, c.Note)
		}
	}
	return nil
}

// #endregion run-modes

// #region store-modes

func runPriorsMode(db *store.Store, subject string, jsonOut bool) error {
	dists, err := db.ListPriors(subject)
	if err != nil {
		return err
	}
	if len(dists) == 0 {
		fmt.Fprintln(os.Stderr, "no priors found")
		return nil
	}
	if jsonOut {
		return printJSON(dists)
	}

	fmt.Printf("%-12s  %8s  %8s  %-16s  %6s  %s\n", "Marker", "Mean", "Std", "Source", "Points", "Updated")
	for _, d := range dists {
		fmt.Printf("%-12s  %8.2f  %8.2f  %-16s  %6d  %s\n",
			d.Marker, d.Mean, d.Std, d.Source, d.Points, d.UpdatedAt.Format("2006-01-02"))
	}
	return nil
}

func runBaselinesMode(db *store.Store, subject string, jsonOut bool) error {
	bases, err := db.ListBaselines(subject)
	if err != nil {
		return err
	}
	if len(bases) == 0 {
		fmt.Fprintln(os.Stderr, "no baselines found")
		return nil
	}
	if jsonOut {
		return printJSON(bases)
	}

	fmt.Printf("%-12s  %8s  %8s  %8s  %-12s  %6s  %4s\n",
		"Marker", "Center", "P10", "P90", "Confidence", "Points", "Days")
	for _, b := range bases {
		fmt.Printf("%-12s  %8.2f  %8.2f  %8.2f  %-12s  %6d  %4d\n",
			b.Marker, b.Center, b.Low, b.High, b.Confidence, b.Points, b.Days)
	}
	return nil
}

// #endregion store-modes

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion output
