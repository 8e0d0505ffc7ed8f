package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/markerlab/reconciler/internal/config"
	"github.com/markerlab/reconciler/internal/gate"
	"github.com/markerlab/reconciler/internal/ingest"
	"github.com/markerlab/reconciler/internal/pipeline"
	"github.com/markerlab/reconciler/internal/store"
)

// #region main

func main() {
	inputPath := flag.String("input", "", "path to input JSON (\"-\" for stdin)")
	dbPath := flag.String("db", envOr("RECONCILER_DB", "reconciler.db"), "path to reconciler.db")
	cfgPath := flag.String("config", envOr("RECONCILER_CONFIG", ""), "optional registry overlay YAML")
	force := flag.Bool("force", false, "emit suppressed markers anyway (caps still apply)")
	summary := flag.Bool("summary", false, "print per-marker summaries instead of JSON")
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: reconciler --input path/to/input.json [--db path] [--config overlay.yaml] [--force] [--summary]")
		os.Exit(2)
	}

	in, err := readInput(*inputPath)
	if err != nil {
		log.Fatalf("read input: %v", err)
	}

	registry, err := loadRegistry(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := store.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	gateCfg := gate.DefaultGateConfig()
	gateCfg.ForceOutput = *force

	p := pipeline.New(pipeline.Config{Registry: registry, Gate: gateCfg}, db, db, db)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	report, err := p.Run(ctx, in)
	if err != nil {
		log.Fatalf("run: %v", err)
	}

	if *summary {
		printSummary(report)
		return
	}
	if err := printJSON(report); err != nil {
		log.Fatalf("print report: %v", err)
	}
}

// #endregion main

// #region io

func readInput(path string) (ingest.Input, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return ingest.Input{}, err
	}
	var in ingest.Input
	if err := json.Unmarshal(data, &in); err != nil {
		return ingest.Input{}, fmt.Errorf("parse input: %w", err)
	}
	if in.AsOf.IsZero() {
		in.AsOf = time.Now().UTC()
	}
	return in, nil
}

func loadRegistry(path string) (*config.Registry, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func printSummary(r pipeline.Report) {
	fmt.Printf("Run %s  subject=%s  coherence=%.2f\n", shortID(r.RunID), r.SubjectID, r.Coherence)
	for m, mr := range r.Markers {
		status := "emit"
		if !mr.Decision.Emit {
			status = "suppressed: " + string(mr.Decision.Reason)
		}
		fmt.Printf("  %-12s %s\n", m, status)
		fmt.Printf("    %s\n", mr.Summary)
		for _, rec := range mr.Recommendations {
			fmt.Printf("    - %s\n", rec)
		}
	}
	for _, c := range r.Conflicts {
		fmt.Printf("  conflict: %s anchor %.1f vs estimate %.1f\n", c.Marker, c.AnchorValue, c.Center)
	}
}

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

// #endregion io

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
