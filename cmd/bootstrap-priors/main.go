package main

import (
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/markerlab/reconciler/internal/config"
	"github.com/markerlab/reconciler/internal/marker"
	"github.com/markerlab/reconciler/internal/priors"
	"github.com/markerlab/reconciler/internal/store"
)

// #region main

func main() {
	dbPath := envOr("RECONCILER_DB", "reconciler.db")
	cfgPath := envOr("RECONCILER_CONFIG", "")
	subject := envOr("RECONCILER_SUBJECT", "")
	overwrite := os.Getenv("RECONCILER_OVERWRITE") == "1"

	if subject == "" {
		fmt.Fprintln(os.Stderr, "usage: RECONCILER_SUBJECT=subj-id [RECONCILER_DB=path] [RECONCILER_CONFIG=overlay.yaml] [RECONCILER_OVERWRITE=1] bootstrap-priors")
		os.Exit(2)
	}

	registry := config.Default()
	if cfgPath != "" {
		var err error
		registry, err = config.Load(cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	fmt.Println("=== Prior Bootstrap Tool ===")
	fmt.Printf("  DB: %s | Subject: %s | Markers: %d\n", dbPath, subject, len(registry.Priors))

	db, err := store.NewStore(dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	seeded, skipped := 0, 0
	now := time.Now().UTC()

	markers := make([]marker.ID, 0, len(registry.Priors))
	for m := range registry.Priors {
		markers = append(markers, m)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i] < markers[j] })

	for _, m := range markers {
		pop := registry.Priors[m]

		existing, ok, err := db.GetPrior(subject, m)
		if err != nil {
			log.Fatalf("read prior %s: %v", m, err)
		}
		// Personal evidence outranks a population seed unless forced.
		if ok && !overwrite && existing.Source != priors.SourcePopulation {
			fmt.Printf("  %-12s skipped (%s prior present)\n", m, existing.Source)
			skipped++
			continue
		}

		d := priors.Distribution{
			Marker:    m,
			Mean:      pop.Mean,
			Std:       pop.Std,
			Source:    priors.SourcePopulation,
			UpdatedAt: now,
		}
		if err := db.PutPrior(subject, d); err != nil {
			log.Fatalf("seed prior %s: %v", m, err)
		}
		fmt.Printf("  %-12s %.2f ± %.2f %s\n", m, pop.Mean, pop.Std, pop.Unit)
		seeded++
	}

	fmt.Printf("\n=== Bootstrap Complete ===\n")
	fmt.Printf("  Seeded:  %d\n", seeded)
	fmt.Printf("  Skipped: %d\n", skipped)
}

// #endregion main

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
