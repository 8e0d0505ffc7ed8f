package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/markerlab/reconciler/internal/config"
	"github.com/markerlab/reconciler/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to a single fixture JSON")
	dirPath := flag.String("dir", "", "directory of fixture JSON files")
	cfgPath := flag.String("config", envOr("RECONCILER_CONFIG", ""), "optional registry overlay YAML")
	verbose := flag.Bool("v", false, "print every check, not just failures")
	flag.Parse()

	if (*fixturePath == "" && *dirPath == "") || (*fixturePath != "" && *dirPath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json")
		fmt.Fprintln(os.Stderr, "       replay --dir path/to/fixtures/")
		os.Exit(2)
	}

	cfg := replay.DefaultReplayConfig()
	if *cfgPath != "" {
		registry, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(2)
		}
		cfg.Registry = registry
	}

	paths, err := collect(*fixturePath, *dirPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "no fixtures found")
		os.Exit(2)
	}

	os.Exit(run(paths, cfg, *verbose))
}

// #endregion main

// #region run

func collect(fixture, dir string) ([]string, error) {
	if fixture != "" {
		return []string{fixture}, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(matches)
	return matches, nil
}

func run(paths []string, cfg replay.ReplayConfig, verbose bool) int {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	var results []replay.ReplayResult
	failedLoads := 0
	for _, path := range paths {
		f, err := replay.LoadFixture(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load %s: %v\n", path, err)
			failedLoads++
			continue
		}
		res, err := replay.Replay(ctx, f, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay %s: %v\n", path, err)
			failedLoads++
			continue
		}
		results = append(results, res)
		printResult(filepath.Base(path), res, verbose)
	}

	summary := replay.Summarize(results)
	fmt.Printf("\n%d fixture(s), %d check(s): %d passed, %d failed\n",
		summary.Fixtures, summary.Checks, summary.Passed, summary.Failed)

	if failedLoads > 0 || summary.Failed > 0 {
		return 1
	}
	return 0
}

func printResult(name string, res replay.ReplayResult, verbose bool) {
	status := "PASS"
	if !res.Passed() {
		status = "FAIL"
	}
	fmt.Printf("[%s] %s — %s\n", status, name, res.Description)
	for _, c := range res.Checks {
		if c.Passed && !verbose {
			continue
		}
		if c.Passed {
			fmt.Printf("    %-12s ok\n", c.Marker)
			continue
		}
		fmt.Printf("    %-12s FAILED: %s\n", c.Marker, c.Reason)
	}
}

// #endregion run

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
