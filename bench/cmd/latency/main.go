// Package main — bench/cmd/latency/main.go
//
// HIL latency report tool.
//
// Two modes:
//
//	summarize: reads a raw measurements CSV (timestamp_unix_ms,metric_type,
//	  satellite_id,duration_ms,scenario_time_s — the format written by
//	  internal/hil.WriteRun) and writes latency_summary.json +
//	  latency_raw.csv under <results>/<run-id>/, then prints the global
//	  p50/p95/p99 to stdout.
//
//	compare: loads two previously written runs under <results> and prints
//	  the candidate-minus-baseline delta on mean/p95/p99.
//
// Percentile computation is the sorted-order-statistic method in
// internal/hil.ComputeStats (floor(p*n) on the sorted durations), not a
// histogram estimate.
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/astraguard/astraguard/internal/hil"
)

func main() {
	mode := flag.String("mode", "summarize", "summarize | compare")
	resultsDir := flag.String("results", "./results", "Results directory")
	runID := flag.String("run-id", "", "Run ID (summarize mode)")
	rawCSV := flag.String("raw-csv", "", "Path to raw measurements CSV (summarize mode)")
	baseline := flag.String("baseline", "", "Baseline run ID (compare mode)")
	candidate := flag.String("candidate", "", "Candidate run ID (compare mode)")
	flag.Parse()

	switch *mode {
	case "summarize":
		if err := summarize(*resultsDir, *runID, *rawCSV); err != nil {
			fmt.Fprintf(os.Stderr, "summarize: %v\n", err)
			os.Exit(1)
		}
	case "compare":
		if err := compare(*resultsDir, *baseline, *candidate); err != nil {
			fmt.Fprintf(os.Stderr, "compare: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown -mode %q (want summarize|compare)\n", *mode)
		os.Exit(1)
	}
}

func summarize(resultsDir, runID, rawCSVPath string) error {
	if runID == "" || rawCSVPath == "" {
		return fmt.Errorf("-run-id and -raw-csv are required")
	}

	f, err := os.Open(rawCSVPath)
	if err != nil {
		return fmt.Errorf("open raw csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("read raw csv: %w", err)
	}
	if len(rows) < 1 {
		return fmt.Errorf("raw csv is empty")
	}

	measurements := make([]hil.LatencyMeasurement, 0, len(rows)-1)
	for _, row := range rows[1:] { // skip header
		if len(row) != 5 {
			continue
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		durMS, _ := strconv.ParseFloat(row[3], 64)
		scenarioS, _ := strconv.ParseFloat(row[4], 64)
		measurements = append(measurements, hil.LatencyMeasurement{
			TimestampUnixMs: ts,
			MetricType:      hil.MetricType(row[1]),
			SatelliteID:     row[2],
			DurationMS:      durMS,
			ScenarioTimeS:   scenarioS,
		})
	}

	if err := hil.WriteRun(resultsDir, runID, measurements); err != nil {
		return err
	}

	stats := hil.ComputeStats(durationsOf(measurements))
	fmt.Printf("run=%s count=%d mean=%.3fms p50=%.3fms p95=%.3fms p99=%.3fms\n",
		runID, stats.Count, stats.Mean, stats.P50, stats.P95, stats.P99)
	return nil
}

func durationsOf(ms []hil.LatencyMeasurement) []float64 {
	out := make([]float64, len(ms))
	for i, m := range ms {
		out[i] = m.DurationMS
	}
	return out
}

func compare(resultsDir, baseline, candidate string) error {
	if baseline == "" || candidate == "" {
		return fmt.Errorf("-baseline and -candidate are required")
	}
	cmp, err := hil.CompareRuns(resultsDir, baseline, candidate)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cmp)
}
