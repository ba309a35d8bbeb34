package hil

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/astraguard/astraguard/internal/errs"
)

// LatencySummary is the JSON document written to
// <results>/<run_id>/latency_summary.json, matching the schema in spec.md §6:
// {run_id, timestamp, total_measurements, measurement_types, stats, stats_by_satellite}.
type LatencySummary struct {
	RunID             string           `json:"run_id"`
	Timestamp         time.Time        `json:"timestamp"`
	TotalMeasurements int              `json:"total_measurements"`
	MeasurementTypes  map[string]int   `json:"measurement_types"`
	Stats             Stats            `json:"stats"`
	StatsBySatellite  map[string]Stats `json:"stats_by_satellite"`
}

// WriteRun persists one HIL run's latency measurements under
// resultsDir/runID/: a latency_summary.json with global and per-satellite
// aggregates plus per-metric-type counts, and a latency_raw.csv with
// every sample.
func WriteRun(resultsDir, runID string, measurements []LatencyMeasurement) error {
	dir := filepath.Join(resultsDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.ReportGeneration("hil.WriteRun", fmt.Errorf("create run dir: %w", err))
	}

	summary := summarize(runID, measurements)
	if err := writeJSON(filepath.Join(dir, "latency_summary.json"), summary); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(dir, "latency_raw.csv"), measurements); err != nil {
		return err
	}
	return nil
}

func summarize(runID string, measurements []LatencyMeasurement) LatencySummary {
	perSatellite := make(map[string][]float64)
	measurementTypes := make(map[string]int)
	var global []float64

	for _, m := range measurements {
		global = append(global, m.DurationMS)
		perSatellite[m.SatelliteID] = append(perSatellite[m.SatelliteID], m.DurationMS)
		measurementTypes[string(m.MetricType)]++
	}

	perSatelliteStats := make(map[string]Stats, len(perSatellite))
	for sat, ds := range perSatellite {
		perSatelliteStats[sat] = ComputeStats(ds)
	}

	return LatencySummary{
		RunID:             runID,
		Timestamp:         time.Now(),
		TotalMeasurements: len(measurements),
		MeasurementTypes:  measurementTypes,
		Stats:             ComputeStats(global),
		StatsBySatellite:  perSatelliteStats,
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errs.ReportGeneration("hil.writeJSON", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.ReportGeneration("hil.writeJSON", err)
	}
	return nil
}

func writeCSV(path string, measurements []LatencyMeasurement) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.ReportGeneration("hil.writeCSV", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"timestamp_unix_ms", "metric_type", "satellite_id", "duration_ms", "scenario_time_s"}); err != nil {
		return errs.ReportGeneration("hil.writeCSV", err)
	}
	for _, m := range measurements {
		row := []string{
			strconv.FormatInt(m.TimestampUnixMs, 10),
			string(m.MetricType),
			m.SatelliteID,
			strconv.FormatFloat(m.DurationMS, 'f', -1, 64),
			strconv.FormatFloat(m.ScenarioTimeS, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return errs.ReportGeneration("hil.writeCSV", err)
		}
	}
	return nil
}

// RunComparison is the delta between two runs' global latency stats,
// used to flag regressions between HIL executions.
type RunComparison struct {
	BaselineRunID string  `json:"baseline_run_id"`
	CandidateRunID string `json:"candidate_run_id"`
	DeltaMeanMS   float64 `json:"delta_mean_ms"`
	DeltaP95MS    float64 `json:"delta_p95_ms"`
	DeltaP99MS    float64 `json:"delta_p99_ms"`
}

// CompareRuns loads two previously written latency_summary.json files and
// returns the candidate-minus-baseline deltas on the global stats.
func CompareRuns(resultsDir, baselineRunID, candidateRunID string) (RunComparison, error) {
	baseline, err := readSummary(resultsDir, baselineRunID)
	if err != nil {
		return RunComparison{}, err
	}
	candidate, err := readSummary(resultsDir, candidateRunID)
	if err != nil {
		return RunComparison{}, err
	}
	return RunComparison{
		BaselineRunID:  baselineRunID,
		CandidateRunID: candidateRunID,
		DeltaMeanMS:    candidate.Stats.Mean - baseline.Stats.Mean,
		DeltaP95MS:     candidate.Stats.P95 - baseline.Stats.P95,
		DeltaP99MS:     candidate.Stats.P99 - baseline.Stats.P99,
	}, nil
}

func readSummary(resultsDir, runID string) (LatencySummary, error) {
	path := filepath.Join(resultsDir, runID, "latency_summary.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return LatencySummary{}, errs.ReportGeneration("hil.readSummary", err)
	}
	var s LatencySummary
	if err := json.Unmarshal(data, &s); err != nil {
		return LatencySummary{}, errs.ReportGeneration("hil.readSummary", err)
	}
	return s, nil
}
