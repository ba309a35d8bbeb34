package hil

import (
	"sort"
	"sync"
)

// NominalFaultType is the label used for "no anomaly" in both ground
// truth and predictions, giving the confusion matrix a nominal row/column.
const NominalFaultType = "nominal"

// GroundTruthEvent marks the scenario-authored moment a fault type began
// being active on a satellite.
type GroundTruthEvent struct {
	SatelliteID string
	TimestampMs int64
	FaultType   string
}

// Prediction is one classification emitted by the detection pipeline,
// to be scored against ground truth.
type Prediction struct {
	SatelliteID string
	TimestampMs int64
	FaultType   string
	Confidence  float64
}

// AccuracyCollector holds the ground-truth timeline per satellite and
// scores predictions against it via binary search on timestamp.
type AccuracyCollector struct {
	mu     sync.Mutex
	events map[string][]GroundTruthEvent // per satellite, time-ordered
}

func NewAccuracyCollector() *AccuracyCollector {
	return &AccuracyCollector{events: make(map[string][]GroundTruthEvent)}
}

// LoadGroundTruth installs the ground-truth timeline for a satellite. It
// stores a copy of events sorted by TimestampMs ascending, so the caller
// may pass them in any order.
func (a *AccuracyCollector) LoadGroundTruth(satelliteID string, events []GroundTruthEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]GroundTruthEvent, len(events))
	copy(cp, events)
	sort.Slice(cp, func(i, j int) bool { return cp[i].TimestampMs < cp[j].TimestampMs })
	a.events[satelliteID] = cp
}

// TruthAt returns the fault type in effect for satelliteID at time t: the
// latest ground-truth event with TimestampMs <= t, found via binary
// search, or NominalFaultType if none has occurred yet.
func (a *AccuracyCollector) TruthAt(satelliteID string, t int64) string {
	a.mu.Lock()
	events := a.events[satelliteID]
	a.mu.Unlock()

	if len(events) == 0 {
		return NominalFaultType
	}
	// sort.Search finds the first index where events[i].TimestampMs > t;
	// the event we want is the one immediately before it.
	idx := sort.Search(len(events), func(i int) bool { return events[i].TimestampMs > t })
	if idx == 0 {
		return NominalFaultType
	}
	return events[idx-1].FaultType
}

// FaultStats is the per-fault-type confusion-matrix-derived scoring.
type FaultStats struct {
	TruePositives  int
	FalsePositives int
	FalseNegatives int
	Precision      float64
	Recall         float64
	F1             float64
	AvgConfidence  float64
}

// AccuracyReport is the full scoring result for a batch of predictions.
type AccuracyReport struct {
	PerFaultType map[string]FaultStats
	// Confusion[truth][predicted] = count.
	Confusion map[string]map[string]int
}

// Score compares each prediction against the ground-truth label in
// effect at its timestamp and produces per-fault-type precision/recall/F1
// plus a confusion matrix including the nominal row/column.
func (a *AccuracyCollector) Score(predictions []Prediction) AccuracyReport {
	confusion := make(map[string]map[string]int)
	confidenceSum := make(map[string]float64)
	confidenceCount := make(map[string]int)

	bump := func(truth, predicted string) {
		row, ok := confusion[truth]
		if !ok {
			row = make(map[string]int)
			confusion[truth] = row
		}
		row[predicted]++
	}

	for _, p := range predictions {
		truth := a.TruthAt(p.SatelliteID, p.TimestampMs)
		bump(truth, p.FaultType)
		if p.FaultType != NominalFaultType {
			confidenceSum[p.FaultType] += p.Confidence
			confidenceCount[p.FaultType]++
		}
	}

	faultTypes := make(map[string]struct{})
	for truth, row := range confusion {
		if truth != NominalFaultType {
			faultTypes[truth] = struct{}{}
		}
		for predicted := range row {
			if predicted != NominalFaultType {
				faultTypes[predicted] = struct{}{}
			}
		}
	}

	perType := make(map[string]FaultStats)
	for ft := range faultTypes {
		tp := confusion[ft][ft]
		fp := 0
		for truth, row := range confusion {
			if truth == ft {
				continue
			}
			fp += row[ft]
		}
		fn := 0
		if row, ok := confusion[ft]; ok {
			for predicted, n := range row {
				if predicted != ft {
					fn += n
				}
			}
		}

		precision := ratio(tp, tp+fp)
		recall := ratio(tp, tp+fn)
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		avgConf := 0.0
		if confidenceCount[ft] > 0 {
			avgConf = confidenceSum[ft] / float64(confidenceCount[ft])
		}

		perType[ft] = FaultStats{
			TruePositives:  tp,
			FalsePositives: fp,
			FalseNegatives: fn,
			Precision:      precision,
			Recall:         recall,
			F1:             f1,
			AvgConfidence:  avgConf,
		}
	}

	return AccuracyReport{PerFaultType: perType, Confusion: confusion}
}

func ratio(num, denom int) float64 {
	if denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}
