package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/astraguard/astraguard/internal/decision"
	"github.com/astraguard/astraguard/internal/errs"
	"github.com/astraguard/astraguard/internal/escalation"
	"github.com/astraguard/astraguard/internal/history"
	"github.com/astraguard/astraguard/internal/telemetry"
)

// telemetryRequest is one ingest payload: a raw sample plus the
// ground-truth confidence the producing sensor/simulator attaches.
type telemetryRequest struct {
	telemetry.Sample
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (s *Server) ingestOne(r *http.Request, req telemetryRequest) (decision.AnomalyDecision, error) {
	sample := req.Sample
	if err := telemetry.Validate(&sample, s.bounds); err != nil {
		return decision.AnomalyDecision{}, err
	}
	det := s.detector.Classify(r.Context(), sample)

	confidence := req.Confidence
	if confidence == 0 {
		confidence = det.Confidence
	}
	return s.handler.Handle(r.Context(), det.AnomalyType, det.Score, confidence, req.Metadata)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var req telemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errs.Validation("api.handleTelemetry", err))
		return
	}

	d, err := s.ingestOne(r, req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleTelemetryBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []telemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, errs.Validation("api.handleTelemetryBatch", err))
		return
	}
	if len(reqs) > s.maxBatchSize {
		writeError(w, http.StatusBadRequest, errs.Validation("api.handleTelemetryBatch",
			fmt.Errorf("batch size %d exceeds max_batch_size %d", len(reqs), s.maxBatchSize)))
		return
	}

	decisions := make([]decision.AnomalyDecision, 0, len(reqs))
	var failures int
	for _, req := range reqs {
		d, err := s.ingestOne(r, req)
		if err != nil {
			failures++
			s.log.Warn("batch telemetry item rejected", zap.Error(err), zap.String("satellite_id", req.SatelliteID))
			continue
		}
		decisions = append(decisions, d)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accepted":  len(decisions),
		"rejected":  failures,
		"decisions": decisions,
	})
}

func (s *Server) handleTelemetryLatest(w http.ResponseWriter, r *http.Request) {
	latest := s.hist.Run(history.Query{Limit: 1})
	if len(latest) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"decision": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decision": latest[0]})
}

func (s *Server) handleGetPhase(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"phase": s.stateMachine.CurrentPhase().String()})
}

type setPhaseRequest struct {
	Phase  string `json:"phase"`
	Force  bool   `json:"force"`
	Reason string `json:"reason"`
}

func (s *Server) handleSetPhase(w http.ResponseWriter, r *http.Request) {
	var req setPhaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errs.Validation("api.handleSetPhase", err))
		return
	}
	target, ok := escalation.ParsePhase(req.Phase)
	if !ok {
		writeError(w, http.StatusBadRequest, errs.Validation("api.handleSetPhase", fmt.Errorf("unknown phase %q", req.Phase)))
		return
	}

	res, err := s.stateMachine.SetPhase(target, req.Force, req.Reason)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"phase":      s.stateMachine.CurrentPhase().String(),
		"components": s.health.GetAll(),
		"worst":      s.health.WorstStatus(),
		"history_len": s.hist.Len(),
	})
}

func (s *Server) handleHistoryAnomalies(w http.ResponseWriter, r *http.Request) {
	q := history.Query{}
	if v := r.URL.Query().Get("limit"); v != "" {
		var limit int
		if _, err := fmt.Sscanf(v, "%d", &limit); err == nil {
			q.Limit = limit
		}
	}
	if v := r.URL.Query().Get("severity_min"); v != "" {
		var min float64
		if _, err := fmt.Sscanf(v, "%f", &min); err == nil {
			q.SeverityMin = &min
		}
	}
	if v := r.URL.Query().Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.StartTime = &t
		}
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.EndTime = &t
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"decisions": s.hist.Run(q)})
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"history_size":     s.hist.Len(),
		"history_capacity": s.hist.Capacity(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
