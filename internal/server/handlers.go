package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nudgeworks/nudge/internal/engine"
	"github.com/nudgeworks/nudge/internal/stats"
	"github.com/nudgeworks/nudge/internal/store"
)

type HealthResponse struct {
	Status           string `json:"status"`
	ExperimentsCount int    `json:"experiments_count"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := s.store.ListExperiments(r.Context())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := HealthResponse{
		Status:           "ok",
		ExperimentsCount: len(records),
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// BeaconRequest is one enrollment or conversion event from a client.
type BeaconRequest struct {
	ExperimentID string  `json:"experiment"`
	VariantID    string  `json:"variant"`
	EventType    string  `json:"event"`
	VisitorID    string  `json:"visitor"`
	Value        float64 `json:"value,omitempty"`
}

func (s *Server) handleBeacon(w http.ResponseWriter, r *http.Request) {
	// Beacons arrive cross-origin from the storefront.
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BeaconRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		beaconRejectsTotal.WithLabelValues("bad_json").Inc()
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.ExperimentID == "" || req.VariantID == "" || req.VisitorID == "" {
		beaconRejectsTotal.WithLabelValues("missing_fields").Inc()
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	if req.EventType != store.EventEnroll && req.EventType != store.EventConvert {
		beaconRejectsTotal.WithLabelValues("bad_event_type").Inc()
		http.Error(w, "Invalid event type", http.StatusBadRequest)
		return
	}

	rec, err := s.store.GetExperiment(r.Context(), req.ExperimentID)
	if err != nil {
		beaconRejectsTotal.WithLabelValues("unknown_experiment").Inc()
		http.Error(w, "Experiment not found", http.StatusBadRequest)
		return
	}

	if !knownVariant(rec.Experiment, req.VariantID) {
		beaconRejectsTotal.WithLabelValues("unknown_variant").Inc()
		http.Error(w, "Invalid variant", http.StatusBadRequest)
		return
	}

	// Deduplication happens in the store.
	if err := s.store.RecordEvent(r.Context(), req.ExperimentID, req.VariantID, req.EventType, req.VisitorID, req.Value); err != nil {
		s.logger.Error("record event failed", "experiment", req.ExperimentID, "error", err)
		http.Error(w, "Failed to record event", http.StatusInternalServerError)
		return
	}

	beaconsTotal.WithLabelValues(req.EventType).Inc()
	w.WriteHeader(http.StatusNoContent)
}

func knownVariant(def engine.Experiment, variantID string) bool {
	for _, v := range def.Variants {
		if v.ID == variantID {
			return true
		}
	}
	return false
}

// handleExperiments returns the active experiment definitions a client
// should run, optionally filtered to one page type.
func (s *Server) handleExperiments(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := s.store.ListExperiments(r.Context())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	page := r.URL.Query().Get("page")
	now := time.Now()

	active := make([]engine.Experiment, 0, len(records))
	for _, rec := range records {
		if rec.State != store.StateRunning || !rec.Experiment.ActiveAt(now) {
			continue
		}
		if page != "" && !matchesPage(rec.Experiment, page) {
			continue
		}
		active = append(active, rec.Experiment)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(active)
}

func matchesPage(def engine.Experiment, page string) bool {
	if def.Targeting == nil || len(def.Targeting.PageTypes) == 0 {
		return true
	}
	for _, p := range def.Targeting.PageTypes {
		if p == page {
			return true
		}
	}
	return false
}

// ExperimentResults is one experiment's aggregated statistics.
type ExperimentResults struct {
	ExperimentID    string        `json:"experiment_id"`
	State           store.State   `json:"state"`
	WinnerVariantID string        `json:"winner_variant_id,omitempty"`
	Results         stats.Results `json:"results"`
}

// handleResults recomputes statistics for every experiment from the
// beacon event log.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := s.store.ListExperiments(r.Context())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	out := make([]ExperimentResults, 0, len(records))
	for _, rec := range records {
		counts, err := s.store.VariantCounts(r.Context(), rec.Experiment.ID)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		variantCounts := make([]stats.VariantCount, len(rec.Experiment.Variants))
		for i, v := range rec.Experiment.Variants {
			c := counts[v.ID]
			variantCounts[i] = stats.VariantCount{
				ID:          v.ID,
				IsControl:   v.IsControl,
				Impressions: c.Impressions,
				Conversions: c.Conversions,
			}
		}

		out = append(out, ExperimentResults{
			ExperimentID:    rec.Experiment.ID,
			State:           rec.State,
			WinnerVariantID: rec.WinnerVariantID,
			Results:         *stats.Analyze(variantCounts),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
