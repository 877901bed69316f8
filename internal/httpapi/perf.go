package httpapi

import (
	"net/http"
	"strconv"

	"github.com/ent0n29/confidant/internal/observability"
)

// handlePerfLatency serves the rolling per-stage latency window. ?reset=1
// clears it after the snapshot is taken.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.TurnStageSnapshot{Stages: []observability.TurnStageStats{}})
		return
	}
	snap := s.metrics.SnapshotTurnStages()
	if reset, _ := strconv.ParseBool(r.URL.Query().Get("reset")); reset {
		s.metrics.ResetTurnStages()
	}
	respondJSON(w, http.StatusOK, snap)
}
