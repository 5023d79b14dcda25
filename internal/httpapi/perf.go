package httpapi

import (
	"net/http"
	"strings"

	"github.com/ent0n29/aili/internal/observability"
)

// handlePerfLatency reports rolling per-stage latencies. ?stage=a,b limits the
// stages returned.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.SnapshotStages()
	if raw := strings.TrimSpace(r.URL.Query().Get("stage")); raw != "" {
		want := make(map[string]bool)
		for _, name := range strings.Split(raw, ",") {
			want[strings.TrimSpace(name)] = true
		}
		filtered := make([]observability.StageStats, 0, len(want))
		for _, st := range snap.Stages {
			if want[st.Stage] {
				filtered = append(filtered, st)
			}
		}
		snap.Stages = filtered
	}
	if snap.Stages == nil {
		snap.Stages = []observability.StageStats{}
	}
	respondJSON(w, http.StatusOK, snap)
}
