package httpapi

import "net/http"

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.currentStatus()
	if st.Capabilities == nil {
		st.Capabilities = []string{}
	}
	respondJSON(w, http.StatusOK, st)
}
