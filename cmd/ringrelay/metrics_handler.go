package main

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"ringrelay/internal/metrics"
	"ringrelay/internal/service"
	"ringrelay/internal/tracing"
)

// handleMetrics returns current application metrics
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allMetrics := metrics.GetAllMetrics()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(allMetrics); err != nil {
			s.logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: tracing.RequestID(r.Context()),
				service.LogFieldTraceID:   tracing.TraceID(r.Context()),
			}).WithError(err).Error("Failed to encode metrics response")

			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
