// Package observability provides logging and metrics support for the paper
// search service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger = observability.WithSearchContext(logger, query, language)
//
// # Metrics
//
// Metrics are registered against an explicit registry so that tests and
// multiple service instances do not collide:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics("paper_search", reg)
//	metrics.RecordSourceRequest("pubmed", "esearch", elapsed.Seconds())
package observability
