// Package observability provides structured logging, Prometheus metrics, and
// health probes.
//
// # Structured Logging
//
// Create a logger and attach request-scoped fields:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("connection", slug).Info("SSO login provisioned")
//
// # Prometheus Metrics
//
// Metrics live on the default registry; expose them with MetricsHandler:
//
//	mux.Handle("/metrics", observability.MetricsHandler())
//	observability.SSOLoginsTotal.WithLabelValues("acme", "signup").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db)
//	mux.HandleFunc("/healthz", checker.Liveness)
//	mux.HandleFunc("/readyz", checker.Readiness)
package observability
