package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/dicom-catalog/pkg/bootstrap"
	"github.com/synaptica-ai/dicom-catalog/pkg/catalog"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/config"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/logger"
	"github.com/synaptica-ai/dicom-catalog/pkg/gateway/middleware"
	"github.com/synaptica-ai/dicom-catalog/pkg/ingestion"
)

// newHandler builds the service's HTTP surface. CORS wraps the router because
// mux skips router middleware for unmatched methods such as OPTIONS preflights.
func newHandler(cfg *config.Config, components *bootstrap.Components) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := components.Ping(ctx); err != nil {
			logger.Log.WithError(err).Warn("readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", components.Metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst), middleware.BodyLimit(cfg.MaxRequestBody))
	ingestion.NewHTTPHandler(components.Importer, ingestion.NewValidator(".dcm"), cfg.MaxRequestBody).Register(api)
	catalog.NewHTTPHandler(components.Catalog).Register(api)

	return middleware.CORS(cfg.CORSAllowedOrigins)(router)
}
