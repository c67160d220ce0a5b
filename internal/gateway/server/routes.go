package server

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"skeletoncache/internal/gateway/handler"
	"skeletoncache/internal/gateway/middleware"
)

func NewMux(
	skeletonHandler *handler.SkeletonHandler,
	healthHandler *handler.HealthHandler,
	metricsHandler http.Handler,
	log logrus.FieldLogger,
) http.Handler {
	mux := http.NewServeMux()

	// Skeletons
	mux.HandleFunc("GET /skeleton/{dataset}/{id}", skeletonHandler.HandleGet)
	mux.HandleFunc("GET /skeletons/{dataset}", skeletonHandler.HandleBulk)
	mux.HandleFunc("POST /skeletons/{dataset}/generate", skeletonHandler.HandleGenerate)
	mux.HandleFunc("GET /skeletons/{dataset}/exist", skeletonHandler.HandleExists)
	mux.HandleFunc("GET /cache/{dataset}/contents", skeletonHandler.HandleCacheContents)
	mux.HandleFunc("GET /versions", skeletonHandler.HandleVersions)

	// Operations
	mux.HandleFunc("GET /healthz", healthHandler.HandleHealth)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	// Middleware
	return middleware.Logger(log)(middleware.CORS(middleware.Gzip(mux)))
}
