package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-server/internal/database"
	"media-server/internal/handlers"
	"media-server/internal/hls"
	"media-server/internal/indexer"
	"media-server/internal/logging"
	"media-server/internal/media"
	"media-server/internal/metrics"
	"media-server/internal/middleware"
	"media-server/internal/startup"
)

func main() {
	startTime := time.Now()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	// Initialize database
	ctx := context.Background()
	db, err := database.New(ctx, config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Clean up expired sessions periodically
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		for range ticker.C {
			if err := db.CleanExpiredSessions(); err != nil {
				logging.Warn("Session cleanup failed: %v", err)
			}
		}
	}()

	// Initialize image pipeline and thumbnail generator
	media.InitVips()
	defer media.ShutdownVips()
	thumbGen := media.NewThumbnailGenerator(config.ThumbnailDir, config.ThumbnailsEnabled)

	// Initialize the HLS transcode engine
	startup.LogTranscoderInit(config.TranscodingEnabled)
	engine, err := hls.NewEngine(hls.Config{
		CacheRoot:          config.HLSCacheDir,
		MaxConcurrentJobs:  config.MaxTranscodeJobs,
		SegmentWaitTimeout: config.SegmentWaitTimeout,
		StallTimeout:       config.StallTimeout,
		Adapter:            hls.NewFFmpegAdapter(),
	})
	if err != nil {
		startup.LogFatal("Failed to initialize transcode engine: %v", err)
	}

	// Background workers: indexer and orphan reaper
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	idx := indexer.New(db, config.MediaDir, thumbGen, config.IndexInterval)
	go idx.Start(workerCtx)

	reaper := hls.NewReaper(engine, db.MediaIDs, config.OrphanSweepInterval)
	go reaper.Run(workerCtx)

	// Initialize handlers
	h := handlers.New(db, engine, idx, thumbGen, config)

	// Setup router
	router := setupRouter(h)

	// Apply authentication middleware
	authedRouter := h.AuthMiddleware(router)

	// Apply logging middleware
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogStaticFiles = config.LogStaticFiles
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	loggedHandler := middleware.Logger(loggingConfig)(authedRouter)

	// Apply metrics and compression middleware
	meteredHandler := middleware.Metrics(middleware.DefaultMetricsConfig())(loggedHandler)
	handler := middleware.Compression()(meteredHandler)

	// Serve Prometheus metrics on a separate port
	if config.MetricsEnabled {
		metrics.SetAppInfo(startup.Version, startup.Commit, runtime.Version())
		go serveMetrics(config.MetricsPort)
	}

	// Segment requests block while a transcode catches up, so the
	// write timeout stays disabled; the streaming writer enforces
	// per-connection deadlines instead.
	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Start graceful shutdown handler
	go handleShutdown(srv, engine, cancelWorkers)

	// Start server
	startup.LogServerStarted(config.Port, config.MetricsPort, config.MetricsEnabled, time.Since(startTime))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	// Health check and version routes (no auth required)
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	// Auth routes
	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/setup-required", h.CheckSetupRequired).Methods("GET")
	auth.HandleFunc("/setup", h.Setup).Methods("POST")
	auth.HandleFunc("/login", h.Login).Methods("POST")
	auth.HandleFunc("/logout", h.Logout).Methods("POST")
	auth.HandleFunc("/check", h.CheckAuth).Methods("GET")
	auth.HandleFunc("/password", h.ChangePassword).Methods("POST")

	// Protected API routes
	api := r.PathPrefix("/api").Subrouter()

	// Streaming
	hlsRoutes := api.PathPrefix("/hls/{id}/{quality}").Subrouter()
	hlsRoutes.HandleFunc("/playlist.m3u8", h.GetHLSPlaylist).Methods("GET")
	hlsRoutes.HandleFunc("/live.m3u8", h.GetHLSLivePlaylist).Methods("GET")
	hlsRoutes.HandleFunc("/status", h.GetHLSStatus).Methods("GET")
	hlsRoutes.HandleFunc("/{segment:segment-[0-9]+\\.ts}", h.GetHLSSegment).Methods("GET")
	api.HandleFunc("/hls/{id}/clear", h.ClearHLSCache).Methods("POST")

	// Catalog
	api.HandleFunc("/libraries", h.ListLibraries).Methods("GET")
	api.HandleFunc("/libraries/{id}", h.GetLibraryListing).Methods("GET")
	api.HandleFunc("/media/{id}", h.GetMedia).Methods("GET")
	api.HandleFunc("/media/{id}/file", h.GetFile).Methods("GET")
	api.HandleFunc("/thumbnail/{id}", h.GetThumbnail).Methods("GET")
	api.HandleFunc("/search", h.Search).Methods("GET")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/index", h.TriggerIndex).Methods("POST")

	// Tags
	api.HandleFunc("/tags", h.ListTags).Methods("GET")
	api.HandleFunc("/tags", h.CreateTag).Methods("POST")
	api.HandleFunc("/tags/{id}", h.DeleteTag).Methods("DELETE")
	api.HandleFunc("/tags/{id}/media", h.GetMediaByTag).Methods("GET")
	api.HandleFunc("/media/{id}/tags", h.TagMedia).Methods("POST")
	api.HandleFunc("/media/{id}/tags/{tagId}", h.UntagMedia).Methods("DELETE")

	return r
}

func serveMetrics(port string) {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())
	logging.Info("Metrics server listening on :%s", port)
	if err := http.ListenAndServe(":"+port, m); err != nil {
		logging.Error("Metrics server error: %v", err)
	}
}

func handleShutdown(srv *http.Server, engine *hls.Engine, cancelWorkers context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Stopping background workers")
	cancelWorkers()

	startup.LogShutdownStep("Stopping transcode engine")
	if err := engine.Shutdown(ctx); err != nil {
		logging.Warn("Engine shutdown error: %v", err)
	}

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	}

	startup.LogShutdownComplete()
}
