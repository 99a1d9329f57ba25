package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kptv-player/work/adapter"
	"kptv-player/work/client"
	"kptv-player/work/config"
	"kptv-player/work/database"
	"kptv-player/work/handlers"
	"kptv-player/work/logger"
	"kptv-player/work/middleware"
	"kptv-player/work/probe"
	"kptv-player/work/relay"
	"kptv-player/work/session"
	"kptv-player/work/surface"
	"kptv-player/work/utils"
	"kptv-player/work/xtream"
)

var (
	Version = "v0.1.0" // default version

	// reloadChan signals a config reload without restarting the process
	reloadChan = make(chan bool, 1)
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()

	// Set up logging
	level := "info"
	if cfg.Debug {
		level = "debug"
	}
	appLog := logger.New(level)

	// Initialize HTTP client
	httpClient := client.New(cfg)

	// Initialize worker pool
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// Relay table and panel RPC layer
	relayTable := relay.NewTable(cfg.Relays)
	xtreamClient := xtream.NewClient(httpClient, cfg, relayTable, appLog)
	catalog := xtream.NewCatalog(xtreamClient, cfg)

	// Profile store
	db, err := database.Open(cfg.DatabasePath, appLog)
	if err != nil {
		log.Fatalf("Failed to open profile database: %v", err)
	}
	defer db.Close()

	// Output surface and playback session manager
	broadcaster := surface.NewBroadcaster(cfg.BufferSizePerStream * 1024 * 1024)
	factory := &adapter.Factory{
		HTTPClient: httpClient,
		Config:     cfg,
		Log:        appLog,
	}
	sessions := session.NewManager(factory, broadcaster, cfg, appLog)
	defer sessions.Stop()

	prober := probe.NewProber(httpClient, cfg, appLog)

	app := &handlers.App{
		Config:      cfg,
		Log:         appLog,
		DB:          db,
		Xtream:      xtreamClient,
		Catalog:     catalog,
		Prober:      prober,
		Sessions:    sessions,
		Broadcaster: broadcaster,
		Pool:        workerPool,
	}

	// Setup HTTP routes
	router := mux.NewRouter()

	// API responses are compressed; the raw output stream never is
	router.Use(middleware.Gzip("/playback", "/metrics"))

	// Auth and profiles
	router.HandleFunc("/api/login", handlers.HandleLogin(app)).Methods("POST")
	router.HandleFunc("/api/profiles", handlers.HandleProfiles(app)).Methods("GET")
	router.HandleFunc("/api/profiles/{id}/select", handlers.HandleProfileSelect(app)).Methods("POST")
	router.HandleFunc("/api/profiles/{id}", handlers.HandleProfileDelete(app)).Methods("DELETE")

	// Catalog browsing
	router.HandleFunc("/api/categories/{kind}", handlers.HandleCategories(app)).Methods("GET")
	router.HandleFunc("/api/streams/{kind}", handlers.HandleStreams(app)).Methods("GET")
	router.HandleFunc("/api/series/{id}", handlers.HandleSeriesInfo(app)).Methods("GET")
	router.HandleFunc("/api/vod/{id}", handlers.HandleVodInfo(app)).Methods("GET")

	// Playback control
	router.HandleFunc("/api/play", handlers.HandlePlay(app)).Methods("POST")
	router.HandleFunc("/api/status", handlers.HandleStatus(app)).Methods("GET")
	router.HandleFunc("/api/stop", handlers.HandleStop(app)).Methods("POST")

	// Decoded output stream
	router.HandleFunc("/playback/stream", handlers.HandleOutput(app)).Methods("GET")

	// Config reload trigger
	router.HandleFunc("/api/reload", func(w http.ResponseWriter, r *http.Request) {
		select {
		case reloadChan <- true:
		default:
		}
		w.WriteHeader(http.StatusAccepted)
	}).Methods("POST")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	appLog.Info("Starting KPTV Player %s", Version)
	appLog.Info("Server configuration:")
	appLog.Info("  - Listen Port: %d", cfg.ListenPort)
	appLog.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	appLog.Info("  - Panel Servers: %d", len(cfg.Servers))
	appLog.Info("  - Relays: %v", relayTable.Names())
	appLog.Info("  - Preferred Path: %s", cfg.PreferredPath)
	appLog.Info("  - Watchdog Timeout: %s", cfg.WatchdogTimeout)
	appLog.Info("  - Output Buffer Size: %s", utils.FormatBytes(cfg.BufferSizePerStream*1024*1024))
	appLog.Info("  - Cache Enabled: %v", cfg.CacheEnabled)
	appLog.Info("  - Cache Duration: %s", cfg.CacheDuration)
	appLog.Info("  - Debug Enabled: %v", cfg.Debug)
	appLog.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// reload config in place when requested
	go func() {
		for {
			<-reloadChan

			if cfg.Debug {
				appLog.Debug("Config reload requested...")
			}

			// stop playback; the old session holds the old settings
			sessions.Stop()

			config.ClearConfigCache()
			newConfig := config.LoadConfig()
			*cfg = *newConfig

			appLog.Info("Config reload completed - %d panel servers", len(cfg.Servers))
		}
	}()

	// fire us up
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}
