package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seralvz/stackvault/internal/api"
	"github.com/seralvz/stackvault/internal/auth"
	"github.com/seralvz/stackvault/internal/config"
	"github.com/seralvz/stackvault/internal/database"
	"github.com/seralvz/stackvault/internal/docker"
	"github.com/seralvz/stackvault/internal/logger"
	"github.com/seralvz/stackvault/internal/monitoring"
	"github.com/seralvz/stackvault/internal/portainer"
	"github.com/seralvz/stackvault/internal/restore"
	"github.com/seralvz/stackvault/internal/services"
	"github.com/seralvz/stackvault/internal/websocket"
)

func main() {
	logger.Init()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET must be set")
	}

	// Ensure the archive directory exists
	if err := os.MkdirAll(cfg.ArchiveDir, 0755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create archive directory")
	}

	dataRoots, err := cfg.DataRoots()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve data roots")
	}

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	// Set up the orchestration API client
	portainerClient, err := portainer.New(cfg.PortainerURL, cfg.TLSSkipVerify)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Portainer client")
	}

	// Container management around restores is best-effort; a missing Docker
	// socket only disables the stop/start convenience.
	var containers restore.ContainerManager
	if dockerClient, err := docker.New(); err != nil {
		log.Warn().Err(err).Msg("Docker socket not reachable, restores will not stop/start containers")
	} else {
		containers = dockerClient
	}

	// Set up WebSocket Hub
	hub := websocket.NewHub()
	go hub.Run()

	// Set up services. Backups and restores share one gate so at most one
	// runs at a time in this process.
	var opGate sync.Mutex
	eventService := services.NewEventService(db)
	userService := services.NewUserService(db)
	backupService := services.NewBackupService(db, portainerClient, eventService, hub,
		cfg.ArchiveDir, dataRoots, cfg.PortainerEndpointID, cfg.CredentialsFile, cfg.RetentionCount, cfg.ServiceUser, &opGate)
	restoreService := services.NewRestoreService(backupService, portainerClient, eventService, hub,
		containers, cfg.ManagedContainers, dataRoots, cfg.ScratchDir, cfg.PortainerEndpointID,
		cfg.CredentialsFile, cfg.ServiceUser, &opGate)
	syncService := services.NewSyncService(cfg.ArchiveDir, cfg.ArchiveDir, eventService)
	scheduleService := services.NewScheduleService(db, eventService)

	// Set up and run the background scheduler
	scheduler := monitoring.NewScheduler(scheduleService, backupService, eventService)
	go scheduler.Run()

	// Set up router
	tokens := auth.NewManager(cfg.JWTSecret)
	router := api.NewRouter(hub, tokens, backupService, restoreService, syncService, userService, eventService, scheduleService)

	// Set up server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Msg("Server starting")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ListenAndServe()")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}
