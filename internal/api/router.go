package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seralvz/stackvault/internal/api/handlers"
	"github.com/seralvz/stackvault/internal/auth"
	"github.com/seralvz/stackvault/internal/services"
	"github.com/seralvz/stackvault/internal/websocket"
)

// NewRouter creates and configures a new Chi router.
func NewRouter(hub *websocket.Hub, tokens *auth.Manager,
	backupService services.BackupServiceProvider,
	restoreService services.RestoreServiceProvider,
	syncService services.SyncServiceProvider,
	userService services.UserServiceProvider,
	eventService services.EventServiceProvider,
	scheduleService services.ScheduleServiceProvider) *chi.Mux {

	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"}, // Adjust for your frontend URL
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	backupHandler := handlers.NewBackupHandler(backupService)
	restoreHandler := handlers.NewRestoreHandler(restoreService)
	stackHandler := handlers.NewStackHandler(backupService)
	syncHandler := handlers.NewSyncHandler(syncService)
	userHandler := handlers.NewUserHandler(userService, tokens)
	eventHandler := handlers.NewEventHandler(eventService)
	scheduleHandler := handlers.NewScheduleHandler(scheduleService)
	wsHandler := handlers.NewWebSocketHandler(hub)

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints
		r.Post("/users/login", userHandler.Login)
		r.Post("/users/register", userHandler.Register)

		// Everything else requires a valid token.
		r.Group(func(r chi.Router) {
			r.Use(tokens.Middleware())

			r.Get("/ws", wsHandler.Serve)

			r.Route("/backups", func(r chi.Router) {
				r.Get("/", backupHandler.GetAll)
				r.Post("/", backupHandler.Create)
				r.Post("/retention", backupHandler.EnforceRetention)
				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", backupHandler.Get)
					r.Delete("/", backupHandler.Delete)
					r.Post("/validate", backupHandler.Validate)
					r.Post("/restore", restoreHandler.Restore)
				})
			})

			r.Route("/stacks", func(r chi.Router) {
				r.Get("/", stackHandler.GetAll)
				r.Delete("/{id}", stackHandler.Delete)
			})

			r.Post("/sync-clients", syncHandler.Generate)

			r.Get("/events", eventHandler.GetRecent)

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/", scheduleHandler.GetAll)
				r.Post("/", scheduleHandler.Create)
				r.Put("/{id}", scheduleHandler.Update)
				r.Delete("/{id}", scheduleHandler.Delete)
			})
		})
	})

	return r
}
