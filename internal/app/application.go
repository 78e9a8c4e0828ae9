package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"staffroom/internal/api"
	"staffroom/internal/config"
	"staffroom/internal/database"
	"staffroom/internal/hub"
	"staffroom/internal/liveness"
	"staffroom/internal/lock"
	"staffroom/internal/presence"
	"staffroom/internal/relay"
	"staffroom/internal/session"
	"staffroom/internal/viewer"
	"staffroom/internal/websocket"
)

// Application coordinates all system components. Initialization follows
// dependency order: Stores → Registry → Components → Hub → Supervisor →
// HTTP.
type Application struct {
	config     *config.Config
	sessions   *session.Store
	users      *database.Manager
	registry   *websocket.Registry
	hub        *hub.Hub
	supervisor *liveness.Supervisor
	httpServer *http.Server
}

// NewApplication creates an application instance with all components wired.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	sessions, err := session.NewStore(cfg.Session.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect session store: %w", err)
	}

	users, err := database.NewManager(cfg.Database.Path, cfg.Database.Timeout)
	if err != nil {
		_ = sessions.Close()
		return nil, fmt.Errorf("failed to initialize user store: %w", err)
	}

	registry := websocket.NewRegistry()
	presenceTracker := presence.NewTracker(registry)
	locks := lock.NewManager(cfg.Lock.LeaseDuration)
	viewers := viewer.NewTracker()
	typing := relay.NewTyping()

	collaborationHub := hub.NewHub(registry, presenceTracker, locks, viewers, typing)

	supervisor := liveness.NewSupervisor(registry, collaborationHub,
		cfg.WebSocket.PingInterval, cfg.Lock.SweepInterval)

	apiServer := api.NewServer(collaborationHub, sessions, users)

	wsHandler := websocket.NewHandler(sessions, users, collaborationHub, websocket.HandlerConfig{
		CookieName:   cfg.Session.CookieName,
		AuthTimeout:  cfg.Session.AuthTimeout,
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle("/metrics", apiServer)
	mux.HandleFunc("/ws/collab", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		sessions:   sessions,
		users:      users,
		registry:   registry,
		hub:        collaborationHub,
		supervisor: supervisor,
		httpServer: httpServer,
	}, nil
}

// Start begins the supervisor and the HTTP server, verifying the server came
// up before returning.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting staffroom collaboration service on %s", app.httpServer.Addr)

	if err := app.supervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start liveness supervisor: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.supervisor.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Staffroom collaboration service started")
		return nil
	case <-ctx.Done():
		app.supervisor.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order: HTTP → supervisor
// → connections → stores.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down staffroom collaboration service")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.supervisor.Stop()

	for _, conn := range app.registry.Connections() {
		_ = conn.Close()
	}

	if err := app.users.Close(); err != nil {
		log.Printf("User store shutdown error: %v", err)
	}
	if err := app.sessions.Close(); err != nil {
		log.Printf("Session store shutdown error: %v", err)
	}

	log.Printf("Staffroom collaboration service shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
