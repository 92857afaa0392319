package cmd

import (
	"anclora/config"
	"anclora/database"
	"anclora/handlers"
	"anclora/middleware"
	"anclora/services"
	"anclora/websocket"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		return StartWebServer(cfg)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "port for the web server")
	rootCmd.AddCommand(serveCmd)
}

// App holds the wired services behind the router
type App struct {
	Router     *gin.Engine
	Hub        websocket.Hub
	Notifier   services.Notifier
	Tracker    services.Tracker
	Aggregator services.BatchAggregator
}

// NewApp wires the services and routes. store may be nil. Background
// conversions stop when ctx is done.
func NewApp(ctx context.Context, cfg *config.Config, api services.ConversionAPI, store database.Store) *App {
	hub := websocket.NewHub()
	go hub.Run()

	notifier := services.NewNotifier(services.NotifierConfig{
		DefaultDuration: cfg.DefaultDuration(),
		SuccessDuration: cfg.SuccessDuration(),
		ErrorDuration:   cfg.ErrorDuration(),
		HistorySize:     cfg.Notifications.HistorySize,
	}, hub)

	var history services.HistoryRecorder
	if store != nil {
		history = store
	}
	tracker := services.NewTracker(api, notifier, services.TrackerOptions{
		Publisher: hub,
		History:   history,
	})
	aggregator := services.NewBatchAggregator(ctx, tracker, notifier, services.BatchOptions{
		MaxConcurrent: cfg.Conversion.MaxConcurrent,
		Publisher:     hub,
	})

	conversionHandler := handlers.NewConversionHandler(ctx, tracker, aggregator, services.NewInspector(), cfg)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.Logging())
	r.Use(middleware.Security())

	setupRoutes(r, routeHandlers{
		conversions:   conversionHandler,
		sources:       handlers.NewSourceHandler(tracker, cfg),
		batches:       handlers.NewBatchHandler(aggregator),
		notifications: handlers.NewNotificationHandler(notifier),
		history:       handlers.NewHistoryHandler(store),
		streams:       handlers.NewStreamHandler(tracker, aggregator, notifier, hub),
		health:        handlers.NewHealthHandler(cfg, hub),
		settings:      handlers.NewSettingsHandler(cfg),
	})

	return &App{
		Router:     r,
		Hub:        hub,
		Notifier:   notifier,
		Tracker:    tracker,
		Aggregator: aggregator,
	}
}

// StartWebServer starts the web server and blocks until interrupted
func StartWebServer(cfg *config.Config) error {
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api, err := services.NewConversionAPI(services.APIConfig{
		Endpoint: cfg.API.Endpoint,
		Timeout:  cfg.APITimeout(),
	})
	if err != nil {
		return err
	}

	var store database.Store
	if cfg.Database.URL != "" {
		db, err := database.Open(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if store, err = database.NewStore(db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Println("Conversion history enabled")
	}

	if retention := cfg.UploadRetention(); retention > 0 {
		removed, err := services.SweepUploads(cfg.UploadLocation(), time.Now().Add(-retention))
		if err != nil {
			log.Printf("Upload sweep failed: %v", err)
		} else if removed > 0 {
			log.Printf("Removed %d stale uploads", removed)
		}
	}

	app := NewApp(ctx, cfg, api, store)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: app.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Anclora web server starting on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type routeHandlers struct {
	conversions   *handlers.ConversionHandler
	sources       *handlers.SourceHandler
	batches       *handlers.BatchHandler
	notifications *handlers.NotificationHandler
	history       *handlers.HistoryHandler
	streams       *handlers.StreamHandler
	health        *handlers.HealthHandler
	settings      *handlers.SettingsHandler
}

// setupRoutes configures all the HTTP routes
func setupRoutes(r *gin.Engine, h routeHandlers) {
	// Health check endpoint
	r.GET("/health", h.health.HealthCheck)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/status", h.health.APIStatus)

		conversionsGroup := apiGroup.Group("/conversions")
		{
			conversionsGroup.POST("", h.conversions.CreateConversion)
			conversionsGroup.GET("", h.conversions.GetAllConversions)
			conversionsGroup.DELETE("", h.conversions.ClearConversions)
			conversionsGroup.GET("/:id", h.conversions.GetConversion)
			conversionsGroup.GET("/:id/source", h.sources.StreamSource)
			conversionsGroup.POST("/:id/retry", h.conversions.RetryConversion)
			conversionsGroup.POST("/:id/cancel", h.conversions.CancelConversion)
			conversionsGroup.DELETE("/:id", h.conversions.RemoveConversion)
		}

		apiGroup.GET("/batches", h.batches.GetAllBatches)
		apiGroup.GET("/batches/:id", h.batches.GetBatch)

		notificationsGroup := apiGroup.Group("/notifications")
		{
			notificationsGroup.GET("", h.notifications.GetNotifications)
			notificationsGroup.GET("/history", h.notifications.GetHistory)
			notificationsGroup.DELETE("/:id", h.notifications.CloseNotification)
			notificationsGroup.POST("/:id/actions/:index", h.notifications.TriggerAction)
		}

		apiGroup.GET("/history", h.history.GetHistory)
		apiGroup.GET("/history/summary", h.history.GetSummary)

		// WebSocket endpoints for real-time updates
		wsGroup := apiGroup.Group("/ws")
		{
			wsGroup.GET("", h.streams.HandleAll)
			wsGroup.GET("/conversions/:id", h.streams.HandleConversion)
			wsGroup.GET("/batches/:id", h.streams.HandleBatch)
			wsGroup.GET("/notifications", h.streams.HandleNotifications)
		}

		apiGroup.GET("/settings", h.settings.GetSettings)
		apiGroup.POST("/settings", h.settings.UpdateSettings)
	}
}
