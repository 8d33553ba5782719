package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"faceverify/config"
	"faceverify/internal/api/handlers"
	"faceverify/internal/api/middleware"
	"faceverify/internal/cleanup"
	"faceverify/internal/core/processor"
	"faceverify/internal/core/session"
	"faceverify/internal/database"
	"faceverify/internal/integrations/canonical"
	"faceverify/internal/integrations/homeassistant"
	"faceverify/internal/integrations/mqtt"
	"faceverify/internal/integrations/opencv"
	"faceverify/internal/logger"
	"faceverify/internal/server/sse"
	"faceverify/internal/util/timezone"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const defaultConfigPath = "/config/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the configuration file")
	flag.Parse()

	// Konfiguration laden
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Logger initialisieren
	logCloser := logger.Init(cfg.Log)
	defer logCloser.Close()

	// Datenbank mit den Schwellwertprofilen
	log.Info("Initializing database...")
	db, err := database.Open(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	profiles := database.NewSQLiteRepository(db)
	if _, err := profiles.EnsureDefault(cfg.SessionConfig()); err != nil {
		log.Fatalf("Failed to create default threshold profile: %v", err)
	}
	log.Info("Database initialization complete.")

	// Gesichtsdetektor und Normierung: OpenCV wenn aktiviert, sonst nur
	// Normierung in Go (Gesichtsrahmen müssen dann mitgeschickt werden)
	var (
		detector      session.Detector
		canonicalizer session.Canonicalizer
	)
	if cfg.OpenCV.Enabled {
		cv, err := opencv.NewService(cfg.OpenCV, cfg.Verification.CanonicalSize)
		if err != nil {
			log.Fatalf("Failed to initialize OpenCV: %v", err)
		}
		defer cv.Close()
		detector = cv
		canonicalizer = cv
	} else {
		c, err := canonical.New(cfg.Verification.CanonicalSize)
		if err != nil {
			log.Fatalf("Failed to initialize canonicalizer: %v", err)
		}
		canonicalizer = c
		log.Info("OpenCV is disabled, clients must supply face boxes.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc := timezone.Load(cfg.Server.Timezone)
	registry := session.NewRegistry(canonicalizer, session.WithClock(timezone.Clock(loc)))

	// Live-Ereignisse für den Browser
	hub := sse.NewHub()
	go hub.Run(ctx)
	registry.OnOutcome(hub.BroadcastOutcome)

	// MQTT-Anbindung, wenn aktiviert
	var onCreate, onRemove func(id string)
	if cfg.MQTT.Enabled {
		client := mqtt.NewClient(cfg.MQTT)
		if err := client.Start(); err != nil {
			log.Warnf("Failed to connect MQTT client: %v. Continuing without MQTT.", err)
		} else {
			defer client.Stop()
			publisher := mqtt.NewPublisher(client, cfg.MQTT.TopicPrefix)
			defer publisher.Close()
			registry.OnOutcome(publisher.HandleOutcome)
			onCreate = publisher.Register
			onRemove = publisher.Forget

			if cfg.MQTT.HomeAssistant {
				discovery := homeassistant.NewDiscoveryManager(client, publisher, cfg.MQTT)
				onCreate = func(id string) {
					publisher.Register(id)
					discovery.RegisterSession(id)
				}
				onRemove = func(id string) {
					publisher.Forget(id)
					discovery.RemoveSession(id)
				}
			}
		}
	} else {
		log.Info("MQTT is disabled in config.")
	}

	pool := processor.NewWorkerPool(cfg.Workers.Count)
	defer pool.Shutdown()

	translator, err := middleware.NewTranslator(cfg.I18n.DefaultLanguage)
	if err != nil {
		log.Fatalf("Failed to load translations: %v", err)
	}

	apiHandler := handlers.NewAPIHandler(handlers.Dependencies{
		Config:   cfg,
		Registry: registry,
		Pool:     pool,
		Detector: detector,
		Profiles: profiles,
		Hub:      hub,
		OnCreate: onCreate,
		OnRemove: onRemove,
	})

	// Inaktive Sessions entfernen
	cleanupService := cleanup.NewService(registry, cfg.Sessions.IdleTimeout(), cfg.Sessions.CheckInterval(), apiHandler.SessionsEvicted)
	cleanupService.StartBackgroundCleanup()
	defer cleanupService.StopBackgroundCleanup()

	// Router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept-Language"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	api := router.Group("/api")
	api.Use(middleware.Sessions(cfg.I18n.CookieSecret))
	api.Use(middleware.I18n(translator))
	apiHandler.RegisterRoutes(api)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Infof("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}

	log.Info("Server stopped.")
}
