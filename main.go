package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"denuncia-service/config"
	"denuncia-service/middleware"
	"denuncia-service/service"
	"denuncia-service/version"
)

func main() {
	cfg := config.Load()

	if cfg.LogLevel == "debug" {
		log.SetLevelFromString("debug")
		gin.SetMode(gin.DebugMode)
	} else {
		log.SetLevelFromString(cfg.LogLevel)
		gin.SetMode(gin.ReleaseMode)
	}

	svc, err := service.NewService(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to create service")
	}

	if err := svc.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start service")
	}

	router := setupRouter(cfg, svc)

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Infof("Starting HTTP server on %s:%s", cfg.Host, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := svc.Stop(); err != nil {
		log.WithError(err).Error("Error stopping service")
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("Server forced to shutdown")
	}

	log.Info("Server exited")
}

func setupRouter(cfg *config.Config, svc *service.Service) *gin.Engine {
	router := gin.Default()

	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(middleware.CORSMiddleware())

	h := svc.GetHandlers()
	validator := middleware.NewTokenValidator(cfg.JWTSecret)

	api := router.Group("/api/v3")
	{
		// Inspector case-lifecycle endpoints
		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(validator))
		{
			protected.GET("/derivaciones", h.ListDerivations)
			protected.POST("/derivaciones/atender", h.MarkInProgress)
			protected.POST("/derivaciones/cerrar", h.CloseWithReport)
			protected.GET("/denuncias/:id/observaciones", h.ListObservations)
			protected.POST("/notifications/route", h.RouteNotification)
		}

		// Public feed endpoints, token optional
		public := api.Group("")
		public.Use(middleware.OptionalAuthMiddleware(validator))
		{
			public.GET("/feed", h.GetFeed)
			public.GET("/feed/map", h.GetFeedMap)
			public.GET("/feed/listen", h.ListenFeed)
			public.GET("/changes/listen", h.ListenChanges)
		}

		api.GET("/health", h.HealthCheck)
	}

	// Root health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "denuncia-service",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	router.GET("/version", func(c *gin.Context) {
		c.JSON(200, version.Get("denuncia-service"))
	})

	return router
}
