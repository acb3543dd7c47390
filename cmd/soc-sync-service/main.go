package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"bitbucket.org/mmdatafocus/hr_sync_backend/middlewares"
	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"bitbucket.org/mmdatafocus/hr_sync_backend/socsync"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("SOC_SYNC_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !config.SkipMigrations() {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	svc, cleanup, err := socsync.Bootstrap(sigCtx, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "bootstrap"}).Fatal(err)
	}
	defer cleanup()

	if config.DispatcherEnabled() {
		go socsync.NewDispatcher(db, svc.Scheduler.Publisher, logger).Run(sigCtx)
	}
	if config.ReaperEnabled() {
		reaper := &socsync.Reaper{DB: db, Logger: logger, StaleAfter: svc.Settings.StaleAfter}
		c, err := reaper.Start(svc.Settings.ReaperSchedule)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "reaper"}).Error(err)
		} else {
			defer c.Stop()
		}
	}

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "x-correlation-id")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(middlewares.RequestLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api/soc")
	api.Use(middlewares.SessionMiddleware())
	api.Use(middlewares.AuthMiddleware())
	api.POST("/sync", socsync.TriggerSyncHandler(svc))
	api.POST("/sync/:id/cancel", socsync.CancelSyncHandler(svc))
	api.GET("/sync/:id", socsync.SyncStatusHandler(svc))
	api.GET("/sync-runs", socsync.SyncHistoryHandler(svc))
	api.GET("/sync-runs/:id/errors.xlsx", socsync.SyncErrorsReportHandler(svc))
	api.PUT("/credentials", socsync.SaveCredentialsHandler(svc))

	// Pub/Sub push endpoint for continuations.
	r.POST("/pubsub/soc-sync", socsync.PubSubPushHandler(svc))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()
	logger.WithFields(logrus.Fields{"port": port}).Info("soc sync service listening")

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
