package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/budapestdude/chess-calendar/internal/api"
	"github.com/budapestdude/chess-calendar/internal/backup"
	"github.com/budapestdude/chess-calendar/internal/config"
	"github.com/budapestdude/chess-calendar/internal/exporter"
	"github.com/budapestdude/chess-calendar/internal/importer"
	"github.com/budapestdude/chess-calendar/internal/repository"
	"github.com/budapestdude/chess-calendar/internal/service"
	"github.com/budapestdude/chess-calendar/internal/storage"
	"github.com/budapestdude/chess-calendar/internal/utils/httpclient"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// 2. Logger
	logger := logrus.New()
	if cfg.Server.Mode == gin.ReleaseMode {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}
	logger.Info("configuration loaded")

	// Shutdown context, cancelled on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Open the SQLite store (connects, applies pragmas, migrates)
	store, err := storage.Open(storage.Options{
		Path:        cfg.Database.Path,
		LogSQL:      cfg.Database.LogSQL,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("close store")
		}
	}()
	logger.WithField("path", store.Path()).Info("database ready")

	// 4. Exporter worker, warmed once at boot
	exp, err := exporter.New(store.DB(), cfg.Export.Dir, cfg.Export.Patterns, logger)
	if err != nil {
		logger.Fatalf("init exporter: %v", err)
	}
	exp.Start(ctx)
	exp.Trigger()

	// 5. Backup manager, with optional offsite copies
	var offsite *backup.OffsiteStore
	if cfg.Backup.Offsite.Enabled {
		offsite, err = backup.NewOffsiteStore(ctx, backup.OffsiteConfig{
			Bucket:    cfg.Backup.Offsite.Bucket,
			Region:    cfg.Backup.Offsite.Region,
			Endpoint:  cfg.Backup.Offsite.Endpoint,
			Prefix:    cfg.Backup.Offsite.Prefix,
			AccessKey: cfg.Backup.Offsite.AccessKey,
			SecretKey: cfg.Backup.Offsite.SecretKey,
			PathStyle: cfg.Backup.Offsite.PathStyle,
		}, logger)
		if err != nil {
			logger.Fatalf("init offsite store: %v", err)
		}
		logger.WithField("bucket", cfg.Backup.Offsite.Bucket).Info("offsite backups enabled")
	}
	backups, err := backup.NewManager(store, cfg.Backup.Dir, logger, offsite)
	if err != nil {
		logger.Fatalf("init backup manager: %v", err)
	}

	// 6. Services
	calendar := service.NewCalendarService(store.DB(), logger, exp)
	dedup := service.NewDedupService(repository.NewEventRepository(store.DB()), backups, exp, logger)
	feedClient := httpclient.New(cfg.Import.Timeout, cfg.Import.Proxy, logger)
	feeds := importer.New(store.DB(), calendar, logger, feedClient)

	// 7. Router and middleware
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestID(), api.AccessLog(logger))
	pprof.Register(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	logger.Infof("gin mode: %s", cfg.Server.Mode)

	// 8. Routes
	eventHandler := api.NewEventHandler(calendar, logger)
	r.GET("/api/events", eventHandler.ListEvents)
	r.POST("/api/events", eventHandler.CreateEvent)
	r.GET("/api/events/:id", eventHandler.GetEvent)
	r.PATCH("/api/events/:id", eventHandler.UpdateEvent)
	r.DELETE("/api/events/:id", eventHandler.DeleteEvent)
	r.POST("/api/events/:id/restore", eventHandler.RestoreEvent)

	adminHandler := api.NewAdminHandler(store.DB(), backups, dedup, exp, feeds, logger)
	admin := r.Group("/api/admin", api.RequireAdminToken(cfg.Admin.Token))
	admin.POST("/backups", adminHandler.CreateBackup)
	admin.GET("/backups", adminHandler.ListBackups)
	admin.POST("/backups/:name/restore", adminHandler.RestoreBackup)
	admin.DELETE("/backups/:name", adminHandler.DeleteBackup)
	admin.GET("/duplicates", adminHandler.ListDuplicates)
	admin.POST("/duplicates/delete", adminHandler.DeleteDuplicates)
	admin.POST("/export", adminHandler.TriggerExport)
	admin.POST("/import", adminHandler.RunImport)
	admin.GET("/imports", adminHandler.ListImports)

	// 9. Serve until signalled
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		logger.Infof("listening on :%d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
}
