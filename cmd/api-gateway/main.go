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

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/afterschool-ops-api/api/swagger"
	"github.com/noah-isme/afterschool-ops-api/internal/bootstrap"
	"github.com/noah-isme/afterschool-ops-api/internal/handler"
	"github.com/noah-isme/afterschool-ops-api/internal/middleware"
	"github.com/noah-isme/afterschool-ops-api/pkg/config"
	"github.com/noah-isme/afterschool-ops-api/pkg/export"
	"github.com/noah-isme/afterschool-ops-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/afterschool-ops-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/afterschool-ops-api/pkg/middleware/requestid"
)

// @title Afterschool Ops API
// @version 1.0.0
// @description Recurring session materialization and attendance ledger for after-school programs
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("bootstrap failed", zap.Error(err))
	}
	defer container.Close()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(middleware.WithResponseMeta())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(container.Metrics))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	metricsHandler := handler.NewMetricsHandler(container.Metrics, container.DB)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	sessionHandler := handler.NewSessionHandler(container.Attendance, container.Materializer)
	absenceHandler := handler.NewAbsenceHandler(container.Absences)
	calendarHandler := handler.NewCalendarHandler(container.Calendar, export.NewCSVExporter())
	enrollmentHandler := handler.NewEnrollmentHandler(container.Enrollments)

	api := r.Group(cfg.APIPrefix)
	{
		sessions := api.Group("/sessions")
		sessions.POST("/refresh", sessionHandler.Refresh)
		sessions.GET("/unmarked", sessionHandler.Unmarked)
		sessions.GET("/:id", sessionHandler.Get)
		sessions.PUT("/:id/attendance", sessionHandler.MarkAttendance)
		sessions.PATCH("/:id/attendance/:studentId", sessionHandler.EditAttendanceLine)

		api.POST("/absences", absenceHandler.Submit)
		api.GET("/programs/:programId/students/:studentId/calendar", calendarHandler.Student)

		api.GET("/enrollments/:id", enrollmentHandler.Get)
		api.POST("/enrollments/:id/balance-adjustments", enrollmentHandler.AdjustBalance)

		api.GET("/metrics/summary", metricsHandler.Summary)
	}

	if cfg.Materializer.Enabled {
		container.Scheduler.Start(ctx)
		defer container.Scheduler.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}
