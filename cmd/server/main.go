package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"phonewatch-service/internal/camera"
	"phonewatch-service/internal/capture"
	"phonewatch-service/internal/config"
	"phonewatch-service/internal/db"
	"phonewatch-service/internal/domain/monitor"
	httpapi "phonewatch-service/internal/http"
	"phonewatch-service/internal/notify"
	"phonewatch-service/internal/pipeline"
	"phonewatch-service/internal/repository"
	"phonewatch-service/internal/service"
	"phonewatch-service/internal/settings"
	"phonewatch-service/internal/storage"
	"phonewatch-service/internal/vision"
	"phonewatch-service/internal/zones"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	gdb, err := db.Open(cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}

	ctx := context.Background()
	repo := repository.NewMonitorRepository(gdb)

	if cfg.Auth.AdminPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Auth.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to hash admin password")
		}
		if err := repo.EnsureUser(ctx, cfg.Auth.AdminUsername, string(hash)); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure admin user")
		}
	}

	initial, err := repo.GetOrCreateSettings(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load settings")
	}
	store := settings.NewStore(initial)
	configFn := func() monitor.RuntimeConfig { return store.Snapshot().Config }

	queue := pipeline.NewQueue(pipeline.DefaultQueueCapacity)
	throttler := zones.NewThrottler(queue, cfg.Camera.MuteWindow, logger)

	detector, err := vision.NewYOLODetector(cfg.Vision.ModelWeights, cfg.Vision.ModelConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load detection model")
	}
	redactor := vision.NewFaceRedactor(cfg.Vision.CascadePath, logger)

	artifacts, err := storage.NewArtifactStore(cfg.Storage.DetectionsDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare detections directory")
	}

	var uploader notify.Uploader
	if cfg.Storage.MinioEndpoint != "" {
		mu, err := notify.NewMinioUploader(
			cfg.Storage.MinioEndpoint,
			cfg.Storage.MinioAccessKey,
			cfg.Storage.MinioSecretKey,
			cfg.Storage.MinioBucket,
			cfg.Storage.MinioUseSSL,
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create object storage client")
		}
		if err := mu.EnsureBucket(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure evidence bucket")
		}
		uploader = mu
	}

	var sms notify.SMSSender
	if cfg.Twilio.AccountSID != "" {
		sms = notify.NewTwilioSender(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.From)
	}
	var email notify.EmailSender
	if cfg.SMTP.Host != "" {
		email = notify.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	}
	orchestrator := notify.NewOrchestrator(uploader, sms, email, notify.Destinations{
		SMSTo:   cfg.Twilio.To,
		EmailTo: cfg.SMTP.To,
	}, configFn, logger)

	worker := pipeline.NewWorker(queue, redactor, artifacts, repo, orchestrator, configFn, logger)

	manager := camera.NewManager(logger)
	openFunc := func(index int) (capture.Session, error) {
		s, err := manager.Open(index)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	controller := capture.NewController(store, openFunc, detector, throttler, capture.ErrorClassifier{
		IsNoFrame:    func(err error) bool { return errors.Is(err, camera.ErrNoFrame) },
		IsDeviceGone: func(err error) bool { return errors.Is(err, camera.ErrDeviceGone) },
	}, vision.Normalize, logger)

	monitorService := service.NewMonitorService(repo, store, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, logger)
	handler := httpapi.NewHandler(monitorService, controller, manager, artifacts.Dir(), logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.Register(r, httpapi.AuthMiddleware(monitorService))

	captureCtx, cancelCapture := context.WithCancel(context.Background())
	go controller.Run(captureCtx)
	go worker.Run(context.Background())

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	// Stop producing, flush the pipeline, then stop serving.
	cancelCapture()
	queue.Poison()
	select {
	case <-worker.Done():
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("worker did not drain in time")
	}
	orchestrator.Drain(10 * time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	logger.Info().Msg("stopped")
}
