package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/streamsight/streamsight/internal/api"
	"github.com/streamsight/streamsight/internal/config"
	"github.com/streamsight/streamsight/internal/database"
	"github.com/streamsight/streamsight/internal/detector"
	"github.com/streamsight/streamsight/internal/device"
	"github.com/streamsight/streamsight/internal/kafka"
	"github.com/streamsight/streamsight/internal/models"
	"github.com/streamsight/streamsight/internal/s3"
	"github.com/streamsight/streamsight/internal/service"
	"github.com/streamsight/streamsight/internal/stream"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := device.NewPool(lo.Map(cfg.Devices, func(d config.DeviceConfig, _ int) device.Spec {
		return device.Spec{
			ID:            d.ID,
			Endpoint:      d.Endpoint,
			Weight:        d.Weight,
			MaxConcurrent: d.MaxConcurrent,
			Fallback:      d.Fallback,
		}
	}), cfg.Engine.FailureThreshold)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build device pool")
	}
	defer pool.Close()

	det := detector.NewHTTPDetector(cfg.Engine.InferenceTimeout.Std())
	defer det.Release()
	go pool.RunHealthChecks(ctx, cfg.Engine.HealthInterval.Std(), det.Ping)

	streamOpts := stream.Options{
		ConnectTimeout: cfg.Engine.ConnectTimeout.Std(),
		ReadTimeout:    cfg.Engine.ReadTimeout.Std(),
	}
	if cfg.Minio.Endpoint != "" {
		s3Client, err := s3.New(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.UseSSL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to object storage")
		}
		streamOpts.S3 = s3Client
	}

	var sinks []service.ResultSink
	var history api.ResultHistory
	if cfg.Postgres.DSN != "" {
		db, err := database.New(cfg.Postgres.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer db.Close()
		if err := db.Init(); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		sinks = append(sinks, database.NewSink(db))
		history = db
	}

	var heartbeat func(models.Heartbeat)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ResultTopic, cfg.Kafka.HeartbeatTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		defer producer.Close()
		sinks = append(sinks, kafka.NewSink(producer))
		heartbeat = func(hb models.Heartbeat) {
			if err := producer.SendHeartbeat(hb); err != nil {
				log.Warn().Str("service_id", hb.ServiceID).Err(err).Msg("heartbeat publish failed")
			}
		}
	}

	registry := service.NewRegistry(service.RegistryOptions{
		Engine:           cfg.Engine,
		DefaultDetection: cfg.DefaultDetection,
		Pool:             pool,
		Detector:         det,
		Sinks:            sinks,
		Heartbeat:        heartbeat,
		StreamOptions:    streamOpts,
	})
	go registry.Run(ctx)

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.CommandTopic != "" {
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.CommandTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka consumer")
		}
		defer consumer.Close()
		go kafka.ListenCommands(ctx, consumer, registry)
	}

	router := mux.NewRouter()
	api.NewHandlers(registry, history).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	registry.Shutdown()
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Log.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
