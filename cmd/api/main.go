package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rzzdr/option-valuation/config"
	"github.com/rzzdr/option-valuation/internal/adapters"
	"github.com/rzzdr/option-valuation/internal/kafka"
	"github.com/rzzdr/option-valuation/internal/valuation"
	"github.com/rzzdr/option-valuation/internal/websocket"
	"github.com/rzzdr/option-valuation/pkg/api"
	"github.com/rzzdr/option-valuation/pkg/metrics"
	"github.com/rzzdr/option-valuation/pkg/models"
	"github.com/rzzdr/option-valuation/pkg/utils/backpressure"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

var (
	configFile = flag.String("config", config.GetConfigPath(), "Path to configuration file")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.GetLogger("api.main").Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.App.LogLevel, cfg.App.Environment)
	log := logger.GetLogger("api.main")
	log.Infof("Starting %s API service (%s)", cfg.App.Name, cfg.App.Environment)

	// Cancelled on SIGINT/SIGTERM or when any component fails
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
	}
	metricsAdapter := adapters.NewMetricsAdapter(recorder)

	provider, err := adapters.NewProvider(cfg.MarketData, metricsAdapter)
	if err != nil {
		log.Fatalf("Failed to create market data provider: %v", err)
	}
	settings, err := adapters.ServiceSettings(cfg.Pricing)
	if err != nil {
		log.Fatalf("Invalid pricing settings: %v", err)
	}

	hub := websocket.NewHub(websocket.WithClientGauge(metricsAdapter.RecordWebsocketClients))
	publishers := []valuation.Publisher{hub}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(kafkaConfig(cfg.Kafka))
		if err != nil {
			log.Fatalf("Failed to create Kafka producer: %v", err)
		}
		publishers = append(publishers, producer)
	}

	service, err := valuation.NewService(provider, settings,
		valuation.WithPublishers(publishers...),
		valuation.WithRecorder(metricsAdapter),
	)
	if err != nil {
		log.Fatalf("Failed to create valuation service: %v", err)
	}

	limiter := backpressure.NewLimiter(backpressure.Config{
		Name:          "api",
		Strategy:      backpressure.Reject,
		RatePerSecond: cfg.API.RateLimit,
		Burst:         cfg.API.Burst,
		MaxInFlight:   cfg.API.MaxInFlight,
	})

	apiServer, err := api.NewServer(
		api.Config{
			Host:           cfg.API.Host,
			Port:           cfg.API.Port,
			ReadTimeout:    cfg.API.ReadTimeout,
			WriteTimeout:   cfg.API.WriteTimeout,
			AllowedOrigins: cfg.API.CORS.AllowedOrigins,
			AllowedMethods: cfg.API.CORS.AllowedMethods,
			AllowedHeaders: cfg.API.CORS.AllowedHeaders,
		},
		api.Dependencies{
			Valuer:   service,
			Hub:      hub,
			Metrics:  recorder,
			Recorder: metricsAdapter,
			Limiter:  limiter,
			Breakers: provider.Breakers(),
		},
	)
	if err != nil {
		log.Fatalf("Failed to create API server: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(apiServer.Start)

	var promServer *metrics.PrometheusServer
	if recorder != nil && cfg.Metrics.Port > 0 && cfg.Metrics.Port != cfg.API.Port {
		promServer = metrics.NewPrometheusServer(cfg.Metrics.Port, recorder)
		g.Go(promServer.Start)
	}

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled && cfg.Kafka.RequestTopic != "" {
		consumer, err = kafka.NewConsumer(kafkaConfig(cfg.Kafka), func(ctx context.Context, req models.ValuationRequest) error {
			_, err := service.ValueModels(ctx, req)
			return err
		})
		if err != nil {
			log.Fatalf("Failed to create Kafka consumer: %v", err)
		}
		g.Go(func() error { return consumer.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Initiating shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Errorf("API server shutdown error: %v", err)
		}
		if promServer != nil {
			if err := promServer.Stop(shutdownCtx); err != nil {
				log.Errorf("Metrics server shutdown error: %v", err)
			}
		}
		if consumer != nil {
			if err := consumer.Close(); err != nil {
				log.Errorf("Kafka consumer shutdown error: %v", err)
			}
		}
		if producer != nil {
			if err := producer.Close(); err != nil {
				log.Errorf("Kafka producer shutdown error: %v", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Errorf("Service stopped with error: %v", err)
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func kafkaConfig(c config.KafkaConfig) kafka.Config {
	k := kafka.DefaultConfig()
	k.Brokers = c.Brokers
	k.Topic = c.Topic
	k.RequestTopic = c.RequestTopic
	if c.ClientID != "" {
		k.ClientID = c.ClientID
	}
	if c.GroupID != "" {
		k.GroupID = c.GroupID
	}
	return k
}
