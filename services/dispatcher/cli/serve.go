package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Davide9292/v-try.app-sub001/internal/kafka"
	redisstore "github.com/Davide9292/v-try.app-sub001/internal/redis"
	"github.com/Davide9292/v-try.app-sub001/pkg/telemetry"
	"github.com/Davide9292/v-try.app-sub001/services/dispatcher"
	"github.com/Davide9292/v-try.app-sub001/services/dispatcher/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatcher",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().Int("surge-limit", 50, "max jobs per window per kind handed to workers (0 = disabled)")
	serveCmd.Flags().Duration("surge-window", time.Second, "surge limiter window")
	serveCmd.Flags().String("metrics-addr", ":9094", "Prometheus metrics server address")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("surge_limit", serveCmd.Flags(), "surge-limit")
	bindFlag("surge_window", serveCmd.Flags(), "surge-window")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "dispatcher")

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "dispatcher", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	brokers := strings.Split(cfg.KafkaBrokers, ",")

	consumer := kafka.NewConsumer(brokers, kafka.TopicSubmitted, "dispatcher-group", logger)
	defer func() { _ = consumer.Close() }()

	producer := kafka.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	var limiter redisstore.SurgeLimiter
	var redisClient interface{ Close() error }
	if cfg.SurgeLimit > 0 {
		window := cfg.SurgeWindow
		if window <= 0 {
			window = time.Second
		}
		client := redisstore.NewClient(cfg.RedisAddr)
		redisClient = client
		limiter = redisstore.NewSurgeLimiter(client, cfg.SurgeLimit, window)
		logger.Info("surge limiter enabled",
			slog.Int("limit", cfg.SurgeLimit),
			slog.Duration("window", window),
		)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	d := dispatcher.New(consumer, producer, limiter, logger)

	ctx, cancel := context.WithCancel(context.Background())
	telemetry.StartMetricsServer(ctx, cfg.MetricsAddr, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down...")
		cancel()
	}()

	logger.Info("dispatcher starting", slog.String("topic", kafka.TopicSubmitted))
	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	logger.Info("stopped")
	return nil
}
