package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the worker service.
type Config struct {
	LogLevel             string
	KafkaBrokers         string
	RedisAddr            string
	PostgresDSN          string
	Kind                 string
	Concurrency          int
	JobTimeout           time.Duration
	ProviderBaseURL      string
	ProviderAPIKey       string
	ProviderPollInterval time.Duration
	BlobRoot             string
	BlobBaseURL          string
	MetricsAddr          string
	OTelEndpoint         string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:             v.GetString("log_level"),
		KafkaBrokers:         v.GetString("kafka_brokers"),
		RedisAddr:            v.GetString("redis_addr"),
		PostgresDSN:          v.GetString("postgres_dsn"),
		Kind:                 v.GetString("kind"),
		Concurrency:          v.GetInt("concurrency"),
		JobTimeout:           v.GetDuration("job_timeout"),
		ProviderBaseURL:      v.GetString("provider_base_url"),
		ProviderAPIKey:       v.GetString("provider_api_key"),
		ProviderPollInterval: v.GetDuration("provider_poll_interval"),
		BlobRoot:             v.GetString("blob_root"),
		BlobBaseURL:          v.GetString("blob_base_url"),
		MetricsAddr:          v.GetString("metrics_addr"),
		OTelEndpoint:         v.GetString("otel_endpoint"),
	}
}
