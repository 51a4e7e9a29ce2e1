package config

import "github.com/spf13/viper"

// Config holds typed configuration for the gateway service.
type Config struct {
	LogLevel      string
	HTTPPort      string
	MetricsAddr   string
	KafkaBrokers  string
	RedisAddr     string
	PostgresDSN   string
	AuthSecret    string
	FreeImagesDay int
	FreeVideosDay int
	ProImagesDay  int
	ProVideosDay  int
	OTelEndpoint  string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:      v.GetString("log_level"),
		HTTPPort:      v.GetString("http_port"),
		MetricsAddr:   v.GetString("metrics_addr"),
		KafkaBrokers:  v.GetString("kafka_brokers"),
		RedisAddr:     v.GetString("redis_addr"),
		PostgresDSN:   v.GetString("postgres_dsn"),
		AuthSecret:    v.GetString("auth_secret"),
		FreeImagesDay: v.GetInt("quota_free_images_per_day"),
		FreeVideosDay: v.GetInt("quota_free_videos_per_day"),
		ProImagesDay:  v.GetInt("quota_pro_images_per_day"),
		ProVideosDay:  v.GetInt("quota_pro_videos_per_day"),
		OTelEndpoint:  v.GetString("otel_endpoint"),
	}
}
