package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	LogLevel   string           `mapstructure:"log_level"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	Queue      QueueConfig      `mapstructure:"queue"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Redis      RedisConfig      `mapstructure:"redis"`
	WhatsApp   WhatsAppConfig   `mapstructure:"whatsapp"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

type ServerConfig struct {
	Port int
	Host string
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type QueueConfig struct {
	// Backend selects the dispatch queue implementation: "mongo" or
	// "rabbitmq".
	Backend               string `mapstructure:"backend"`
	Name                  string `mapstructure:"name"`
	MaxAttempts           int    `mapstructure:"maxAttempts"`
	BaseDelaySeconds      int    `mapstructure:"baseDelaySeconds"`
	PollIntervalMillis    int    `mapstructure:"pollIntervalMillis"`
	VisibilityTimeoutSecs int    `mapstructure:"visibilityTimeoutSeconds"`
	ReaperIntervalSeconds int    `mapstructure:"reaperIntervalSeconds"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WhatsAppConfig struct {
	BaseURL        string `mapstructure:"baseUrl"`
	APIVersion     string `mapstructure:"apiVersion"`
	PhoneNumberID  string `mapstructure:"phoneNumberId"`
	Token          string `mapstructure:"token"`
	VerifyToken    string `mapstructure:"verifyToken"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
}

type AlertsConfig struct {
	RecipientGroup   string  `mapstructure:"recipientGroup"`
	Template         string  `mapstructure:"template"`
	CheckToken       string  `mapstructure:"checkToken"`
	LossThresholdPct float64 `mapstructure:"lossThresholdPct"`
	DedupTTLHours    int     `mapstructure:"dedupTtlHours"`
}

type MonitoringConfig struct {
	PrometheusPort int    `mapstructure:"prometheusPort"`
	MetricsPath    string `mapstructure:"metricsPath"`
}

func Load() (*Config, error) {
	// .env is optional; environment already set wins.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("mongodb.database", "alert_notifier")
	viper.SetDefault("queue.backend", "mongo")
	viper.SetDefault("queue.name", "webhook_dispatch")
	viper.SetDefault("queue.maxAttempts", 3)
	viper.SetDefault("queue.baseDelaySeconds", 10)
	viper.SetDefault("queue.pollIntervalMillis", 500)
	viper.SetDefault("queue.visibilityTimeoutSeconds", 300)
	viper.SetDefault("queue.reaperIntervalSeconds", 60)
	viper.SetDefault("rabbitmq.exchange", "webhooks")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("whatsapp.baseUrl", "https://graph.facebook.com")
	viper.SetDefault("whatsapp.apiVersion", "v18.0")
	viper.SetDefault("whatsapp.timeoutSeconds", 10)
	viper.SetDefault("alerts.recipientGroup", "operations")
	viper.SetDefault("alerts.template", "critical_alert")
	viper.SetDefault("alerts.lossThresholdPct", 20)
	viper.SetDefault("alerts.dedupTtlHours", 24)
	viper.SetDefault("monitoring.prometheusPort", 9090)
	viper.SetDefault("monitoring.metricsPath", "/metrics")

	if err := viper.ReadInConfig(); err != nil {
		// A config file is optional; env vars and defaults carry a
		// containerized deployment.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if port := os.Getenv("APP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if promPort := os.Getenv("PROMETHEUS_PORT"); promPort != "" {
		if p, err := strconv.Atoi(promPort); err == nil {
			cfg.Monitoring.PrometheusPort = p
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		cfg.MongoDB.URI = uri
	}
	if db := os.Getenv("MONGODB_DATABASE"); db != "" {
		cfg.MongoDB.Database = db
	}

	if backend := os.Getenv("QUEUE_BACKEND"); backend != "" {
		cfg.Queue.Backend = backend
	}

	// Support both CLOUDAMQP_URL and RABBITMQ_URI for hosted brokers
	if cloudamqpURL := os.Getenv("CLOUDAMQP_URL"); cloudamqpURL != "" {
		cfg.RabbitMQ.URL = cloudamqpURL
	} else if rabbitURL := os.Getenv("RABBITMQ_URI"); rabbitURL != "" {
		cfg.RabbitMQ.URL = rabbitURL
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}

	if token := os.Getenv("WHATSAPP_TOKEN"); token != "" {
		cfg.WhatsApp.Token = token
	}
	if id := os.Getenv("WHATSAPP_PHONE_NUMBER_ID"); id != "" {
		cfg.WhatsApp.PhoneNumberID = id
	}
	if verify := os.Getenv("WHATSAPP_VERIFY_TOKEN"); verify != "" {
		cfg.WhatsApp.VerifyToken = verify
	}

	if token := os.Getenv("ALERT_CHECK_TOKEN"); token != "" {
		cfg.Alerts.CheckToken = token
	}

	return &cfg, nil
}
