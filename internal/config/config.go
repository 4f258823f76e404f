package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the recovery service
type Config struct {
	AppName  string         `mapstructure:"app_name"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Log      LogConfig      `mapstructure:"log"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
}

// MetricsConfig holds the Prometheus metrics server configuration
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig holds Kafka producer configuration
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	EventTopic        string   `mapstructure:"event_topic"`
	NotificationTopic string   `mapstructure:"notification_topic"`
}

// StripeConfig holds the payment processor configuration
type StripeConfig struct {
	SecretKey string `mapstructure:"secret_key"`
}

// AuthConfig holds token validation configuration
type AuthConfig struct {
	SigningSecret string `mapstructure:"signing_secret"`
	Issuer        string `mapstructure:"issuer"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SamplingRatio  float64 `mapstructure:"sampling_ratio"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// RecoveryConfig holds the recovery policy knobs. Thresholds are
// deliberately configuration, not constants.
type RecoveryConfig struct {
	MaxRetryAttempts  int           `mapstructure:"max_retry_attempts"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
	RetryJitterMax    time.Duration `mapstructure:"retry_jitter_max"`
	GraceThreshold    time.Duration `mapstructure:"grace_threshold"`
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	CampaignThreshold int           `mapstructure:"campaign_threshold"` // failed attempts before a campaign opens
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize    int           `mapstructure:"sweep_batch_size"`
	SweepWorkers      int           `mapstructure:"sweep_workers"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app_name", "recovery-service")
	viper.SetDefault("metrics.addr", ":9464")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("database.min_conns", 2)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("kafka.event_topic", "recovery.events")
	viper.SetDefault("kafka.notification_topic", "recovery.notifications")
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.jaeger_endpoint", "http://localhost:14268/api/traces")
	viper.SetDefault("tracing.sampling_ratio", 1.0)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("recovery.max_retry_attempts", 3)
	viper.SetDefault("recovery.retry_base_delay", time.Hour)
	viper.SetDefault("recovery.retry_max_delay", 72*time.Hour)
	viper.SetDefault("recovery.retry_jitter_max", 15*time.Minute)
	viper.SetDefault("recovery.grace_threshold", 24*time.Hour)
	viper.SetDefault("recovery.grace_period", 7*24*time.Hour)
	viper.SetDefault("recovery.campaign_threshold", 1)
	viper.SetDefault("recovery.sweep_interval", time.Minute)
	viper.SetDefault("recovery.sweep_batch_size", 100)
	viper.SetDefault("recovery.sweep_workers", 4)
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetRedisAddr returns the Redis connection address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
