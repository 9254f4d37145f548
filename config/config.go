package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort     string `mapstructure:"APP_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	Env         string `mapstructure:"ENV"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	// Redis configuration.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisCacheDB  int    `mapstructure:"REDIS_CACHE_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	// Stripe (global card network).
	StripeKey           string `mapstructure:"STRIPE_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	// Regional card + mobile-money gateway.
	RegionalBaseURL       string   `mapstructure:"REGIONAL_BASE_URL"`
	RegionalSecretKey     string   `mapstructure:"REGIONAL_SECRET_KEY"`
	RegionalWebhookIPs    []string `mapstructure:"REGIONAL_WEBHOOK_IPS"`
	RegionalRegions       []string `mapstructure:"REGIONAL_REGIONS"`
	RegionalTimeoutSecs   int      `mapstructure:"REGIONAL_TIMEOUT_SECS"`
	ProcessorTimeoutSecs  int      `mapstructure:"PROCESSOR_TIMEOUT_SECS"`
	ProcessorMaxRetries   int      `mapstructure:"PROCESSOR_MAX_RETRIES"`
	ProcessorRetryBackoff int      `mapstructure:"PROCESSOR_RETRY_BACKOFF_MS"`

	// Reconciliation sweep.
	ReconcileInterval  string `mapstructure:"RECONCILE_INTERVAL"`
	StalenessThreshold int    `mapstructure:"STALENESS_THRESHOLD_MINS"`

	// Idempotency ledger retention.
	LedgerRetentionDays int `mapstructure:"LEDGER_RETENTION_DAYS"`

	// Trial grace windows (days).
	TrialGraceDays       int `mapstructure:"TRIAL_GRACE_DAYS"`
	TrialCancelGraceDays int `mapstructure:"TRIAL_CANCEL_GRACE_DAYS"`

	// Firebase service account for transition push notifications.
	FirebaseCredentialsFile string `mapstructure:"FIREBASE_CREDENTIALS_FILE"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	// Set default values.
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_CACHE_DB", 0)
	viper.SetDefault("REDIS_QUEUE_DB", 3)
	viper.SetDefault("REGIONAL_BASE_URL", "https://api.gateway.africa")
	viper.SetDefault("REGIONAL_REGIONS", []string{"KE", "TZ", "UG", "NG", "GH"})
	viper.SetDefault("REGIONAL_TIMEOUT_SECS", 15)
	viper.SetDefault("PROCESSOR_TIMEOUT_SECS", 15)
	viper.SetDefault("PROCESSOR_MAX_RETRIES", 3)
	viper.SetDefault("PROCESSOR_RETRY_BACKOFF_MS", 200)
	viper.SetDefault("RECONCILE_INTERVAL", "@every 5m")
	viper.SetDefault("STALENESS_THRESHOLD_MINS", 30)
	viper.SetDefault("LEDGER_RETENTION_DAYS", 90)
	viper.SetDefault("TRIAL_GRACE_DAYS", 3)
	viper.SetDefault("TRIAL_CANCEL_GRACE_DAYS", 7)

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}

// ProcessorTimeout is the bounded timeout applied to outbound processor calls.
func ProcessorTimeout() time.Duration {
	return time.Duration(AppConfig.ProcessorTimeoutSecs) * time.Second
}

// Staleness is how long a transaction or refund may sit in a non-terminal
// status before the reconciliation sweep re-queries the processor for it.
func Staleness() time.Duration {
	return time.Duration(AppConfig.StalenessThreshold) * time.Minute
}
