package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Graph    GraphConfig    `mapstructure:"graph"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type GraphConfig struct {
	TenantID           string        `mapstructure:"tenant_id"`
	ClientID           string        `mapstructure:"client_id"`
	ClientSecret       string        `mapstructure:"client_secret"`
	BaseURL            string        `mapstructure:"base_url"`
	LoginBaseURL       string        `mapstructure:"login_base_url"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryBaseBackoff   time.Duration `mapstructure:"retry_base_backoff"`
	RateLimitPerSecond float64       `mapstructure:"rate_limit_per_second"`
}

type OAuthConfig struct {
	RedirectURL string   `mapstructure:"redirect_url"`
	Scopes      []string `mapstructure:"scopes"`
}

type WebhookConfig struct {
	PublicBaseURL     string `mapstructure:"public_base_url"`
	ClientStateSecret string `mapstructure:"client_state_secret"`
}

type WorkerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff    time.Duration `mapstructure:"error_backoff"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type SecurityConfig struct {
	// 64 hex chars, decoded to the 32-byte key used to seal stored tokens.
	TokenSealKey string `mapstructure:"token_seal_key"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("graph.base_url", "https://graph.microsoft.com/v1.0")
	viper.SetDefault("graph.login_base_url", "https://login.microsoftonline.com")
	viper.SetDefault("graph.request_timeout", "30s")
	viper.SetDefault("graph.retry_attempts", 3)
	viper.SetDefault("graph.retry_base_backoff", "1s")
	viper.SetDefault("graph.rate_limit_per_second", 10)
	viper.SetDefault("worker.poll_interval", "5s")
	viper.SetDefault("worker.error_backoff", "10s")
	viper.SetDefault("worker.batch_size", 10)
	viper.SetDefault("worker.max_attempts", 5)
	viper.SetDefault("worker.shutdown_timeout", "30s")
	viper.SetDefault("oauth.scopes", []string{
		"Chat.Read", "ChannelMessage.Read", "User.Read", "offline_access",
	})
}
