package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"closer/internal/bondingcurve"
	"closer/internal/models"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides (CLOSER_NETWORK, ...).
const EnvPrefix = "CLOSER"

type Config struct {
	App        AppConfig        `yaml:"app"`
	Network    string           `yaml:"network"`
	Chain      ChainConfig      `yaml:"chain"`
	Curve      CurveConfig      `yaml:"curve"`
	Booking    BookingConfig    `yaml:"booking"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Platform   PlatformConfig   `yaml:"platform"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Exports    ExportConfig     `yaml:"exports"`
	Features   FeatureFlags     `yaml:"features"`
}

type ChainConfig struct {
	RPCURL         string                     `yaml:"rpc_url"`
	SignerKey      string                     `yaml:"signer_key"`
	PollInterval   time.Duration              `yaml:"poll_interval"`
	ReceiptTimeout time.Duration              `yaml:"receipt_timeout"`
	GasBufferPct   uint64                     `yaml:"gas_buffer_pct"`
	Contracts      map[string]ContractsConfig `yaml:"contracts"`
}

// ContractsConfig holds the deployed addresses for one network.
type ContractsConfig struct {
	DAOToken     string `yaml:"dao_token"`
	Diamond      string `yaml:"diamond"`
	DynamicSale  string `yaml:"dynamic_sale"`
	PaymentToken string `yaml:"payment_token"`
}

type CurveConfig struct {
	A float64 `yaml:"a"`
	B float64 `yaml:"b"`
	C float64 `yaml:"c"`
}

// Build returns the sale curve described by the coefficients.
func (c CurveConfig) Build() bondingcurve.Curve {
	return bondingcurve.New(c.A, c.B, c.C)
}

type BookingConfig struct {
	WindowYears int `yaml:"window_years"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
	// TxPerMinute limits mutating calls per wallet account.
	TxPerMinute int `yaml:"tx_per_minute"`
}

type PlatformConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	ConfigTTL time.Duration `yaml:"config_ttl"`
}

type TrackerConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	BatchSize     int           `yaml:"batch_size"`
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	QueueKey      string        `yaml:"queue_key"`
}

// JobsConfig holds cron specs. An empty spec takes the default; "off"
// disables the job.
type JobsConfig struct {
	SaleSnapshot string        `yaml:"sale_snapshot"`
	TxPrune      string        `yaml:"tx_prune"`
	TxRetention  time.Duration `yaml:"tx_retention"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type FeatureFlags struct {
	Referral  bool `yaml:"referral"`
	TokenSale bool `yaml:"token_sale"`
	Export    bool `yaml:"export"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// envOverrides are read from CLOSER_* variables after the YAML file.
type envOverrides struct {
	Network          string `envconfig:"NETWORK"`
	RPCURL           string `envconfig:"RPC_URL"`
	SignerKey        string `envconfig:"SIGNER_KEY"`
	PlatformURL      string `envconfig:"PLATFORM_URL"`
	PlatformAPIKey   string `envconfig:"PLATFORM_API_KEY"`
	FeatureReferral  *bool  `envconfig:"FEATURE_REFERRAL"`
	FeatureTokenSale *bool  `envconfig:"FEATURE_TOKEN_SALE"`
	FeatureExport    *bool  `envconfig:"FEATURE_EXPORT"`
}

func Load(configPath string) (*Config, error) {
	// .env необязателен
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	if env.Network != "" {
		c.Network = env.Network
	}
	if env.RPCURL != "" {
		c.Chain.RPCURL = env.RPCURL
	}
	if env.SignerKey != "" {
		c.Chain.SignerKey = env.SignerKey
	}
	if env.PlatformURL != "" {
		c.Platform.BaseURL = env.PlatformURL
	}
	if env.PlatformAPIKey != "" {
		c.Platform.APIKey = env.PlatformAPIKey
	}
	if env.FeatureReferral != nil {
		c.Features.Referral = *env.FeatureReferral
	}
	if env.FeatureTokenSale != nil {
		c.Features.TokenSale = *env.FeatureTokenSale
	}
	if env.FeatureExport != nil {
		c.Features.Export = *env.FeatureExport
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Network {
	case "mainnet", "testnet":
	default:
		return fmt.Errorf("unknown network %q", c.Network)
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if _, ok := c.Chain.Contracts[c.Network]; !ok {
		return fmt.Errorf("contract addresses for network %q are required", c.Network)
	}

	if err := c.Curve.Build().Validate(); err != nil {
		return fmt.Errorf("curve: %w", err)
	}

	if c.Features.Referral && c.Platform.BaseURL == "" {
		return errors.New("platform base_url is required when referral is enabled")
	}

	return nil
}

// ActiveContracts returns the addresses of the selected network.
func (c *Config) ActiveContracts() ContractsConfig {
	return c.Chain.Contracts[c.Network]
}

func (c *Config) applyDefaults() {
	c.Network = strings.ToLower(strings.TrimSpace(c.Network))
	if c.Network == "" {
		c.Network = "testnet"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.RateLimit.TxPerMinute == 0 {
		c.API.RateLimit.TxPerMinute = models.RateLimitRequests
	}

	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = models.DefaultCacheTTL * time.Second
	}

	if c.Booking.WindowYears == 0 {
		c.Booking.WindowYears = models.DefaultBookingWindowYears
	}

	if c.Chain.PollInterval == 0 {
		c.Chain.PollInterval = 2 * time.Second
	}
	if c.Chain.ReceiptTimeout == 0 {
		c.Chain.ReceiptTimeout = 2 * time.Minute
	}
	if c.Chain.GasBufferPct == 0 {
		c.Chain.GasBufferPct = 20
	}

	if c.Platform.Timeout == 0 {
		c.Platform.Timeout = 10 * time.Second
	}
	if c.Platform.ConfigTTL == 0 {
		c.Platform.ConfigTTL = 10 * time.Minute
	}

	// Трекер транзакций
	if c.Tracker.PollInterval == 0 {
		c.Tracker.PollInterval = 5 * time.Second
	}
	if c.Tracker.BatchSize == 0 {
		c.Tracker.BatchSize = 20
	}
	if c.Tracker.MaxRetries == 0 {
		c.Tracker.MaxRetries = 30
	}
	if c.Tracker.InitialDelay == 0 {
		c.Tracker.InitialDelay = 3 * time.Second
	}
	if c.Tracker.MaxDelay == 0 {
		c.Tracker.MaxDelay = time.Minute
	}
	if c.Tracker.BackoffFactor == 0 {
		c.Tracker.BackoffFactor = 2
	}
	if c.Tracker.QueueKey == "" {
		c.Tracker.QueueKey = "closer:pending_tx"
	}

	if c.Jobs.SaleSnapshot == "" {
		c.Jobs.SaleSnapshot = "@every 1m"
	}
	if c.Jobs.TxPrune == "" {
		c.Jobs.TxPrune = "@daily"
	}
	if c.Jobs.TxRetention == 0 {
		c.Jobs.TxRetention = 30 * 24 * time.Hour
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "0 3 * * *"
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
}
