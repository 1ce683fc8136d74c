package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"http_server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Security       SecurityConfig       `mapstructure:"security"`
	Gateways       GatewaysConfig       `mapstructure:"gateways"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Notification   NotificationConfig   `mapstructure:"notification"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	AccessTokenSecret    string        `mapstructure:"access_token_secret"`
	RefreshTokenSecret   string        `mapstructure:"refresh_token_secret"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration"`
	BCryptCost           int           `mapstructure:"bcrypt_cost"`
}

// GatewayConfig holds the per-provider credentials and endpoints. Secret is
// the webhook signing secret for providers that sign callbacks; APIKey is the
// credential used on the authoritative status-query endpoint.
type GatewayConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	CheckoutURL string        `mapstructure:"checkout_url"`
	SiteID      string        `mapstructure:"site_id"`
	APIKey      string        `mapstructure:"api_key"`
	Secret      string        `mapstructure:"secret"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type GatewaysConfig struct {
	CinetPay GatewayConfig `mapstructure:"cinetpay"`
	NotchPay GatewayConfig `mapstructure:"notchpay"`
	PayPal   GatewayConfig `mapstructure:"paypal"`
	Fapshi   GatewayConfig `mapstructure:"fapshi"`
}

type ReconciliationConfig struct {
	PendingTTL    time.Duration `mapstructure:"pending_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SuccessURL    string        `mapstructure:"success_url"`
	FailureURL    string        `mapstructure:"failure_url"`
}

type NotificationConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	SMTPAddr    string        `mapstructure:"smtp_addr"`
	From        string        `mapstructure:"from"`
	OpsInbox    string        `mapstructure:"ops_inbox"`
	MaxWorkers  int           `mapstructure:"max_workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ----------------- ENV LOADING -----------------

// LoadConfigFromEnv builds a Config from environment variables for container
// deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("BASE_URL", "http://localhost:8080"),
			ReadHeaderTimeout: getEnvAsDuration("READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			AccessTokenSecret:    getEnv("ACCESS_TOKEN_SECRET", ""),
			RefreshTokenSecret:   getEnv("REFRESH_TOKEN_SECRET", ""),
			AccessTokenDuration:  getEnvAsDuration("ACCESS_TOKEN_DURATION", 15*time.Minute),
			RefreshTokenDuration: getEnvAsDuration("REFRESH_TOKEN_DURATION", 7*24*time.Hour),
			BCryptCost:           getEnvAsInt("BCRYPT_COST", 12),
		},
		Gateways: GatewaysConfig{
			CinetPay: gatewayFromEnv("CINETPAY"),
			NotchPay: gatewayFromEnv("NOTCHPAY"),
			PayPal:   gatewayFromEnv("PAYPAL"),
			Fapshi:   gatewayFromEnv("FAPSHI"),
		},
		Reconciliation: ReconciliationConfig{
			PendingTTL:    getEnvAsDuration("PENDING_TTL", 24*time.Hour),
			SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", 10*time.Minute),
			SuccessURL:    getEnv("PAYMENT_SUCCESS_URL", "/payment/success"),
			FailureURL:    getEnv("PAYMENT_FAILURE_URL", "/payment/failure"),
		},
		Notification: NotificationConfig{
			Enabled:     getEnv("SMTP_ADDR", "") != "",
			SMTPAddr:    getEnv("SMTP_ADDR", ""),
			From:        getEnv("MAIL_FROM", "no-reply@guidy.app"),
			OpsInbox:    getEnv("MAIL_OPS_INBOX", "payments-ops@guidy.app"),
			MaxWorkers:  getEnvAsInt("MAIL_MAX_WORKERS", 4),
			QueueSize:   getEnvAsInt("MAIL_QUEUE_SIZE", 100),
			SendTimeout: getEnvAsDuration("MAIL_SEND_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

func gatewayFromEnv(prefix string) GatewayConfig {
	return GatewayConfig{
		BaseURL:     getEnv(prefix+"_BASE_URL", ""),
		CheckoutURL: getEnv(prefix+"_CHECKOUT_URL", ""),
		SiteID:      getEnv(prefix+"_SITE_ID", ""),
		APIKey:      getEnv(prefix+"_API_KEY", ""),
		Secret:      getEnv(prefix+"_SECRET", ""),
		Timeout:     getEnvAsDuration(prefix+"_TIMEOUT", 10*time.Second),
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Gateways.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateways config: %v", err))
	}

	if err := c.Reconciliation.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("reconciliation config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.AccessTokenSecret) < 32 {
		return errors.New("access token secret must be at least 32 characters")
	}
	if len(c.RefreshTokenSecret) < 32 {
		return errors.New("refresh token secret must be at least 32 characters")
	}
	if c.BCryptCost < 10 || c.BCryptCost > 15 {
		return errors.New("bcrypt cost must be between 10 and 15")
	}
	return nil
}

func (c *GatewaysConfig) Validate() error {
	for name, gw := range map[string]GatewayConfig{
		"cinetpay": c.CinetPay,
		"notchpay": c.NotchPay,
		"paypal":   c.PayPal,
		"fapshi":   c.Fapshi,
	} {
		if gw.BaseURL == "" {
			continue // provider not enabled
		}
		if _, err := url.Parse(gw.BaseURL); err != nil {
			return fmt.Errorf("invalid %s base_url: %w", name, err)
		}
		if gw.Timeout <= 0 {
			return fmt.Errorf("%s timeout must be positive", name)
		}
	}
	return nil
}

func (c *ReconciliationConfig) Validate() error {
	if c.PendingTTL <= 0 {
		return errors.New("pending_ttl must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep_interval must be positive")
	}
	return nil
}
