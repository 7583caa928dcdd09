// Package config loads the server configuration from a YAML file, an
// optional .env file and the environment, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/iliamunaev/paper-order-pipeline/internal/logging"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  logging.Config `yaml:"logging"`
	Store    StoreConfig    `yaml:"store"`
	LLM      LLMConfig      `yaml:"llm"`
	Payment  PaymentConfig  `yaml:"payment"`
	Sources  SourcesConfig  `yaml:"sources"`
	Telegram TelegramConfig `yaml:"telegram"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig configures the order database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig configures the text generation provider.
type LLMConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// PaymentConfig configures the payment gateway.
type PaymentConfig struct {
	ShopID            string   `yaml:"shop_id"`
	SecretKey         string   `yaml:"secret_key"`
	BaseURL           string   `yaml:"base_url"`
	ReturnURL         string   `yaml:"return_url"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	TestUsers         []string `yaml:"test_users"`
	// ReceiptContact is used on receipts when the user supplied none.
	ReceiptContact string `yaml:"receipt_contact"`
}

// SourcesConfig configures the reference lookup.
type SourcesConfig struct {
	Token      string `yaml:"token"`
	WorkflowID string `yaml:"workflow_id"`
	URL        string `yaml:"url"`
}

// TelegramConfig configures outbound notifications.
type TelegramConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
	Retries int    `yaml:"retries"`
}

// PipelineConfig holds the order pipeline limits.
type PipelineConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	ReconcileTimeout time.Duration `yaml:"reconcile_timeout"`
	RateLimit        int           `yaml:"rate_limit"`
	RateWindow       time.Duration `yaml:"rate_window"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	Organization     string        `yaml:"organization"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: logging.Config{Format: "auto", Level: "info", Component: "paper-orders"},
		Store:   StoreConfig{Path: "data/orders.db"},
		LLM:     LLMConfig{Model: "gpt-4o-mini", Timeout: 3 * time.Minute},
		Payment: PaymentConfig{RequestsPerSecond: 5, Burst: 5},
		Telegram: TelegramConfig{
			Retries: 2,
		},
		Pipeline: PipelineConfig{
			Concurrency:      10,
			PollInterval:     5 * time.Second,
			ReconcileTimeout: 2 * time.Hour,
			RateLimit:        5,
			RateWindow:       time.Hour,
			SessionTTL:       30 * time.Minute,
		},
	}
}

// Load builds the configuration. A missing YAML file is not an error; a
// missing explicit env file is.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Warn().Str("path", path).Msg("config file not found, using defaults")
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
		log.Info().Str("file", envFile).Msg("loaded env file")
	} else if err := godotenv.Load(); err == nil {
		log.Info().Msg("loaded .env from current directory")
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"SERVER_ADDR":         &c.Server.Addr,
		"LOG_LEVEL":           &c.Logging.Level,
		"LOG_FORMAT":          &c.Logging.Format,
		"LOG_FILE":            &c.Logging.FilePath,
		"STORE_PATH":          &c.Store.Path,
		"LLM_API_KEY":         &c.LLM.APIKey,
		"LLM_BASE_URL":        &c.LLM.BaseURL,
		"LLM_MODEL":           &c.LLM.Model,
		"YOOKASSA_SHOP_ID":    &c.Payment.ShopID,
		"YOOKASSA_SECRET_KEY": &c.Payment.SecretKey,
		"YOOKASSA_BASE_URL":   &c.Payment.BaseURL,
		"PAYMENT_RETURN_URL":  &c.Payment.ReturnURL,
		"RECEIPT_CONTACT":     &c.Payment.ReceiptContact,
		"COZE_API_TOKEN":      &c.Sources.Token,
		"COZE_WORKFLOW_ID":    &c.Sources.WorkflowID,
		"COZE_API_URL":        &c.Sources.URL,
		"TELEGRAM_BOT_TOKEN":  &c.Telegram.Token,
		"TELEGRAM_API_URL":    &c.Telegram.BaseURL,
		"ORGANIZATION":        &c.Pipeline.Organization,
	}
	for k, p := range str {
		if v, ok := os.LookupEnv(k); ok {
			*p = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"GENERATION_CONCURRENCY": &c.Pipeline.Concurrency,
		"RATE_LIMIT":             &c.Pipeline.RateLimit,
	}
	for k, p := range ints {
		if v, ok := os.LookupEnv(k); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s: %w", k, err)
			}
			*p = n
		}
	}

	durs := map[string]*time.Duration{
		"POLL_INTERVAL":     &c.Pipeline.PollInterval,
		"RECONCILE_TIMEOUT": &c.Pipeline.ReconcileTimeout,
		"SESSION_TTL":       &c.Pipeline.SessionTTL,
	}
	for k, p := range durs {
		if v, ok := os.LookupEnv(k); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid %s: %w", k, err)
			}
			*p = d
		}
	}

	if v, ok := os.LookupEnv("TEST_USERS"); ok {
		c.Payment.TestUsers = nil
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				c.Payment.TestUsers = append(c.Payment.TestUsers, u)
			}
		}
	}
	return nil
}

// Validate checks ranges and required settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("LLM API key not configured (set LLM_API_KEY)"))
	}
	if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 128 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency must be in [1, 128], got %d", c.Pipeline.Concurrency))
	}
	if c.Pipeline.PollInterval <= 0 {
		errs = append(errs, errors.New("pipeline.poll_interval must be positive"))
	}
	if c.Pipeline.ReconcileTimeout < c.Pipeline.PollInterval {
		errs = append(errs, errors.New("pipeline.reconcile_timeout must be at least one poll interval"))
	}
	if c.Pipeline.RateLimit < 1 {
		errs = append(errs, errors.New("pipeline.rate_limit must be positive"))
	}
	if c.Pipeline.RateWindow <= 0 {
		errs = append(errs, errors.New("pipeline.rate_window must be positive"))
	}
	if (c.Payment.ShopID == "") != (c.Payment.SecretKey == "") {
		errs = append(errs, errors.New("payment.shop_id and payment.secret_key must be set together"))
	}
	return errors.Join(errs...)
}

// LivePayments reports whether real gateway credentials are configured.
func (c *Config) LivePayments() bool {
	return c.Payment.ShopID != "" && c.Payment.SecretKey != ""
}
