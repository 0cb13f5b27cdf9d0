package infra

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"crypto_agents/internal/domain"
)

// Config holds every application setting. Secrets may be overridden
// through environment variables after the file is loaded.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Limits      domain.RiskLimits `yaml:"limits"`
		OrderSize   decimal.Decimal   `yaml:"order_size"`
		DayBoundary string            `yaml:"day_boundary"` // IANA zone for the daily P&L reset
	} `yaml:"trading"`

	Feed struct {
		Mode            string `yaml:"mode"` // "rest" | "ws"
		RestURL         string `yaml:"rest_url"`
		WSURL           string `yaml:"ws_url"`
		PollIntervalSec int    `yaml:"poll_interval_sec"`
	} `yaml:"feed"`

	Exchange struct {
		Mode      string `yaml:"mode"` // "paper" | "live"
		RestURL   string `yaml:"rest_url"`
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
	} `yaml:"exchange"`

	Agents struct {
		Scanner struct {
			Enabled           bool            `yaml:"enabled"`
			IntervalSec       int             `yaml:"interval_sec"`
			MomentumThreshold decimal.Decimal `yaml:"momentum_threshold"`
		} `yaml:"scanner"`
		Depth struct {
			Enabled            bool            `yaml:"enabled"`
			IntervalSec        int             `yaml:"interval_sec"`
			ImbalanceThreshold decimal.Decimal `yaml:"imbalance_threshold"`
		} `yaml:"depth"`
		Indicator struct {
			Enabled     bool `yaml:"enabled"`
			IntervalSec int  `yaml:"interval_sec"`
		} `yaml:"indicator"`
		Execution struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"execution"`
	} `yaml:"agents"`

	Bus struct {
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"bus"`

	Reconcile struct {
		IntervalSec    int `yaml:"interval_sec"`
		GracePeriodSec int `yaml:"grace_period_sec"`
	} `yaml:"reconcile"`

	Storage struct {
		Path string `yaml:"path"` // sqlite file, empty = default location
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Feed.Mode == "" {
		c.Feed.Mode = "rest"
	}
	if c.Exchange.Mode == "" {
		c.Exchange.Mode = "paper"
	}
	if c.Trading.DayBoundary == "" {
		c.Trading.DayBoundary = "UTC"
	}
	if c.Feed.PollIntervalSec <= 0 {
		c.Feed.PollIntervalSec = 2
	}
	if c.Bus.BufferSize <= 0 {
		c.Bus.BufferSize = 256
	}
	if c.Reconcile.IntervalSec <= 0 {
		c.Reconcile.IntervalSec = 5
	}
	if c.Reconcile.GracePeriodSec <= 0 {
		c.Reconcile.GracePeriodSec = 60
	}
	if c.Agents.Scanner.IntervalSec <= 0 {
		c.Agents.Scanner.IntervalSec = 2
	}
	if c.Agents.Depth.IntervalSec <= 0 {
		c.Agents.Depth.IntervalSec = 3
	}
	if c.Agents.Indicator.IntervalSec <= 0 {
		c.Agents.Indicator.IntervalSec = 2
	}
}

// Validate checks configuration validity. Configuration problems are
// fatal at startup, never at runtime.
func (c *Config) Validate() error {
	if err := c.Trading.Limits.Validate(); err != nil {
		return err
	}
	if c.Trading.OrderSize.Sign() <= 0 {
		return &domain.ConfigError{Field: "order_size", Err: fmt.Errorf("must be positive, got %s", c.Trading.OrderSize)}
	}
	if c.Trading.OrderSize.GreaterThan(c.Trading.Limits.MaxOrderSize) {
		return &domain.ConfigError{Field: "order_size", Err: fmt.Errorf("exceeds max_order_size %s", c.Trading.Limits.MaxOrderSize)}
	}
	if _, err := time.LoadLocation(c.Trading.DayBoundary); err != nil {
		return &domain.ConfigError{Field: "day_boundary", Err: err}
	}

	switch c.Feed.Mode {
	case "rest", "ws":
	default:
		return &domain.ConfigError{Field: "feed.mode", Err: fmt.Errorf("must be 'rest' or 'ws', got %q", c.Feed.Mode)}
	}
	if c.Feed.Mode == "ws" && !hasPrefix(c.Feed.WSURL, "ws://") && !hasPrefix(c.Feed.WSURL, "wss://") {
		return &domain.ConfigError{Field: "feed.ws_url", Err: fmt.Errorf("invalid websocket URL: %q", c.Feed.WSURL)}
	}

	switch c.Exchange.Mode {
	case "paper":
	case "live":
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return &domain.ConfigError{Field: "exchange", Err: fmt.Errorf("live mode requires api_key and api_secret")}
		}
	default:
		return &domain.ConfigError{Field: "exchange.mode", Err: fmt.Errorf("must be 'paper' or 'live', got %q", c.Exchange.Mode)}
	}

	return nil
}

// DayBoundaryLocation returns the timezone in which the trading day
// rolls over. Validate guarantees it parses.
func (c *Config) DayBoundaryLocation() *time.Location {
	loc, err := time.LoadLocation(c.Trading.DayBoundary)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsLive reports whether real exchange trading is configured.
func (c *Config) IsLive() bool {
	return c.Exchange.Mode == "live" && c.Exchange.APIKey != "" && c.Exchange.APISecret != ""
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv replaces secrets when environment variables are set.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("CRYPTO_KRAKEN_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("CRYPTO_KRAKEN_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
}
