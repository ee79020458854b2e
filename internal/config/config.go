package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

type ServerConfig struct {
	Port              string `mapstructure:"port"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_sec"`
	StaticDir         string `mapstructure:"static_dir"`
}

type ProvidersConfig struct {
	Robinhood RobinhoodConfig `mapstructure:"robinhood"`
	Yahoo     YahooConfig     `mapstructure:"yahoo"`
	FinanceGo FinanceGoConfig `mapstructure:"financego"`
}

// Window is the days-to-expiration filter a provider path applies to the
// chain. Bounds differ per path and are inclusive.
type Window struct {
	MinDTE int `mapstructure:"min_dte"`
	MaxDTE int `mapstructure:"max_dte"`
}

type RobinhoodConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BaseURL    string `mapstructure:"base_url"`
	ClientID   string `mapstructure:"client_id"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
	FetchCap   int    `mapstructure:"fetch_cap"`
	Workers    int    `mapstructure:"workers"`
	Window     `mapstructure:",squash"`
}

type YahooConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BaseURL    string `mapstructure:"base_url"`
	CrumbURL   string `mapstructure:"crumb_url"`
	CookieURL  string `mapstructure:"cookie_url"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
	RatePerSec int    `mapstructure:"rate_per_sec"`
	FetchCap   int    `mapstructure:"fetch_cap"`
	Workers    int    `mapstructure:"workers"`
	Window     `mapstructure:",squash"`
}

type FinanceGoConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	FetchCap int  `mapstructure:"fetch_cap"`
	Workers  int  `mapstructure:"workers"`
	Window   `mapstructure:",squash"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.request_timeout_sec", 30)
	v.SetDefault("server.static_dir", "web")

	v.SetDefault("providers.robinhood.enabled", true)
	v.SetDefault("providers.robinhood.base_url", "https://api.robinhood.com")
	v.SetDefault("providers.robinhood.timeout_sec", 15)
	v.SetDefault("providers.robinhood.fetch_cap", 8)
	v.SetDefault("providers.robinhood.workers", 3)
	v.SetDefault("providers.robinhood.min_dte", 30)
	v.SetDefault("providers.robinhood.max_dte", 90)

	v.SetDefault("providers.yahoo.enabled", true)
	v.SetDefault("providers.yahoo.timeout_sec", 15)
	v.SetDefault("providers.yahoo.rate_per_sec", 5)
	v.SetDefault("providers.yahoo.fetch_cap", 3)
	v.SetDefault("providers.yahoo.workers", 3)
	v.SetDefault("providers.yahoo.min_dte", 20)
	v.SetDefault("providers.yahoo.max_dte", 60)

	v.SetDefault("providers.financego.enabled", true)
	v.SetDefault("providers.financego.fetch_cap", 3)
	v.SetDefault("providers.financego.workers", 3)
	v.SetDefault("providers.financego.min_dte", 20)
	v.SetDefault("providers.financego.max_dte", 60)

	// Environment variable support
	v.SetEnvPrefix("OPTIONSPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind the keys deployments usually set via env
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("providers.robinhood.client_id", "ROBINHOOD_CLIENT_ID")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.RequestTimeoutSec < 1 {
		return fmt.Errorf("server.request_timeout_sec must be >= 1")
	}
	if err := validateProvider("robinhood", c.Providers.Robinhood.Window, c.Providers.Robinhood.Workers, c.Providers.Robinhood.FetchCap); err != nil {
		return err
	}
	if err := validateProvider("yahoo", c.Providers.Yahoo.Window, c.Providers.Yahoo.Workers, c.Providers.Yahoo.FetchCap); err != nil {
		return err
	}
	if err := validateProvider("financego", c.Providers.FinanceGo.Window, c.Providers.FinanceGo.Workers, c.Providers.FinanceGo.FetchCap); err != nil {
		return err
	}
	return nil
}

func validateProvider(name string, w Window, workers, fetchCap int) error {
	if w.MinDTE > w.MaxDTE {
		return fmt.Errorf("%s: min_dte %d must not exceed max_dte %d", name, w.MinDTE, w.MaxDTE)
	}
	if workers < 1 {
		return fmt.Errorf("%s: workers must be >= 1", name)
	}
	if fetchCap < 0 {
		return fmt.Errorf("%s: fetch_cap must be >= 0", name)
	}
	return nil
}
