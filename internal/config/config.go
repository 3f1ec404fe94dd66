package config

import (
	"fmt"
	"os"
	"strconv"

	"symphonybacktest/internal/domain"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Db struct {
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Host      string `yaml:"host"`
	Port      string `yaml:"port"`
	Database  string `yaml:"database"`
	EnableSsl bool   `yaml:"enableSsl"`
}

func (d Db) Enabled() bool {
	return d.Host != ""
}

func (d Db) ToConnectionStr() string {
	s := fmt.Sprintf("user=%s password=%s host=%s port=%s dbname=%s", d.User, d.Password, d.Host, d.Port, d.Database)
	if !d.EnableSsl {
		s += " sslmode=disable"
	}
	return s
}

type Alpaca struct {
	ApiKey    string `yaml:"apiKey"`
	ApiSecret string `yaml:"apiSecret"`
	Endpoint  string `yaml:"endpoint"`
}

func (a Alpaca) Enabled() bool {
	return a.ApiKey != "" && a.ApiSecret != ""
}

// ScheduledStrategy is a strategy file evaluated on a cron schedule.
type ScheduledStrategy struct {
	Name   string  `yaml:"name" validate:"required"`
	Path   string  `yaml:"path" validate:"required"`
	Cron   string  `yaml:"cron" validate:"required"`
	Budget float64 `yaml:"budget" validate:"gte=0"`
}

type Config struct {
	Db     Db     `yaml:"db"`
	Alpaca Alpaca `yaml:"alpaca"`
	Prices struct {
		Source domain.PriceSource `yaml:"source" validate:"omitempty,oneof=memory cache csv alpaca yahoo"`
		CsvDir string             `yaml:"csvDir"`
	} `yaml:"prices"`
	Api struct {
		Port int `yaml:"port" validate:"gte=0,lte=65535"`
	} `yaml:"api"`
	Options    domain.Options      `yaml:"options"`
	Strategies []ScheduledStrategy `yaml:"strategies" validate:"dive"`
}

// Load reads path when it exists, then applies environment overrides
// and defaults. A missing file is not an error so the binaries can run
// from environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if cfg.Prices.Source == "" {
		cfg.Prices.Source = domain.PriceSource_Yahoo
		if cfg.Alpaca.Enabled() {
			cfg.Prices.Source = domain.PriceSource_Alpaca
		}
	}
	if cfg.Alpaca.Endpoint == "" {
		cfg.Alpaca.Endpoint = "https://data.alpaca.markets"
	}
	if cfg.Db.Port == "" {
		cfg.Db.Port = "5432"
	}
	if cfg.Api.Port == 0 {
		cfg.Api.Port = 3009
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SYMPHONY_DB_HOST"); v != "" {
		cfg.Db.Host = v
	}
	if v := os.Getenv("SYMPHONY_DB_PORT"); v != "" {
		cfg.Db.Port = v
	}
	if v := os.Getenv("SYMPHONY_DB_USER"); v != "" {
		cfg.Db.User = v
	}
	if v := os.Getenv("SYMPHONY_DB_PASSWORD"); v != "" {
		cfg.Db.Password = v
	}
	if v := os.Getenv("SYMPHONY_DB_NAME"); v != "" {
		cfg.Db.Database = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.ApiKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.ApiSecret = v
	}
	if v := os.Getenv("SYMPHONY_PRICE_SOURCE"); v != "" {
		cfg.Prices.Source = domain.PriceSource(v)
	}
	if v := os.Getenv("SYMPHONY_CSV_DIR"); v != "" {
		cfg.Prices.CsvDir = v
	}
	if v := os.Getenv("SYMPHONY_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Api.Port = port
		}
	}
}
