package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	ClassEvent   = "event"
	ClassDataSet = "data_set"
)

// FormExport names a Meerkat form and the DHIS2 export class it maps to.
// The class of a form is fixed for the lifetime of the mapping; changing
// it requires manual cleanup on the DHIS2 side.
type FormExport struct {
	Name  string
	Class string
}

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	MeerkatAPIURL       string `mapstructure:"MEERKAT_API_URL"`
	MeerkatAuthURL      string `mapstructure:"MEERKAT_AUTH_URL"`
	MeerkatAuthUsername string `mapstructure:"MEERKAT_AUTH_USERNAME"`
	MeerkatAuthPassword string `mapstructure:"MEERKAT_AUTH_PASSWORD"`

	DHIS2URL         string `mapstructure:"DHIS2_URL"`
	DHIS2APIResource string `mapstructure:"DHIS2_API_RESOURCE"`
	DHIS2Username    string `mapstructure:"DHIS2_USERNAME"`
	DHIS2Password    string `mapstructure:"DHIS2_PASSWORD"`

	CountryLocationID int `mapstructure:"COUNTRY_LOCATION_ID"`

	// FORM_EXPORTS is a comma-separated list of name:class pairs, e.g.
	// "demo_case:event,demo_register:data_set".
	FormExportsRaw string `mapstructure:"FORM_EXPORTS"`

	ExportWorkers   int `mapstructure:"EXPORT_WORKERS"`
	ExportQueueSize int `mapstructure:"EXPORT_QUEUE_SIZE"`
	UIDBatchSize    int `mapstructure:"UID_BATCH_SIZE"`

	LogLevel string `mapstructure:"LOG_LEVEL"`

	FormExports []FormExport `mapstructure:"-"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("MEERKAT_API_URL", "http://nginx/api")
	v.SetDefault("DHIS2_API_RESOURCE", "/api/29")
	v.SetDefault("COUNTRY_LOCATION_ID", 1)
	v.SetDefault("EXPORT_WORKERS", 4)
	v.SetDefault("EXPORT_QUEUE_SIZE", 64)
	v.SetDefault("UID_BATCH_SIZE", 100)
	v.SetDefault("LOG_LEVEL", "info")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("MEERKAT_API_URL")
	v.BindEnv("MEERKAT_AUTH_URL")
	v.BindEnv("MEERKAT_AUTH_USERNAME")
	v.BindEnv("MEERKAT_AUTH_PASSWORD")
	v.BindEnv("DHIS2_URL")
	v.BindEnv("DHIS2_API_RESOURCE")
	v.BindEnv("DHIS2_USERNAME")
	v.BindEnv("DHIS2_PASSWORD")
	v.BindEnv("COUNTRY_LOCATION_ID")
	v.BindEnv("FORM_EXPORTS")
	v.BindEnv("EXPORT_WORKERS")
	v.BindEnv("EXPORT_QUEUE_SIZE")
	v.BindEnv("UID_BATCH_SIZE")
	v.BindEnv("LOG_LEVEL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	exports, err := ParseFormExports(cfg.FormExportsRaw)
	if err != nil {
		return nil, err
	}
	cfg.FormExports = exports

	return cfg, nil
}

// ParseFormExports parses the FORM_EXPORTS value into form/class pairs.
func ParseFormExports(raw string) ([]FormExport, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []FormExport
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, class, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("FORM_EXPORTS entry %q is not name:class", pair)
		}
		name = strings.TrimSpace(name)
		class = strings.TrimSpace(class)
		if name == "" {
			return nil, fmt.Errorf("FORM_EXPORTS entry %q has an empty form name", pair)
		}
		if class != ClassEvent && class != ClassDataSet {
			return nil, fmt.Errorf("FORM_EXPORTS entry %q: class must be %q or %q", pair, ClassEvent, ClassDataSet)
		}
		out = append(out, FormExport{Name: name, Class: class})
	}
	return out, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. The service is a
// bridge between two remote systems; it refuses to start without both.
func (c *Config) Validate() error {
	if c.DHIS2URL == "" {
		return fmt.Errorf("DHIS2_URL is required")
	}
	if c.MeerkatAPIURL == "" {
		return fmt.Errorf("MEERKAT_API_URL is required")
	}
	if c.ExportWorkers <= 0 {
		return fmt.Errorf("EXPORT_WORKERS must be positive, got %d", c.ExportWorkers)
	}
	if c.ExportQueueSize <= 0 {
		return fmt.Errorf("EXPORT_QUEUE_SIZE must be positive, got %d", c.ExportQueueSize)
	}
	if c.UIDBatchSize <= 0 {
		return fmt.Errorf("UID_BATCH_SIZE must be positive, got %d", c.UIDBatchSize)
	}
	return nil
}
