package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/surveysgeo/fieldagent/internal/geo"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:"127.0.0.1:8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/surveysgeo.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	APIBaseURL string        `env:"API_BASE_URL" envDefault:"http://192.168.6.225/surveys-api"`
	APITimeout time.Duration `env:"API_TIMEOUT" envDefault:"15s"`

	MinDistanceMeters float64       `env:"MIN_DISTANCE_METERS" envDefault:"80"`
	AutoRefresh       bool          `env:"AUTO_REFRESH" envDefault:"false"`
	RefreshInterval   time.Duration `env:"REFRESH_INTERVAL" envDefault:"10s"`
	LocationTimeout   time.Duration `env:"LOCATION_TIMEOUT" envDefault:"15s"`
	FixMaxAge         time.Duration `env:"FIX_MAX_AGE" envDefault:"5s"`

	// StorageKey is 64 hex characters. Empty leaves credentials unsealed.
	StorageKey          string `env:"STORAGE_KEY"`
	DeviceFixedPosition string `env:"DEVICE_FIXED_POSITION"`

	// WebDir holds a built web app to serve at /. Empty disables it.
	WebDir string `env:"WEB_DIR"`
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.MinDistanceMeters <= 0 {
		errs = append(errs, fmt.Errorf("MIN_DISTANCE_METERS must be positive, got %v", c.MinDistanceMeters))
	}
	for name, d := range map[string]time.Duration{
		"API_TIMEOUT":      c.APITimeout,
		"REFRESH_INTERVAL": c.RefreshInterval,
		"LOCATION_TIMEOUT": c.LocationTimeout,
		"FIX_MAX_AGE":      c.FixMaxAge,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if _, err := c.Key(); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := c.FixedPosition(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Key decodes StorageKey. It returns nil when no key is configured.
func (c Config) Key() (*[32]byte, error) {
	if c.StorageKey == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(c.StorageKey)
	if err != nil || len(b) != 32 {
		return nil, errors.New("STORAGE_KEY must be 64 hex characters")
	}
	var key [32]byte
	copy(key[:], b)
	return &key, nil
}

// FixedPosition parses DeviceFixedPosition. ok is false when it is unset.
func (c Config) FixedPosition() (geo.Coordinate, bool, error) {
	if c.DeviceFixedPosition == "" {
		return geo.Coordinate{}, false, nil
	}
	pos, err := geo.Parse(c.DeviceFixedPosition)
	if err != nil {
		return geo.Coordinate{}, false, fmt.Errorf("DEVICE_FIXED_POSITION: %w", err)
	}
	return pos, true, nil
}
