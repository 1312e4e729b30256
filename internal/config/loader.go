package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/beerduel/internal/domain/level"
	"github.com/okian/beerduel/internal/domain/rating"
)

const (
	envPrefix  = "BEERDUEL_"
	envFileVar = "BEERDUEL_ENV_FILE"
	configVar  = "BEERDUEL_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if BEERDUEL_CONFIG is set
//  3. .env file (BEERDUEL_ENV_FILE, default ".env") merged into the environment
//  4. env (prefix BEERDUEL_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	// Variables already set in the process win over the .env file.
	envFile := os.Getenv(envFileVar)
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: env file %s: %w", ErrLoadConfig, envFile, err)
	}

	k := koanf.New(".")

	if path := os.Getenv(configVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// BEERDUEL_QUEUE_SIZE -> queue_size (flat keys).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	// Lists from the file replace the defaults instead of merging into them.
	if k.Exists("levels") {
		cfg.Levels = nil
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the domain tables built from them.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Shares().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := level.NewTable(c.Levels); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Updater(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Updater builds the rating updater described by the config.
func (c *Config) Updater() (*rating.Updater, error) {
	opts := []rating.Option{
		rating.WithKFactor(c.KFactor),
		rating.WithBounds(c.MinRating, c.MaxRating),
	}
	if len(c.KSchedule) > 0 {
		opts = append(opts, rating.WithSchedule(c.KSchedule))
	}
	return rating.NewUpdater(opts...)
}
