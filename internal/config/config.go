package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/meterline/meterline/internal/types"
)

type Configuration struct {
	SQLite  SQLiteConfig  `validate:"required"`
	Billing BillingConfig `validate:"required"`
	Stripe  StripeConfig
	Logging LoggingConfig `validate:"required"`
}

type SQLiteConfig struct {
	// Path is the database file, e.g. ./meterline.db. ":memory:" is
	// accepted for throwaway runs.
	Path string `validate:"required"`
}

type BillingConfig struct {
	Currency string `validate:"required,len=3"`
	DueDays  int    `validate:"gt=0"`
	// ReservationStaleness is how long an event may sit in reserved state
	// before the sweep treats its reservation as abandoned by a crashed
	// orchestrator.
	ReservationStaleness time.Duration `validate:"gt=0"`
}

type StripeConfig struct {
	// SecretKey is passed to the gateway client at construction; there is
	// no process-wide mutable credential.
	SecretKey string
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/meterline")

	v.SetEnvPrefix("METERLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	v.SetDefault("sqlite.path", "meterline.db")
	v.SetDefault("billing.currency", "usd")
	v.SetDefault("billing.duedays", 14)
	v.SetDefault("billing.reservationstaleness", "30m")
	v.SetDefault("logging.level", "info")

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Configuration) Validate() error {
	if !c.Logging.Level.Validate() {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	return validator.New().Struct(c)
}

// GetDefaultConfig returns a configuration suitable for tests.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		SQLite: SQLiteConfig{Path: ":memory:"},
		Billing: BillingConfig{
			Currency:             "usd",
			DueDays:              14,
			ReservationStaleness: 30 * time.Minute,
		},
		Logging: LoggingConfig{Level: types.LogLevelInfo},
	}
}
