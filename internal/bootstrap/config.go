package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/herald-notify/herald/config"
	"github.com/joho/godotenv"
)

// InitLogger installs a JSON slog handler as the process default.
func InitLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}

// LoadConfig reads configuration from the environment, layering in a .env
// file when one exists. A missing .env is normal outside development.
func LoadConfig() (config.AppConfig, error) {
	var cfg config.AppConfig

	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return cfg, fmt.Errorf("load .env file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig rejects configurations that would start no services.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if len(services) == 0 {
		return errors.New("no services enabled")
	}
	return nil
}

var serviceModeNames = map[config.ServiceMode]string{
	config.ServiceModeWorker: "worker",
	config.ServiceModeReaper: "reaper",
}

// GetEnabledServices lists the enabled service names for startup logging.
// Invalid configuration yields an empty list; ValidateServiceConfig reports
// the actual error.
func GetEnabledServices(cfg *config.AppConfig) []string {
	names := []string{}
	if cfg == nil {
		return names
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return names
	}
	for mode := range services {
		if name, ok := serviceModeNames[mode]; ok {
			names = append(names, name)
		}
	}
	return names
}
