package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"procodus.dev/busdealer/pkg/dealer"
	"procodus.dev/busdealer/pkg/logger"
)

// InitConfig initializes Viper configuration.
// It supports reading from config files (config.yaml) and environment variables.
func InitConfig(cfgFile string) error {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory and /etc/busdealer/
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/busdealer/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Environment variables, e.g. BUSDEALER_DEALER_CONNECTION_STRING
	viper.SetEnvPrefix("BUSDEALER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates a slog.Logger based on configuration. Logs go to
// stderr so command output on stdout stays machine readable.
func GetLogger() *slog.Logger {
	return logger.New(&logger.Config{
		Output: os.Stderr,
		Level:  logger.ParseLevel(viper.GetString("log.level")),
		Format: logger.ParseFormat(viper.GetString("log.format")),
	})
}

// DealerConfig builds the dealer configuration from flags, file and env.
func DealerConfig() (dealer.Config, error) {
	backend, err := dealer.ParseBackend(viper.GetString("dealer.backend"))
	if err != nil {
		return dealer.Config{}, err
	}

	cfg := dealer.Config{
		Backend:          backend,
		ConnectionString: viper.GetString("dealer.connection_string"),
		QueueName:        viper.GetString("dealer.queue_name"),
		ReceiveWait:      viper.GetDuration("dealer.receive_wait"),
		HandleWait:       viper.GetDuration("dealer.handle_wait"),
	}
	if err := cfg.Validate(); err != nil {
		return dealer.Config{}, err
	}
	return cfg, nil
}
