// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with GUARDLANE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or GUARDLANE_DATA_DATABASE_SOURCE: MySQL connection string
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with GUARDLANE_ prefix
	v.SetEnvPrefix("GUARDLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without GUARDLANE_ prefix) for compatibility
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "GUARDLANE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "GUARDLANE_DATA_REDIS_ADDR")
	_ = v.BindEnv("security.encryption_key", "GUARDLANE_ENCRYPTION_KEY")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Budget: &Budget{
			DefaultAccountLimit: v.GetInt64("budget.default_account_limit"),
			DecisionTtl:         durationpb.New(v.GetDuration("budget.decision_ttl")),
		},
		Retry: &Retry{
			MaxAttempts:  v.GetInt32("retry.max_attempts"),
			BackoffBase:  durationpb.New(v.GetDuration("retry.backoff_base")),
			BackoffMax:   durationpb.New(v.GetDuration("retry.backoff_max")),
			PollInterval: durationpb.New(v.GetDuration("retry.poll_interval")),
			Workers:      v.GetInt32("retry.workers"),
		},
		Governance: &Governance{
			UpdateLogRetention: durationpb.New(v.GetDuration("governance.update_log_retention")),
		},
		Security: &Security{
			EncryptionKey: v.GetString("security.encryption_key"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Budget defaults
	v.SetDefault("budget.default_account_limit", int64(1_000_000))
	v.SetDefault("budget.decision_ttl", 5*time.Minute)

	// Retry defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_base", 1*time.Second)
	v.SetDefault("retry.backoff_max", 5*time.Minute)
	v.SetDefault("retry.poll_interval", 1*time.Second)
	v.SetDefault("retry.workers", 4)

	// Governance defaults
	v.SetDefault("governance.update_log_retention", 7*24*time.Hour)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing or invalid required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	// Check required database configuration
	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	if bc.Budget == nil || bc.Budget.DefaultAccountLimit <= 0 {
		missingFields = append(missingFields, "budget.default_account_limit (must be > 0)")
	}

	if bc.Retry == nil || bc.Retry.MaxAttempts <= 0 {
		missingFields = append(missingFields, "retry.max_attempts (must be > 0)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	return nil
}
