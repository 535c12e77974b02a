package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("STATEBUS_CONFIG", "configs/statebus.json"),
		"Path to configuration file (env: STATEBUS_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("STATEBUS_CONFIG", "configs/statebus.json"),
		"Path to configuration file (env: STATEBUS_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("STATEBUS_LOG_LEVEL", ""),
		"Log level override: debug, info, warn, error (env: STATEBUS_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("STATEBUS_LOG_FORMAT", ""),
		"Log format override: json, text (env: STATEBUS_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("STATEBUS_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: STATEBUS_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printHelp

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}

	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	switch cfg.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive: %s", cfg.ShutdownTimeout)
	}

	return nil
}

func printHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Path-addressable versioned state bus

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with custom config
  %s --config=/path/to/statebus.json

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Validate configuration only
  %s --validate

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
