package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the escrow exchange.
type Config struct {
	Port                  int
	LogLevel              string
	LedgerPath            string
	EngineAddress         string
	CustodyAddress        string
	Denom                 string
	CloseSaleOnTrade      bool
	ApprovalSweepInterval time.Duration
	WebhookTimeout        time.Duration
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	IdleTimeout           time.Duration
	ShutdownTimeout       time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	engineAddress := getStr("ENGINE_ADDRESS", "escrow-engine")
	custodyAddress := getStr("CUSTODY_ADDRESS", "escrow-custody")
	if engineAddress == custodyAddress {
		return nil, fmt.Errorf("invalid CUSTODY_ADDRESS: %q, must differ from ENGINE_ADDRESS", custodyAddress)
	}

	closeSaleOnTrade, err := getBool("CLOSE_SALE_ON_TRADE", false)
	if err != nil {
		return nil, fmt.Errorf("invalid CLOSE_SALE_ON_TRADE: %w", err)
	}

	sweepInterval, err := getDuration("APPROVAL_SWEEP_INTERVAL", 1*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid APPROVAL_SWEEP_INTERVAL: %w", err)
	}
	if sweepInterval <= 0 {
		return nil, fmt.Errorf("invalid APPROVAL_SWEEP_INTERVAL: %v, must be positive", sweepInterval)
	}

	webhookTimeout, err := getDuration("WEBHOOK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:                  port,
		LogLevel:              logLevel,
		LedgerPath:            os.Getenv("LEDGER_PATH"),
		EngineAddress:         engineAddress,
		CustodyAddress:        custodyAddress,
		Denom:                 getStr("DENOM", "uawesome"),
		CloseSaleOnTrade:      closeSaleOnTrade,
		ApprovalSweepInterval: sweepInterval,
		WebhookTimeout:        webhookTimeout,
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		IdleTimeout:           idleTimeout,
		ShutdownTimeout:       shutdownTimeout,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseBool(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
