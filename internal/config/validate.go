package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Encryption key ring: each key must be exactly 64 hex chars (32 bytes)
	if c.Encryption.Keys == "" {
		errs = append(errs, "ENCRYPTION_KEYS is required")
	} else {
		for i, key := range strings.Split(c.Encryption.Keys, ",") {
			key = strings.TrimSpace(key)
			if len(key) != 64 {
				errs = append(errs, fmt.Sprintf("ENCRYPTION_KEYS[%d] must be exactly 64 hex characters (32 bytes)", i))
			} else if _, err := hex.DecodeString(key); err != nil {
				errs = append(errs, fmt.Sprintf("ENCRYPTION_KEYS[%d] must be valid hex", i))
			}
		}
	}

	// LLM credentials
	if c.LLM.APIKey == "" {
		errs = append(errs, "LLM_API_KEY is required")
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, "LLM_TIMEOUT must be positive")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Memory thresholds
	if c.Memory.ConfidenceThreshold < 0 || c.Memory.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("MEMORY_CONFIDENCE_THRESHOLD must be 0–1, got %g", c.Memory.ConfidenceThreshold))
	}
	if c.Memory.BackgroundConcurrency < 1 {
		errs = append(errs, "MEMORY_BACKGROUND_CONCURRENCY must be at least 1")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
