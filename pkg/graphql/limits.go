package graphql

import (
	"fmt"
)

// LimitConfig defines limits for connection page sizes
type LimitConfig struct {
	DefaultLimit int // Page size when neither first nor last is given
	MaxLimit     int // Maximum allowed page size
	MaxDepth     int // Maximum selection depth, 0 disables the check
}

// DefaultLimitConfig returns the limits used when none are configured
func DefaultLimitConfig() *LimitConfig {
	return &LimitConfig{
		DefaultLimit: 50,
		MaxLimit:     1000,
		MaxDepth:     12,
	}
}

// ValidateLimitConfig validates the limit configuration
func ValidateLimitConfig(config *LimitConfig) error {
	if config.MaxLimit <= 0 {
		return fmt.Errorf("max limit must be greater than 0, got %d", config.MaxLimit)
	}
	if config.DefaultLimit > config.MaxLimit {
		return fmt.Errorf("default limit (%d) cannot exceed max limit (%d)", config.DefaultLimit, config.MaxLimit)
	}
	if config.DefaultLimit <= 0 {
		return fmt.Errorf("default limit must be greater than 0, got %d", config.DefaultLimit)
	}
	if config.MaxDepth < 0 {
		return fmt.Errorf("max depth must not be negative, got %d", config.MaxDepth)
	}
	return nil
}

// applyLimit caps a requested page size at the max limit
func applyLimit(requestedLimit int, config *LimitConfig) int {
	if requestedLimit < 0 {
		return config.DefaultLimit
	}
	if requestedLimit > config.MaxLimit {
		return config.MaxLimit
	}
	return requestedLimit
}
