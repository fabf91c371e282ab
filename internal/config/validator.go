package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/chis/regview/internal/registry"
)

// ValidationResult separates blocking errors from warnings.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// IsValid returns true if there are no validation errors.
func (vr *ValidationResult) IsValid() bool {
	return len(vr.Errors) == 0
}

// HasWarnings returns true if there are any validation warnings.
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// AddError adds an error message.
func (vr *ValidationResult) AddError(msg string) {
	vr.Errors = append(vr.Errors, msg)
}

// AddWarning adds a warning message.
func (vr *ValidationResult) AddWarning(msg string) {
	vr.Warnings = append(vr.Warnings, msg)
}

// Merge combines another result into this one.
func (vr *ValidationResult) Merge(other ValidationResult) {
	vr.Errors = append(vr.Errors, other.Errors...)
	vr.Warnings = append(vr.Warnings, other.Warnings...)
}

// Err joins the errors into one error, or returns nil.
func (vr *ValidationResult) Err() error {
	if vr.IsValid() {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(vr.Errors, "; "))
}

// Validate checks c.
func (c Config) Validate() ValidationResult {
	result := ValidationResult{}

	if c.ListenAddr == "" {
		result.AddError("listen_addr cannot be empty")
	}
	if c.DBPath == "" {
		result.AddError("db_path cannot be empty")
	}
	switch c.StoreBackend {
	case "sqlite", "starskey":
	default:
		result.AddError(fmt.Sprintf("store_backend must be sqlite or starskey, got %q", c.StoreBackend))
	}

	result.Merge(ValidateTimeout(c.RequestTimeout))

	if c.MaxConcurrency < 1 {
		result.AddError(fmt.Sprintf("max_concurrency must be at least 1, got %d", c.MaxConcurrency))
	} else if c.MaxConcurrency > 64 {
		result.AddWarning(fmt.Sprintf("max_concurrency %d may exhaust registry connection limits", c.MaxConcurrency))
	}

	if c.RequestsPerSecond < 0 {
		result.AddError("requests_per_second cannot be negative")
	}
	if c.RequestsPerSecond > 0 && c.Burst < 1 {
		result.AddError("burst must be at least 1 when requests_per_second is set")
	}
	if c.BreakerThreshold < 0 {
		result.AddError("breaker_threshold cannot be negative")
	}
	if c.ScanInterval < 0 {
		result.AddError("scan_interval cannot be negative")
	} else if c.ScanInterval > 0 && c.ScanInterval < 30*time.Second {
		result.AddWarning(fmt.Sprintf("scan_interval %v may overload registries", c.ScanInterval))
	}
	if c.APIRequestsPerMinute < 0 {
		result.AddError("api_requests_per_minute cannot be negative")
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		result.AddWarning(fmt.Sprintf("unknown log_format %q, using text", c.LogFormat))
	}

	for i, d := range c.Registries {
		if _, err := registry.NewDescriptor(d); err != nil {
			result.AddError(fmt.Sprintf("registries[%d]: %v", i, err))
		}
	}

	return result
}

// ValidateTimeout checks a per-request timeout.
func ValidateTimeout(d time.Duration) ValidationResult {
	result := ValidationResult{}
	switch {
	case d <= 0:
		result.AddError(fmt.Sprintf("request_timeout must be positive, got %v", d))
	case d < 500*time.Millisecond:
		result.AddWarning(fmt.Sprintf("request_timeout %v is very short", d))
	case d > 2*time.Minute:
		result.AddWarning(fmt.Sprintf("request_timeout %v is very long", d))
	}
	return result
}
