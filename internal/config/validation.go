package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"nimf/internal/keysym"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsWarning reports whether the issue should be logged instead of
// rejecting the configuration.
func (e *ValidationError) IsWarning() bool {
	return strings.HasPrefix(e.Field, "server.default_engine")
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig && e.HasErrors()
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// ValidateConfig checks c and returns ValidationErrors when anything is
// wrong, including warnings.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateServer(c)...)
	errs = append(errs, validateIPC(&c.IPC)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	errs = append(errs, validateEngines(c.Engines)...)

	if c.Settings.Database == "" {
		errs = append(errs, ValidationError{
			Field:   "settings.database",
			Message: "database path is required",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(c *Config) ValidationErrors {
	var errs ValidationErrors
	s := &c.Server

	if s.Address == "" {
		errs = append(errs, ValidationError{
			Field:   "server.address",
			Message: "socket name is required",
		})
	}
	if strings.HasPrefix(s.Address, "@") {
		errs = append(errs, ValidationError{
			Field:   "server.address",
			Message: "give the abstract socket name without '@'",
		})
	}

	for i, k := range s.Hotkeys {
		if _, err := keysym.ParseKey(k); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("server.hotkeys[%d]", i),
				Message: err.Error(),
			})
		}
	}

	if s.DefaultEngine != "" {
		active := false
		for _, id := range c.ActiveEngines() {
			if id == s.DefaultEngine {
				active = true
				break
			}
		}
		if !active {
			errs = append(errs, ValidationError{
				Field:   "server.default_engine",
				Message: fmt.Sprintf("%s is not an active engine", s.DefaultEngine),
			})
		}
	}
	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors
	if i.WriteTimeoutMs < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.write_timeout_ms",
			Message: "write timeout must be at least 1 ms",
		})
	}
	if i.MaxConnections < 0 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "max connections cannot be negative",
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %q (valid: stdout, stderr, file)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}
	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	if !m.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(m.Address); err != nil {
		return ValidationErrors{{
			Field:   "metrics.address",
			Message: fmt.Sprintf("invalid listen address %q: %v", m.Address, err),
		}}
	}
	return nil
}

func validateEngines(engines []EngineConfig) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool)
	active := 0

	for i, e := range engines {
		field := fmt.Sprintf("engines[%d]", i)
		if e.ID == "" {
			errs = append(errs, ValidationError{Field: field + ".id", Message: "engine id is required"})
			continue
		}
		if seen[e.ID] {
			errs = append(errs, ValidationError{Field: field + ".id", Message: fmt.Sprintf("duplicate engine %s", e.ID)})
		}
		seen[e.ID] = true
		if e.Active {
			active++
		}
		for j, k := range e.TriggerKeys {
			if _, err := keysym.ParseKey(k); err != nil {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.trigger_keys[%d]", field, j),
					Message: err.Error(),
				})
			}
		}
	}

	if active == 0 {
		errs = append(errs, ValidationError{
			Field:   "engines",
			Message: "at least one engine must be active",
		})
	}
	return errs
}
