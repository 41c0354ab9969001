// Package config provides configuration management for the repro pipeline.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps the validator with custom validation rules
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new validator with custom validation functions
func NewValidator() *CustomValidator {
	v := validator.New()

	_ = v.RegisterValidation("environment", oneOf("development", "staging", "production"))
	_ = v.RegisterValidation("loglevel", oneOf("debug", "info", "warn", "error"))
	_ = v.RegisterValidation("ondrift", oneOf("fail", "warn", "ignore"))
	_ = v.RegisterValidation("resultsdriver", oneOf("memory", "sqlite", "postgres"))
	_ = v.RegisterValidation("enginekind", oneOf("sma_cross", "http"))

	return &CustomValidator{validator: v}
}

// Validate validates the entire configuration
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration using registered validation rules
func (cv *CustomValidator) Validate(cfg *Config) error {
	if err := cv.validator.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return formatValidationErrors(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return validateCrossField(cfg)
}

func oneOf(allowed ...string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		for _, a := range allowed {
			if value == a {
				return true
			}
		}
		return false
	}
}

// validateCrossField performs cross-field validations
func validateCrossField(cfg *Config) error {
	if cfg.Inputs.StartDate != "" && cfg.Inputs.EndDate != "" {
		start, err := time.Parse(dateLayout, cfg.Inputs.StartDate)
		if err != nil {
			return fmt.Errorf("invalid inputs start_date format: %w", err)
		}
		end, err := time.Parse(dateLayout, cfg.Inputs.EndDate)
		if err != nil {
			return fmt.Errorf("invalid inputs end_date format: %w", err)
		}
		if end.Before(start) {
			return fmt.Errorf("inputs start_date must not be after end_date")
		}
	}

	switch cfg.Results.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Results.SQLitePath) == "" {
			return fmt.Errorf("results.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		var missing []string
		if cfg.Database.Host == "" {
			missing = append(missing, "host")
		}
		if cfg.Database.Port == 0 {
			missing = append(missing, "port")
		}
		if cfg.Database.Name == "" {
			missing = append(missing, "name")
		}
		if cfg.Database.User == "" {
			missing = append(missing, "user")
		}
		if len(missing) > 0 {
			return fmt.Errorf("postgres results driver requires database %s", strings.Join(missing, ", "))
		}
		if cfg.IsProduction() && cfg.Database.SSLMode == "disable" {
			return fmt.Errorf("production environment requires SSL mode to be 'require' or 'verify-full'")
		}
	}

	if cfg.Engine.Kind == "http" && cfg.Engine.URL == "" {
		return fmt.Errorf("engine.url is required for the http engine")
	}

	if cfg.Secrets.Enabled && (cfg.Secrets.Region == "" || cfg.Secrets.SecretName == "") {
		return fmt.Errorf("secrets overlay requires region and secret_name")
	}

	if cfg.IsProduction() && cfg.Drift.OnDrift == "ignore" {
		return fmt.Errorf("drift checks cannot be ignored in production")
	}

	return nil
}

// formatValidationErrors formats validation errors into a readable string
func formatValidationErrors(validationErrors validator.ValidationErrors) error {
	var errMsg string
	for _, fieldError := range validationErrors {
		field := fieldError.Namespace()
		tag := fieldError.Tag()
		value := fieldError.Value()

		switch tag {
		case "required":
			errMsg += fmt.Sprintf("- Field '%s' is required\n", field)
		case "url":
			errMsg += fmt.Sprintf("- Field '%s' must be a valid URL, got '%v'\n", field, value)
		case "min", "max":
			errMsg += fmt.Sprintf("- Field '%s' validation failed: %s constraint violated\n", field, tag)
		case "gt", "gte", "lt", "lte":
			errMsg += fmt.Sprintf("- Field '%s' validation failed: numeric constraint %s violated\n", field, tag)
		case "environment":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: development, staging, production\n", field)
		case "loglevel":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: debug, info, warn, error\n", field)
		case "ondrift":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: fail, warn, ignore\n", field)
		case "resultsdriver":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: memory, sqlite, postgres\n", field)
		case "enginekind":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: sma_cross, http\n", field)
		case "datetime":
			errMsg += fmt.Sprintf("- Field '%s' must be a YYYY-MM-DD date, got '%v'\n", field, value)
		case "oneof":
			errMsg += fmt.Sprintf("- Field '%s' has invalid value '%v'\n", field, value)
		default:
			errMsg += fmt.Sprintf("- Field '%s' failed validation: %s\n", field, tag)
		}
	}
	return fmt.Errorf("configuration validation failed:\n%s", errMsg)
}
