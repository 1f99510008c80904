package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}

	// Check if it's a known model
	knownModels := []string{
		"claude-opus-4",
		"claude-sonnet-4",
		"claude-haiku-4",
		"gpt-4-turbo",
		"gpt-4",
		"gpt-3.5-turbo",
	}

	for _, known := range knownModels {
		if model == known {
			return nil
		}
	}

	// Allow custom models (just warn)
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateCurrency validates an ISO 4217 style currency code
func (v *Validator) ValidateCurrency(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("invalid currency code: %s (expected 3 letters, e.g. USD)", code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("invalid currency code: %s (must be uppercase letters)", code)
		}
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Validate AI profiles
	for i, profile := range cfg.AI.Profiles {
		if profile.Provider != "" {
			if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
	}

	// Validate models
	if err := v.ValidateModel(cfg.Models.Default); err != nil {
		errors = append(errors, err)
	}
	if cfg.Models.Temperature != 0 {
		if err := v.ValidateTemperature(cfg.Models.Temperature); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Models.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Models.MaxTokens); err != nil {
			errors = append(errors, err)
		}
	}

	// Validate orchestration bounds
	if cfg.Orchestration.MaxDecideCycles < 1 {
		errors = append(errors, fmt.Errorf("orchestration.max_decide_cycles must be >= 1"))
	}
	if cfg.Orchestration.StepTimeoutSeconds < 1 {
		errors = append(errors, fmt.Errorf("orchestration.step_timeout_seconds must be >= 1"))
	}
	if cfg.Orchestration.ToolTimeoutSeconds < 1 {
		errors = append(errors, fmt.Errorf("orchestration.tool_timeout_seconds must be >= 1"))
	}
	if cfg.Orchestration.ApprovalTTLMinutes < 0 {
		errors = append(errors, fmt.Errorf("orchestration.approval_ttl_minutes must be >= 0"))
	}

	// Validate approval thresholds
	for code, amount := range cfg.Approvals.Thresholds {
		if err := v.ValidateCurrency(code); err != nil {
			errors = append(errors, err)
		}
		if amount < 0 {
			errors = append(errors, fmt.Errorf("approval threshold for %s must be >= 0", code))
		}
	}
	if cfg.Approvals.DefaultCurrency != "" {
		if err := v.ValidateCurrency(cfg.Approvals.DefaultCurrency); err != nil {
			errors = append(errors, err)
		}
	}

	// Validate retriever
	if cfg.Retriever.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("retriever.timeout_seconds must be >= 0"))
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
