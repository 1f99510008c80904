package config

import (
	"encoding/json"
	"fmt"
)

// Config is the deskd daemon configuration.
type Config struct {
	// AI provider profiles
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Models
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Orchestration loop limits
	Orchestration OrchestrationConfig `json:"orchestration" mapstructure:"orchestration"`

	// Approval thresholds
	Approvals ApprovalsConfig `json:"approvals" mapstructure:"approvals"`

	// Knowledge retriever
	Retriever RetrieverConfig `json:"retriever" mapstructure:"retriever"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Gateway server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Audit trail
	Audit AuditConfig `json:"audit" mapstructure:"audit"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Thread store path
	StorePath string `json:"store_path" mapstructure:"store_path"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// ModelsConfig holds model selection
type ModelsConfig struct {
	Default     string  `json:"default" mapstructure:"default"`
	Classifier  string  `json:"classifier" mapstructure:"classifier"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// OrchestrationConfig bounds the specialist loop
type OrchestrationConfig struct {
	MaxDecideCycles    int    `json:"max_decide_cycles" mapstructure:"max_decide_cycles"`
	StepTimeoutSeconds int    `json:"step_timeout_seconds" mapstructure:"step_timeout_seconds"`
	ToolTimeoutSeconds int    `json:"tool_timeout_seconds" mapstructure:"tool_timeout_seconds"`
	ApprovalTTLMinutes int    `json:"approval_ttl_minutes" mapstructure:"approval_ttl_minutes"`
	ExpirySweepSpec    string `json:"expiry_sweep_spec" mapstructure:"expiry_sweep_spec"` // cron spec
}

// ApprovalsConfig maps currency codes to approval thresholds
type ApprovalsConfig struct {
	Thresholds      map[string]float64 `json:"thresholds" mapstructure:"thresholds"`
	DefaultCurrency string             `json:"default_currency" mapstructure:"default_currency"`
}

// RetrieverConfig holds the policy corpus settings
type RetrieverConfig struct {
	CorpusDir      string `json:"corpus_dir" mapstructure:"corpus_dir"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	Embeddings     bool   `json:"embeddings" mapstructure:"embeddings"`
	EmbeddingModel string `json:"embedding_model" mapstructure:"embedding_model"`
	Watch          bool   `json:"watch" mapstructure:"watch"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// AuditConfig holds the audit trail destination
type AuditConfig struct {
	File string `json:"file" mapstructure:"file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Models: ModelsConfig{
			Default:     "claude-sonnet-4",
			Classifier:  "claude-sonnet-4",
			Temperature: 0.2,
			MaxTokens:   4096,
		},
		Orchestration: OrchestrationConfig{
			MaxDecideCycles:    8,
			StepTimeoutSeconds: 60,
			ToolTimeoutSeconds: 30,
			ApprovalTTLMinutes: 240,
			ExpirySweepSpec:    "@every 5m",
		},
		Approvals: ApprovalsConfig{
			Thresholds: map[string]float64{
				"USD": 100,
				"EUR": 100,
			},
			DefaultCurrency: "USD",
		},
		Retriever: RetrieverConfig{
			TimeoutSeconds: 2,
			Embeddings:     false,
			EmbeddingModel: "text-embedding-3-small",
			Watch:          true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			SharedSecret: "",
		},
		Audit:     AuditConfig{},
		DataDir:   "",
		StorePath: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
	}

	if c.Models.Default == "" {
		return fmt.Errorf("models.default is required")
	}

	if c.Orchestration.MaxDecideCycles <= 0 {
		return fmt.Errorf("orchestration.max_decide_cycles must be positive")
	}
	if c.Orchestration.StepTimeoutSeconds <= 0 {
		return fmt.Errorf("orchestration.step_timeout_seconds must be positive")
	}

	if len(c.Approvals.Thresholds) == 0 {
		return fmt.Errorf("at least one approval threshold currency is required")
	}
	if c.Approvals.DefaultCurrency == "" {
		return fmt.Errorf("approvals.default_currency is required")
	}
	if _, ok := c.Approvals.Thresholds[c.Approvals.DefaultCurrency]; !ok {
		return fmt.Errorf("approvals.default_currency %s has no threshold configured", c.Approvals.DefaultCurrency)
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d is out of range", c.Gateway.Port)
	}

	return nil
}
