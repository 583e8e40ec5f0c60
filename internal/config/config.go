// Package config loads runtime configuration from files and environment
// variables. A .env file discovered near the working directory seeds the
// process environment; viper layers file-based settings under it.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Settings is the resolved runtime configuration.
type Settings struct {
	// Investigation loop
	MaxIterations          int     `mapstructure:"max_iterations"`
	CriticThreshold        float64 `mapstructure:"critic_threshold"`
	FixConfidenceThreshold float64 `mapstructure:"fix_confidence_threshold"`
	CriticDecayPerLoop     float64 `mapstructure:"critic_decay_per_loop"`
	ReportLogPath          string  `mapstructure:"report_log_path"`

	// LLM
	LLMProvider    string  `mapstructure:"llm_provider"` // openai | gemini | none
	LLMAPIKey      string  `mapstructure:"llm_api_key"`
	LLMModel       string  `mapstructure:"llm_model"`
	LLMTemperature float64 `mapstructure:"llm_temperature"`
	LLMTimeoutSecs int     `mapstructure:"llm_timeout_secs"`

	// Graph and mesh stores
	Neo4jURI      string `mapstructure:"neo4j_uri"`
	Neo4jUser     string `mapstructure:"neo4j_user"`
	Neo4jPassword string `mapstructure:"neo4j_password"`
	Neo4jDatabase string `mapstructure:"neo4j_database"`

	// Indexing
	ServiceMapPath string `mapstructure:"service_map_path"`
}

// Load resolves settings from an optional config file plus environment
// variables. Environment variables win over file values.
func Load(configFile string) (*Settings, error) {
	v := viper.New()

	v.SetDefault("max_iterations", 3)
	v.SetDefault("critic_threshold", 0.8)
	v.SetDefault("fix_confidence_threshold", 0.75)
	v.SetDefault("critic_decay_per_loop", 0.02)
	v.SetDefault("llm_provider", "none")
	v.SetDefault("llm_model", "gpt-4o-mini")
	v.SetDefault("llm_temperature", 0.2)
	v.SetDefault("llm_timeout_secs", 60)
	v.SetDefault("neo4j_uri", "bolt://localhost:7687")
	v.SetDefault("neo4j_user", "neo4j")
	v.SetDefault("neo4j_database", "neo4j")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks bounds the loop cannot recover from at runtime.
func (s *Settings) Validate() error {
	if s.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", s.MaxIterations)
	}
	if s.CriticThreshold < 0 || s.CriticThreshold > 1 {
		return fmt.Errorf("critic_threshold must be in [0,1], got %g", s.CriticThreshold)
	}
	if s.FixConfidenceThreshold < 0 || s.FixConfidenceThreshold > 1 {
		return fmt.Errorf("fix_confidence_threshold must be in [0,1], got %g", s.FixConfidenceThreshold)
	}
	if s.LLMTemperature < 0 || s.LLMTemperature > 2 {
		return fmt.Errorf("llm_temperature must be in [0,2], got %g", s.LLMTemperature)
	}
	switch s.LLMProvider {
	case "openai", "gemini", "none", "":
	default:
		return fmt.Errorf("unknown llm_provider %q", s.LLMProvider)
	}
	return nil
}

// LLMEnabled reports whether a real LLM backend is configured.
func (s *Settings) LLMEnabled() bool {
	return s.LLMProvider != "" && s.LLMProvider != "none" && s.LLMAPIKey != ""
}
