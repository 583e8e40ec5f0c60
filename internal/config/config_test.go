package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, s.MaxIterations)
	assert.Equal(t, 0.8, s.CriticThreshold)
	assert.Equal(t, 0.75, s.FixConfidenceThreshold)
	assert.Equal(t, 0.02, s.CriticDecayPerLoop)
	assert.Equal(t, "none", s.LLMProvider)
	assert.False(t, s.LLMEnabled())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MAX_ITERATIONS", "5")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("LLM_API_KEY", "sk-test")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, s.MaxIterations)
	assert.True(t, s.LLMEnabled())
}

func TestValidate_Bounds(t *testing.T) {
	s := &Settings{MaxIterations: 0, CriticThreshold: 0.5, FixConfidenceThreshold: 0.5}
	assert.Error(t, s.Validate())

	s = &Settings{MaxIterations: 1, CriticThreshold: 1.2, FixConfidenceThreshold: 0.5}
	assert.Error(t, s.Validate())

	s = &Settings{MaxIterations: 1, CriticThreshold: 0.8, FixConfidenceThreshold: 0.5, LLMProvider: "anthropic"}
	assert.Error(t, s.Validate())

	s = &Settings{MaxIterations: 1, CriticThreshold: 0.8, FixConfidenceThreshold: 0.5, LLMProvider: "gemini"}
	assert.NoError(t, s.Validate())
}
