package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a": 1}`, `{"a": 1}`},
		{"plain fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fence with surrounding whitespace", "  ```json\n{\"a\": 1}\n```  ", `{"a": 1}`},
		{"unclosed fence", "```json\n{\"a\": 1}", `{"a": 1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripFences(tc.in))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	out, err := DecodeJSON("```json\n{\"hypotheses\": [{\"title\": \"x\"}]}\n```")
	require.NoError(t, err)
	assert.Contains(t, out, "hypotheses")

	_, err = DecodeJSON("not json at all")
	assert.Error(t, err)
}

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(Options{})
	assert.Error(t, err)

	c, err := NewOpenAIClient(Options{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}
