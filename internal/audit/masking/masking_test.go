package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"short", "abc", "****"},
		{"plain", "supersecretvalue", "****alue"},
		{"prefixed", "sendgrid_abc123xyz", "sendgrid_****3xyz"},
		{"trailing underscore", "weird_", "****ird_"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MaskSecret(tc.input))
		})
	}
}

func TestMaskJSONMasksOnlySensitiveKeys(t *testing.T) {
	input := map[string]any{
		"api_key": "SG.abcdef1234567890",
		"plan":    "INDIE",
		"nested": map[string]any{
			"credential": "secret_value_here",
			"domain":     "mail.example.com",
		},
	}

	out := MaskJSON(input)

	assert.Equal(t, "INDIE", out["plan"])
	assert.Equal(t, "****7890", out["api_key"])

	nested, ok := out["nested"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "mail.example.com", nested["domain"])
	assert.NotEqual(t, "secret_value_here", nested["credential"])
	assert.Contains(t, nested["credential"], maskToken)
}

func TestMaskJSONEmpty(t *testing.T) {
	assert.Nil(t, MaskJSON(nil))
	assert.Nil(t, MaskJSON(map[string]any{}))
	assert.Nil(t, MaskJSON(map[string]any{"  ": "x"}))
}
