package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "whsec_****", MaskSecret("whsec_abc"))
	assert.Equal(t, "pi_****WXYZ", MaskSecret("pi_3NabcdefWXYZ"))
	assert.Equal(t, "****6789", MaskSecret("123456789"))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "j****@example.com", MaskEmail("jane@example.com"))
	assert.Equal(t, "****", MaskEmail("@x"))
}

func TestMaskFieldsNested(t *testing.T) {
	in := map[string]any{
		"amount":    float64(10),
		"reference": "ch_123456789",
		"nested": map[string]any{
			"customer_email": "bob@example.com",
		},
		"items": []any{map[string]any{"reference": "re_abcdef"}},
	}

	out := MaskFields(in, SensitiveKeys...)

	assert.Equal(t, float64(10), out["amount"])
	assert.Equal(t, "ch_****6789", out["reference"])
	assert.Equal(t, "b****@example.com", out["nested"].(map[string]any)["customer_email"])
	assert.Equal(t, "re_****cdef", out["items"].([]any)[0].(map[string]any)["reference"])
	assert.Equal(t, "ch_123456789", in["reference"])
}
