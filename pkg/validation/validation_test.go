package validation

import (
	"testing"

	"github.com/smallbiznis/paycore/internal/paymenterror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Quantity int64 `json:"quantity" validate:"gt=0"`
}

type request struct {
	Email  string `json:"email" validate:"omitempty,email"`
	Amount *int64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Items  []item `json:"items" validate:"required,min=1,dive"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	v := New()
	zero := int64(0)

	err := v.Struct(request{Email: "nope", Amount: &zero, Items: []item{{Quantity: 0}}})
	require.Error(t, err)

	fields := Fields(err)
	assert.ElementsMatch(t, []FieldError{
		{Field: "email", Rule: "email"},
		{Field: "amount", Rule: "gt"},
		{Field: "items[0].quantity", Rule: "gt"},
	}, fields)
	assert.Equal(t, paymenterror.KindValidationError, paymenterror.Classify(err).Kind)
}

func TestStructAcceptsValidInput(t *testing.T) {
	v := New()
	assert.NoError(t, v.Struct(request{Items: []item{{Quantity: 1}}}))
}

func TestInvalid(t *testing.T) {
	err := Invalid("reason", "oneof")
	assert.Equal(t, "validation_failed: reason oneof", err.Error())
	assert.Equal(t, []FieldError{{Field: "reason", Rule: "oneof"}}, Fields(err))
}
