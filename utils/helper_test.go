package utils

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhoneNumber(t *testing.T) {
	cases := []struct {
		in, region, want string
	}{
		{"11987654321", "BR", "+5511987654321"},
		{"(11) 98765-4321", "", "+5511987654321"},
		{"+55 21 99876-5432", "BR", "+5521998765432"},
		{"  ", "BR", ""},
		{"ramal 12", "BR", "ramal 12"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizePhoneNumber(tc.in, tc.region), tc.in)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
	// never splits a multi-byte rune
	assert.Equal(t, "Jos", Truncate("José", 4))
}

func TestProcessValidationErrors(t *testing.T) {
	type payload struct {
		CompanyCode string `validate:"required"`
	}
	err := validator.New().Struct(payload{})
	require.Error(t, err)
	assert.Equal(t, map[string]string{"CompanyCode": "required"}, ProcessValidationErrors(err))

	assert.Equal(t, map[string]string{"error": "boom"}, ProcessValidationErrors(errors.New("boom")))
}
