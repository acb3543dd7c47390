package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealAndOpenSecret(t *testing.T) {
	t.Setenv("CREDENTIALS_SECRET", "unit-test-secret")

	sealed, err := SealSecret("chave-123")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "chave-123")

	again, err := SealSecret("chave-123")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ")

	plain, err := OpenSecret(sealed)
	require.NoError(t, err)
	assert.Equal(t, "chave-123", plain)
}

func TestOpenSecretRejectsTampering(t *testing.T) {
	t.Setenv("CREDENTIALS_SECRET", "unit-test-secret")
	sealed, err := SealSecret("chave-123")
	require.NoError(t, err)

	_, err = OpenSecret("%%%")
	assert.ErrorIs(t, err, ErrSecretCorrupted)
	_, err = OpenSecret("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrSecretCorrupted)

	t.Setenv("CREDENTIALS_SECRET", "rotated-secret")
	_, err = OpenSecret(sealed)
	assert.ErrorIs(t, err, ErrSecretCorrupted)
}
