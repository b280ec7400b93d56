package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecret_RoundTrip(t *testing.T) {
	blob, err := EncryptSecret("api-secret-123", "password")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "password")
	require.NoError(t, err)
	assert.Equal(t, "api-secret-123", got)
}

func TestDecryptSecret_WrongPassword(t *testing.T) {
	blob, err := EncryptSecret("api-secret-123", "password")
	require.NoError(t, err)

	_, err = DecryptSecret(blob, "not-the-password")
	assert.Error(t, err)
}

func TestEncryptSecret_RejectsEmptyInputs(t *testing.T) {
	_, err := EncryptSecret("", "password")
	assert.Error(t, err)

	_, err = EncryptSecret("secret", "")
	assert.Error(t, err)
}

func TestLoadSecret_RawTakesPrecedence(t *testing.T) {
	got, err := LoadSecret(SecretConfig{
		RawSecret:           "raw-wins",
		EncryptedSecretPath: "/nonexistent/file.json",
	})
	require.NoError(t, err)
	assert.Equal(t, "raw-wins", got)
}

func TestLoadSecret_FromEncryptedFile(t *testing.T) {
	blob, err := EncryptSecret("file-secret", "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := LoadSecret(SecretConfig{
		EncryptedSecretPath: path,
		SecretPassword:      "pw",
	})
	require.NoError(t, err)
	assert.Equal(t, "file-secret", got)
}

func TestLoadSecret_NoSource(t *testing.T) {
	_, err := LoadSecret(SecretConfig{})
	assert.Error(t, err)
}
