package crypto

import (
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(32)
	require.NoError(t, err)
	b, err := RandomToken(32)
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}

func TestHashToken(t *testing.T) {
	assert.Equal(t, HashToken("ABC123"), HashToken("ABC123"))
	assert.NotEqual(t, HashToken("ABC123"), HashToken("ABC124"))
	assert.Len(t, HashToken("x"), 64)
}

func TestParseRSAPrivateKey(t *testing.T) {
	key, err := GenerateRSAKey()
	require.NoError(t, err)

	t.Run("pkcs1", func(t *testing.T) {
		data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
		parsed, err := ParseRSAPrivateKey(data)
		require.NoError(t, err)
		assert.True(t, key.Equal(parsed))
	})

	t.Run("pkcs8", func(t *testing.T) {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
		parsed, err := ParseRSAPrivateKey(data)
		require.NoError(t, err)
		assert.True(t, key.Equal(parsed))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseRSAPrivateKey([]byte("nope"))
		assert.ErrorIs(t, err, ErrInvalidPEM)
	})
}
