package aes128_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/quorum/internal/infrastructure/mnemonic-cypher/aes128"
)

const mnemonic = "leave dice fine decrease dune ribbon ocean earn lunar account silver admit cargo fancy ribbon"

func TestCypher(t *testing.T) {
	cypher := aes128.NewAES128Cypher()
	password := []byte("password")

	encrypted, err := cypher.Encrypt([]byte(mnemonic), password)
	require.NoError(t, err)
	require.NotContains(t, string(encrypted), "ribbon")

	// Same input, different salt and nonce.
	other, err := cypher.Encrypt([]byte(mnemonic), password)
	require.NoError(t, err)
	require.NotEqual(t, encrypted, other)

	decrypted, err := cypher.Decrypt(encrypted, password)
	require.NoError(t, err)
	require.Equal(t, mnemonic, string(decrypted))

	t.Run("invalid", func(t *testing.T) {
		tampered := append([]byte{}, encrypted...)
		tampered[len(tampered)-1] ^= 0xff

		tests := []struct {
			name      string
			encrypted []byte
			password  []byte
			err       error
		}{
			{"wrong password", encrypted, []byte("wrong"), aes128.ErrInvalidPassword},
			{"missing password", encrypted, nil, aes128.ErrMissingPassword},
			{"truncated", encrypted[:10], password, aes128.ErrMalformedCypher},
			{"tampered", tampered, password, aes128.ErrInvalidPassword},
		}
		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				_, err := cypher.Decrypt(tt.encrypted, tt.password)
				require.ErrorIs(t, err, tt.err)
			})
		}

		_, err := cypher.Encrypt([]byte(mnemonic), nil)
		require.ErrorIs(t, err, aes128.ErrMissingPassword)
	})
}
