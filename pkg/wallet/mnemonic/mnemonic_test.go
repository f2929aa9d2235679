package mnemonic_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/quorum/pkg/wallet/mnemonic"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon about"

func TestNewMnemonic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		entropySize uint32
		numWords    int
	}{
		{0, 24},
		{128, 12},
		{256, 24},
	}
	for _, tt := range tests {
		words, err := mnemonic.NewMnemonic(mnemonic.NewMnemonicArgs{
			EntropySize: tt.entropySize,
		})
		require.NoError(t, err)
		require.Len(t, words, tt.numWords)

		parsed, err := mnemonic.ParseMnemonic(strings.Join(words, " "))
		require.NoError(t, err)
		require.Equal(t, words, parsed)
	}

	_, err := mnemonic.NewMnemonic(mnemonic.NewMnemonicArgs{EntropySize: 160})
	require.ErrorIs(t, err, mnemonic.ErrInvalidEntropySize)
}

func TestParseMnemonic(t *testing.T) {
	t.Parallel()

	words, err := mnemonic.ParseMnemonic("  " + strings.ToUpper(testMnemonic) + "\n")
	require.NoError(t, err)
	require.Equal(t, strings.Fields(testMnemonic), words)

	tests := []struct {
		name     string
		mnemonic string
		err      error
	}{
		{"empty", " ", mnemonic.ErrMissingMnemonic},
		{"too short", "abandon abandon about", mnemonic.ErrInvalidWordCount},
		{
			"bad checksum",
			strings.Repeat("abandon ", 12),
			mnemonic.ErrInvalidMnemonic,
		},
		{
			"unknown word",
			strings.Replace(testMnemonic, "about", "notaword", 1),
			mnemonic.ErrInvalidMnemonic,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mnemonic.ParseMnemonic(tt.mnemonic)
			require.ErrorIs(t, err, tt.err)
		})
	}
}
