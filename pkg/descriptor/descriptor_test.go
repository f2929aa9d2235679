package descriptor_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/quorum/pkg/descriptor"
)

const (
	tpubA = "tpubD6NzVbkrYhZ4WaWSyoBvQwbpLkojyoTZPRsgXELWz3Popb3qkjcJyJUGLnL4qHHoQvao8ESaAstxYSnhyswJ76uZPStJRJCTKvosUCJZL5B"
	tpubB = "tpubD6NzVbkrYhZ4XgiXtGrdW5XDAPFCL9h7we1vwNCpn8tGbBcgfVYjXyhWo4E1xkh56hjod1RhGjxbaTLV3X4FyWuejifB9jusQ46QzG87VKp"
	xpubA = "xpub6ERApfZwUNrhLCkDtcHTcxd75RbzS1ed54G1LkBUHQVHQKqhMkhgbmJbZRkrgZw4koxb5JaHWkY4ALHY2grBGRjaDMzQLcgJvLJuZZvRcEL"
)

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name                 string
			desc                 string
			expectedFingerprints []string
			expectedThreshold    int
			expectedNetwork      string
		}{
			{
				name: "sortedmulti with checksum",
				desc: "wsh(sortedmulti(2,[aabbccdd/48'/1'/0'/2']" + tpubA + "/<0;1>/*,[11223344/48h/1h/0h/2h]" + tpubB + "/<0;1>/*))#qwer7ux2",
				expectedFingerprints: []string{"aabbccdd", "11223344"},
				expectedThreshold:    2,
				expectedNetwork:      "testnet",
			},
			{
				name: "liana policy with recovery path",
				desc: "wsh(or_d(multi(1,[AABBCCDD/48'/1'/0'/2']" + tpubA + "/<0;1>/*,[11223344/48'/1'/0'/2']" + tpubB + "/<0;1>/*),and_v(v:pkh([aabbccdd/48'/1'/1'/2']" + tpubA + "/<2;3>/*),older(52596))))",
				expectedFingerprints: []string{"aabbccdd", "11223344"},
				expectedThreshold:    1,
				expectedNetwork:      "testnet",
			},
			{
				name:                 "single key",
				desc:                 "wpkh([d34db33f/84'/0'/0']" + xpubA + "/0/*)",
				expectedFingerprints: []string{"d34db33f"},
				expectedThreshold:    1,
				expectedNetwork:      "bitcoin",
			},
		}

		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				d, err := descriptor.Parse(tt.desc)
				require.NoError(t, err)
				require.Equal(t, tt.expectedFingerprints, d.Fingerprints())
				require.Equal(t, tt.expectedThreshold, d.Threshold())

				network, err := d.Network()
				require.NoError(t, err)
				require.Equal(t, tt.expectedNetwork, network)

				for _, fp := range tt.expectedFingerprints {
					require.True(t, d.HasFingerprint(fp))
				}
				require.False(t, d.HasFingerprint("ffffffff"))
				require.Equal(t, tt.desc, d.String())
			})
		}
	})

	t.Run("key origin", func(t *testing.T) {
		t.Parallel()

		d, err := descriptor.Parse("wpkh([d34db33f/84'/0'/0']" + xpubA + "/0/*)")
		require.NoError(t, err)
		require.Len(t, d.Keys, 1)
		require.Equal(t, "m/84'/0'/0'", d.Keys[0].Path.String())
		require.Equal(t, "[d34db33f/84h/0h/0h]"+xpubA, d.Keys[0].String())
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			desc        string
			expectedErr error
		}{
			{"", descriptor.ErrMissingDescriptor},
			{"   ", descriptor.ErrMissingDescriptor},
			{"wpkh([d34db33f/84'/0'/0']" + xpubA + "/0/*", descriptor.ErrMalformedDescriptor},
			{"wpkh([d34db33f/84'/0'/0']" + xpubA + "/0/*))", descriptor.ErrMalformedDescriptor},
			{"wpkh([d34db33f/84'/0'/0']" + xpubA + "/0/*)#abc", descriptor.ErrMalformedChecksum},
			{"wpkh([d34db33f/84'/0'/0']" + xpubA + "/0/*)#ABCDEFGH", descriptor.ErrMalformedChecksum},
			{"wpkh(" + xpubA + "/0/*)", descriptor.ErrMissingKeys},
			{"wsh(multi(0,[aabbccdd/48'/1'/0'/2']" + tpubA + "/*))", descriptor.ErrMalformedDescriptor},
		}

		for _, tt := range tests {
			_, err := descriptor.Parse(tt.desc)
			require.ErrorIs(t, err, tt.expectedErr, tt.desc)
		}
	})

	t.Run("mixed networks", func(t *testing.T) {
		t.Parallel()

		d, err := descriptor.Parse(
			"wsh(multi(1,[aabbccdd/48'/1'/0'/2']" + tpubA + "/*,[11223344/48'/0'/0'/2']" + xpubA + "/*))",
		)
		require.NoError(t, err)
		_, err = d.Network()
		require.ErrorIs(t, err, descriptor.ErrMixedNetworks)
	})
}
