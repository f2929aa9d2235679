package appconfig_test

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
	appconfig "github.com/vulpemventures/quorum/internal/app-config"
	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/pkg/wallet/mnemonic"
	multisig "github.com/vulpemventures/quorum/pkg/wallet/multi-sig"
)

const (
	testTpub     = "tpubD6NzVbkrYhZ4WaWSyoBvQwbpLkojyoTZPRsgXELWz3Popb3qkjcJyJUGLnL4qHHoQvao8ESaAstxYSnhyswJ76uZPStJRJCTKvosUCJZL5B"
	testRootPath = "m/48'/1'/0'/2'"
	password     = "password"
)

func TestAppConfig(t *testing.T) {
	words, err := mnemonic.NewMnemonic(mnemonic.NewMnemonicArgs{})
	require.NoError(t, err)
	wallet, err := multisig.NewWalletFromMnemonic(multisig.NewWalletFromMnemonicArgs{
		Mnemonic: words,
		Network:  &chaincfg.TestNet3Params,
	})
	require.NoError(t, err)
	origin, err := wallet.AccountKeyOrigin(testRootPath)
	require.NoError(t, err)

	cfg := &appconfig.AppConfig{
		Network: domain.NetworkTestnet,
		WalletDescriptor: fmt.Sprintf(
			"wsh(sortedmulti(2,%s/<0;1>/*,[aaaaaaaa/48'/1'/0'/2']%s/<0;1>/*))",
			origin, testTpub,
		),
		RepoManagerType:   "inmemory",
		HotSigners:        []string{"main", "missing"},
		HotSignerPassword: password,
		NoHwi:             true,
		SigningTimeout:    time.Minute,
	}
	require.NoError(t, cfg.Validate())
	defer cfg.Close()

	require.NoError(t, cfg.MnemonicStore().Set(
		"main", strings.Join(words, " "), password,
	))
	require.NoError(t, cfg.LoadSigners(context.Background()))

	fingerprint := hex.EncodeToString(wallet.MasterFingerprint())
	require.Eventually(t, func() bool {
		signers := cfg.Registry().List()
		return len(signers) == 1 &&
			signers[0].Fingerprint.String() == fingerprint &&
			signers[0].State == domain.StateRegistered
	}, time.Second, 10*time.Millisecond)

	info := cfg.WalletInfo()
	require.Equal(t, domain.NetworkTestnet, info.Network)
	require.Equal(t, 2, info.Threshold)
	require.Equal(t, []string{fingerprint, "aaaaaaaa"}, info.Fingerprints)
	require.Equal(t, "dev", info.BuildInfo.Version)

	stats := cfg.Stats()
	require.Equal(t, 1, stats["signers_registered"])
	require.Equal(t, 0, stats["sessions_active"])
	require.Equal(t, 0, stats["locked_devices"])

	require.NotNil(t, cfg.DiscoveryService())
	require.NotNil(t, cfg.SigningCoordinator())
	require.NotNil(t, cfg.NotificationService())
}

func TestInvalidAppConfig(t *testing.T) {
	descriptor := fmt.Sprintf(
		"wsh(sortedmulti(1,[aaaaaaaa/48'/1'/0'/2']%s/<0;1>/*))", testTpub,
	)

	tests := []struct {
		name   string
		config *appconfig.AppConfig
		errMsg string
	}{
		{
			name:   "missing network",
			config: &appconfig.AppConfig{},
			errMsg: "missing network",
		},
		{
			name:   "unknown network",
			config: &appconfig.AppConfig{Network: "liquid"},
			errMsg: domain.ErrNetworkUnknown.Error(),
		},
		{
			name:   "missing descriptor",
			config: &appconfig.AppConfig{Network: domain.NetworkTestnet},
			errMsg: "missing wallet descriptor",
		},
		{
			name: "descriptor network mismatch",
			config: &appconfig.AppConfig{
				Network:          domain.NetworkBitcoin,
				WalletDescriptor: descriptor,
			},
			errMsg: "wallet descriptor is for testnet",
		},
		{
			name: "unsupported db",
			config: &appconfig.AppConfig{
				Network:          domain.NetworkTestnet,
				WalletDescriptor: descriptor,
				RepoManagerType:  "sqlite",
			},
			errMsg: "repo manager type not supported",
		},
		{
			name: "missing hot signer password",
			config: &appconfig.AppConfig{
				Network:          domain.NetworkTestnet,
				WalletDescriptor: descriptor,
				RepoManagerType:  "inmemory",
				HotSigners:       []string{"main"},
			},
			errMsg: "missing hot signer password",
		},
		{
			name: "invalid hot signer",
			config: &appconfig.AppConfig{
				Network:           domain.NetworkTestnet,
				WalletDescriptor:  descriptor,
				RepoManagerType:   "inmemory",
				HotSigners:        []string{"../main"},
				HotSignerPassword: password,
			},
			errMsg: domain.ErrInvalidMnemonicRef.Error(),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
