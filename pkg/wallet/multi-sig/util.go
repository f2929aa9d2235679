package multisig

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/vulpemventures/go-bip39"
	path "github.com/vulpemventures/quorum/pkg/wallet/derivation-path"
)

func generateSeedFromMnemonic(mnemonic []string) []byte {
	m := strings.Join(mnemonic, " ")
	return bip39.NewSeed(m, "")
}

func isMnemonicValid(mnemonic []string) bool {
	m := strings.Join(mnemonic, " ")
	return bip39.IsMnemonicValid(m)
}

func generateMasterKey(
	seed []byte, params *chaincfg.Params,
) (*hdkeychain.ExtendedKey, error) {
	return hdkeychain.NewMaster(seed, params)
}

func derive(
	key *hdkeychain.ExtendedKey, derivationPath path.DerivationPath,
) (*hdkeychain.ExtendedKey, error) {
	var err error
	for _, step := range derivationPath {
		key, err = key.Derive(step)
		if err != nil {
			return nil, err
		}
	}
	return key, nil
}

func checkRootPath(rootPath string) (path.DerivationPath, error) {
	if rootPath == "" {
		return nil, ErrMissingRootPath
	}
	derivationPath, err := path.ParseDerivationPath(rootPath)
	if err != nil {
		return nil, err
	}
	for _, step := range derivationPath {
		if step < hdkeychain.HardenedKeyStart {
			return nil, ErrInvalidRootPath
		}
	}
	return derivationPath, nil
}
