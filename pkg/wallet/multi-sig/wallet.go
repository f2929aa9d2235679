package multisig

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/vulpemventures/quorum/pkg/wallet/mnemonic"
)

// Wallet is the data structure representing the HD keychain of one of the
// cosigners of a Bitcoin multisig wallet.
type Wallet struct {
	mnemonic    []string
	masterKey   *hdkeychain.ExtendedKey
	fingerprint []byte
	network     *chaincfg.Params
}

type NewWalletArgs struct {
	Network *chaincfg.Params
}

func (a NewWalletArgs) validate() error {
	if a.Network == nil {
		return ErrMissingNetwork
	}
	return nil
}

// NewWallet creates a new HD wallet with a random mnemonic
func NewWallet(args NewWalletArgs) (*Wallet, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}

	mnemonic, err := mnemonic.NewMnemonic(mnemonic.NewMnemonicArgs{
		EntropySize: 256,
	})
	if err != nil {
		return nil, err
	}
	return newWallet(mnemonic, args.Network)
}

type NewWalletFromMnemonicArgs struct {
	Mnemonic []string
	Network  *chaincfg.Params
}

func (a NewWalletFromMnemonicArgs) validate() error {
	if len(a.Mnemonic) == 0 {
		return ErrMissingMnemonic
	}
	if !isMnemonicValid(a.Mnemonic) {
		return ErrInvalidMnemonic
	}
	if a.Network == nil {
		return ErrMissingNetwork
	}
	return nil
}

// NewWalletFromMnemonic restores the HD wallet of the given mnemonic seed.
func NewWalletFromMnemonic(args NewWalletFromMnemonicArgs) (*Wallet, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}
	return newWallet(args.Mnemonic, args.Network)
}

func newWallet(mnemonic []string, network *chaincfg.Params) (*Wallet, error) {
	seed := generateSeedFromMnemonic(mnemonic)
	masterKey, err := generateMasterKey(seed, network)
	if err != nil {
		return nil, err
	}
	pubkey, err := masterKey.ECPubKey()
	if err != nil {
		return nil, err
	}
	fingerprint := btcutil.Hash160(pubkey.SerializeCompressed())[:4]

	return &Wallet{mnemonic, masterKey, fingerprint, network}, nil
}

// Mnemonic returns the mnemonic of the wallet.
func (w *Wallet) Mnemonic() ([]string, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	return w.mnemonic, nil
}

// MasterFingerprint returns the 4 bytes fingerprint of the master key.
func (w *Wallet) MasterFingerprint() []byte {
	return append([]byte{}, w.fingerprint...)
}

func (w *Wallet) validate() error {
	if w.masterKey == nil {
		return ErrMissingMasterKey
	}
	return nil
}
