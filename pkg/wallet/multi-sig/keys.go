package multisig

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	path "github.com/vulpemventures/quorum/pkg/wallet/derivation-path"
)

// AccountExtendedPublicKey returns the extended public key in base58 format
// for the given hardened root path, ie. m/48'/1'/0'/2'.
func (w *Wallet) AccountExtendedPublicKey(rootPath string) (string, error) {
	if err := w.validate(); err != nil {
		return "", err
	}
	derivationPath, err := checkRootPath(rootPath)
	if err != nil {
		return "", err
	}

	xprv, err := derive(w.masterKey, derivationPath)
	if err != nil {
		return "", err
	}
	xpub, err := xprv.Neuter()
	if err != nil {
		return "", err
	}
	return xpub.String(), nil
}

// AccountKeyOrigin returns the account extended public key for the given
// root path prefixed by its origin, in the format used by output
// descriptors: [fingerprint/48h/1h/0h/2h]tpub...
func (w *Wallet) AccountKeyOrigin(rootPath string) (string, error) {
	xpub, err := w.AccountExtendedPublicKey(rootPath)
	if err != nil {
		return "", err
	}
	derivationPath, _ := path.ParseDerivationPath(rootPath)
	return fmt.Sprintf(
		"[%s%s]%s",
		hex.EncodeToString(w.fingerprint), derivationPath.DescriptorString(), xpub,
	), nil
}

// DeriveSigningKeyPair derives the key pair at the given absolute derivation
// path from the master key.
func (w *Wallet) DeriveSigningKeyPair(derivationPath path.DerivationPath) (
	*btcec.PrivateKey, *btcec.PublicKey, error,
) {
	if err := w.validate(); err != nil {
		return nil, nil, err
	}
	if len(derivationPath) == 0 {
		return nil, nil, ErrMissingDerivationPath
	}

	hdNode, err := derive(w.masterKey, derivationPath)
	if err != nil {
		return nil, nil, err
	}
	privateKey, err := hdNode.ECPrivKey()
	if err != nil {
		return nil, nil, err
	}
	return privateKey, privateKey.PubKey(), nil
}
