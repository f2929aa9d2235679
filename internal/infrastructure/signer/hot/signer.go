package hot_signer

import (
	"context"
	"errors"
	"fmt"

	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
	multisig "github.com/vulpemventures/quorum/pkg/wallet/multi-sig"
)

// signer is the adapter of a mnemonic stored on this computer.
type signer struct {
	ref         string
	network     string
	fingerprint domain.Fingerprint
	wallet      *multisig.Wallet
}

// NewSigner returns the adapter signing with the keys of the given mnemonic.
// ref is the name the mnemonic is stored with.
func NewSigner(ref string, mnemonic []string, network string) (ports.SignerAdapter, error) {
	params, err := domain.NetworkParams(network)
	if err != nil {
		return nil, err
	}
	wallet, err := multisig.NewWalletFromMnemonic(multisig.NewWalletFromMnemonicArgs{
		Mnemonic: mnemonic,
		Network:  params,
	})
	if err != nil {
		return nil, err
	}

	var fingerprint domain.Fingerprint
	copy(fingerprint[:], wallet.MasterFingerprint())

	return &signer{
		ref:         ref,
		network:     domain.NormalizeNetwork(network),
		fingerprint: fingerprint,
		wallet:      wallet,
	}, nil
}

// LoadSigner decrypts the mnemonic with the given reference from the store and
// returns its adapter.
func LoadSigner(
	store ports.MnemonicStore, ref, password, network string,
) (ports.SignerAdapter, error) {
	mnemonic, err := store.Get(ref, password)
	if err != nil {
		return nil, fmt.Errorf("failed to load mnemonic %s: %w", ref, err)
	}
	return NewSigner(ref, mnemonic, network)
}

func (s *signer) ID() string {
	return fmt.Sprintf("hot:%s", s.ref)
}

func (s *signer) Kind() domain.SignerKind {
	return domain.HotKind(s.ref)
}

// Probe never fails, keys are always available on this computer.
func (s *signer) Probe(_ context.Context) domain.Presence {
	return domain.Ready(s.fingerprint, "", s.network)
}

// Register is a no-op, there's nothing to teach to a hot signer about the
// wallet.
func (s *signer) Register(_ context.Context, _ string) error {
	return nil
}

func (s *signer) Sign(
	ctx context.Context, psbt string,
) (*domain.PartialSignatureSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewSignError(domain.SignTimeout, "signing request expired", err)
	}

	signed, err := s.wallet.SignPsbt(multisig.SignPsbtArgs{Psbt: psbt})
	if err != nil {
		if errors.Is(err, multisig.ErrNothingToSign) {
			return nil, domain.NewSignError(
				domain.SignDeclined, "no input spendable by this key", nil,
			)
		}
		return nil, domain.NewSignError(
			domain.SignDeviceError, "failed to sign psbt", err,
		)
	}

	return domain.PartialSignatureSetFromPsbt(s.fingerprint, signed)
}
