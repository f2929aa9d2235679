package multisig_test

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	path "github.com/vulpemventures/quorum/pkg/wallet/derivation-path"
	wallet "github.com/vulpemventures/quorum/pkg/wallet/multi-sig"
)

var (
	testRootPath = "m/48'/1'/0'/2'"
	testKeyPath  = "m/48'/1'/0'/2'/0/0"
	mnemonic1    = strings.Split("legal winner thank year wave sausage worth useful legal winner thank yellow", " ")
	mnemonic2    = strings.Split("letter advice cage absurd amount doctor acoustic avoid letter advice cage above", " ")
	mnemonic3    = strings.Split("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", " ")
	network      = &chaincfg.TestNet3Params
)

func TestNewWallet(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		w, err := wallet.NewWallet(wallet.NewWalletArgs{Network: network})
		require.NoError(t, err)

		mnemonic, err := w.Mnemonic()
		require.NoError(t, err)
		require.Len(t, mnemonic, 24)

		otherWallet, err := wallet.NewWalletFromMnemonic(
			wallet.NewWalletFromMnemonicArgs{
				Mnemonic: mnemonic,
				Network:  network,
			},
		)
		require.NoError(t, err)
		require.Equal(t, w.MasterFingerprint(), otherWallet.MasterFingerprint())

		xpub, err := w.AccountExtendedPublicKey(testRootPath)
		require.NoError(t, err)
		otherXpub, err := otherWallet.AccountExtendedPublicKey(testRootPath)
		require.NoError(t, err)
		require.Equal(t, xpub, otherXpub)
		require.True(t, strings.HasPrefix(xpub, "tpub"))
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			args wallet.NewWalletFromMnemonicArgs
			err  error
		}{
			{
				args: wallet.NewWalletFromMnemonicArgs{
					Network: network,
				},
				err: wallet.ErrMissingMnemonic,
			},
			{
				args: wallet.NewWalletFromMnemonicArgs{
					Mnemonic: strings.Split("legal winner thank year wave sausage worth useful legal winner thank notaword", " "),
					Network:  network,
				},
				err: wallet.ErrInvalidMnemonic,
			},
			{
				args: wallet.NewWalletFromMnemonicArgs{
					Mnemonic: mnemonic1,
				},
				err: wallet.ErrMissingNetwork,
			},
		}

		for _, tt := range tests {
			w, err := wallet.NewWalletFromMnemonic(tt.args)
			require.ErrorIs(t, err, tt.err)
			require.Nil(t, w)
		}
	})
}

func TestAccountKeyOrigin(t *testing.T) {
	t.Parallel()

	w := newWallet(t, mnemonic1)

	origin, err := w.AccountKeyOrigin(testRootPath)
	require.NoError(t, err)

	fingerprint := hex.EncodeToString(w.MasterFingerprint())
	require.True(t, strings.HasPrefix(origin, "["+fingerprint+"/48h/1h/0h/2h]tpub"))

	_, err = w.AccountKeyOrigin("m/48'/1'/0'/2")
	require.ErrorIs(t, err, wallet.ErrInvalidRootPath)
	_, err = w.AccountKeyOrigin("")
	require.ErrorIs(t, err, wallet.ErrMissingRootPath)
}

func TestSignPsbt(t *testing.T) {
	t.Parallel()

	w1, w2 := newWallet(t, mnemonic1), newWallet(t, mnemonic2)
	keyPath, err := path.ParseDerivationPath(testKeyPath)
	require.NoError(t, err)

	_, pubkey1, err := w1.DeriveSigningKeyPair(keyPath)
	require.NoError(t, err)
	_, pubkey2, err := w2.DeriveSigningKeyPair(keyPath)
	require.NoError(t, err)

	witnessScript := multisigScript(t, pubkey1, pubkey2)
	ptx := newMultisigPsbt(t, witnessScript, keyPath, map[*wallet.Wallet]*btcec.PublicKey{
		w1: pubkey1, w2: pubkey2,
	})

	signed, err := w1.SignPsbt(wallet.SignPsbtArgs{Psbt: ptx})
	require.NoError(t, err)

	p, err := psbt.NewFromRawBytes(strings.NewReader(signed), true)
	require.NoError(t, err)
	require.Len(t, p.Inputs[0].PartialSigs, 1)

	partialSig := p.Inputs[0].PartialSigs[0]
	require.Equal(t, pubkey1.SerializeCompressed(), partialSig.PubKey)
	require.Equal(t, byte(txscript.SigHashAll), partialSig.Signature[len(partialSig.Signature)-1])

	// The signature commits to the input being spent.
	fetcher := txscript.NewCannedPrevOutputFetcher(
		p.Inputs[0].WitnessUtxo.PkScript, p.Inputs[0].WitnessUtxo.Value,
	)
	hash, err := txscript.CalcWitnessSigHash(
		witnessScript, txscript.NewTxSigHashes(p.UnsignedTx, fetcher),
		txscript.SigHashAll, p.UnsignedTx, 0, p.Inputs[0].WitnessUtxo.Value,
	)
	require.NoError(t, err)
	sig, err := ecdsa.ParseDERSignature(
		partialSig.Signature[:len(partialSig.Signature)-1],
	)
	require.NoError(t, err)
	require.True(t, sig.Verify(hash, pubkey1))

	// The second cosigner adds its own signature.
	signed, err = w2.SignPsbt(wallet.SignPsbtArgs{Psbt: signed})
	require.NoError(t, err)
	p, err = psbt.NewFromRawBytes(strings.NewReader(signed), true)
	require.NoError(t, err)
	require.Len(t, p.Inputs[0].PartialSigs, 2)

	t.Run("invalid", func(t *testing.T) {
		_, err := w1.SignPsbt(wallet.SignPsbtArgs{Psbt: signed})
		require.ErrorIs(t, err, wallet.ErrNothingToSign)

		_, err = newWallet(t, mnemonic3).SignPsbt(wallet.SignPsbtArgs{Psbt: ptx})
		require.ErrorIs(t, err, wallet.ErrNothingToSign)

		_, err = w1.SignPsbt(wallet.SignPsbtArgs{})
		require.ErrorIs(t, err, wallet.ErrMissingPsbt)
	})
}

func newWallet(t *testing.T, mnemonic []string) *wallet.Wallet {
	w, err := wallet.NewWalletFromMnemonic(wallet.NewWalletFromMnemonicArgs{
		Mnemonic: mnemonic,
		Network:  network,
	})
	require.NoError(t, err)
	return w
}

func multisigScript(t *testing.T, pubkeys ...*btcec.PublicKey) []byte {
	builder := txscript.NewScriptBuilder().AddOp(txscript.OP_2)
	for _, key := range pubkeys {
		builder.AddData(key.SerializeCompressed())
	}
	script, err := builder.AddOp(txscript.OP_2).
		AddOp(txscript.OP_CHECKMULTISIG).Script()
	require.NoError(t, err)
	return script
}

func newMultisigPsbt(
	t *testing.T, witnessScript []byte, keyPath path.DerivationPath,
	keys map[*wallet.Wallet]*btcec.PublicKey,
) string {
	scriptHash := sha256.Sum256(witnessScript)
	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(scriptHash[:]).Script()
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	prevHash := chainhash.DoubleHashH([]byte("prevout"))
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 1), nil, nil))
	tx.AddTxOut(wire.NewTxOut(90000, pkScript))

	ptx, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	in := &ptx.Inputs[0]
	in.WitnessUtxo = wire.NewTxOut(100000, pkScript)
	in.WitnessScript = witnessScript
	for w, pubkey := range keys {
		fp := w.MasterFingerprint()
		in.Bip32Derivation = append(in.Bip32Derivation, &psbt.Bip32Derivation{
			PubKey: pubkey.SerializeCompressed(),
			MasterKeyFingerprint: uint32(fp[0]) | uint32(fp[1])<<8 |
				uint32(fp[2])<<16 | uint32(fp[3])<<24,
			Bip32Path: keyPath,
		})
	}

	b64, err := ptx.B64Encode()
	require.NoError(t, err)
	return b64
}
