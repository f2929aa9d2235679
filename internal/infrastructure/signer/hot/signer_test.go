package hot_signer_test

import (
	"context"
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/infrastructure/mnemonic-cypher/aes128"
	mnemonic_store "github.com/vulpemventures/quorum/internal/infrastructure/mnemonic-store/in-memory"
	hot_signer "github.com/vulpemventures/quorum/internal/infrastructure/signer/hot"
	path "github.com/vulpemventures/quorum/pkg/wallet/derivation-path"
	multisig "github.com/vulpemventures/quorum/pkg/wallet/multi-sig"
)

const (
	mnemonic = "legal winner thank year wave sausage worth useful legal winner thank yellow"
	password = "password"
	keyPath  = "m/48'/1'/0'/2'/0/0"
)

func TestHotSigner(t *testing.T) {
	store := mnemonic_store.NewInMemoryMnemonicStore(aes128.NewAES128Cypher())
	require.NoError(t, store.Set("main", mnemonic, password))

	_, err := hot_signer.LoadSigner(store, "main", "wrong", domain.NetworkTestnet)
	require.Error(t, err)

	signer, err := hot_signer.LoadSigner(store, "main", password, "testnet3")
	require.NoError(t, err)
	require.Equal(t, "hot:main", signer.ID())
	require.Equal(t, domain.HotKind("main"), signer.Kind())

	ctx := context.Background()
	presence := signer.Probe(ctx)
	require.Equal(t, domain.PresenceReady, presence.Status)
	require.Equal(t, domain.NetworkTestnet, presence.Network)
	require.False(t, presence.Fingerprint.IsZero())
	require.NoError(t, signer.Register(ctx, "wsh(...)"))

	fp := presence.Fingerprint
	ptx := newPsbt(t, fp)

	sigs, err := signer.Sign(ctx, ptx)
	require.NoError(t, err)
	require.Equal(t, fp, sigs.Fingerprint)
	require.Len(t, sigs.Signatures, 1)
	require.NoError(t, sigs.Validate(1))

	// Already signed.
	_, err = signer.Sign(ctx, sigs.Psbt)
	var signErr *domain.SignError
	require.ErrorAs(t, err, &signErr)
	require.Equal(t, domain.SignDeclined, signErr.Kind)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = signer.Sign(canceled, ptx)
	require.ErrorAs(t, err, &signErr)
	require.Equal(t, domain.SignTimeout, signErr.Kind)
}

func newPsbt(t *testing.T, fp domain.Fingerprint) string {
	params, err := domain.NetworkParams(domain.NetworkTestnet)
	require.NoError(t, err)
	w, err := multisig.NewWalletFromMnemonic(multisig.NewWalletFromMnemonicArgs{
		Mnemonic: strings.Split(mnemonic, " "),
		Network:  params,
	})
	require.NoError(t, err)

	derivationPath, err := path.ParseDerivationPath(keyPath)
	require.NoError(t, err)
	_, pubkey, err := w.DeriveSigningKeyPair(derivationPath)
	require.NoError(t, err)

	witnessScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).AddData(pubkey.SerializeCompressed()).
		AddOp(txscript.OP_1).AddOp(txscript.OP_CHECKMULTISIG).Script()
	require.NoError(t, err)
	scriptHash := sha256.Sum256(witnessScript)
	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(scriptHash[:]).Script()
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	prevHash := chainhash.DoubleHashH([]byte("prevout"))
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(90000, pkScript))

	ptx, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)
	ptx.Inputs[0].WitnessUtxo = wire.NewTxOut(100000, pkScript)
	ptx.Inputs[0].WitnessScript = witnessScript
	ptx.Inputs[0].Bip32Derivation = []*psbt.Bip32Derivation{{
		PubKey:               pubkey.SerializeCompressed(),
		MasterKeyFingerprint: fp.Uint32(),
		Bip32Path:            derivationPath,
	}}

	b64, err := ptx.B64Encode()
	require.NoError(t, err)
	return b64
}
