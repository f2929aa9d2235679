package hwi_signer

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/quorum/internal/core/domain"
	path "github.com/vulpemventures/quorum/pkg/wallet/derivation-path"
	multisig "github.com/vulpemventures/quorum/pkg/wallet/multi-sig"
)

const (
	mnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	keyPath  = "m/48'/1'/0'/2'/0/0"
)

var ctx = context.Background()

// fakeHwi answers hwi commands with canned outputs.
type fakeHwi struct {
	lock      sync.Mutex
	enumerate string
	responses map[string]string
	calls     [][]string
	wallet    *multisig.Wallet
}

func (f *fakeHwi) run(_ context.Context, args ...string) ([]byte, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.calls = append(f.calls, args)
	if args[0] == "enumerate" {
		return []byte(f.enumerate), nil
	}

	// --device-type t --device-path p --chain c <command> ...
	command := args[6]
	if resp, ok := f.responses[command]; ok {
		return []byte(resp), fmt.Errorf("exit status 1")
	}
	if command == "signtx" {
		signed, err := f.wallet.SignPsbt(multisig.SignPsbtArgs{Psbt: args[7]})
		if err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf(`{"psbt": "%s", "signed": true}`, signed)), nil
	}
	return []byte(`{"success": true}`), nil
}

func (f *fakeHwi) countCalls(command string) int {
	f.lock.Lock()
	defer f.lock.Unlock()

	count := 0
	for _, c := range f.calls {
		if c[0] == command || (len(c) > 6 && c[6] == command) {
			count++
		}
	}
	return count
}

func TestDriver(t *testing.T) {
	w := newWallet(t)
	fp := fingerprintOf(w)

	fake := &fakeHwi{
		enumerate: fmt.Sprintf(`[
			{"type": "ledger", "model": "ledger_nano_s_plus", "path": "1-1", "fingerprint": "%s", "needs_pin_sent": false, "needs_passphrase_sent": false},
			{"type": "trezor", "model": "trezor_t", "path": "webusb:001:2", "needs_pin_sent": true, "needs_passphrase_sent": false},
			{"type": "coldcard", "model": "coldcard", "path": "2-1", "error": "Could not open client or get fingerprint information: busy", "code": -15}
		]`, fp),
		responses: map[string]string{},
		wallet:    w,
	}
	driver, err := NewDriver("", "testnet3", "")
	require.NoError(t, err)
	require.Equal(t, "test", driver.chain)
	driver.run = fake.run

	adapters, err := driver.Enumerate(ctx)
	require.NoError(t, err)
	require.Len(t, adapters, 3)
	require.Equal(t, "hwi:1-1", adapters[0].ID())
	require.Equal(t, domain.HardwareKind("ledger", "ledger_nano_s_plus"), adapters[0].Kind())

	ledger, trezor, coldcard := adapters[0], adapters[1], adapters[2]

	presence := ledger.Probe(ctx)
	require.Equal(t, domain.PresenceReady, presence.Status)
	require.Equal(t, fp, presence.Fingerprint)

	presence = trezor.Probe(ctx)
	require.Equal(t, domain.PresenceLocked, presence.Status)
	require.True(t, presence.Fingerprint.IsZero())

	presence = coldcard.Probe(ctx)
	require.Equal(t, domain.PresenceError, presence.Status)
	require.Equal(t, domain.AdapterTimeout, presence.Err.Kind)

	// Probes reuse the last enumeration.
	require.Equal(t, 1, fake.countCalls("enumerate"))

	t.Run("register", func(t *testing.T) {
		require.NoError(t, ledger.Register(ctx, "wsh(sortedmulti(2,...))"))

		fake.lock.Lock()
		fake.responses["register"] = `{"error": "The Trezor does not support wallet registration", "code": -9}`
		fake.lock.Unlock()

		err := trezor.Register(ctx, "wsh(sortedmulti(2,...))")
		var regErr *domain.RegistrationError
		require.ErrorAs(t, err, &regErr)
		require.Equal(t, domain.RegistrationUnsupported, regErr.Kind)

		fake.lock.Lock()
		fake.responses["register"] = `{"error": "Registration denied by the user", "code": -14}`
		fake.lock.Unlock()

		err = ledger.Register(ctx, "wsh(sortedmulti(2,...))")
		require.ErrorAs(t, err, &regErr)
		require.Equal(t, domain.RegistrationRejected, regErr.Kind)
	})

	t.Run("sign", func(t *testing.T) {
		ptx := newPsbt(t, w)

		sigs, err := ledger.Sign(ctx, ptx)
		require.NoError(t, err)
		require.Equal(t, fp, sigs.Fingerprint)
		require.Len(t, sigs.Signatures, 1)
		require.NoError(t, sigs.Validate(1))

		// Never unlocked.
		_, err = trezor.Sign(ctx, ptx)
		var signErr *domain.SignError
		require.ErrorAs(t, err, &signErr)
		require.Equal(t, domain.SignDeviceError, signErr.Kind)

		fake.lock.Lock()
		fake.responses["signtx"] = `{"error": "Sign transaction denied by the user", "code": -14}`
		fake.lock.Unlock()

		_, err = ledger.Sign(ctx, ptx)
		require.ErrorAs(t, err, &signErr)
		require.Equal(t, domain.SignDeclined, signErr.Kind)

		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = ledger.Sign(canceled, ptx)
		require.ErrorAs(t, err, &signErr)
		require.Equal(t, domain.SignTimeout, signErr.Kind)
	})

	t.Run("unplugged", func(t *testing.T) {
		fake.lock.Lock()
		fake.enumerate = `[]`
		fake.lock.Unlock()

		adapters, err := driver.Enumerate(ctx)
		require.NoError(t, err)
		require.Empty(t, adapters)
		require.Equal(t, domain.PresenceAbsent, ledger.Probe(ctx).Status)
	})

	t.Run("hwi error", func(t *testing.T) {
		fake.lock.Lock()
		fake.enumerate = `{"error": "Need to be root", "code": -16}`
		fake.lock.Unlock()

		_, err := driver.Enumerate(ctx)
		require.Error(t, err)
		require.Contains(t, err.Error(), "Need to be root")
	})

	_, err = NewDriver("", "liquid", "")
	require.ErrorIs(t, err, domain.ErrNetworkUnknown)
}

func newWallet(t *testing.T) *multisig.Wallet {
	params, err := domain.NetworkParams(domain.NetworkTestnet)
	require.NoError(t, err)
	w, err := multisig.NewWalletFromMnemonic(multisig.NewWalletFromMnemonicArgs{
		Mnemonic: strings.Split(mnemonic, " "),
		Network:  params,
	})
	require.NoError(t, err)
	return w
}

func fingerprintOf(w *multisig.Wallet) domain.Fingerprint {
	var fp domain.Fingerprint
	copy(fp[:], w.MasterFingerprint())
	return fp
}

func newPsbt(t *testing.T, w *multisig.Wallet) string {
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
		MasterKeyFingerprint: binary.LittleEndian.Uint32(w.MasterFingerprint()),
		Bip32Path:            derivationPath,
	}}

	b64, err := ptx.B64Encode()
	require.NoError(t, err)
	return b64
}
