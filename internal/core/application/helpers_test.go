package application_test

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/quorum/internal/core/application"
	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
	"github.com/vulpemventures/quorum/internal/infrastructure/storage/db/inmemory"
	"github.com/vulpemventures/quorum/pkg/descriptor"
)

const (
	testTpub = "tpubD6NzVbkrYhZ4WaWSyoBvQwbpLkojyoTZPRsgXELWz3Popb3qkjcJyJUGLnL4qHHoQvao8ESaAstxYSnhyswJ76uZPStJRJCTKvosUCJZL5B"
	network  = domain.NetworkTestnet
)

var (
	ctx = context.Background()

	fpA         = fingerprint("aaaaaaaa")
	fpB         = fingerprint("bbbbbbbb")
	fpC         = fingerprint("cccccccc")
	fpUnrelated = fingerprint("dddddddd")
)

// ports.SignerAdapter
type mockAdapter struct {
	mock.Mock
	id   string
	kind domain.SignerKind
}

func newMockAdapter(id string, kind domain.SignerKind) *mockAdapter {
	return &mockAdapter{id: id, kind: kind}
}

func (m *mockAdapter) ID() string {
	return m.id
}

func (m *mockAdapter) Kind() domain.SignerKind {
	return m.kind
}

func (m *mockAdapter) Probe(ctx context.Context) domain.Presence {
	args := m.Called(ctx)
	return args.Get(0).(domain.Presence)
}

func (m *mockAdapter) Register(ctx context.Context, descriptor string) error {
	args := m.Called(ctx, descriptor)
	return args.Error(0)
}

func (m *mockAdapter) Sign(
	ctx context.Context, psbt string,
) (*domain.PartialSignatureSet, error) {
	args := m.Called(ctx, psbt)
	var sigs *domain.PartialSignatureSet
	if v := args.Get(0); v != nil {
		sigs = v.(*domain.PartialSignatureSet)
	}
	return sigs, args.Error(1)
}

// ports.DeviceEnumerator
type mockEnumerator struct {
	mock.Mock
}

func (m *mockEnumerator) Enumerate(ctx context.Context) ([]ports.SignerAdapter, error) {
	args := m.Called(ctx)
	var adapters []ports.SignerAdapter
	if v := args.Get(0); v != nil {
		adapters = v.([]ports.SignerAdapter)
	}
	return adapters, args.Error(1)
}

type testEnv struct {
	registry    *application.Registry
	repoManager ports.RepoManager
	pairing     *application.PairingService
	coordinator *application.SigningCoordinator
}

func newTestEnv(
	t *testing.T, threshold int, minVersions map[string]string,
	providerFactory application.ProviderAdapterFactory,
) *testEnv {
	desc, err := descriptor.Parse(testDescriptor(threshold, fpA, fpB, fpC))
	require.NoError(t, err)

	registry := application.NewRegistry()
	repoManager := inmemory.NewRepoManager()
	pairing := application.NewPairingService(
		registry, repoManager, desc, network, minVersions,
		200*time.Millisecond, providerFactory,
	)
	coordinator := application.NewSigningCoordinator(
		registry, repoManager,
		domain.NewThresholdPolicy(desc.Threshold(), desc.String()), time.Minute,
	)
	t.Cleanup(func() {
		pairing.Close()
		coordinator.Close()
		registry.Close()
		repoManager.Close()
	})
	return &testEnv{registry, repoManager, pairing, coordinator}
}

// addRegisteredHardware connects a hardware signer that registers the wallet
// descriptor without errors.
func (e *testEnv) addRegisteredHardware(
	t *testing.T, fp domain.Fingerprint,
) *mockAdapter {
	adapter := newMockAdapter("hid:"+fp.String(), domain.HardwareKind("ledger", "nano x"))
	adapter.On("Register", mock.Anything, mock.Anything).Return(nil)

	_, err := e.pairing.HandlePresence(
		ctx, adapter, domain.Ready(fp, "2.2.0", network),
	)
	require.NoError(t, err)
	e.pairing.Close()

	rec, err := e.registry.Get(fp)
	require.NoError(t, err)
	require.Equal(t, domain.StateRegistered, rec.State)
	return adapter
}

func testDescriptor(threshold int, fps ...domain.Fingerprint) string {
	keys := make([]string, 0, len(fps))
	for _, fp := range fps {
		keys = append(keys, fmt.Sprintf("[%s/48'/1'/0'/2']%s/<0;1>/*", fp, testTpub))
	}
	return fmt.Sprintf("wsh(sortedmulti(%d,%s))", threshold, strings.Join(keys, ","))
}

func fingerprint(str string) domain.Fingerprint {
	fp, err := domain.ParseFingerprint(str)
	if err != nil {
		panic(err)
	}
	return fp
}

// newTestPsbt returns a psbt spending a single p2wsh input.
func newTestPsbt(t *testing.T) (string, string) {
	tx := wire.NewMsgTx(2)
	prevHash := chainhash.DoubleHashH([]byte("prevout"))
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))

	witnessProgram := sha256.Sum256([]byte("script"))
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(witnessProgram[:]).Script()
	require.NoError(t, err)
	tx.AddTxOut(wire.NewTxOut(90000, script))

	ptx, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)
	ptx.Inputs[0].WitnessUtxo = wire.NewTxOut(100000, script)

	b64, err := ptx.B64Encode()
	require.NoError(t, err)
	return b64, tx.TxHash().String()
}

func newSignatureSet(fp domain.Fingerprint) *domain.PartialSignatureSet {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		panic(err)
	}
	hash := sha256.Sum256(fp[:])
	sig := append(
		ecdsa.Sign(key, hash[:]).Serialize(), byte(txscript.SigHashAll),
	)
	return &domain.PartialSignatureSet{
		Fingerprint: fp,
		Signatures: []domain.PartialSignature{{
			InputIndex: 0,
			PubKey:     key.PubKey().SerializeCompressed(),
			Signature:  sig,
		}},
	}
}
