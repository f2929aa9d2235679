package provider_signer_test

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
	provider_signer "github.com/vulpemventures/quorum/internal/infrastructure/signer/provider"
	path "github.com/vulpemventures/quorum/pkg/wallet/derivation-path"
	multisig "github.com/vulpemventures/quorum/pkg/wallet/multi-sig"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	mnemonic = "letter advice cage absurd amount doctor acoustic avoid letter advice cage above"
	token    = "9e1b-44fa"
	keyPath  = "m/48'/1'/0'/2'/0/0"
)

var ctx = context.Background()

// keyProvider serves the provider key service with an in-memory key.
type keyProvider struct {
	wallet       *multisig.Wallet
	canRegister  atomic.Bool
	declineSigns atomic.Bool

	lock        sync.Mutex
	descriptors []string
}

func (p *keyProvider) handle(_ interface{}, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	md, _ := metadata.FromIncomingContext(stream.Context())
	if auth := md.Get("authorization"); len(auth) != 1 || auth[0] != "Bearer "+token {
		return status.Error(codes.Unauthenticated, "invalid token")
	}

	req := &structpb.Struct{}
	if err := stream.RecvMsg(req); err != nil {
		return err
	}

	var resp map[string]interface{}
	switch strings.TrimPrefix(method, "/quorum.provider.v1.KeyService/") {
	case "GetKeyInfo":
		resp = map[string]interface{}{
			"fingerprint": hex.EncodeToString(p.wallet.MasterFingerprint()),
			"network":     "testnet",
		}
	case "RegisterWallet":
		if !p.canRegister.Load() {
			return status.Error(codes.Unimplemented, "not implemented")
		}
		p.lock.Lock()
		p.descriptors = append(p.descriptors, req.GetFields()["descriptor"].GetStringValue())
		p.lock.Unlock()
		resp = map[string]interface{}{}
	case "SignPsbt":
		if p.declineSigns.Load() {
			return status.Error(codes.PermissionDenied, "spending policy violated")
		}
		signed, err := p.wallet.SignPsbt(multisig.SignPsbtArgs{
			Psbt: req.GetFields()["psbt"].GetStringValue(),
		})
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		resp = map[string]interface{}{"psbt": signed}
	default:
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}

	msg, err := structpb.NewStruct(resp)
	if err != nil {
		return err
	}
	return stream.SendMsg(msg)
}

func (p *keyProvider) registered() []string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]string{}, p.descriptors...)
}

func TestProviderSigner(t *testing.T) {
	provider := newKeyProvider(t)
	addr := serve(t, provider)

	signer := newSigner(t, addr, token)
	require.Equal(t, domain.ProviderKeyKind("acme", token), signer.Kind())

	// Signing requires to reach the key first.
	ptx := newPsbt(t, provider.wallet)
	_, err := signer.Sign(ctx, ptx)
	var signErr *domain.SignError
	require.ErrorAs(t, err, &signErr)
	require.Equal(t, domain.SignDeviceError, signErr.Kind)

	presence := signer.Probe(ctx)
	require.Equal(t, domain.PresenceReady, presence.Status)
	require.Equal(t, hex.EncodeToString(provider.wallet.MasterFingerprint()), presence.Fingerprint.String())
	require.Equal(t, "testnet", presence.Network)

	err = signer.Register(ctx, "wsh(sortedmulti(2,...))")
	var regErr *domain.RegistrationError
	require.ErrorAs(t, err, &regErr)
	require.Equal(t, domain.RegistrationUnsupported, regErr.Kind)

	provider.canRegister.Store(true)
	require.NoError(t, signer.Register(ctx, "wsh(sortedmulti(2,...))"))
	require.Equal(t, []string{"wsh(sortedmulti(2,...))"}, provider.registered())

	sigs, err := signer.Sign(ctx, ptx)
	require.NoError(t, err)
	require.Equal(t, presence.Fingerprint, sigs.Fingerprint)
	require.Len(t, sigs.Signatures, 1)
	require.NoError(t, sigs.Validate(1))

	provider.declineSigns.Store(true)
	_, err = signer.Sign(ctx, ptx)
	require.ErrorAs(t, err, &signErr)
	require.Equal(t, domain.SignDeclined, signErr.Kind)
	require.Contains(t, signErr.Reason, "spending policy violated")
}

func TestProviderSignerFailures(t *testing.T) {
	provider := newKeyProvider(t)
	addr := serve(t, provider)

	presence := newSigner(t, addr, "wrong").Probe(ctx)
	require.Equal(t, domain.PresenceError, presence.Status)
	require.Equal(t, domain.AdapterProtocolError, presence.Err.Kind)
	require.True(t, presence.Err.Unauthorized)
	require.Equal(t, "key token rejected", presence.Err.Reason)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	unreachable := lis.Addr().String()
	lis.Close()

	presence = newSigner(t, unreachable, token).Probe(ctx)
	require.Equal(t, domain.PresenceError, presence.Status)
	require.Equal(t, domain.AdapterDisconnected, presence.Err.Kind)

	_, err = provider_signer.NewSigner(provider_signer.Config{Service: "acme", Addr: addr})
	require.Error(t, err)
}

func newKeyProvider(t *testing.T) *keyProvider {
	params, err := domain.NetworkParams(domain.NetworkTestnet)
	require.NoError(t, err)
	w, err := multisig.NewWalletFromMnemonic(multisig.NewWalletFromMnemonicArgs{
		Mnemonic: strings.Split(mnemonic, " "),
		Network:  params,
	})
	require.NoError(t, err)
	return &keyProvider{wallet: w}
}

func serve(t *testing.T, provider *keyProvider) string {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer(grpc.UnknownServiceHandler(provider.handle))
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	return lis.Addr().String()
}

func newSigner(t *testing.T, addr, token string) ports.SignerAdapter {
	signer, err := provider_signer.NewSigner(provider_signer.Config{
		Service:  "acme",
		Addr:     addr,
		Token:    token,
		Insecure: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		signer.(io.Closer).Close()
	})
	return signer
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

	fp := w.MasterFingerprint()
	ptx.Inputs[0].WitnessUtxo = wire.NewTxOut(100000, pkScript)
	ptx.Inputs[0].WitnessScript = witnessScript
	ptx.Inputs[0].Bip32Derivation = []*psbt.Bip32Derivation{{
		PubKey:               pubkey.SerializeCompressed(),
		MasterKeyFingerprint: binary.LittleEndian.Uint32(fp),
		Bip32Path:            derivationPath,
	}}

	b64, err := ptx.B64Encode()
	require.NoError(t, err)
	return b64
}
