package multisig

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	path "github.com/vulpemventures/quorum/pkg/wallet/derivation-path"
)

type SignPsbtArgs struct {
	Psbt string
}

func (a SignPsbtArgs) validate() error {
	if a.Psbt == "" {
		return ErrMissingPsbt
	}
	return nil
}

// SignPsbt adds a partial signature for every P2WSH input with a BIP32
// derivation of a key of this wallet, and returns the updated psbt in base64
// format. Inputs that can't be signed by the wallet are left untouched.
func (w *Wallet) SignPsbt(args SignPsbtArgs) (string, error) {
	if err := args.validate(); err != nil {
		return "", err
	}
	if err := w.validate(); err != nil {
		return "", err
	}

	ptx, err := psbt.NewFromRawBytes(strings.NewReader(args.Psbt), true)
	if err != nil {
		return "", err
	}

	prevOutFetcher, err := getPrevOutFetcher(ptx)
	if err != nil {
		return "", err
	}
	sigHashes := txscript.NewTxSigHashes(ptx.UnsignedTx, prevOutFetcher)
	fingerprint := w.fingerprintUint32()

	signed := 0
	for i := range ptx.Inputs {
		in := &ptx.Inputs[i]
		if len(in.WitnessScript) == 0 {
			continue
		}
		prevOut := prevOutFetcher.FetchPrevOutput(
			ptx.UnsignedTx.TxIn[i].PreviousOutPoint,
		)

		for _, derivation := range in.Bip32Derivation {
			if derivation.MasterKeyFingerprint != fingerprint {
				continue
			}
			if hasPartialSig(in, derivation.PubKey) {
				continue
			}

			prvkey, pubkey, err := w.DeriveSigningKeyPair(
				path.DerivationPath(derivation.Bip32Path),
			)
			if err != nil {
				return "", err
			}
			if !bytes.Equal(pubkey.SerializeCompressed(), derivation.PubKey) {
				continue
			}

			sighashType := txscript.SigHashAll
			if in.SighashType != 0 {
				sighashType = in.SighashType
			}
			hash, err := txscript.CalcWitnessSigHash(
				in.WitnessScript, sigHashes, sighashType, ptx.UnsignedTx, i,
				prevOut.Value,
			)
			if err != nil {
				return "", err
			}
			sig := ecdsa.Sign(prvkey, hash)

			in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
				PubKey:    derivation.PubKey,
				Signature: append(sig.Serialize(), byte(sighashType)),
			})
			signed++
		}
	}

	if signed == 0 {
		return "", ErrNothingToSign
	}
	return ptx.B64Encode()
}

func (w *Wallet) fingerprintUint32() uint32 {
	// psbt key origins store the fingerprint as a little-endian uint32.
	return binary.LittleEndian.Uint32(w.fingerprint)
}

func getPrevOutFetcher(ptx *psbt.Packet) (*txscript.MultiPrevOutFetcher, error) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range ptx.Inputs {
		outpoint := ptx.UnsignedTx.TxIn[i].PreviousOutPoint
		switch {
		case in.WitnessUtxo != nil:
			fetcher.AddPrevOut(outpoint, in.WitnessUtxo)
		case in.NonWitnessUtxo != nil &&
			int(outpoint.Index) < len(in.NonWitnessUtxo.TxOut):
			prevOut := in.NonWitnessUtxo.TxOut[outpoint.Index]
			fetcher.AddPrevOut(outpoint, wire.NewTxOut(prevOut.Value, prevOut.PkScript))
		default:
			return nil, ErrMissingPrevOuts
		}
	}
	return fetcher, nil
}

func hasPartialSig(in *psbt.PInput, pubkey []byte) bool {
	for _, sig := range in.PartialSigs {
		if bytes.Equal(sig.PubKey, pubkey) {
			return true
		}
	}
	return false
}
