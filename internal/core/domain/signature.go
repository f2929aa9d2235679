package domain

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/psbt"
)

const (
	minSigLen = 9
	maxSigLen = 73
)

// PartialSignature is the signature of one key for one input of a psbt.
// The signature is DER encoded with the trailing sighash type byte.
type PartialSignature struct {
	InputIndex int
	PubKey     []byte
	Signature  []byte
}

func (s PartialSignature) equal(o PartialSignature) bool {
	return s.InputIndex == o.InputIndex &&
		bytes.Equal(s.PubKey, o.PubKey) &&
		bytes.Equal(s.Signature, o.Signature)
}

// PartialSignatureSet is the contribution of a single participant to the
// signing of a psbt.
type PartialSignatureSet struct {
	Fingerprint Fingerprint
	Signatures  []PartialSignature
	// Psbt is the base64 psbt returned by the signer, if any.
	Psbt string
}

// PartialSignatureSetFromPsbt extracts from the given base64 psbt the partial
// signatures made with keys derived from the given master fingerprint.
func PartialSignatureSetFromPsbt(
	fingerprint Fingerprint, b64 string,
) (*PartialSignatureSet, error) {
	ptx, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	if err != nil {
		return nil, err
	}

	sigs := make([]PartialSignature, 0)
	for i, in := range ptx.Inputs {
		for _, sig := range in.PartialSigs {
			if !derivedFrom(in.Bip32Derivation, sig.PubKey, fingerprint) {
				continue
			}
			sigs = append(sigs, PartialSignature{
				InputIndex: i,
				PubKey:     sig.PubKey,
				Signature:  sig.Signature,
			})
		}
	}

	return &PartialSignatureSet{
		Fingerprint: fingerprint,
		Signatures:  sigs,
		Psbt:        b64,
	}, nil
}

// Validate checks the structural well-formedness of the set: it must contain
// at least one signature, every pubkey must be a valid compressed key and
// every signature a DER encoded ecdsa signature followed by the sighash type.
// If numInputs is positive, input indexes are checked to be in range.
// Signatures are never verified.
func (s *PartialSignatureSet) Validate(numInputs int) error {
	if s == nil || len(s.Signatures) == 0 {
		return ErrEmptySignatureSet
	}
	for _, sig := range s.Signatures {
		if sig.InputIndex < 0 || (numInputs > 0 && sig.InputIndex >= numInputs) {
			return ErrMalformedSignatureSet
		}
		if len(sig.PubKey) != btcec.PubKeyBytesLenCompressed {
			return ErrMalformedSignatureSet
		}
		if _, err := btcec.ParsePubKey(sig.PubKey); err != nil {
			return ErrMalformedSignatureSet
		}
		if len(sig.Signature) < minSigLen || len(sig.Signature) > maxSigLen {
			return ErrMalformedSignatureSet
		}
		der := sig.Signature[:len(sig.Signature)-1]
		if _, err := ecdsa.ParseDERSignature(der); err != nil {
			return ErrMalformedSignatureSet
		}
	}
	return nil
}

// Equal returns whether the two sets contain the same signatures, regardless
// of the psbt they were extracted from.
func (s *PartialSignatureSet) Equal(o *PartialSignatureSet) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Fingerprint != o.Fingerprint || len(s.Signatures) != len(o.Signatures) {
		return false
	}
	for i := range s.Signatures {
		if !s.Signatures[i].equal(o.Signatures[i]) {
			return false
		}
	}
	return true
}

func (s *PartialSignatureSet) copy() *PartialSignatureSet {
	if s == nil {
		return nil
	}
	sigs := make([]PartialSignature, 0, len(s.Signatures))
	for _, sig := range s.Signatures {
		sigs = append(sigs, PartialSignature{
			InputIndex: sig.InputIndex,
			PubKey:     append([]byte{}, sig.PubKey...),
			Signature:  append([]byte{}, sig.Signature...),
		})
	}
	return &PartialSignatureSet{
		Fingerprint: s.Fingerprint,
		Signatures:  sigs,
		Psbt:        s.Psbt,
	}
}

// TxidUnsigned returns the hash of the unsigned transaction of the given
// base64 psbt, along with the number of its inputs.
func TxidUnsigned(b64 string) (string, int, error) {
	if b64 == "" {
		return "", 0, ErrMissingPsbt
	}
	ptx, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %s", ErrMalformedPsbt, err)
	}
	return ptx.UnsignedTx.TxHash().String(), len(ptx.UnsignedTx.TxIn), nil
}

func derivedFrom(
	derivations []*psbt.Bip32Derivation, pubkey []byte, fingerprint Fingerprint,
) bool {
	for _, d := range derivations {
		if bytes.Equal(d.PubKey, pubkey) {
			return d.MasterKeyFingerprint == fingerprint.Uint32()
		}
	}
	return false
}
