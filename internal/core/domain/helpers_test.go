package domain_test

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/vulpemventures/quorum/internal/core/domain"
)

func fingerprint(str string) domain.Fingerprint {
	fp, err := domain.ParseFingerprint(str)
	if err != nil {
		panic(err)
	}
	return fp
}

func newSignatureSet(fp domain.Fingerprint, numInputs int) *domain.PartialSignatureSet {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		panic(err)
	}
	sigs := make([]domain.PartialSignature, 0, numInputs)
	for i := 0; i < numInputs; i++ {
		hash := sha256.Sum256([]byte{byte(i)})
		sig := ecdsa.Sign(key, hash[:]).Serialize()
		sigs = append(sigs, domain.PartialSignature{
			InputIndex: i,
			PubKey:     key.PubKey().SerializeCompressed(),
			Signature:  append(sig, byte(txscript.SigHashAll)),
		})
	}
	return &domain.PartialSignatureSet{
		Fingerprint: fp,
		Signatures:  sigs,
	}
}
