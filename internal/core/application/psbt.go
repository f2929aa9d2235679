package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/shopspring/decimal"
	"github.com/vulpemventures/quorum/internal/core/domain"
)

const satsExponent = -8

// Aggregate merges the partial signatures of the given satisfied session into
// its psbt and returns it in base64 format.
func (c *SigningCoordinator) Aggregate(id string) (string, error) {
	r, err := c.runner(id)
	if err != nil {
		archived, archiveErr := c.archived(context.Background(), id)
		if archiveErr != nil {
			return "", err
		}
		if archived.Status != domain.SessionSatisfied || archived.FinalPsbt == "" {
			return "", domain.ErrSessionNotSatisfied
		}
		return archived.FinalPsbt, nil
	}
	s := r.snapshot()
	if s.Status != domain.SessionSatisfied {
		return "", domain.ErrSessionNotSatisfied
	}
	return AggregateSignatures(s.Psbt, s.SignatureSets())
}

// AggregateSignatures adds the given partial signatures to the base64 psbt.
// Signatures already present for the same input and key are skipped.
func AggregateSignatures(
	b64 string, sets []*domain.PartialSignatureSet,
) (string, error) {
	ptx, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	if err != nil {
		return "", err
	}

	for _, set := range sets {
		for _, sig := range set.Signatures {
			if sig.InputIndex < 0 || sig.InputIndex >= len(ptx.Inputs) {
				return "", fmt.Errorf(
					"%w: input %d out of range", domain.ErrMalformedSignatureSet, sig.InputIndex,
				)
			}
			in := &ptx.Inputs[sig.InputIndex]
			if hasPartialSig(in, sig.PubKey) {
				continue
			}
			in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
				PubKey:    sig.PubKey,
				Signature: sig.Signature,
			})
		}
	}
	return ptx.B64Encode()
}

type InputSummary struct {
	Outpoint string
	Amount   decimal.Decimal
	// NumSigs is the number of partial signatures already in the psbt.
	NumSigs int
}

type OutputSummary struct {
	Address string
	Script  string
	Amount  decimal.Decimal
}

// PsbtSummary is a human-readable view of a psbt, amounts are in BTC.
// Fee is known only if the amounts of all the inputs are.
type PsbtSummary struct {
	Txid     string
	Inputs   []InputSummary
	Outputs  []OutputSummary
	Fee      decimal.Decimal
	FeeKnown bool
}

// SummarizePsbt returns the summary of the given base64 psbt. Output
// addresses are encoded for the given network.
func SummarizePsbt(b64, network string) (*PsbtSummary, error) {
	params, err := domain.NetworkParams(network)
	if err != nil {
		return nil, err
	}
	ptx, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	if err != nil {
		return nil, err
	}

	tx := ptx.UnsignedTx
	summary := &PsbtSummary{
		Txid:     tx.TxHash().String(),
		Inputs:   make([]InputSummary, 0, len(tx.TxIn)),
		Outputs:  make([]OutputSummary, 0, len(tx.TxOut)),
		FeeKnown: true,
	}

	var totalIn, totalOut int64
	for i, in := range tx.TxIn {
		input := InputSummary{
			Outpoint: in.PreviousOutPoint.String(),
			NumSigs:  len(ptx.Inputs[i].PartialSigs),
		}
		if value, ok := inputValue(ptx.Inputs[i], in.PreviousOutPoint.Index); ok {
			input.Amount = decimal.New(value, satsExponent)
			totalIn += value
		} else {
			summary.FeeKnown = false
		}
		summary.Inputs = append(summary.Inputs, input)
	}

	for _, out := range tx.TxOut {
		output := OutputSummary{
			Script: hex.EncodeToString(out.PkScript),
			Amount: decimal.New(out.Value, satsExponent),
		}
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, params)
		if err == nil && len(addrs) == 1 {
			output.Address = addrs[0].EncodeAddress()
		}
		totalOut += out.Value
		summary.Outputs = append(summary.Outputs, output)
	}

	if summary.FeeKnown {
		summary.Fee = decimal.New(totalIn-totalOut, satsExponent)
	}
	return summary, nil
}

func inputValue(in psbt.PInput, prevIndex uint32) (int64, bool) {
	if in.WitnessUtxo != nil {
		return in.WitnessUtxo.Value, true
	}
	if in.NonWitnessUtxo != nil && int(prevIndex) < len(in.NonWitnessUtxo.TxOut) {
		return in.NonWitnessUtxo.TxOut[prevIndex].Value, true
	}
	return 0, false
}

func hasPartialSig(in *psbt.PInput, pubkey []byte) bool {
	for _, sig := range in.PartialSigs {
		if bytes.Equal(sig.PubKey, pubkey) {
			return true
		}
	}
	return false
}
