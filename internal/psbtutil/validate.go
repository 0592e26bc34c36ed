// Package psbtutil wraps a *psbt.Packet so that, once validated, the
// previous TxOut spent by every input can be resolved consistently between
// witness_utxo and non_witness_utxo (spec §3 "Validated PSBT", §4.2).
package psbtutil

import (
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/payjoin-receiver/internal/pjerr"
)

// Validated wraps a *psbt.Packet known to have matching input/output
// counts against its unsigned transaction.
type Validated struct {
	pkt *psbt.Packet
}

// Validate enforces |unsigned_tx.inputs| == |psbt.inputs| and the same for
// outputs (spec §3).
func Validate(pkt *psbt.Packet) (*Validated, error) {
	if pkt == nil || pkt.UnsignedTx == nil {
		return nil, pjerr.ErrInconsistentPsbt
	}
	if len(pkt.UnsignedTx.TxIn) != len(pkt.Inputs) {
		return nil, pjerr.ErrInconsistentPsbt
	}
	if len(pkt.UnsignedTx.TxOut) != len(pkt.Outputs) {
		return nil, pjerr.ErrInconsistentPsbt
	}
	return &Validated{pkt: pkt}, nil
}

// Packet returns the underlying PSBT.
func (v *Validated) Packet() *psbt.Packet { return v.pkt }

// InputPair is one (TxIn, PInput) pair at a fixed index.
type InputPair struct {
	Index int
	TxIn  *wire.TxIn
	PSBT  *psbt.PInput
}

// InputPairs iterates the (TxIn, PInput) pairs in order.
func (v *Validated) InputPairs() []InputPair {
	pairs := make([]InputPair, len(v.pkt.Inputs))
	for i := range v.pkt.Inputs {
		pairs[i] = InputPair{
			Index: i,
			TxIn:  v.pkt.UnsignedTx.TxIn[i],
			PSBT:  &v.pkt.Inputs[i],
		}
	}
	return pairs
}

// PreviousTxOut resolves the TxOut spent by pair, per spec §3/§4.2:
// witness_utxo is preferred, non_witness_utxo is cross-checked against it
// when both are present, and exactly one consistent source must exist.
func PreviousTxOut(pair InputPair) (*wire.TxOut, error) {
	hasWitness := pair.PSBT.WitnessUtxo != nil
	hasNonWitness := pair.PSBT.NonWitnessUtxo != nil

	if !hasWitness && !hasNonWitness {
		return nil, pjerr.ErrMissingUtxoInformation
	}

	var fromNonWitness *wire.TxOut
	if hasNonWitness {
		nonWitnessTx := pair.PSBT.NonWitnessUtxo
		if nonWitnessTx.TxHash() != pair.TxIn.PreviousOutPoint.Hash {
			return nil, pjerr.ErrUnequalTxid
		}
		vout := pair.TxIn.PreviousOutPoint.Index
		if int(vout) >= len(nonWitnessTx.TxOut) {
			return nil, pjerr.ErrIndexOutOfBounds
		}
		fromNonWitness = nonWitnessTx.TxOut[vout]
	}

	if !hasWitness {
		return fromNonWitness, nil
	}
	if !hasNonWitness {
		return pair.PSBT.WitnessUtxo, nil
	}

	// Both present: they must agree.
	w := pair.PSBT.WitnessUtxo
	if w.Value != fromNonWitness.Value || string(w.PkScript) != string(fromNonWitness.PkScript) {
		return nil, pjerr.ErrSegWitTxOutMismatch
	}
	return w, nil
}

// ValidateInputUtxos applies PreviousTxOut to every input, returning the
// first failure with its index. If treatMissingAsError is false,
// ErrMissingUtxoInformation is tolerated (the input is simply skipped) —
// used when a caller only needs whichever previous outputs are already
// available, e.g. while the PSBT is still being assembled.
func (v *Validated) ValidateInputUtxos(treatMissingAsError bool) (map[int]*wire.TxOut, error) {
	out := make(map[int]*wire.TxOut, len(v.pkt.Inputs))
	for _, pair := range v.InputPairs() {
		txOut, err := PreviousTxOut(pair)
		if err != nil {
			if err == pjerr.ErrMissingUtxoInformation && !treatMissingAsError {
				continue
			}
			return nil, indexedErr(pair.Index, err)
		}
		out[pair.Index] = txOut
	}
	return out, nil
}

func indexedErr(index int, err error) error {
	if pjErr, ok := err.(*pjerr.Error); ok {
		return pjErr.AtIndex(index)
	}
	return err
}
