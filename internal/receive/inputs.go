package receive

import (
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/payjoin-receiver/internal/pjerr"
	"github.com/rawblock/payjoin-receiver/internal/scripttype"
)

// CandidateInput is one UTXO the receiver's wallet could contribute to the
// payjoin, offered to ContributeInputs/TryPreservingPrivacy (spec §4.6
// step 7). Exactly one of WitnessUtxo/NonWitnessUtxo must be set, mirroring
// a PSBT input's own utxo fields.
type CandidateInput struct {
	Outpoint       wire.OutPoint
	WitnessUtxo    *wire.TxOut
	NonWitnessUtxo *wire.MsgTx
	FinalScriptSig []byte
}

func (c CandidateInput) prevOut() (*wire.TxOut, error) {
	if c.WitnessUtxo != nil {
		return c.WitnessUtxo, nil
	}
	if c.NonWitnessUtxo != nil {
		idx := int(c.Outpoint.Index)
		if idx >= len(c.NonWitnessUtxo.TxOut) {
			return nil, pjerr.ErrIndexOutOfBounds
		}
		return c.NonWitnessUtxo.TxOut[idx], nil
	}
	return nil, pjerr.ErrMissingUtxoInformation
}

func (c CandidateInput) value() (int64, error) {
	out, err := c.prevOut()
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

// WantsInputs is a proposal with a committed output set, ready for the
// receiver to contribute its own inputs (spec §4.6 step 7).
type WantsInputs struct {
	proposal       *UncheckedProposal
	scriptCategory *scripttype.Type
	ownedVouts     []int
	contributed    []CandidateInput
}

// TryPreservingPrivacy picks one candidate out of the offered set that,
// once added to the transaction, does not trip the "unnecessary input"
// heuristic against the transaction's current inputs and outputs (spec
// §4.6 step 7, C8). The caller is expected to call this repeatedly,
// feeding each pick into ContributeInputs, until enough value has been
// gathered or TryPreservingPrivacy returns NotEnoughFunds.
func (w *WantsInputs) TryPreservingPrivacy(candidates map[wire.OutPoint]int64) (wire.OutPoint, error) {
	existing, err := w.existingInputValues()
	if err != nil {
		return wire.OutPoint{}, err
	}
	outputs := outputValues(w.proposal.original.Packet().UnsignedTx)
	return selectPreservingPrivacy(existing, outputs, candidates)
}

func (w *WantsInputs) existingInputValues() ([]int64, error) {
	prevouts, err := w.proposal.original.ValidateInputUtxos(true)
	if err != nil {
		return nil, err
	}
	vals := make([]int64, 0, len(prevouts)+len(w.contributed))
	for _, out := range prevouts {
		vals = append(vals, out.Value)
	}
	for _, c := range w.contributed {
		v, err := c.value()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func outputValues(tx *wire.MsgTx) []int64 {
	vals := make([]int64, len(tx.TxOut))
	for i, out := range tx.TxOut {
		vals[i] = out.Value
	}
	return vals
}

// ContributeInputs adds candidates to the transaction as new inputs,
// rejecting any whose script type doesn't match the category established
// by CheckNoMixedInputScripts (spec §4.6 step 7, §4.6.3: the mixed-script
// rule applies to contributed inputs too).
func (w *WantsInputs) ContributeInputs(candidates []CandidateInput) error {
	for _, c := range candidates {
		prevOut, err := c.prevOut()
		if err != nil {
			return err
		}
		if w.scriptCategory != nil {
			cls, err := scripttype.Classify(prevOut, c.FinalScriptSig, nil)
			if err != nil {
				return err
			}
			if cls.Type.Category() != *w.scriptCategory {
				return pjerr.ErrMixedInputScripts
			}
		}
		w.contributed = append(w.contributed, c)
	}
	return nil
}

// CommitInputs locks in the contributed inputs, adds their combined value
// to the receiver's primary output, and advances to signing (spec §4.6
// step 7 complete, step 7.1 "bump the receiver output by the contributed
// value"). The first receiver-owned output (as found by
// IdentifyReceiverOutputs) is the one credited.
func (w *WantsInputs) CommitInputs() (*ProvisionalProposal, error) {
	pkt := w.proposal.original.Packet()

	var totalContributed int64
	locked := make([]wire.OutPoint, 0, len(w.contributed))
	for _, c := range w.contributed {
		val, err := c.value()
		if err != nil {
			return nil, err
		}
		totalContributed += val

		pkt.UnsignedTx.AddTxIn(wire.NewTxIn(&c.Outpoint, nil, nil))
		pkt.Inputs = append(pkt.Inputs, psbt.PInput{
			WitnessUtxo:    c.WitnessUtxo,
			NonWitnessUtxo: c.NonWitnessUtxo,
			FinalScriptSig: c.FinalScriptSig,
		})
		locked = append(locked, c.Outpoint)
	}

	changeVout := w.ownedVouts[0]
	out := pkt.UnsignedTx.TxOut[changeVout]
	out.Value += totalContributed
	if isDust(out.Value) {
		return nil, pjerr.Wrap(pjerr.KindReplyable, "NotEnoughFunds",
			"contribution would leave the receiver output below the dust limit", nil)
	}

	return &ProvisionalProposal{
		proposal:        w.proposal,
		ownedVouts:      w.ownedVouts,
		lockedOutpoints: locked,
	}, nil
}
