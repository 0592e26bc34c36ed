package multiparty

import (
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/payjoin-receiver/internal/pjerr"
)

// FinalizedProposal holds two or more independently-signed PSBTs over the
// same unsigned transaction — one per participating sender — ready to be
// combined into a single broadcastable transaction (spec §4.7).
type FinalizedProposal struct {
	packets []*psbt.Packet
}

// NewFinalizedProposal wraps packets for combination. Every packet must
// share the same unsigned transaction; Combine does not itself verify this.
// It only checks that every packet has the same number of inputs as the
// first (ErrInconsistentPsbt otherwise) and does not compare outputs or the
// unsigned transactions, since the packets originate from the same merged
// UncheckedProposal built by UncheckedProposalBuilder.
func NewFinalizedProposal(packets []*psbt.Packet) (*FinalizedProposal, error) {
	if len(packets) < 2 {
		return nil, pjerr.ErrNotEnoughProposals
	}
	return &FinalizedProposal{packets: packets}, nil
}

// Combine merges every packet's per-input signing material into the first
// packet using standard PSBT combiner semantics (union partial sigs and
// finalized fields by input index), then extracts the final transaction.
// Every input must end up with a non-empty witness or scriptSig; otherwise
// the combine is incomplete and InputMissingWitnessOrScriptSig is returned
// rather than producing a transaction that can never be broadcast (spec
// §4.7).
func (f *FinalizedProposal) Combine() (*wire.MsgTx, error) {
	base := f.packets[0]
	for _, other := range f.packets[1:] {
		if len(other.Inputs) != len(base.Inputs) {
			return nil, pjerr.ErrInconsistentPsbt
		}
		for i := range base.Inputs {
			mergeInput(&base.Inputs[i], &other.Inputs[i])
		}
	}

	for i, in := range base.Inputs {
		if len(in.FinalScriptSig) == 0 && len(in.FinalScriptWitness) == 0 {
			return nil, pjerr.ErrInputMissingWitnessOrScriptSig.AtIndex(i)
		}
	}

	return psbt.Extract(base)
}

// mergeInput folds src's signing material into dst, BIP174 combiner-style:
// union PartialSigs by pubkey, and take src's finalized fields if dst has
// none yet.
func mergeInput(dst, src *psbt.PInput) {
	for _, sig := range src.PartialSigs {
		found := false
		for _, existing := range dst.PartialSigs {
			if bytesEqual(existing.PubKey, sig.PubKey) {
				found = true
				break
			}
		}
		if !found {
			dst.PartialSigs = append(dst.PartialSigs, sig)
		}
	}
	if len(dst.FinalScriptSig) == 0 && len(src.FinalScriptSig) != 0 {
		dst.FinalScriptSig = src.FinalScriptSig
	}
	if len(dst.FinalScriptWitness) == 0 && len(src.FinalScriptWitness) != 0 {
		dst.FinalScriptWitness = src.FinalScriptWitness
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
