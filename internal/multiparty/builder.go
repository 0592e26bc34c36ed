// Package multiparty implements the receiver-side aggregator for batched
// Payjoin (spec §4.7): accumulating several senders' v2 proposals that have
// opted into an optimistic merge, and combining their independently-signed
// results back into one transaction.
package multiparty

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/payjoin-receiver/internal/pjerr"
	"github.com/rawblock/payjoin-receiver/internal/receive"
)

// UncheckedProposalBuilder accumulates sender proposals that opted into an
// optimistic merge and, once at least two have been accepted, merges them
// into a single UncheckedProposal that runs through the ordinary §4.6
// pipeline once.
type UncheckedProposalBuilder struct {
	accepted []*receive.UncheckedProposal
}

// NewBuilder returns an empty builder.
func NewBuilder() *UncheckedProposalBuilder {
	return &UncheckedProposalBuilder{}
}

// Add offers one sender's proposal to the batch. Only proposals advertising
// v==2 and optimisticmerge==true are eligible; any other is rejected with a
// specific sentinel rather than silently dropped, so the caller can reply
// to that sender individually (original_source's multiparty/error.rs
// distinguishes these rather than collapsing them into one generic error).
func (b *UncheckedProposalBuilder) Add(p *receive.UncheckedProposal) error {
	params := p.Params()
	if params.V != 2 {
		return pjerr.ErrMismatchedVersion
	}
	if !params.OptimisticMerge {
		return pjerr.ErrOptimisticMergeRequired
	}
	b.accepted = append(b.accepted, p)
	return nil
}

// Len reports how many proposals have been accepted so far.
func (b *UncheckedProposalBuilder) Len() int { return len(b.accepted) }

// Build merges every accepted proposal's unsigned transaction into one: the
// union of inputs (ordered by outpoint) and the union of outputs (ordered
// by value, then scriptPubKey for a deterministic tie-break), discarding
// exact duplicates contributed by more than one sender. The merged params
// are taken from the first accepted proposal (spec §4.7).
func (b *UncheckedProposalBuilder) Build() (*receive.UncheckedProposal, error) {
	if len(b.accepted) < 2 {
		return nil, pjerr.ErrNotEnoughProposals
	}

	ins := mergeInputs(b.accepted)
	outs := mergeOutputs(b.accepted)

	mergedTx := wire.NewMsgTx(wire.TxVersion)
	pInputs := make([]psbt.PInput, 0, len(ins))
	for _, e := range ins {
		mergedTx.AddTxIn(wire.NewTxIn(&e.outpoint, nil, nil))
		pInputs = append(pInputs, e.pin)
	}
	pOutputs := make([]psbt.POutput, 0, len(outs))
	for _, e := range outs {
		mergedTx.AddTxOut(wire.NewTxOut(e.txOut.Value, e.txOut.PkScript))
		pOutputs = append(pOutputs, e.pout)
	}

	mergedPkt, err := psbt.NewFromUnsignedTx(mergedTx)
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindImplementation, "Implementation", "building merged psbt", err)
	}
	mergedPkt.Inputs = pInputs
	mergedPkt.Outputs = pOutputs

	return receive.UncheckedProposalFromPacket(mergedPkt, b.accepted[0].Params(), nil)
}

type inputEntry struct {
	outpoint wire.OutPoint
	pin      psbt.PInput
}

func mergeInputs(proposals []*receive.UncheckedProposal) []inputEntry {
	seen := map[wire.OutPoint]inputEntry{}
	for _, p := range proposals {
		pkt := p.RawPacket()
		for i, txin := range pkt.UnsignedTx.TxIn {
			op := txin.PreviousOutPoint
			if _, ok := seen[op]; !ok {
				seen[op] = inputEntry{outpoint: op, pin: pkt.Inputs[i]}
			}
		}
	}
	out := make([]inputEntry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return outpointLess(out[i].outpoint, out[j].outpoint) })
	return out
}

type outputEntry struct {
	txOut *wire.TxOut
	pout  psbt.POutput
}

func mergeOutputs(proposals []*receive.UncheckedProposal) []outputEntry {
	seen := map[string]bool{}
	var out []outputEntry
	for _, p := range proposals {
		pkt := p.RawPacket()
		for i, txOut := range pkt.UnsignedTx.TxOut {
			var valBuf [8]byte
			binary.BigEndian.PutUint64(valBuf[:], uint64(txOut.Value))
			key := string(valBuf[:]) + string(txOut.PkScript)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, outputEntry{txOut: txOut, pout: pkt.Outputs[i]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].txOut.Value != out[j].txOut.Value {
			return out[i].txOut.Value < out[j].txOut.Value
		}
		return bytes.Compare(out[i].txOut.PkScript, out[j].txOut.PkScript) < 0
	})
	return out
}

func outpointLess(a, b wire.OutPoint) bool {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c < 0
	}
	return a.Index < b.Index
}
