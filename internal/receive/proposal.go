// Package receive implements the receiver's proposal pipeline (spec §4.6):
// a typestate chain that walks an UncheckedProposal through the checks a
// payjoin receiver must apply before contributing inputs and returning a
// signed PayjoinProposal. Each stage consumes its predecessor and returns
// the next; Go has no linear types, so "consuming" is a naming convention
// rather than something the compiler enforces, matching how the teacher's
// own state-carrying structs (e.g. its scan-session types) are passed by
// value through a pipeline of functions rather than policed by the type
// system.
package receive

import (
	"bytes"
	"encoding/base64"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/payjoin-receiver/internal/ohttp"
	"github.com/rawblock/payjoin-receiver/internal/pjerr"
	"github.com/rawblock/payjoin-receiver/internal/psbtutil"
	"github.com/rawblock/payjoin-receiver/internal/scripttype"
)

// TransportContext carries what a v2 session's proposal needs to address
// its response back through the directory/relay (spec §4.4, §4.5). It is
// deliberately a small struct rather than an import of *session.Session,
// so this package doesn't have to decide an import direction against
// internal/session; session.Session exposes exactly the fields needed to
// build one.
type TransportContext struct {
	DirectoryURL    string
	Subdirectory    string
	OhttpKeys       ohttp.KeyConfig
	SenderEphemeral *btcec.PublicKey
}

// UncheckedProposal is the sender's payload as received: a structurally
// valid PSBT plus its parsed query parameters, with none of the receiver's
// trust checks applied yet (spec §4.6, step 0).
type UncheckedProposal struct {
	original *psbtutil.Validated
	params   Params
	ctx      *TransportContext
}

// New parses a sender payload (the base64 Original PSBT and its query
// string, as split out by session.FallbackBody) into an UncheckedProposal.
// ctx is nil for a v1 fallback exchange.
func New(originalPSBTBase64, query string, ctx *TransportContext) (*UncheckedProposal, error) {
	raw, err := base64.StdEncoding.DecodeString(originalPSBTBase64)
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindReplyable, "SenderParams", "decoding original psbt base64", err)
	}
	pkt, err := psbt.NewFromRawBytes(bytes.NewReader(raw), true)
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindReplyable, "SenderParams", "parsing original psbt", err)
	}
	params, err := ParseParams(query)
	if err != nil {
		return nil, err
	}
	return UncheckedProposalFromPacket(pkt, params, ctx)
}

// UncheckedProposalFromPacket builds an UncheckedProposal directly from an
// already-parsed PSBT and its already-parsed params, for callers (and
// tests) that assemble these independently of the wire sender-payload
// format New parses.
func UncheckedProposalFromPacket(pkt *psbt.Packet, params Params, ctx *TransportContext) (*UncheckedProposal, error) {
	validated, err := psbtutil.Validate(pkt)
	if err != nil {
		return nil, err
	}
	return &UncheckedProposal{original: validated, params: params, ctx: ctx}, nil
}

// Params returns the proposal's parsed sender query parameters, for
// callers (e.g. internal/multiparty) that need to inspect v/optimistic_merge
// before this proposal enters the single-sender pipeline.
func (p *UncheckedProposal) Params() Params { return p.params }

// RawPacket returns the underlying PSBT, for callers that need to inspect
// or merge it outside the single-sender pipeline (e.g. internal/multiparty's
// UncheckedProposalBuilder).
func (p *UncheckedProposal) RawPacket() *psbt.Packet { return p.original.Packet() }

// ExtractTxToScheduleBroadcast returns the sender's original transaction,
// for the receiver to schedule a delayed broadcast of in case the payjoin
// never completes (spec §4.6 step 0, "Original tx broadcast fallback").
func (p *UncheckedProposal) ExtractTxToScheduleBroadcast() *wire.MsgTx {
	return p.original.Packet().UnsignedTx.Copy()
}

// CheckBroadcastSuitability verifies the original transaction would be
// accepted by the wallet's mempool-acceptance test and, if minFeeRate is
// given, that its fee rate already clears that floor (spec §4.6 step 1).
func (p *UncheckedProposal) CheckBroadcastSuitability(minFeeRate *float64, canBroadcast CanBroadcast) (*MaybeInputsOwned, error) {
	if minFeeRate != nil {
		prevouts, err := p.original.ValidateInputUtxos(true)
		if err != nil {
			return nil, err
		}
		rate := feeRate(p.original.Packet().UnsignedTx, sumValues(prevouts))
		if rate < *minFeeRate {
			return nil, pjerr.ErrOriginalPsbtNotBroadcastable
		}
	}
	ok, err := canBroadcast(p.original.Packet().UnsignedTx)
	if err != nil {
		return nil, pjerr.Implementation("can_broadcast", err)
	}
	if !ok {
		return nil, pjerr.ErrOriginalPsbtNotBroadcastable
	}
	return &MaybeInputsOwned{proposal: p}, nil
}

// AssumeInteractiveReceiver skips CheckBroadcastSuitability for a receiver
// that has already confirmed interactively with the sender out of band
// (spec §4.6 step 1, "interactive" mode).
func (p *UncheckedProposal) AssumeInteractiveReceiver() *MaybeInputsOwned {
	return &MaybeInputsOwned{proposal: p}
}

// MaybeInputsOwned is an UncheckedProposal that has cleared the broadcast
// check (spec §4.6 step 2).
type MaybeInputsOwned struct {
	proposal *UncheckedProposal
}

// CheckInputsNotOwned rejects the proposal if any original input's
// previous output belongs to the receiver's own wallet (spec §4.6 step 2;
// a payjoin where the receiver funds its own input contributes nothing).
func (m *MaybeInputsOwned) CheckInputsNotOwned(isOwned IsOwned) (*MaybeMixedInputScripts, error) {
	for _, pair := range m.proposal.original.InputPairs() {
		prevOut, err := psbtutil.PreviousTxOut(pair)
		if err != nil {
			return nil, indexed(pair.Index, err)
		}
		owned, err := isOwned(prevOut.PkScript)
		if err != nil {
			return nil, pjerr.Implementation("is_owned", err)
		}
		if owned {
			return nil, pjerr.ErrInputOwned.AtIndex(pair.Index)
		}
	}
	return &MaybeMixedInputScripts{proposal: m.proposal}, nil
}

// MaybeMixedInputScripts is a proposal whose inputs are all third-party
// (spec §4.6 step 3).
type MaybeMixedInputScripts struct {
	proposal *UncheckedProposal
}

// CheckNoMixedInputScripts rejects the proposal if its original inputs
// don't share a single script type category, since mixed input types leak
// wallet fingerprinting information the payjoin is meant to obscure (spec
// §4.6 step 3, §4.6.3). The shared category is carried forward so inputs
// the receiver later contributes can be checked against the same rule.
func (mm *MaybeMixedInputScripts) CheckNoMixedInputScripts() (*MaybeInputsSeen, error) {
	var category *scripttype.Type
	for _, pair := range mm.proposal.original.InputPairs() {
		prevOut, err := psbtutil.PreviousTxOut(pair)
		if err != nil {
			return nil, indexed(pair.Index, err)
		}
		cls, err := scripttype.Classify(prevOut, pair.PSBT.FinalScriptSig, nil)
		if err != nil {
			return nil, indexed(pair.Index, err)
		}
		c := cls.Type.Category()
		if category == nil {
			category = &c
		} else if *category != c {
			return nil, pjerr.ErrMixedInputScripts.AtIndex(pair.Index)
		}
	}
	return &MaybeInputsSeen{proposal: mm.proposal, scriptCategory: category}, nil
}

// MaybeInputsSeen is a proposal whose inputs all share one script type
// (spec §4.6 step 3 complete).
type MaybeInputsSeen struct {
	proposal       *UncheckedProposal
	scriptCategory *scripttype.Type
}

// CheckNoInputsSeenBefore rejects the proposal if any original input has
// already been seen by isSeen, which records every outpoint it is asked
// about, so a replayed request cannot deanonymize a prior round (spec §4.6
// step 4).
func (mi *MaybeInputsSeen) CheckNoInputsSeenBefore(isSeen IsSeen) (*OutputsUnknown, error) {
	for _, pair := range mi.proposal.original.InputPairs() {
		seen, err := isSeen(pair.TxIn.PreviousOutPoint)
		if err != nil {
			return nil, pjerr.Implementation("is_seen", err)
		}
		if seen {
			return nil, pjerr.ErrInputSeenBefore.AtIndex(pair.Index)
		}
	}
	return &OutputsUnknown{proposal: mi.proposal, scriptCategory: mi.scriptCategory}, nil
}

// OutputsUnknown is a proposal whose inputs have all cleared, but whose
// outputs haven't yet been matched against the receiver's wallet (spec
// §4.6 step 5).
type OutputsUnknown struct {
	proposal       *UncheckedProposal
	scriptCategory *scripttype.Type
}

// IdentifyReceiverOutputs finds which of the original transaction's
// outputs pay the receiver. At least one must, or there is no payment to
// payjoin (spec §4.6 step 5).
func (o *OutputsUnknown) IdentifyReceiverOutputs(isReceiverOutput IsReceiverOutput) (*WantsOutputs, error) {
	var ownedVouts []int
	for i, out := range o.proposal.original.Packet().UnsignedTx.TxOut {
		yes, err := isReceiverOutput(out.PkScript)
		if err != nil {
			return nil, pjerr.Implementation("is_receiver_output", err)
		}
		if yes {
			ownedVouts = append(ownedVouts, i)
		}
	}
	if len(ownedVouts) == 0 {
		return nil, pjerr.ErrMissingPayment
	}
	return &WantsOutputs{proposal: o.proposal, scriptCategory: o.scriptCategory, ownedVouts: ownedVouts}, nil
}

// WantsOutputs is a proposal ready for the receiver to optionally
// substitute one of its own outputs before committing to the output set
// (spec §4.6 step 6).
type WantsOutputs struct {
	proposal       *UncheckedProposal
	scriptCategory *scripttype.Type
	ownedVouts     []int
}

// OwnedVouts reports which of the original outputs pay the receiver.
func (w *WantsOutputs) OwnedVouts() []int {
	return append([]int(nil), w.ownedVouts...)
}

// SubstituteOutputAddress replaces the scriptPubKey of one of the
// receiver's own outputs, e.g. to route funds to a fresh address instead
// of the one the sender targeted (spec §4.6 step 6). Fails if the sender
// set disableoutputsubstitution.
func (w *WantsOutputs) SubstituteOutputAddress(vout int, pkScript []byte) error {
	if w.proposal.params.DisableOutputSubstitution {
		return pjerr.ErrOutputSubstitutionDisabled
	}
	outs := w.proposal.original.Packet().UnsignedTx.TxOut
	if vout < 0 || vout >= len(outs) {
		return pjerr.ErrIndexOutOfBounds
	}
	outs[vout].PkScript = pkScript
	return nil
}

// CommitOutputs finalizes the output set and advances to input
// contribution (spec §4.6 step 6 complete).
func (w *WantsOutputs) CommitOutputs() *WantsInputs {
	return &WantsInputs{proposal: w.proposal, scriptCategory: w.scriptCategory, ownedVouts: w.ownedVouts}
}

func indexed(index int, err error) error {
	if pjErr, ok := err.(*pjerr.Error); ok {
		return pjErr.AtIndex(index)
	}
	return err
}
