// Package scripttype derives the spending script type of a transaction
// input from its previous output's scriptPubKey together with the
// finalized scriptSig/witness, and reports the expected fully-signed
// weight for that type. This underlies the receiver's "no mixed input
// scripts" and "no unsupported inputs" checks.
package scripttype

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/payjoin-receiver/internal/pjerr"
)

// Type is the coarse script-type category used for the "mixed input
// scripts" check. Nested-vs-native is not part of Type, so it is
// disregarded when comparing categories (spec §4.6.3), but it is retained
// on Classification for weight estimation. SegWitV0Pubkey and
// SegWitV0Script are distinct categories.
type Type int

const (
	P2PK Type = iota
	P2PKH
	P2SH
	SegWitV0Pubkey
	SegWitV0Script
	Taproot
)

func (t Type) String() string {
	switch t {
	case P2PK:
		return "p2pk"
	case P2PKH:
		return "p2pkh"
	case P2SH:
		return "p2sh"
	case SegWitV0Pubkey:
		return "segwit-v0-pubkey"
	case SegWitV0Script:
		return "segwit-v0-script"
	case Taproot:
		return "taproot"
	default:
		return "unknown"
	}
}

// Category returns t unchanged: nested and native spends of the same type
// already share one Type value, so they compare equal ("disregarding
// nested"), while SegWitV0Pubkey and SegWitV0Script remain distinct.
func (t Type) Category() Type { return t }

// Classification is the result of Classify: the script type plus whether a
// witness-program spend was reached through a P2SH redeem script.
type Classification struct {
	Type   Type
	Nested bool
}

// weight table, in non-witness weight units (spec §4.1, §4.4).
const (
	weightP2PKH           = 148
	weightSegWitV0Native  = 68
	weightSegWitV0Nested  = 91
	weightTaprootKeySpend = 58
)

// ExpectedWeight reports the constant expected fully-signed input weight
// for c's type, or ErrUnsupportedForWeightEstimation for P2PK, P2SH and
// SegWitV0Script (raw P2SH/P2WSH are explicitly unimplemented, spec §9).
func (c Classification) ExpectedWeight() (int64, error) {
	switch c.Type {
	case P2PKH:
		return weightP2PKH, nil
	case SegWitV0Pubkey:
		if c.Nested {
			return weightSegWitV0Nested, nil
		}
		return weightSegWitV0Native, nil
	case Taproot:
		return weightTaprootKeySpend, nil
	default:
		return 0, pjerr.ErrUnsupportedForWeightEstimation
	}
}

// Classify derives the script type of an input from its previous output's
// scriptPubKey and the finalized scriptSig/witness, applying the rules of
// spec §4.1 in order. finalScriptSig and witness may both be empty for a
// native SegWit or Taproot input; a P2SH input with an empty
// finalScriptSig is reported as ErrNotFinalized since the redeem script
// cannot be recovered.
func Classify(prevOut *wire.TxOut, finalScriptSig []byte, witness wire.TxWitness) (Classification, error) {
	pkScript := prevOut.PkScript

	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyTy:
		return Classification{Type: P2PK}, nil

	case txscript.PubKeyHashTy:
		return Classification{Type: P2PKH}, nil

	case txscript.ScriptHashTy:
		if len(finalScriptSig) == 0 {
			return Classification{}, pjerr.ErrNotFinalized
		}
		redeemScript, err := lastPush(finalScriptSig)
		if err != nil {
			return Classification{}, pjerr.ErrUnknownInputType
		}
		if inner, ok := classifyWitnessProgram(redeemScript); ok {
			inner.Nested = true
			return inner, nil
		}
		return Classification{Type: P2SH}, nil

	case txscript.WitnessV0PubKeyHashTy:
		return Classification{Type: SegWitV0Pubkey}, nil

	case txscript.WitnessV0ScriptHashTy:
		return Classification{Type: SegWitV0Script}, nil

	case txscript.WitnessV1TaprootTy:
		return Classification{Type: Taproot}, nil

	default:
		return Classification{}, pjerr.ErrUnknownInputType
	}
}

// classifyWitnessProgram classifies a byte string that is itself shaped
// like a scriptPubKey (used to recognize a P2SH redeem script that wraps a
// witness program, spec §4.1 rule 3).
func classifyWitnessProgram(script []byte) (Classification, bool) {
	switch txscript.GetScriptClass(script) {
	case txscript.WitnessV0PubKeyHashTy:
		return Classification{Type: SegWitV0Pubkey}, true
	case txscript.WitnessV0ScriptHashTy:
		return Classification{Type: SegWitV0Script}, true
	case txscript.WitnessV1TaprootTy:
		return Classification{Type: Taproot}, true
	default:
		return Classification{}, false
	}
}

// lastPush returns the final data push of a scriptSig, used to recover a
// P2SH redeem script per spec §4.1 rule 3.
func lastPush(scriptSig []byte) ([]byte, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, scriptSig)
	var last []byte
	for tokenizer.Next() {
		last = tokenizer.Data()
	}
	if tokenizer.Err() != nil || last == nil {
		return nil, pjerr.ErrUnknownInputType
	}
	return last, nil
}
