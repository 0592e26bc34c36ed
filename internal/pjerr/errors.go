// Package pjerr defines the payjoin receiver's error taxonomy: which
// failures are replied to the sending peer, which abort the session, and
// which are bugs in the caller-supplied wallet callbacks.
package pjerr

import "fmt"

// Kind buckets an error by how the caller should react to it.
type Kind int

const (
	// KindReplyable errors are protocol violations on the sender's part.
	// The receiver returns a well-formed error reply to the sender instead
	// of crashing the session.
	KindReplyable Kind = iota
	// KindTransient errors come from the transport (empty poll, 5xx relay,
	// timeout) and the caller should retry.
	KindTransient
	// KindSession errors abort the current session; the user is notified.
	KindSession
	// KindImplementation wraps an error bubbled up from a wallet/node
	// callback supplied by the caller.
	KindImplementation
	// KindInconsistency errors are always fatal: the PSBT or a derived
	// value violates an invariant the core relies on.
	KindInconsistency
)

func (k Kind) String() string {
	switch k {
	case KindReplyable:
		return "replyable"
	case KindTransient:
		return "transient"
	case KindSession:
		return "session"
	case KindImplementation:
		return "implementation"
	case KindInconsistency:
		return "inconsistency"
	default:
		return "unknown"
	}
}

// Error is the taxonomy's single concrete type. Code identifies the
// specific failure (e.g. "InputOwned", "Expired"); Kind says how the
// caller must react.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Src  error
	// Index is the PSBT input/output index this error pertains to, or -1
	// if not applicable.
	Index int
}

func (e *Error) Error() string {
	loc := ""
	if e.Index >= 0 {
		loc = fmt.Sprintf(" (index %d)", e.Index)
	}
	if e.Src != nil {
		return fmt.Sprintf("%s: %s%s: %v", e.Code, e.Msg, loc, e.Src)
	}
	return fmt.Sprintf("%s: %s%s", e.Code, e.Msg, loc)
}

// AtIndex returns a copy of e annotated with the index of the PSBT
// input/output it pertains to.
func (e *Error) AtIndex(index int) *Error {
	cp := *e
	cp.Index = index
	return &cp
}

func (e *Error) Unwrap() error { return e.Src }

// Replyable reports whether this error should be turned into a JSON error
// reply for the sending peer, as opposed to surfaced only to the receiver
// operator.
func (e *Error) Replyable() bool { return e.Kind == KindReplyable }

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Index: -1}
}

// Wrap attaches a source error to the taxonomy, e.g. bubbling a wallet
// callback failure as KindImplementation.
func Wrap(kind Kind, code, msg string, src error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Src: src, Index: -1}
}

// Replyable protocol errors (spec §7).
var (
	ErrOriginalPsbtNotBroadcastable = newErr(KindReplyable, "OriginalPsbtNotBroadcastable",
		"the sender's original PSBT would not be accepted by the mempool")
	ErrInputOwned = newErr(KindReplyable, "InputOwned",
		"an input of the original PSBT is owned by the receiver")
	ErrMixedInputScripts = newErr(KindReplyable, "MixedInputScripts",
		"inputs do not share a single script type")
	ErrInputSeenBefore = newErr(KindReplyable, "InputSeenBefore",
		"an input of the original PSBT has been seen in a prior payjoin")
	ErrMissingPayment = newErr(KindReplyable, "MissingPayment",
		"no output of the original PSBT pays the receiver")
	ErrOutputSubstitutionDisabled = newErr(KindReplyable, "OutputSubstitutionDisabled",
		"the sender disabled output substitution")
	ErrSenderParams = newErr(KindReplyable, "SenderParams",
		"the sender's query parameters could not be parsed")
	ErrFeeTooHigh = newErr(KindReplyable, "FeeTooHigh",
		"the finalized payjoin proposal's fee rate exceeds the sender's maximum")
	ErrFeeTooLow = newErr(KindReplyable, "FeeTooLow",
		"the finalized payjoin proposal's fee rate is below the sender's minimum")

	// Session errors (spec §7).
	ErrExpired = newErr(KindSession, "Expired",
		"the session has passed its expiry")
	ErrUnexpectedStatusCode = newErr(KindSession, "UnexpectedStatusCode",
		"the directory or relay returned an unexpected HTTP status")
	ErrUnexpectedResponseSize = newErr(KindSession, "UnexpectedResponseSize",
		"the OHTTP response had an unexpected size")
	ErrOhttpEncapsulation = newErr(KindSession, "OhttpEncapsulation",
		"OHTTP encapsulation or decapsulation failed")
	ErrHpke = newErr(KindSession, "Hpke",
		"HPKE payload encryption or decryption failed")

	// Inconsistency errors (spec §7, §3, §4.2).
	ErrInconsistentPsbt = newErr(KindInconsistency, "InconsistentPsbt",
		"the PSBT's input/output count does not match its unsigned transaction")
	ErrSegWitTxOutMismatch = newErr(KindInconsistency, "SegWitTxOutMismatch",
		"witness_utxo and non_witness_utxo disagree on the spent output")
	ErrUnequalTxid = newErr(KindInconsistency, "UnequalTxid",
		"non_witness_utxo's txid does not match the outpoint")
	ErrIndexOutOfBounds = newErr(KindInconsistency, "IndexOutOfBounds",
		"outpoint vout exceeds the referenced transaction's output count")
	ErrMissingUtxoInformation = newErr(KindInconsistency, "MissingUtxoInformation",
		"input has neither witness_utxo nor non_witness_utxo")

	// Weight-estimation / coin-selection boundary errors (spec §4.1, §4.6.7).
	ErrUnknownInputType = newErr(KindReplyable, "UnknownInputType",
		"input script type could not be classified")
	ErrNotFinalized = newErr(KindReplyable, "NotFinalized",
		"input is not finalized so its script type cannot be derived")
	ErrUnsupportedForWeightEstimation = newErr(KindImplementation, "UnsupportedForWeightEstimation",
		"script type has no defined spending weight (raw P2SH/P2WSH)")
	ErrNotEnoughFunds = newErr(KindReplyable, "NotEnoughFunds",
		"no candidate input preserves the privacy heuristic")
	ErrNoCandidates = newErr(KindReplyable, "NoCandidates",
		"no candidate inputs were offered")

	// HPKE payload framing errors (spec §4.3).
	ErrPayloadTooLarge = newErr(KindSession, "PayloadTooLarge",
		"plaintext exceeds the padded message size before padding")
	ErrPayloadTooShort = newErr(KindSession, "PayloadTooShort",
		"ciphertext is shorter than the minimum HPKE payload framing")
	ErrInvalidKeyLength = newErr(KindSession, "InvalidKeyLength",
		"a key did not have the expected length for its curve")

	// Multiparty aggregation errors (spec §4.7).
	ErrInputMissingWitnessOrScriptSig = newErr(KindInconsistency, "InputMissingWitnessOrScriptSig",
		"a combined input has neither a witness nor a scriptSig after combine")
	ErrNotEnoughProposals = newErr(KindReplyable, "NotEnoughProposals",
		"multiparty build requires at least 2 accepted proposals")
	ErrOptimisticMergeRequired = newErr(KindReplyable, "OptimisticMergeRequired",
		"a proposal did not opt into optimistic merge")
	ErrMismatchedVersion = newErr(KindReplyable, "MismatchedVersion",
		"a proposal did not advertise protocol version 2")
)

// Implementation wraps an error returned by a caller-supplied wallet/node
// capability callback.
func Implementation(callback string, src error) *Error {
	return Wrap(KindImplementation, "Implementation", "callback "+callback+" failed", src)
}
