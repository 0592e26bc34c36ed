// Package persist implements the receiver's session persistence contract
// (spec §4.8, §5, §6): durable save/load of a session's serialized state
// keyed by txid plus state type, and the cross-session shared input-seen
// set that backs check_no_inputs_seen_before's replay protection.
package persist

import "github.com/btcsuite/btcd/wire"

// StateType identifies which point in the §4.6 pipeline a persisted
// session snapshot was captured at, the low byte of the persister key
// (spec §6: "33 bytes = txid || state_type_u8").
type StateType byte

const (
	StateEnrolled StateType = iota
	StateUnchecked
	StateProvisional
	StatePayjoinProposal
)

// Kind distinguishes a send-side session from a receive-side one, carried
// in a session's serialized value rather than its key. This repo only
// drives the receiver state machine, but original_source/payjoin-cli
// keeps separate send/receive schemas (db/v2.rs, db/error.rs); the
// persister contract stays symmetric so a single store can hold both, and
// StateType's value byte is reserved per-Kind instead of globally.
type Kind byte

const (
	KindReceiver Kind = iota
	KindSender
)

// Key builds the 33-byte persister key for a session's transaction id and
// pipeline state.
func Key(txid [32]byte, state StateType) [33]byte {
	var k [33]byte
	copy(k[:32], txid[:])
	k[32] = byte(state)
	return k
}

// Persister is the storage contract the core depends on (spec §4.8):
// save/load of opaque session blobs, plus the shared seen-input set. The
// core requires durability ordering only — save must complete before the
// session advances to its next state — not any particular backing store.
type Persister interface {
	// Save durably stores value under key, overwriting any prior value.
	Save(key [33]byte, value []byte) error
	// Load retrieves the value stored under key. found is false if no
	// value has ever been saved under it.
	Load(key [33]byte) (value []byte, found bool, err error)
	// MarkSeen atomically inserts outpoint into the seen-input set if
	// absent, returning whether it was already present (spec §5:
	// "insert-if-absent returning prior-presence").
	MarkSeen(outpoint wire.OutPoint) (alreadySeen bool, err error)
	// ListSessions returns every persisted session blob keyed by its
	// 33-byte key, used by the `resume` subcommand (SUPPLEMENTED FEATURES
	// item 1) to re-enter every non-expired session's long-poll loop on
	// process restart rather than requiring the operator to name one.
	ListSessions() (map[[33]byte][]byte, error)
}
