package receive

import (
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// CanBroadcast reports whether tx would be accepted by the wallet backend's
// mempool-acceptance test (spec §4.6 step 1, deliberately out of scope:
// "injected as capability callbacks").
type CanBroadcast func(tx *wire.MsgTx) (bool, error)

// IsOwned reports whether pkScript belongs to the receiver's own wallet
// (spec §4.6 step 2).
type IsOwned func(pkScript []byte) (bool, error)

// IsSeen both queries and records an outpoint against the persister's
// input-seen set, returning true if it was already present (spec §4.6
// step 4, §5 "atomic insert-if-absent returning prior-presence").
type IsSeen func(outpoint wire.OutPoint) (bool, error)

// IsReceiverOutput reports whether pkScript pays an address the receiver
// controls (spec §4.6 step 5).
type IsReceiverOutput func(pkScript []byte) (bool, error)

// Signer signs the receiver's own inputs of proposalPSBT and returns the
// result; it must not re-sign or alter the sender's inputs, and must strip
// any partial sigs/witness data the sender may have filled in on its own
// inputs before returning (spec §4.6 step 8).
type Signer func(proposalPSBT *psbt.Packet) (*psbt.Packet, error)
