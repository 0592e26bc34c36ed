package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/rawblock/payjoin-receiver/internal/persist"
	"github.com/rawblock/payjoin-receiver/internal/session"
)

// stateBlob is the JSON value persisted under a session's key at each
// pipeline checkpoint (spec §4.8, §6). The session snapshot is only present
// at StateEnrolled, where it is everything FromSnapshot needs to resume the
// long-poll loop; later checkpoints exist so an operator inspecting the
// persister can see how far a session got.
type stateBlob struct {
	Kind         persist.Kind      `json:"kind"`
	Subdirectory string            `json:"subdirectory"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Session      *session.Snapshot `json:"session,omitempty"`
}

// pseudoTxid derives a persister key's txid component for a session that
// hasn't yet received a sender proposal, i.e. no real txid exists. The
// subdirectory is already the session's unique, stable identifier, so
// hashing it satisfies Key's fixed 32-byte slot without reserving a
// separate namespace in the persister's keyspace for pre-proposal sessions.
func pseudoTxid(subdirectory string) [32]byte {
	return chainhash.HashH([]byte(subdirectory))
}

func saveCheckpoint(p persist.Persister, txid [32]byte, state persist.StateType, blob stateBlob) error {
	blob.UpdatedAt = time.Now()
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("marshaling session checkpoint: %w", err)
	}
	if err := p.Save(persist.Key(txid, state), data); err != nil {
		return fmt.Errorf("persisting session checkpoint: %w", err)
	}
	return nil
}
