// Package payjoin re-exports the handful of cross-cutting receiver types
// under one import path, so a caller need not import every internal package
// just to spell a type name (mirroring the role pkg/models plays for the
// teacher's internal/api and internal/heuristics layers). cmd/payjoin and
// internal/daemon import the internal packages directly and do not use it.
package payjoin

import (
	"github.com/rawblock/payjoin-receiver/internal/persist"
	"github.com/rawblock/payjoin-receiver/internal/receive"
	"github.com/rawblock/payjoin-receiver/internal/session"
)

// Params is the sender's parsed query-string parameters (spec §3, §6).
type Params = receive.Params

// CanBroadcast, IsOwned, IsSeen, IsReceiverOutput, and Signer are the
// capability callbacks the §4.6 pipeline is parameterized over.
type (
	CanBroadcast     = receive.CanBroadcast
	IsOwned          = receive.IsOwned
	IsSeen           = receive.IsSeen
	IsReceiverOutput = receive.IsReceiverOutput
	Signer           = receive.Signer
)

// CandidateInput is a wallet UTXO offered to WantsInputs as a candidate
// payjoin input (spec §4.6 step 7).
type CandidateInput = receive.CandidateInput

// TransportContext carries the v2 transport parameters a proposal needs to
// build its extract_req/process_res responses (spec §4.5).
type TransportContext = receive.TransportContext

// Session and Snapshot are the receiver's persisted session lifecycle
// types (spec §4.5, §6).
type (
	Session  = session.Session
	Snapshot = session.Snapshot
)

// Persister is the session-durability contract (spec §4.8, §5, §6).
type Persister = persist.Persister

// StateType and Kind identify what a persisted session blob holds and
// which side of the protocol wrote it (spec §6, SUPPLEMENTED FEATURES
// item 2).
type (
	StateType = persist.StateType
	Kind      = persist.Kind
)

// ParseParams parses a sender payload's query string (spec §6).
func ParseParams(query string) (Params, error) { return receive.ParseParams(query) }
