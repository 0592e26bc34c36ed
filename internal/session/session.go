// Package session implements the receiver's session lifecycle (spec §4.5,
// §6): enrollment at a directory, the persisted snapshot of everything
// needed to resume a session, and parsing the two shapes a fallback poll
// can return.
package session

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/rawblock/payjoin-receiver/internal/directory"
	"github.com/rawblock/payjoin-receiver/internal/hpke"
	"github.com/rawblock/payjoin-receiver/internal/ohttp"
	"github.com/rawblock/payjoin-receiver/internal/pjerr"
)

// Snapshot is the session's persisted, JSON-serializable state (spec §6:
// "Persisted session snapshot"). DirectoryURL and Expiry are carried in
// addition to the literal §6 field list, since §4.5 names both as
// persisted at enrollment; see DESIGN.md for that reconciliation.
type Snapshot struct {
	DirectoryURL string    `json:"directory_url"`
	RelayURL     string    `json:"relay_url"`
	OhttpConfig  []byte    `json:"ohttp_config"`
	OhttpProxy   string    `json:"ohttp_proxy"`
	S            [32]byte  `json:"s"`
	E            *[33]byte `json:"e,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// Session is a live, in-memory view of a Snapshot: the long-term secret s
// and (once learned) the sender's ephemeral pubkey e are kept as parsed
// key objects rather than raw bytes.
type Session struct {
	snap      Snapshot
	s         *btcec.PrivateKey
	ohttpKeys ohttp.KeyConfig
	e         *btcec.PublicKey
}

// New enrolls a fresh session: generates the long-term secp256k1 keypair s
// and sets expiry relative to now (spec §4.5 step 1; step 2's directory
// POST and step 3's persist are the caller's responsibility, typically via
// Transport.Enroll and internal/persist).
func New(directoryURL, relayURL, ohttpProxy string, ohttpKeys ohttp.KeyConfig, ttl time.Duration) (*Session, error) {
	sSec, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindImplementation, "Implementation", "generating session keypair", err)
	}
	var sBytes [32]byte
	copy(sBytes[:], sSec.Serialize())
	return &Session{
		snap: Snapshot{
			DirectoryURL: directoryURL,
			RelayURL:     relayURL,
			OhttpConfig:  ohttpKeys.Encode(),
			OhttpProxy:   ohttpProxy,
			S:            sBytes,
			Expiry:       time.Now().Add(ttl),
		},
		s:         sSec,
		ohttpKeys: ohttpKeys,
	}, nil
}

// FromSnapshot rehydrates a Session from its persisted form, e.g. on
// process restart (spec §5 "Cancellation": "on resume the receiver
// re-enters the long-poll").
func FromSnapshot(snap Snapshot) (*Session, error) {
	sSec, _ := btcec.PrivKeyFromBytes(snap.S[:])
	ohttpKeys, err := ohttp.DecodeKeyConfig(snap.OhttpConfig)
	if err != nil {
		return nil, err
	}
	sess := &Session{snap: snap, s: sSec, ohttpKeys: ohttpKeys}
	if snap.E != nil {
		e, err := btcec.ParsePubKey(snap.E[:])
		if err != nil {
			return nil, pjerr.Wrap(pjerr.KindSession, "InvalidKeyLength", "parsing persisted sender ephemeral pubkey", err)
		}
		sess.e = e
	}
	return sess, nil
}

// Snapshot returns the current persistable state, folding in the sender
// ephemeral pubkey if one has been learned since the last snapshot.
func (s *Session) Snapshot() Snapshot {
	snap := s.snap
	if s.e != nil {
		var eBytes [33]byte
		copy(eBytes[:], s.e.SerializeCompressed())
		snap.E = &eBytes
	}
	return snap
}

// Subdirectory is the session's addressable path at the directory (spec
// §4.5: subdirectory = base64url(compressed(s.pub))).
func (s *Session) Subdirectory() string {
	return directory.Subdirectory(s.s.PubKey())
}

// OhttpKeys returns the directory's OHTTP gateway key config this session
// encapsulates requests under.
func (s *Session) OhttpKeys() ohttp.KeyConfig { return s.ohttpKeys }

// DirectoryURL, RelayURL report the session's transport endpoints.
func (s *Session) DirectoryURL() string { return s.snap.DirectoryURL }
func (s *Session) RelayURL() string     { return s.snap.RelayURL }

// Expired reports whether now has passed the session's expiry (spec §4.5
// "Expiry", §5 "a session past expiry short-circuits every operation with
// Expired").
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.snap.Expiry)
}

// RememberSenderEphemeral records the sender's ephemeral pubkey e, learned
// from decrypting a v2 fallback body, for use by EncryptResponse.
func (s *Session) RememberSenderEphemeral(e *btcec.PublicKey) { s.e = e }

// SenderEphemeral reports the sender's ephemeral pubkey, if known.
func (s *Session) SenderEphemeral() (*btcec.PublicKey, bool) {
	return s.e, s.e != nil
}

// FallbackBody is the decoded result of a GET against the session's
// subdirectory (spec §4.5 "Fallback long-poll").
type FallbackBody struct {
	// Empty is true when the directory has no message waiting yet; the
	// caller should keep polling.
	Empty bool
	// OriginalPSBTBase64 and Query are the sender's v1-shaped payload,
	// present whenever Empty is false.
	OriginalPSBTBase64 string
	Query              string
	// IsV2 is true if the body arrived HPKE-encrypted (and is therefore
	// known to come from a v2-capable sender).
	IsV2 bool
}

// ParseFallbackBody classifies and decodes a GET response body per spec
// §4.5: empty keeps polling, valid UTF-8 is a plaintext v1 payload, and
// anything else is treated as an HPKE v2 payload sealed under this
// session's long-term secret s.
func (s *Session) ParseFallbackBody(body []byte) (*FallbackBody, error) {
	if len(body) == 0 {
		return &FallbackBody{Empty: true}, nil
	}

	if utf8.Valid(body) {
		base64, query := splitPayload(string(body))
		return &FallbackBody{OriginalPSBTBase64: base64, Query: query}, nil
	}

	plaintext, e, err := hpke.DecryptA(body, s.s)
	if err != nil {
		return nil, err
	}
	s.RememberSenderEphemeral(e)
	base64, query := splitPayload(string(plaintext))
	return &FallbackBody{OriginalPSBTBase64: base64, Query: query, IsV2: true}, nil
}

// splitPayload applies the sender payload format of spec §6: first line is
// the base64 Original PSBT, the remainder is the query string. Trailing
// NUL padding is stripped from both fields explicitly (spec §9 design
// note) rather than relying on the PSBT parser to reject it.
func splitPayload(text string) (base64, query string) {
	base64, rest, found := strings.Cut(text, "\n")
	base64 = strings.TrimRight(base64, "\x00")
	if !found {
		return base64, ""
	}
	return base64, strings.Trim(rest, "\x00")
}

// EncryptResponse seals the receiver's response PSBT for upload, using
// encrypt_B under the sender's ephemeral pubkey when known (v2), or
// returning plaintext unchanged for a v1 fallback session (spec §4.5
// "Response upload").
func (s *Session) EncryptResponse(plaintext []byte) ([]byte, error) {
	if s.e == nil {
		return plaintext, nil
	}
	return hpke.EncryptB(plaintext, s.e)
}
