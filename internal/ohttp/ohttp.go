// Package ohttp implements the client side of the v2 transport's Oblivious
// HTTP encapsulation (spec §4.4): a BHTTP request is sealed to a gateway's
// published key so the relay it transits can see neither the cleartext
// request nor correlate the client across requests to the same gateway.
//
// Keying follows the same ephemeral-ECDH-then-AEAD shape as internal/hpke,
// since the example pack carries no OHTTP/BHTTP library to depend on
// directly (these are niche IETF drafts, not in wide enough use to show up
// in any of the retrieved repos); the request key seals the outbound BHTTP
// message, and a response key is derived from it with HKDF so the gateway's
// acknowledgement is sealed under a distinct, single-use key.
package ohttp

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/rawblock/payjoin-receiver/internal/pjerr"
)

const (
	nonceLen      = 12
	hkdfKeyLen    = 32
	hkdfResponseN = "payjoin ohttp response"
)

// KeyConfig is the gateway's published OHTTP key: a key identifier plus its
// secp256k1 public key (spec §4.4/§6; an opaque byte string the receiver
// only needs to encode/decode and feed into Encapsulate, per C5's bech32m
// codec in internal/directory).
type KeyConfig struct {
	KeyID      byte
	GatewayPub *btcec.PublicKey
}

// Encode renders kc as the opaque byte string published at
// /.well-known/ohttp-gateway and bech32m-encoded by internal/directory.
func (kc KeyConfig) Encode() []byte {
	out := make([]byte, 0, 1+33)
	out = append(out, kc.KeyID)
	out = append(out, kc.GatewayPub.SerializeCompressed()...)
	return out
}

// DecodeKeyConfig reverses KeyConfig.Encode.
func DecodeKeyConfig(data []byte) (KeyConfig, error) {
	if len(data) != 1+33 {
		return KeyConfig{}, pjerr.ErrInvalidKeyLength
	}
	pub, err := btcec.ParsePubKey(data[1:])
	if err != nil {
		return KeyConfig{}, pjerr.Wrap(pjerr.KindSession, "InvalidKeyLength", "parsing ohttp gateway pubkey", err)
	}
	return KeyConfig{KeyID: data[0], GatewayPub: pub}, nil
}

// ResponseContext is returned by Encapsulate and consumed by exactly one
// matching Decapsulate call, mirroring the original's ohttp::ClientResponse
// (spec §4.4).
type ResponseContext struct {
	responseKey []byte
}

func sharedKey(priv *btcec.PrivateKey, pub *btcec.PublicKey) []byte {
	// Mirrors internal/hpke.sharedKey: flatten the raw ECDH x-coordinate
	// through a hash before using it as a symmetric key. HKDF-Extract with
	// a nil salt does the same job here and lets HKDF-Expand reuse the same
	// pseudorandom key for the response key derivation below.
	secret := btcec.GenerateSharedSecret(priv, pub)
	extracted := hkdf.Extract(sha256.New, secret, nil)
	return extracted
}

func deriveResponseKey(requestKey []byte) ([]byte, error) {
	out := make([]byte, hkdfKeyLen)
	r := hkdf.Expand(sha256.New, requestKey, []byte(hkdfResponseN))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, pjerr.Wrap(pjerr.KindImplementation, "OhttpEncapsulation", "deriving response key", err)
	}
	return out, nil
}

// Encapsulate builds a BHTTP request from (method, scheme, authority, path,
// body),
// encapsulates it under keys, and returns the opaque bytes to POST to the
// relay plus a context for decapsulating the matching response (spec
// §4.4). The caller sets the Content-Type header to "message/ohttp-req"
// itself; that is a transport concern outside this package.
func Encapsulate(keys KeyConfig, method, scheme, authority, path string, body []byte) ([]byte, *ResponseContext, error) {
	req := &Request{Method: method, Scheme: scheme, Authority: authority, Path: path, Body: body}
	plaintext, err := req.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}

	ePriv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, pjerr.Wrap(pjerr.KindImplementation, "OhttpEncapsulation", "generating ephemeral keypair", err)
	}
	requestKey := sharedKey(ePriv, keys.GatewayPub)

	aead, err := chacha20poly1305.New(requestKey)
	if err != nil {
		return nil, nil, pjerr.Wrap(pjerr.KindImplementation, "OhttpEncapsulation", "constructing AEAD", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, pjerr.Wrap(pjerr.KindImplementation, "OhttpEncapsulation", "generating nonce", err)
	}
	aad := []byte{keys.KeyID}
	ciphertext := aead.Seal(nil, nonce, plaintext, aad)

	ePub := ePriv.PubKey().SerializeCompressed()
	encapsulated := make([]byte, 0, 1+len(ePub)+nonceLen+len(ciphertext))
	encapsulated = append(encapsulated, keys.KeyID)
	encapsulated = append(encapsulated, ePub...)
	encapsulated = append(encapsulated, nonce...)
	encapsulated = append(encapsulated, ciphertext...)

	responseKey, err := deriveResponseKey(requestKey)
	if err != nil {
		return nil, nil, err
	}
	return encapsulated, &ResponseContext{responseKey: responseKey}, nil
}

// OpenRequest is the gateway side of Encapsulate: given the gateway's own
// secret key and an encapsulated request, it recovers the BHTTP request and
// a ResponseContext to seal the eventual reply under, via SealResponse. A
// real OHTTP gateway is outside this module's scope (the core is a
// transport client, not a server, per spec §1's non-goals), but the
// decapsulation half is exported so test doubles and any future in-process
// gateway simulator can drive the same framing this package produces.
func OpenRequest(gatewaySec *btcec.PrivateKey, encapsulated []byte) (*Request, *ResponseContext, error) {
	if len(encapsulated) < 1+33+nonceLen {
		return nil, nil, pjerr.ErrUnexpectedResponseSize
	}
	keyID := encapsulated[0]
	ePub, err := btcec.ParsePubKey(encapsulated[1:34])
	if err != nil {
		return nil, nil, pjerr.Wrap(pjerr.KindSession, "InvalidKeyLength", "parsing client ephemeral pubkey", err)
	}
	nonce := encapsulated[34 : 34+nonceLen]
	ciphertext := encapsulated[34+nonceLen:]

	requestKey := sharedKey(gatewaySec, ePub)
	aead, err := chacha20poly1305.New(requestKey)
	if err != nil {
		return nil, nil, pjerr.Wrap(pjerr.KindImplementation, "OhttpEncapsulation", "constructing AEAD", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte{keyID})
	if err != nil {
		return nil, nil, pjerr.Wrap(pjerr.KindSession, "OhttpEncapsulation", "opening encapsulated request", err)
	}
	req, err := UnmarshalRequest(plaintext)
	if err != nil {
		return nil, nil, err
	}
	responseKey, err := deriveResponseKey(requestKey)
	if err != nil {
		return nil, nil, err
	}
	return req, &ResponseContext{responseKey: responseKey}, nil
}

// Decapsulate opens a gateway response previously sealed under ctx's
// response key and parses it as a BHTTP response, surfacing a non-2xx
// status as UnexpectedStatusCode (spec §4.4, §7).
func Decapsulate(ctx *ResponseContext, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < chacha20poly1305.Overhead {
		return nil, pjerr.ErrUnexpectedResponseSize
	}
	aead, err := chacha20poly1305.New(ctx.responseKey)
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindImplementation, "OhttpEncapsulation", "constructing AEAD", err)
	}
	// The response key is single-use (fresh per request), so a fixed zero
	// nonce is safe here, matching internal/hpke.EncryptB's ee-key framing.
	nonce := make([]byte, nonceLen)
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindSession, "OhttpEncapsulation", "decapsulating response", err)
	}
	resp, err := UnmarshalResponse(plaintext)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, pjerr.ErrUnexpectedStatusCode
	}
	return resp.Body, nil
}

// SealResponse is the gateway/test-double side of Decapsulate: it seals a
// BHTTP response under the same response key Encapsulate derived, used by
// the directory/relay stand-in in tests and by any future in-process
// gateway simulator.
func SealResponse(ctx *ResponseContext, statusCode int, body []byte) ([]byte, error) {
	resp := &Response{StatusCode: statusCode, Body: body}
	plaintext, err := resp.MarshalBinary()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(ctx.responseKey)
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindImplementation, "OhttpEncapsulation", "constructing AEAD", err)
	}
	nonce := make([]byte, nonceLen)
	return aead.Seal(nil, nonce, plaintext, nil), nil
}
