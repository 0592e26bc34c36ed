// Package hpke implements the receiver's HPKE-style hybrid encryption for
// payjoin v2 bodies (spec §4.3): secp256k1 ECDH plus ChaCha20-Poly1305,
// with every plaintext padded to a fixed size before sealing so ciphertext
// length never leaks the payload's true size to the directory or relay.
//
// This is not RFC 9180 HPKE; it is the fixed two-message construction the
// protocol actually uses: encrypt_A/decrypt_A for the sender's original
// request (keyed by ECDH(ephemeral, receiver-static)), and
// encrypt_B/decrypt_B for the receiver's response (keyed by
// ECDH(ephemeral, ephemeral)).
package hpke

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/rawblock/payjoin-receiver/internal/pjerr"
)

const (
	// PaddedMessageBytes is the fixed plaintext size every message is
	// padded to before sealing (spec §4.3, §9).
	PaddedMessageBytes = 7168

	pubKeyLen = 33 // compressed secp256k1 point
	nonceLen  = 12 // chacha20poly1305 standard nonce

	// minPayloadLen is the smallest a framed payload can be before its
	// pubkey-and-nonce header is even structurally present.
	minPayloadLen = pubKeyLen + nonceLen
)

// sharedKey performs ECDH and hashes the result down to a 32-byte
// ChaCha20-Poly1305 key; btcec.GenerateSharedSecret returns the x-coordinate
// of priv*pub, which is not itself uniformly distributed, so it is run
// through SHA-256 before use as a symmetric key.
func sharedKey(priv *btcec.PrivateKey, pub *btcec.PublicKey) []byte {
	secret := btcec.GenerateSharedSecret(priv, pub)
	sum := sha256.Sum256(secret)
	return sum[:]
}

func pad(plaintext []byte) ([]byte, error) {
	if len(plaintext) > PaddedMessageBytes {
		return nil, pjerr.ErrPayloadTooLarge
	}
	padded := make([]byte, PaddedMessageBytes)
	copy(padded, plaintext)
	return padded, nil
}

func seal(key, nonce, padded, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindImplementation, "Hpke", "constructing AEAD", err)
	}
	return aead.Seal(nil, nonce, padded, aad), nil
}

func open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindImplementation, "Hpke", "constructing AEAD", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindSession, "Hpke", "authenticated decryption failed", err)
	}
	return plaintext, nil
}

// frame lays out a sealed payload as
// [33-byte compressed ephemeral pubkey | 12-byte nonce | ciphertext||tag],
// the framing shared by both encrypt_A and encrypt_B (spec §4.3).
func frame(ePub *btcec.PublicKey, nonce, ciphertext []byte) []byte {
	ePubBytes := ePub.SerializeCompressed()
	out := make([]byte, 0, len(ePubBytes)+len(nonce)+len(ciphertext))
	out = append(out, ePubBytes...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out
}

func unframe(payload []byte) (ePub *btcec.PublicKey, nonce, ciphertext []byte, err error) {
	if len(payload) < minPayloadLen {
		return nil, nil, nil, pjerr.ErrPayloadTooShort
	}
	ePub, err = btcec.ParsePubKey(payload[:pubKeyLen])
	if err != nil {
		return nil, nil, nil, pjerr.Wrap(pjerr.KindSession, "InvalidKeyLength", "parsing framed ephemeral pubkey", err)
	}
	nonce = payload[pubKeyLen : pubKeyLen+nonceLen]
	ciphertext = payload[pubKeyLen+nonceLen:]
	return ePub, nonce, ciphertext, nil
}

// EncryptA seals plaintext for the sender's original request, keyed by
// ECDH(eSec, sPub). eSec is a fresh ephemeral keypair the sender generates
// per session; sPub is the receiver's long-lived directory pubkey. The
// nonce is randomized since many messages may be sealed under the same es
// key over the life of a session (spec §4.3).
func EncryptA(plaintext []byte, eSec *btcec.PrivateKey, sPub *btcec.PublicKey) ([]byte, error) {
	padded, err := pad(plaintext)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, pjerr.Wrap(pjerr.KindImplementation, "Hpke", "generating nonce", err)
	}
	ePub := eSec.PubKey()
	ciphertext, err := seal(sharedKey(eSec, sPub), nonce, padded, ePub.SerializeCompressed())
	if err != nil {
		return nil, err
	}
	return frame(ePub, nonce, ciphertext), nil
}

// DecryptA opens a payload sealed by EncryptA. sSec is the receiver's
// long-lived directory secret; the sender's ephemeral pubkey recovered from
// the frame is returned so the receiver can remember it for EncryptB.
func DecryptA(payload []byte, sSec *btcec.PrivateKey) (plaintext []byte, ePub *btcec.PublicKey, err error) {
	ePub, nonce, ciphertext, err := unframe(payload)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err = open(sharedKey(sSec, ePub), nonce, ciphertext, ePub.SerializeCompressed())
	if err != nil {
		return nil, nil, err
	}
	return plaintext, ePub, nil
}

// EncryptB seals plaintext for the receiver's response. A fresh ephemeral
// keypair is generated for this call and discarded once sealed; rePub is
// the sender's ephemeral pubkey recovered from the matching DecryptA call.
// The key is an ee ECDH between the two ephemeral keypairs, so the nonce is
// fixed at zero: this key is used for exactly one message (spec §4.3).
func EncryptB(plaintext []byte, rePub *btcec.PublicKey) ([]byte, error) {
	padded, err := pad(plaintext)
	if err != nil {
		return nil, err
	}
	eSec, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindImplementation, "Hpke", "generating ephemeral keypair", err)
	}
	nonce := make([]byte, nonceLen)
	ePub := eSec.PubKey()
	ciphertext, err := seal(sharedKey(eSec, rePub), nonce, padded, ePub.SerializeCompressed())
	if err != nil {
		return nil, err
	}
	return frame(ePub, nonce, ciphertext), nil
}

// DecryptB opens a payload sealed by EncryptB. eSec is the caller's own
// ephemeral secret from its original EncryptA call; ECDH(eSec, the
// responder's fresh ephemeral pubkey recovered from the frame) recomputes
// the same ee shared key the responder derived.
func DecryptB(payload []byte, eSec *btcec.PrivateKey) ([]byte, error) {
	rePub, nonce, ciphertext, err := unframe(payload)
	if err != nil {
		return nil, err
	}
	return open(sharedKey(eSec, rePub), nonce, ciphertext, rePub.SerializeCompressed())
}
