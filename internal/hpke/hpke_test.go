package hpke

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/rawblock/payjoin-receiver/internal/pjerr"
)

func mustKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	return priv
}

// TestRoundTripA covers spec §8's HPKE round-trip property for the
// sender-to-receiver direction: decrypt_A(encrypt_A(m)) is m zero-padded to
// PaddedMessageBytes, and the sender's ephemeral pubkey is recovered intact.
func TestRoundTripA(t *testing.T) {
	sSec := mustKey(t)
	eSec := mustKey(t)
	msg := []byte("original psbt goes here")
	want := make([]byte, PaddedMessageBytes)
	copy(want, msg)

	payload, err := EncryptA(msg, eSec, sSec.PubKey())
	if err != nil {
		t.Fatalf("EncryptA: %v", err)
	}

	got, ePub, err := DecryptA(payload, sSec)
	if err != nil {
		t.Fatalf("DecryptA: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("DecryptA plaintext = %q, want %q zero-padded to %d bytes", got, msg, PaddedMessageBytes)
	}
	if !ePub.IsEqual(eSec.PubKey()) {
		t.Fatalf("DecryptA recovered wrong ephemeral pubkey")
	}
}

// TestRoundTripB covers the receiver-to-sender response direction: the
// sender recomputes the same ee key using its original ephemeral secret and
// gets back the message zero-padded to PaddedMessageBytes.
func TestRoundTripB(t *testing.T) {
	senderESec := mustKey(t)
	msg := []byte("payjoin proposal psbt")
	want := make([]byte, PaddedMessageBytes)
	copy(want, msg)

	payload, err := EncryptB(msg, senderESec.PubKey())
	if err != nil {
		t.Fatalf("EncryptB: %v", err)
	}

	got, err := DecryptB(payload, senderESec)
	if err != nil {
		t.Fatalf("DecryptB: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("DecryptB plaintext = %q, want %q zero-padded to %d bytes", got, msg, PaddedMessageBytes)
	}
}

// TestPadBoundary covers spec §8 scenario 3: a plaintext exactly at
// PaddedMessageBytes succeeds, one byte over fails with PayloadTooLarge.
func TestPadBoundary(t *testing.T) {
	sSec := mustKey(t)
	eSec := mustKey(t)

	atLimit := bytes.Repeat([]byte{0x5a}, PaddedMessageBytes)
	if _, err := EncryptA(atLimit, eSec, sSec.PubKey()); err != nil {
		t.Fatalf("EncryptA at limit: %v", err)
	}

	overLimit := bytes.Repeat([]byte{0x5a}, PaddedMessageBytes+1)
	_, err := EncryptA(overLimit, eSec, sSec.PubKey())
	if err != pjerr.ErrPayloadTooLarge {
		t.Fatalf("EncryptA over limit = %v, want ErrPayloadTooLarge", err)
	}
}

// TestCiphertextSizeIsConstant checks that EncryptA's output length does not
// depend on the plaintext's length, only on PaddedMessageBytes (spec §4.3,
// §9 design note on padding against size-based fingerprinting).
func TestCiphertextSizeIsConstant(t *testing.T) {
	sSec := mustKey(t)

	short, err := EncryptA([]byte("hi"), mustKey(t), sSec.PubKey())
	if err != nil {
		t.Fatalf("EncryptA short: %v", err)
	}
	long, err := EncryptA(bytes.Repeat([]byte{0x01}, 4000), mustKey(t), sSec.PubKey())
	if err != nil {
		t.Fatalf("EncryptA long: %v", err)
	}
	if len(short) != len(long) {
		t.Fatalf("ciphertext lengths differ: %d vs %d", len(short), len(long))
	}
}

func TestDecryptATooShort(t *testing.T) {
	sSec := mustKey(t)
	if _, _, err := DecryptA(make([]byte, 10), sSec); err != pjerr.ErrPayloadTooShort {
		t.Fatalf("DecryptA = %v, want ErrPayloadTooShort", err)
	}
}

func TestDecryptAWrongKeyFails(t *testing.T) {
	sSec := mustKey(t)
	wrongSec := mustKey(t)
	eSec := mustKey(t)

	payload, err := EncryptA([]byte("secret"), eSec, sSec.PubKey())
	if err != nil {
		t.Fatalf("EncryptA: %v", err)
	}
	if _, _, err := DecryptA(payload, wrongSec); err == nil {
		t.Fatal("DecryptA with wrong secret succeeded, want failure")
	}
}
