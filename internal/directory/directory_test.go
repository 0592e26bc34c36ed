package directory

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// TestSubdirectoryDeterminism covers spec §8's "subdirectory determinism"
// property: subdirectory(s.pub) = base64url(compressed(s.pub)) with no
// padding, and is stable across repeated calls.
func TestSubdirectoryDeterminism(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	pub := priv.PubKey()

	first := Subdirectory(pub)
	second := Subdirectory(pub)
	if first != second {
		t.Fatalf("Subdirectory not deterministic: %q vs %q", first, second)
	}
	if bytes.ContainsRune([]byte(first), '=') {
		t.Fatalf("Subdirectory contains padding: %q", first)
	}

	got, err := ParseSubdirectory(first)
	if err != nil {
		t.Fatalf("ParseSubdirectory: %v", err)
	}
	if !got.IsEqual(pub) {
		t.Fatal("ParseSubdirectory recovered the wrong pubkey")
	}
}

// TestOhttpKeysRoundTrip covers spec §8's "OHTTP keys round-trip" property:
// decode(encode(k)) == k bitwise.
func TestOhttpKeysRoundTrip(t *testing.T) {
	keyConfig := []byte{0x01, 0x02, 0x03, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

	encoded, err := EncodeOhttpKeys(keyConfig)
	if err != nil {
		t.Fatalf("EncodeOhttpKeys: %v", err)
	}
	decoded, err := DecodeOhttpKeys(encoded)
	if err != nil {
		t.Fatalf("DecodeOhttpKeys: %v", err)
	}
	if !bytes.Equal(decoded, keyConfig) {
		t.Fatalf("round trip = %x, want %x", decoded, keyConfig)
	}
}

func TestDecodeOhttpKeysRejectsPlainBech32(t *testing.T) {
	// A plain bech32 (not bech32m) string under the right HRP must be
	// rejected even if otherwise well formed.
	converted, err := bech32.ConvertBits([]byte{0x01, 0x02, 0x03}, 8, 5, true)
	if err != nil {
		t.Fatalf("ConvertBits: %v", err)
	}
	plainBech32, err := bech32.Encode(ohttpKeyHRP, converted)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := DecodeOhttpKeys(plainBech32); err == nil {
		t.Fatal("expected plain bech32 to be rejected")
	}
}

func TestDecodeOhttpKeysRejectsWrongHRP(t *testing.T) {
	encoded, err := EncodeOhttpKeys([]byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("EncodeOhttpKeys: %v", err)
	}
	// Swap the HRP prefix to something else entirely.
	tampered := "bc" + encoded[len(ohttpKeyHRP):]
	if _, err := DecodeOhttpKeys(tampered); err == nil {
		t.Fatal("expected wrong HRP to be rejected")
	}
}
