package ohttp

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/rawblock/payjoin-receiver/internal/pjerr"
)

func mustGatewayKeys(t *testing.T) (KeyConfig, *btcec.PrivateKey) {
	t.Helper()
	gwSec, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	return KeyConfig{KeyID: 0x01, GatewayPub: gwSec.PubKey()}, gwSec
}

func TestKeyConfigRoundTrip(t *testing.T) {
	keys, _ := mustGatewayKeys(t)
	decoded, err := DecodeKeyConfig(keys.Encode())
	if err != nil {
		t.Fatalf("DecodeKeyConfig: %v", err)
	}
	if decoded.KeyID != keys.KeyID || !decoded.GatewayPub.IsEqual(keys.GatewayPub) {
		t.Fatalf("got %+v, want %+v", decoded, keys)
	}
}

func TestDecodeKeyConfigWrongLength(t *testing.T) {
	if _, err := DecodeKeyConfig([]byte{0x01, 0x02}); err != pjerr.ErrInvalidKeyLength {
		t.Fatalf("DecodeKeyConfig = %v, want ErrInvalidKeyLength", err)
	}
}

// TestEncapsulateDecapsulateRoundTrip exercises the client side of the
// request/response cycle: the receiver encapsulates a request, a gateway
// acknowledgement is sealed with SealResponse under the client's own
// ResponseContext (the request itself is not opened here), and the
// receiver decapsulates that acknowledgement.
func TestEncapsulateDecapsulateRoundTrip(t *testing.T) {
	keys, _ := mustGatewayKeys(t)

	encapsulated, ctx, err := Encapsulate(keys, "POST", "https", "directory.example", "/abc123/payjoin", []byte("psbt-bytes"))
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}
	if len(encapsulated) == 0 {
		t.Fatal("Encapsulate returned empty payload")
	}

	sealedResponse, err := SealResponse(ctx, 200, []byte("ok"))
	if err != nil {
		t.Fatalf("SealResponse: %v", err)
	}

	body, err := Decapsulate(ctx, sealedResponse)
	if err != nil {
		t.Fatalf("Decapsulate: %v", err)
	}
	if !bytes.Equal(body, []byte("ok")) {
		t.Fatalf("Decapsulate body = %q, want %q", body, "ok")
	}
}

func TestDecapsulateNonTwoXXStatus(t *testing.T) {
	keys, _ := mustGatewayKeys(t)
	_, ctx, err := Encapsulate(keys, "GET", "https", "directory.example", "/abc123", nil)
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}
	sealedResponse, err := SealResponse(ctx, 500, []byte("server error"))
	if err != nil {
		t.Fatalf("SealResponse: %v", err)
	}
	if _, err := Decapsulate(ctx, sealedResponse); err != pjerr.ErrUnexpectedStatusCode {
		t.Fatalf("Decapsulate = %v, want ErrUnexpectedStatusCode", err)
	}
}

func TestDecapsulateTooShort(t *testing.T) {
	keys, _ := mustGatewayKeys(t)
	_, ctx, err := Encapsulate(keys, "GET", "https", "directory.example", "/abc123", nil)
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}
	if _, err := Decapsulate(ctx, []byte{0x01, 0x02}); err != pjerr.ErrUnexpectedResponseSize {
		t.Fatalf("Decapsulate = %v, want ErrUnexpectedResponseSize", err)
	}
}
