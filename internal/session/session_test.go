package session

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/rawblock/payjoin-receiver/internal/hpke"
	"github.com/rawblock/payjoin-receiver/internal/ohttp"
)

func mustOhttpKeys(t *testing.T) ohttp.KeyConfig {
	t.Helper()
	gwSec, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	return ohttp.KeyConfig{KeyID: 0x01, GatewayPub: gwSec.PubKey()}
}

func TestNewAndSnapshotRoundTrip(t *testing.T) {
	keys := mustOhttpKeys(t)
	sess, err := New("directory.example", "relay.example", "https://relay.example/proxy", keys, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	subdirBefore := sess.Subdirectory()
	snap := sess.Snapshot()

	restored, err := FromSnapshot(snap)
	if err != nil {
		t.Fatalf("FromSnapshot: %v", err)
	}
	if restored.Subdirectory() != subdirBefore {
		t.Fatalf("subdirectory changed across snapshot round trip: %q vs %q", restored.Subdirectory(), subdirBefore)
	}
	if restored.DirectoryURL() != sess.DirectoryURL() || restored.RelayURL() != sess.RelayURL() {
		t.Fatal("directory/relay URLs not preserved across snapshot round trip")
	}
}

func TestExpired(t *testing.T) {
	keys := mustOhttpKeys(t)
	sess, err := New("d", "r", "p", keys, -time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !sess.Expired(time.Now()) {
		t.Fatal("session with negative TTL should already be expired")
	}
}

func TestParseFallbackBodyEmpty(t *testing.T) {
	keys := mustOhttpKeys(t)
	sess, err := New("d", "r", "p", keys, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := sess.ParseFallbackBody(nil)
	if err != nil {
		t.Fatalf("ParseFallbackBody: %v", err)
	}
	if !result.Empty {
		t.Fatal("expected Empty result for nil body")
	}
}

func TestParseFallbackBodyV1Plaintext(t *testing.T) {
	keys := mustOhttpKeys(t)
	sess, err := New("d", "r", "p", keys, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body := []byte("cHNidP8BAA==\nv=1&disableoutputsubstitution=0\x00\x00\x00")
	result, err := sess.ParseFallbackBody(body)
	if err != nil {
		t.Fatalf("ParseFallbackBody: %v", err)
	}
	if result.Empty || result.IsV2 {
		t.Fatalf("got %+v, want a non-empty v1 result", result)
	}
	if result.OriginalPSBTBase64 != "cHNidP8BAA==" {
		t.Fatalf("OriginalPSBTBase64 = %q", result.OriginalPSBTBase64)
	}
	if result.Query != "v=1&disableoutputsubstitution=0" {
		t.Fatalf("Query = %q", result.Query)
	}
}

func TestParseFallbackBodyV2Binary(t *testing.T) {
	keys := mustOhttpKeys(t)
	sess, err := New("d", "r", "p", keys, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	senderESec, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	sealed, err := hpke.EncryptA([]byte("cHNidP8BAA==\nv=2\x00\x00"), senderESec, sess.s.PubKey())
	if err != nil {
		t.Fatalf("EncryptA: %v", err)
	}

	result, err := sess.ParseFallbackBody(sealed)
	if err != nil {
		t.Fatalf("ParseFallbackBody: %v", err)
	}
	if result.Empty || !result.IsV2 {
		t.Fatalf("got %+v, want a non-empty v2 result", result)
	}
	if result.OriginalPSBTBase64 != "cHNidP8BAA==" || result.Query != "v=2" {
		t.Fatalf("got base64=%q query=%q", result.OriginalPSBTBase64, result.Query)
	}
	if _, ok := sess.SenderEphemeral(); !ok {
		t.Fatal("expected sender ephemeral pubkey to be remembered")
	}
}
