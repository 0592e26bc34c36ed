// Package directory implements the deterministic addressing rules of the
// v2 transport (spec §4.5, §6): the subdirectory a session is reachable at,
// and the bech32m encoding used to publish and parse OHTTP key configs.
package directory

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/rawblock/payjoin-receiver/internal/ohttp"
	"github.com/rawblock/payjoin-receiver/internal/pjerr"
)

// ohttpKeyHRP is the bech32m human-readable part OHTTP key configs are
// published under (spec §4.5, §6: "bech32m encoding for OHTTP key configs
// and pubkeys", HRP "oh").
const ohttpKeyHRP = "oh"

// Subdirectory returns the base64url-without-padding encoding of pub's
// compressed SEC1 form, the receiver's addressable path at the directory
// (spec §4.5: "subdirectory = base64url(compressed(s.pubkey))").
func Subdirectory(pub *btcec.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pub.SerializeCompressed())
}

// ParseSubdirectory reverses Subdirectory, recovering the session's
// long-term pubkey from its path component.
func ParseSubdirectory(subdir string) (*btcec.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(subdir)
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindSession, "SenderParams", "decoding subdirectory", err)
	}
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindSession, "InvalidKeyLength", "parsing subdirectory pubkey", err)
	}
	return pub, nil
}

// EncodeOhttpKeys renders an opaque OHTTP KeyConfig as bech32m with HRP
// "oh" (spec §4.5 "OHTTP keys (C5)").
func EncodeOhttpKeys(keyConfig []byte) (string, error) {
	converted, err := bech32.ConvertBits(keyConfig, 8, 5, true)
	if err != nil {
		return "", pjerr.Wrap(pjerr.KindSession, "InvalidKeyLength", "converting ohttp key bits", err)
	}
	encoded, err := bech32.EncodeM(ohttpKeyHRP, converted)
	if err != nil {
		return "", pjerr.Wrap(pjerr.KindSession, "InvalidKeyLength", "bech32m-encoding ohttp keys", err)
	}
	return encoded, nil
}

// DecodeOhttpKeys reverses EncodeOhttpKeys, rejecting inputs under the
// wrong HRP or encoded as plain bech32 instead of bech32m.
func DecodeOhttpKeys(encoded string) ([]byte, error) {
	hrp, data, encoding, err := bech32.DecodeGeneric(encoded)
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindSession, "InvalidKeyLength", "decoding ohttp keys", err)
	}
	if encoding != bech32.Bech32m {
		return nil, pjerr.Wrap(pjerr.KindSession, "InvalidKeyLength", "ohttp keys must be bech32m, not bech32", nil)
	}
	if hrp != ohttpKeyHRP {
		return nil, pjerr.Wrap(pjerr.KindSession, "InvalidKeyLength", "unexpected ohttp key hrp: "+hrp, nil)
	}
	keyConfig, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindSession, "InvalidKeyLength", "converting ohttp key bits", err)
	}
	return keyConfig, nil
}

// WellKnownOhttpGatewayPath is the directory's published location for its
// OHTTP key config (spec §6).
const WellKnownOhttpGatewayPath = "/.well-known/ohttp-gateway"

// PayjoinPath is where the receiver's response PSBT is delivered under a
// session's subdirectory (spec §4.5, §6).
func PayjoinPath(subdir string) string {
	return "/" + subdir + "/payjoin"
}

// SessionPath is the subdirectory's own enrollment/poll path.
func SessionPath(subdir string) string {
	return "/" + subdir
}

// FetchOhttpKeys retrieves and decodes the directory's published OHTTP key
// config (spec §4.4/§6, C5), the one plaintext round trip a new session
// needs before any of its own traffic can be OHTTP-encapsulated.
func FetchOhttpKeys(client *http.Client, directoryURL string) (ohttp.KeyConfig, error) {
	resp, err := client.Get(directoryURL + WellKnownOhttpGatewayPath)
	if err != nil {
		return ohttp.KeyConfig{}, fmt.Errorf("fetching ohttp gateway key config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ohttp.KeyConfig{}, fmt.Errorf("fetching ohttp gateway key config: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ohttp.KeyConfig{}, fmt.Errorf("reading ohttp gateway key config: %w", err)
	}
	raw, err := DecodeOhttpKeys(string(body))
	if err != nil {
		return ohttp.KeyConfig{}, err
	}
	return ohttp.DecodeKeyConfig(raw)
}
