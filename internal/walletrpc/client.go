// Package walletrpc adapts a Bitcoin Core wallet, reached over its RPC
// interface, into the capability callbacks internal/receive's pipeline
// needs (spec §4.6): mempool-acceptance testing, input/output ownership
// checks, PSBT signing, and candidate UTXO listing for coin selection.
package walletrpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/payjoin-receiver/internal/receive"
)

// Config carries the node RPC endpoint and the network the receiver's
// wallet operates on.
type Config struct {
	Host   string
	User   string
	Pass   string
	Params *chaincfg.Params
}

// Client wraps a wallet-loaded Bitcoin Core RPC connection.
type Client struct {
	rpc    *rpcclient.Client
	params *chaincfg.Params
}

// Connect dials a Bitcoin Core node and verifies connectivity.
func Connect(cfg Config) (*Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	log.Printf("walletrpc: connecting to %s...", cfg.Host)
	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing wallet rpc: %w", err)
	}
	if _, err := rpc.GetBlockCount(); err != nil {
		rpc.Shutdown()
		return nil, fmt.Errorf("verifying wallet rpc connection: %w", err)
	}

	params := cfg.Params
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &Client{rpc: rpc, params: params}, nil
}

// Shutdown closes the underlying RPC connection.
func (c *Client) Shutdown() {
	c.rpc.Shutdown()
}

// CanBroadcast satisfies receive.CanBroadcast via testmempoolaccept, the
// same check a node performs just before actually relaying a transaction.
func (c *Client) CanBroadcast(tx *wire.MsgTx) (bool, error) {
	raw, err := serializeTxHex(tx)
	if err != nil {
		return false, err
	}

	param, err := json.Marshal([]string{raw})
	if err != nil {
		return false, fmt.Errorf("marshaling testmempoolaccept params: %w", err)
	}
	resp, err := c.rpc.RawRequest("testmempoolaccept", []json.RawMessage{param})
	if err != nil {
		return false, fmt.Errorf("testmempoolaccept: %w", err)
	}

	var results []struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.Unmarshal(resp, &results); err != nil {
		return false, fmt.Errorf("unmarshaling testmempoolaccept result: %w", err)
	}
	return len(results) == 1 && results[0].Allowed, nil
}

// Broadcast submits tx to the network, returning its txid.
func (c *Client) Broadcast(tx *wire.MsgTx) (string, error) {
	hash, err := c.rpc.SendRawTransaction(tx, false)
	if err != nil {
		return "", fmt.Errorf("broadcasting transaction: %w", err)
	}
	return hash.String(), nil
}

// IsOwned satisfies receive.IsOwned by asking the wallet whether it knows
// the private key behind pkScript (getaddressinfo.ismine).
func (c *Client) IsOwned(pkScript []byte) (bool, error) {
	return c.addressInfoFlag(pkScript, "ismine")
}

// IsReceiverOutput satisfies receive.IsReceiverOutput: an output whose
// address the receiver's wallet owns (ismine) or merely watches
// (iswatchonly).
func (c *Client) IsReceiverOutput(pkScript []byte) (bool, error) {
	ismine, err := c.addressInfoFlag(pkScript, "ismine")
	if err != nil {
		return false, err
	}
	if ismine {
		return true, nil
	}
	return c.addressInfoFlag(pkScript, "iswatchonly")
}

func (c *Client) addressInfoFlag(pkScript []byte, field string) (bool, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, c.params)
	if err != nil || len(addrs) == 0 {
		return false, nil
	}

	param, err := json.Marshal(addrs[0].EncodeAddress())
	if err != nil {
		return false, fmt.Errorf("marshaling getaddressinfo params: %w", err)
	}
	resp, err := c.rpc.RawRequest("getaddressinfo", []json.RawMessage{param})
	if err != nil {
		return false, fmt.Errorf("getaddressinfo: %w", err)
	}

	var info map[string]json.RawMessage
	if err := json.Unmarshal(resp, &info); err != nil {
		return false, fmt.Errorf("unmarshaling getaddressinfo result: %w", err)
	}
	raw, ok := info[field]
	if !ok {
		return false, nil
	}
	var flag bool
	if err := json.Unmarshal(raw, &flag); err != nil {
		return false, fmt.Errorf("unmarshaling getaddressinfo.%s: %w", field, err)
	}
	return flag, nil
}

// Signer satisfies receive.Signer via walletprocesspsbt, which fills
// partial signatures for whichever inputs the wallet can sign and leaves
// the sender's inputs untouched.
func (c *Client) Signer(proposalPSBT *psbt.Packet) (*psbt.Packet, error) {
	b64, err := proposalPSBT.B64Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding psbt for signing: %w", err)
	}

	params := []interface{}{b64, true}
	rawParams := make([]json.RawMessage, len(params))
	for i, v := range params {
		m, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshaling walletprocesspsbt params: %w", err)
		}
		rawParams[i] = m
	}

	resp, err := c.rpc.RawRequest("walletprocesspsbt", rawParams)
	if err != nil {
		return nil, fmt.Errorf("walletprocesspsbt: %w", err)
	}

	var result struct {
		PSBT string `json:"psbt"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshaling walletprocesspsbt result: %w", err)
	}

	signed, err := psbt.NewFromRawBytes(strings.NewReader(result.PSBT), true)
	if err != nil {
		return nil, fmt.Errorf("decoding signed psbt: %w", err)
	}
	return signed, nil
}

// ListCandidateUTXOs lists the wallet's unspent outputs as candidates for
// receive.WantsInputs.TryPreservingPrivacy / ContributeInputs (spec
// §4.6 step 7).
func (c *Client) ListCandidateUTXOs() (map[wire.OutPoint]int64, error) {
	unspent, err := c.rpc.ListUnspentMin(1)
	if err != nil {
		return nil, fmt.Errorf("listunspent: %w", err)
	}

	out := make(map[wire.OutPoint]int64, len(unspent))
	for _, u := range unspent {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("parsing utxo txid %q: %w", u.TxID, err)
		}
		amount, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("parsing utxo amount for %q:%d: %w", u.TxID, u.Vout, err)
		}
		out[wire.OutPoint{Hash: *hash, Index: u.Vout}] = int64(amount)
	}
	return out, nil
}

// NewAddress asks the wallet for a fresh receiving address, the destination
// a `receive` session's BIP21 invoice points the sender at.
func (c *Client) NewAddress() (btcutil.Address, error) {
	addr, err := c.rpc.GetNewAddress("")
	if err != nil {
		return nil, fmt.Errorf("getnewaddress: %w", err)
	}
	return addr, nil
}

// ListCandidateInputs lists the wallet's unspent outputs as receive.CandidateInput
// values, ready to hand to WantsInputs.TryPreservingPrivacy/ContributeInputs
// (spec §4.6 step 7). Each carries its WitnessUtxo straight from listunspent
// rather than a second round trip per outpoint.
func (c *Client) ListCandidateInputs() ([]receive.CandidateInput, error) {
	unspent, err := c.rpc.ListUnspentMin(1)
	if err != nil {
		return nil, fmt.Errorf("listunspent: %w", err)
	}

	out := make([]receive.CandidateInput, 0, len(unspent))
	for _, u := range unspent {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("parsing utxo txid %q: %w", u.TxID, err)
		}
		pkScript, err := hex.DecodeString(u.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("decoding utxo scriptPubKey for %q:%d: %w", u.TxID, u.Vout, err)
		}
		amount, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("parsing utxo amount for %q:%d: %w", u.TxID, u.Vout, err)
		}
		out = append(out, receive.CandidateInput{
			Outpoint:    wire.OutPoint{Hash: *hash, Index: u.Vout},
			WitnessUtxo: &wire.TxOut{Value: int64(amount), PkScript: pkScript},
		})
	}
	return out, nil
}

func serializeTxHex(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serializing transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
