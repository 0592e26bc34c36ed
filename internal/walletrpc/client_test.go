package walletrpc

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func TestSerializeTxHexRoundTrips(t *testing.T) {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{1}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x00, 0x14}))

	hexStr, err := serializeTxHex(tx)
	if err != nil {
		t.Fatalf("serializeTxHex: %v", err)
	}
	if len(hexStr) == 0 || len(hexStr)%2 != 0 {
		t.Fatalf("serializeTxHex produced malformed hex: %q", hexStr)
	}
}
