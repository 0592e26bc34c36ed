package psbtutil

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/payjoin-receiver/internal/pjerr"
)

func unsignedTx(t *testing.T, numIn, numOut int) *wire.MsgTx {
	t.Helper()
	tx := wire.NewMsgTx(wire.TxVersion)
	hash := chainhash.Hash{}
	for i := 0; i < numIn; i++ {
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&hash, uint32(i)), nil, nil))
	}
	for i := 0; i < numOut; i++ {
		tx.AddTxOut(wire.NewTxOut(10000, []byte{0x51}))
	}
	return tx
}

func TestValidateCountMismatch(t *testing.T) {
	tx := unsignedTx(t, 1, 1)
	pkt, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatalf("NewFromUnsignedTx: %v", err)
	}
	// Drop an input entry so counts disagree with the unsigned tx.
	pkt.Inputs = pkt.Inputs[:0]

	if _, err := Validate(pkt); err != pjerr.ErrInconsistentPsbt {
		t.Fatalf("Validate = %v, want ErrInconsistentPsbt", err)
	}
}

func TestPreviousTxOutWitnessOnly(t *testing.T) {
	tx := unsignedTx(t, 1, 1)
	pkt, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatalf("NewFromUnsignedTx: %v", err)
	}
	want := &wire.TxOut{Value: 55000, PkScript: []byte{0x00, 0x14}}
	pkt.Inputs[0].WitnessUtxo = want

	v, err := Validate(pkt)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got, err := PreviousTxOut(v.InputPairs()[0])
	if err != nil {
		t.Fatalf("PreviousTxOut: %v", err)
	}
	if got.Value != want.Value || !bytes.Equal(got.PkScript, want.PkScript) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestPreviousTxOutMissing(t *testing.T) {
	tx := unsignedTx(t, 1, 1)
	pkt, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatalf("NewFromUnsignedTx: %v", err)
	}

	v, err := Validate(pkt)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := PreviousTxOut(v.InputPairs()[0]); err != pjerr.ErrMissingUtxoInformation {
		t.Fatalf("PreviousTxOut = %v, want ErrMissingUtxoInformation", err)
	}
}

func TestPreviousTxOutMismatch(t *testing.T) {
	prevTx := wire.NewMsgTx(wire.TxVersion)
	prevTx.AddTxOut(wire.NewTxOut(60000, []byte{0x00, 0x14}))

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(10000, []byte{0x51}))

	pkt, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatalf("NewFromUnsignedTx: %v", err)
	}
	// Outpoint references prevTx's only output by txid.
	tx.TxIn[0].PreviousOutPoint.Hash = prevTx.TxHash()
	pkt.Inputs[0].NonWitnessUtxo = prevTx
	pkt.Inputs[0].WitnessUtxo = &wire.TxOut{Value: 1, PkScript: []byte{0x00, 0x14}}

	v, err := Validate(pkt)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := PreviousTxOut(v.InputPairs()[0]); err != pjerr.ErrSegWitTxOutMismatch {
		t.Fatalf("PreviousTxOut = %v, want ErrSegWitTxOutMismatch", err)
	}
}

func TestPreviousTxOutIndexOutOfBounds(t *testing.T) {
	prevTx := wire.NewMsgTx(wire.TxVersion)
	prevTx.AddTxOut(wire.NewTxOut(60000, []byte{0x00, 0x14}))

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, 5), nil, nil))
	tx.AddTxOut(wire.NewTxOut(10000, []byte{0x51}))

	pkt, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatalf("NewFromUnsignedTx: %v", err)
	}
	tx.TxIn[0].PreviousOutPoint.Hash = prevTx.TxHash()
	pkt.Inputs[0].NonWitnessUtxo = prevTx

	v, err := Validate(pkt)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := PreviousTxOut(v.InputPairs()[0]); err != pjerr.ErrIndexOutOfBounds {
		t.Fatalf("PreviousTxOut = %v, want ErrIndexOutOfBounds", err)
	}
}
