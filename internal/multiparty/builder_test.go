package multiparty

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/payjoin-receiver/internal/receive"
)

func senderProposal(t *testing.T, senderTag byte, v int, optimisticMerge bool) *receive.UncheckedProposal {
	t.Helper()
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{senderTag}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(10000+senderTag), []byte{0x00, 0x14}))

	pkt, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatalf("NewFromUnsignedTx: %v", err)
	}
	pkt.Inputs[0].WitnessUtxo = &wire.TxOut{Value: 50000, PkScript: []byte{0x00, 0x14}}

	p, err := receive.UncheckedProposalFromPacket(pkt, receive.Params{V: v, OptimisticMerge: optimisticMerge}, nil)
	if err != nil {
		t.Fatalf("UncheckedProposalFromPacket: %v", err)
	}
	return p
}

func TestBuilderRejectsIneligibleProposal(t *testing.T) {
	b := NewBuilder()
	if err := b.Add(senderProposal(t, 1, 1, true)); err == nil {
		t.Fatal("expected rejection of v1 proposal")
	}
	if err := b.Add(senderProposal(t, 2, 2, false)); err == nil {
		t.Fatal("expected rejection of non-optimistic-merge proposal")
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", b.Len())
	}
}

func TestBuilderRequiresAtLeastTwo(t *testing.T) {
	b := NewBuilder()
	if err := b.Add(senderProposal(t, 1, 2, true)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected Build to fail with a single accepted proposal")
	}
}

func TestBuilderMergesInputsAndOutputs(t *testing.T) {
	b := NewBuilder()
	if err := b.Add(senderProposal(t, 1, 2, true)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := b.Add(senderProposal(t, 2, 2, true)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	merged, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tx := merged.RawPacket().UnsignedTx
	if len(tx.TxIn) != 2 {
		t.Fatalf("len(TxIn) = %d, want 2", len(tx.TxIn))
	}
	if len(tx.TxOut) != 2 {
		t.Fatalf("len(TxOut) = %d, want 2", len(tx.TxOut))
	}
	// Outputs ordered ascending by value: sender 1 contributed 10001, sender
	// 2 contributed 10002.
	if tx.TxOut[0].Value != 10001 || tx.TxOut[1].Value != 10002 {
		t.Fatalf("TxOut values = [%d, %d], want [10001, 10002]", tx.TxOut[0].Value, tx.TxOut[1].Value)
	}
}
