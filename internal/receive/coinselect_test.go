package receive

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func op(b byte, idx uint32) wire.OutPoint {
	return *wire.NewOutPoint(&chainhash.Hash{b}, idx)
}

func TestSelectPreservingPrivacyPicksMatchingMinimum(t *testing.T) {
	existing := []int64{100000}
	outputs := []int64{50000}
	candidates := map[wire.OutPoint]int64{
		op(1, 0): 70000, // min(outs) 50000 < new min(ins) 70000: UIH1
		op(2, 0): 50000, // new min(ins) == min(outs): satisfies the constraint
		op(3, 0): 20000, // new min(ins) 20000 < min(outs) 50000: UIH2
	}

	got, err := selectPreservingPrivacy(existing, outputs, candidates)
	if err != nil {
		t.Fatalf("selectPreservingPrivacy: %v", err)
	}
	if want := op(2, 0); got != want {
		t.Fatalf("selected %v, want %v", got, want)
	}
}

func TestSelectPreservingPrivacyNoCandidates(t *testing.T) {
	_, err := selectPreservingPrivacy([]int64{1}, []int64{1}, nil)
	if err == nil {
		t.Fatal("expected ErrNoCandidates")
	}
}

func TestSelectPreservingPrivacyNotEnoughFunds(t *testing.T) {
	existing := []int64{100000}
	outputs := []int64{50000}
	candidates := map[wire.OutPoint]int64{
		op(1, 0): 20000,
		op(2, 0): 30000,
	}
	_, err := selectPreservingPrivacy(existing, outputs, candidates)
	if err == nil {
		t.Fatal("expected ErrNotEnoughFunds")
	}
}
