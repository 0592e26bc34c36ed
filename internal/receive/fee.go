package receive

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// transactionWeight reports tx's BIP141 weight units.
func transactionWeight(tx *wire.MsgTx) int64 {
	return blockchain.GetTransactionWeight(btcutil.NewTx(tx))
}

// vsize is tx's virtual size in vbytes, the unit sat/vB fee rates are
// expressed in.
func vsize(tx *wire.MsgTx) float64 {
	return float64(transactionWeight(tx)) / 4
}

// feeRate computes tx's effective fee rate given the total value of its
// spent inputs (spec §4.6 steps 1 and 8: broadcast suitability and
// finalize_proposal both gate on this).
func feeRate(tx *wire.MsgTx, totalIn int64) float64 {
	var totalOut int64
	for _, out := range tx.TxOut {
		totalOut += out.Value
	}
	fee := totalIn - totalOut
	if fee <= 0 {
		return 0
	}
	size := vsize(tx)
	if size <= 0 {
		return 0
	}
	return float64(fee) / size
}

func sumValues(prevouts map[int]*wire.TxOut) int64 {
	var total int64
	for _, out := range prevouts {
		total += out.Value
	}
	return total
}

// dustLimit is the minimum output value this pipeline will leave a
// contribution-augmented receiver output at. Real dust thresholds vary by
// script type and relay fee rate; spec §4.6 step 7 only requires rejecting
// below-dust outputs, so a single conservative constant (Bitcoin Core's
// default P2PKH dust threshold) stands in rather than modeling every
// script type's exact relay policy.
const dustLimit = 546

func isDust(value int64) bool { return value < dustLimit }
