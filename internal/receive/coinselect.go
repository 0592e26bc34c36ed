package receive

import (
	"sort"

	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/payjoin-receiver/internal/pjerr"
)

// isUIH1 and isUIH2 are the two "unnecessary input heuristic" shapes a
// naive coin-selector falls into, each of which lets a chain observer
// guess which output is payment and which is change just by comparing
// extremes (spec §4.6 "coin selection", §9 design note). UIH1 is the
// heuristic itself: the smallest output is smaller than the smallest
// input. UIH2 is its mirror with inputs and outputs swapped.
func isUIH1(minIn, minOut int64) bool { return minOut < minIn }
func isUIH2(minIn, minOut int64) bool { return minIn < minOut }

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func minSlice(vals []int64) int64 {
	m := vals[0]
	for _, v := range vals[1:] {
		m = min64(m, v)
	}
	return m
}

// selectPreservingPrivacy picks one candidate input out of the receiver's
// own candidate set such that adding it to the transaction does not trip
// either UIH shape against the transaction's existing inputs and outputs.
// Candidates are tried smallest-amount first so that, among several
// privacy-preserving choices, the smallest one is picked (spec §4.6
// "contribute the smallest input that preserves the heuristic").
func selectPreservingPrivacy(existingInputValues, outputValues []int64, candidates map[wire.OutPoint]int64) (wire.OutPoint, error) {
	if len(candidates) == 0 {
		return wire.OutPoint{}, pjerr.ErrNoCandidates
	}

	type candidate struct {
		op  wire.OutPoint
		amt int64
	}
	list := make([]candidate, 0, len(candidates))
	for op, amt := range candidates {
		list = append(list, candidate{op, amt})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].amt != list[j].amt {
			return list[i].amt < list[j].amt
		}
		return outpointLess(list[i].op, list[j].op)
	})

	minOut := minSlice(outputValues)
	baseMinIn := minSlice(existingInputValues)

	for _, c := range list {
		minIn := min64(baseMinIn, c.amt)
		if !isUIH1(minIn, minOut) && !isUIH2(minIn, minOut) {
			return c.op, nil
		}
	}
	return wire.OutPoint{}, pjerr.ErrNotEnoughFunds
}

func outpointLess(a, b wire.OutPoint) bool {
	if cmp := compareBytes(a.Hash[:], b.Hash[:]); cmp != 0 {
		return cmp < 0
	}
	return a.Index < b.Index
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}
