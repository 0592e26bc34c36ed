package main

import "fmt"

// runSend would drive the sender side of the protocol: parse the bip21 URI's
// pj= parameter, build and fee-bump the original PSBT, post it to the
// receiver's session, and merge back its proposal. The sender role is an
// explicit non-goal of this core (spec's scope is the receiver's §4.6
// pipeline); the subcommand is kept in the CLI surface for symmetry with
// payjoin-cli but refuses to run rather than half-implement a protocol role
// this repo doesn't otherwise support.
func runSend(bip21 string, feeRate float64, retry bool) error {
	return fmt.Errorf("send is not implemented: this build only drives the receiver side of the protocol (bip21=%q fee-rate=%g retry=%v)", bip21, feeRate, retry)
}
