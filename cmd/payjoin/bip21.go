package main

import (
	"fmt"
	"net/url"

	"github.com/rawblock/payjoin-receiver/internal/directory"
)

// buildBip21 renders the invoice a `receive` session hands to the sender
// out of band: a standard BIP21 URI with a `pj` parameter pointing at the
// session's subdirectory (spec §4.5, the address the sender's wallet
// enrolls against to deliver its Original PSBT).
func buildBip21(address string, amountSats int64, directoryURL, subdirectory string) string {
	amountBTC := float64(amountSats) / 1e8
	values := url.Values{}
	values.Set("amount", fmt.Sprintf("%.8f", amountBTC))
	values.Set("pj", directoryURL+directory.SessionPath(subdirectory))
	return fmt.Sprintf("bitcoin:%s?%s", address, values.Encode())
}
