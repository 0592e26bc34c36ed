package receive

import (
	"bytes"
	"encoding/base64"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/payjoin-receiver/internal/hpke"
	"github.com/rawblock/payjoin-receiver/internal/ohttp"
	"github.com/rawblock/payjoin-receiver/internal/pjerr"
	"github.com/rawblock/payjoin-receiver/internal/psbtutil"
)

// ProvisionalProposal has its final input/output set locked and is ready
// for the wallet to sign (spec §4.6 step 8).
type ProvisionalProposal struct {
	proposal        *UncheckedProposal
	ownedVouts      []int
	lockedOutpoints []wire.OutPoint
}

// FinalizeProposal signs the receiver's own inputs, leaving the sender's
// inputs untouched, and enforces the sender's fee-rate bounds against the
// resulting effective fee rate (spec §4.6 step 8). minFeeRate mirrors the
// sender's query parameter; maxFeeRate is the wallet's own ceiling, since
// the protocol gives the sender no maxfeerate parameter to violate.
func (pp *ProvisionalProposal) FinalizeProposal(sign Signer, minFeeRate, maxFeeRate *float64) (*PayjoinProposal, error) {
	signed, err := sign(pp.proposal.original.Packet())
	if err != nil {
		return nil, pjerr.Implementation("signer", err)
	}
	validated, err := psbtutil.Validate(signed)
	if err != nil {
		return nil, err
	}
	prevouts, err := validated.ValidateInputUtxos(true)
	if err != nil {
		return nil, err
	}
	rate := feeRate(signed.UnsignedTx, sumValues(prevouts))
	if minFeeRate != nil && rate < *minFeeRate {
		return nil, pjerr.ErrFeeTooLow
	}
	if maxFeeRate != nil && rate > *maxFeeRate {
		return nil, pjerr.ErrFeeTooHigh
	}

	return &PayjoinProposal{
		psbt:                      validated,
		ownedVouts:                pp.ownedVouts,
		lockedOutpoints:           pp.lockedOutpoints,
		disableOutputSubstitution: pp.proposal.params.DisableOutputSubstitution,
		ctx:                       pp.proposal.ctx,
	}, nil
}

// PayjoinProposal is the final, signed payjoin ready to be returned to the
// sender, either as a v1 HTTP response body or a v2 OHTTP upload (spec
// §4.6 step 9).
type PayjoinProposal struct {
	psbt                      *psbtutil.Validated
	ownedVouts                []int
	lockedOutpoints           []wire.OutPoint
	disableOutputSubstitution bool
	ctx                       *TransportContext
}

// PSBT returns the finalized proposal's PSBT.
func (pj *PayjoinProposal) PSBT() *psbt.Packet { return pj.psbt.Packet() }

// UtxosToBeLocked reports the outpoints the receiver contributed, so the
// caller's wallet can lock them against being spent elsewhere until the
// payjoin either confirms or is abandoned.
func (pj *PayjoinProposal) UtxosToBeLocked() []wire.OutPoint {
	return append([]wire.OutPoint(nil), pj.lockedOutpoints...)
}

// IsOutputSubstitutionDisabled reports whether the sender forbade output
// substitution for this proposal.
func (pj *PayjoinProposal) IsOutputSubstitutionDisabled() bool { return pj.disableOutputSubstitution }

// OwnedVouts reports which outputs of the finalized transaction pay the
// receiver.
func (pj *PayjoinProposal) OwnedVouts() []int {
	return append([]int(nil), pj.ownedVouts...)
}

// ExtractV1Req serializes the proposal as the base64 PSBT a v1 fallback
// response body is (spec §4.6 step 9, v1 path).
func (pj *PayjoinProposal) ExtractV1Req() (string, error) {
	var buf bytes.Buffer
	if err := pj.psbt.Packet().Serialize(&buf); err != nil {
		return "", pjerr.Wrap(pjerr.KindImplementation, "Implementation", "serializing finalized psbt", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ExtractV2Req seals the proposal for upload over the v2 transport:
// encrypt_B under the sender's ephemeral pubkey if one was learned from
// the original request, then OHTTP-encapsulate the result addressed to
// the directory (spec §4.5 "Response upload", §4.6 step 9, v2 path).
func (pj *PayjoinProposal) ExtractV2Req() ([]byte, *ohttp.ResponseContext, error) {
	if pj.ctx == nil {
		return nil, nil, pjerr.Wrap(pjerr.KindImplementation, "Implementation",
			"ExtractV2Req called on a proposal with no v2 transport context", nil)
	}
	v1, err := pj.ExtractV1Req()
	if err != nil {
		return nil, nil, err
	}
	body := []byte(v1)
	if pj.ctx.SenderEphemeral != nil {
		body, err = hpke.EncryptB(body, pj.ctx.SenderEphemeral)
		if err != nil {
			return nil, nil, err
		}
	}
	path := "/" + pj.ctx.Subdirectory + "/payjoin"
	return ohttp.Encapsulate(pj.ctx.OhttpKeys, "POST", "https", pj.ctx.DirectoryURL, path, body)
}

// ProcessRes decapsulates the directory's acknowledgement of an uploaded
// v2 response, surfacing a non-2xx status as UnexpectedStatusCode (spec
// §4.6 step 9).
func (pj *PayjoinProposal) ProcessRes(respCtx *ohttp.ResponseContext, body []byte) error {
	_, err := ohttp.Decapsulate(respCtx, body)
	return err
}
