package receive

import (
	"net/url"
	"strconv"

	"github.com/rawblock/payjoin-receiver/internal/pjerr"
)

// Params is the sender's parsed query string, carried alongside the PSBT at
// every stage of the proposal pipeline (spec §3, §6).
type Params struct {
	V                            int
	DisableOutputSubstitution    bool
	AdditionalFeeOutputIndex     *int
	MaxAdditionalFeeContribution *int64
	MinFeeRate                   *float64
	OptimisticMerge              bool
}

// ParseParams parses the sender payload's query string (spec §6 "Sender
// payload format"). Unrecognized keys are ignored; malformed values for a
// recognized key, or an unsupported protocol version, fail with
// SenderParams.
func ParseParams(query string) (Params, error) {
	values, err := url.ParseQuery(query)
	if err != nil {
		return Params{}, pjerr.Wrap(pjerr.KindReplyable, "SenderParams", "parsing query string", err)
	}

	p := Params{V: 1}
	if v := values.Get("v"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Params{}, pjerr.Wrap(pjerr.KindReplyable, "SenderParams", "parsing v", err)
		}
		p.V = n
	}
	if p.V != 1 && p.V != 2 {
		return Params{}, pjerr.ErrSenderParams
	}

	if v := values.Get("disableoutputsubstitution"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Params{}, pjerr.Wrap(pjerr.KindReplyable, "SenderParams", "parsing disableoutputsubstitution", err)
		}
		p.DisableOutputSubstitution = b
	}

	if v := values.Get("additionalfeeoutputindex"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Params{}, pjerr.Wrap(pjerr.KindReplyable, "SenderParams", "parsing additionalfeeoutputindex", err)
		}
		p.AdditionalFeeOutputIndex = &n
	}

	if v := values.Get("maxadditionalfeecontribution"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Params{}, pjerr.Wrap(pjerr.KindReplyable, "SenderParams", "parsing maxadditionalfeecontribution", err)
		}
		p.MaxAdditionalFeeContribution = &n
	}

	if v := values.Get("minfeerate"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Params{}, pjerr.Wrap(pjerr.KindReplyable, "SenderParams", "parsing minfeerate", err)
		}
		p.MinFeeRate = &f
	}

	if v := values.Get("optimisticmerge"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Params{}, pjerr.Wrap(pjerr.KindReplyable, "SenderParams", "parsing optimisticmerge", err)
		}
		p.OptimisticMerge = b
	}

	return p, nil
}
