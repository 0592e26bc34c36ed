package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/payjoin-receiver/internal/daemon"
	"github.com/rawblock/payjoin-receiver/internal/directory"
	"github.com/rawblock/payjoin-receiver/internal/persist"
	"github.com/rawblock/payjoin-receiver/internal/pjerr"
	"github.com/rawblock/payjoin-receiver/internal/receive"
	"github.com/rawblock/payjoin-receiver/internal/session"
	"github.com/rawblock/payjoin-receiver/internal/walletrpc"
)

// fallbackBroadcastDelay is how long `receive`, once it has parsed the
// sender's original proposal, waits for the pipeline and the response upload
// to finish before broadcasting the original, un-payjoined transaction
// itself, so the receiver's payment is never stuck behind a payjoin round
// that stalls (spec §4.6 step 0, "Original tx broadcast fallback"). The
// timer is stopped once the upload succeeds or receiveOne returns.
const fallbackBroadcastDelay = 2 * time.Minute

func runReceive(amountSats int64, daemonPort int) error {
	wallet := connectWallet()
	defer wallet.Shutdown()
	persister := openPersister()
	mgr := maybeStartDaemon(persister, daemonPort)

	httpClient := &http.Client{Timeout: 20 * time.Second}
	ohttpKeys, err := directory.FetchOhttpKeys(httpClient, directoryURL())
	if err != nil {
		return fmt.Errorf("fetching directory ohttp keys: %w", err)
	}

	sess, err := session.New(directoryURL(), relayURL(), ohttpProxy(), ohttpKeys, sessionTTL)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	subdir := sess.Subdirectory()

	if err := saveCheckpoint(persister, pseudoTxid(subdir), persist.StateEnrolled, stateBlob{
		Kind: persist.KindReceiver, Subdirectory: subdir, Session: snapshotPtr(sess),
	}); err != nil {
		return err
	}

	transport := session.NewTransport(nil)
	ctx := context.Background()
	if err := transport.Enroll(ctx, sess); err != nil {
		return fmt.Errorf("enrolling with directory: %w", err)
	}
	mgr.Track(subdir, sess.Snapshot().Expiry)

	addr, err := wallet.NewAddress()
	if err != nil {
		return fmt.Errorf("generating receiving address: %w", err)
	}
	log.Printf("payjoin: share this invoice with the sender:\n%s", buildBip21(addr.EncodeAddress(), amountSats, directoryURL(), subdir))

	return receiveOne(ctx, wallet, persister, transport, sess, mgr)
}

// receiveOne drives one session from its first poll through to a completed,
// uploaded payjoin proposal (spec §4.5's long-poll loop feeding §4.6's
// typestate pipeline).
func receiveOne(ctx context.Context, wallet *walletrpc.Client, persister persist.Persister, transport *session.Transport, sess *session.Session, mgr *daemon.Manager) error {
	subdir := sess.Subdirectory()

	fallback, err := transport.LongPollFallback(ctx, sess)
	if err != nil {
		mgr.Fail(subdir, err)
		return fmt.Errorf("waiting for sender: %w", err)
	}
	mgr.Advance(subdir, "unchecked")

	txCtx := &receive.TransportContext{
		DirectoryURL: sess.DirectoryURL(),
		Subdirectory: subdir,
		OhttpKeys:    sess.OhttpKeys(),
	}
	if e, ok := sess.SenderEphemeral(); ok {
		txCtx.SenderEphemeral = e
	}

	unchecked, err := receive.New(fallback.OriginalPSBTBase64, fallback.Query, txCtx)
	if err != nil {
		mgr.Fail(subdir, err)
		return fmt.Errorf("parsing sender proposal: %w", err)
	}
	txid := [32]byte(unchecked.RawPacket().UnsignedTx.TxHash())

	originalTx := unchecked.ExtractTxToScheduleBroadcast()
	fallbackTimer := time.AfterFunc(fallbackBroadcastDelay, func() {
		log.Printf("payjoin: session %s did not complete in time, broadcasting original transaction", subdir)
		if _, err := wallet.Broadcast(originalTx); err != nil {
			log.Printf("payjoin: fallback broadcast failed: %v", err)
		}
	})
	defer fallbackTimer.Stop()

	final, err := runPipeline(wallet, persister, unchecked)
	if err != nil {
		mgr.Fail(subdir, err)
		return fmt.Errorf("building payjoin proposal: %w", err)
	}
	mgr.Advance(subdir, "payjoin_proposal")

	if err := saveCheckpoint(persister, txid, persist.StatePayjoinProposal, stateBlob{
		Kind: persist.KindReceiver, Subdirectory: subdir,
	}); err != nil {
		return err
	}

	v1Req, err := final.ExtractV1Req()
	if err != nil {
		return fmt.Errorf("serializing finalized proposal: %w", err)
	}
	if err := transport.UploadResponse(ctx, sess, []byte(v1Req)); err != nil {
		mgr.Fail(subdir, err)
		return fmt.Errorf("uploading response: %w", err)
	}

	fallbackTimer.Stop()
	mgr.Advance(subdir, "complete")
	log.Printf("payjoin: session %s complete, %d receiver-contributed input(s) locked", subdir, len(final.UtxosToBeLocked()))
	return nil
}

// runPipeline walks an UncheckedProposal through every §4.6 check using
// wallet as the capability-callback source, contributing wallet UTXOs where
// doing so preserves the privacy heuristic, and returns the signed proposal.
func runPipeline(wallet *walletrpc.Client, persister persist.Persister, unchecked *receive.UncheckedProposal) (*receive.PayjoinProposal, error) {
	maybeOwned, err := unchecked.CheckBroadcastSuitability(nil, wallet.CanBroadcast)
	if err != nil {
		return nil, err
	}
	maybeMixed, err := maybeOwned.CheckInputsNotOwned(wallet.IsOwned)
	if err != nil {
		return nil, err
	}
	maybeSeen, err := maybeMixed.CheckNoMixedInputScripts()
	if err != nil {
		return nil, err
	}
	outputsUnknown, err := maybeSeen.CheckNoInputsSeenBefore(persister.MarkSeen)
	if err != nil {
		return nil, err
	}
	wantsOutputs, err := outputsUnknown.IdentifyReceiverOutputs(wallet.IsReceiverOutput)
	if err != nil {
		return nil, err
	}
	wantsInputs := wantsOutputs.CommitOutputs()

	if err := contributeInputs(wallet, wantsInputs); err != nil {
		return nil, err
	}

	provisional, err := wantsInputs.CommitInputs()
	if err != nil {
		return nil, err
	}
	return provisional.FinalizeProposal(wallet.Signer, nil, nil)
}

// contributeInputs repeatedly offers the wallet's spendable UTXOs to
// TryPreservingPrivacy, contributing whichever it picks, until either no
// candidate preserves the heuristic or the wallet has no more to offer
// (spec §4.6 step 7, C8).
func contributeInputs(wallet *walletrpc.Client, wantsInputs *receive.WantsInputs) error {
	candidates, err := wallet.ListCandidateInputs()
	if err != nil {
		return fmt.Errorf("listing candidate inputs: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	byOutpoint := make(map[wire.OutPoint]receive.CandidateInput, len(candidates))
	values := make(map[wire.OutPoint]int64, len(candidates))
	for _, c := range candidates {
		byOutpoint[c.Outpoint] = c
		values[c.Outpoint] = c.WitnessUtxo.Value
	}

	for len(values) > 0 {
		pick, err := wantsInputs.TryPreservingPrivacy(values)
		if err != nil {
			if errors.Is(err, pjerr.ErrNotEnoughFunds) || errors.Is(err, pjerr.ErrNoCandidates) {
				return nil
			}
			return err
		}
		if err := wantsInputs.ContributeInputs([]receive.CandidateInput{byOutpoint[pick]}); err != nil {
			return err
		}
		delete(values, pick)
		delete(byOutpoint, pick)
	}
	return nil
}

func snapshotPtr(s *session.Session) *session.Snapshot {
	snap := s.Snapshot()
	return &snap
}
