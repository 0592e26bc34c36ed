package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/rawblock/payjoin-receiver/internal/daemon"
	"github.com/rawblock/payjoin-receiver/internal/directory"
	"github.com/rawblock/payjoin-receiver/internal/multiparty"
	"github.com/rawblock/payjoin-receiver/internal/persist"
	"github.com/rawblock/payjoin-receiver/internal/receive"
	"github.com/rawblock/payjoin-receiver/internal/session"
)

// runReceiveBatch drives a batched Payjoin round (spec §4.7, C9): enroll n
// independent sessions, accumulate each sender's optimistic-merge proposal
// into an UncheckedProposalBuilder, run the merged proposal through the
// ordinary §4.6 pipeline once, deliver the resulting response to every
// participating sender, then wait for each sender to return their own
// signed contribution and combine them into one broadcastable transaction.
func runReceiveBatch(amountSats int64, n int, daemonPort int) error {
	if n < 2 {
		return fmt.Errorf("batch requires at least 2 senders, got %d", n)
	}

	wallet := connectWallet()
	defer wallet.Shutdown()
	persister := openPersister()
	mgr := maybeStartDaemon(persister, daemonPort)

	addr, err := wallet.NewAddress()
	if err != nil {
		return fmt.Errorf("generating receiving address: %w", err)
	}

	sessions, err := enrollBatchSessions(persister, mgr, n)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		log.Printf("payjoin: share this invoice with a batch sender:\n%s",
			buildBip21(addr.EncodeAddress(), amountSats, directoryURL(), sess.Subdirectory()))
	}

	ctx := context.Background()
	transport := session.NewTransport(nil)

	proposals, err := collectBatchProposals(ctx, transport, sessions, mgr)
	if err != nil {
		return err
	}

	builder := multiparty.NewBuilder()
	for _, p := range proposals {
		if err := builder.Add(p); err != nil {
			return fmt.Errorf("rejecting batch proposal: %w", err)
		}
	}
	merged, err := builder.Build()
	if err != nil {
		return fmt.Errorf("merging batch proposals: %w", err)
	}

	final, err := runPipeline(wallet, persister, merged)
	if err != nil {
		for _, sess := range sessions {
			mgr.Fail(sess.Subdirectory(), err)
		}
		return fmt.Errorf("building merged payjoin proposal: %w", err)
	}
	for _, sess := range sessions {
		mgr.Advance(sess.Subdirectory(), "payjoin_proposal")
	}

	v1Req, err := final.ExtractV1Req()
	if err != nil {
		return fmt.Errorf("serializing merged proposal: %w", err)
	}
	for _, sess := range sessions {
		if err := transport.UploadResponse(ctx, sess, []byte(v1Req)); err != nil {
			return fmt.Errorf("uploading merged response to %s: %w", sess.Subdirectory(), err)
		}
	}

	signedPackets, err := collectSignedContributions(ctx, transport, sessions)
	if err != nil {
		return err
	}
	signedPackets = append(signedPackets, final.PSBT())

	fp, err := multiparty.NewFinalizedProposal(signedPackets)
	if err != nil {
		return fmt.Errorf("assembling finalized batch proposal: %w", err)
	}
	finalTx, err := fp.Combine()
	if err != nil {
		return fmt.Errorf("combining batch signatures: %w", err)
	}

	txid, err := wallet.Broadcast(finalTx)
	if err != nil {
		return fmt.Errorf("broadcasting combined batch transaction: %w", err)
	}
	for _, sess := range sessions {
		mgr.Advance(sess.Subdirectory(), "complete")
	}
	log.Printf("payjoin: batch of %d sender(s) complete, broadcast %s", n, txid)
	return nil
}

// enrollBatchSessions creates and enrolls n sessions sharing one batch round,
// persisting each under its own pseudo txid exactly as a single-sender
// session would be (spec §4.8).
func enrollBatchSessions(persister persist.Persister, mgr *daemon.Manager, n int) ([]*session.Session, error) {
	httpClient := &http.Client{Timeout: 20 * time.Second}
	ohttpKeys, err := directory.FetchOhttpKeys(httpClient, directoryURL())
	if err != nil {
		return nil, fmt.Errorf("fetching directory ohttp keys: %w", err)
	}

	sessions := make([]*session.Session, 0, n)
	for i := 0; i < n; i++ {
		sess, err := session.New(directoryURL(), relayURL(), ohttpProxy(), ohttpKeys, sessionTTL)
		if err != nil {
			return nil, fmt.Errorf("creating batch session %d: %w", i, err)
		}
		subdir := sess.Subdirectory()
		if err := saveCheckpoint(persister, pseudoTxid(subdir), persist.StateEnrolled, stateBlob{
			Kind: persist.KindReceiver, Subdirectory: subdir, Session: snapshotPtr(sess),
		}); err != nil {
			return nil, err
		}
		transport := session.NewTransport(nil)
		if err := transport.Enroll(context.Background(), sess); err != nil {
			return nil, fmt.Errorf("enrolling batch session %d: %w", i, err)
		}
		mgr.Track(subdir, sess.Snapshot().Expiry)
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// collectBatchProposals waits, concurrently, for every session's first
// long-poll fallback to return a sender's original proposal.
func collectBatchProposals(ctx context.Context, transport *session.Transport, sessions []*session.Session, mgr *daemon.Manager) ([]*receive.UncheckedProposal, error) {
	proposals := make([]*receive.UncheckedProposal, len(sessions))
	errs := make([]error, len(sessions))

	var wg sync.WaitGroup
	for i, sess := range sessions {
		wg.Add(1)
		go func(i int, sess *session.Session) {
			defer wg.Done()
			fallback, err := transport.LongPollFallback(ctx, sess)
			if err != nil {
				errs[i] = fmt.Errorf("waiting for batch sender %d: %w", i, err)
				return
			}
			mgr.Advance(sess.Subdirectory(), "unchecked")

			txCtx := &receive.TransportContext{
				DirectoryURL: sess.DirectoryURL(),
				Subdirectory: sess.Subdirectory(),
				OhttpKeys:    sess.OhttpKeys(),
			}
			if e, ok := sess.SenderEphemeral(); ok {
				txCtx.SenderEphemeral = e
			}
			p, err := receive.New(fallback.OriginalPSBTBase64, fallback.Query, txCtx)
			if err != nil {
				mgr.Fail(sess.Subdirectory(), err)
				errs[i] = fmt.Errorf("parsing batch sender %d proposal: %w", i, err)
				return
			}
			proposals[i] = p
		}(i, sess)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return proposals, nil
}

// collectSignedContributions waits for every sender to sign the merged
// proposal's response and upload its own finalized PSBT back to its
// subdirectory (spec §4.7 "FinalizedProposal.combine").
func collectSignedContributions(ctx context.Context, transport *session.Transport, sessions []*session.Session) ([]*psbt.Packet, error) {
	packets := make([]*psbt.Packet, len(sessions))
	errs := make([]error, len(sessions))

	var wg sync.WaitGroup
	for i, sess := range sessions {
		wg.Add(1)
		go func(i int, sess *session.Session) {
			defer wg.Done()
			fallback, err := transport.LongPollFallback(ctx, sess)
			if err != nil {
				errs[i] = fmt.Errorf("waiting for signed contribution from sender %d: %w", i, err)
				return
			}
			raw, err := base64.StdEncoding.DecodeString(fallback.OriginalPSBTBase64)
			if err != nil {
				errs[i] = fmt.Errorf("decoding signed contribution from sender %d: %w", i, err)
				return
			}
			pkt, err := psbt.NewFromRawBytes(bytes.NewReader(raw), true)
			if err != nil {
				errs[i] = fmt.Errorf("parsing signed contribution from sender %d: %w", i, err)
				return
			}
			packets[i] = pkt
		}(i, sess)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return packets, nil
}
