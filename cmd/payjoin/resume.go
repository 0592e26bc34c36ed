package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/rawblock/payjoin-receiver/internal/persist"
	"github.com/rawblock/payjoin-receiver/internal/session"
)

// runResume re-enters the long-poll loop of every session this process
// still has an enrolled, unexpired snapshot for (SUPPLEMENTED FEATURES item
// 1: payjoin-cli only ever resumes one named session; this core's persister
// already indexes every session, so resuming all of them generalizes it
// rather than forcing the operator to remember and pass a session id).
func runResume(daemonPort int) error {
	wallet := connectWallet()
	defer wallet.Shutdown()
	persister := openPersister()
	mgr := maybeStartDaemon(persister, daemonPort)

	all, err := persister.ListSessions()
	if err != nil {
		return fmt.Errorf("listing persisted sessions: %w", err)
	}

	snapshots := make(map[string]session.Snapshot)
	for key, data := range all {
		if persist.StateType(key[32]) != persist.StateEnrolled {
			continue
		}
		var blob stateBlob
		if err := json.Unmarshal(data, &blob); err != nil {
			log.Printf("payjoin: skipping unreadable session checkpoint: %v", err)
			continue
		}
		if blob.Kind != persist.KindReceiver || blob.Session == nil {
			continue
		}
		snapshots[blob.Subdirectory] = *blob.Session
	}

	resumable := mgr.ReloadAll(snapshots)
	if len(resumable) == 0 {
		log.Printf("payjoin: no resumable sessions found")
		return nil
	}
	log.Printf("payjoin: resuming %d session(s)", len(resumable))

	ctx := context.Background()
	transport := session.NewTransport(nil)

	var wg sync.WaitGroup
	for _, subdir := range resumable {
		snap := snapshots[subdir]
		wg.Add(1)
		go func(snap session.Snapshot) {
			defer wg.Done()
			sess, err := session.FromSnapshot(snap)
			if err != nil {
				log.Printf("payjoin: rehydrating session: %v", err)
				return
			}
			if err := receiveOne(ctx, wallet, persister, transport, sess, mgr); err != nil {
				log.Printf("payjoin: resumed session %s ended with error: %v", sess.Subdirectory(), err)
			}
		}(snap)
	}
	wg.Wait()
	return nil
}
