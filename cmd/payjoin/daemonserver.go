package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/rawblock/payjoin-receiver/internal/daemon"
	"github.com/rawblock/payjoin-receiver/internal/persist"
)

// maybeStartDaemon starts the operator HTTP/WS API in the background when
// port is nonzero, returning the Manager every subcommand reports its
// session transitions through regardless of whether the API is serving.
func maybeStartDaemon(persister persist.Persister, port int) *daemon.Manager {
	hub := daemon.NewHub()
	go hub.Run()

	mgr := daemon.NewManager(persister, hub)
	if port == 0 {
		return mgr
	}

	router := daemon.SetupRouter(mgr, hub)
	addr := fmt.Sprintf(":%d", port)
	go func() {
		log.Printf("payjoin: operator API listening on %s", addr)
		if err := http.ListenAndServe(addr, router); err != nil {
			log.Printf("payjoin: operator API stopped: %v", err)
		}
	}()
	return mgr
}
