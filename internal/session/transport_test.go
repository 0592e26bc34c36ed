package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/rawblock/payjoin-receiver/internal/ohttp"
)

// fakeGateway is an in-process OHTTP gateway/relay stand-in: it decapsulates
// each request as its own request-key side would, and stores/serves a
// per-subdirectory mailbox, mimicking the directory's store-and-forward
// behavior (spec §4.5, §5) well enough to drive Transport end-to-end.
type fakeGateway struct {
	gwSec *btcec.PrivateKey
	keys  ohttp.KeyConfig

	mu      sync.Mutex
	mailbox map[string][]byte
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	gwSec, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	return &fakeGateway{
		gwSec:   gwSec,
		keys:    ohttp.KeyConfig{KeyID: 0x01, GatewayPub: gwSec.PubKey()},
		mailbox: make(map[string][]byte),
	}
}

func (g *fakeGateway) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		encapsulated, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		// The gateway side of Decapsulate: g.open hands the frame to
		// ohttp.OpenRequest, which recomputes the request key from the
		// gateway's own secret and the client's ephemeral pubkey embedded
		// in the frame.
		req, respCtx, err := g.open(encapsulated)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var status int
		var body []byte
		switch {
		case req.Method == http.MethodPost && hasSuffix(req.Path, "/payjoin"):
			g.mu.Lock()
			g.mailbox[subdirOf(req.Path)] = nil // consumed
			g.mu.Unlock()
			status, body = 200, nil
		case req.Method == http.MethodPost:
			status, body = 200, nil // enrollment ack
		case req.Method == http.MethodGet:
			g.mu.Lock()
			pending, ok := g.mailbox[req.Path]
			g.mu.Unlock()
			if ok {
				status, body = 200, pending
			} else {
				status, body = 200, nil
			}
		default:
			status, body = 404, nil
		}

		sealed, err := ohttp.SealResponse(respCtx, status, body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(sealed)
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func subdirOf(path string) string {
	// "/xyz/payjoin" -> "/xyz"; "/xyz" -> "/xyz"
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' && i != 0 {
			return path[:i]
		}
	}
	return path
}

func (g *fakeGateway) open(encapsulated []byte) (*ohttp.Request, *ohttp.ResponseContext, error) {
	return ohttp.OpenRequest(g.gwSec, encapsulated)
}

func TestTransportEnrollPollUpload(t *testing.T) {
	gw := newFakeGateway(t)
	server := httptest.NewServer(gw.handler())
	defer server.Close()

	sess, err := New("directory.example", server.URL, server.URL, gw.keys, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr := NewTransport(&TransportConfig{
		Timeout:       5 * time.Second,
		PollInterval:  10 * time.Millisecond,
		RateLimit:     1000,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	})

	ctx := context.Background()
	if err := tr.Enroll(ctx, sess); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	result, err := tr.PollOnce(ctx, sess)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if !result.Empty {
		t.Fatalf("expected empty poll before any deposit, got %+v", result)
	}

	if err := tr.UploadResponse(ctx, sess, []byte("response-psbt")); err != nil {
		t.Fatalf("UploadResponse: %v", err)
	}
}
