package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rawblock/payjoin-receiver/internal/ohttp"
	"github.com/rawblock/payjoin-receiver/internal/pjerr"
)

// TransportConfig controls the relay HTTP client's timeout, rate limit and
// retry behavior, mirroring the shape of a rate-limited HTTP API client
// (request timeout, requests/sec, retry count and backoff).
type TransportConfig struct {
	// Timeout bounds a single relay round trip. Default: 20s transport
	// health-check timeout per spec §4.5/§5.
	Timeout time.Duration
	// PollInterval is the delay between empty-poll retries. Default: 5s
	// per spec §4.5/§5.
	PollInterval time.Duration
	// RateLimit caps outbound requests per second to a single relay.
	RateLimit int
	// RetryAttempts bounds how many times a failed (non-empty-poll) relay
	// round trip is retried before giving up.
	RetryAttempts int
	// RetryDelay is the base backoff between retries.
	RetryDelay time.Duration
}

// DefaultTransportConfig reflects spec §5's stated timeouts.
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{
		Timeout:       20 * time.Second,
		PollInterval:  5 * time.Second,
		RateLimit:     10,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}

// Transport drives OHTTP-encapsulated round trips against a session's relay
// and directory, the concrete form of the suspension points named in spec
// §5 ("extract_req, process_res, long_poll_fallback").
type Transport struct {
	cfg         *TransportConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewTransport constructs a Transport; a nil cfg uses DefaultTransportConfig.
func NewTransport(cfg *TransportConfig) *Transport {
	if cfg == nil {
		cfg = DefaultTransportConfig()
	}
	return &Transport{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
	}
}

const (
	ohttpRequestContentType  = "message/ohttp-req"
	ohttpResponseContentType = "message/ohttp-res"
)

// roundTrip posts an OHTTP-encapsulated request to relayURL and returns the
// raw (still-encapsulated) response body.
func (t *Transport) roundTrip(ctx context.Context, relayURL string, encapsulated []byte) ([]byte, error) {
	if err := t.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= t.cfg.RetryAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL, bytes.NewReader(encapsulated))
		if err != nil {
			return nil, pjerr.Wrap(pjerr.KindImplementation, "Implementation", "building relay request", err)
		}
		req.Header.Set("Content-Type", ohttpRequestContentType)
		req.Header.Set("Accept", ohttpResponseContentType)

		resp, err := t.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < t.cfg.RetryAttempts {
				time.Sleep(t.cfg.RetryDelay * time.Duration(attempt+1))
				continue
			}
			return nil, pjerr.Wrap(pjerr.KindTransient, "UnexpectedStatusCode", "relay round trip failed", lastErr)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, pjerr.Wrap(pjerr.KindTransient, "UnexpectedStatusCode", "reading relay response", err)
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("relay returned %d", resp.StatusCode)
			if attempt < t.cfg.RetryAttempts {
				time.Sleep(t.cfg.RetryDelay * time.Duration(attempt+1))
				continue
			}
			return nil, pjerr.ErrUnexpectedStatusCode
		}
		if resp.StatusCode >= 400 {
			return nil, pjerr.ErrUnexpectedStatusCode
		}
		return body, nil
	}
	return nil, pjerr.Wrap(pjerr.KindTransient, "UnexpectedStatusCode", "relay round trip exhausted retries", lastErr)
}

// Enroll performs spec §4.5 step 2: POST the session's subdirectory to the
// directory via OHTTP, acknowledging enrollment with an empty body.
func (t *Transport) Enroll(ctx context.Context, s *Session) error {
	encapsulated, respCtx, err := ohttp.Encapsulate(s.ohttpKeys, http.MethodPost, "https", s.DirectoryURL(), "/"+s.Subdirectory(), nil)
	if err != nil {
		return pjerr.Wrap(pjerr.KindSession, "OhttpEncapsulation", "encapsulating enrollment", err)
	}
	raw, err := t.roundTrip(ctx, s.RelayURL(), encapsulated)
	if err != nil {
		return err
	}
	_, err = ohttp.Decapsulate(respCtx, raw)
	return err
}

// PollOnce performs one GET against the session's subdirectory and
// classifies the result per spec §4.5 "Fallback long-poll".
func (t *Transport) PollOnce(ctx context.Context, s *Session) (*FallbackBody, error) {
	encapsulated, respCtx, err := ohttp.Encapsulate(s.ohttpKeys, http.MethodGet, "https", s.DirectoryURL(), "/"+s.Subdirectory(), nil)
	if err != nil {
		return nil, pjerr.Wrap(pjerr.KindSession, "OhttpEncapsulation", "encapsulating poll", err)
	}
	raw, err := t.roundTrip(ctx, s.RelayURL(), encapsulated)
	if err != nil {
		return nil, err
	}
	body, err := ohttp.Decapsulate(respCtx, raw)
	if err != nil {
		return nil, err
	}
	return s.ParseFallbackBody(body)
}

// LongPollFallback polls PollOnce at cfg.PollInterval until a non-empty
// result arrives, the session expires, or ctx is canceled (spec §4.5 "On
// empty response body → keep polling").
func (t *Transport) LongPollFallback(ctx context.Context, s *Session) (*FallbackBody, error) {
	for {
		if s.Expired(time.Now()) {
			return nil, pjerr.ErrExpired
		}
		result, err := t.PollOnce(ctx, s)
		if err != nil {
			return nil, err
		}
		if !result.Empty {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.cfg.PollInterval):
		}
	}
}

// UploadResponse performs spec §4.5 "Response upload": seal the receiver's
// response PSBT (encrypt_B when the sender's ephemeral pubkey is known,
// plaintext otherwise) and POST it to the session's /payjoin path.
func (t *Transport) UploadResponse(ctx context.Context, s *Session, responsePSBT []byte) error {
	sealed, err := s.EncryptResponse(responsePSBT)
	if err != nil {
		return err
	}
	encapsulated, respCtx, err := ohttp.Encapsulate(s.ohttpKeys, http.MethodPost, "https", s.DirectoryURL(), "/"+s.Subdirectory()+"/payjoin", sealed)
	if err != nil {
		return pjerr.Wrap(pjerr.KindSession, "OhttpEncapsulation", "encapsulating response upload", err)
	}
	raw, err := t.roundTrip(ctx, s.RelayURL(), encapsulated)
	if err != nil {
		return err
	}
	_, err = ohttp.Decapsulate(respCtx, raw)
	return err
}
