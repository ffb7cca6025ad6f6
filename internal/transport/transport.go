// Package transport is the boundary interface to the socket plumbing:
// a plain HTTP round trip with context-based cancellation, carrying
// the binary wire.Envelope framing this system's cross-edge messages
// use.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dreamware/edgecache/internal/wire"
)

// ErrTimeout is the typed transient error callers retry on while
// their own running flag remains set.
var ErrTimeout = errors.New("transport: timeout")

// Transport is the narrow send/receive boundary internal/cooperation and
// internal/beacon depend on. Production code wires HTTPTransport; tests
// wire MockTransport, generated by the directive below.
//
//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=mock_transport.go -package=transport
type Transport interface {
	// Send delivers env to addr and returns the peer's response envelope.
	// A deadline exceeded by ctx, or by the transport's own internal
	// timeout, must be reported as ErrTimeout so callers can distinguish
	// "retry me" from a harder failure.
	Send(ctx context.Context, addr wire.Addr, env *wire.Envelope) (*wire.Envelope, error)
}

// HTTPTransport implements Transport over plain HTTP. The client is an
// instance field so multiple edges in one test process never share
// connection state.
type HTTPTransport struct {
	client *http.Client
	path   string // e.g. "/cross-edge", posted to every addr
}

// NewHTTPTransport builds an HTTPTransport with the given per-request
// timeout; cross-edge and edge-cloud round trips have different
// realistic budgets.
func NewHTTPTransport(timeout time.Duration, path string) *HTTPTransport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if path == "" {
		path = "/cross-edge"
	}
	return &HTTPTransport{client: &http.Client{Timeout: timeout}, path: path}
}

func (t *HTTPTransport) Send(ctx context.Context, addr wire.Addr, env *wire.Envelope) (*wire.Envelope, error) {
	body, err := wire.EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("http://%s%s", addr.String(), t.path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("transport: http %s: %d", url, resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return wire.DecodeEnvelope(respBody)
}
