// Package proxy implements the unary (C6) and streaming (C7) forwarding of
// a single admitted request to its chosen backend.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ocx/inference-gateway/internal/gwerrors"
)

// Unary forwards a single request/response pair under a lifetime deadline
// (C6, spec.md §4.6).
type Unary struct {
	client   *http.Client
	lifetime time.Duration
}

// NewUnary builds a Unary proxy. client is the shared outbound pool (C5).
func NewUnary(client *http.Client, lifetime time.Duration) *Unary {
	return &Unary{client: client, lifetime: lifetime}
}

// Forward POSTs payload to upstreamURL with backendAuth as the upstream
// bearer token, and copies the upstream status and body back via w
// unchanged. Transport errors map to 502; lifetime expiry maps to 504. It
// returns the raw response body so callers can inspect it (e.g. the
// optional quota hook reading a usage field) without a second read.
func (u *Unary) Forward(ctx context.Context, w http.ResponseWriter, upstreamURL string, payload []byte, backendAuth string) []byte {
	ctx, cancel := context.WithTimeout(ctx, u.lifetime)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(payload))
	if err != nil {
		gwerrors.Write(w, gwerrors.ErrUpstreamTransport, 0)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+backendAuth)

	resp, err := u.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			gwerrors.Write(w, gwerrors.ErrLifetimeExceeded, 0)
			return nil
		}
		gwerrors.Write(w, gwerrors.ErrUpstreamTransport, 0)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			gwerrors.Write(w, gwerrors.ErrLifetimeExceeded, 0)
			return nil
		}
		gwerrors.Write(w, gwerrors.ErrUpstreamTransport, 0)
		return nil
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
	return body
}
