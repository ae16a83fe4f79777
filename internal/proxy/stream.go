package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ocx/inference-gateway/internal/gwerrors"
)

// Stream forwards a byte stream under independent lifetime and idle-silence
// caps (C7, spec.md §4.7 — "the most delicate component").
type Stream struct {
	client   *http.Client
	lifetime time.Duration
	idle     time.Duration
}

// NewStream builds a Stream proxy. client is the shared outbound pool (C5).
func NewStream(client *http.Client, lifetime, idle time.Duration) *Stream {
	return &Stream{client: client, lifetime: lifetime, idle: idle}
}

// chunk carries one upstream Read result back from the reader goroutine.
type chunk struct {
	data []byte
	err  error
}

// Forward POSTs payload to upstreamURL and relays the response body to w
// verbatim, chunk-for-chunk, as text/event-stream. It returns once the
// stream ends — cleanly on lifetime/idle expiry or upstream EOF, or because
// the client went away (ctx from the request was cancelled). In every case
// the upstream connection is closed before Forward returns.
func (s *Stream) Forward(ctx context.Context, w http.ResponseWriter, upstreamURL string, payload []byte, backendAuth string) {
	flusher, _ := w.(http.Flusher)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(payload))
	if err != nil {
		gwerrors.Write(w, gwerrors.ErrUpstreamTransport, 0)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+backendAuth)

	resp, err := s.client.Do(req)
	if err != nil {
		gwerrors.Write(w, gwerrors.ErrUpstreamTransport, 0)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		// Upstream rejected before ever entering stream mode: pass the status
		// and body through unchanged, same as the unary path would.
		body, _ := io.ReadAll(resp.Body)
		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(body)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	start := time.Now()
	chunks := make(chan chunk, 1)
	done := make(chan struct{})
	defer close(done)

	go readChunks(resp.Body, chunks, done)

	idleTimer := time.NewTimer(s.idle)
	defer idleTimer.Stop()

	for {
		remaining := s.lifetime - time.Since(start)
		if remaining <= 0 {
			return
		}
		if !idleTimer.Stop() {
			select {
			case <-idleTimer.C:
			default:
			}
		}
		wait := s.idle
		if remaining < wait {
			wait = remaining
		}
		idleTimer.Reset(wait)

		select {
		case <-ctx.Done():
			// Client disconnected or request context expired; upstream body
			// close happens via the deferred resp.Body.Close() above.
			return
		case <-idleTimer.C:
			// Idle-silence cap elapsed, or the lifetime cap elapsed and we
			// capped the wait to it above; either way the stream ends clean.
			return
		case c := <-chunks:
			if c.err != nil {
				return
			}
			if len(c.data) > 0 {
				_, _ = w.Write(c.data)
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
	}
}

// readChunks pumps raw reads from body into out until EOF, an error, or
// done is closed. It never blocks the caller past done being closed because
// a single in-flight Read may still return after that point, but the
// goroutine itself exits once it observes done or sends a terminal chunk.
func readChunks(body io.Reader, out chan<- chunk, done <-chan struct{}) {
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- chunk{data: data}:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case out <- chunk{err: err}:
			case <-done:
			}
			return
		}
	}
}
