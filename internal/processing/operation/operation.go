// Package operation holds the downstream actions protected by the retry flow.
package operation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrTransient marks a failed attempt. Every failure is treated as retryable.
var ErrTransient = errors.New("transient failure")

// Operation is the external action attempted once per delivered message.
type Operation interface {
	Execute(ctx context.Context, payload []byte) error
}

// Func adapts a function to Operation.
type Func func(ctx context.Context, payload []byte) error

func (f Func) Execute(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// Simulated fails for every payload containing Marker and succeeds otherwise.
type Simulated struct {
	Marker string
	log    *slog.Logger
}

// NewSimulated creates a simulated API call.
func NewSimulated(marker string) *Simulated {
	return &Simulated{
		Marker: marker,
		log:    slog.Default().With("component", "operation"),
	}
}

func (s *Simulated) Execute(ctx context.Context, payload []byte) error {
	if s.Marker != "" && bytes.Contains(payload, []byte(s.Marker)) {
		return fmt.Errorf("API call failed: %w", ErrTransient)
	}
	s.log.Info("API call succeeded", "message", string(payload))
	return nil
}

// HTTP posts the payload to a downstream endpoint. Transport errors and
// non-2xx responses are failures.
type HTTP struct {
	url         string
	contentType string
	client      *http.Client
}

// NewHTTP creates an HTTP operation with its own request timeout.
func NewHTTP(url string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		url:         url,
		contentType: "text/plain; charset=utf-8",
		client:      &http.Client{Timeout: timeout},
	}
}

func (h *HTTP) Execute(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w: %w", ErrTransient, err)
	}
	req.Header.Set("Content-Type", h.contentType)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("API call failed: %w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API call failed with status %d: %w", resp.StatusCode, ErrTransient)
	}
	return nil
}
