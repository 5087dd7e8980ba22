// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"
)

// =============================================================================
// ERRORS
// =============================================================================

// ChatError is a non-success HTTP status from the chat endpoint, raised
// before any fragment is read.
type ChatError struct {
	Status int
	Detail string
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("chat failed: %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("chat failed: %d", e.Status)
}

// StreamError is a network or body-read failure after the stream opened.
// Partial preserves whatever text arrived before the failure.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err is a 401 from the chat endpoint.
func IsUnauthorized(err error) bool {
	var chatErr *ChatError
	return errors.As(err, &chatErr) && chatErr.Status == http.StatusUnauthorized
}

// =============================================================================
// SESSION
// =============================================================================

// Opener opens the raw streaming exchange. *api.Client satisfies this; tests
// substitute their own.
type Opener interface {
	OpenStream(ctx context.Context, path string, payload any) (*http.Response, error)
}

// ChunkFunc receives each decoded text fragment, synchronously, in order.
type ChunkFunc func(fragment string)

// SendRequest is the payload of one streaming send.
type SendRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Prompt         string `json:"prompt"`
	System         string `json:"system,omitempty"`
	PromptID       int64  `json:"prompt_id,omitempty"`
}

// ErrEmptyPrompt is returned when Send is called with a blank prompt.
var ErrEmptyPrompt = errors.New("empty prompt")

// readBufferSize is the read granularity for the response body.
const readBufferSize = 4096

// Session performs streaming sends. It holds no conversation state: each Send
// is independent, and the accumulator lives for one call. The Pending flag is
// exposed so callers can disable their send affordance, but the session does
// not enforce single-flight itself; callers serialize sends per conversation.
type Session struct {
	opener  Opener
	limiter *rate.Limiter
	pending atomic.Bool
}

// Option configures a Session.
type Option func(*Session)

// WithLimiter throttles how often sends may start. A nil limiter disables
// throttling.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Session) { s.limiter = l }
}

// NewSession creates a streaming session backed by the given opener.
func NewSession(opener Opener, opts ...Option) *Session {
	s := &Session{opener: opener}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pending reports whether a send is currently in flight on this session.
func (s *Session) Pending() bool {
	return s.pending.Load()
}

// Send performs one streaming exchange and returns the full response text.
//
// The returned string is always byte-identical to the concatenation of the
// fragments delivered to onChunk. On a non-2xx status Send fails with
// *ChatError and reads nothing; on a mid-stream failure it fails with
// *StreamError carrying the partial text. The context is checked between
// fragment reads, so cancellation takes effect at the next read boundary.
func (s *Session) Send(ctx context.Context, req SendRequest, onChunk ChunkFunc) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", ErrEmptyPrompt
	}

	s.pending.Store(true)
	defer s.pending.Store(false)

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	resp, err := s.opener.OpenStream(ctx, "/chat", req)
	if err != nil {
		return "", &StreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", chatErrorFromResponse(resp)
	}

	return s.consume(ctx, resp.Body, onChunk)
}

// consume runs the read loop: decode bytes to text incrementally, append to
// the accumulator, deliver to the callback. The UTF-8 decoder holds back an
// incomplete trailing sequence until the bytes that finish it arrive, which
// is what keeps a rune split across two fragments intact.
func (s *Session) consume(ctx context.Context, body io.Reader, onChunk ChunkFunc) (string, error) {
	var accumulated strings.Builder
	decoded := transform.NewReader(body, unicode.UTF8.NewDecoder())
	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-ctx.Done():
			return accumulated.String(), &StreamError{Partial: accumulated.String(), Err: ctx.Err()}
		default:
		}

		n, err := decoded.Read(buf)
		if n > 0 {
			fragment := string(buf[:n])
			accumulated.WriteString(fragment)
			if onChunk != nil {
				onChunk(fragment)
			}
		}
		if err != nil {
			if err == io.EOF {
				return accumulated.String(), nil
			}
			return accumulated.String(), &StreamError{Partial: accumulated.String(), Err: err}
		}
	}
}

// chatErrorFromResponse drains the error body for a detail message.
func chatErrorFromResponse(resp *http.Response) error {
	chatErr := &ChatError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err == nil && len(data) > 0 {
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &detail) == nil && detail.Detail != "" {
			chatErr.Detail = detail.Detail
		}
	}
	return chatErr
}

// =============================================================================
// CHANNEL-BASED STREAMING
// =============================================================================

// Chunk is one element of the channel-based stream: either a text fragment or
// the terminal error. After an element with Err set, or after channel close,
// nothing else is delivered.
type Chunk struct {
	Text string
	Err  error
}

// SendChan performs a streaming send and exposes the fragments as a channel.
// The channel is closed when the stream reaches a terminal state; a failure
// is delivered as the final element with Err set. This is the lazy-sequence
// form of Send for callers that iterate rather than register a callback.
func (s *Session) SendChan(ctx context.Context, req SendRequest) <-chan Chunk {
	ch := make(chan Chunk, 64)

	go func() {
		defer close(ch)

		_, err := s.Send(ctx, req, func(fragment string) {
			select {
			case ch <- Chunk{Text: fragment}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			select {
			case ch <- Chunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return ch
}
