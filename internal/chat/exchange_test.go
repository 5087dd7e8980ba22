// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/consulta-tui/internal/api"
	"github.com/jeranaias/consulta-tui/internal/cache"
	"github.com/jeranaias/consulta-tui/internal/model"
)

// =============================================================================
// FULL EXCHANGE (session + cache against one backend)
// =============================================================================

// exchangeBackend is a mock backend serving the chat stream and the message
// history endpoint, recording every request it sees.
type exchangeBackend struct {
	mu       sync.Mutex
	requests []string
	chatFail bool
}

func (b *exchangeBackend) record(r *http.Request) {
	b.mu.Lock()
	b.requests = append(b.requests, r.Method+" "+r.URL.Path)
	b.mu.Unlock()
}

func (b *exchangeBackend) seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

func (b *exchangeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.record(r)
	switch r.URL.Path {
	case "/api/chat":
		if b.chatFail {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"detail": "engine crashed"}`)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		flusher := w.(http.Flusher)
		for _, fragment := range []string{"Hola", ", ¿en", " qué puedo ayudarte?"} {
			io.WriteString(w, fragment)
			flusher.Flush()
		}
	case "/api/conversations/42/messages":
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"id": 1, "role": "user", "content": "hola", "created_at": "2025-03-01T12:00:00Z"},
			{"id": 2, "role": "assistant", "content": "Hola, ¿en qué puedo ayudarte?", "created_at": "2025-03-01T12:00:02Z"}
		]`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newExchange(t *testing.T, backend *exchangeBackend) (*Session, *cache.MessageCache, func()) {
	t.Helper()
	server := httptest.NewServer(backend)

	client, err := api.NewClient(&api.ClientConfig{BaseURL: server.URL + "/api"}, nil)
	require.NoError(t, err)

	msgCache := cache.New(func(ctx context.Context, conversationID int64) ([]model.Message, error) {
		return client.Messages(ctx, conversationID, 0, 0)
	})
	return NewSession(client), msgCache, server.Close
}

func countOf(seen []string, entry string) int {
	n := 0
	for _, s := range seen {
		if s == entry {
			n++
		}
	}
	return n
}

func TestExchangeRefetchesMessagesAfterStream(t *testing.T) {
	backend := &exchangeBackend{}
	session, msgCache, done := newExchange(t, backend)
	defer done()
	ctx := context.Background()

	_, err := msgCache.AppendOptimistic(42, "hola")
	require.NoError(t, err)

	var fragments []string
	reply, err := session.Send(ctx, SendRequest{ConversationID: 42, Prompt: "hola"}, func(fragment string) {
		fragments = append(fragments, fragment)
	})
	require.NoError(t, err)

	// The aggregate is the concatenation of the delivered fragments, in order.
	var joined string
	for _, f := range fragments {
		joined += f
	}
	assert.Equal(t, "Hola, ¿en qué puedo ayudarte?", reply)
	assert.Equal(t, reply, joined)

	require.NoError(t, msgCache.Reconcile(ctx, 42))
	msgs, err := msgCache.Messages(ctx, 42)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for _, msg := range msgs {
		assert.False(t, msg.IsOptimistic())
	}

	// The confirmed history was refetched after the stream finished, once.
	seen := backend.seen()
	chatAt, messagesAt := -1, -1
	for i, s := range seen {
		switch s {
		case "POST /api/chat":
			chatAt = i
		case "GET /api/conversations/42/messages":
			messagesAt = i
		}
	}
	require.GreaterOrEqual(t, chatAt, 0, "chat endpoint never hit")
	require.GreaterOrEqual(t, messagesAt, 0, "messages endpoint never hit")
	assert.Greater(t, messagesAt, chatAt, "history refetch must follow the stream")
	assert.Equal(t, 1, countOf(seen, "GET /api/conversations/42/messages"),
		"Messages after Reconcile must serve from cache")
}

func TestExchangeFailureStillReconciles(t *testing.T) {
	backend := &exchangeBackend{chatFail: true}
	session, msgCache, done := newExchange(t, backend)
	defer done()
	ctx := context.Background()

	_, err := msgCache.AppendOptimistic(42, "hola")
	require.NoError(t, err)

	fragments := 0
	_, err = session.Send(ctx, SendRequest{ConversationID: 42, Prompt: "hola"}, func(string) {
		fragments++
	})

	var chatErr *ChatError
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, http.StatusInternalServerError, chatErr.Status)
	assert.Equal(t, "engine crashed", chatErr.Detail)
	assert.Equal(t, 0, fragments, "no fragments on a failed open")

	// Failure settles the cache through the same path as success: the
	// optimistic entry never survives.
	require.NoError(t, msgCache.Reconcile(ctx, 42))
	assert.False(t, msgCache.HasOptimistic(42))

	seen := backend.seen()
	require.Equal(t, "POST /api/chat", seen[0])
	assert.Equal(t, 1, countOf(seen, "GET /api/conversations/42/messages"))
}
