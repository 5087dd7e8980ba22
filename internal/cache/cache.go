// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache holds the client-side view of conversation message lists
// across the optimistic-update / stream / reconciliation cycle.
//
// The strategy is deliberately "invalidate and refetch": rather than patching
// the cached list with server-assigned identifiers after a send, the whole
// list is dropped and re-fetched from the backend. That trades a moment of
// flicker for never having to merge local and remote state.
package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/jeranaias/consulta-tui/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrOptimisticPending is returned when a second optimistic entry is appended
// before the first was reconciled away. Only one send may be outstanding per
// conversation, so only one sentinel entry may exist at a time.
var ErrOptimisticPending = errors.New("an optimistic message is already pending")

// =============================================================================
// MESSAGE CACHE
// =============================================================================

// Fetcher retrieves the authoritative message list for a conversation.
// *api.Client's Messages method (curried with a page size) satisfies this.
type Fetcher func(ctx context.Context, conversationID int64) ([]model.Message, error)

type entry struct {
	messages []model.Message
	stale    bool
}

// MessageCache caches the ordered message list per conversation. It is the
// single shared mutable structure between the chat view and the send flow;
// a mutex keeps it coherent even though by construction only the active
// conversation's view writes to it.
type MessageCache struct {
	mu      sync.Mutex
	fetch   Fetcher
	entries map[int64]*entry
}

// New creates a cache backed by the given fetcher.
func New(fetch Fetcher) *MessageCache {
	return &MessageCache{
		fetch:   fetch,
		entries: make(map[int64]*entry),
	}
}

// Messages returns the conversation's ordered message list, fetching from the
// backend when the cache has no fresh copy. The returned slice is a copy;
// callers may not mutate cache internals through it.
func (c *MessageCache) Messages(ctx context.Context, conversationID int64) ([]model.Message, error) {
	c.mu.Lock()
	e, ok := c.entries[conversationID]
	if ok && !e.stale {
		msgs := copyMessages(e.messages)
		c.mu.Unlock()
		return msgs, nil
	}
	c.mu.Unlock()

	return c.refetch(ctx, conversationID)
}

// Activate marks the conversation stale so the next Messages call re-fetches.
// Called every time a conversation becomes the active one, so another
// session's edits never linger on screen.
func (c *MessageCache) Activate(conversationID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[conversationID]; ok {
		e.stale = true
	}
}

// AppendOptimistic inserts the user's message at the tail of the cached
// sequence with the sentinel id, before any network round trip, so the user
// sees their own message immediately. Fails if a sentinel entry is already
// present.
func (c *MessageCache) AppendOptimistic(conversationID int64, text string) (model.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[conversationID]
	if !ok {
		e = &entry{}
		c.entries[conversationID] = e
	}
	for _, m := range e.messages {
		if m.IsOptimistic() {
			return model.Message{}, ErrOptimisticPending
		}
	}

	msg := model.NewOptimisticMessage(text)
	e.messages = append(e.messages, msg)
	return msg, nil
}

// Reconcile discards the cached sequence and re-fetches the authoritative one
// from the backend. It must run exactly once per send attempt, success or
// failure, so an aborted send never leaves a phantom optimistic message. The
// cached entry is dropped before the fetch: even if the fetch fails, no
// sentinel entry survives.
func (c *MessageCache) Reconcile(ctx context.Context, conversationID int64) error {
	c.mu.Lock()
	delete(c.entries, conversationID)
	c.mu.Unlock()

	_, err := c.refetch(ctx, conversationID)
	return err
}

// Drop removes a conversation's entry outright, for when the conversation
// itself was deleted.
func (c *MessageCache) Drop(conversationID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, conversationID)
}

// Clear empties the whole cache. Wired into the auth guard's teardown: on
// session loss no other account's data may survive locally.
func (c *MessageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int64]*entry)
}

// HasOptimistic reports whether the conversation currently holds a sentinel
// entry.
func (c *MessageCache) HasOptimistic(conversationID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[conversationID]
	if !ok {
		return false
	}
	for _, m := range e.messages {
		if m.IsOptimistic() {
			return true
		}
	}
	return false
}

// refetch loads the authoritative list and installs it as fresh.
func (c *MessageCache) refetch(ctx context.Context, conversationID int64) ([]model.Message, error) {
	msgs, err := c.fetch(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[conversationID] = &entry{messages: copyMessages(msgs)}
	c.mu.Unlock()

	return msgs, nil
}

func copyMessages(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}
