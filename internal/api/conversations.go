// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jeranaias/consulta-tui/internal/model"
)

// =============================================================================
// CONVERSATION ENDPOINTS
// =============================================================================

// DefaultMessageLimit is the page size used when callers pass limit <= 0.
const DefaultMessageLimit = 100

type createConversationRequest struct {
	Title string `json:"title"`
}

// Conversations lists the caller's conversations, most recently updated first.
func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var convs []model.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// CreateConversation creates a conversation with the given title (the backend
// substitutes a default when the title is empty).
func (c *Client) CreateConversation(ctx context.Context, title string) (*model.Conversation, error) {
	var conv model.Conversation
	err := c.do(ctx, http.MethodPost, "/conversations", createConversationRequest{Title: title}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation removes a conversation; the backend cascades to its
// messages. Callers drop the corresponding cache entry.
func (c *Client) DeleteConversation(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/conversations/%d", id), nil, nil)
}

// Messages fetches one page of a conversation's ordered message list.
func (c *Client) Messages(ctx context.Context, conversationID int64, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var msgs []model.Message
	path := fmt.Sprintf("/conversations/%d/messages?%s", conversationID, q.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// =============================================================================
// ENGINE STATUS
// =============================================================================

// EngineStatus pings the backend's inference engine health endpoint.
func (c *Client) EngineStatus(ctx context.Context) (*model.EngineStatus, error) {
	var status model.EngineStatus
	if err := c.do(ctx, http.MethodGet, "/config/ollama", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
