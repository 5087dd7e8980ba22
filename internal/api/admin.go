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
// ADMIN ENDPOINTS
// =============================================================================
//
// These require the caller's user record to carry the admin role; the backend
// is the enforcement point and answers 403 otherwise.

// AdminUsers lists user accounts.
func (c *Client) AdminUsers(ctx context.Context, limit, offset int) ([]model.User, error) {
	q := pageQuery(limit, offset)

	var users []model.User
	if err := c.do(ctx, http.MethodGet, "/admin/users?"+q.Encode(), nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// AdminConversations lists conversations across accounts, optionally filtered
// to one user (userID > 0).
func (c *Client) AdminConversations(ctx context.Context, userID int64, limit, offset int) ([]model.Conversation, error) {
	q := pageQuery(limit, offset)
	if userID > 0 {
		q.Set("user_id", strconv.FormatInt(userID, 10))
	}

	var convs []model.Conversation
	if err := c.do(ctx, http.MethodGet, "/admin/conversations?"+q.Encode(), nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// AdminMessages fetches any conversation's messages regardless of owner.
func (c *Client) AdminMessages(ctx context.Context, conversationID int64, limit, offset int) ([]model.Message, error) {
	q := pageQuery(limit, offset)

	var msgs []model.Message
	path := fmt.Sprintf("/admin/conversations/%d/messages?%s", conversationID, q.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

type reassignRequest struct {
	TargetUserID int64 `json:"target_user_id"`
}

// ReassignConversation moves a conversation to another user.
func (c *Client) ReassignConversation(ctx context.Context, conversationID, targetUserID int64) error {
	path := fmt.Sprintf("/admin/conversations/%d/reassign", conversationID)
	return c.do(ctx, http.MethodPost, path, reassignRequest{TargetUserID: targetUserID}, nil)
}

// pageQuery builds the limit/offset query shared by the paginated endpoints.
func pageQuery(limit, offset int) url.Values {
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return q
}
