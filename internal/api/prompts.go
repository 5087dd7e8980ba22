// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jeranaias/consulta-tui/internal/model"
)

// =============================================================================
// SYSTEM PROMPT ENDPOINTS
// =============================================================================

// PromptPayload carries the writable fields of a system-prompt preset.
// On update, zero-valued fields are omitted so the backend keeps them.
type PromptPayload struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
	IsDefault   *bool  `json:"is_default,omitempty"`
}

// Prompts lists the named system-prompt presets.
func (c *Client) Prompts(ctx context.Context, limit, offset int) ([]model.SystemPrompt, error) {
	q := pageQuery(limit, offset)

	var prompts []model.SystemPrompt
	if err := c.do(ctx, http.MethodGet, "/prompts?"+q.Encode(), nil, &prompts); err != nil {
		return nil, err
	}
	return prompts, nil
}

// Prompt fetches one preset by id.
func (c *Client) Prompt(ctx context.Context, id int64) (*model.SystemPrompt, error) {
	var prompt model.SystemPrompt
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/prompts/%d", id), nil, &prompt); err != nil {
		return nil, err
	}
	return &prompt, nil
}

// CreatePrompt creates a preset. Name and Content are required by the backend.
func (c *Client) CreatePrompt(ctx context.Context, payload PromptPayload) (*model.SystemPrompt, error) {
	var prompt model.SystemPrompt
	if err := c.do(ctx, http.MethodPost, "/prompts", payload, &prompt); err != nil {
		return nil, err
	}
	return &prompt, nil
}

// UpdatePrompt patches a preset.
func (c *Client) UpdatePrompt(ctx context.Context, id int64, payload PromptPayload) (*model.SystemPrompt, error) {
	var prompt model.SystemPrompt
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/prompts/%d", id), payload, &prompt); err != nil {
		return nil, err
	}
	return &prompt, nil
}

// DeletePrompt removes a preset.
func (c *Client) DeletePrompt(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/prompts/%d", id), nil, nil)
}
