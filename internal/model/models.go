// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared between the API client,
// the conversation cache, and the UI.
package model

import (
	"time"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks messages written by the person at the keyboard.
	RoleUser Role = "user"

	// RoleAssistant marks messages produced by the model.
	RoleAssistant Role = "assistant"
)

// =============================================================================
// MESSAGES
// =============================================================================

// OptimisticID is the sentinel identifier for a message shown locally before
// the backend has produced a durable record. At most one message with this
// id exists in a conversation's cached sequence at any time, and none survive
// reconciliation.
const OptimisticID int64 = -1

// Message is one entry in a conversation. IDs are backend-assigned except for
// the OptimisticID sentinel.
type Message struct {
	ID        int64     `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewOptimisticMessage builds the locally-synthesized user message inserted
// into the cache before the backend confirms the send.
func NewOptimisticMessage(content string) Message {
	return Message{
		ID:        OptimisticID,
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// IsOptimistic reports whether the message carries the sentinel id.
func (m Message) IsOptimistic() bool {
	return m.ID == OptimisticID
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// Conversation is the list-level view of a conversation. Messages are fetched
// separately, paginated.
type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// USERS & AUTH
// =============================================================================

// User is the backend's answer to "who am I".
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAdmin reports whether the user's role string grants admin views.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == "admin"
}

// LoginResult is the response of POST /auth/login. When NeedsTwoFactor is set
// the tokens are absent and SessionToken must be echoed back on verify.
type LoginResult struct {
	AccessToken    string `json:"access_token,omitempty"`
	RefreshToken   string `json:"refresh_token,omitempty"`
	NeedsTwoFactor bool   `json:"needs_2fa,omitempty"`
	SessionToken   string `json:"session_token,omitempty"`
}

// TokenPair is the response of POST /auth/verify-2fa.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TwoFactorSetup is the response of POST /auth/2fa/setup.
type TwoFactorSetup struct {
	QRCode string `json:"qr_code"`
	Secret string `json:"secret"`
}

// =============================================================================
// SYSTEM PROMPTS
// =============================================================================

// SystemPrompt is a named system-prompt preset. At most one preset is flagged
// default at a time; the backend enforces that.
type SystemPrompt struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
	IsDefault   bool   `json:"is_default"`
}

// DefaultPrompt returns the preset flagged default, or nil.
func DefaultPrompt(prompts []SystemPrompt) *SystemPrompt {
	for i := range prompts {
		if prompts[i].IsDefault {
			return &prompts[i]
		}
	}
	return nil
}

// =============================================================================
// ENGINE STATUS
// =============================================================================

// EngineStatus is the response of GET /config/ollama, used by the status bar.
type EngineStatus struct {
	Reachable bool   `json:"reachable"`
	Model     string `json:"model,omitempty"`
	Host      string `json:"host,omitempty"`
}
