// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui implements the terminal interface for consulta.
//
// This file defines the Bubble Tea message types used across views:
//   - Auth: login steps, session resolution, sign-out
//   - Streaming: fragment delivery, ticks, completion
//   - Conversations: list loads, selection, message loads
//   - Errors: display and dismissal
package ui

import (
	"time"

	"github.com/jeranaias/consulta-tui/internal/model"
)

// =============================================================================
// AUTH MESSAGES
// =============================================================================

// SessionResolvedMsg reports the startup session probe's outcome.
type SessionResolvedMsg struct {
	Authenticated bool
	User          *model.User
	Err           error
}

// LoginResultMsg reports a login attempt. When NeedsTwoFactor is set the
// login view switches to the code entry step.
type LoginResultMsg struct {
	Result *model.LoginResult
	User   *model.User
	Err    error
}

// TwoFactorResultMsg reports a 2FA verification attempt.
type TwoFactorResultMsg struct {
	User *model.User
	Err  error
}

// SignedOutMsg switches the app back to the login view. Sent by the auth
// guard's redirect, whether the sign-out was deliberate or forced by a 401.
type SignedOutMsg struct{}

// =============================================================================
// STREAMING MESSAGES
// =============================================================================

// StreamTickMsg drives the streaming render loop.
type StreamTickMsg struct {
	Time time.Time
}

// StreamDoneMsg signals that the stream reached a terminal state. Reply holds
// the full response on success; Err is the terminal error otherwise.
type StreamDoneMsg struct {
	ConversationID int64
	Reply          string
	Err            error
}

// ReconcileDoneMsg reports the post-send cache reconciliation.
type ReconcileDoneMsg struct {
	ConversationID int64
	Messages       []model.Message
	Err            error
}

// =============================================================================
// CONVERSATION MESSAGES
// =============================================================================

// ConversationsLoadedMsg delivers the conversation list.
type ConversationsLoadedMsg struct {
	Conversations []model.Conversation
	Err           error
}

// ConversationCreatedMsg reports a create attempt.
type ConversationCreatedMsg struct {
	Conversation *model.Conversation
	Err          error
}

// ConversationDeletedMsg reports a delete attempt.
type ConversationDeletedMsg struct {
	ID  int64
	Err error
}

// MessagesLoadedMsg delivers a conversation's message history.
type MessagesLoadedMsg struct {
	ConversationID int64
	Messages       []model.Message
	Err            error
}

// PromptsLoadedMsg delivers the system prompt presets.
type PromptsLoadedMsg struct {
	Prompts []model.SystemPrompt
	Err     error
}

// =============================================================================
// STATUS MESSAGES
// =============================================================================

// EngineStatusMsg reports the inference engine health probe.
type EngineStatusMsg struct {
	Status *model.EngineStatus
	Err    error
}

// ErrorDismissMsg clears the status line error once its display window
// elapses. Seq ties the dismissal to the error that scheduled it, so a stale
// timer never wipes a newer error.
type ErrorDismissMsg struct {
	Seq int
}
