// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the streaming exchange with the backend's /chat
// endpoint.
//
// One Send is one HTTP request whose response body arrives as a sequence of
// plain-text fragments. Fragment boundaries are arbitrary byte chunking: the
// backend makes no promise that a fragment aligns with a token, a word, or
// even a UTF-8 rune, so the decoder carries incomplete multi-byte sequences
// across reads. Each decoded fragment is appended to an accumulator and
// handed to the caller's callback in arrival order, exactly once.
//
// # Error Model
//
//   - *ChatError: the endpoint answered non-2xx before any fragment was read
//   - *StreamError: the stream broke after opening; Partial holds the text
//     that arrived before the failure
//
// The returned aggregate is always byte-identical to the concatenation of
// the delivered fragments, on every path including failure.
//
// # Usage
//
//	session := chat.NewSession(client)
//	reply, err := session.Send(ctx, chat.SendRequest{
//	    ConversationID: conv.ID,
//	    Prompt:         prompt,
//	}, func(fragment string) {
//	    render(fragment)
//	})
//
// SendChan exposes the same exchange as a channel for callers that iterate
// instead of registering a callback.
package chat
