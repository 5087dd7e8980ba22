// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP client for the Consulta backend.
//
// Every JSON endpoint goes through a single request wrapper that carries the
// session cookie, attaches a request id, and normalizes non-2xx responses
// into *RequestError. The one exception is the streaming chat endpoint: it
// returns a raw response whose body is consumed incrementally, so it bypasses
// the JSON wrapper entirely (see OpenStream and the chat package).
//
// # Key Types
//
//   - Client: the backend client, safe for concurrent use
//   - RequestError: a non-2xx response, with the backend's detail message
//   - ClientConfig: base URL, timeout, and user agent
//
// # Error Classification
//
// Callers branch on status class, not raw codes:
//
//	if api.IsUnauthorized(err) { ... } // session gone, guard tears down
//	if api.IsValidation(err)   { ... } // show inline next to the form
//	if api.IsServerError(err)  { ... } // transient, show and retry
//
// A 401 from any endpoint also fires the hook registered with
// SetUnauthorizedHook before the error is returned.
package api
