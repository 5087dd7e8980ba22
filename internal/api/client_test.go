// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HELPERS
// =============================================================================

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(&ClientConfig{BaseURL: server.URL + "/api"}, nil)
	require.NoError(t, err)
	return client
}

// =============================================================================
// REQUEST WRAPPER
// =============================================================================

func TestDoDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/me", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id": 12, "email": "ana@example.com", "role": "user", "active": true}`)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	user, err := client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), user.ID)
	assert.Equal(t, "ana@example.com", user.Email)
}

func TestDoErrorDetailFromBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"detail": "title must not be empty"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.CreateConversation(context.Background(), "")

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnprocessableEntity, reqErr.Status)
	assert.Equal(t, "title must not be empty", reqErr.Error())
	assert.True(t, IsValidation(err))
}

func TestDoErrorGenericWhenBodyUnparseable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "<html>gateway error</html>")
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.Conversations(context.Background())

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusBadGateway, reqErr.Status)
	assert.Equal(t, "request failed: 502", reqErr.Error())
	assert.True(t, IsServerError(err))
}

func TestDoNoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	require.NoError(t, client.DeleteConversation(context.Background(), 5))
}

func TestDoEmptyBodyLeavesOutUntouched(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	user, err := client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), user.ID)
}

// =============================================================================
// SESSION COOKIE
// =============================================================================

func TestCookieCarriedAcrossRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc123", Path: "/"})
			io.WriteString(w, `{"access_token": "tok"}`)
		case "/api/conversations":
			cookie, err := r.Cookie("session")
			if err != nil || cookie.Value != "abc123" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			io.WriteString(w, `[]`)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	_, err := client.Login(ctx, "ana@example.com", "secret")
	require.NoError(t, err)

	_, err = client.Conversations(ctx)
	require.NoError(t, err, "session cookie was not replayed")
}

// =============================================================================
// UNAUTHORIZED HOOK
// =============================================================================

func TestUnauthorizedHookFires(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server)

	fired := 0
	client.SetUnauthorizedHook(func() { fired++ })

	_, err := client.Conversations(context.Background())
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, 1, fired)

	// Fires again on the next 401; idempotence lives in the guard.
	client.Conversations(context.Background())
	assert.Equal(t, 2, fired)
}

func TestUnauthorizedHookNotFiredOnOtherErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(t, server)

	fired := 0
	client.SetUnauthorizedHook(func() { fired++ })
	client.Conversations(context.Background())
	assert.Equal(t, 0, fired)
}

// =============================================================================
// STREAMING ESCAPE HATCH
// =============================================================================

func TestOpenStreamBypassesWrapper(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "text/plain", r.Header.Get("Accept"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, float64(42), payload["conversation_id"])

		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "streamed text")
	}))
	defer server.Close()

	client := newTestClient(t, server)

	resp, err := client.OpenStream(context.Background(), "/chat", map[string]any{"conversation_id": 42})
	require.NoError(t, err)
	defer resp.Body.Close()

	// The raw response comes back untouched, whatever the status.
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "streamed text", string(body))
}

func TestOpenStreamReturnsErrorStatusUnwrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server)

	resp, err := client.OpenStream(context.Background(), "/chat", nil)
	require.NoError(t, err, "a non-2xx status is the caller's to interpret")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

func TestRegisterSendsCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/register", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "ana@example.com", payload["email"])
		assert.Equal(t, "secret", payload["password"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	require.NoError(t, client.Register(context.Background(), "ana@example.com", "secret"))
}

func TestChangePasswordPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/change-password", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "old-secret", payload["current_password"])
		assert.Equal(t, "new-secret", payload["new_password"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	require.NoError(t, client.ChangePassword(context.Background(), "old-secret", "new-secret"))
}

func TestSetup2FADecodesEnrollment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/2fa/setup", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"qr_code": "data:image/png;base64,abc", "secret": "JBSWY3DP"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	setup, err := client.Setup2FA(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DP", setup.Secret)
	assert.Equal(t, "data:image/png;base64,abc", setup.QRCode)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

func TestAdminUsersPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/admin/users", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id": 1, "email": "ana@example.com", "role": "admin", "active": true}]`)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	users, err := client.AdminUsers(context.Background(), 25, 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.True(t, users[0].IsAdmin())
}

func TestAdminConversationsUserFilter(t *testing.T) {
	var query url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/admin/conversations", r.URL.Path)
		query = r.URL.Query()
		io.WriteString(w, `[]`)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	// user_id rides along only when a filter is requested.
	_, err := client.AdminConversations(ctx, 7, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "7", query.Get("user_id"))
	assert.Equal(t, "50", query.Get("limit"), "limit defaults when unset")
	assert.Equal(t, "0", query.Get("offset"))

	_, err = client.AdminConversations(ctx, 0, 0, 0)
	require.NoError(t, err)
	assert.False(t, query.Has("user_id"), "unfiltered listing must not send user_id")
}

func TestAdminMessagesPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/admin/conversations/42/messages", r.URL.Path)
		io.WriteString(w, `[{"id": 9, "role": "user", "content": "hola"}]`)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	msgs, err := client.AdminMessages(context.Background(), 42, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(9), msgs[0].ID)
}

func TestReassignConversationPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/admin/conversations/42/reassign", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, float64(7), payload["target_user_id"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	require.NoError(t, client.ReassignConversation(context.Background(), 42, 7))
}

// =============================================================================
// PROMPT ENDPOINTS
// =============================================================================

func TestPromptsListAndGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/prompts":
			assert.Equal(t, "50", r.URL.Query().Get("limit"))
			io.WriteString(w, `[{"id": 4, "name": "concise", "content": "Be brief.", "is_default": true}]`)
		case "/api/prompts/4":
			io.WriteString(w, `{"id": 4, "name": "concise", "content": "Be brief."}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	prompts, err := client.Prompts(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.True(t, prompts[0].IsDefault)

	prompt, err := client.Prompt(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "concise", prompt.Name)
}

func TestCreatePromptOmitsUnsetDefault(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/prompts", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		io.WriteString(w, `{"id": 5, "name": "pirate"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	prompt, err := client.CreatePrompt(context.Background(), PromptPayload{
		Name:    "pirate",
		Content: "Talk like a pirate.",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), prompt.ID)

	assert.Equal(t, "pirate", payload["name"])
	assert.Equal(t, "Talk like a pirate.", payload["content"])
	_, present := payload["is_default"]
	assert.False(t, present, "nil IsDefault must be omitted so the backend keeps its value")
}

func TestUpdateAndDeletePrompt(t *testing.T) {
	var method, path string
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		if r.Method == http.MethodPut {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			io.WriteString(w, `{"id": 4, "name": "concise", "is_default": true}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	makeDefault := true
	prompt, err := client.UpdatePrompt(ctx, 4, PromptPayload{IsDefault: &makeDefault})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/api/prompts/4", path)
	assert.Equal(t, true, payload["is_default"])
	assert.True(t, prompt.IsDefault)

	require.NoError(t, client.DeletePrompt(ctx, 4))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/api/prompts/4", path)
}

// =============================================================================
// ERROR CLASSIFIERS
// =============================================================================

func TestErrorClassifiers(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		checks map[string]bool
	}{
		{
			name: "unauthorized",
			err:  &RequestError{Status: http.StatusUnauthorized},
			checks: map[string]bool{
				"unauthorized": true, "notfound": false, "validation": false, "server": false,
			},
		},
		{
			name: "not found",
			err:  &RequestError{Status: http.StatusNotFound},
			checks: map[string]bool{
				"unauthorized": false, "notfound": true, "validation": true, "server": false,
			},
		},
		{
			name: "server error",
			err:  &RequestError{Status: http.StatusInternalServerError},
			checks: map[string]bool{
				"unauthorized": false, "notfound": false, "validation": false, "server": true,
			},
		},
		{
			name:   "unrelated error",
			err:    errors.New("plain"),
			checks: map[string]bool{"unauthorized": false, "notfound": false, "validation": false, "server": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.checks["unauthorized"], IsUnauthorized(tt.err))
			assert.Equal(t, tt.checks["notfound"], IsNotFound(tt.err))
			assert.Equal(t, tt.checks["validation"], IsValidation(tt.err))
			assert.Equal(t, tt.checks["server"], IsServerError(tt.err))
		})
	}
}
