// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"

	"github.com/jeranaias/consulta-tui/internal/model"
)

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verify2FARequest struct {
	SessionToken string `json:"session_token"`
	TOTPCode     string `json:"totp_code"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Login authenticates with email and password. When the account has 2FA
// enabled the result carries NeedsTwoFactor plus a short-lived session token
// to be echoed back through Verify2FA; no session cookie is issued until the
// second factor clears.
func (c *Client) Login(ctx context.Context, email, password string) (*model.LoginResult, error) {
	var result model.LoginResult
	err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Verify2FA completes a two-factor login.
func (c *Client) Verify2FA(ctx context.Context, sessionToken, totpCode string) (*model.TokenPair, error) {
	var pair model.TokenPair
	err := c.do(ctx, http.MethodPost, "/auth/verify-2fa", verify2FARequest{SessionToken: sessionToken, TOTPCode: totpCode}, &pair)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, email, password string) error {
	return c.do(ctx, http.MethodPost, "/auth/register", loginRequest{Email: email, Password: password}, nil)
}

// Me asks the backend who the current session belongs to. Returns a 401
// *RequestError when unauthenticated.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout invalidates the backend session. Callers clear local state before
// calling this and must not let a failure here block the local sign-out.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// ChangePassword rotates the account password.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	return c.do(ctx, http.MethodPost, "/auth/change-password",
		changePasswordRequest{CurrentPassword: current, NewPassword: next}, nil)
}

// Setup2FA begins TOTP enrollment: the backend returns the shared secret and
// a QR code for authenticator apps.
func (c *Client) Setup2FA(ctx context.Context) (*model.TwoFactorSetup, error) {
	var setup model.TwoFactorSetup
	if err := c.do(ctx, http.MethodPost, "/auth/2fa/setup", nil, &setup); err != nil {
		return nil, err
	}
	return &setup, nil
}
