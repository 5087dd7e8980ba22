// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package authstate tracks whether the client currently holds a valid backend
// session and funnels every loss of that session through one teardown path.
//
// The rule is global: a 401 from ANY endpoint means the session is gone, and
// the reaction is the same regardless of which call surfaced it. Teardown is
// idempotent, so concurrent 401s from parallel requests collapse into a
// single sign-out.
package authstate

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/consulta-tui/internal/api"
	"github.com/jeranaias/consulta-tui/internal/model"
)

// =============================================================================
// STATE
// =============================================================================

// State is the guard's view of the session.
type State int

const (
	// StateUnknown means no probe has completed yet. Gated surfaces stay
	// hidden until the state resolves one way or the other.
	StateUnknown State = iota
	// StateAuthenticated means the last probe returned a user record.
	StateAuthenticated
	// StateUnauthenticated means the session is absent or was torn down.
	StateUnauthenticated
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// =============================================================================
// GUARD
// =============================================================================

// WhoAmI probes the backend for the current user. *api.Client's Me method
// satisfies this.
type WhoAmI func(ctx context.Context) (*model.User, error)

// SignOutFunc runs during teardown, before the redirect to the login view.
// Callbacks clear local state (message cache, draft input, archive handle).
type SignOutFunc func()

// Guard is the session state machine. One instance is shared by everything
// that cares about auth; it is constructed in main and injected, never a
// package-level singleton.
type Guard struct {
	mu        sync.Mutex
	state     State
	user      *model.User
	whoami    WhoAmI
	logout    func(ctx context.Context) error
	onSignOut []SignOutFunc
	redirect  func()
	logger    *zap.Logger
}

// Config wires the guard's collaborators.
type Config struct {
	// WhoAmI probes the session. Required.
	WhoAmI WhoAmI
	// Logout asks the backend to invalidate the session. Best effort:
	// failures are logged and swallowed.
	Logout func(ctx context.Context) error
	// Redirect switches the UI to the login view. Required.
	Redirect func()
	// Logger defaults to a no-op logger when nil.
	Logger *zap.Logger
}

// New creates a guard in StateUnknown.
func New(cfg Config) *Guard {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		state:    StateUnknown,
		whoami:   cfg.WhoAmI,
		logout:   cfg.Logout,
		redirect: cfg.Redirect,
		logger:   logger,
	}
}

// SetRedirect installs the redirect-to-login callback. The UI wires this
// after the program exists, since the redirect sends into its message loop.
func (g *Guard) SetRedirect(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.redirect = fn
}

// OnSignOut registers a callback that runs once per teardown. Registration
// order is preserved.
func (g *Guard) OnSignOut(fn SignOutFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onSignOut = append(g.onSignOut, fn)
}

// State returns the current session state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// User returns the cached user record, or nil outside StateAuthenticated.
func (g *Guard) User() *model.User {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.user
}

// Refresh probes the backend and resolves the session state. A 401 resolves
// to unauthenticated without firing teardown callbacks when nothing was
// authenticated yet; any other failure leaves the state untouched so a flaky
// network does not log the user out.
func (g *Guard) Refresh(ctx context.Context) error {
	user, err := g.whoami(ctx)
	if err != nil {
		if api.IsUnauthorized(err) {
			g.HandleUnauthorized()
			return nil
		}
		g.logger.Warn("session probe failed", zap.Error(err))
		return err
	}

	g.mu.Lock()
	g.state = StateAuthenticated
	g.user = user
	g.mu.Unlock()

	g.logger.Debug("session resolved",
		zap.String("email", user.Email),
		zap.String("role", user.Role))
	return nil
}

// SetAuthenticated records a fresh login without another probe.
func (g *Guard) SetAuthenticated(user *model.User) {
	g.mu.Lock()
	g.state = StateAuthenticated
	g.user = user
	g.mu.Unlock()
}

// HandleUnauthorized is the single reaction to a 401 from anywhere: clear the
// cached user, fire the sign-out callbacks, redirect to login. Idempotent;
// if the state is already unauthenticated this is a no-op, so racing 401s
// tear down exactly once.
func (g *Guard) HandleUnauthorized() {
	g.mu.Lock()
	if g.state == StateUnauthenticated {
		g.mu.Unlock()
		return
	}
	g.state = StateUnauthenticated
	g.user = nil
	callbacks := make([]SignOutFunc, len(g.onSignOut))
	copy(callbacks, g.onSignOut)
	redirect := g.redirect
	g.mu.Unlock()

	g.logger.Info("session ended, signing out")
	for _, fn := range callbacks {
		fn()
	}
	if redirect != nil {
		redirect()
	}
}

// Logout ends the session deliberately. Local state is cleared first, then
// the backend is notified best-effort, and the user lands on the login view
// no matter what the network did.
func (g *Guard) Logout(ctx context.Context) {
	g.mu.Lock()
	alreadyOut := g.state == StateUnauthenticated
	g.state = StateUnauthenticated
	g.user = nil
	callbacks := make([]SignOutFunc, len(g.onSignOut))
	copy(callbacks, g.onSignOut)
	redirect := g.redirect
	g.mu.Unlock()

	if !alreadyOut {
		for _, fn := range callbacks {
			fn()
		}
	}

	if g.logout != nil {
		if err := g.logout(ctx); err != nil {
			g.logger.Warn("backend logout failed", zap.Error(err))
		}
	}

	if redirect != nil {
		redirect()
	}
}
