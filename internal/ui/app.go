// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/consulta-tui/internal/authstate"
)

// =============================================================================
// ROOT MODEL
// =============================================================================

// view identifies which screen is active.
type view int

const (
	viewLogin view = iota
	viewChat
)

// App is the root Bubble Tea model. It owns the login/chat transition; all
// other state lives in the per-view models. The session is resolved once at
// startup, and any later 401 funnels back here through SignedOutMsg.
type App struct {
	deps  Deps
	view  view
	login loginModel
	chat  chatModel

	resolved bool
	lastSize *tea.WindowSizeMsg
}

// NewApp builds the root model.
func NewApp(deps Deps) *App {
	return &App{
		deps:  deps,
		view:  viewLogin,
		login: newLoginModel(deps.Client),
		chat:  newChatModel(deps),
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(
		resolveSessionCmd(a.deps.Guard),
		a.login.Init(),
	)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.lastSize = &msg
		var cmds []tea.Cmd
		var cmd tea.Cmd
		a.login, cmd = a.login.Update(msg)
		cmds = append(cmds, cmd)
		a.chat, cmd = a.chat.Update(msg)
		cmds = append(cmds, cmd)
		return a, tea.Batch(cmds...)

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}

	case SessionResolvedMsg:
		a.resolved = true
		if msg.Authenticated {
			return a.enterChat()
		}
		return a, nil

	case LoginResultMsg:
		if msg.Err == nil && msg.User != nil {
			a.deps.Guard.SetAuthenticated(msg.User)
			var cmd tea.Cmd
			a.login, cmd = a.login.Update(msg)
			next, enterCmd := a.enterChat()
			return next, tea.Batch(cmd, enterCmd)
		}

	case TwoFactorResultMsg:
		if msg.Err == nil && msg.User != nil {
			a.deps.Guard.SetAuthenticated(msg.User)
			var cmd tea.Cmd
			a.login, cmd = a.login.Update(msg)
			next, enterCmd := a.enterChat()
			return next, tea.Batch(cmd, enterCmd)
		}

	case SignedOutMsg:
		if a.view == viewChat {
			a.view = viewLogin
			a.login = newLoginModel(a.deps.Client)
			cmds := []tea.Cmd{a.login.Init()}
			if a.lastSize != nil {
				var cmd tea.Cmd
				a.login, cmd = a.login.Update(*a.lastSize)
				cmds = append(cmds, cmd)
			}
			return a, tea.Batch(cmds...)
		}
		return a, nil
	}

	var cmd tea.Cmd
	switch a.view {
	case viewLogin:
		a.login, cmd = a.login.Update(msg)
	case viewChat:
		a.chat, cmd = a.chat.Update(msg)
	}
	return a, cmd
}

func (a *App) View() string {
	switch a.view {
	case viewChat:
		return a.chat.View()
	default:
		if !a.resolved {
			return mutedStyle.Render("connecting...")
		}
		return a.login.View()
	}
}

// enterChat switches to the chat view and starts its loads.
func (a *App) enterChat() (tea.Model, tea.Cmd) {
	a.view = viewChat
	cmds := []tea.Cmd{a.chat.Init()}
	if a.lastSize != nil {
		var cmd tea.Cmd
		a.chat, cmd = a.chat.Update(*a.lastSize)
		cmds = append(cmds, cmd)
	}
	return a, tea.Batch(cmds...)
}

// resolveSessionCmd probes the backend once at startup. The session cookie
// lives in the in-memory jar, so a fresh process always lands on login; the
// probe exists so a future persistent jar keeps working.
func resolveSessionCmd(guard *authstate.Guard) tea.Cmd {
	return func() tea.Msg {
		err := guard.Refresh(context.Background())
		return SessionResolvedMsg{
			Authenticated: guard.State() == authstate.StateAuthenticated,
			User:          guard.User(),
			Err:           err,
		}
	}
}
