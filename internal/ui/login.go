// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/consulta-tui/internal/api"
	"github.com/jeranaias/consulta-tui/internal/totp"
)

// =============================================================================
// LOGIN VIEW
// =============================================================================

// loginStep tracks which part of the login flow is on screen.
type loginStep int

const (
	stepCredentials loginStep = iota
	stepTwoFactor
)

// loginModel is the login view: email/password first, then the TOTP code when
// the account has two-factor enabled. The session token from the first step
// is echoed back with the code.
type loginModel struct {
	client *api.Client

	step         loginStep
	email        textinput.Model
	password     textinput.Model
	code         textinput.Model
	focused      int
	sessionToken string
	submitting   bool
	errText      string

	width  int
	height int
}

func newLoginModel(client *api.Client) loginModel {
	email := textinput.New()
	email.Placeholder = "email"
	email.CharLimit = 254
	email.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '*'

	code := textinput.New()
	code.Placeholder = "123456"
	code.CharLimit = 8

	return loginModel{
		client:   client,
		step:     stepCredentials,
		email:    email,
		password: password,
		code:     code,
	}
}

func (m loginModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m loginModel) Update(msg tea.Msg) (loginModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "tab", "shift+tab", "up", "down":
			if m.step == stepCredentials {
				m.cycleFocus()
			}
			return m, nil
		case "enter":
			if m.submitting {
				return m, nil
			}
			return m.submit()
		case "ctrl+s":
			if m.step == stepCredentials && !m.submitting {
				return m.register()
			}
			return m, nil
		case "esc":
			if m.step == stepTwoFactor {
				// Back to credentials; the pending session token is void.
				m.step = stepCredentials
				m.sessionToken = ""
				m.code.SetValue("")
				m.errText = ""
				m.focused = 0
				m.applyFocus()
				return m, nil
			}
		}

	case LoginResultMsg:
		m.submitting = false
		if msg.Err != nil {
			m.errText = loginErrorText(msg.Err)
			return m, nil
		}
		if msg.Result.NeedsTwoFactor {
			m.step = stepTwoFactor
			m.sessionToken = msg.Result.SessionToken
			m.errText = ""
			m.code.Focus()
			return m, textinput.Blink
		}
		// Authenticated without 2FA; the app model handles the transition.
		return m, nil

	case TwoFactorResultMsg:
		m.submitting = false
		if msg.Err != nil {
			m.errText = loginErrorText(msg.Err)
			m.code.SetValue("")
			return m, nil
		}
		return m, nil
	}

	var cmd tea.Cmd
	switch m.step {
	case stepCredentials:
		switch m.focused {
		case 0:
			m.email, cmd = m.email.Update(msg)
		case 1:
			m.password, cmd = m.password.Update(msg)
		}
	case stepTwoFactor:
		m.code, cmd = m.code.Update(msg)
	}
	return m, cmd
}

// submit validates input locally, then issues the login or verify command.
func (m loginModel) submit() (loginModel, tea.Cmd) {
	switch m.step {
	case stepCredentials:
		email := strings.TrimSpace(m.email.Value())
		password := m.password.Value()
		if email == "" || password == "" {
			m.errText = "email and password are required"
			return m, nil
		}
		m.submitting = true
		m.errText = ""
		return m, loginCmd(m.client, email, password)

	case stepTwoFactor:
		code, err := totp.Normalize(m.code.Value())
		if err != nil {
			m.errText = err.Error()
			return m, nil
		}
		m.submitting = true
		m.errText = ""
		return m, verify2FACmd(m.client, m.sessionToken, code)
	}
	return m, nil
}

// register creates an account with the entered credentials, then signs in
// with them. Validation mirrors submit.
func (m loginModel) register() (loginModel, tea.Cmd) {
	email := strings.TrimSpace(m.email.Value())
	password := m.password.Value()
	if email == "" || password == "" {
		m.errText = "email and password are required"
		return m, nil
	}
	m.submitting = true
	m.errText = ""
	return m, registerCmd(m.client, email, password)
}

func (m *loginModel) cycleFocus() {
	m.focused = (m.focused + 1) % 2
	m.applyFocus()
}

func (m *loginModel) applyFocus() {
	m.email.Blur()
	m.password.Blur()
	if m.focused == 0 {
		m.email.Focus()
	} else {
		m.password.Focus()
	}
}

func (m loginModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("consulta"))
	b.WriteString("\n\n")

	switch m.step {
	case stepCredentials:
		b.WriteString(m.email.View())
		b.WriteString("\n")
		b.WriteString(m.password.View())
		b.WriteString("\n\n")
		b.WriteString(mutedStyle.Render("enter to sign in · ctrl+s to register · tab to switch fields"))
	case stepTwoFactor:
		b.WriteString("Two-factor code:\n")
		b.WriteString(m.code.View())
		b.WriteString("\n\n")
		b.WriteString(mutedStyle.Render("enter to verify · esc to go back"))
	}

	if m.submitting {
		b.WriteString("\n")
		b.WriteString(pendingStyle.Render("signing in..."))
	}
	if m.errText != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.errText))
	}

	box := loginBoxStyle.Render(b.String())
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
	}
	return box
}

// loginErrorText maps backend errors to something worth showing on the form.
func loginErrorText(err error) string {
	if api.IsUnauthorized(err) {
		return "invalid credentials"
	}
	if api.IsValidation(err) {
		return err.Error()
	}
	return "sign-in failed: " + err.Error()
}

// =============================================================================
// LOGIN COMMANDS
// =============================================================================

func loginCmd(client *api.Client, email, password string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		result, err := client.Login(ctx, email, password)
		if err != nil {
			return LoginResultMsg{Err: err}
		}
		if result.NeedsTwoFactor {
			return LoginResultMsg{Result: result}
		}
		user, err := client.Me(ctx)
		if err != nil {
			return LoginResultMsg{Err: err}
		}
		return LoginResultMsg{Result: result, User: user}
	}
}

// registerCmd creates the account and falls through to the normal login flow,
// so a fresh registration lands in the chat view like any sign-in.
func registerCmd(client *api.Client, email, password string) tea.Cmd {
	return func() tea.Msg {
		if err := client.Register(context.Background(), email, password); err != nil {
			return LoginResultMsg{Err: err}
		}
		return loginCmd(client, email, password)()
	}
}

func verify2FACmd(client *api.Client, sessionToken, code string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if _, err := client.Verify2FA(ctx, sessionToken, code); err != nil {
			return TwoFactorResultMsg{Err: err}
		}
		user, err := client.Me(ctx)
		if err != nil {
			return TwoFactorResultMsg{Err: err}
		}
		return TwoFactorResultMsg{User: user}
	}
}
