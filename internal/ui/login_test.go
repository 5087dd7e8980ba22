// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/consulta-tui/internal/model"
)

// =============================================================================
// LOGIN VIEW
// =============================================================================

func TestLoginSubmitRequiresCredentials(t *testing.T) {
	m := newLoginModel(nil)

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("submit with empty fields issued a command")
	}
	if m.errText == "" {
		t.Error("no validation message for empty credentials")
	}
	if m.submitting {
		t.Error("submitting flag set without a request in flight")
	}
}

func TestLoginSubmitIssuesCommand(t *testing.T) {
	m := newLoginModel(nil)
	m.email.SetValue("ana@example.com")
	m.password.SetValue("secret")

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("no login command issued")
	}
	if !m.submitting {
		t.Error("submitting flag not set")
	}
}

func TestLoginRegisterShortcut(t *testing.T) {
	m := newLoginModel(nil)
	m.email.SetValue("ana@example.com")
	m.password.SetValue("secret")

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	if cmd == nil {
		t.Fatal("no register command issued")
	}
	if !m.submitting {
		t.Error("submitting flag not set")
	}
}

func TestLoginRegisterRequiresCredentials(t *testing.T) {
	m := newLoginModel(nil)

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	if cmd != nil {
		t.Error("register with empty fields issued a command")
	}
	if m.errText == "" {
		t.Error("no validation message for empty credentials")
	}
}

// =============================================================================
// TWO-FACTOR STEP
// =============================================================================

func TestLoginTwoFactorStepTransition(t *testing.T) {
	m := newLoginModel(nil)
	m.submitting = true

	m, _ = m.Update(LoginResultMsg{Result: &model.LoginResult{
		NeedsTwoFactor: true,
		SessionToken:   "tok-123",
	}})

	if m.step != stepTwoFactor {
		t.Fatalf("step = %d, want the two-factor step", m.step)
	}
	if m.sessionToken != "tok-123" {
		t.Errorf("sessionToken = %q", m.sessionToken)
	}
	if m.submitting {
		t.Error("submitting flag survived the result")
	}

	// Esc backs out; the pending session token is void.
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.step != stepCredentials {
		t.Errorf("step = %d after esc, want credentials", m.step)
	}
	if m.sessionToken != "" {
		t.Error("session token survived backing out")
	}
}

func TestLoginTwoFactorRejectsMalformedCodeLocally(t *testing.T) {
	m := newLoginModel(nil)
	m.step = stepTwoFactor
	m.code.SetValue("12")

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("malformed code went to the backend")
	}
	if m.errText == "" {
		t.Error("no validation message for a malformed code")
	}
}
