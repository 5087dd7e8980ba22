// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the plain REPL mode, for terminals where the full
// TUI is unwanted (ssh sessions, scripts wrapping the binary, narrow
// terminals). Same backend flows as the TUI, rendered line by line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/peterh/liner"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/jeranaias/consulta-tui/internal/api"
	"github.com/jeranaias/consulta-tui/internal/archive"
	"github.com/jeranaias/consulta-tui/internal/authstate"
	"github.com/jeranaias/consulta-tui/internal/cache"
	"github.com/jeranaias/consulta-tui/internal/chat"
	"github.com/jeranaias/consulta-tui/internal/config"
	"github.com/jeranaias/consulta-tui/internal/model"
	"github.com/jeranaias/consulta-tui/internal/totp"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}).Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"})
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"})
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}).Bold(true)
)

// =============================================================================
// REPL
// =============================================================================

// REPL is the interactive plain-mode session.
type REPL struct {
	client  *api.Client
	guard   *authstate.Guard
	cache   *cache.MessageCache
	session *chat.Session
	store   *archive.Archive
	cfg     *config.Config
	logger  *zap.Logger

	line        *liner.State
	historyFile string
	renderer    *glamour.TermRenderer

	activeConv int64
	promptID   int64
	signedOut  bool
}

// Deps bundles the REPL's collaborators.
type Deps struct {
	Client  *api.Client
	Guard   *authstate.Guard
	Cache   *cache.MessageCache
	Session *chat.Session
	Store   *archive.Archive
	Config  *config.Config
	Logger  *zap.Logger
}

// New creates the REPL and loads input history.
func New(deps Deps) *REPL {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	historyFile := deps.Config.UI.HistoryFile
	if historyFile == "" {
		if dir, err := config.ConfigDir(); err == nil {
			historyFile = filepath.Join(dir, "chat_history")
		} else {
			historyFile = filepath.Join(os.TempDir(), "consulta_history")
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &REPL{
		client:      deps.Client,
		guard:       deps.Guard,
		cache:       deps.Cache,
		session:     deps.Session,
		store:       deps.Store,
		cfg:         deps.Config,
		logger:      logger,
		line:        line,
		historyFile: historyFile,
	}
	r.loadHistory()

	if deps.Config.UI.Markdown {
		width, _, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil || width <= 0 {
			width = 80
		}
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			r.renderer = renderer
		}
	}

	// A forced sign-out mid-loop lands the user back at the login prompt.
	deps.Guard.OnSignOut(func() { r.signedOut = true })

	return r
}

// Run is the REPL entry point. It blocks until the user exits.
func (r *REPL) Run(ctx context.Context) error {
	defer r.close()

	output := termenv.NewOutput(os.Stdout)
	output.ClearLine()
	fmt.Println(accentStyle.Render("consulta") + noticeStyle.Render("  /help for commands"))

	if err := r.ensureAuthenticated(ctx); err != nil {
		return err
	}
	r.loadDefaultPrompt(ctx)
	if err := r.pickConversation(ctx); err != nil {
		return err
	}

	for {
		if r.signedOut {
			r.signedOut = false
			fmt.Println(errStyle.Render("session expired, sign in again"))
			if err := r.ensureAuthenticated(ctx); err != nil {
				return err
			}
			r.loadDefaultPrompt(ctx)
			if err := r.pickConversation(ctx); err != nil {
				return err
			}
		}

		input, err := r.line.Prompt(promptStyle.Render("consulta> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println()
				return nil
			}
			// EOF or terminal error, exit gracefully.
			fmt.Println()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := r.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errStyle.Render("[error]"), err)
			}
			if quit {
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return nil
		}

		if err := r.send(ctx, input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errStyle.Render("[error]"), err)
		}
	}
}

// =============================================================================
// AUTH FLOW
// =============================================================================

// ensureAuthenticated loops the login prompt until a session exists.
func (r *REPL) ensureAuthenticated(ctx context.Context) error {
	if err := r.guard.Refresh(ctx); err == nil && r.guard.State() == authstate.StateAuthenticated {
		return nil
	}

	for {
		email, err := r.line.Prompt("email: ")
		if err != nil {
			return err
		}
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}

		fmt.Print("password: ")
		passBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}

		result, err := r.client.Login(ctx, email, string(passBytes))
		if err != nil {
			fmt.Println(errStyle.Render(loginError(err)))
			continue
		}

		if result.NeedsTwoFactor {
			if err := r.verifyTwoFactor(ctx, result.SessionToken); err != nil {
				fmt.Println(errStyle.Render(loginError(err)))
				continue
			}
		}

		if err := r.guard.Refresh(ctx); err != nil {
			return err
		}
		if user := r.guard.User(); user != nil {
			fmt.Println(noticeStyle.Render("signed in as " + user.Email))
		}
		return nil
	}
}

func (r *REPL) verifyTwoFactor(ctx context.Context, sessionToken string) error {
	for attempts := 0; attempts < 3; attempts++ {
		raw, err := r.line.Prompt("2fa code: ")
		if err != nil {
			return err
		}
		code, err := totp.Normalize(raw)
		if err != nil {
			fmt.Println(errStyle.Render(err.Error()))
			continue
		}
		if _, err := r.client.Verify2FA(ctx, sessionToken, code); err != nil {
			fmt.Println(errStyle.Render(loginError(err)))
			continue
		}
		return nil
	}
	return errors.New("too many failed 2FA attempts")
}

// loadDefaultPrompt picks the server's default preset, when one exists.
// /prompt can override it for the rest of the session. Runs after every
// sign-in, so a previous account's selection never leaks across sessions.
func (r *REPL) loadDefaultPrompt(ctx context.Context) {
	r.promptID = 0
	prompts, err := r.client.Prompts(ctx, 0, 0)
	if err != nil {
		r.logger.Warn("prompt preset load failed", zap.Error(err))
		return
	}
	if def := model.DefaultPrompt(prompts); def != nil {
		r.promptID = def.ID
		fmt.Println(noticeStyle.Render("using preset " + def.Name))
	}
}

func loginError(err error) string {
	if api.IsUnauthorized(err) {
		return "invalid credentials"
	}
	return err.Error()
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// pickConversation selects the most recent conversation, creating one when
// the account has none.
func (r *REPL) pickConversation(ctx context.Context) error {
	convs, err := r.client.Conversations(ctx)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		conv, err := r.client.CreateConversation(ctx, "")
		if err != nil {
			return err
		}
		r.activeConv = conv.ID
		return nil
	}
	r.activeConv = convs[0].ID
	r.cache.Activate(r.activeConv)
	return nil
}

// =============================================================================
// COMMANDS
// =============================================================================

// handleCommand processes a slash command. Returns true when the REPL should
// exit.
func (r *REPL) handleCommand(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/help":
		fmt.Println(noticeStyle.Render(`commands:
  /list              list conversations
  /switch <id>       switch conversation
  /new [title]       create a conversation
  /history           show the active conversation
  /prompts           list system prompt presets
  /prompt <id|off>   select a preset (off reverts to the config default)
  /recent [id]       recent archived exchanges, or one conversation's
  /search <term>     search the local archive
  /2fa-setup         enable two-factor authentication
  /passwd            change password
  /logout            sign out
  /quit              exit`))
		return false, nil

	case "/list":
		convs, err := r.client.Conversations(ctx)
		if err != nil {
			return false, err
		}
		for _, conv := range convs {
			marker := "  "
			if conv.ID == r.activeConv {
				marker = "* "
			}
			fmt.Printf("%s%d  %s\n", marker, conv.ID, conv.Title)
		}
		return false, nil

	case "/switch":
		if len(fields) < 2 {
			return false, errors.New("usage: /switch <id>")
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return false, errors.New("conversation id must be a number")
		}
		r.activeConv = id
		r.cache.Activate(id)
		return false, nil

	case "/new":
		title := strings.TrimSpace(strings.TrimPrefix(input, "/new"))
		conv, err := r.client.CreateConversation(ctx, title)
		if err != nil {
			return false, err
		}
		r.activeConv = conv.ID
		fmt.Println(noticeStyle.Render(fmt.Sprintf("conversation %d", conv.ID)))
		return false, nil

	case "/history":
		msgs, err := r.cache.Messages(ctx, r.activeConv)
		if err != nil {
			return false, err
		}
		for _, msg := range msgs {
			r.printMessage(msg)
		}
		return false, nil

	case "/prompts":
		prompts, err := r.client.Prompts(ctx, 0, 0)
		if err != nil {
			return false, err
		}
		if len(prompts) == 0 {
			fmt.Println(noticeStyle.Render("no presets defined"))
			return false, nil
		}
		for _, p := range prompts {
			marker := "  "
			if p.ID == r.promptID {
				marker = "* "
			}
			tag := ""
			if p.IsDefault {
				tag = noticeStyle.Render("  (default)")
			}
			fmt.Printf("%s%d  %s%s\n", marker, p.ID, p.Name, tag)
		}
		return false, nil

	case "/prompt":
		if len(fields) < 2 {
			return false, errors.New("usage: /prompt <id|off>")
		}
		if fields[1] == "off" {
			r.promptID = 0
			fmt.Println(noticeStyle.Render("preset cleared, using the configured system prompt"))
			return false, nil
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return false, errors.New("prompt id must be a number or \"off\"")
		}
		p, err := r.client.Prompt(ctx, id)
		if err != nil {
			return false, err
		}
		r.promptID = p.ID
		fmt.Println(noticeStyle.Render("using preset " + p.Name))
		return false, nil

	case "/recent":
		if r.store == nil {
			return false, errors.New("archive disabled")
		}
		if len(fields) >= 2 {
			id, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return false, errors.New("conversation id must be a number")
			}
			hits, err := r.store.Conversation(ctx, id)
			if err != nil {
				return false, err
			}
			for _, hit := range hits {
				fmt.Printf("%s %s\n", noticeStyle.Render(hit.CreatedAt.Format("2006-01-02 15:04")), firstLine(hit.Prompt))
			}
			return false, nil
		}
		total, err := r.store.Count(ctx)
		if err != nil {
			return false, err
		}
		hits, err := r.store.Recent(ctx, 10)
		if err != nil {
			return false, err
		}
		fmt.Println(noticeStyle.Render(fmt.Sprintf("%d archived exchanges", total)))
		for _, hit := range hits {
			fmt.Printf("%s %d  %s\n", noticeStyle.Render(hit.CreatedAt.Format("2006-01-02 15:04")), hit.ConversationID, firstLine(hit.Prompt))
		}
		return false, nil

	case "/search":
		if r.store == nil {
			return false, errors.New("archive disabled")
		}
		query := strings.TrimSpace(strings.TrimPrefix(input, "/search"))
		if query == "" {
			return false, errors.New("usage: /search <term>")
		}
		hits, err := r.store.Search(ctx, query, 10)
		if err != nil {
			return false, err
		}
		for _, hit := range hits {
			fmt.Printf("%s %s\n", noticeStyle.Render(hit.CreatedAt.Format("2006-01-02 15:04")), firstLine(hit.Prompt))
		}
		return false, nil

	case "/2fa-setup":
		return false, r.setupTwoFactor(ctx)

	case "/passwd":
		return false, r.changePassword(ctx)

	case "/logout":
		r.guard.Logout(ctx)
		r.signedOut = true
		return false, nil

	case "/quit", "/exit":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
}

// =============================================================================
// ACCOUNT FLOWS
// =============================================================================

// setupTwoFactor runs TOTP enrollment: fetch the secret, have the user prove
// their authenticator is in sync before the backend ever sees a code.
func (r *REPL) setupTwoFactor(ctx context.Context) error {
	setup, err := r.client.Setup2FA(ctx)
	if err != nil {
		return err
	}

	fmt.Println(noticeStyle.Render("add this secret to your authenticator app:"))
	fmt.Println("  " + setup.Secret)
	if setup.QRCode != "" {
		fmt.Println(noticeStyle.Render("or scan the QR code at:"))
		fmt.Println("  " + setup.QRCode)
	}

	for attempts := 0; attempts < 3; attempts++ {
		code, err := r.line.Prompt("code from your app: ")
		if err != nil {
			return err
		}
		if totp.ConfirmEnrollment(setup.Secret, code) {
			fmt.Println(noticeStyle.Render("two-factor authentication enabled"))
			return nil
		}
		fmt.Println(errStyle.Render("code does not match, try again"))
	}
	return errors.New("too many failed codes, 2FA setup aborted")
}

// changePassword prompts for the current and new password, echo off.
func (r *REPL) changePassword(ctx context.Context) error {
	fmt.Print("current password: ")
	current, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Print("new password: ")
	next, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if len(next) == 0 {
		return errors.New("new password must not be empty")
	}

	if err := r.client.ChangePassword(ctx, string(current), string(next)); err != nil {
		return err
	}
	fmt.Println(noticeStyle.Render("password changed"))
	return nil
}

// =============================================================================
// SEND
// =============================================================================

// send runs one streaming exchange, printing fragments as they arrive.
func (r *REPL) send(ctx context.Context, prompt string) error {
	if _, err := r.cache.AppendOptimistic(r.activeConv, prompt); err != nil {
		return err
	}

	req := chat.SendRequest{ConversationID: r.activeConv, Prompt: prompt, PromptID: r.promptID}
	if r.promptID == 0 {
		req.System = r.cfg.Chat.SystemPrompt
	}
	reply, err := r.session.Send(ctx, req, func(fragment string) {
		fmt.Print(fragment)
	})
	fmt.Println()

	// Success or failure, the cache settles through the same path.
	if recErr := r.cache.Reconcile(ctx, r.activeConv); recErr != nil {
		r.logger.Warn("reconcile failed", zap.Error(recErr))
	}

	if err != nil {
		if chat.IsUnauthorized(err) {
			r.guard.HandleUnauthorized()
			return nil
		}
		var streamErr *chat.StreamError
		if errors.As(err, &streamErr) && streamErr.Partial != "" {
			fmt.Println(noticeStyle.Render("[stream interrupted, partial response shown]"))
		}
		return err
	}

	if r.renderer != nil && reply != "" {
		// Reprint the finished reply rendered as markdown.
		if out, rerr := r.renderer.Render(reply); rerr == nil {
			fmt.Print(out)
		}
	}

	if r.store != nil {
		if aerr := r.store.Save(ctx, r.activeConv, prompt, reply); aerr != nil {
			r.logger.Warn("archive write failed", zap.Error(aerr))
		}
	}
	return nil
}

func (r *REPL) printMessage(msg model.Message) {
	switch msg.Role {
	case model.RoleUser:
		fmt.Println(promptStyle.Render("you: ") + msg.Content)
	default:
		if r.renderer != nil {
			if out, err := r.renderer.Render(msg.Content); err == nil {
				fmt.Print(accentStyle.Render("assistant:") + "\n" + out)
				return
			}
		}
		fmt.Println(accentStyle.Render("assistant: ") + msg.Content)
	}
}

// =============================================================================
// HISTORY & SHUTDOWN
// =============================================================================

func (r *REPL) loadHistory() {
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
}

func (r *REPL) saveHistory() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0755); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	r.line.WriteHistory(f)
}

func (r *REPL) close() {
	r.saveHistory()
	r.line.Close()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
