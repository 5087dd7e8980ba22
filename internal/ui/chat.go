// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/jeranaias/consulta-tui/internal/api"
	"github.com/jeranaias/consulta-tui/internal/archive"
	"github.com/jeranaias/consulta-tui/internal/authstate"
	"github.com/jeranaias/consulta-tui/internal/cache"
	"github.com/jeranaias/consulta-tui/internal/chat"
	"github.com/jeranaias/consulta-tui/internal/model"
	"github.com/jeranaias/consulta-tui/internal/util"
)

// =============================================================================
// CHAT VIEW
// =============================================================================

// sidebarWidth is the conversation list's fixed column width.
const sidebarWidth = 28

// chatModel is the main view: conversation list on the left, transcript and
// input on the right. One send may be in flight at a time; the input is
// disabled while streaming.
type chatModel struct {
	client  *api.Client
	guard   *authstate.Guard
	cache   *cache.MessageCache
	session *chat.Session
	store   *archive.Archive
	logger  *zap.Logger

	conversations []model.Conversation
	selected      int
	activeConv    int64

	presets      []model.SystemPrompt
	promptID     int64
	systemPrompt string

	messages       []model.Message
	streaming      bool
	streamingReply string
	buffer         *StreamingBuffer
	cancelStream   context.CancelFunc

	viewport viewport.Model
	input    textarea.Model
	renderer *glamour.TermRenderer
	markdown bool

	engine  *model.EngineStatus
	errText string
	errSeq  int

	width  int
	height int
	ready  bool
}

// Deps bundles the collaborators the views need from main.
type Deps struct {
	Client  *api.Client
	Guard   *authstate.Guard
	Cache   *cache.MessageCache
	Session *chat.Session
	Store   *archive.Archive
	Logger  *zap.Logger

	Markdown bool

	// SystemPrompt is the local default system prompt, used when no
	// server-side preset is selected.
	SystemPrompt string
}

func newChatModel(deps Deps) chatModel {
	input := textarea.New()
	input.Placeholder = "Ask something..."
	input.ShowLineNumbers = false
	input.SetHeight(3)
	input.CharLimit = 0
	input.Focus()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return chatModel{
		client:       deps.Client,
		guard:        deps.Guard,
		cache:        deps.Cache,
		session:      deps.Session,
		store:        deps.Store,
		logger:       logger,
		buffer:       NewStreamingBuffer(),
		input:        input,
		markdown:     deps.Markdown,
		systemPrompt: deps.SystemPrompt,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		loadConversationsCmd(m.client),
		loadPromptsCmd(m.client),
		engineStatusCmd(m.client),
		textarea.Blink,
	)
}

func (m chatModel) Update(msg tea.Msg) (chatModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.resize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case ConversationsLoadedMsg:
		if msg.Err != nil {
			return m.fail(msg.Err)
		}
		m.conversations = msg.Conversations
		if m.activeConv == 0 && len(m.conversations) > 0 {
			return m.activate(0)
		}
		return m, nil

	case ConversationCreatedMsg:
		if msg.Err != nil {
			return m.fail(msg.Err)
		}
		m.conversations = append([]model.Conversation{*msg.Conversation}, m.conversations...)
		return m.activate(0)

	case ConversationDeletedMsg:
		if msg.Err != nil {
			return m.fail(msg.Err)
		}
		m.cache.Drop(msg.ID)
		return m, loadConversationsCmd(m.client)

	case MessagesLoadedMsg:
		if msg.ConversationID != m.activeConv {
			return m, nil
		}
		if msg.Err != nil {
			return m.fail(msg.Err)
		}
		m.messages = msg.Messages
		m.refreshViewport(true)
		return m, nil

	case PromptsLoadedMsg:
		if msg.Err != nil {
			// Presets are optional; sends fall back to the local default.
			return m, nil
		}
		m.presets = msg.Prompts
		if def := model.DefaultPrompt(msg.Prompts); def != nil {
			m.promptID = def.ID
		}
		return m, nil

	case StreamTickMsg:
		if !m.streaming {
			return m, nil
		}
		if content, ok := m.buffer.Flush(); ok {
			m.streamingReply += content
			m.refreshViewport(true)
		}
		return m, streamTickCmd()

	case StreamDoneMsg:
		return m.finishStream(msg)

	case ReconcileDoneMsg:
		// A sign-out may have raced the reconcile; its result belongs to
		// the old session then.
		if m.guard.State() != authstate.StateAuthenticated {
			return m, nil
		}
		if msg.ConversationID != m.activeConv {
			return m, nil
		}
		if msg.Err != nil {
			return m.fail(msg.Err)
		}
		m.messages = msg.Messages
		m.refreshViewport(true)
		return m, nil

	case EngineStatusMsg:
		if msg.Err == nil {
			m.engine = msg.Status
		}
		return m, nil

	case ErrorDismissMsg:
		if msg.Seq == m.errSeq {
			m.errText = ""
		}
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleKey routes key presses.
func (m chatModel) handleKey(msg tea.KeyMsg) (chatModel, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		if m.streaming && m.cancelStream != nil {
			m.cancelStream()
		}
		return m, nil

	case "ctrl+n":
		if !m.streaming {
			return m, createConversationCmd(m.client, "")
		}
		return m, nil

	case "ctrl+x":
		if !m.streaming && m.activeConv != 0 {
			return m, deleteConversationCmd(m.client, m.activeConv)
		}
		return m, nil

	case "ctrl+p", "ctrl+k":
		return m.selectConversation(m.selected - 1)

	case "ctrl+j":
		return m.selectConversation(m.selected + 1)

	case "ctrl+q":
		return m, logoutCmd(m.guard)

	case "enter":
		return m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit kicks off a streaming send for the input's content.
func (m chatModel) submit() (chatModel, tea.Cmd) {
	if m.streaming || m.session.Pending() {
		return m, nil
	}
	if m.guard.State() != authstate.StateAuthenticated {
		return m, nil
	}
	prompt := strings.TrimSpace(m.input.Value())
	if prompt == "" || m.activeConv == 0 {
		return m, nil
	}

	optimistic, err := m.cache.AppendOptimistic(m.activeConv, prompt)
	if err != nil {
		return m.fail(err)
	}
	m.messages = append(m.messages, optimistic)
	m.input.Reset()
	m.errText = ""
	m.streaming = true
	m.streamingReply = ""
	m.buffer.Reset()
	m.refreshViewport(true)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelStream = cancel

	return m, tea.Batch(
		streamCmd(ctx, m.session, m.buffer, m.sendRequest(prompt)),
		streamTickCmd(),
	)
}

// sendRequest builds the streaming payload: the selected preset rides as its
// id, otherwise the locally configured system prompt is sent inline.
func (m chatModel) sendRequest(prompt string) chat.SendRequest {
	req := chat.SendRequest{ConversationID: m.activeConv, Prompt: prompt, PromptID: m.promptID}
	if m.promptID == 0 {
		req.System = m.systemPrompt
	}
	return req
}

// finishStream handles the stream's terminal state: render the tail, settle
// the cache, archive the exchange.
func (m chatModel) finishStream(msg StreamDoneMsg) (chatModel, tea.Cmd) {
	if content, ok := m.buffer.ForceFlush(); ok {
		m.streamingReply += content
	}
	m.streaming = false
	if m.cancelStream != nil {
		m.cancelStream()
		m.cancelStream = nil
	}

	var cmds []tea.Cmd

	if msg.Err != nil {
		if chat.IsUnauthorized(msg.Err) {
			// Session died mid-flight. Teardown handles the rest; no
			// reconcile against a dead session.
			m.guard.HandleUnauthorized()
			return m, nil
		}
		m.errText = msg.Err.Error()
		m.errSeq++
		cmds = append(cmds, errorDismissCmd(m.errSeq))
		m.logger.Warn("send failed",
			zap.Int64("conversation_id", msg.ConversationID),
			zap.Error(msg.Err))
	} else if m.store != nil {
		cmds = append(cmds, archiveCmd(m.store, msg.ConversationID, lastPrompt(m.messages), msg.Reply, m.logger))
	}

	// Success or failure, the cache is settled the same way.
	m.streamingReply = ""
	cmds = append(cmds, reconcileCmd(m.cache, msg.ConversationID))
	return m, tea.Batch(cmds...)
}

// activate switches the active conversation and loads its history.
func (m chatModel) activate(index int) (chatModel, tea.Cmd) {
	if index < 0 || index >= len(m.conversations) {
		return m, nil
	}
	m.selected = index
	m.activeConv = m.conversations[index].ID
	m.messages = nil
	m.cache.Activate(m.activeConv)
	m.refreshViewport(false)
	return m, loadMessagesCmd(m.cache, m.activeConv)
}

func (m chatModel) selectConversation(index int) (chatModel, tea.Cmd) {
	if m.streaming || index < 0 || index >= len(m.conversations) {
		return m, nil
	}
	return m.activate(index)
}

func (m chatModel) fail(err error) (chatModel, tea.Cmd) {
	m.errText = err.Error()
	m.errSeq++
	return m, errorDismissCmd(m.errSeq)
}

// =============================================================================
// LAYOUT & RENDERING
// =============================================================================

func (m chatModel) resize(msg tea.WindowSizeMsg) chatModel {
	m.width = msg.Width
	m.height = msg.Height

	contentWidth := m.width - sidebarWidth - 4
	if contentWidth < 20 {
		contentWidth = 20
	}
	viewportHeight := m.height - m.input.Height() - 4
	if viewportHeight < 3 {
		viewportHeight = 3
	}

	if !m.ready {
		m.viewport = viewport.New(contentWidth, viewportHeight)
		m.ready = true
	} else {
		m.viewport.Width = contentWidth
		m.viewport.Height = viewportHeight
	}
	m.input.SetWidth(contentWidth)

	if m.markdown {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(contentWidth),
		)
		if err == nil {
			m.renderer = renderer
		}
	}

	m.refreshViewport(false)
	return m
}

// refreshViewport re-renders the transcript into the viewport.
func (m *chatModel) refreshViewport(gotoBottom bool) {
	if !m.ready {
		return
	}

	var b strings.Builder
	for _, message := range m.messages {
		b.WriteString(m.renderMessage(message))
		b.WriteString("\n")
	}
	if m.streaming {
		b.WriteString(assistantLabelStyle.Render("assistant"))
		b.WriteString("\n")
		if m.streamingReply == "" {
			b.WriteString(pendingStyle.Render("thinking..."))
		} else {
			b.WriteString(m.streamingReply)
		}
		b.WriteString("\n")
	}

	m.viewport.SetContent(b.String())
	if gotoBottom {
		m.viewport.GotoBottom()
	}
}

func (m *chatModel) renderMessage(message model.Message) string {
	var b strings.Builder
	switch message.Role {
	case model.RoleUser:
		label := "you"
		if message.IsOptimistic() {
			label = "you (sending)"
		}
		b.WriteString(userLabelStyle.Render(label))
		b.WriteString("\n")
		b.WriteString(message.Content)
	default:
		b.WriteString(assistantLabelStyle.Render("assistant"))
		b.WriteString("\n")
		if m.renderer != nil {
			if out, err := m.renderer.Render(message.Content); err == nil {
				b.WriteString(strings.TrimRight(out, "\n"))
			} else {
				b.WriteString(message.Content)
			}
		} else {
			b.WriteString(message.Content)
		}
	}
	b.WriteString("\n")
	return b.String()
}

func (m chatModel) View() string {
	if !m.ready {
		return "loading..."
	}

	sidebar := m.renderSidebar()
	main := lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		m.input.View(),
		m.renderStatusLine(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", main)
}

func (m chatModel) renderSidebar() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("consulta"))
	b.WriteString("\n\n")

	for i, conv := range m.conversations {
		title := conv.Title
		if title == "" {
			title = fmt.Sprintf("conversation %d", conv.ID)
		}
		title = util.TruncateWidth(title, sidebarWidth-4)
		if i == m.selected {
			b.WriteString(selectedConvStyle.Render("> " + title))
		} else {
			b.WriteString("  " + title)
		}
		b.WriteString("\n")
	}
	if len(m.conversations) == 0 {
		b.WriteString(mutedStyle.Render("no conversations"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("^n new  ^x delete\n^j/^k switch  ^q logout"))

	return borderStyle.Width(sidebarWidth).Height(m.height - 2).Render(b.String())
}

func (m chatModel) renderStatusLine() string {
	if m.errText != "" {
		return errorStyle.Render(util.TruncateWidth(m.errText, m.viewport.Width))
	}
	if m.streaming {
		return pendingStyle.Render("streaming... (esc to cancel)")
	}

	var parts []string
	if user := m.guard.User(); user != nil {
		parts = append(parts, user.Email)
	}
	if m.engine != nil {
		if m.engine.Reachable {
			parts = append(parts, statusOKStyle.Render("engine up"))
		} else {
			parts = append(parts, errorStyle.Render("engine down"))
		}
	}
	return mutedStyle.Render(strings.Join(parts, " · "))
}

// lastPrompt finds the most recent user message's content, for archiving.
func lastPrompt(msgs []model.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// =============================================================================
// CHAT COMMANDS
// =============================================================================

func loadConversationsCmd(client *api.Client) tea.Cmd {
	return func() tea.Msg {
		convs, err := client.Conversations(context.Background())
		return ConversationsLoadedMsg{Conversations: convs, Err: err}
	}
}

func createConversationCmd(client *api.Client, title string) tea.Cmd {
	return func() tea.Msg {
		conv, err := client.CreateConversation(context.Background(), title)
		return ConversationCreatedMsg{Conversation: conv, Err: err}
	}
}

func deleteConversationCmd(client *api.Client, id int64) tea.Cmd {
	return func() tea.Msg {
		err := client.DeleteConversation(context.Background(), id)
		return ConversationDeletedMsg{ID: id, Err: err}
	}
}

func loadPromptsCmd(client *api.Client) tea.Cmd {
	return func() tea.Msg {
		prompts, err := client.Prompts(context.Background(), 0, 0)
		return PromptsLoadedMsg{Prompts: prompts, Err: err}
	}
}

// errorDismissCmd clears the status line once the error has been on screen
// for a while. Seq ties the timer to the error that scheduled it.
func errorDismissCmd(seq int) tea.Cmd {
	return tea.Tick(8*time.Second, func(time.Time) tea.Msg {
		return ErrorDismissMsg{Seq: seq}
	})
}

func loadMessagesCmd(msgCache *cache.MessageCache, conversationID int64) tea.Cmd {
	return func() tea.Msg {
		msgs, err := msgCache.Messages(context.Background(), conversationID)
		return MessagesLoadedMsg{ConversationID: conversationID, Messages: msgs, Err: err}
	}
}

// streamCmd runs the streaming send. Fragments flow into the buffer as they
// arrive; the command's returned message is the terminal state.
func streamCmd(ctx context.Context, session *chat.Session, buffer *StreamingBuffer, req chat.SendRequest) tea.Cmd {
	return func() tea.Msg {
		reply, err := session.Send(ctx, req, buffer.Write)
		return StreamDoneMsg{ConversationID: req.ConversationID, Reply: reply, Err: err}
	}
}

func reconcileCmd(msgCache *cache.MessageCache, conversationID int64) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if err := msgCache.Reconcile(ctx, conversationID); err != nil {
			return ReconcileDoneMsg{ConversationID: conversationID, Err: err}
		}
		msgs, err := msgCache.Messages(ctx, conversationID)
		return ReconcileDoneMsg{ConversationID: conversationID, Messages: msgs, Err: err}
	}
}

func archiveCmd(store *archive.Archive, conversationID int64, prompt, reply string, logger *zap.Logger) tea.Cmd {
	return func() tea.Msg {
		if err := store.Save(context.Background(), conversationID, prompt, reply); err != nil {
			// Archiving is best effort; the exchange already succeeded.
			logger.Warn("archive write failed", zap.Error(err))
		}
		return nil
	}
}

func engineStatusCmd(client *api.Client) tea.Cmd {
	return func() tea.Msg {
		status, err := client.EngineStatus(context.Background())
		return EngineStatusMsg{Status: status, Err: err}
	}
}

func logoutCmd(guard *authstate.Guard) tea.Cmd {
	return func() tea.Msg {
		guard.Logout(context.Background())
		return SignedOutMsg{}
	}
}
