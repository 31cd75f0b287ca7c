package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tavernhq/tavernmsg/internal/client/api"
	"github.com/tavernhq/tavernmsg/internal/client/chat"
	"github.com/tavernhq/tavernmsg/internal/client/session"
	"github.com/tavernhq/tavernmsg/internal/obs"
)

// --- Styles ---

var (
	primaryColor   = lipgloss.Color("#B45309")
	secondaryColor = lipgloss.Color("#10B981")
	mutedColor     = lipgloss.Color("#9CA3AF")
	errorColor     = lipgloss.Color("#EF4444")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	bannerStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Italic(true)

	ownMessageStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	otherMessageStyle = lipgloss.NewStyle().
				Foreground(primaryColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

// --- View State ---

type viewState int

const (
	viewAuth viewState = iota
	viewConversations
	viewChat
	viewNewConversation
)

// --- Messages ---

type authResultMsg struct {
	resp api.AuthResponse
	err  error
}

type convsMsg struct {
	convs []api.Conversation
	err   error
}

type convStartedMsg struct {
	conv api.Conversation
	err  error
}

type sessionEventMsg struct {
	ev chat.Event
}

type sendResultMsg struct {
	err error
}

// --- Main Model ---

type model struct {
	serverURL string
	profile   string
	apiClient *api.Client
	logger    *slog.Logger

	// Auth
	userID        int64
	username      string
	authAction    string // "login" or "register"
	usernameInput textinput.Model
	passwordInput textinput.Model
	authFocused   int // 0=username, 1=password
	authError     string

	// Conversations
	conversations   []api.Conversation
	selectedConv    int
	currentConv     api.Conversation
	currentConvName string

	// Chat
	chatSession  *chat.Session
	messageInput textinput.Model
	chatViewport viewport.Model
	pendingFiles []string
	chatError    string
	isSending    bool

	// New conversation
	newConvInput   textinput.Model
	newConvIsGroup bool
	newConvUsers   []string

	// UI
	view   viewState
	width  int
	height int
	err    error
}

func initialModel(serverURL, profile string) model {
	usernameInput := textinput.New()
	usernameInput.Placeholder = "Username"
	usernameInput.Focus()
	usernameInput.CharLimit = 32
	usernameInput.Width = 30

	passwordInput := textinput.New()
	passwordInput.Placeholder = "Password"
	passwordInput.EchoMode = textinput.EchoPassword
	passwordInput.CharLimit = 64
	passwordInput.Width = 30

	messageInput := textinput.New()
	messageInput.Placeholder = "Type a message... (/attach <path> to add a file)"
	messageInput.CharLimit = 1000
	messageInput.Width = 50

	newConvInput := textinput.New()
	newConvInput.Placeholder = "Enter username to add..."
	newConvInput.CharLimit = 32
	newConvInput.Width = 30

	chatViewport := viewport.New(80, 20)

	// TUI output owns the terminal, so logs go to a file under the profile
	// config directory.
	logger := obs.Discard()
	if dir := session.GetConfigDir(profile); dir != "" {
		os.MkdirAll(dir, 0o700)
		if f, err := os.OpenFile(filepath.Join(dir, "client.log"),
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			logger = obs.NewWriterLogger(f)
		}
	}

	return model{
		serverURL:     serverURL,
		profile:       profile,
		apiClient:     api.New(serverURL, logger),
		logger:        logger,
		authAction:    "login",
		usernameInput: usernameInput,
		passwordInput: passwordInput,
		messageInput:  messageInput,
		newConvInput:  newConvInput,
		chatViewport:  chatViewport,
		view:          viewAuth,
	}
}

// wsBaseURL converts the HTTP server URL into its WebSocket form.
func (m model) wsBaseURL() string {
	return "ws" + strings.TrimPrefix(m.serverURL, "http")
}

// --- Commands ---

func (m model) loginCmd() tea.Cmd {
	username := m.usernameInput.Value()
	password := m.passwordInput.Value()
	action := m.authAction
	client := m.apiClient
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var resp api.AuthResponse
		var err error
		if action == "register" {
			resp, err = client.Register(ctx, username, password)
		} else {
			resp, err = client.Login(ctx, username, password)
		}
		return authResultMsg{resp: resp, err: err}
	}
}

func (m model) listConversationsCmd() tea.Cmd {
	client := m.apiClient
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		convs, err := client.ListConversations(ctx)
		return convsMsg{convs: convs, err: err}
	}
}

func (m model) startConversationCmd(users []string, isGroup bool, name string) tea.Cmd {
	client := m.apiClient
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		conv, err := client.StartConversation(ctx, users, isGroup, name)
		return convStartedMsg{conv: conv, err: err}
	}
}

func waitForEvent(s *chat.Session) tea.Cmd {
	return func() tea.Msg {
		return sessionEventMsg{ev: <-s.Events()}
	}
}

func sendMessageCmd(s *chat.Session, content string, files []string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		return sendResultMsg{err: s.SendMessage(ctx, content, files)}
	}
}

// --- Init ---

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

// --- Update ---

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.closeChat()
			return m, tea.Quit

		case "q":
			if m.view == viewConversations {
				m.closeChat()
				return m, tea.Quit
			}

		case "tab":
			if m.view == viewAuth {
				if m.authFocused == 0 {
					m.authFocused = 1
					m.usernameInput.Blur()
					m.passwordInput.Focus()
				} else {
					m.authFocused = 0
					m.passwordInput.Blur()
					m.usernameInput.Focus()
				}
			}

		case "ctrl+r":
			if m.view == viewAuth {
				if m.authAction == "login" {
					m.authAction = "register"
				} else {
					m.authAction = "login"
				}
			}

		case "enter":
			switch m.view {
			case viewAuth:
				if m.usernameInput.Value() != "" && m.passwordInput.Value() != "" {
					return m, m.loginCmd()
				}

			case viewConversations:
				if len(m.conversations) > 0 {
					return m.openConversation(m.conversations[m.selectedConv])
				}

			case viewChat:
				return m.submitMessage()

			case viewNewConversation:
				if m.newConvInput.Value() != "" {
					username := m.newConvInput.Value()
					m.newConvInput.SetValue("")
					m.newConvUsers = append(m.newConvUsers, username)
				}
			}

		case "up", "k":
			if m.view == viewConversations && m.selectedConv > 0 {
				m.selectedConv--
			}

		case "down", "j":
			if m.view == viewConversations && m.selectedConv < len(m.conversations)-1 {
				m.selectedConv++
			}

		case "n":
			if m.view == viewConversations {
				m.view = viewNewConversation
				m.newConvInput.Focus()
				m.newConvUsers = []string{}
			}

		case "ctrl+g":
			if m.view == viewNewConversation {
				m.newConvIsGroup = !m.newConvIsGroup
			}

		case "ctrl+s":
			if m.view == viewNewConversation && len(m.newConvUsers) > 0 {
				var name string
				if m.newConvIsGroup {
					name = fmt.Sprintf("Party: %s", strings.Join(m.newConvUsers, ", "))
				}
				m.view = viewConversations
				return m, m.startConversationCmd(m.newConvUsers, m.newConvIsGroup, name)
			}

		case "esc":
			if m.view == viewChat {
				m.closeChat()
				m.view = viewConversations
				return m, m.listConversationsCmd()
			}
			if m.view == viewNewConversation {
				m.view = viewConversations
			}

		default:
			// Any other keystroke in the chat view is typing.
			if m.view == viewChat && m.chatSession != nil {
				m.chatSession.SendTyping()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chatViewport.Width = msg.Width - 4
		m.chatViewport.Height = msg.Height - 10

	case authResultMsg:
		if msg.err != nil {
			m.authError = msg.err.Error()
			return m, nil
		}
		m.userID = msg.resp.UserID
		m.username = msg.resp.Username
		m.authError = ""
		m.view = viewConversations
		session.Save(m.profile, session.Credentials{
			ServerURL: m.serverURL,
			Username:  msg.resp.Username,
			UserID:    msg.resp.UserID,
			Token:     msg.resp.Token,
		})
		return m, m.listConversationsCmd()

	case convsMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.conversations = msg.convs
		if m.selectedConv >= len(m.conversations) {
			m.selectedConv = 0
		}

	case convStartedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.conversations = append([]api.Conversation{msg.conv}, m.conversations...)

	case sessionEventMsg:
		if m.chatSession == nil {
			return m, nil
		}
		if msg.ev.Kind == chat.EventErr && msg.ev.Err != nil {
			m.chatError = msg.ev.Err.Error()
		}
		m.updateChatViewport()
		cmds = append(cmds, waitForEvent(m.chatSession))

	case sendResultMsg:
		m.isSending = false
		if msg.err != nil {
			m.chatError = msg.err.Error()
		}
		m.updateChatViewport()
	}

	// Update text inputs
	switch m.view {
	case viewAuth:
		if m.authFocused == 0 {
			m.usernameInput, _ = m.usernameInput.Update(msg)
		} else {
			m.passwordInput, _ = m.passwordInput.Update(msg)
		}
	case viewChat:
		m.messageInput, _ = m.messageInput.Update(msg)
		m.chatViewport, _ = m.chatViewport.Update(msg)
	case viewNewConversation:
		m.newConvInput, _ = m.newConvInput.Update(msg)
	}

	return m, tea.Batch(cmds...)
}

func (m model) openConversation(conv api.Conversation) (tea.Model, tea.Cmd) {
	m.closeChat()

	m.currentConv = conv
	if conv.Name != nil {
		m.currentConvName = *conv.Name
	} else {
		m.currentConvName = fmt.Sprintf("DM #%d", conv.ID)
	}

	creds := session.Load(m.profile)
	token := ""
	if creds != nil {
		token = creds.Token
	}

	m.chatSession = chat.NewSession(chat.Config{
		ServerURL:      m.wsBaseURL(),
		Token:          token,
		UserID:         m.userID,
		Username:       m.username,
		ConversationID: conv.ID,
		Uploader:       m.apiClient,
		Logger:         m.logger,
	})
	m.chatSession.Open()

	m.view = viewChat
	m.chatError = ""
	m.pendingFiles = nil
	m.messageInput.Focus()
	m.updateChatViewport()
	return m, waitForEvent(m.chatSession)
}

func (m *model) closeChat() {
	if m.chatSession != nil {
		m.chatSession.Close()
		m.chatSession = nil
	}
	m.pendingFiles = nil
	m.chatError = ""
	m.isSending = false
}

func (m model) submitMessage() (tea.Model, tea.Cmd) {
	if m.chatSession == nil || m.isSending {
		return m, nil
	}
	value := m.messageInput.Value()
	if value == "" {
		return m, nil
	}

	if path, ok := strings.CutPrefix(value, "/attach "); ok {
		path = strings.TrimSpace(path)
		if path != "" {
			m.pendingFiles = append(m.pendingFiles, path)
		}
		m.messageInput.SetValue("")
		return m, nil
	}

	files := m.pendingFiles
	m.pendingFiles = nil
	m.messageInput.SetValue("")
	m.isSending = true
	m.chatError = ""
	return m, sendMessageCmd(m.chatSession, value, files)
}

func (m *model) updateChatViewport() {
	if m.chatSession == nil {
		return
	}
	var content strings.Builder
	for _, msg := range m.chatSession.Messages() {
		timestamp := msg.CreatedAt.Format("15:04")
		var style lipgloss.Style
		if msg.SenderID == m.userID {
			style = ownMessageStyle
		} else {
			style = otherMessageStyle
		}
		line := fmt.Sprintf("%s %s %s: %s",
			mutedStyle.Render(timestamp),
			statusIcon(msg.Status),
			style.Render(msg.SenderUsername),
			msg.Content,
		)
		for _, att := range msg.Attachments {
			line += mutedStyle.Render(fmt.Sprintf(" [%s %s]", att.FileName, att.Size))
		}
		content.WriteString(line + "\n")
	}
	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

func statusIcon(status chat.DeliveryStatus) string {
	switch status {
	case chat.StatusSending:
		return mutedStyle.Render("…")
	case chat.StatusFailed:
		return errorStyle.Render("!")
	case chat.StatusRead:
		return selectedStyle.Render("✓✓")
	default:
		return mutedStyle.Render("✓")
	}
}

func presenceIcon(status chat.PresenceStatus) string {
	switch status {
	case chat.PresenceOnline:
		return selectedStyle.Render("●")
	case chat.PresenceIdle:
		return mutedStyle.Render("◐")
	default:
		return mutedStyle.Render("○")
	}
}

// --- View ---

func (m model) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	switch m.view {
	case viewAuth:
		return m.authView()
	case viewConversations:
		return m.conversationsView()
	case viewChat:
		return m.chatView()
	case viewNewConversation:
		return m.newConversationView()
	}
	return ""
}

func (m model) authView() string {
	var s strings.Builder

	title := titleStyle.Render("╔═══════════════════════════════╗\n║         TAVERNMSG             ║\n╚═══════════════════════════════╝")

	s.WriteString("\n\n")
	s.WriteString(title)
	s.WriteString("\n\n")

	if m.authAction == "login" {
		s.WriteString(selectedStyle.Render("  → Login"))
		s.WriteString(mutedStyle.Render("   Register\n"))
	} else {
		s.WriteString(mutedStyle.Render("  Login   "))
		s.WriteString(selectedStyle.Render("→ Register\n"))
	}
	s.WriteString(helpStyle.Render("  (Ctrl+R to switch)\n\n"))

	s.WriteString("  Username:\n")
	s.WriteString("  " + m.usernameInput.View() + "\n\n")
	s.WriteString("  Password:\n")
	s.WriteString("  " + m.passwordInput.View() + "\n\n")

	if m.authError != "" {
		s.WriteString(errorStyle.Render("  " + m.authError + "\n\n"))
	}

	s.WriteString(helpStyle.Render("  Tab to switch fields • Enter to submit • Ctrl+C to quit\n"))

	return s.String()
}

func (m model) conversationsView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(fmt.Sprintf("TAVERNMSG - %s", m.username)))
	s.WriteString("\n\n")

	if len(m.conversations) == 0 {
		s.WriteString(mutedStyle.Render("  No conversations yet.\n"))
		s.WriteString(mutedStyle.Render("  Press 'n' to start a new one.\n"))
	} else {
		for i, conv := range m.conversations {
			var name string
			if conv.Name != nil {
				name = *conv.Name
			} else {
				name = fmt.Sprintf("DM #%d", conv.ID)
			}

			prefix := "  "
			style := lipgloss.NewStyle()
			if i == m.selectedConv {
				prefix = "→ "
				style = selectedStyle
			}

			icon := "💬"
			if conv.IsGroup {
				icon = "👥"
			}

			unread := ""
			if conv.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d)", conv.UnreadCount)
			}

			s.WriteString(style.Render(fmt.Sprintf("%s%s %s%s\n", prefix, icon, name, unread)))
		}
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("  ↑/↓ navigate • Enter to open • n for new • q to quit"))

	return s.String()
}

func (m model) chatView() string {
	var s strings.Builder

	header := titleStyle.Render(fmt.Sprintf("💬 %s", m.currentConvName))
	s.WriteString(header)

	if m.chatSession != nil {
		for _, p := range m.currentConv.Participants {
			if p.ID == m.userID {
				continue
			}
			s.WriteString(fmt.Sprintf("  %s %s", presenceIcon(m.chatSession.PresenceFor(p.ID)), p.Username))
		}
	}
	s.WriteString("\n")

	if m.chatSession != nil && m.chatSession.ConnectionState() != chat.StateConnected {
		s.WriteString(bannerStyle.Render("⚠ disconnected, trying to reconnect..."))
		s.WriteString("\n")
	}

	width := m.width - 2
	if width < 1 {
		width = 78
	}
	s.WriteString(strings.Repeat("─", width))
	s.WriteString("\n")

	s.WriteString(m.chatViewport.View())
	s.WriteString("\n")

	typingLine := ""
	if m.chatSession != nil {
		typingLine = chat.FormatTyping(m.chatSession.TypingUsers())
	}
	if typingLine != "" {
		s.WriteString(mutedStyle.Render(typingLine))
	}
	s.WriteString("\n")

	s.WriteString(strings.Repeat("─", width))
	s.WriteString("\n")

	if len(m.pendingFiles) > 0 {
		names := make([]string, len(m.pendingFiles))
		for i, p := range m.pendingFiles {
			names[i] = filepath.Base(p)
		}
		s.WriteString(mutedStyle.Render("📎 " + strings.Join(names, ", ")))
		s.WriteString("\n")
	}
	if m.chatError != "" {
		s.WriteString(errorStyle.Render(m.chatError))
		s.WriteString("\n")
	}

	s.WriteString(m.messageInput.View())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("Enter to send • /attach <path> for files • Esc to go back"))

	return s.String()
}

func (m model) newConversationView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("New Conversation"))
	s.WriteString("\n\n")

	groupLabel := "Direct Message"
	if m.newConvIsGroup {
		groupLabel = "Group Chat"
	}
	s.WriteString(fmt.Sprintf("  Type: %s\n", selectedStyle.Render(groupLabel)))
	s.WriteString(helpStyle.Render("  (Ctrl+G to toggle)\n\n"))

	s.WriteString("  Add users:\n")
	s.WriteString("  " + m.newConvInput.View() + "\n\n")

	if len(m.newConvUsers) > 0 {
		s.WriteString("  Added:\n")
		for _, u := range m.newConvUsers {
			s.WriteString(fmt.Sprintf("    • %s\n", u))
		}
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("  Enter to add user • Ctrl+S to create • Esc to cancel"))

	return s.String()
}

// --- Main ---

func main() {
	serverURL := os.Getenv("TAVERNMSG_SERVER")
	profile := os.Getenv("TAVERNMSG_PROFILE")
	if profile == "" {
		profile = "default"
	}
	if serverURL == "" {
		if creds := session.Load(profile); creds != nil && creds.ServerURL != "" {
			serverURL = creds.ServerURL
		} else {
			serverURL = "http://localhost:8080"
		}
	}

	p := tea.NewProgram(initialModel(serverURL, profile), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
