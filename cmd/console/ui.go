package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jwebster45206/companion-engine/internal/engine"
	"github.com/jwebster45206/companion-engine/internal/services/events"
	"github.com/jwebster45206/companion-engine/pkg/chat"
)

const PlaceHolderText = "Say something, or type /help..."

type mode int

const (
	modeChat mode = iota
	modeStory
)

func (m mode) String() string {
	if m == modeStory {
		return "story"
	}
	return "chat"
}

// entry is one rendered line of the transcript.
type entry struct {
	role    string // "user", "assistant", "system" or "error"
	content string
}

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	config       *ConsoleConfig
	api          *apiClient
	chatViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int
	loading      bool

	mode       mode
	transcript []entry
	lastReply  string
	character  *engine.CharacterInfo
	storylines []engine.StorylineSummary

	// Storyline picker state
	showStoryModal    bool
	selectedStoryline int
	modalErr          error

	// Quit confirmation state
	showQuitModal bool

	// Progress bar state
	progressTick int
}

type chatReplyMsg struct {
	reply string
	err   error
}

type advanceMsg struct {
	result *engine.AdvanceResult
	err    error
}

type startedMsg struct {
	result *engine.StartResult
	err    error
}

type storylinesMsg struct {
	storylines []engine.StorylineSummary
	err        error
}

type characterMsg struct {
	info *engine.CharacterInfo
	err  error
}

type historyMsg struct {
	history *chat.HistoryExport
	err     error
}

type noticeMsg struct {
	text string
	err  error
}

type progressEventMsg struct {
	event events.Event
	err   error
}

type progressTickMsg struct{}

var (
	chatPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	modalItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	modalLockedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))

	modalSelectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("205")).
				Bold(true)
)

var separatorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("240")) // dark grey

func NewConsoleUI(cfg *ConsoleConfig, api *apiClient) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 1000
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	chatVp := viewport.New(50, 20)
	chatVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		config:       cfg,
		api:          api,
		textarea:     ta,
		chatViewport: chatVp,
		metaViewport: metaVp,
		mode:         modeChat,
	}
}

func (m ConsoleUI) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.loadCharacter(), m.loadStorylines(), m.loadHistory())
}

func (m ConsoleUI) characterName() string {
	if m.character != nil && m.character.Name != "" {
		return m.character.Name
	}
	return "Companion"
}

func (m *ConsoleUI) resize() {
	chatWidth := int(float64(m.width)*0.75) - 4
	metaWidth := m.width - chatWidth - 6

	m.chatViewport.Width = chatWidth - 2
	m.chatViewport.Height = m.height - 7
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4
	m.textarea.SetWidth(chatWidth - 4)
}

// writeChatContent renders the transcript for the current viewport width.
func (m *ConsoleUI) writeChatContent() {
	chatWidth := m.chatViewport.Width - 6 // Account for left(3) + right(3) padding
	if chatWidth < 20 {
		chatWidth = 20
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render("COMPANION ENGINE") + "\n\n")
	content.WriteString(fmt.Sprintf("Chatting with %s. Type /stories to pick a storyline.\n\n", m.characterName()))
	content.WriteString(separatorStyle.Render(strings.Repeat("─", chatWidth-6)) + "\n\n")

	for _, e := range m.transcript {
		switch e.role {
		case chat.ChatRoleAgent:
			content.WriteString(formatCharacterResponse(m.characterName(), e.content, chatWidth) + "\n\n")
		case chat.ChatRoleUser:
			content.WriteString(userStyle.Render("You: ") + wordwrap.String(e.content, chatWidth-6) + "\n\n")
		case "error":
			content.WriteString(errorStyle.Render("Error: "+e.content) + "\n\n")
		default:
			content.WriteString(systemStyle.Render(wordwrap.String(e.content, chatWidth)) + "\n\n")
		}
	}

	if m.loading {
		content.WriteString(m.renderProgressBar())
	}

	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

func (m *ConsoleUI) writeMetadata() {
	var content strings.Builder
	content.WriteString(titleStyle.Render("COMPANION") + "\n\n")

	if m.character != nil {
		content.WriteString(m.character.Name + "\n")
		content.WriteString(wordwrap.String(m.character.Personality, max(m.metaViewport.Width, 10)) + "\n\n")
		content.WriteString(fmt.Sprintf("Chats: %d\n\n", m.character.ChatCount))
	}

	content.WriteString("Mode:\n" + m.mode.String() + "\n\n")
	content.WriteString("User:\n" + m.config.UserID + "\n\n")

	content.WriteString("Storylines:\n")
	if len(m.storylines) == 0 {
		content.WriteString("None available\n")
	}
	for _, s := range m.storylines {
		marker := "•"
		if s.Current {
			marker = "▶"
		}
		lock := ""
		if !s.Unlocked {
			lock = " 🔒"
		}
		content.WriteString(fmt.Sprintf("%s %s %s%s\n", marker, s.Title, s.Progress, lock))
	}

	content.WriteString("\nCommands:\n")
	content.WriteString("• /stories: Pick storyline\n")
	content.WriteString("• /chat: Free chat\n")
	content.WriteString("• /copy: Copy reply\n")
	content.WriteString("• /help: Help\n")
	content.WriteString("• Ctrl+C: Quit\n")

	m.metaViewport.SetContent(content.String())
}

func (m *ConsoleUI) addEntry(role, content string) {
	m.transcript = append(m.transcript, entry{role: role, content: content})
	m.writeChatContent()
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}
	if m.showStoryModal {
		return m.updateStoryModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.chatViewport, vpCmd = m.chatViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.ready = true
		m.writeChatContent()
		m.writeMetadata()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}

			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}
			m.textarea.Reset()

			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}

			m.loading = true
			m.progressTick = 0
			m.addEntry(chat.ChatRoleUser, input)

			if m.mode == modeStory {
				return m, tea.Batch(m.sendAction(input), progressTick())
			}
			return m, tea.Batch(m.sendChat(input), progressTick())
		}

	case chatReplyMsg:
		m.loading = false
		if msg.err != nil {
			m.addEntry("error", msg.err.Error())
			return m, nil
		}
		m.lastReply = msg.reply
		m.addEntry(chat.ChatRoleAgent, msg.reply)
		return m, m.loadCharacter()

	case advanceMsg:
		m.loading = false
		if msg.err != nil {
			m.addEntry("error", msg.err.Error())
			return m, nil
		}
		m.lastReply = msg.result.Response
		m.addEntry(chat.ChatRoleAgent, msg.result.Response)
		if msg.result.Message != "" {
			m.addEntry(chat.ChatRoleSystem, msg.result.Message)
		}
		if msg.result.PersistenceFailed {
			m.addEntry("error", "progress was not saved; it will be retried on the next change")
		}
		if msg.result.Completed || msg.result.StorylineCompleted {
			m.mode = modeChat
			m.addEntry(chat.ChatRoleSystem, "Back to free chat. Type /stories for another storyline.")
		}
		return m, m.loadStorylines()

	case startedMsg:
		m.loading = false
		if msg.err != nil {
			m.addEntry("error", msg.err.Error())
			return m, nil
		}
		m.mode = modeStory
		m.lastReply = msg.result.Narration
		m.addEntry(chat.ChatRoleSystem, msg.result.Narration)
		m.writeMetadata()
		return m, m.loadStorylines()

	case storylinesMsg:
		if msg.err == nil {
			m.storylines = msg.storylines
			m.writeMetadata()
		}

	case characterMsg:
		if msg.err == nil {
			m.character = msg.info
			m.writeMetadata()
			m.writeChatContent()
		}

	case historyMsg:
		if msg.err == nil && msg.history != nil {
			for _, h := range msg.history.Messages {
				m.transcript = append(m.transcript, entry{role: h.Role, content: h.Content})
			}
			m.writeChatContent()
		}

	case noticeMsg:
		if msg.err != nil {
			m.addEntry("error", msg.err.Error())
		} else {
			m.addEntry(chat.ChatRoleSystem, msg.text)
		}

	case progressEventMsg:
		if msg.err != nil {
			m.addEntry("error", "event stream: "+msg.err.Error())
			return m, nil
		}
		if msg.event.Type == events.EventTypeStorylineUnlocked {
			m.addEntry(chat.ChatRoleSystem, fmt.Sprintf("🔓 Storyline '%s' unlocked!", msg.event.StorylineID))
		}
		return m, m.loadStorylines()

	case progressTickMsg:
		if m.loading {
			m.progressTick++
			m.writeChatContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

// formatCharacterResponse wraps a reply and prefixes it with the speaker.
func formatCharacterResponse(name, response string, width int) string {
	prefix := name + ": "
	wrapped := wordwrap.String(response, width-len(prefix))
	return speakerStyle.Render(prefix) + wrapped
}

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(strings.ToLower(input))

	switch fields[0] {
	case "/help":
		m.addEntry(chat.ChatRoleSystem, `Commands:
• /stories - Pick a storyline to start or resume
• /chat - Leave story mode and chat freely
• /copy - Copy the last reply to the clipboard
• /clear - Clear the conversation history
• /save - Save a snapshot of your progress
• Ctrl+C - Quit

In story mode, describe what you do. Saying you are done or have finished
completes the current chapter.`)

	case "/stories":
		m.showStoryModal = true
		m.modalErr = nil
		m.selectedStoryline = 0
		return m, m.loadStorylines()

	case "/chat":
		m.mode = modeChat
		m.writeMetadata()
		m.addEntry(chat.ChatRoleSystem, "Free chat mode.")

	case "/copy":
		if m.lastReply == "" {
			m.addEntry("error", "nothing to copy yet")
			break
		}
		if err := clipboard.WriteAll(m.lastReply); err != nil {
			m.addEntry("error", "failed to copy: "+err.Error())
			break
		}
		m.addEntry(chat.ChatRoleSystem, "Copied the last reply to the clipboard.")

	case "/clear":
		m.transcript = nil
		m.writeChatContent()
		return m, m.clearHistory()

	case "/save":
		return m, m.saveSnapshot()

	default:
		m.addEntry("error", "unknown command "+fields[0])
	}

	return m, nil
}

func (m ConsoleUI) sendChat(message string) tea.Cmd {
	return func() tea.Msg {
		reply, err := m.api.chat(message)
		return chatReplyMsg{reply, err}
	}
}

func (m ConsoleUI) sendAction(action string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.api.advance(action)
		return advanceMsg{res, err}
	}
}

func (m ConsoleUI) startStoryline(id string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.api.startStoryline(id)
		return startedMsg{res, err}
	}
}

func (m ConsoleUI) loadStorylines() tea.Cmd {
	return func() tea.Msg {
		list, err := m.api.listStorylines()
		return storylinesMsg{list, err}
	}
}

func (m ConsoleUI) loadCharacter() tea.Cmd {
	return func() tea.Msg {
		info, err := m.api.character()
		return characterMsg{info, err}
	}
}

func (m ConsoleUI) loadHistory() tea.Cmd {
	return func() tea.Msg {
		h, err := m.api.history()
		return historyMsg{h, err}
	}
}

func (m ConsoleUI) clearHistory() tea.Cmd {
	return func() tea.Msg {
		return noticeMsg{"Conversation cleared. Story progress is unchanged.", m.api.clearHistory()}
	}
}

func (m ConsoleUI) saveSnapshot() tea.Cmd {
	return func() tea.Msg {
		return noticeMsg{"Progress saved.", m.api.saveSnapshot()}
	}
}

func (m ConsoleUI) updateStoryModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case storylinesMsg:
		m.modalErr = msg.err
		if msg.err == nil {
			m.storylines = msg.storylines
			m.writeMetadata()
		}

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.showQuitModal = true
		case tea.KeyEsc:
			m.showStoryModal = false
			m.textarea.Focus()
			return m, textarea.Blink
		case tea.KeyUp:
			if m.selectedStoryline > 0 {
				m.selectedStoryline--
			}
		case tea.KeyDown:
			if m.selectedStoryline < len(m.storylines)-1 {
				m.selectedStoryline++
			}
		case tea.KeyEnter:
			if len(m.storylines) == 0 {
				return m, nil
			}
			s := m.storylines[m.selectedStoryline]
			if !s.Unlocked {
				m.modalErr = fmt.Errorf("'%s' is still locked", s.Title)
				return m, nil
			}
			m.showStoryModal = false
			m.loading = true
			m.textarea.Focus()
			return m, tea.Batch(m.startStoryline(s.ID), textarea.Blink)
		}
	}

	return m, nil
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit?"))
	content.WriteString("\n\n")
	content.WriteString(fmt.Sprintf("Say goodbye to %s for now?", m.characterName()))
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) renderStoryModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Select a Storyline"))
	content.WriteString("\n\n")

	if len(m.storylines) == 0 {
		content.WriteString(loadingStyle.Render("No storylines yet..."))
		content.WriteString("\n")
	}
	for i, s := range m.storylines {
		label := fmt.Sprintf("%s (%s)", s.Title, s.Progress)
		switch {
		case i == m.selectedStoryline:
			content.WriteString(modalSelectedItemStyle.Render("▶ " + label))
		case !s.Unlocked:
			content.WriteString(modalLockedItemStyle.Render("  " + label + " 🔒"))
		default:
			content.WriteString(modalItemStyle.Render("  " + label))
		}
		content.WriteString("\n")
	}

	if m.modalErr != nil {
		content.WriteString("\n")
		content.WriteString(errorStyle.Render(m.modalErr.Error()))
		content.WriteString("\n")
	}

	content.WriteString("\n")
	content.WriteString(promptStyle.Render("Use ↑/↓ to navigate, Enter to start, Esc to cancel"))

	modal := modalStyle.Width(60).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}
	if m.showStoryModal {
		return m.renderStoryModal()
	}
	if !m.ready {
		return "\n  Initializing..."
	}

	chatWidth := int(float64(m.width)*0.75) - 4
	metaWidth := m.width - chatWidth - 6

	chatPanel := chatPanelStyle.Width(chatWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.chatViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", max(chatWidth-4, 0))),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar for loading states
func (m ConsoleUI) renderProgressBar() string {
	usable := m.chatViewport.Width - 6
	if usable <= 0 {
		usable = 30 // fallback before sizing
	}
	if usable > 80 {
		usable = 80
	} else if usable < 10 {
		usable = 10
	}

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		if i < filled {
			bar.WriteString("█")
		} else if i == filled && frame%4 < 2 {
			bar.WriteString("▓")
		} else {
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

// progressTick creates a command that sends a progress tick message
func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
