package chat

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/costlens/costlens/internal/config"
	"github.com/costlens/costlens/internal/llm"
	"github.com/costlens/costlens/internal/mcp"
	"github.com/costlens/costlens/internal/rules"
	"github.com/costlens/costlens/internal/session"
	"github.com/costlens/costlens/internal/turn"
	"github.com/costlens/costlens/internal/ui"
)

// Model is the main chat TUI model
type Model struct {
	// Dimensions
	width  int
	height int

	// Components
	textarea textarea.Model
	spinner  spinner.Model
	styles   *ui.Styles
	keyMap   KeyMap
	dialog   *DialogModel

	// Conversation
	ctrl     *turn.Controller
	state    *turn.SessionState
	examples []rules.ExampleQuestion

	// Persistence
	store     session.Store
	sess      *session.Session
	persisted int // turns already written to the store

	// Streaming state
	streaming   bool
	phase       string // "Thinking", "Querying", "Summarizing", "Responding"
	streamStart time.Time
	answer      strings.Builder
	records     []turn.ToolCallRecord
	used        int
	runner      *turnRunner

	// LLM context
	config       *config.Config
	providerName string
	modelName    string
	mcpManager   *mcp.Manager

	// RefreshTools, when set, runs before each turn so tools from MCP
	// servers that finished starting in the background become available.
	RefreshTools func()

	// UI state
	quitting bool
	err      error
}

type tickMsg time.Time

// New creates a new chat model
func New(cfg *config.Config, ctrl *turn.Controller, state *turn.SessionState, mcpManager *mcp.Manager, store session.Store, sess *session.Session, examples []rules.ExampleQuestion) *Model {
	width := 80
	height := 24
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		width = w
		height = h
	}

	s := spinner.New()
	s.Spinner = spinner.Dot

	styles := ui.DefaultStyles()
	s.Style = styles.Spinner

	ta := textarea.New()
	ta.Placeholder = "Ask about your AWS costs..."
	ta.Prompt = "❯ "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetWidth(width)
	ta.SetHeight(1)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Base = lipgloss.NewStyle()
	ta.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(styles.Theme().Muted)
	ta.FocusedStyle.EndOfBuffer = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = lipgloss.NewStyle().Foreground(styles.Theme().Primary).Bold(true)
	ta.BlurredStyle = ta.FocusedStyle
	ta.Focus()

	if sess == nil {
		sess = &session.Session{
			ID:        session.NewID(),
			Provider:  cfg.Provider,
			Model:     cfg.ModelName(),
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if store != nil {
			ctx := context.Background()
			_ = store.Create(ctx, sess)
			_ = store.SetCurrent(ctx, sess.ID)
		}
	}

	dialog := NewDialogModel(styles)
	dialog.SetSize(width, height)

	return &Model{
		width:        width,
		height:       height,
		textarea:     ta,
		spinner:      s,
		styles:       styles,
		keyMap:       DefaultKeyMap(),
		dialog:       dialog,
		ctrl:         ctrl,
		state:        state,
		examples:     examples,
		store:        store,
		sess:         sess,
		persisted:    len(state.Turns),
		config:       cfg,
		providerName: cfg.Provider,
		modelName:    cfg.ModelName(),
		mcpManager:   mcpManager,
		phase:        "Thinking",
	}
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
	)
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.textarea.SetWidth(m.width)
		m.dialog.SetSize(m.width, m.height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case spinner.TickMsg:
		if m.streaming {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tickMsg:
		if m.streaming {
			cmds = append(cmds, m.tickEvery())
		}

	case turnEventMsg:
		m.applyEvent(msg.event)
		cmds = append(cmds, m.listenTurn())

	case turnDoneMsg:
		return m.handleTurnDone(msg.res)
	}

	if !m.streaming && !m.dialog.IsOpen() {
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// applyEvent folds one engine event into the live view state.
func (m *Model) applyEvent(ev llm.Event) {
	switch ev.Type {
	case llm.EventTextDelta:
		m.answer.WriteString(ev.Text)
		m.phase = "Responding"

	case llm.EventToolExecStart:
		m.phase = "Querying"
		m.records = append(m.records, turn.ToolCallRecord{
			ID:        ev.ToolCallID,
			Tool:      ev.ToolName,
			Payload:   ev.ToolArgs,
			Status:    turn.StatusStarted,
			StartedAt: time.Now(),
		})

	case llm.EventToolExecEnd:
		for i := range m.records {
			if m.records[i].ID == ev.ToolCallID {
				m.records[i].Status = turn.StatusCompleted
				break
			}
		}
		m.used++
		m.phase = "Thinking"

	case llm.EventInterrupt:
		// The controller is now building the partial summary.
		m.phase = "Summarizing"
	}
}

func (m *Model) handleTurnDone(res turnResult) (tea.Model, tea.Cmd) {
	m.streaming = false
	m.runner = nil

	if res.err != nil || res.outcome == nil {
		if res.err != nil {
			m.err = res.err
		}
		m.textarea.Focus()
		return m, tea.Println(m.styles.Error.Render(fmt.Sprintf("Error: %v", res.err)))
	}

	if res.outcome.Interrupted {
		m.dialog.ShowInterrupt(res.outcome.Snapshot)
		return m, nil
	}

	return m.finishTurn(res.outcome.Turn)
}

// finishTurn prints the settled assistant turn to scrollback and persists it.
func (m *Model) finishTurn(t turn.ConversationTurn) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	out := m.renderFinishedTurn(t)
	cmds = append(cmds, tea.Println(out))

	m.persistNewTurns()

	m.answer.Reset()
	m.records = nil
	m.used = 0
	m.textarea.Focus()

	return m, tea.Batch(cmds...)
}

// renderFinishedTurn renders the query log followed by the answer.
func (m *Model) renderFinishedTurn(t turn.ConversationTurn) string {
	var b strings.Builder
	if len(t.ToolLog) > 0 {
		b.WriteString(ui.RenderQueryLog(t.ToolLog, m.styles, m.width, time.Now()))
		b.WriteString("\n\n")
	}
	if t.IsError {
		b.WriteString(m.styles.Error.Render(t.Content))
	} else {
		b.WriteString(ui.RenderMarkdown(t.Content, m.width))
	}
	b.WriteString("\n")
	return b.String()
}

// persistNewTurns writes turns settled since the last save.
func (m *Model) persistNewTurns() {
	if m.store == nil || m.sess == nil {
		m.persisted = len(m.state.Turns)
		return
	}

	ctx := context.Background()
	for _, t := range m.state.Turns[m.persisted:] {
		_ = m.store.AddMessage(ctx, m.sess.ID, session.NewMessage(m.sess.ID, t))
		switch t.Role {
		case llm.RoleUser:
			_ = m.store.IncrementUserTurns(ctx, m.sess.ID)
			if m.sess.Summary == "" {
				m.sess.Summary = session.TruncateSummary(t.Content)
				_ = m.store.Update(ctx, m.sess)
			}
		case llm.RoleAssistant:
			if n := len(t.ToolLog); n > 0 {
				_ = m.store.UpdateMetrics(ctx, m.sess.ID, n, 0, 0)
			}
			status := session.StatusComplete
			if t.IsError {
				status = session.StatusError
			}
			_ = m.store.UpdateStatus(ctx, m.sess.ID, status)
		}
	}
	m.persisted = len(m.state.Turns)
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.dialog.IsOpen() {
		return m.handleDialogKey(msg)
	}

	if key.Matches(msg, m.keyMap.Quit) {
		if m.streaming {
			m.cancelTurn()
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	}

	if key.Matches(msg, m.keyMap.Cancel) {
		if m.streaming {
			m.cancelTurn()
			return m, nil
		}
		if m.textarea.Value() != "" {
			m.textarea.SetValue("")
			m.textarea.SetHeight(1)
		}
		return m, nil
	}

	if m.streaming {
		return m, nil
	}

	if key.Matches(msg, m.keyMap.Examples) {
		return m.showExamples()
	}

	if key.Matches(msg, m.keyMap.NewSession) {
		return m.cmdNew()
	}

	if key.Matches(msg, m.keyMap.Clear) {
		m.textarea.SetValue("")
		m.textarea.SetHeight(1)
		return m, nil
	}

	if key.Matches(msg, m.keyMap.Newline) || key.Matches(msg, m.keyMap.NewlineAlt) {
		m.textarea.InsertString("\n")
		m.updateTextareaHeight()
		return m, nil
	}

	if key.Matches(msg, m.keyMap.Send) {
		content := strings.TrimSpace(m.textarea.Value())
		if strings.HasPrefix(content, "/") {
			return m.handleSlashCommand(content)
		}
		if content != "" {
			return m.sendMessage(content)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	m.updateTextareaHeight()
	return m, cmd
}

// updateTextareaHeight grows the input with its content, accounting for
// word wrap, capped at a third of the screen.
func (m *Model) updateTextareaHeight() {
	content := m.textarea.Value()
	effectiveWidth := m.textarea.Width() - 2 // prompt "❯ "
	if effectiveWidth <= 0 {
		effectiveWidth = 1
	}

	visualLines := 0
	for _, line := range strings.Split(content, "\n") {
		lineLen := runewidth.StringWidth(line)
		if lineLen == 0 {
			visualLines++
		} else {
			visualLines += (lineLen + effectiveWidth - 1) / effectiveWidth
		}
	}
	if visualLines < 1 {
		visualLines = 1
	}

	maxHeight := m.height / 3
	if maxHeight < 5 {
		maxHeight = 5
	}
	if visualLines > maxHeight {
		visualLines = maxHeight
	}

	m.textarea.SetHeight(visualLines)
}

func (m *Model) handleDialogKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.dialog.Type() {
	case DialogInterrupt:
		switch msg.String() {
		case "enter":
			selected := m.dialog.Selected()
			m.dialog.Close()
			if selected != nil && selected.ID == "continue" {
				m.streaming = true
				m.phase = "Querying"
				m.used = 0
				return m, tea.Batch(m.approveTurn(), m.spinner.Tick, m.tickEvery())
			}
			return m.stopTurn()
		case "esc":
			// Escape means stop: the turn cannot stay suspended forever.
			m.dialog.Close()
			return m.stopTurn()
		default:
			m.dialog.Update(msg)
			return m, nil
		}

	case DialogExamples:
		switch msg.String() {
		case "enter":
			selected := m.dialog.Selected()
			m.dialog.Close()
			if selected != nil {
				m.textarea.SetValue(selected.Description)
				m.textarea.Focus()
			}
			return m, nil
		case "esc", "ctrl+c":
			m.dialog.Close()
			return m, nil
		default:
			m.dialog.Update(msg)
			return m, nil
		}
	}

	m.dialog.Close()
	return m, nil
}

// stopTurn finalizes the paused turn with the partial summary.
func (m *Model) stopTurn() (tea.Model, tea.Cmd) {
	t, err := m.ctrl.Stop(m.state)
	if err != nil {
		m.err = err
		m.textarea.Focus()
		return m, tea.Println(m.styles.Error.Render("Error: " + err.Error()))
	}
	return m.finishTurn(t)
}

func (m *Model) showExamples() (tea.Model, tea.Cmd) {
	if len(m.examples) == 0 {
		return m, nil
	}
	items := make([]DialogItem, 0, len(m.examples))
	for i, ex := range m.examples {
		items = append(items, DialogItem{
			ID:          fmt.Sprintf("ex%d", i),
			Label:       ex.Short,
			Description: ex.Full,
		})
	}
	m.dialog.ShowExamples(items)
	return m, nil
}

// cmdNew starts a fresh session.
func (m *Model) cmdNew() (tea.Model, tea.Cmd) {
	if m.state.PendingInterruption() {
		// Resolve the suspended turn before abandoning the session.
		if _, err := m.ctrl.Stop(m.state); err == nil {
			m.persistNewTurns()
		}
	}
	m.state.Clear()
	m.persisted = 0

	m.sess = &session.Session{
		ID:        session.NewID(),
		Provider:  m.providerName,
		Model:     m.modelName,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if m.store != nil {
		ctx := context.Background()
		_ = m.store.Create(ctx, m.sess)
		_ = m.store.SetCurrent(ctx, m.sess.ID)
	}
	return m, tea.Println(m.styles.Muted.Render("Started a new session."))
}

func (m *Model) handleSlashCommand(input string) (tea.Model, tea.Cmd) {
	m.textarea.SetValue("")
	m.textarea.SetHeight(1)

	cmd := strings.Fields(input)[0]
	switch cmd {
	case "/new":
		return m.cmdNew()
	case "/examples":
		return m.showExamples()
	case "/help":
		return m, tea.Println(m.renderHelp())
	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit
	default:
		return m, tea.Println(m.styles.Muted.Render("Unknown command: " + cmd))
	}
}

func (m *Model) renderHelp() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Commands"))
	b.WriteString("\n")
	for _, line := range []string{
		"/new        start a new session",
		"/examples   pick an example question",
		"/help       show this help",
		"/quit       exit",
	} {
		b.WriteString("  " + m.styles.Muted.Render(line) + "\n")
	}
	b.WriteString(m.styles.Title.Render("Keys"))
	b.WriteString("\n")
	for _, line := range []string{
		"enter       send · ctrl+j newline",
		"esc         cancel running turn",
		"ctrl+e      example questions",
		"ctrl+n      new session · ctrl+c quit",
	} {
		b.WriteString("  " + m.styles.Muted.Render(line) + "\n")
	}
	return b.String()
}

func (m *Model) sendMessage(content string) (tea.Model, tea.Cmd) {
	theme := m.styles.Theme()
	userDisplay := lipgloss.NewStyle().Foreground(theme.Primary).Bold(true).Render("❯") + " " + content

	m.textarea.SetValue("")
	m.textarea.SetHeight(1)
	m.textarea.Blur()

	if m.RefreshTools != nil {
		m.RefreshTools()
	}

	m.streaming = true
	m.phase = "Thinking"
	m.streamStart = time.Now()
	m.answer.Reset()
	m.records = nil
	m.used = 0

	return m, tea.Batch(
		tea.Println(userDisplay),
		m.startTurn(content),
		m.spinner.Tick,
		m.tickEvery(),
	)
}

func (m *Model) tickEvery() tea.Cmd {
	return tea.Tick(1*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// View renders the model (inline mode - only active frame)
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	if m.streaming {
		b.WriteString(m.renderStreamingInline())
	}

	if m.dialog.IsOpen() {
		b.WriteString(m.dialog.View())
		b.WriteString("\n")
	}

	if !m.streaming && !m.dialog.IsOpen() {
		b.WriteString(m.renderInputInline())
	}

	return b.String()
}

// renderStreamingInline renders the live query log and status line.
func (m *Model) renderStreamingInline() string {
	var b strings.Builder

	if log := ui.RenderQueryLog(m.records, m.styles, m.width, time.Now()); log != "" {
		b.WriteString(log)
		b.WriteString("\n")
	}

	indicator := ui.StreamingIndicator{
		Spinner: m.spinner.View(),
		Phase:   m.phase,
		Elapsed: time.Since(m.streamStart),
		Used:    m.used,
		Limit:   m.ctrl.Limit(),
	}
	b.WriteString(indicator.Render(m.styles))
	b.WriteString("\n")

	return b.String()
}

// renderInputInline renders the input prompt and status line.
func (m *Model) renderInputInline() string {
	theme := m.styles.Theme()

	var b strings.Builder
	separator := lipgloss.NewStyle().Foreground(theme.Muted).Render(strings.Repeat("─", m.width))
	b.WriteString(separator)
	b.WriteString("\n")
	b.WriteString(m.textarea.View())
	b.WriteString("\n")
	b.WriteString(separator)
	b.WriteString("\n")
	b.WriteString(m.renderStatusLine())

	return b.String()
}

// renderStatusLine renders a tiny status line showing model and options.
func (m *Model) renderStatusLine() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("%s:%s", m.providerName, m.modelName))
	parts = append(parts, ui.BudgetLine(0, m.ctrl.Limit(), m.styles))

	if m.mcpManager != nil {
		var ready []string
		for _, state := range m.mcpManager.GetAllStates() {
			if state.Status == mcp.StatusReady {
				ready = append(ready, state.Name)
			}
		}
		if len(ready) > 0 {
			parts = append(parts, m.styles.Success.Render("mcp:"+strings.Join(ready, ",")))
		} else {
			parts = append(parts, m.styles.Muted.Render("mcp:starting"))
		}
	}

	if len(m.examples) > 0 && len(m.state.Turns) == 0 {
		parts = append(parts, m.styles.Muted.Render("ctrl+e:examples"))
	}

	return m.styles.Footer.Render(strings.Join(parts, " · "))
}
