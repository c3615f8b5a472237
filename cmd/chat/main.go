// Command chat is a terminal client for the chat server. It drives the same streaming
// endpoint as the web interface, folding the event stream into the transcript as frames
// arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tarwood/hearth/internal/models"
	"github.com/tarwood/hearth/internal/stream"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	thinkingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Italic(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "chat server base URL")
	modelName := flag.String("model", "", "model name to request")
	threadID := flag.String("thread", "", "thread id to resume")
	flag.Parse()

	m := newModel(stream.NewClient(*serverURL), *modelName, *threadID)

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// streamResult carries one parsed event or the transport error off the reader goroutine.
type streamResult struct {
	event stream.Event
	err   error
}

type streamResultMsg streamResult

type streamClosedMsg struct{}

type historyMsg struct {
	thread stream.Thread
	err    error
}

type model struct {
	client    stream.Client
	modelName string
	threadID  string

	viewport viewport.Model
	input    textarea.Model
	spin     spinner.Model
	ready    bool

	messages []models.Message
	toolNote string

	streaming bool
	reducer   *stream.Reducer
	results   chan streamResult
	cancel    context.CancelFunc

	err error
}

func newModel(client stream.Client, modelName, threadID string) model {
	ta := textarea.New()
	ta.Placeholder = "Ask anything..."
	ta.Focus()
	ta.SetHeight(2)
	ta.ShowLineNumbers = false

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return model{
		client:    client,
		modelName: modelName,
		threadID:  threadID,
		input:     ta,
		spin:      sp,
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink}
	if m.threadID != "" {
		cmds = append(cmds, m.loadHistory())
	}
	return tea.Batch(cmds...)
}

func (m model) loadHistory() tea.Cmd {
	client, threadID := m.client, m.threadID
	return func() tea.Msg {
		thread, err := client.Conversation(context.Background(), threadID)
		return historyMsg{thread: thread, err: err}
	}
}

// send issues the request on a fresh goroutine and bridges the event iterator onto the
// results channel. The channel closing signals the end of the transport stream.
func (m *model) send(text string) tea.Cmd {
	req := stream.Request{
		Model:    m.modelName,
		ThreadID: m.threadID,
		Messages: []stream.Turn{{Role: string(models.RoleUser), Content: text}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.reducer = stream.NewReducer()
	m.results = make(chan streamResult, 16)
	m.streaming = true
	m.toolNote = ""

	m.messages = append(m.messages, models.Message{
		ID:      "user-" + m.reducer.ProvisionalID(),
		Role:    models.RoleUser,
		Content: text,
	})

	results, client := m.results, m.client
	go func() {
		defer close(results)
		for ev, err := range client.Send(ctx, req) {
			results <- streamResult{event: ev, err: err}
		}
	}()

	return tea.Batch(m.waitForResult(), m.spin.Tick)
}

func (m model) waitForResult() tea.Cmd {
	results := m.results
	return func() tea.Msg {
		res, ok := <-results
		if !ok {
			return streamClosedMsg{}
		}
		return streamResultMsg(res)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		inputHeight := m.input.Height() + 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - inputHeight
		}
		m.input.SetWidth(msg.Width)
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.streaming && m.cancel != nil {
				m.cancel()
			}
		case tea.KeyEnter:
			if m.streaming {
				break
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				break
			}
			m.input.Reset()
			cmd := m.send(text)
			m.refresh()
			// Swallow the keypress so the reset textarea doesn't gain a newline
			return m, cmd
		}

	case historyMsg:
		if msg.err != nil {
			m.err = msg.err
			break
		}
		for i, turn := range msg.thread.Messages {
			role, ok := models.NormalizeRole(turn.Role)
			if !ok {
				continue
			}
			m.messages = append(m.messages, models.Message{
				ID:      fmt.Sprintf("history-%d", i),
				Role:    role,
				Content: turn.Content,
			})
		}
		m.refresh()

	case streamResultMsg:
		if msg.err != nil {
			m.applyUpdate(m.reducer.Fail(msg.err))
		} else {
			m.applyUpdate(m.reducer.Apply(msg.event))
		}
		m.refresh()
		cmds = append(cmds, m.waitForResult())

	case streamClosedMsg:
		m.applyUpdate(m.reducer.Finish())
		m.streaming = false
		m.toolNote = ""
		m.refresh()

	case spinner.TickMsg:
		if m.streaming {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// applyUpdate folds one reducer transition into the transcript.
func (m *model) applyUpdate(up stream.Update) {
	switch up.Kind {
	case stream.UpdateOpened:
		m.threadID = up.ThreadID
	case stream.UpdateMessage:
		m.upsert(up.Message)
	case stream.UpdateToolCall:
		m.toolNote = up.Note
	case stream.UpdateFinalized:
		m.replaceProvisional(up.Message)
		if up.ThreadID != "" {
			m.threadID = up.ThreadID
		}
		m.streaming = false
		m.toolNote = ""
	case stream.UpdateFailed:
		m.replaceProvisional(up.Message)
		m.streaming = false
		m.toolNote = ""
	}
}

func (m *model) upsert(msg models.Message) {
	for i := range m.messages {
		if m.messages[i].ID == msg.ID {
			m.messages[i] = msg
			return
		}
	}
	m.messages = append(m.messages, msg)
}

// replaceProvisional swaps the in-flight message for its final form. If no provisional
// message exists yet, for instance when the stream failed before the first delta, the final
// message is appended instead.
func (m *model) replaceProvisional(msg models.Message) {
	if m.reducer == nil {
		m.messages = append(m.messages, msg)
		return
	}
	for i := range m.messages {
		if m.messages[i].ID == m.reducer.ProvisionalID() {
			m.messages[i] = msg
			return
		}
	}
	m.messages = append(m.messages, msg)
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m model) renderTranscript() string {
	var sb strings.Builder
	for _, msg := range m.messages {
		switch msg.Role {
		case models.RoleUser:
			sb.WriteString(userStyle.Render("You"))
		case models.RoleAssistant:
			sb.WriteString(assistantStyle.Render("Assistant"))
		default:
			continue
		}
		sb.WriteString("\n")

		if msg.Thinking != "" {
			sb.WriteString(thinkingStyle.Render(msg.Thinking))
			sb.WriteString("\n")
		}
		sb.WriteString(msg.Content)
		if msg.ResponseTime > 0 {
			sb.WriteString(statusStyle.Render(fmt.Sprintf("  (%.1fs)", msg.ResponseTime)))
		}
		sb.WriteString("\n\n")
	}

	if m.toolNote != "" {
		sb.WriteString(toolStyle.Render(m.toolNote))
		sb.WriteString("\n")
	}
	if m.err != nil {
		sb.WriteString(errorStyle.Render(m.err.Error()))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m model) View() string {
	if !m.ready {
		return "Loading..."
	}

	status := ""
	if m.streaming {
		status = m.spin.View() + statusStyle.Render(" streaming, esc to stop")
	}

	return m.viewport.View() + "\n" + status + "\n" + m.input.View()
}
