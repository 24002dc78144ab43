package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasmld/linker"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	matchStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// viewerModel shows the text link map in a scrollable pane with a line
// filter.
type viewerModel struct {
	filename string
	lines    []string
	view     viewport.Model
	filter   textinput.Model
	ready    bool
}

func newViewerModel(filename string, m *linker.Map) *viewerModel {
	var b strings.Builder
	_, _ = m.WriteTo(&b)

	ti := textinput.New()
	ti.Prompt = "/ "
	ti.Placeholder = "filter"
	ti.Width = 40

	return &viewerModel{
		filename: filename,
		lines:    strings.Split(strings.TrimRight(b.String(), "\n"), "\n"),
		filter:   ti,
	}
}

func (m *viewerModel) Init() tea.Cmd {
	return nil
}

// content returns the map lines containing the filter text.
func (m *viewerModel) content() string {
	q := m.filter.Value()
	if q == "" {
		return strings.Join(m.lines, "\n")
	}
	var out []string
	for _, line := range m.lines {
		if strings.Contains(line, q) {
			out = append(out, matchStyle.Render(line))
		}
	}
	return strings.Join(out, "\n")
}

func (m *viewerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "q":
			if !m.filter.Focused() {
				return m, tea.Quit
			}
		case "/":
			if !m.filter.Focused() {
				return m, m.filter.Focus()
			}
		case "esc":
			if m.filter.Focused() {
				m.filter.Blur()
				m.filter.SetValue("")
				m.view.SetContent(m.content())
				return m, nil
			}
		case "enter":
			m.filter.Blur()
			return m, nil
		}

	case tea.WindowSizeMsg:
		height := msg.Height - 4
		if !m.ready {
			m.view = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.view.Width = msg.Width
			m.view.Height = height
		}
		m.view.SetContent(m.content())
	}

	if m.filter.Focused() {
		before := m.filter.Value()
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		cmds = append(cmds, cmd)
		if m.filter.Value() != before {
			m.view.SetContent(m.content())
			m.view.GotoTop()
		}
		return m, tea.Batch(cmds...)
	}

	var cmd tea.Cmd
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *viewerModel) View() string {
	if !m.ready {
		return "Loading map..."
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("wasmld map"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n")
	b.WriteString(m.view.View())
	b.WriteString("\n")
	b.WriteString(m.filter.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ scroll • / filter • esc clear • q quit"))
	return b.String()
}

func runViewer(filename string, m *linker.Map) error {
	p := tea.NewProgram(newViewerModel(filename, m), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
