package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/packmule/packmule/pkg/mirror"
)

// eventMsg carries one pipeline progress event into the TUI.
type eventMsg mirror.Event

// doneMsg signals that the event stream closed.
type doneMsg struct{}

// mirrorModel renders live pipeline progress: the current stage, a
// completion bar, the package that settled last, and a failure count.
type mirrorModel struct {
	events <-chan mirror.Event

	stage    mirror.Stage
	fraction float64
	current  string
	failures int
	width    int
}

func newMirrorModel(events <-chan mirror.Event) mirrorModel {
	return mirrorModel{events: events, width: 40}
}

func waitForEvent(ch <-chan mirror.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return doneMsg{}
		}
		return eventMsg(e)
	}
}

func (m mirrorModel) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func (m mirrorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width - 30
		if m.width < 10 {
			m.width = 10
		}
	case eventMsg:
		if msg.Stage != m.stage {
			m.stage = msg.Stage
			m.fraction = 0
		}
		if msg.Fraction > m.fraction {
			m.fraction = msg.Fraction
		}
		if msg.Name != "" {
			m.current = msg.Name + "@" + msg.Version
		}
		if msg.Err != nil {
			m.failures++
		}
		return m, waitForEvent(m.events)
	case doneMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m mirrorModel) View() string {
	if m.stage == "" {
		return StyleDim.Render("starting…") + "\n"
	}

	filled := min(int(m.fraction*float64(m.width)), m.width)
	bar := styleBar.Render(strings.Repeat("█", filled)) +
		StyleDim.Render(strings.Repeat("░", m.width-filled))

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s %3.0f%%",
		StyleTitle.Render(stageLabel(m.stage)), bar, m.fraction*100))
	if m.current != "" {
		b.WriteString("  " + StyleDim.Render(m.current))
	}
	if m.failures > 0 {
		b.WriteString("  " + StyleWarning.Render(fmt.Sprintf("%d failed", m.failures)))
	}
	b.WriteString("\n")
	return b.String()
}

func stageLabel(s mirror.Stage) string {
	switch s {
	case mirror.StageSeed:
		return "Seeding   "
	case mirror.StageResolve:
		return "Resolving "
	case mirror.StageDownload:
		return "Downloading"
	}
	return string(s)
}

// runMirrorTUI drives the progress display until the event channel
// closes. It blocks the calling goroutine.
func runMirrorTUI(events <-chan mirror.Event) error {
	_, err := tea.NewProgram(newMirrorModel(events)).Run()
	return err
}
