package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/spx/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ImportView ViewState = iota
	ResultView
)

// maxEvents is how many batch and commit messages stay on screen.
const maxEvents = 6

// ImportFunc runs an import, reporting on the given channel.
type ImportFunc func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*tasks.ReconcileResult, error)

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	cancel       context.CancelFunc
	view         ViewState
	run          ImportFunc
	progressChan chan tasks.ProgressUpdate
	done         chan struct{}
	outcome      importComplete
	file         tasks.ProgressUpdate
	records      tasks.ProgressUpdate
	events       []tasks.ProgressUpdate
	bar          progress.Model
	spinner      spinner.Model
	result       *tasks.ReconcileResult
	err          error
	help         help.Model
	keys         keyMap
}

// NewModel creates a TUI model that starts run when initialized.
func NewModel(ctx context.Context, run ImportFunc) *Model {
	ctx, cancel := context.WithCancel(ctx)
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.ok

	return &Model{
		ctx:     ctx,
		cancel:  cancel,
		view:    ImportView,
		run:     run,
		bar:     progress.New(progress.WithDefaultGradient()),
		spinner: sp,
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Init starts the import and the spinner.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startImport())
}

// Cancel stops a running import.
func (m *Model) Cancel() {
	m.cancel()
}

// Result waits for a started import to return and reports its outcome.
func (m *Model) Result() (*tasks.ReconcileResult, error) {
	if m.done == nil {
		return m.result, m.err
	}
	<-m.done
	return m.outcome.result, m.outcome.err
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(msg.Width-8, 10)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.cancel):
			m.cancel()
			if m.view == ResultView {
				return m, tea.Quit
			}
			return m, nil
		case key.Matches(msg, m.keys.quit) && m.view == ResultView:
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if m.view != ImportView {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd

	case Msg:
		switch msg.kind {
		case MsgProgressUpdate:
			cmd := m.apply(msg.data.(tasks.ProgressUpdate))
			return m, tea.Batch(cmd, m.waitForProgress())
		case MsgImportComplete:
			done := msg.data.(importComplete)
			m.result = done.result
			m.err = done.err
			m.view = ResultView
			return m, nil
		}
	}

	return m, nil
}

func (m *Model) apply(u tasks.ProgressUpdate) tea.Cmd {
	switch u.Phase {
	case tasks.ReadFile:
		m.file = u
		m.records = tasks.ProgressUpdate{}
		return m.bar.SetPercent(0)
	case tasks.ProcessRecords:
		m.records = u
		if u.Total > 0 {
			return m.bar.SetPercent(float64(u.Step) / float64(u.Total))
		}
	case tasks.Lookup, tasks.CommitBatch:
		m.events = append(m.events, u)
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
	}
	return nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case ImportView:
		return m.renderImport()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) startImport() tea.Cmd {
	m.progressChan = make(chan tasks.ProgressUpdate, 50)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		result, err := m.run(m.ctx, m.progressChan)
		m.outcome = importComplete{result: result, err: err}
		close(m.progressChan)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	return func() tea.Msg {
		update, ok := <-m.progressChan
		if !ok {
			<-m.done
			return importCompleteMsg(m.outcome.result, m.outcome.err)
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) renderImport() string {
	var b strings.Builder
	b.WriteString(styles.title.Render("Importing streaming history"))
	b.WriteString("\n")

	if m.file.Message != "" {
		fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), m.file.Message)
	} else {
		fmt.Fprintf(&b, "%s Preparing...\n", m.spinner.View())
	}
	fmt.Fprintf(&b, "%s\n", m.bar.View())
	if m.records.Message != "" {
		fmt.Fprintf(&b, "%s\n", styles.help.Render(m.records.Message))
	}

	if len(m.events) > 0 {
		b.WriteString("\n")
		for _, e := range m.events {
			fmt.Fprintf(&b, "  %s\n", styles.event(e).Render(e.Message))
		}
	}

	fmt.Fprintf(&b, "\n%s", m.help.ShortHelpView([]key.Binding{m.keys.cancel}))
	return b.String()
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.quit})

	if m.result == nil {
		return styles.err.Render(fmt.Sprintf("Import failed: %v", m.err)) + "\n\n" + helpView
	}

	var b strings.Builder
	if m.err != nil {
		b.WriteString(styles.warn.Render(fmt.Sprintf("Import stopped: %v", m.err)))
	} else {
		b.WriteString(styles.ok.Render("✓ Import complete"))
	}
	b.WriteString("\n\n")

	res := m.result
	rows := []struct {
		label string
		value int
		loss  bool
	}{
		{"Files", res.Files, false},
		{"Records", res.Records, false},
		{"Inserted", res.Inserted, false},
		{"New tracks", res.TracksCreated, false},
		{"Duplicates", res.SkippedDuplicate, false},
		{"Local / invalid", res.SkippedLocal + res.SkippedInvalid, false},
		{"Not found", res.NotFound, false},
		{"Abandoned", res.Abandoned, true},
		{"Rolled back", res.RolledBack, true},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "%s%s\n", styles.label.Render(r.label), styles.count(r.value, r.loss))
	}
	fmt.Fprintf(&b, "%s%s\n", styles.label.Render("Duration"), res.Duration.Round(time.Millisecond))

	return b.String() + "\n" + helpView
}
