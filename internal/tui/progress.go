// Package tui renders agentpkg's interactive terminal output.
package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/barysiuk/agentpkg/internal/core"
)

// stageLabels maps pipeline stages to the text shown while they run.
var stageLabels = map[core.Stage]string{
	core.StageDigest:    "Hashing archive",
	core.StageExtract:   "Extracting",
	core.StageClone:     "Cloning repository",
	core.StageValidate:  "Validating manifest",
	core.StagePlace:     "Placing version",
	core.StageProvision: "Provisioning environment",
	core.StageActivate:  "Activating",
}

type stageMsg core.Progress

type doneMsg struct {
	result *core.InstallResult
	err    error
}

// progressModel shows finished stages with a check mark and the running one
// behind a spinner.
type progressModel struct {
	title   string
	spinner spinner.Model
	done    []string
	current string
	agent   string
	ref     string

	result *core.InstallResult
	err    error
	quit   bool

	cancel context.CancelFunc
}

func newProgressModel(title string, cancel context.CancelFunc) progressModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(spinnerStyle),
	)
	return progressModel{title: title, spinner: s, cancel: cancel}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stageMsg:
		if msg.AgentID != "" {
			m.agent = msg.AgentID
		}
		if msg.Ref != "" {
			m.ref = msg.Ref
		}
		if m.current != "" {
			m.done = append(m.done, m.current)
		}
		m.current = stageLabels[msg.Stage]
		return m, nil

	case doneMsg:
		if m.current != "" && msg.err == nil {
			m.done = append(m.done, m.current)
		}
		m.result, m.err, m.quit = msg.result, msg.err, true
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" && m.cancel != nil {
			m.cancel()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	if m.agent != "" {
		b.WriteString(" ")
		b.WriteString(normalItemStyle.Render(m.agent))
	}
	b.WriteString("\n")

	for _, label := range m.done {
		b.WriteString("  ")
		b.WriteString(doneStyle.Render("✓"))
		b.WriteString(" ")
		b.WriteString(mutedStyle.Render(label))
		b.WriteString("\n")
	}

	switch {
	case m.quit && m.err != nil:
		b.WriteString("  ")
		b.WriteString(errorStyle.Render("✗ " + m.current))
		b.WriteString("\n")
	case m.quit && m.result != nil:
		b.WriteString("  ")
		b.WriteString(doneStyle.Render(fmt.Sprintf("Installed %s", m.result.AgentID)))
		b.WriteString(" ")
		b.WriteString(refStyle.Render(shortRef(m.result.VersionRef)))
		b.WriteString("\n")
	case m.current != "":
		b.WriteString("  ")
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(normalItemStyle.Render(m.current))
		if m.ref != "" {
			b.WriteString(" ")
			b.WriteString(mutedStyle.Render(shortRef(m.ref)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Progress drives an install while rendering its stages.
type Progress struct {
	title string
	out   io.Writer
	in    io.Reader

	mu      sync.Mutex
	program *tea.Program
	pending []core.Progress
}

// NewProgress creates a renderer writing to out.
func NewProgress(title string, out io.Writer) *Progress {
	return &Progress{title: title, out: out, in: os.Stdin}
}

// Observe forwards a stage transition to the running program. It is safe to
// pass as a core.Observer before Run starts.
func (p *Progress) Observe(pr core.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.program == nil {
		p.pending = append(p.pending, pr)
		return
	}
	p.program.Send(stageMsg(pr))
}

// Run executes install while the progress view is shown. Interrupting the
// view cancels the context passed to install; Run still returns only after
// install does.
func (p *Progress) Run(ctx context.Context, install func(context.Context) (*core.InstallResult, error)) (*core.InstallResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(newProgressModel(p.title, cancel),
		tea.WithOutput(p.out), tea.WithInput(p.in), tea.WithContext(ctx), tea.WithoutSignalHandler())

	p.mu.Lock()
	p.program = program
	if pending := p.pending; len(pending) > 0 {
		go func() {
			for _, pr := range pending {
				program.Send(stageMsg(pr))
			}
		}()
	}
	p.pending = nil
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		res, err := install(ctx)
		program.Send(doneMsg{result: res, err: err})
	}()

	final, runErr := program.Run()
	cancel()
	<-finished
	m, ok := final.(progressModel)
	if !ok || !m.quit {
		if runErr == nil {
			runErr = ctx.Err()
		}
		return nil, fmt.Errorf("install interrupted: %w", runErr)
	}
	return m.result, m.err
}

func shortRef(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}
