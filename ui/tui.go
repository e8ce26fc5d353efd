package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// UIState represents the aggregated state for the TUI
type UIState struct {
	Batches        []BatchStatus
	CompletedFiles int64
	FailedFiles    int64
	CompletedBytes int64
	Reconnects     int
	ActiveWorkers  int
	MaxWorkers     int
	ThroughputBPms float64 // bytes per millisecond
	Elapsed        time.Duration
	IsRunning      bool
	Done           bool
}

// Finished returns how many batches have ended, successfully or not.
func (s UIState) Finished() int {
	n := 0
	for _, b := range s.Batches {
		if b.Phase == BatchSucceeded || b.Phase == BatchFailed {
			n++
		}
	}
	return n
}

// TUIModel implements the tea.Model interface
type TUIModel struct {
	engineState UIState
	onWorkers   func(delta int)
	spinner     spinner.Model
	progress    progress.Model
	viewport    viewport.Model

	width  int
	height int

	// Styles
	titleStyle   lipgloss.Style
	infoStyle    lipgloss.Style
	batchStyle   lipgloss.Style
	helpStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
}

// TUIUpdateMsg is sent periodically to update the UI state
type TUIUpdateMsg struct {
	State UIState
}

// WorkerCountMsg is sent when modifying the worker count
type WorkerCountMsg int

// NewTUIModel creates the model. onWorkers, when set, is called with +1 or -1
// when the user resizes the worker pool.
func NewTUIModel(initialState UIState, onWorkers func(delta int)) TUIModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	prog := progress.New(progress.WithDefaultGradient())

	return TUIModel{
		engineState:  initialState,
		onWorkers:    onWorkers,
		spinner:      s,
		progress:     prog,
		titleStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		batchStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		helpStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	}
}

func (m TUIModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
	)
}

func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.engineState.IsRunning = false
			return m, tea.Quit
		case "+", "=":
			return m, func() tea.Msg { return WorkerCountMsg(1) }
		case "-":
			return m, func() tea.Msg { return WorkerCountMsg(-1) }
		}

	case WorkerCountMsg:
		if m.onWorkers != nil {
			m.onWorkers(int(msg))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 14

		headerHeight := 5
		footerHeight := 2
		m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)

	case TUIUpdateMsg:
		m.engineState = msg.State

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m TUIModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sb strings.Builder
	st := m.engineState

	header := fmt.Sprintf("%s ftpxfer %s", m.spinner.View(), m.titleStyle.Render("Batch File Transfers"))
	sb.WriteString(header + "\n")

	total := len(st.Batches)
	finished := st.Finished()
	var percent float64
	if total > 0 {
		percent = float64(finished) / float64(total)
	}

	opsInfo := fmt.Sprintf("ETA: %s | Workers: %d/%d | Batches: %d/%d | Files: %d ok, %d failed | %s",
		formatETA(finished, total, st.Elapsed),
		st.ActiveWorkers, st.MaxWorkers,
		finished, total,
		st.CompletedFiles, st.FailedFiles,
		formatSpeed(st.ThroughputBPms*1000))
	if st.Reconnects > 0 {
		opsInfo += fmt.Sprintf(" | Reconnects: %d", st.Reconnects)
	}

	sb.WriteString(m.infoStyle.Render(opsInfo) + "\n")
	sb.WriteString(m.progress.ViewAs(percent) + "\n\n")

	sb.WriteString("Batches:\n")
	var content strings.Builder

	if total == 0 {
		content.WriteString(m.infoStyle.Render("No batches queued..."))
	} else {
		for _, b := range st.Batches {
			content.WriteString(m.batchLine(b) + "\n")
		}
	}

	m.viewport.SetContent(content.String())
	sb.WriteString(m.viewport.View())

	help := m.helpStyle.Render("q/ctrl+c: quit • +/-: adjust workers")
	if st.Done {
		help = m.successStyle.Render("All batches finished!") + " Press 'q' to exit."
	}
	sb.WriteString("\n" + help)

	return sb.String()
}

// Format: [running ] nightly-orders  upload    3 ok 0 failed | message
func (m TUIModel) batchLine(b BatchStatus) string {
	phase := fmt.Sprintf("[%-7s]", b.Phase)
	switch b.Phase {
	case BatchFailed:
		phase = m.errorStyle.Render(phase)
	case BatchSucceeded:
		phase = m.successStyle.Render(phase)
	case BatchRunning:
		phase = m.batchStyle.Render(phase)
	}

	line := fmt.Sprintf("%s %-20s %-8s %3d ok %3d failed", phase, truncate(b.Name, 20), b.Direction, b.Transferred, b.Failed)
	if b.Message != "" {
		msg, _, _ := strings.Cut(b.Message, "\n")
		line += " | " + truncate(msg, 40)
	}
	return line
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-(n-3):]
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec >= 1024*1024*1024 {
		return fmt.Sprintf("%.2f GB/s", bytesPerSec/(1024*1024*1024))
	} else if bytesPerSec >= 1024*1024 {
		return fmt.Sprintf("%.2f MB/s", bytesPerSec/(1024*1024))
	} else if bytesPerSec >= 1024 {
		return fmt.Sprintf("%.2f KB/s", bytesPerSec/1024)
	}
	return fmt.Sprintf("%.0f B/s", bytesPerSec)
}

// formatETA extrapolates the remaining time from the average batch duration.
func formatETA(finished, total int, elapsed time.Duration) string {
	if finished == 0 || total == 0 || elapsed <= 0 {
		return "Calculating..."
	}

	remaining := total - finished
	if remaining <= 0 {
		return "0s"
	}

	d := elapsed / time.Duration(finished) * time.Duration(remaining)

	if d.Hours() > 24 {
		return "> 1d"
	}

	return d.Round(time.Second).String()
}
