package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// stopTimeout bounds how long Stop waits for the program to exit.
const stopTimeout = 2 * time.Second

// TUIRenderer draws an animated progress panel with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	program *tea.Program
	model   *loadModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails when out is not a
// terminal.
func NewTUIRenderer(out io.Writer, noColor bool) (*TUIRenderer, error) {
	if !IsTTY(out) {
		return nil, errors.New("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newLoadModel(tracker)
	if noColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		out:     out,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements ProgressRenderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	ctx, r.cancel = context.WithCancel(ctx)

	r.program = tea.NewProgram(r.model,
		tea.WithOutput(r.out),
		tea.WithInput(nil),
		tea.WithContext(ctx),
		tea.WithoutSignalHandler())
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements ProgressRenderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.tracker.Stage() {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.Message)
}

// Complete implements ProgressRenderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements ProgressRenderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()

	if program == nil {
		return nil
	}
	program.Quit()
	select {
	case <-r.done:
	case <-time.After(stopTimeout):
	}
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

type completeMsg CompletionStats
type tickMsg time.Time

// loadModel is the bubbletea model of the progress panel. It reads the
// tracker on every tick instead of receiving each update as a message.
type loadModel struct {
	tracker     *ProgressTracker
	width       int
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
}

func newLoadModel(tracker *ProgressTracker) *loadModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	return &loadModel{
		tracker: tracker,
		spinner: s,
		progressBar: progress.New(
			progress.WithSolidFill(ColorLime),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		styles: DefaultStyles(),
		width:  80,
	}
}

// Init implements tea.Model.
func (m *loadModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *loadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = max(msg.Width-30, 20)

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *loadModel) View() string {
	if m.complete {
		return m.renderComplete()
	}

	sections := []string{
		m.styles.Header.Render("Appointment import"),
		m.renderStages(),
		m.renderProgress(),
		m.renderSpeed(),
	}
	return strings.Join(sections, "\n") + "\n"
}

func (m *loadModel) renderStages() string {
	current := m.tracker.Stage()

	var parts []string
	for _, s := range []Stage{StageImport, StageIndex} {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Header.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *loadModel) renderProgress() string {
	stats := m.tracker.Stats()
	if stats.Total == 0 {
		return m.styles.Dim.Render("Preparing...")
	}

	bar := m.progressBar.ViewAs(stats.Progress)
	pct := m.styles.Header.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
	count := m.styles.Label.Render(fmt.Sprintf("%d / %d appointments", stats.Current, stats.Total))
	return fmt.Sprintf("%s  %s\n%s", bar, pct, count)
}

func (m *loadModel) renderSpeed() string {
	stats := m.tracker.Stats()

	line := fmt.Sprintf("Speed: %.0f/s", stats.Speed.Current)
	if stats.Speed.Avg > 0 {
		line += fmt.Sprintf(" (avg: %.0f, peak: %.0f)", stats.Speed.Avg, stats.Speed.Peak)
	}
	if stats.ETA > 0 {
		line += "  •  ETA: " + formatDuration(stats.ETA)
	}
	return m.styles.Label.Render(line)
}

func (m *loadModel) renderComplete() string {
	lines := []string{
		m.styles.Success.Render("✓ Import complete"),
		fmt.Sprintf("%s %d created, %d updated, %d deleted",
			m.styles.Label.Render("Appointments:"), m.stats.Created, m.stats.Updated, m.stats.Deleted),
		fmt.Sprintf("%s %d", m.styles.Label.Render("Indexed:     "), m.stats.Indexed),
		fmt.Sprintf("%s %s", m.styles.Label.Render("Duration:    "), formatDuration(m.stats.Duration)),
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorLime)).
		Padding(0, 1).
		Width(max(m.width-4, 40))
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats d as "12s", "3m 4s" or "1h 2m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

var _ ProgressRenderer = (*TUIRenderer)(nil)
var _ ProgressRenderer = (*PlainRenderer)(nil)
