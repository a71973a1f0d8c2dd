package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-bridge/gfx"
	"github.com/wippyai/wasm-bridge/runtime"
)

const (
	refreshInterval = 250 * time.Millisecond
	// specialKeyBase offsets non-character keys so they never collide with
	// a code point.
	specialKeyBase = 0x110000
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB")).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

type monitorModel struct {
	path    string
	rt      *runtime.Runtime
	primary *runtime.Context
	dev     *gfx.Headless
	spinner spinner.Model

	stats    runtime.Stats
	gfx      gfx.Stats
	contexts int
	lastKey  string
	width    int
	height   int
	started  time.Time
	done     bool
	err      error
}

type statsMsg time.Time

type loopDoneMsg struct {
	err error
}

func newMonitorModel(path string, rt *runtime.Runtime, primary *runtime.Context, dev *gfx.Headless) *monitorModel {
	return &monitorModel{
		path:    path,
		rt:      rt,
		primary: primary,
		dev:     dev,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		started: time.Now(),
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return statsMsg(t) })
}

func (m *monitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, refresh())
}

func (m *monitorModel) sample() {
	m.stats = m.primary.Stats()
	m.gfx = m.dev.Stats()
	m.contexts = m.rt.Contexts()
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		}
		for _, code := range keyCodes(msg) {
			m.primary.Post(runtime.InputEvent{Kind: runtime.InputKey, Code: code})
		}
		m.lastKey = msg.String()

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.primary.Post(runtime.InputEvent{
			Kind: runtime.InputResize,
			X:    float64(msg.Width),
			Y:    float64(msg.Height),
		})

	case statsMsg:
		m.sample()
		if m.done {
			return m, nil
		}
		return m, refresh()

	case loopDoneMsg:
		m.sample()
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// keyCodes maps a key press to input codes: characters by code point, other
// keys offset by specialKeyBase.
func keyCodes(k tea.KeyMsg) []uint32 {
	if k.Type == tea.KeyRunes {
		codes := make([]uint32, len(k.Runes))
		for i, r := range k.Runes {
			codes[i] = uint32(r)
		}
		return codes
	}
	if k.Type >= 0 {
		return []uint32{uint32(k.Type)}
	}
	return []uint32{specialKeyBase + uint32(-k.Type)}
}

func (m *monitorModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("wasm-bridge"))
	b.WriteString(" ")
	b.WriteString(m.path)
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(warnStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	case m.done:
		b.WriteString("finished")
	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" running ")
		b.WriteString(helpStyle.Render(time.Since(m.started).Round(time.Second).String()))
	}
	b.WriteString("\n\n")

	row := func(label string, v any) string {
		return labelStyle.Render(label) + valueStyle.Render(fmt.Sprint(v)) + "\n"
	}
	var p strings.Builder
	p.WriteString(row("contexts", m.contexts))
	p.WriteString(row("spawned", m.stats.Spawned))
	p.WriteString(row("frames", m.stats.Frames))
	p.WriteString(row("inputs", m.stats.Inputs))
	p.WriteString(row("futures pending", m.stats.Pending))
	p.WriteString(row("futures settled", fmt.Sprintf("%d/%d", m.stats.FuturesSettled, m.stats.FuturesStarted)))
	p.WriteString(row("draws", m.gfx.Draws))
	p.WriteString(row("vertices", m.gfx.Vertices))
	p.WriteString(row("uploaded", humanBytes(m.gfx.UploadedBytes)))
	p.WriteString(row("live buffers", m.gfx.LiveBuffers))
	p.WriteString(row("live textures", m.gfx.LiveTextures))
	b.WriteString(panelStyle.Render(strings.TrimSuffix(p.String(), "\n")))
	b.WriteString("\n\n")

	if m.lastKey != "" {
		b.WriteString(helpStyle.Render("last key sent: " + m.lastKey))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("keys are sent to the module • esc/ctrl+c quit"))
	return b.String()
}

// runMonitor drives the primary event loop under a live stats view.
func runMonitor(ctx context.Context, path string, rt *runtime.Runtime, primary *runtime.Context, dev *gfx.Headless) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newMonitorModel(path, rt, primary, dev), tea.WithAltScreen())
	loop := make(chan error, 1)
	go func() {
		err := primary.Run(ctx)
		loop <- err
		p.Send(loopDoneMsg{err: err})
	}()

	_, uiErr := p.Run()
	cancel()
	err := <-loop
	if err == nil || stderrors.Is(err, context.Canceled) {
		return uiErr
	}
	return err
}
