package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/san-kum/rdspiral/internal/metrics"
	"github.com/san-kum/rdspiral/internal/sim"
)

type statusMsg sim.Status

type doneMsg struct {
	res *sim.Result
	err error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForStatus(ch <-chan sim.Status) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return nil
		}
		return statusMsg(st)
	}
}

// ProgressModel shows a running simulation: progress, step counters and
// a sparkline of pattern intensity. q or ctrl+c cancels the run.
type ProgressModel struct {
	name    string
	updates <-chan sim.Status
	cancel  context.CancelFunc

	status    sim.Status
	intensity []float64
	lastT     float64
	started   time.Time
	frame     int
	width     int

	res *sim.Result
	err error
}

func NewProgressModel(name string, updates <-chan sim.Status, cancel context.CancelFunc) ProgressModel {
	return ProgressModel{name: name, updates: updates, cancel: cancel, started: time.Now(), width: 80}
}

func (m ProgressModel) Init() tea.Cmd {
	return tea.Batch(waitForStatus(m.updates), tick())
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tickMsg:
		m.frame++
		return m, tick()
	case statusMsg:
		m.status = sim.Status(msg)
		if len(m.intensity) == 0 || msg.Sample.Time > m.lastT {
			m.intensity = append(m.intensity, msg.Sample.Intensity())
			m.lastT = msg.Sample.Time
		}
		return m, waitForStatus(m.updates)
	case doneMsg:
		m.res, m.err = msg.res, msg.err
		return m, tea.Quit
	}
	return m, nil
}

func verdictStyle(v metrics.Verdict) string {
	s := v.String()
	switch v.Kind {
	case metrics.Equilibrium:
		return VerdictEquilibrium.Render(s)
	case metrics.Decayed:
		return VerdictDecayed.Render(s)
	case metrics.Diverged:
		return VerdictDiverged.Render(s)
	}
	return VerdictEvolving.Render(s)
}

func (m ProgressModel) View() string {
	w := min(max(m.width-8, 20), 72)
	st := m.status

	var b strings.Builder
	b.WriteString(Title.Render(AnimatedSpinner(m.frame)+" "+m.name) + "\n\n")
	b.WriteString(ProgressBar(st.Fraction, w-8) + fmt.Sprintf(" %5.1f%%\n\n", 100*st.Fraction))

	row := func(label, value string) {
		b.WriteString(MetricLabel.Render(fmt.Sprintf("%-12s", label)) + MetricValue.Render(value) + "\n")
	}
	row("time", fmt.Sprintf("%.3f", st.T))
	row("steps", fmt.Sprintf("%s accepted, %s rejected", humanize.Comma(int64(st.Accepted)), humanize.Comma(int64(st.Rejected))))
	row("rate", fmt.Sprintf("%.3g t/s", st.Rate))
	row("intensity", fmt.Sprintf("%.4g", st.Sample.Intensity()))
	row("mean", fmt.Sprintf("u %+.4f  v %+.4f", st.Sample.UMean, st.Sample.VMean))
	row("elapsed", humanize.RelTime(m.started, time.Now(), "", ""))
	b.WriteString(MetricLabel.Render(fmt.Sprintf("%-12s", "regime")) + verdictStyle(st.Verdict) + "\n\n")

	b.WriteString(Sparkline(m.intensity, w) + "\n")
	b.WriteString(Separator(w) + "\n")
	b.WriteString(KeyHint.Render("q: stop run"))
	return Panel.Render(b.String()) + "\n"
}

// RunWithProgress runs fn while displaying s's progress, and returns fn's
// result once it finishes. Quitting the display cancels ctx for fn.
func RunWithProgress(ctx context.Context, name string, s *sim.Simulator, fn func(ctx context.Context) (*sim.Result, error)) (*sim.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewProgressModel(name, s.Updates(), cancel))
	go func() {
		res, err := fn(ctx)
		p.Send(doneMsg{res: res, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		cancel()
		return nil, err
	}
	m := final.(ProgressModel)
	return m.res, m.err
}
