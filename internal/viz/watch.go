package viz

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"github.com/san-kum/probbvp/internal/experiment"
	"github.com/san-kum/probbvp/internal/solver"
)

// Source is what the watch pulls from; *solver.Generator satisfies it.
type Source interface {
	Next(ctx context.Context) bool
	Result() solver.Result
	Err() error
}

type resultMsg struct{ res solver.Result }

type doneMsg struct{ err error }

// Watch follows an adaptive solve one yielded result at a time. The solve
// advances only when the model asks for the next value, so pausing the view
// pauses the solver.
type Watch struct {
	ctx     context.Context
	src     Source
	problem string

	last     solver.Result
	rounds   []experiment.RoundSummary
	yields   int
	inflight bool
	paused   bool
	done     bool
	err      error
	width    int
}

func NewWatch(ctx context.Context, problem string, src Source) Watch {
	return Watch{ctx: ctx, src: src, problem: problem, width: plotWidth, inflight: true}
}

func (m Watch) next() tea.Cmd {
	ctx, src := m.ctx, m.src
	return func() tea.Msg {
		if src.Next(ctx) {
			return resultMsg{res: src.Result()}
		}
		return doneMsg{err: src.Err()}
	}
}

func (m Watch) Init() tea.Cmd {
	return m.next()
}

func (m Watch) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ":
			m.paused = !m.paused
			if !m.paused && !m.done && !m.inflight {
				m.inflight = true
				return m, m.next()
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case resultMsg:
		m.inflight = false
		m.last = msg.res
		m.yields++
		if msg.res.EndOfRound {
			m.rounds = append(m.rounds, experiment.Summarise(msg.res))
		}
		if !m.paused {
			m.inflight = true
			return m, m.next()
		}
	case doneMsg:
		m.inflight = false
		m.done = true
		m.err = msg.err
	}
	return m, nil
}

func (m Watch) Done() bool { return m.done }

func (m Watch) Err() error { return m.err }

func (m Watch) Last() solver.Result { return m.last }

func (m Watch) Rounds() []experiment.RoundSummary { return m.rounds }

func (m Watch) status() string {
	switch {
	case m.done && m.err != nil:
		return StatusFailed.Render("failed: " + m.err.Error())
	case m.done:
		return StatusRunning.Render("converged")
	case m.paused:
		return StatusPaused.Render("paused")
	default:
		return StatusRunning.Render(AnimatedSpinner(m.yields) + " solving")
	}
}

func metric(label string, value interface{}) string {
	return MetricLabel.Render(label+" ") + MetricValue.Render(fmt.Sprint(value))
}

func (m Watch) View() string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render("probbvp · " + m.problem))
	b.WriteString("\n")
	b.WriteString(m.status())
	b.WriteString("\n\n")

	res := m.last
	if res.Posterior != nil {
		stats := []string{
			metric("round", res.Round),
			metric("ieks", res.IEKSIteration),
			metric("mesh", len(res.Mesh)),
			metric("σ²", fmt.Sprintf("%.3e", res.SigmaSquared)),
		}
		b.WriteString(strings.Join(stats, "   "))
		b.WriteString("\n")

		if len(res.Accepted) > 0 {
			ok := lo.Count(res.Accepted, true)
			frac := float64(ok) / float64(len(res.Accepted))
			b.WriteString(MetricLabel.Render("accepted "))
			b.WriteString(ProgressBar(frac, 30))
			b.WriteString(fmt.Sprintf(" %d/%d  max err %.3e\n", ok, len(res.Accepted), res.MaxError()))
		}
	}

	if len(m.rounds) > 0 {
		b.WriteString(MetricLabel.Render("log10 error "))
		b.WriteString(Sparkline(logErrors(m.rounds), 40))
		b.WriteString("\n")
	}

	if plot := solutionPlot(res); plot != "" {
		b.WriteString("\n")
		b.WriteString(Panel.Render(plot))
		b.WriteString("\n")
	}

	b.WriteString(Separator(lo.Clamp(m.width, 20, plotWidth)))
	b.WriteString("\n")
	b.WriteString(KeyHint.Render("space pause/resume · q quit"))
	return lipgloss.NewStyle().MaxWidth(lo.Max([]int{m.width, plotWidth + 20})).Render(b.String())
}

// solutionPlot draws the first coordinate of res at its mesh points with the
// calibrated band.
func solutionPlot(res solver.Result) string {
	if res.Posterior == nil || len(res.Mesh) == 0 {
		return ""
	}
	means, stds := experiment.Band(res.Posterior, res.Mesh, res.SigmaSquared)
	return Solution(res.Mesh, means, stds, 0)
}
