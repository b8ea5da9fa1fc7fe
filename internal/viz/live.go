package viz

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/mpc"
	"github.com/san-kum/dynopt/internal/ocp"
)

// DefaultFPS is the frame rate of the live view.
const DefaultFPS = 30

const (
	canvasWidth    = 48
	canvasHeight   = 16
	historyLimit   = 240
	chartWidth     = 36
	chartHeight    = 5
	displayedState = 6
)

// FrameMsg carries one plant sample.
type FrameMsg struct {
	T float64
	X dynamo.State
	U dynamo.Control
}

// SolveMsg summarizes a published MPC solution.
type SolveMsg struct {
	T          float64
	Merit      float64
	Iterations int
	Status     ocp.Status
}

// DoneMsg ends the closed loop.
type DoneMsg struct {
	Result *mpc.Result
	Err    error
}

// Feed forwards closed-loop samples and solutions to a running program. It
// implements dynamo.Observer; Solution fits mpc.WithCallback.
type Feed struct {
	send  func(tea.Msg)
	every time.Duration
	speed float64

	started bool
	wall0   time.Time
	sim0    float64
	last    time.Time
}

// NewFeed sends at most fps frames per second. With speed > 0 the plant is
// slowed so simulated time advances speed times faster than wall time.
func NewFeed(send func(tea.Msg), fps int, speed float64) *Feed {
	f := &Feed{send: send, speed: speed}
	if fps > 0 {
		f.every = time.Second / time.Duration(fps)
	}
	return f
}

func (f *Feed) OnStep(x dynamo.State, u dynamo.Control, t float64) {
	now := time.Now()
	if !f.started {
		f.started, f.wall0, f.sim0 = true, now, t
	}
	if f.speed > 0 {
		due := f.wall0.Add(time.Duration((t - f.sim0) / f.speed * float64(time.Second)))
		if wait := due.Sub(now); wait > 0 {
			time.Sleep(wait)
			now = due
		}
	}
	if !f.last.IsZero() && now.Sub(f.last) < f.every {
		return
	}
	f.last = now
	f.send(FrameMsg{T: t, X: x.Clone(), U: u.Clone()})
}

func (f *Feed) Solution(sol ocp.PrimalSolution) {
	msg := SolveMsg{Merit: sol.Performance.Merit, Iterations: sol.Iterations, Status: sol.Status}
	if sol.Trajectory.Len() > 0 {
		msg.T = sol.Trajectory.Times[0]
	}
	f.send(msg)
}

// LiveModel is the bubbletea view of a running MPC loop.
type LiveModel struct {
	scenario string
	scene    Scene
	canvas   *Canvas
	theme    Theme
	styles   Styles
	cancel   context.CancelFunc

	frame     FrameMsg
	hasFrame  bool
	merits    []float64
	norms     []float64
	solves    int
	lastSolve SolveMsg
	done      bool
	result    *mpc.Result
	err       error

	showNorm bool
	showHelp bool
}

// NewLiveModel builds the view. cancel stops the loop when the user quits.
func NewLiveModel(scenario string, cancel context.CancelFunc) LiveModel {
	theme := Themes[0]
	return LiveModel{
		scenario: scenario,
		scene:    SceneFor(scenario),
		canvas:   NewCanvas(canvasWidth, canvasHeight),
		theme:    theme,
		styles:   NewStyles(theme),
		cancel:   cancel,
	}
}

func (m LiveModel) Init() tea.Cmd { return nil }

func (m LiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case "t":
			names := ThemeNames()
			for i, name := range names {
				if name == m.theme.Name {
					m.theme = GetTheme(names[(i+1)%len(names)])
					m.styles = NewStyles(m.theme)
					break
				}
			}
		case "c":
			m.showNorm = !m.showNorm
		case "?":
			m.showHelp = !m.showHelp
		}
	case FrameMsg:
		m.frame, m.hasFrame = msg, true
		m.norms = appendBounded(m.norms, msg.X.Norm())
	case SolveMsg:
		m.solves++
		m.lastSolve = msg
		m.merits = appendBounded(m.merits, msg.Merit)
	case DoneMsg:
		m.done, m.result, m.err = true, msg.Result, msg.Err
	}
	return m, nil
}

func (m LiveModel) View() string {
	m.canvas.Clear()
	if m.hasFrame {
		m.scene(m.canvas, m.frame.X)
	}
	s := m.styles
	canvasView := s.Panel.Render(m.canvas.String())

	var b strings.Builder
	b.WriteString(s.Header.Render(strings.ToUpper(m.scenario)+" MPC") + "\n")
	b.WriteString(m.status() + "\n\n")
	b.WriteString(s.row("time", fmt.Sprintf("%.2f s", m.frame.T)))
	b.WriteString(s.row("solves", fmt.Sprintf("%d", m.solves)))
	if m.solves > 0 {
		b.WriteString(s.Label.Render("last solve") + s.StatusBadge(m.lastSolve.Status) + "\n")
		b.WriteString(s.row("iterations", fmt.Sprintf("%d", m.lastSolve.Iterations)))
		b.WriteString(s.row("merit", fmt.Sprintf("%.4g", m.lastSolve.Merit)))
	}
	if m.hasFrame {
		b.WriteString(s.row("state", formatVector(truncate(m.frame.X, displayedState))))
		b.WriteString(s.row("input", formatVector(m.frame.U)))
	}
	series, caption := m.merits, "merit per solve"
	if m.showNorm {
		series, caption = m.norms, "|x|"
	}
	if len(series) > 1 {
		b.WriteString("\n" + s.Graph.Render(plot(series, chartWidth, chartHeight, caption)) + "\n")
	}
	if m.showHelp {
		b.WriteString(s.Help.Render("\nq quit  t theme  c merit/|x| chart  ? help"))
	} else {
		b.WriteString(s.Help.Render("\n? help"))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, canvasView, " ", b.String())
}

func (m LiveModel) status() string {
	switch {
	case m.done && m.err != nil:
		return m.styles.StatusBadge(ocp.StatusFailed) + " " + m.styles.Help.Render(m.err.Error())
	case m.done:
		failures := 0
		if m.result != nil {
			failures = m.result.Failures
		}
		return m.styles.Status[ocp.StatusConverged].Render("DONE") + m.styles.Help.Render(fmt.Sprintf("  %d failed solves", failures))
	default:
		return m.styles.Status[ocp.StatusConverged].Render("RUNNING")
	}
}

func appendBounded(s []float64, v float64) []float64 {
	s = append(s, v)
	if len(s) > historyLimit {
		s = s[len(s)-historyLimit:]
	}
	return s
}

func truncate(v []float64, n int) []float64 {
	if len(v) > n {
		return v[:n]
	}
	return v
}
