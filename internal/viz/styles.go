package viz

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/dynopt/internal/mpc"
	"github.com/san-kum/dynopt/internal/ocp"
)

// Theme is the color scheme of the terminal views.
type Theme struct {
	Name    string
	Primary lipgloss.Color
	Accent  lipgloss.Color
	Text    lipgloss.Color
	Muted   lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
}

var (
	ThemeCyberpunk = Theme{
		Name:    "cyberpunk",
		Primary: lipgloss.Color("#00ffff"),
		Accent:  lipgloss.Color("#ff00ff"),
		Text:    lipgloss.Color("#ffffff"),
		Muted:   lipgloss.Color("#666688"),
		Success: lipgloss.Color("#00ff88"),
		Warning: lipgloss.Color("#ffaa00"),
		Error:   lipgloss.Color("#ff4444"),
	}

	ThemeRetro = Theme{
		Name:    "retro",
		Primary: lipgloss.Color("#00ff00"),
		Accent:  lipgloss.Color("#88ff88"),
		Text:    lipgloss.Color("#00ff00"),
		Muted:   lipgloss.Color("#005500"),
		Success: lipgloss.Color("#88ff88"),
		Warning: lipgloss.Color("#ffff00"),
		Error:   lipgloss.Color("#ff0000"),
	}

	ThemeMinimal = Theme{
		Name:    "minimal",
		Primary: lipgloss.Color("#ffffff"),
		Accent:  lipgloss.Color("#0088ff"),
		Text:    lipgloss.Color("#ffffff"),
		Muted:   lipgloss.Color("#888888"),
		Success: lipgloss.Color("#00ff00"),
		Warning: lipgloss.Color("#ffaa00"),
		Error:   lipgloss.Color("#ff0000"),
	}

	Themes = []Theme{ThemeCyberpunk, ThemeRetro, ThemeMinimal}
)

// GetTheme returns the named theme, or the first one.
func GetTheme(name string) Theme {
	for _, t := range Themes {
		if t.Name == name {
			return t
		}
	}
	return Themes[0]
}

func ThemeNames() []string {
	names := make([]string, len(Themes))
	for i, t := range Themes {
		names[i] = t.Name
	}
	return names
}

// Styles are the lipgloss styles derived from a theme.
type Styles struct {
	Header lipgloss.Style
	Label  lipgloss.Style
	Value  lipgloss.Style
	Panel  lipgloss.Style
	Graph  lipgloss.Style
	Help   lipgloss.Style
	Status map[ocp.Status]lipgloss.Style
}

func NewStyles(t Theme) Styles {
	return Styles{
		Header: lipgloss.NewStyle().Bold(true).Foreground(t.Primary).
			BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(t.Muted),
		Label: lipgloss.NewStyle().Foreground(t.Muted).Width(16),
		Value: lipgloss.NewStyle().Foreground(t.Text),
		Panel: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Muted).Padding(0, 2),
		Graph: lipgloss.NewStyle().Foreground(t.Accent),
		Help:  lipgloss.NewStyle().Foreground(t.Muted).Italic(true),
		Status: map[ocp.Status]lipgloss.Style{
			ocp.StatusConverged:     lipgloss.NewStyle().Bold(true).Foreground(t.Success),
			ocp.StatusMaxIterations: lipgloss.NewStyle().Bold(true).Foreground(t.Warning),
			ocp.StatusFailed:        lipgloss.NewStyle().Bold(true).Foreground(t.Error),
			ocp.StatusCanceled:      lipgloss.NewStyle().Bold(true).Foreground(t.Warning),
		},
	}
}

// StatusBadge renders a solve status in its color.
func (s Styles) StatusBadge(status ocp.Status) string {
	if st, ok := s.Status[status]; ok {
		return st.Render(strings.ToUpper(string(status)))
	}
	return s.Value.Render(string(status))
}

func (s Styles) row(label, value string) string {
	return s.Label.Render(label) + s.Value.Render(value) + "\n"
}

// Summary renders a solve result: status, iterations, performance terms,
// final state and named metrics in sorted order.
func (s Styles) Summary(title string, sol ocp.PrimalSolution, metrics map[string]float64) string {
	var b strings.Builder
	b.WriteString(s.Header.Render(title) + "\n")
	b.WriteString(s.Label.Render("status") + s.StatusBadge(sol.Status) + "\n")
	b.WriteString(s.row("iterations", fmt.Sprintf("%d", sol.Iterations)))
	perf := sol.Performance
	b.WriteString(s.row("merit", fmt.Sprintf("%.6g", perf.Merit)))
	b.WriteString(s.row("cost", fmt.Sprintf("%.6g", perf.TotalCost)))
	if ise := perf.ConstraintISE(); ise > 0 {
		b.WriteString(s.row("constraint ISE", fmt.Sprintf("%.3e", ise)))
	}
	if sol.Trajectory.Len() > 0 {
		b.WriteString(s.row("final time", fmt.Sprintf("%.3f", sol.Trajectory.FinalTime())))
		b.WriteString(s.row("final state", formatVector(sol.Trajectory.FinalState())))
		b.WriteString(s.row("events", fmt.Sprintf("%d", len(sol.Trajectory.PostEventIndices))))
	}
	s.metrics(&b, metrics)
	return s.Panel.Render(strings.TrimRight(b.String(), "\n"))
}

// ClosedLoop renders an MPC run: solve counts, final state and metrics.
func (s Styles) ClosedLoop(title string, res *mpc.Result) string {
	var b strings.Builder
	b.WriteString(s.Header.Render(title) + "\n")
	status := ocp.StatusConverged
	if res.Failures > 0 {
		status = ocp.StatusFailed
	}
	b.WriteString(s.Label.Render("solves") + s.StatusBadge(status) +
		s.Value.Render(fmt.Sprintf(" %d ok, %d failed", res.Solves, res.Failures)) + "\n")
	if n := len(res.Merits); n > 0 {
		b.WriteString(s.row("last merit", fmt.Sprintf("%.6g", res.Merits[n-1])))
	}
	if res.Trajectory.Len() > 0 {
		b.WriteString(s.row("final time", fmt.Sprintf("%.3f", res.Trajectory.FinalTime())))
		b.WriteString(s.row("final state", formatVector(res.Trajectory.FinalState())))
	}
	s.metrics(&b, res.Metrics)
	return s.Panel.Render(strings.TrimRight(b.String(), "\n"))
}

func (s Styles) metrics(b *strings.Builder, metrics map[string]float64) {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(s.row(k, fmt.Sprintf("%.6g", metrics[k])))
	}
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.4g", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
