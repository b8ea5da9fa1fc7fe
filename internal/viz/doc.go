// Package viz renders solver results in the terminal.
//
//   - [Styles.Summary]: a lipgloss panel with status, performance and metrics
//   - [MeritChart], [ComponentChart]: asciigraph plots of a solve
//   - [LiveModel]: a Bubble Tea view of a running MPC loop, fed by [Feed]
//
// # Key Bindings
//
//	q  - Stop the loop and quit
//	t  - Cycle color themes
//	c  - Toggle between the merit and |x| charts
//	?  - Show help
package viz
