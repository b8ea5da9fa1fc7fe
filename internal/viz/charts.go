package viz

import (
	"fmt"
	"math"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/dynopt/internal/ddp"
	"github.com/san-kum/dynopt/internal/ocp"
)

// MeritChart plots the merit of accepted iterations on a log10 axis when
// every value is positive.
func MeritChart(log []ddp.IterationLog, width, height int) string {
	var data []float64
	for _, entry := range log {
		if entry.Accepted {
			data = append(data, entry.Performance.Merit)
		}
	}
	if len(data) == 0 {
		return ""
	}
	caption := "merit per iteration"
	if positive(data) {
		for i, v := range data {
			data[i] = math.Log10(v)
		}
		caption = "log10 merit per iteration"
	}
	return plot(data, width, height, caption)
}

// ComponentChart plots one state (or input) component against the samples.
func ComponentChart(tr *ocp.Trajectory, index int, input bool, width, height int) string {
	if tr.Len() == 0 {
		return ""
	}
	data := make([]float64, tr.Len())
	name := "x"
	for k := range data {
		if input {
			data[k] = tr.Inputs[k][index]
		} else {
			data[k] = tr.States[k][index]
		}
	}
	if input {
		name = "u"
	}
	return plot(data, width, height, fmt.Sprintf("%s%d over [%.2f, %.2f] s", name, index, tr.Times[0], tr.FinalTime()))
}

func plot(data []float64, width, height int, caption string) string {
	if len(data) == 1 {
		data = []float64{data[0], data[0]}
	}
	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	)
}

func positive(data []float64) bool {
	for _, v := range data {
		if !(v > 0) {
			return false
		}
	}
	return true
}
