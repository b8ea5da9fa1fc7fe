package export

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/dynopt/internal/ddp"
	"github.com/san-kum/dynopt/internal/ocp"
)

type Data struct {
	Scenario    string               `json:"scenario"`
	Algorithm   string               `json:"algorithm"`
	Status      ocp.Status           `json:"status"`
	Iterations  int                  `json:"iterations"`
	Performance ocp.PerformanceIndex `json:"performance"`
	Times       []float64            `json:"times"`
	States      [][]float64          `json:"states"`
	Inputs      [][]float64          `json:"inputs"`
	Modes       []int                `json:"modes"`
	Events      []int                `json:"post_event_indices"`
	Metrics     map[string]float64   `json:"metrics,omitempty"`
	Log         []ddp.IterationLog   `json:"iteration_log,omitempty"`
}

// NewData flattens a trajectory and its solve summary.
func NewData(scenario, algorithm string, sol ocp.PrimalSolution, metrics map[string]float64, log []ddp.IterationLog) Data {
	tr := sol.Trajectory
	d := Data{
		Scenario:    scenario,
		Algorithm:   algorithm,
		Status:      sol.Status,
		Iterations:  sol.Iterations,
		Performance: sol.Performance,
		Times:       tr.Times,
		States:      make([][]float64, tr.Len()),
		Inputs:      make([][]float64, tr.Len()),
		Modes:       tr.Modes,
		Events:      tr.PostEventIndices,
		Metrics:     metrics,
		Log:         log,
	}
	for k := 0; k < tr.Len(); k++ {
		d.States[k] = tr.States[k]
		d.Inputs[k] = tr.Inputs[k]
	}
	return d
}

func WriteJSON(w io.Writer, d Data) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// ExportJSON writes d to path, or to stdout when path is "-".
func ExportJSON(path string, d Data) error {
	if path == "-" {
		return WriteJSON(os.Stdout, d)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := WriteJSON(f, d); err != nil {
		return err
	}
	return f.Close()
}
