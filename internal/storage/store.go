// Package storage persists solver runs, one directory per run:
// metadata.json, trajectory.csv and controller.json.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/control"
	"github.com/san-kum/dynopt/internal/ddp"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/ocp"
)

const (
	metadataFile   = "metadata.json"
	trajectoryFile = "trajectory.csv"
	controllerFile = "controller.json"
)

type Kind string

const (
	KindSolve Kind = "solve"
	KindMPC   Kind = "mpc"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID           string               `json:"id"`
	Scenario     string               `json:"scenario"`
	Kind         Kind                 `json:"kind"`
	Timestamp    time.Time            `json:"timestamp"`
	Seed         int64                `json:"seed"`
	StartTime    float64              `json:"start_time"`
	FinalTime    float64              `json:"final_time"`
	Partitions   int                  `json:"partitions"`
	Settings     ddp.Settings         `json:"settings"`
	Status       ocp.Status           `json:"status"`
	Iterations   int                  `json:"iterations"`
	Performance  ocp.PerformanceIndex `json:"performance"`
	Schedule     ocp.ModeSchedule     `json:"schedule"`
	Metrics      map[string]float64   `json:"metrics,omitempty"`
	IterationLog []ddp.IterationLog   `json:"iteration_log,omitempty"`
	Elapsed      time.Duration        `json:"elapsed"`
}

// Run is everything persisted for one run. Controller may be nil.
type Run struct {
	Metadata   RunMetadata
	Trajectory ocp.Trajectory
	Controller *control.LinearController
}

// Save writes run under a new ID, which it returns. The metadata's ID and
// timestamp are filled in.
func (s *Store) Save(run *Run) (string, error) {
	id := fmt.Sprintf("%s_%s", run.Metadata.Scenario, uuid.NewString())
	dir := filepath.Join(s.baseDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	run.Metadata.ID = id
	run.Metadata.Timestamp = time.Now().UTC()
	if err := writeJSON(filepath.Join(dir, metadataFile), run.Metadata); err != nil {
		return "", err
	}
	if err := writeTrajectory(filepath.Join(dir, trajectoryFile), &run.Trajectory); err != nil {
		return "", err
	}
	if run.Controller != nil {
		if err := writeJSON(filepath.Join(dir, controllerFile), encodeController(run.Controller)); err != nil {
			return "", err
		}
	}
	return id, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeTrajectory(path string, tr *ocp.Trajectory) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if tr.Len() > 0 {
		header := []string{"time", "mode", "event"}
		for i := range tr.States[0] {
			header = append(header, fmt.Sprintf("x%d", i))
		}
		for i := range tr.Inputs[0] {
			header = append(header, fmt.Sprintf("u%d", i))
		}
		if err := w.Write(header); err != nil {
			return err
		}
	}

	events := make(map[int]bool, len(tr.PostEventIndices))
	for _, idx := range tr.PostEventIndices {
		events[idx] = true
	}
	for k := 0; k < tr.Len(); k++ {
		event := "0"
		if events[k] {
			event = "1"
		}
		row := []string{formatFloat(tr.Times[k]), strconv.Itoa(tr.Modes[k]), event}
		for _, val := range tr.States[k] {
			row = append(row, formatFloat(val))
		}
		for _, val := range tr.Inputs[k] {
			row = append(row, formatFloat(val))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

type controllerJSON struct {
	Times []float64     `json:"times"`
	Gains [][][]float64 `json:"gains"`
	Bias  [][]float64   `json:"bias"`
}

// encodeController stores the flattened policy; Delta is folded into Bias.
func encodeController(c *control.LinearController) controllerJSON {
	flat := c.Flatten()
	out := controllerJSON{Times: flat.Times, Gains: make([][][]float64, flat.Len()), Bias: make([][]float64, flat.Len())}
	for i, k := range flat.Gains {
		r, _ := k.Dims()
		rows := make([][]float64, r)
		for j := range rows {
			rows[j] = mat.Row(nil, j, k)
		}
		out.Gains[i] = rows
		out.Bias[i] = flat.Bias[i]
	}
	return out
}

func decodeController(in controllerJSON) (*control.LinearController, error) {
	if len(in.Gains) != len(in.Times) || len(in.Bias) != len(in.Times) {
		return nil, fmt.Errorf("storage: controller has %d times, %d gains, %d biases",
			len(in.Times), len(in.Gains), len(in.Bias))
	}
	c := control.NewLinearController(len(in.Times))
	for i, t := range in.Times {
		rows := in.Gains[i]
		nu := len(rows)
		nx := 0
		if nu > 0 {
			nx = len(rows[0])
		}
		k := mat.NewDense(max(nu, 1), max(nx, 1), nil)
		if nu > 0 && nx > 0 {
			for r, row := range rows {
				k.SetRow(r, row)
			}
		}
		c.Append(t, k, dynamo.Control(in.Bias[i]), make(dynamo.Control, len(in.Bias[i])))
	}
	return c, nil
}

// List returns the stored runs, newest first. Directories without
// readable metadata are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("storage: %s: %w", runID, err)
	}
	return &meta, nil
}

func (s *Store) LoadTrajectory(runID string) (ocp.Trajectory, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, trajectoryFile))
	if err != nil {
		return ocp.Trajectory{}, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return ocp.Trajectory{}, err
	}
	if len(records) < 2 {
		return ocp.NewTrajectory(0), nil
	}

	nx, nu := 0, 0
	for _, h := range records[0][3:] {
		if h[0] == 'x' {
			nx++
		} else {
			nu++
		}
	}
	tr := ocp.NewTrajectory(len(records) - 1)
	for line, rec := range records[1:] {
		if len(rec) != 3+nx+nu {
			return tr, fmt.Errorf("storage: %s line %d has %d fields, want %d", trajectoryFile, line+2, len(rec), 3+nx+nu)
		}
		vals := make([]float64, len(rec))
		for j, field := range rec {
			if j == 1 || j == 2 {
				continue
			}
			if vals[j], err = strconv.ParseFloat(field, 64); err != nil {
				return tr, fmt.Errorf("storage: %s line %d: %w", trajectoryFile, line+2, err)
			}
		}
		mode, err := strconv.Atoi(rec[1])
		if err != nil {
			return tr, fmt.Errorf("storage: %s line %d: %w", trajectoryFile, line+2, err)
		}
		tr.Append(vals[0], dynamo.State(vals[3:3+nx]), dynamo.Control(vals[3+nx:]), mode)
		if rec[2] == "1" {
			tr.MarkEvent()
		}
	}
	return tr, nil
}

// LoadController returns the stored policy, or dynamo.ErrNoSolution when
// the run has none.
func (s *Store) LoadController(runID string) (*control.LinearController, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, controllerFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("storage: %s: %w", runID, dynamo.ErrNoSolution)
	}
	if err != nil {
		return nil, err
	}
	var in controllerJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("storage: %s: %w", runID, err)
	}
	return decodeController(in)
}
