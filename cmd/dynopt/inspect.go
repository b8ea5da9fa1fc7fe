package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/export"
	"github.com/san-kum/dynopt/internal/ocp"
	"github.com/san-kum/dynopt/internal/storage"
	"github.com/san-kum/dynopt/internal/viz"
)

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tTIME\tALGO\tSTATUS\tITERS\tMERIT")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%.6g\n",
			run.ID,
			run.Kind,
			run.Timestamp.Local().Format("2006-01-02 15:04:05"),
			run.Settings.Algorithm,
			run.Status,
			run.Iterations,
			run.Performance.Merit,
		)
	}
	return w.Flush()
}

func loadRun(id string) (*storage.RunMetadata, ocp.Trajectory, error) {
	st := storage.New(dataDir)
	meta, err := st.Load(id)
	if err != nil {
		return nil, ocp.Trajectory{}, err
	}
	tr, err := st.LoadTrajectory(id)
	if err != nil {
		return nil, ocp.Trajectory{}, err
	}
	if tr.Len() == 0 {
		return nil, ocp.Trajectory{}, fmt.Errorf("run %s has no samples", id)
	}
	return meta, tr, nil
}

func showRun(cmd *cobra.Command, args []string) error {
	meta, tr, err := loadRun(args[0])
	if err != nil {
		return err
	}
	sol := ocp.PrimalSolution{
		Trajectory:  tr,
		Performance: meta.Performance,
		Schedule:    meta.Schedule,
		Status:      meta.Status,
		Iterations:  meta.Iterations,
	}
	styles := viz.NewStyles(viz.ThemeCyberpunk)
	title := fmt.Sprintf("%s %s (%s)", meta.Scenario, meta.Kind, meta.ID)
	fmt.Println(styles.Summary(title, sol, meta.Metrics))
	if chart := viz.MeritChart(meta.IterationLog, chartWidth, chartHeight); chart != "" {
		fmt.Println(chart)
	}
	for i := range tr.States[0] {
		fmt.Println(viz.ComponentChart(&tr, i, false, chartWidth, chartHeight/2))
	}
	for i := range tr.Inputs[0] {
		fmt.Println(viz.ComponentChart(&tr, i, true, chartWidth, chartHeight/2))
	}
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	id := args[0]
	meta, tr, err := loadRun(id)
	if err != nil {
		return err
	}
	dir, _ := cmd.Flags().GetString("out")
	if dir == "" {
		dir = filepath.Join(dataDir, id)
	}
	if err := export.SavePlots(dir, meta.Scenario, &tr, meta.IterationLog); err != nil {
		return err
	}
	for _, name := range export.PlotFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			fmt.Println("wrote", path)
		}
	}
	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	meta, tr, err := loadRun(args[0])
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("out")
	sol := ocp.PrimalSolution{
		Trajectory:  tr,
		Performance: meta.Performance,
		Status:      meta.Status,
		Iterations:  meta.Iterations,
	}
	data := export.NewData(meta.Scenario, string(meta.Settings.Algorithm), sol, meta.Metrics, meta.IterationLog)
	if err := export.ExportJSON(out, data); err != nil {
		return err
	}
	if out != "-" {
		fmt.Println("wrote", out)
	}
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	scenarios := config.Scenarios()
	if len(args) == 1 {
		scenarios = args
	}
	for _, s := range scenarios {
		presets := config.ListPresets(s)
		if len(presets) == 0 {
			fmt.Printf("no presets for scenario: %s\n", s)
			continue
		}
		fmt.Printf("presets for %s:\n", s)
		for _, p := range presets {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}

func initConfig(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if preset != "" {
		scenario, _ := cmd.Flags().GetString("scenario")
		p := config.GetPreset(scenario, preset)
		if p == nil {
			return fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(scenario))
		}
		cfg = p
	}
	if err := config.Save(args[0], cfg); err != nil {
		return err
	}
	fmt.Println("wrote", args[0])
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
