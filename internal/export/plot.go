// Package export writes solver results as images and JSON documents.
package export

import (
	"bufio"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/san-kum/dynopt/internal/ddp"
	"github.com/san-kum/dynopt/internal/ocp"
)

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 5 * vg.Inch
	plotDPI    = 150
)

// PlotFiles names the images written by SavePlots.
var PlotFiles = []string{"states.png", "inputs.png", "cost.png"}

// SavePlots writes the state and input trajectories and, when log is not
// empty, the merit per accepted iteration into dir.
func SavePlots(dir, title string, tr *ocp.Trajectory, log []ddp.IterationLog) error {
	if tr.Len() == 0 {
		return fmt.Errorf("export: empty trajectory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	states, err := TrajectoryPlot(title+": states", "x", tr, func(k int) []float64 { return tr.States[k] })
	if err != nil {
		return err
	}
	if err := SavePNG(states, filepath.Join(dir, PlotFiles[0])); err != nil {
		return err
	}
	inputs, err := TrajectoryPlot(title+": inputs", "u", tr, func(k int) []float64 { return tr.Inputs[k] })
	if err != nil {
		return err
	}
	if err := SavePNG(inputs, filepath.Join(dir, PlotFiles[1])); err != nil {
		return err
	}
	if len(log) == 0 {
		return nil
	}
	cost, err := MeritPlot(title+": merit", log)
	if err != nil {
		return err
	}
	return SavePNG(cost, filepath.Join(dir, PlotFiles[2]))
}

// TrajectoryPlot draws every component returned by values against time,
// with a dashed vertical line at each mode event.
func TrajectoryPlot(title, prefix string, tr *ocp.Trajectory, values func(k int) []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (s)"
	p.Legend.Top = true

	n := len(values(0))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		pts := make(plotter.XYs, tr.Len())
		for k := range pts {
			pts[k].X = tr.Times[k]
			pts[k].Y = values(k)[i]
			lo, hi = math.Min(lo, pts[k].Y), math.Max(hi, pts[k].Y)
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("export: %s%d: %w", prefix, i, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("%s%d", prefix, i), line)
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}

	for _, idx := range tr.PostEventIndices {
		te := tr.Times[idx]
		marker, err := plotter.NewLine(plotter.XYs{{X: te, Y: lo}, {X: te, Y: hi}})
		if err != nil {
			return nil, err
		}
		marker.Color = color.Gray{Y: 128}
		marker.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(marker)
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

// MeritPlot draws the merit of the accepted iterations.
func MeritPlot(title string, log []ddp.IterationLog) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "merit"

	var pts plotter.XYs
	for _, entry := range log {
		if entry.Accepted {
			pts = append(pts, plotter.XY{X: float64(entry.Iteration), Y: entry.Performance.Merit})
		}
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("export: no accepted iterations")
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, err
	}
	line.Color = plotutil.Color(0)
	points.Shape = draw.CircleGlyph{}
	p.Add(line, points, plotter.NewGrid())
	return p, nil
}

// SavePNG renders p at a fixed size and resolution.
func SavePNG(p *plot.Plot, path string) error {
	c := vgimg.NewWith(vgimg.UseWH(plotWidth, plotHeight), vgimg.UseDPI(plotDPI))
	p.Draw(draw.New(c))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}
