package viz

import (
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Scene draws one state of a scenario onto a canvas.
type Scene func(c *Canvas, x dynamo.State)

// SceneFor returns the drawing for a scenario, or bar charts of the state
// components when the scenario has no picture.
func SceneFor(scenario string) Scene {
	switch scenario {
	case "pendulum":
		return drawPendulum
	case "cartpole":
		return drawCartPole
	case "drone":
		return drawDrone
	case "biped":
		return drawBiped
	default:
		return drawBars
	}
}

// world maps metric coordinates (origin at the canvas center, y up) to
// sub-pixels with scale pixels per meter.
func world(c *Canvas, x, y, scale float64) (int, int) {
	return c.Width + int(math.Round(x*scale)), 2*c.Height - int(math.Round(y*scale))
}

func drawPendulum(c *Canvas, x dynamo.State) {
	scale := float64(c.Height) * 1.6
	px, py := world(c, 0, 0, scale)
	bx, by := world(c, math.Sin(x[0]), -math.Cos(x[0]), scale)
	c.Box(px, py, 1, 1)
	c.Line(px, py, bx, by)
	c.Box(bx, by, 2, 2)
}

func drawCartPole(c *Canvas, x dynamo.State) {
	scale := float64(c.Height) * 1.8
	ground := 3 * c.Height
	for i := 0; i < 2*c.Width; i++ {
		c.Set(i, ground+3)
	}
	cx := c.Width + int(math.Round(x[0]*scale))
	c.Box(cx, ground, 6, 2)
	tx := cx + int(math.Round(math.Sin(x[2])*scale))
	ty := ground - 2 - int(math.Round(math.Cos(x[2])*scale))
	c.Line(cx, ground-2, tx, ty)
	c.Box(tx, ty, 1, 1)
}

func drawDrone(c *Canvas, x dynamo.State) {
	scale := float64(c.Height) * 0.8
	cx, cy := world(c, x[0], x[1], scale)
	dx := int(math.Round(8 * math.Cos(x[2])))
	dy := int(math.Round(8 * math.Sin(x[2])))
	c.Line(cx-dx, cy+dy, cx+dx, cy-dy)
	c.Box(cx-dx, cy+dy-1, 1, 0)
	c.Box(cx+dx, cy-dy-1, 1, 0)
}

// drawBiped shows the body as a tilted bar with a leg to each foothold.
func drawBiped(c *Canvas, x dynamo.State) {
	ground := 4*c.Height - 2
	scale := float64(ground) / 1.2
	for i := 0; i < 2*c.Width; i++ {
		c.Set(i, ground)
	}
	bx := c.Width + int(math.Round(x[0]*scale))
	by := ground - int(math.Round(x[1]*scale))
	dx := int(math.Round(6 * math.Cos(x[2])))
	dy := int(math.Round(6 * math.Sin(x[2])))
	c.Line(bx-dx, by+dy, bx+dx, by-dy)
	for _, foot := range []float64{-0.15, 0.15} {
		c.Line(bx, by, c.Width+int(math.Round(foot*scale)), ground)
	}
}

func drawBars(c *Canvas, x dynamo.State) {
	mid := 2 * c.Height
	for i := 0; i < 2*c.Width; i++ {
		c.Set(i, mid)
	}
	if len(x) == 0 {
		return
	}
	peak := 1.0
	for _, v := range x {
		peak = math.Max(peak, math.Abs(v))
	}
	slot := 2 * c.Width / len(x)
	for i, v := range x {
		h := int(math.Round(v / peak * float64(2*c.Height-1)))
		col := i*slot + slot/2
		c.Line(col, mid, col, mid-h)
	}
}
