// Package qp solves the Euler transcription of a linear-quadratic optimal
// control problem as one dense equality-constrained quadratic program. It
// is the reference solution the DDP solver is checked against and is never
// used online.
package qp

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/lq"
	"github.com/san-kum/dynopt/internal/ocp"
)

// Program is the transcription on the grid t0 + k·dt, k = 0..N. Models[k]
// is the LQ model at sample k around Nominal.
type Program struct {
	Nominal  ocp.Trajectory
	Models   []lq.ModelData
	Terminal dynamo.QuadraticApproximation
	Dt       float64
	X0       dynamo.State
}

type Solution struct {
	Trajectory ocp.Trajectory
	// Cost is Σ dt·L(x_k, u_k) over k < N plus the terminal cost.
	Cost float64
}

// Transcribe approximates p on n intervals of length dt around the zero
// trajectory; for linear dynamics and quadratic costs the model is exact.
func Transcribe(p *ocp.Problem, schedule ocp.ModeSchedule, pen ocp.Penalties, t0, dt float64, n int, x0 dynamo.State) (*Program, error) {
	if n < 1 || dt <= 0 {
		return nil, fmt.Errorf("qp: need at least one interval of positive length, got n=%d dt=%g", n, dt)
	}
	nx, nu := p.StateDim(), p.InputDim()
	if len(x0) != nx {
		return nil, fmt.Errorf("%w: initial state has %d entries, want %d", dynamo.ErrDimensionMismatch, len(x0), nx)
	}
	nominal := ocp.NewTrajectory(n + 1)
	for k := 0; k <= n; k++ {
		t := t0 + float64(k)*dt
		nominal.Append(t, make(dynamo.State, nx), make(dynamo.Control, nu), schedule.ModeAt(t))
	}
	approx := lq.NewApproximator(p, pen)
	models := make([]lq.ModelData, n+1)
	if err := approx.ApproximateRange(&nominal, 0, n+1, models); err != nil {
		return nil, err
	}
	terminal, err := approx.Terminal(&nominal)
	if err != nil {
		return nil, err
	}
	return &Program{Nominal: nominal, Models: models, Terminal: terminal, Dt: dt, X0: x0.Clone()}, nil
}

// Solve assembles and solves the KKT system
//
//	[H Aᵀ] [w]   [-g]
//	[A 0 ] [λ] = [ b]
//
// over w = (δx_1..δx_N, δu_0..δu_{N-1}).
func (prog *Program) Solve() (Solution, error) {
	n := len(prog.Models) - 1
	nx, nu := prog.Models[0].Dynamics.B.Dims()
	dt := prog.Dt
	xi := func(k int) int { return (k - 1) * nx }
	ui := func(k int) int { return n*nx + k*nu }
	nw := n * (nx + nu)

	nc := n * nx
	for k := 0; k < n; k++ {
		nc += prog.Models[k].StateInputEq.Len()
	}

	kkt := mat.NewDense(nw+nc, nw+nc, nil)
	rhs := mat.NewVecDense(nw+nc, nil)
	dx0 := mat.NewVecDense(nx, nil)
	dx0.SubVec(prog.X0.Vec(), prog.Nominal.States[0].Vec())

	addBlock := func(r, c int, m mat.Matrix, s float64) {
		rows, cols := m.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				kkt.Set(r+i, c+j, kkt.At(r+i, c+j)+s*m.At(i, j))
			}
		}
	}
	addVec := func(r int, v mat.Vector, s float64) {
		for i := 0; i < v.Len(); i++ {
			rhs.SetVec(r+i, rhs.AtVec(r+i)+s*v.AtVec(i))
		}
	}

	// Objective: rhs holds -g.
	for k := 0; k < n; k++ {
		c := prog.Models[k].Cost
		addBlock(ui(k), ui(k), c.Luu, dt)
		addVec(ui(k), c.Lu, -dt)
		if k == 0 {
			var px mat.VecDense
			px.MulVec(c.Lux, dx0)
			addVec(ui(0), &px, -dt)
			continue
		}
		addBlock(xi(k), xi(k), c.Lxx, dt)
		addVec(xi(k), c.Lx, -dt)
		addBlock(ui(k), xi(k), c.Lux, dt)
		addBlock(xi(k), ui(k), c.Lux.T(), dt)
	}
	addBlock(xi(n), xi(n), prog.Terminal.Lxx, 1)
	addVec(xi(n), prog.Terminal.Lx, -1)

	// Constraints, mirrored into the upper-right block.
	row := nw
	constrain := func(col int, m mat.Matrix, s float64) {
		addBlock(row, col, m, s)
		addBlock(col, row, m.T(), s)
	}
	eye := identity(nx)
	for k := 0; k < n; k++ {
		md := prog.Models[k]
		ad := mat.NewDense(nx, nx, nil)
		ad.Scale(dt, md.Dynamics.A)
		ad.Add(ad, eye)

		// δx_{k+1} - Ad δx_k - dt B δu_k = xnom_k + dt f_k - xnom_{k+1}
		constrain(xi(k+1), eye, 1)
		constrain(ui(k), md.Dynamics.B, -dt)
		gap := mat.NewVecDense(nx, nil)
		gap.AddScaledVec(prog.Nominal.States[k].Vec(), dt, md.Dynamics.F)
		gap.SubVec(gap, prog.Nominal.States[k+1].Vec())
		if k == 0 {
			var adx mat.VecDense
			adx.MulVec(ad, dx0)
			gap.AddVec(gap, &adx)
		} else {
			constrain(xi(k), ad, -1)
		}
		addVec(row, gap, 1)
		row += nx

		eq := md.StateInputEq
		if m := eq.Len(); m > 0 {
			// C δx_k + D δu_k = -e
			constrain(ui(k), eq.Du, 1)
			b := mat.NewVecDense(m, nil)
			b.ScaleVec(-1, eq.Value)
			if k == 0 {
				var cx mat.VecDense
				cx.MulVec(eq.Dx, dx0)
				b.SubVec(b, &cx)
			} else {
				constrain(xi(k), eq.Dx, 1)
			}
			addVec(row, b, 1)
			row += m
		}
	}

	var sol mat.VecDense
	if err := sol.SolveVec(kkt, rhs); err != nil {
		return Solution{}, fmt.Errorf("qp: kkt system: %w", err)
	}
	return prog.extract(&sol, xi, ui), nil
}

func (prog *Program) extract(w *mat.VecDense, xi, ui func(int) int) Solution {
	n := len(prog.Models) - 1
	nx, nu := prog.Models[0].Dynamics.B.Dims()
	nom := &prog.Nominal
	tr := ocp.NewTrajectory(n + 1)
	var cost float64
	for k := 0; k <= n; k++ {
		dx := make(dynamo.State, nx)
		if k == 0 {
			copy(dx, prog.X0.Sub(nom.States[0]))
		} else {
			for i := range dx {
				dx[i] = w.AtVec(xi(k) + i)
			}
		}
		du := make(dynamo.Control, nu)
		uk := k
		if k == n {
			uk = n - 1
		}
		for i := range du {
			du[i] = w.AtVec(ui(uk) + i)
		}
		if k < n {
			cost += prog.Dt * stageCost(prog.Models[k].Cost, dx.Vec(), du.Vec())
		}
		u := nom.Inputs[k].Clone()
		for i := range u {
			u[i] += du[i]
		}
		tr.Append(nom.Times[k], nom.States[k].Add(dx), u, nom.Modes[k])
	}
	dxN := tr.States[n].Sub(nom.States[n]).Vec()
	cost += prog.Terminal.L + mat.Dot(prog.Terminal.Lx, dxN) + 0.5*mat.Inner(dxN, prog.Terminal.Lxx, dxN)
	return Solution{Trajectory: tr, Cost: cost}
}

func stageCost(c dynamo.QuadraticApproximation, dx, du *mat.VecDense) float64 {
	return c.L + mat.Dot(c.Lx, dx) + mat.Dot(c.Lu, du) +
		0.5*mat.Inner(dx, c.Lxx, dx) + 0.5*mat.Inner(du, c.Luu, du) + mat.Inner(du, c.Lux, dx)
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
