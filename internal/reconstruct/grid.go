package reconstruct

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// grid is a cubic lattice of n×n×n nodes with spacing h, the first node at
// origin. Values are stored x-fastest.
type grid struct {
	n      int
	h      float64
	origin r3.Vec
}

func newGrid(origin r3.Vec, side float64, cells int) grid {
	return grid{n: cells + 1, h: side / float64(cells), origin: origin}
}

func (g grid) size() int { return g.n * g.n * g.n }

func (g grid) at(i, j, k int) int { return (k*g.n+j)*g.n + i }

func (g grid) boundary(i, j, k int) bool {
	last := g.n - 1
	return i == 0 || j == 0 || k == 0 || i == last || j == last || k == last
}

// cell returns the lower corner node of the cell holding p and the
// fractional position inside it, clamped to the lattice.
func (g grid) cell(p r3.Vec) (i, j, k int, fx, fy, fz float64) {
	u := r3.Scale(1/g.h, r3.Sub(p, g.origin))
	i, fx = g.axis(u.X)
	j, fy = g.axis(u.Y)
	k, fz = g.axis(u.Z)
	return i, j, k, fx, fy, fz
}

func (g grid) axis(u float64) (int, float64) {
	last := float64(g.n - 2)
	switch {
	case !(u > 0):
		return 0, 0
	case u >= last+1:
		return g.n - 2, 1
	}
	c := math.Floor(u)
	if c > last {
		c = last
	}
	return int(c), u - c
}

// corners calls fn for the eight nodes around p with their trilinear weights.
func (g grid) corners(p r3.Vec, fn func(node int, w float64)) {
	i, j, k, fx, fy, fz := g.cell(p)
	for c := 0; c < 8; c++ {
		di, dj, dk := c&1, (c>>1)&1, (c>>2)&1
		w := lerpWeight(fx, di) * lerpWeight(fy, dj) * lerpWeight(fz, dk)
		if w == 0 {
			continue
		}
		fn(g.at(i+di, j+dj, k+dk), w)
	}
}

func lerpWeight(f float64, upper int) float64 {
	if upper == 1 {
		return f
	}
	return 1 - f
}

// sample interpolates values at p.
func (g grid) sample(values []float64, p r3.Vec) float64 {
	var v float64
	g.corners(p, func(node int, w float64) { v += w * values[node] })
	return v
}

// splat distributes the sample normals onto the nodes as a vector field
// density, so the field integrates to the same total at every resolution.
func (g grid) splat(points, normals []r3.Vec) (vx, vy, vz []float64) {
	vx = make([]float64, g.size())
	vy = make([]float64, g.size())
	vz = make([]float64, g.size())
	inv := 1 / (g.h * g.h * g.h)
	for s, p := range points {
		n := normals[s]
		g.corners(p, func(node int, w float64) {
			w *= inv
			vx[node] += w * n.X
			vy[node] += w * n.Y
			vz[node] += w * n.Z
		})
	}
	return vx, vy, vz
}

// poissonRHS returns -h²·div V at interior nodes and zero on the boundary,
// the right-hand side of the grid-scaled system.
func (g grid) poissonRHS(vx, vy, vz []float64) []float64 {
	b := make([]float64, g.size())
	n := g.n
	scale := -g.h / 2 // -h² / (2h)
	for k := 1; k < n-1; k++ {
		for j := 1; j < n-1; j++ {
			for i := 1; i < n-1; i++ {
				div := vx[g.at(i+1, j, k)] - vx[g.at(i-1, j, k)] +
					vy[g.at(i, j+1, k)] - vy[g.at(i, j-1, k)] +
					vz[g.at(i, j, k+1)] - vz[g.at(i, j, k-1)]
				b[g.at(i, j, k)] = scale * div
			}
		}
	}
	return b
}

// prolong interpolates values on the coarse lattice onto g, whose cell count
// is twice the coarse one.
func (g grid) prolong(coarse grid, values []float64) []float64 {
	out := make([]float64, g.size())
	n := g.n
	for k := 0; k < n; k++ {
		k0, k1 := k/2, (k+1)/2
		for j := 0; j < n; j++ {
			j0, j1 := j/2, (j+1)/2
			for i := 0; i < n; i++ {
				i0, i1 := i/2, (i+1)/2
				out[g.at(i, j, k)] = (values[coarse.at(i0, j0, k0)] + values[coarse.at(i1, j0, k0)] +
					values[coarse.at(i0, j1, k0)] + values[coarse.at(i1, j1, k0)] +
					values[coarse.at(i0, j0, k1)] + values[coarse.at(i1, j0, k1)] +
					values[coarse.at(i0, j1, k1)] + values[coarse.at(i1, j1, k1)]) / 8
			}
		}
	}
	return out
}
