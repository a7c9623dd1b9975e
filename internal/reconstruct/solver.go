package reconstruct

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
)

// screenedLaplacian is the grid-scaled operator (6+s)x_i - sum of the six
// neighbors on interior nodes and the identity on boundary nodes, where
// s = alpha·h². It is symmetric positive definite.
type screenedLaplacian struct {
	g     grid
	shift float64
}

func (a screenedLaplacian) diag() float64 { return 6 + a.shift }

func (a screenedLaplacian) apply(dst, x []float64) {
	g := a.g
	n := g.n
	d := a.diag()
	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				c := g.at(i, j, k)
				if g.boundary(i, j, k) {
					dst[c] = x[c]
					continue
				}
				dst[c] = d*x[c] - x[c-1] - x[c+1] - x[c-n] - x[c+n] - x[c-n*n] - x[c+n*n]
			}
		}
	}
}

// cgStats reports how a solve ended.
type cgStats struct {
	Iterations int
	Residual   float64 // relative to |b|
	Converged  bool
}

// conjugateGradient solves a·x = b with a Jacobi preconditioner, starting
// from x. The context is polled every few iterations.
func conjugateGradient(ctx context.Context, a screenedLaplacian, b, x []float64, maxIter int, tol float64) (cgStats, error) {
	size := len(b)
	bNorm := floats.Norm(b, 2)
	if bNorm == 0 {
		for i := range x {
			x[i] = 0
		}
		return cgStats{Converged: true}, nil
	}

	invDiag := 1 / a.diag()
	r := make([]float64, size)
	z := make([]float64, size)
	p := make([]float64, size)
	ap := make([]float64, size)

	a.apply(ap, x)
	floats.SubTo(r, b, ap)
	precondition(a.g, z, r, invDiag)
	copy(p, z)
	rz := floats.Dot(r, z)

	stats := cgStats{Residual: floats.Norm(r, 2) / bNorm}
	for stats.Iterations < maxIter {
		if stats.Residual <= tol {
			stats.Converged = true
			break
		}
		if stats.Iterations%8 == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}

		a.apply(ap, p)
		pap := floats.Dot(p, ap)
		if pap <= 0 || math.IsNaN(pap) {
			break
		}
		alpha := rz / pap
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, ap)
		precondition(a.g, z, r, invDiag)
		rzNext := floats.Dot(r, z)
		floats.AddScaledTo(p, z, rzNext/rz, p)
		rz = rzNext

		stats.Iterations++
		stats.Residual = floats.Norm(r, 2) / bNorm
	}
	if stats.Residual <= tol {
		stats.Converged = true
	}
	return stats, nil
}

// precondition applies the inverse diagonal: 1/(6+s) inside, 1 on the boundary.
func precondition(g grid, z, r []float64, invDiag float64) {
	n := g.n
	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				c := g.at(i, j, k)
				if g.boundary(i, j, k) {
					z[c] = r[c]
				} else {
					z[c] = r[c] * invDiag
				}
			}
		}
	}
}
