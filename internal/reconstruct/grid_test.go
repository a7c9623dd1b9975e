package reconstruct

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestGrid_SplatConservesNormals(t *testing.T) {
	g := newGrid(r3.Vec{X: -1, Y: -1, Z: -1}, 2, 8)
	points := []r3.Vec{{X: 0.13, Y: -0.4, Z: 0.77}, {X: -0.9, Y: 0.2, Z: 0.05}}
	normals := []r3.Vec{{X: 1}, {Y: 0.6, Z: 0.8}}

	vx, vy, vz := g.splat(points, normals)
	cell := g.h * g.h * g.h
	assert.InDelta(t, 1, floats.Sum(vx)*cell, 1e-12)
	assert.InDelta(t, 0.6, floats.Sum(vy)*cell, 1e-12)
	assert.InDelta(t, 0.8, floats.Sum(vz)*cell, 1e-12)
}

func TestGrid_SampleIsTrilinear(t *testing.T) {
	g := newGrid(r3.Vec{}, 1, 4)
	values := make([]float64, g.size())
	for k := 0; k < g.n; k++ {
		for j := 0; j < g.n; j++ {
			for i := 0; i < g.n; i++ {
				p := r3.Vec{X: float64(i) * g.h, Y: float64(j) * g.h, Z: float64(k) * g.h}
				values[g.at(i, j, k)] = 2*p.X - p.Y + 3*p.Z + 1
			}
		}
	}
	for _, p := range []r3.Vec{{X: 0.1, Y: 0.2, Z: 0.3}, {X: 0.99, Y: 0.5, Z: 0.01}, {}} {
		assert.InDelta(t, 2*p.X-p.Y+3*p.Z+1, g.sample(values, p), 1e-12, "at %v", p)
	}
	// Outside the lattice the value is clamped to the nearest face.
	assert.InDelta(t, values[g.at(g.n-1, 0, 0)], g.sample(values, r3.Vec{X: 5}), 1e-12)
}

func TestGrid_ProlongLinearIsExact(t *testing.T) {
	coarse := newGrid(r3.Vec{}, 1, 4)
	fine := newGrid(r3.Vec{}, 1, 8)
	f := func(p r3.Vec) float64 { return p.X + 2*p.Y - p.Z }

	values := make([]float64, coarse.size())
	for k := 0; k < coarse.n; k++ {
		for j := 0; j < coarse.n; j++ {
			for i := 0; i < coarse.n; i++ {
				values[coarse.at(i, j, k)] = f(r3.Vec{X: float64(i) * coarse.h, Y: float64(j) * coarse.h, Z: float64(k) * coarse.h})
			}
		}
	}
	out := fine.prolong(coarse, values)
	for k := 0; k < fine.n; k++ {
		for j := 0; j < fine.n; j++ {
			for i := 0; i < fine.n; i++ {
				want := f(r3.Vec{X: float64(i) * fine.h, Y: float64(j) * fine.h, Z: float64(k) * fine.h})
				if math.Abs(out[fine.at(i, j, k)]-want) > 1e-12 {
					t.Fatalf("node (%d,%d,%d) = %v, want %v", i, j, k, out[fine.at(i, j, k)], want)
				}
			}
		}
	}
}

func TestConjugateGradient_SolvesSystem(t *testing.T) {
	g := newGrid(r3.Vec{}, 1, 8)
	op := screenedLaplacian{g: g, shift: 0.01}

	rng := rand.New(rand.NewPCG(1, 2))
	want := make([]float64, g.size())
	for k := 1; k < g.n-1; k++ {
		for j := 1; j < g.n-1; j++ {
			for i := 1; i < g.n-1; i++ {
				want[g.at(i, j, k)] = rng.NormFloat64()
			}
		}
	}
	b := make([]float64, g.size())
	op.apply(b, want)

	x := make([]float64, g.size())
	stats, err := conjugateGradient(context.Background(), op, b, x, 500, 1e-10)
	require.NoError(t, err)
	assert.True(t, stats.Converged, "residual %v after %d iterations", stats.Residual, stats.Iterations)
	for i := range x {
		if math.Abs(x[i]-want[i]) > 1e-6 {
			t.Fatalf("x[%d] = %v, want %v", i, x[i], want[i])
		}
	}
}

func TestConjugateGradient_ZeroRHS(t *testing.T) {
	g := newGrid(r3.Vec{}, 1, 4)
	x := make([]float64, g.size())
	x[g.at(2, 2, 2)] = 5
	stats, err := conjugateGradient(context.Background(), screenedLaplacian{g: g}, make([]float64, g.size()), x, 10, 1e-6)
	require.NoError(t, err)
	assert.True(t, stats.Converged)
	assert.Zero(t, floats.Norm(x, 2))
}

func TestOctree_CountWithinMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	points := make([]r3.Vec, 2000)
	for i := range points {
		points[i] = r3.Vec{X: rng.Float64(), Y: rng.Float64() * 2, Z: rng.Float64() * 0.5}
	}
	tree := newOctree(points, 6)
	assert.LessOrEqual(t, tree.depth, 6)
	assert.Equal(t, len(points), tree.root.count)

	for q := 0; q < 50; q++ {
		c := r3.Vec{X: rng.Float64(), Y: rng.Float64() * 2, Z: rng.Float64() * 0.5}
		r := rng.Float64() * 0.4
		want := 0
		for _, p := range points {
			if r3.Norm2(r3.Sub(p, c)) <= r*r {
				want++
			}
		}
		if got := tree.CountWithin(c, r); got != want {
			t.Fatalf("CountWithin(%v, %v) = %d, want %d", c, r, got, want)
		}
	}
}

func TestOctree_PaddedCubeContainsPoints(t *testing.T) {
	points := []r3.Vec{{}, {X: 4, Y: 1, Z: 2}}
	tree := newOctree(points, 3)
	assert.InDelta(t, 4*octreePadding, tree.Side(), 1e-12)
	min := tree.Min()
	for _, p := range points {
		for _, d := range []float64{p.X - min.X, p.Y - min.Y, p.Z - min.Z} {
			assert.GreaterOrEqual(t, d, 0.0)
			assert.LessOrEqual(t, d, tree.Side())
		}
	}
}

func TestOctree_CoincidentPointsStopAtMaxDepth(t *testing.T) {
	points := make([]r3.Vec, 100)
	tree := newOctree(points, 4)
	assert.Equal(t, 4, tree.depth)
	assert.Equal(t, 100, tree.CountWithin(r3.Vec{}, 1e-9))
}
