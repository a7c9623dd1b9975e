package reconstruct

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/banshee-data/roomscan/internal/monitoring"
	"github.com/banshee-data/roomscan/internal/parallel"
	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"gonum.org/v1/gonum/spatial/r3"
)

// Default Poisson parameters.
const (
	DefaultPoissonDepth            = 9
	DefaultPoissonMaxSolveDepth    = 7
	DefaultPoissonDensityThreshold = 0.01
	DefaultPoissonScreening        = 1.0
	DefaultPoissonMaxIterations    = 200
	DefaultPoissonTolerance        = 1e-4
)

// coarsestSolveDepth is where the cascade starts.
const coarsestSolveDepth = 4

// densityRadiusCells is the support radius, in grid cells, used for vertex
// densities.
const densityRadiusCells = 2

// minPoissonPoints is the smallest cloud Poisson accepts.
const minPoissonPoints = 4

// PoissonParams controls screened Poisson reconstruction.
type PoissonParams struct {
	Depth            int     // octree depth
	MaxSolveDepth    int     // cap on the uniform solve grid depth
	DensityThreshold float64 // vertices with lower normalised support are trimmed
	Screening        float64 // dimensionless screening weight, alpha·side²
	MaxIterations    int     // CG iterations per cascade level
	Tolerance        float64 // relative CG residual
}

// DefaultPoissonParams returns the default Poisson parameters.
func DefaultPoissonParams() PoissonParams {
	return PoissonParams{
		Depth:            DefaultPoissonDepth,
		MaxSolveDepth:    DefaultPoissonMaxSolveDepth,
		DensityThreshold: DefaultPoissonDensityThreshold,
		Screening:        DefaultPoissonScreening,
		MaxIterations:    DefaultPoissonMaxIterations,
		Tolerance:        DefaultPoissonTolerance,
	}
}

// Validate checks the parameter ranges.
func (p PoissonParams) Validate() error {
	switch {
	case p.Depth < 1 || p.Depth > 16:
		return fmt.Errorf("%w: poisson depth must be in [1, 16], got %d", geometry.ErrInvalidParams, p.Depth)
	case p.MaxSolveDepth < 1 || p.MaxSolveDepth > 9:
		return fmt.Errorf("%w: poisson max solve depth must be in [1, 9], got %d", geometry.ErrInvalidParams, p.MaxSolveDepth)
	case p.DensityThreshold < 0 || p.DensityThreshold >= 1:
		return fmt.Errorf("%w: density threshold must be in [0, 1), got %v", geometry.ErrInvalidParams, p.DensityThreshold)
	case p.Screening < 0:
		return fmt.Errorf("%w: screening must be non-negative, got %v", geometry.ErrInvalidParams, p.Screening)
	case p.MaxIterations < 1:
		return fmt.Errorf("%w: max iterations must be positive, got %d", geometry.ErrInvalidParams, p.MaxIterations)
	case p.Tolerance <= 0:
		return fmt.Errorf("%w: tolerance must be positive, got %v", geometry.ErrInvalidParams, p.Tolerance)
	}
	return nil
}

// SolveDepth is the depth of the uniform grid the indicator is solved on.
func (p PoissonParams) SolveDepth() int {
	if p.Depth < p.MaxSolveDepth {
		return p.Depth
	}
	return p.MaxSolveDepth
}

// Poisson reconstructs a closed surface from an oriented cloud.
type Poisson struct {
	params PoissonParams
}

var _ Strategy = (*Poisson)(nil)

// NewPoisson returns a Poisson strategy.
func NewPoisson(params PoissonParams) *Poisson {
	return &Poisson{params: params}
}

// Name implements Strategy.
func (*Poisson) Name() string { return "poisson" }

// Reconstruct implements Strategy. The mesh carries per-vertex densities and
// face-consistent vertex normals.
func (ps *Poisson) Reconstruct(ctx context.Context, pc *geometry.PointCloud) (*geometry.Mesh, error) {
	params := ps.params
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !pc.HasNormals() {
		return nil, fmt.Errorf("poisson: %w", geometry.ErrMissingNormals)
	}
	if pc.Len() < minPoissonPoints {
		return nil, fmt.Errorf("poisson needs %d points, got %d: %w",
			minPoissonPoints, pc.Len(), geometry.ErrInsufficientPoints)
	}
	log := monitoring.Stage("poisson")

	tree := newOctree(pc.Points, params.Depth)
	solveDepth := params.SolveDepth()
	log.Printf("octree: %d nodes, depth %d; solving at depth %d", tree.nodes, tree.depth, solveDepth)

	chi, g, err := ps.solve(ctx, tree, pc, solveDepth)
	if err != nil {
		return nil, err
	}

	var iso float64
	for _, p := range pc.Points {
		iso += g.sample(chi, p)
	}
	iso /= float64(pc.Len())
	if math.IsNaN(iso) || math.IsInf(iso, 0) {
		return nil, fmt.Errorf("%w: poisson iso-value is %v", geometry.ErrReconstructionFailed, iso)
	}
	var peak float64
	for _, v := range chi {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak == 0 || math.Abs(iso) < 1e-9*peak {
		return nil, fmt.Errorf("%w: indicator function is flat", geometry.ErrReconstructionFailed)
	}

	mesh := extractSurface(indicator{g: g, chi: chi, iso: iso}, g.n-1)
	if mesh.TriangleCount() == 0 {
		return nil, fmt.Errorf("%w: marching cubes produced no triangles", geometry.ErrReconstructionFailed)
	}

	if err := assignDensities(ctx, mesh, tree, densityRadiusCells*g.h); err != nil {
		return nil, err
	}
	before := len(mesh.Vertices)
	if params.DensityThreshold > 0 {
		remove := make([]bool, len(mesh.Vertices))
		for i, d := range mesh.Densities {
			remove[i] = d < params.DensityThreshold
		}
		mesh.RemoveVertices(remove)
		mesh.RemoveUnreferencedVertices()
	}
	if mesh.TriangleCount() == 0 {
		return nil, fmt.Errorf("%w: density trimming at %v removed every triangle",
			geometry.ErrReconstructionFailed, params.DensityThreshold)
	}
	log.Printf("surface: %d vertices (%d trimmed), %d triangles",
		len(mesh.Vertices), before-len(mesh.Vertices), mesh.TriangleCount())

	mesh.ComputeVertexNormals()
	return mesh, nil
}

// solve runs the cascade from coarsestSolveDepth to depth, each level
// starting from the prolonged solution of the previous one.
func (ps *Poisson) solve(ctx context.Context, tree *octree, pc *geometry.PointCloud, depth int) ([]float64, grid, error) {
	params := ps.params
	log := monitoring.Stage("poisson")
	side := tree.Side()

	var (
		chi  []float64
		prev grid
	)
	start := coarsestSolveDepth
	if start > depth {
		start = depth
	}
	for d := start; d <= depth; d++ {
		cells := 1 << d
		g := newGrid(tree.Min(), side, cells)
		vx, vy, vz := g.splat(pc.Points, pc.Normals)
		b := g.poissonRHS(vx, vy, vz)

		x := make([]float64, g.size())
		if chi != nil {
			x = g.prolong(prev, chi)
		}
		op := screenedLaplacian{g: g, shift: params.Screening / float64(cells*cells)}
		stats, err := conjugateGradient(ctx, op, b, x, params.MaxIterations, params.Tolerance)
		if err != nil {
			return nil, grid{}, fmt.Errorf("poisson solve at depth %d: %w", d, err)
		}
		if math.IsNaN(stats.Residual) {
			return nil, grid{}, fmt.Errorf("%w: poisson solve diverged at depth %d", geometry.ErrReconstructionFailed, d)
		}
		if !stats.Converged && d == depth {
			log.Warnf("depth %d stopped after %d iterations at residual %.2e", d, stats.Iterations, stats.Residual)
		}
		chi, prev = x, g
	}
	return chi, prev, nil
}

// indicator exposes chi - iso as an sdfx SDF3. Triangles produced by sdfx
// face increasing values, which is the direction of the input normals.
type indicator struct {
	g   grid
	chi []float64
	iso float64
}

var _ sdf.SDF3 = indicator{}

func (f indicator) Evaluate(p v3.Vec) float64 {
	return f.g.sample(f.chi, r3.Vec{X: p.X, Y: p.Y, Z: p.Z}) - f.iso
}

func (f indicator) BoundingBox() sdf.Box3 {
	o := f.g.origin
	side := f.g.h * float64(f.g.n-1)
	return sdf.Box3{
		Min: v3.Vec{X: o.X, Y: o.Y, Z: o.Z},
		Max: v3.Vec{X: o.X + side, Y: o.Y + side, Z: o.Z + side},
	}
}

// extractSurface runs marching cubes over s and welds the triangle soup
// into an indexed mesh.
func extractSurface(s indicator, cells int) *geometry.Mesh {
	soup := render.ToTriangles(s, render.NewMarchingCubesUniform(cells))

	mesh := &geometry.Mesh{
		Vertices:  make([]r3.Vec, 0, 3*len(soup)),
		Triangles: make([]geometry.Triangle, 0, len(soup)),
	}
	for _, tri := range soup {
		base := len(mesh.Vertices)
		for j := 0; j < 3; j++ {
			v := tri[j]
			mesh.Vertices = append(mesh.Vertices, r3.Vec{X: v.X, Y: v.Y, Z: v.Z})
		}
		mesh.Triangles = append(mesh.Triangles, geometry.Triangle{base, base + 1, base + 2})
	}
	mesh.WeldVertices(s.g.h * 1e-6)

	// Marching cubes emits slivers where the level set touches a node.
	kept := mesh.Triangles[:0]
	for _, t := range mesh.Triangles {
		if !t.HasRepeatedIndex() {
			kept = append(kept, t)
		}
	}
	mesh.Triangles = kept
	mesh.RemoveUnreferencedVertices()
	return mesh
}

// assignDensities stores the normalised sample support of every vertex.
func assignDensities(ctx context.Context, mesh *geometry.Mesh, tree *octree, radius float64) error {
	counts := make([]float64, len(mesh.Vertices))
	err := parallel.For(ctx, len(mesh.Vertices), func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			counts[i] = float64(tree.CountWithin(mesh.Vertices[i], radius))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("poisson densities: %w", err)
	}
	var max float64
	for _, c := range counts {
		max = math.Max(max, c)
	}
	if max > 0 {
		for i := range counts {
			counts[i] /= max
		}
	}
	mesh.Densities = counts
	return nil
}
