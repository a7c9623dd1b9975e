package cloud

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/banshee-data/roomscan/internal/monitoring"
	"github.com/banshee-data/roomscan/internal/parallel"
	"github.com/banshee-data/roomscan/internal/spatial"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Default normal estimation parameters.
const (
	DefaultNormalRadius       = 0.1
	DefaultNormalMaxNeighbors = 30
	DefaultNormalOrientK      = 15
)

// minPlaneNeighbors is the smallest neighborhood, the point itself
// included, that defines a plane.
const minPlaneNeighbors = 3

// minNormalPoints is the smallest cloud normal estimation accepts.
const minNormalPoints = 4

// fallbackNormal is assigned to points whose neighborhood is degenerate.
var fallbackNormal = r3.Vec{Z: 1}

// NormalParams controls normal estimation and orientation.
type NormalParams struct {
	Radius           float64 // neighborhood search radius
	MaxNeighbors     int     // nearest-first cap on the neighborhood
	OrientK          int     // neighbors per point in the orientation graph
	FailOnDegenerate bool    // fail the whole operation on any degenerate point
}

// DefaultNormalParams returns the default normal estimation parameters.
func DefaultNormalParams() NormalParams {
	return NormalParams{
		Radius:       DefaultNormalRadius,
		MaxNeighbors: DefaultNormalMaxNeighbors,
		OrientK:      DefaultNormalOrientK,
	}
}

// Validate checks the parameter ranges.
func (p NormalParams) Validate() error {
	if p.Radius <= 0 {
		return fmt.Errorf("%w: normal radius must be positive, got %v", geometry.ErrInvalidParams, p.Radius)
	}
	if p.MaxNeighbors < minPlaneNeighbors {
		return fmt.Errorf("%w: normal max neighbors must be at least %d, got %d",
			geometry.ErrInvalidParams, minPlaneNeighbors, p.MaxNeighbors)
	}
	if p.OrientK < 1 {
		return fmt.Errorf("%w: orientation k must be positive, got %d", geometry.ErrInvalidParams, p.OrientK)
	}
	return nil
}

// NormalResult is the output of EstimateNormals.
type NormalResult struct {
	Cloud *geometry.PointCloud

	// Degenerate lists points whose neighborhood was too small for a plane
	// fit. They carry an arbitrary unit normal.
	Degenerate []int

	// Flipped counts normals reversed during orientation.
	Flipped int

	// Components is the number of trees in the orientation forest.
	Components int
}

// EstimateNormals fits a local plane at every point and then propagates a
// consistent sign over a minimum spanning tree of the neighbor graph.
func EstimateNormals(ctx context.Context, pc *geometry.PointCloud, params NormalParams) (*NormalResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if pc.Len() < minNormalPoints {
		return nil, fmt.Errorf("normal estimation needs %d points, got %d: %w",
			minNormalPoints, pc.Len(), geometry.ErrInsufficientPoints)
	}

	idx, err := spatial.Build(pc.Points)
	if err != nil {
		return nil, err
	}

	normals := make([]r3.Vec, pc.Len())
	var (
		mu         sync.Mutex
		degenerate []int
	)
	err = parallel.For(ctx, pc.Len(), func(_ context.Context, lo, hi int) error {
		var local []int
		for i := lo; i < hi; i++ {
			hood := idx.Hybrid(pc.Points[i], params.Radius, params.MaxNeighbors)
			n, ok := planeNormal(pc.Points, hood)
			if !ok {
				normals[i] = fallbackNormal
				local = append(local, i)
				continue
			}
			normals[i] = n
		}
		if len(local) > 0 {
			mu.Lock()
			degenerate = append(degenerate, local...)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("normal plane fits: %w", err)
	}
	sort.Ints(degenerate)

	if len(degenerate) > 0 {
		if params.FailOnDegenerate {
			return nil, fmt.Errorf("%d of %d points (first %d): %w",
				len(degenerate), pc.Len(), degenerate[0], geometry.ErrDegenerateNeighborhood)
		}
		monitoring.Stage("normals").Warnf("%d of %d points have degenerate neighborhoods; assigned %v",
			len(degenerate), pc.Len(), fallbackNormal)
	}

	flipped, components, err := OrientNormals(ctx, idx, normals, params.OrientK)
	if err != nil {
		return nil, err
	}

	return &NormalResult{
		Cloud:      pc.Clone().WithNormals(normals),
		Degenerate: degenerate,
		Flipped:    flipped,
		Components: components,
	}, nil
}

// planeNormal returns the least-variance direction of the neighborhood, or
// false when the neighborhood cannot define a plane.
func planeNormal(points []r3.Vec, hood []spatial.Neighbor) (r3.Vec, bool) {
	if len(hood) < minPlaneNeighbors {
		return r3.Vec{}, false
	}

	var centroid r3.Vec
	for _, h := range hood {
		centroid = r3.Add(centroid, points[h.Index])
	}
	centroid = r3.Scale(1/float64(len(hood)), centroid)

	var xx, xy, xz, yy, yz, zz float64
	for _, h := range hood {
		d := r3.Sub(points[h.Index], centroid)
		xx += d.X * d.X
		xy += d.X * d.Y
		xz += d.X * d.Z
		yy += d.Y * d.Y
		yz += d.Y * d.Z
		zz += d.Z * d.Z
	}
	n := float64(len(hood))
	cov := mat.NewSymDense(3, []float64{
		xx / n, xy / n, xz / n,
		xy / n, yy / n, yz / n,
		xz / n, yz / n, zz / n,
	})

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return r3.Vec{}, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Eigenvalues are ascending; column 0 is the least-variance direction.
	normal := r3.Vec{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	l := r3.Norm(normal)
	if l == 0 {
		return r3.Vec{}, false
	}
	return r3.Scale(1/l, normal), true
}
