package cloud

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/banshee-data/roomscan/internal/monitoring"
	"github.com/banshee-data/roomscan/internal/spatial"
	"github.com/banshee-data/roomscan/internal/synthetic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestNormalParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  NormalParams
		wantErr bool
	}{
		{"defaults", DefaultNormalParams(), false},
		{"zero radius", NormalParams{Radius: 0, MaxNeighbors: 30, OrientK: 15}, true},
		{"too few neighbors", NormalParams{Radius: 0.1, MaxNeighbors: 2, OrientK: 15}, true},
		{"zero orient k", NormalParams{Radius: 0.1, MaxNeighbors: 30, OrientK: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEstimateNormals_InsufficientPoints(t *testing.T) {
	pc := geometry.NewPointCloud([]r3.Vec{{}, {X: 1}, {Y: 1}})
	_, err := EstimateNormals(context.Background(), pc, DefaultNormalParams())
	if !errors.Is(err, geometry.ErrInsufficientPoints) {
		t.Fatalf("error = %v, want ErrInsufficientPoints", err)
	}
}

func TestEstimateNormals_PlaneIsConsistent(t *testing.T) {
	scan := synthetic.Plane(30, 30, 0.02, 0.001, 4)
	pc := &geometry.PointCloud{Points: scan.Cloud.Points}

	res, err := EstimateNormals(context.Background(), pc, DefaultNormalParams())
	require.NoError(t, err)
	require.True(t, res.Cloud.HasNormals())
	assert.Empty(t, res.Degenerate)
	assert.Equal(t, 1, res.Components)

	// All normals must be unit length, near +-Z, and share one sign.
	sign := math.Copysign(1, res.Cloud.Normals[0].Z)
	for i, n := range res.Cloud.Normals {
		assert.InDelta(t, 1, r3.Norm(n), 1e-9, "normal %d", i)
		if n.Z*sign < 0.95 {
			t.Fatalf("normal %d = %v disagrees with the plane orientation", i, n)
		}
	}
	assert.False(t, pc.HasNormals(), "input cloud was mutated")
}

func TestEstimateNormals_SphereOrientationConsistent(t *testing.T) {
	scan := synthetic.Sphere(r3.Vec{}, 1, 3000, 0, 2)
	pc := &geometry.PointCloud{Points: scan.Cloud.Points}

	params := DefaultNormalParams()
	params.Radius = 0.2
	res, err := EstimateNormals(context.Background(), pc, params)
	require.NoError(t, err)

	// The propagated sign is arbitrary but must be the same everywhere.
	outward := 0
	for i, n := range res.Cloud.Normals {
		d := r3.Dot(n, scan.TrueNormals[i])
		if math.Abs(d) < 0.95 {
			t.Fatalf("normal %d = %v is not radial", i, n)
		}
		if d > 0 {
			outward++
		}
	}
	if outward != 0 && outward != pc.Len() {
		t.Errorf("inconsistent orientation: %d of %d outward", outward, pc.Len())
	}
}

func TestEstimateNormals_DegenerateFallback(t *testing.T) {
	// A dense patch plus one isolated point far away.
	scan := synthetic.Plane(10, 10, 0.02, 0, 1)
	points := append([]r3.Vec(nil), scan.Cloud.Points...)
	points = append(points, r3.Vec{X: 10, Y: 10, Z: 10})
	pc := geometry.NewPointCloud(points)

	var logged bool
	orig := monitoring.Logf
	monitoring.SetLogger(func(string, ...interface{}) { logged = true })
	defer func() { monitoring.Logf = orig }()

	res, err := EstimateNormals(context.Background(), pc, DefaultNormalParams())
	require.NoError(t, err)
	assert.Equal(t, []int{len(points) - 1}, res.Degenerate)
	assert.InDelta(t, 1, r3.Norm(res.Cloud.Normals[len(points)-1]), 1e-12)
	assert.True(t, logged, "degenerate points should be logged as a warning")

	params := DefaultNormalParams()
	params.FailOnDegenerate = true
	_, err = EstimateNormals(context.Background(), pc, params)
	assert.ErrorIs(t, err, geometry.ErrDegenerateNeighborhood)
}

func TestOrientNormals_FlipsAlongTree(t *testing.T) {
	// A line of points with alternating normal signs.
	pts := make([]r3.Vec, 20)
	normals := make([]r3.Vec, 20)
	for i := range pts {
		pts[i] = r3.Vec{X: float64(i)}
		normals[i] = r3.Vec{Z: math.Pow(-1, float64(i))}
	}
	idx, err := spatial.Build(pts)
	require.NoError(t, err)

	flipped, components, err := OrientNormals(context.Background(), idx, normals, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, components)
	assert.Equal(t, 10, flipped)
	for i, n := range normals {
		assert.Equal(t, 1.0, n.Z, "normal %d", i)
	}
}

func TestOrientNormals_DisconnectedComponents(t *testing.T) {
	pts := []r3.Vec{{}, {X: 0.1}, {X: 0.2}, {X: 50}, {X: 50.1}, {X: 50.2}}
	normals := []r3.Vec{{Z: 1}, {Z: -1}, {Z: 1}, {Z: -1}, {Z: 1}, {Z: 1}}
	idx, _ := spatial.Build(pts)

	_, components, err := OrientNormals(context.Background(), idx, normals, 2)
	require.NoError(t, err)
	// k=2 links each triple internally; the triples are never linked to each other.
	assert.Equal(t, 2, components)
	assert.Equal(t, []r3.Vec{{Z: 1}, {Z: 1}, {Z: 1}, {Z: -1}, {Z: -1}, {Z: -1}}, normals)
}
