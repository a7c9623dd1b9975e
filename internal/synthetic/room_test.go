package synthetic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestRoom_DefaultLayout(t *testing.T) {
	scan, err := Room(DefaultRoomParams())
	require.NoError(t, err)
	require.NoError(t, scan.Cloud.Validate())

	n := scan.Cloud.Len()
	assert.InDelta(t, 40000, n, 1000, "point count")
	assert.True(t, scan.Cloud.HasColors())
	assert.Len(t, scan.TrueNormals, n)

	b := scan.Cloud.Bounds()
	assert.InDelta(t, 0, b.Min.Z, 0.06)
	assert.InDelta(t, 3, b.Max.Z, 0.06)
	assert.InDelta(t, 5, b.Max.X, 0.06)
}

func TestRoom_PointsLieOnTheirSurface(t *testing.T) {
	p := DefaultRoomParams()
	p.Noise = 0
	p.Points = 2000
	scan, err := Room(p)
	require.NoError(t, err)

	for i, pt := range scan.Cloud.Points {
		n := scan.TrueNormals[i]
		// Distance to the face plane along its normal must be zero.
		var off float64
		switch {
		case n.Z != 0:
			off = math.Min(math.Abs(pt.Z), math.Abs(pt.Z-p.Height))
		case n.Y != 0:
			off = math.Min(math.Abs(pt.Y), math.Abs(pt.Y-p.Depth))
		default:
			off = math.Min(math.Abs(pt.X), math.Abs(pt.X-p.Width))
		}
		if off > 1e-12 {
			t.Fatalf("point %d %v is off its surface by %v", i, pt, off)
		}
	}
}

func TestRoom_Deterministic(t *testing.T) {
	a, _ := Room(DefaultRoomParams())
	b, _ := Room(DefaultRoomParams())
	assert.Equal(t, a.Cloud.Points[:100], b.Cloud.Points[:100])
}

func TestRoom_InvalidParams(t *testing.T) {
	p := DefaultRoomParams()
	p.Height = 0
	_, err := Room(p)
	assert.Error(t, err)

	p = DefaultRoomParams()
	p.Points = 1
	_, err = Room(p)
	assert.Error(t, err)
}

func TestSphere_RadiusAndNormals(t *testing.T) {
	center := r3.Vec{X: 1, Y: 2, Z: 3}
	scan := Sphere(center, 2, 500, 0, 1)
	for i, p := range scan.Cloud.Points {
		assert.InDelta(t, 2, r3.Norm(r3.Sub(p, center)), 1e-9)
		assert.InDelta(t, 1, r3.Dot(scan.Cloud.Normals[i], r3.Unit(r3.Sub(p, center))), 1e-9)
	}
}

func TestWithOutliers_OutsideBounds(t *testing.T) {
	base := Plane(10, 10, 0.1, 0, 1).Cloud
	pc, injected := WithOutliers(base, 5, 7)
	require.Len(t, injected, 5)
	assert.Equal(t, base.Len()+5, pc.Len())
	b := base.Bounds()
	for _, i := range injected {
		p := pc.Points[i]
		inside := p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y && p.Z >= b.Min.Z && p.Z <= b.Max.Z
		assert.False(t, inside, "outlier %d at %v is inside the bounds", i, p)
	}
}

func TestWithOutliers_KeepsColors(t *testing.T) {
	scan, err := Room(RoomParams{Width: 2, Depth: 2, Height: 1, Points: 500, Seed: 4})
	require.NoError(t, err)
	require.True(t, scan.Cloud.HasColors())

	pc, injected := WithOutliers(scan.Cloud, 10, 9)
	require.NoError(t, pc.Validate())
	require.True(t, pc.HasColors())
	assert.Equal(t, scan.Cloud.Colors, pc.Colors[:scan.Cloud.Len()])
	for _, i := range injected {
		assert.Equal(t, OutlierColor, pc.Colors[i])
	}
	assert.False(t, pc.HasNormals())

	pc.Colors[0] = OutlierColor
	assert.NotEqual(t, OutlierColor, scan.Cloud.Colors[0], "the input is not modified")
}
