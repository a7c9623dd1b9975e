// Package synthetic generates noisy scans of simple analytic scenes for the
// sample-room tool and for tests.
package synthetic

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"
)

// Surface colors of the generated room.
var (
	FloorColor   = colorful.Color{R: 0.6, G: 0.4, B: 0.2}
	CeilingColor = colorful.Color{R: 0.9, G: 0.9, B: 0.9}
	WallColor    = colorful.Color{R: 0.95, G: 0.95, B: 0.95}
)

// RoomParams describes an axis-aligned box room with one corner at the origin.
type RoomParams struct {
	Width  float64 // extent along X
	Depth  float64 // extent along Y
	Height float64 // extent along Z
	Points int     // approximate total point count
	Noise  float64 // standard deviation of per-axis Gaussian noise
	Seed   uint64
}

// DefaultRoomParams returns a 5m x 5m x 3m room with about 40000 points and
// 1cm noise.
func DefaultRoomParams() RoomParams {
	return RoomParams{
		Width:  5,
		Depth:  5,
		Height: 3,
		Points: 40000,
		Noise:  0.01,
		Seed:   42,
	}
}

// Scan is a generated point cloud plus the analytic normal of the surface
// each point was sampled from.
type Scan struct {
	Cloud       *geometry.PointCloud
	TrueNormals []r3.Vec
}

// Room samples the floor, ceiling and four walls of a box on regular grids of
// equal spacing, so every surface has the same sampling density, and adds
// Gaussian noise.
func Room(p RoomParams) (*Scan, error) {
	if p.Width <= 0 || p.Depth <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("room dimensions must be positive, got %vx%vx%v", p.Width, p.Depth, p.Height)
	}
	if p.Points < 6 {
		return nil, fmt.Errorf("room needs at least 6 points, got %d", p.Points)
	}
	if p.Noise < 0 {
		return nil, fmt.Errorf("noise must be non-negative, got %v", p.Noise)
	}

	area := 2*p.Width*p.Depth + 2*p.Width*p.Height + 2*p.Depth*p.Height
	spacing := math.Sqrt(area / float64(p.Points))
	noise := newNoise(p.Noise, p.Seed)

	scan := &Scan{Cloud: &geometry.PointCloud{}}
	face := func(u, v float64, place func(a, b float64) r3.Vec, normal r3.Vec, c colorful.Color) {
		nu := max(1, int(u/spacing))
		nv := max(1, int(v/spacing))
		du, dv := u/float64(nu), v/float64(nv)
		for i := 0; i < nu; i++ {
			for j := 0; j < nv; j++ {
				pt := place((float64(i)+0.5)*du, (float64(j)+0.5)*dv)
				scan.Cloud.Points = append(scan.Cloud.Points, noise.perturb(pt))
				scan.Cloud.Colors = append(scan.Cloud.Colors, c)
				scan.TrueNormals = append(scan.TrueNormals, normal)
			}
		}
	}

	w, d, h := p.Width, p.Depth, p.Height
	face(w, d, func(a, b float64) r3.Vec { return r3.Vec{X: a, Y: b} }, r3.Vec{Z: 1}, FloorColor)
	face(w, d, func(a, b float64) r3.Vec { return r3.Vec{X: a, Y: b, Z: h} }, r3.Vec{Z: -1}, CeilingColor)
	face(w, h, func(a, b float64) r3.Vec { return r3.Vec{X: a, Z: b} }, r3.Vec{Y: 1}, WallColor)
	face(w, h, func(a, b float64) r3.Vec { return r3.Vec{X: a, Y: d, Z: b} }, r3.Vec{Y: -1}, WallColor)
	face(d, h, func(a, b float64) r3.Vec { return r3.Vec{Y: a, Z: b} }, r3.Vec{X: 1}, WallColor)
	face(d, h, func(a, b float64) r3.Vec { return r3.Vec{X: w, Y: a, Z: b} }, r3.Vec{X: -1}, WallColor)

	return scan, nil
}

// noise perturbs points with independent Gaussian offsets per axis.
type noise struct {
	dist *distuv.Normal
}

func newNoise(sigma float64, seed uint64) noise {
	if sigma == 0 {
		return noise{}
	}
	return noise{dist: &distuv.Normal{
		Mu:    0,
		Sigma: sigma,
		Src:   rand.NewPCG(seed, seed^0x5851f42d4c957f2d),
	}}
}

func (n noise) perturb(p r3.Vec) r3.Vec {
	if n.dist == nil {
		return p
	}
	return r3.Vec{X: p.X + n.dist.Rand(), Y: p.Y + n.dist.Rand(), Z: p.Z + n.dist.Rand()}
}
