package geometry

import (
	"fmt"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/spatial/r3"
)

// PointCloud is an ordered set of 3D samples. Colors and Normals are either
// empty or hold exactly one entry per point.
type PointCloud struct {
	Points  []r3.Vec
	Colors  []colorful.Color
	Normals []r3.Vec
}

// NewPointCloud wraps points in a cloud without colors or normals.
func NewPointCloud(points []r3.Vec) *PointCloud {
	return &PointCloud{Points: points}
}

// Len returns the number of points.
func (pc *PointCloud) Len() int {
	if pc == nil {
		return 0
	}
	return len(pc.Points)
}

// HasColors reports whether every point carries a color.
func (pc *PointCloud) HasColors() bool {
	return pc.Len() > 0 && len(pc.Colors) == len(pc.Points)
}

// HasNormals reports whether every point carries a normal.
func (pc *PointCloud) HasNormals() bool {
	return pc.Len() > 0 && len(pc.Normals) == len(pc.Points)
}

// Validate checks the attribute invariants and rejects non-finite coordinates.
func (pc *PointCloud) Validate() error {
	if pc.Len() == 0 {
		return ErrEmptyInput
	}
	if n := len(pc.Colors); n != 0 && n != len(pc.Points) {
		return fmt.Errorf("partial color set: %d colors for %d points", n, len(pc.Points))
	}
	if n := len(pc.Normals); n != 0 && n != len(pc.Points) {
		return fmt.Errorf("partial normal set: %d normals for %d points", n, len(pc.Points))
	}
	for i, p := range pc.Points {
		if !finite(p) {
			return fmt.Errorf("point %d has non-finite coordinate %v", i, p)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (pc *PointCloud) Clone() *PointCloud {
	out := &PointCloud{Points: append([]r3.Vec(nil), pc.Points...)}
	if len(pc.Colors) > 0 {
		out.Colors = append([]colorful.Color(nil), pc.Colors...)
	}
	if len(pc.Normals) > 0 {
		out.Normals = append([]r3.Vec(nil), pc.Normals...)
	}
	return out
}

// Subset returns a new cloud holding the given points in the given order,
// carrying over whichever attributes are present.
func (pc *PointCloud) Subset(indices []int) *PointCloud {
	out := &PointCloud{Points: make([]r3.Vec, len(indices))}
	hasColors, hasNormals := pc.HasColors(), pc.HasNormals()
	if hasColors {
		out.Colors = make([]colorful.Color, len(indices))
	}
	if hasNormals {
		out.Normals = make([]r3.Vec, len(indices))
	}
	for i, idx := range indices {
		out.Points[i] = pc.Points[idx]
		if hasColors {
			out.Colors[i] = pc.Colors[idx]
		}
		if hasNormals {
			out.Normals[i] = pc.Normals[idx]
		}
	}
	return out
}

// WithNormals returns a shallow copy of the cloud with the given normals.
func (pc *PointCloud) WithNormals(normals []r3.Vec) *PointCloud {
	return &PointCloud{Points: pc.Points, Colors: pc.Colors, Normals: normals}
}

// Bounds returns the axis-aligned bounding box. The zero box is returned for
// an empty cloud.
func (pc *PointCloud) Bounds() r3.Box {
	return BoundsOf(pc.Points)
}

// BoundsOf returns the axis-aligned bounding box of points.
func BoundsOf(points []r3.Vec) r3.Box {
	if len(points) == 0 {
		return r3.Box{}
	}
	b := r3.Box{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		b.Min.X = math.Min(b.Min.X, p.X)
		b.Min.Y = math.Min(b.Min.Y, p.Y)
		b.Min.Z = math.Min(b.Min.Z, p.Z)
		b.Max.X = math.Max(b.Max.X, p.X)
		b.Max.Y = math.Max(b.Max.Y, p.Y)
		b.Max.Z = math.Max(b.Max.Z, p.Z)
	}
	return b
}

// Centroid returns the mean of points.
func Centroid(points []r3.Vec) r3.Vec {
	var c r3.Vec
	if len(points) == 0 {
		return c
	}
	for _, p := range points {
		c = r3.Add(c, p)
	}
	return r3.Scale(1/float64(len(points)), c)
}

func finite(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}
