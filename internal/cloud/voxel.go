package cloud

import (
	"fmt"
	"math"

	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/spatial/r3"
)

// Default voxel downsampling parameters.
const (
	DefaultVoxelSize           = 0.02
	DefaultDownsampleThreshold = 100000
)

// VoxelParams controls guarded voxel downsampling.
type VoxelParams struct {
	Size      float64 // voxel edge length in meters
	Threshold int     // downsample only above this many points
}

// DefaultVoxelParams returns the default downsampling parameters.
func DefaultVoxelParams() VoxelParams {
	return VoxelParams{Size: DefaultVoxelSize, Threshold: DefaultDownsampleThreshold}
}

// VoxelKey identifies a grid cell by floor-divided coordinates.
type VoxelKey [3]int64

// KeyFor returns the cell containing p for the given edge length.
func KeyFor(p r3.Vec, size float64) VoxelKey {
	return VoxelKey{
		int64(math.Floor(p.X / size)),
		int64(math.Floor(p.Y / size)),
		int64(math.Floor(p.Z / size)),
	}
}

type voxelAccum struct {
	sum     r3.Vec
	normal  r3.Vec
	r, g, b float64
	count   int
}

// VoxelDownsample replaces every non-empty cell with the centroid of its
// points. Colors are averaged, normals are averaged and renormalised. Output
// points appear in the order their cell was first seen.
func VoxelDownsample(pc *geometry.PointCloud, size float64) (*geometry.PointCloud, error) {
	if size <= 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		return nil, fmt.Errorf("%w: voxel size must be positive and finite, got %v", geometry.ErrInvalidParams, size)
	}
	if pc.Len() == 0 {
		return nil, fmt.Errorf("voxel downsample: %w", geometry.ErrEmptyInput)
	}

	hasColors, hasNormals := pc.HasColors(), pc.HasNormals()
	cells := make(map[VoxelKey]int, pc.Len()/4)
	var accums []voxelAccum

	for i, p := range pc.Points {
		key := KeyFor(p, size)
		slot, ok := cells[key]
		if !ok {
			slot = len(accums)
			cells[key] = slot
			accums = append(accums, voxelAccum{})
		}
		a := &accums[slot]
		a.sum = r3.Add(a.sum, p)
		a.count++
		if hasColors {
			c := pc.Colors[i]
			a.r += c.R
			a.g += c.G
			a.b += c.B
		}
		if hasNormals {
			a.normal = r3.Add(a.normal, pc.Normals[i])
		}
	}

	out := &geometry.PointCloud{Points: make([]r3.Vec, len(accums))}
	if hasColors {
		out.Colors = make([]colorful.Color, len(accums))
	}
	if hasNormals {
		out.Normals = make([]r3.Vec, len(accums))
	}
	for i, a := range accums {
		n := float64(a.count)
		out.Points[i] = r3.Scale(1/n, a.sum)
		if hasColors {
			out.Colors[i] = colorful.Color{R: a.r / n, G: a.g / n, B: a.b / n}
		}
		if hasNormals {
			if l := r3.Norm(a.normal); l > 0 {
				out.Normals[i] = r3.Scale(1/l, a.normal)
			} else {
				out.Normals[i] = r3.Vec{Z: 1}
			}
		}
	}
	return out, nil
}

// DownsampleIfDense applies VoxelDownsample only when the cloud has more than
// Threshold points. Below the threshold the input is returned unchanged and
// applied is false.
func DownsampleIfDense(pc *geometry.PointCloud, params VoxelParams) (out *geometry.PointCloud, applied bool, err error) {
	if pc.Len() <= params.Threshold {
		return pc, false, nil
	}
	out, err = VoxelDownsample(pc, params.Size)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}
