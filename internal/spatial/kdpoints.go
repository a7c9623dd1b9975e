package spatial

import (
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// taggedPoint is a kdtree.Comparable that remembers its input index so
// query results can be mapped back after the tree reorders its storage.
type taggedPoint struct {
	r3.Vec
	index int
}

// Compare returns the signed distance of p from the plane through c
// perpendicular to dimension d.
func (p taggedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(taggedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("spatial: illegal dimension")
	}
}

// Dims returns the number of dimensions.
func (p taggedPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between p and c.
func (p taggedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(taggedPoint)
	return r3.Norm2(r3.Sub(p.Vec, q.Vec))
}

// taggedPoints implements kdtree.Interface.
type taggedPoints []taggedPoint

func (p taggedPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p taggedPoints) Len() int                      { return len(p) }
func (p taggedPoints) Pivot(d kdtree.Dim) int {
	return plane{taggedPoints: p, Dim: d}.Pivot()
}
func (p taggedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane implements kdtree.SortSlicer along a single dimension.
type plane struct {
	kdtree.Dim
	taggedPoints
}

func (p plane) Less(i, j int) bool {
	a, b := p.taggedPoints[i], p.taggedPoints[j]
	switch p.Dim {
	case 0:
		return a.X < b.X
	case 1:
		return a.Y < b.Y
	case 2:
		return a.Z < b.Z
	default:
		panic("spatial: illegal dimension")
	}
}

func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.taggedPoints = p.taggedPoints[start:end]
	return p
}

func (p plane) Swap(i, j int) {
	p.taggedPoints[i], p.taggedPoints[j] = p.taggedPoints[j], p.taggedPoints[i]
}
