// Package spatial provides the read-only nearest-neighbor index shared by
// the point-cloud stages.
package spatial

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/roomscan/internal/geometry"
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// Neighbor is a query hit: the input index of a point and its Euclidean
// distance from the query.
type Neighbor struct {
	Index    int
	Distance float64
}

// Index answers k-nearest and radius queries over a fixed point snapshot.
// It is never mutated after Build and is safe for concurrent queries.
type Index struct {
	points []r3.Vec
	tree   *kdtree.Tree
}

// Build constructs an index over a copy of points.
func Build(points []r3.Vec) (*Index, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("build spatial index: %w", geometry.ErrEmptyInput)
	}
	snapshot := append([]r3.Vec(nil), points...)
	tagged := make(taggedPoints, len(snapshot))
	for i, p := range snapshot {
		tagged[i] = taggedPoint{Vec: p, index: i}
	}
	// kdtree.New reorders tagged in place; snapshot keeps input order.
	return &Index{points: snapshot, tree: kdtree.New(tagged, false)}, nil
}

// Len returns the number of indexed points.
func (idx *Index) Len() int { return len(idx.points) }

// Point returns the stored coordinate of point i.
func (idx *Index) Point(i int) r3.Vec { return idx.points[i] }

// KNearest returns up to k nearest points to q, ascending by distance with
// ties broken by input index.
func (idx *Index) KNearest(q r3.Vec, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	hits := idx.nearestN(q, k)
	if len(hits) < k {
		return hits
	}
	// Points tied with the farthest hit may have been dropped by the
	// keeper in favour of a higher index. Gather the full tie set.
	far := hits[len(hits)-1].Distance
	ties := idx.Radius(q, far)
	if len(ties) <= k {
		return hits
	}
	sortNeighbors(ties)
	return ties[:k]
}

// KNearestExcluding returns up to k nearest neighbors of stored point i,
// excluding i itself.
func (idx *Index) KNearestExcluding(i, k int) []Neighbor {
	hits := idx.KNearest(idx.points[i], k+1)
	out := hits[:0]
	for _, h := range hits {
		if h.Index != i {
			out = append(out, h)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// NearestDistances returns the distances from stored point i to its k nearest
// other points, ascending. It skips the tie resolution of KNearest since only
// distances are reported.
func (idx *Index) NearestDistances(i, k int) []float64 {
	hits := idx.nearestN(idx.points[i], k+1)
	out := make([]float64, 0, k)
	skipped := false
	for _, h := range hits {
		if h.Index == i && !skipped {
			skipped = true
			continue
		}
		out = append(out, h.Distance)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Radius returns all points within r of q, in no particular order.
func (idx *Index) Radius(q r3.Vec, r float64) []Neighbor {
	if r < 0 {
		return nil
	}
	// Distances are compared squared; a small relative slack keeps points
	// exactly on the sphere.
	keep := kdtree.NewDistKeeper(r * r * (1 + 1e-12))
	idx.tree.NearestSet(keep, taggedPoint{Vec: q, index: -1})
	return collect(keep.Heap)
}

// Hybrid returns the points within r of q, nearest first, capped at maxNN.
func (idx *Index) Hybrid(q r3.Vec, r float64, maxNN int) []Neighbor {
	hits := idx.KNearest(q, maxNN)
	for i, h := range hits {
		if h.Distance > r {
			return hits[:i]
		}
	}
	return hits
}

// MeanNearestDistance returns the mean distance from each point to its
// nearest other point. A single-point index returns 0.
func (idx *Index) MeanNearestDistance() float64 {
	if len(idx.points) < 2 {
		return 0
	}
	var sum float64
	for i := range idx.points {
		d := idx.NearestDistances(i, 1)
		if len(d) > 0 {
			sum += d[0]
		}
	}
	return sum / float64(len(idx.points))
}

func (idx *Index) nearestN(q r3.Vec, k int) []Neighbor {
	keep := kdtree.NewNKeeper(k)
	idx.tree.NearestSet(keep, taggedPoint{Vec: q, index: -1})
	hits := collect(keep.Heap)
	sortNeighbors(hits)
	return hits
}

// collect converts keeper contents, dropping the sentinel entries the
// keepers are seeded with.
func collect(heap kdtree.Heap) []Neighbor {
	out := make([]Neighbor, 0, len(heap))
	for _, cd := range heap {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, Neighbor{
			Index:    cd.Comparable.(taggedPoint).index,
			Distance: math.Sqrt(cd.Dist),
		})
	}
	return out
}

func sortNeighbors(n []Neighbor) {
	sort.Slice(n, func(i, j int) bool {
		if n[i].Distance != n[j].Distance {
			return n[i].Distance < n[j].Distance
		}
		return n[i].Index < n[j].Index
	})
}
