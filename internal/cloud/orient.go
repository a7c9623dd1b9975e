package cloud

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/roomscan/internal/spatial"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
	"gonum.org/v1/gonum/spatial/r3"
)

// OrientNormals flips normals in place so that neighbors along a minimum
// spanning forest of the k-nearest-neighbor graph agree in sign. Edge
// weights are 1-|n_i.n_j|, so the forest follows the smoothest paths. Each
// tree is rooted at its lowest point index and the root keeps its sign.
// It returns the number of flipped normals and the number of trees.
func OrientNormals(ctx context.Context, idx *spatial.Index, normals []r3.Vec, k int) (flipped, components int, err error) {
	n := len(normals)
	if n == 0 {
		return 0, 0, nil
	}
	if idx.Len() != n {
		return 0, 0, fmt.Errorf("orient normals: index has %d points, got %d normals", idx.Len(), n)
	}

	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	for i := 0; i < n; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, 0, err
			}
		}
		for _, nb := range idx.KNearestExcluding(i, k) {
			j := nb.Index
			if j == i || g.HasEdgeBetween(int64(i), int64(j)) {
				continue
			}
			w := 1 - math.Abs(r3.Dot(normals[i], normals[j]))
			g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(i), simple.Node(j), math.Max(w, 0)))
		}
	}

	forest := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	path.Prim(forest, g)

	oriented := make([]bool, n)
	bfs := traverse.BreadthFirst{
		Traverse: func(e graph.Edge) bool {
			u, v := int(e.From().ID()), int(e.To().ID())
			switch {
			case oriented[u] && !oriented[v]:
				if orientTo(normals, u, v) {
					flipped++
				}
				oriented[v] = true
			case oriented[v] && !oriented[u]:
				if orientTo(normals, v, u) {
					flipped++
				}
				oriented[u] = true
			}
			return true
		},
	}

	// Node IDs are point indices, so scanning in order roots every tree at
	// its lowest index.
	for i := 0; i < n; i++ {
		if oriented[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		oriented[i] = true
		components++
		if forest.Node(int64(i)) == nil {
			continue
		}
		bfs.Walk(forest, simple.Node(i), nil)
	}
	return flipped, components, nil
}

// orientTo flips normals[to] when it disagrees with normals[from].
func orientTo(normals []r3.Vec, from, to int) bool {
	if r3.Dot(normals[from], normals[to]) < 0 {
		normals[to] = r3.Scale(-1, normals[to])
		return true
	}
	return false
}
