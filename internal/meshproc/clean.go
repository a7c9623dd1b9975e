package meshproc

import (
	"github.com/banshee-data/roomscan/internal/geometry"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultMergeTolerance is the distance under which two vertices are merged.
const DefaultMergeTolerance = 1e-9

// CleanParams controls Clean.
type CleanParams struct {
	MergeTolerance float64
}

// DefaultCleanParams returns the default cleanup parameters.
func DefaultCleanParams() CleanParams {
	return CleanParams{MergeTolerance: DefaultMergeTolerance}
}

// CleanStats counts what each cleanup step removed.
type CleanStats struct {
	MergedVertices       int
	DuplicateTriangles   int
	DegenerateTriangles  int
	NonManifoldTriangles int
	UnreferencedVertices int
}

// Changed reports whether the cleanup removed anything.
func (s CleanStats) Changed() bool {
	return s != CleanStats{}
}

// Clean returns a repaired copy of mesh. The steps run in a fixed order and
// a second call on the result changes nothing. Densities are dropped and
// vertex normals are recomputed.
func Clean(mesh *geometry.Mesh, params CleanParams) (*geometry.Mesh, *CleanStats) {
	stats := &CleanStats{}
	if mesh == nil {
		return &geometry.Mesh{}, stats
	}
	m := mesh.Clone()
	m.Densities = nil

	stats.MergedVertices = m.WeldVertices(params.MergeTolerance)
	stats.DuplicateTriangles = dropDuplicateTriangles(m)
	stats.DegenerateTriangles = dropDegenerateTriangles(m)
	stats.NonManifoldTriangles = dropNonManifoldTriangles(m)
	stats.UnreferencedVertices = m.RemoveUnreferencedVertices()
	m.ComputeVertexNormals()
	return m, stats
}

// dropDuplicateTriangles keeps the first triangle of every vertex set.
func dropDuplicateTriangles(m *geometry.Mesh) int {
	seen := make(map[[3]int]struct{}, len(m.Triangles))
	kept := m.Triangles[:0]
	for _, t := range m.Triangles {
		k := t.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, t)
	}
	removed := len(m.Triangles) - len(kept)
	m.Triangles = kept
	return removed
}

func dropDegenerateTriangles(m *geometry.Mesh) int {
	kept := m.Triangles[:0]
	for _, t := range m.Triangles {
		if t.HasRepeatedIndex() || r3.Norm2(m.FaceCross(t)) == 0 {
			continue
		}
		kept = append(kept, t)
	}
	removed := len(m.Triangles) - len(kept)
	m.Triangles = kept
	return removed
}

// dropNonManifoldTriangles walks the triangles in order and drops any that
// would give one of its edges a third face.
func dropNonManifoldTriangles(m *geometry.Mesh) int {
	faces := make(map[geometry.Edge]int, len(m.Triangles)*3/2)
	kept := m.Triangles[:0]
	for _, t := range m.Triangles {
		edges := t.Edges()
		if faces[edges[0]] >= 2 || faces[edges[1]] >= 2 || faces[edges[2]] >= 2 {
			continue
		}
		for _, e := range edges {
			faces[e]++
		}
		kept = append(kept, t)
	}
	removed := len(m.Triangles) - len(kept)
	m.Triangles = kept
	return removed
}
