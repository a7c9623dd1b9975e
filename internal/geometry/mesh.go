package geometry

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Triangle holds three vertex indices in counter-clockwise order.
type Triangle [3]int

// Edge is an undirected mesh edge with the smaller index first.
type Edge [2]int

// NewEdge returns the canonical undirected edge between a and b.
func NewEdge(a, b int) Edge {
	if a > b {
		a, b = b, a
	}
	return Edge{a, b}
}

// Edges returns the three undirected edges of t.
func (t Triangle) Edges() [3]Edge {
	return [3]Edge{NewEdge(t[0], t[1]), NewEdge(t[1], t[2]), NewEdge(t[2], t[0])}
}

// Key returns the vertex set of t sorted ascending, identical for any winding.
func (t Triangle) Key() [3]int {
	a, b, c := t[0], t[1], t[2]
	if a > b {
		a, b = b, a
	}
	if b > c {
		b, c = c, b
	}
	if a > b {
		a, b = b, a
	}
	return [3]int{a, b, c}
}

// HasRepeatedIndex reports whether any two corners share a vertex.
func (t Triangle) HasRepeatedIndex() bool {
	return t[0] == t[1] || t[1] == t[2] || t[0] == t[2]
}

// Mesh is an indexed triangle mesh. Normals and Densities are either empty
// or hold one entry per vertex. Densities only survive until trimming.
type Mesh struct {
	Vertices  []r3.Vec
	Normals   []r3.Vec
	Densities []float64
	Triangles []Triangle
}

// Validate checks index ranges and attribute lengths.
func (m *Mesh) Validate() error {
	if m == nil {
		return ErrEmptyInput
	}
	if n := len(m.Normals); n != 0 && n != len(m.Vertices) {
		return fmt.Errorf("partial normal set: %d normals for %d vertices", n, len(m.Vertices))
	}
	if n := len(m.Densities); n != 0 && n != len(m.Vertices) {
		return fmt.Errorf("partial density set: %d densities for %d vertices", n, len(m.Vertices))
	}
	for i, t := range m.Triangles {
		for _, v := range t {
			if v < 0 || v >= len(m.Vertices) {
				return fmt.Errorf("triangle %d references vertex %d out of range [0,%d)", i, v, len(m.Vertices))
			}
		}
	}
	return nil
}

// Clone returns a deep copy.
func (m *Mesh) Clone() *Mesh {
	out := &Mesh{
		Vertices:  append([]r3.Vec(nil), m.Vertices...),
		Triangles: append([]Triangle(nil), m.Triangles...),
	}
	if len(m.Normals) > 0 {
		out.Normals = append([]r3.Vec(nil), m.Normals...)
	}
	if len(m.Densities) > 0 {
		out.Densities = append([]float64(nil), m.Densities...)
	}
	return out
}

// TriangleCount returns the number of triangles; zero for a nil mesh.
func (m *Mesh) TriangleCount() int {
	if m == nil {
		return 0
	}
	return len(m.Triangles)
}

// FaceCross returns the unnormalised face normal of t, whose length is twice
// the triangle area.
func (m *Mesh) FaceCross(t Triangle) r3.Vec {
	a := m.Vertices[t[0]]
	return r3.Cross(r3.Sub(m.Vertices[t[1]], a), r3.Sub(m.Vertices[t[2]], a))
}

// FaceNormal returns the unit normal of t, or the zero vector when t has no area.
func (m *Mesh) FaceNormal(t Triangle) r3.Vec {
	c := m.FaceCross(t)
	n := r3.Norm(c)
	if n == 0 {
		return r3.Vec{}
	}
	return r3.Scale(1/n, c)
}

// TriangleArea returns the area of t.
func (m *Mesh) TriangleArea(t Triangle) float64 {
	return r3.Norm(m.FaceCross(t)) / 2
}

// SurfaceArea returns the total triangle area.
func (m *Mesh) SurfaceArea() float64 {
	var area float64
	for _, t := range m.Triangles {
		area += m.TriangleArea(t)
	}
	return area
}

// EdgeFaceCounts returns how many triangles touch each undirected edge.
func (m *Mesh) EdgeFaceCounts() map[Edge]int {
	counts := make(map[Edge]int, len(m.Triangles)*3/2)
	for _, t := range m.Triangles {
		for _, e := range t.Edges() {
			counts[e]++
		}
	}
	return counts
}

// NonManifoldEdgeCount returns the number of edges shared by more than two triangles.
func (m *Mesh) NonManifoldEdgeCount() int {
	n := 0
	for _, c := range m.EdgeFaceCounts() {
		if c > 2 {
			n++
		}
	}
	return n
}

// BoundaryEdgeCount returns the number of edges touched by exactly one triangle.
func (m *Mesh) BoundaryEdgeCount() int {
	n := 0
	for _, c := range m.EdgeFaceCounts() {
		if c == 1 {
			n++
		}
	}
	return n
}

// ComputeVertexNormals sets each vertex normal to the area-weighted average of
// its incident face normals. Vertices without faces get the zero vector.
func (m *Mesh) ComputeVertexNormals() {
	normals := make([]r3.Vec, len(m.Vertices))
	for _, t := range m.Triangles {
		// The cross product length is twice the area, which gives the weighting.
		c := m.FaceCross(t)
		for _, v := range t {
			normals[v] = r3.Add(normals[v], c)
		}
	}
	for i, n := range normals {
		if l := r3.Norm(n); l > 0 {
			normals[i] = r3.Scale(1/l, n)
		}
	}
	m.Normals = normals
}

// RemoveVertices drops every vertex with remove[i] set, along with any
// triangle touching one, and compacts the remaining indices.
func (m *Mesh) RemoveVertices(remove []bool) {
	remap := make([]int, len(m.Vertices))
	kept := 0
	for i := range m.Vertices {
		if remove[i] {
			remap[i] = -1
			continue
		}
		remap[i] = kept
		m.Vertices[kept] = m.Vertices[i]
		if len(m.Normals) > 0 {
			m.Normals[kept] = m.Normals[i]
		}
		if len(m.Densities) > 0 {
			m.Densities[kept] = m.Densities[i]
		}
		kept++
	}
	m.Vertices = m.Vertices[:kept]
	if len(m.Normals) > 0 {
		m.Normals = m.Normals[:kept]
	}
	if len(m.Densities) > 0 {
		m.Densities = m.Densities[:kept]
	}

	tris := m.Triangles[:0]
	for _, t := range m.Triangles {
		a, b, c := remap[t[0]], remap[t[1]], remap[t[2]]
		if a < 0 || b < 0 || c < 0 {
			continue
		}
		tris = append(tris, Triangle{a, b, c})
	}
	m.Triangles = tris
}

// RemoveUnreferencedVertices drops vertices no triangle uses and returns how
// many were removed.
func (m *Mesh) RemoveUnreferencedVertices() int {
	used := make([]bool, len(m.Vertices))
	for _, t := range m.Triangles {
		used[t[0]], used[t[1]], used[t[2]] = true, true, true
	}
	remove := make([]bool, len(m.Vertices))
	n := 0
	for i, u := range used {
		if !u {
			remove[i] = true
			n++
		}
	}
	if n > 0 {
		m.RemoveVertices(remove)
	}
	return n
}
