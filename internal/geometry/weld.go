package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// WeldVertices merges vertices closer than tol to an earlier vertex and
// remaps triangle indices onto the survivor. Survivors keep the position of
// the first vertex seen in their cluster, and per-vertex attributes follow the
// survivor. It returns the number of merged vertices.
func (m *Mesh) WeldVertices(tol float64) int {
	if len(m.Vertices) == 0 {
		return 0
	}
	if tol <= 0 {
		tol = 0
	}

	remap := make([]int, len(m.Vertices))
	kept := make([]int, 0, len(m.Vertices))
	merged := 0

	if tol == 0 {
		exact := make(map[r3.Vec]int, len(m.Vertices))
		for i, v := range m.Vertices {
			if j, ok := exact[v]; ok {
				remap[i] = j
				merged++
				continue
			}
			exact[v] = len(kept)
			remap[i] = len(kept)
			kept = append(kept, i)
		}
	} else {
		// Cells of edge tol; a match can only sit in the 27 surrounding cells.
		cells := make(map[[3]int64][]int, len(m.Vertices))
		cellOf := func(v r3.Vec) [3]int64 {
			return [3]int64{
				int64(math.Floor(v.X / tol)),
				int64(math.Floor(v.Y / tol)),
				int64(math.Floor(v.Z / tol)),
			}
		}
		tol2 := tol * tol
		for i, v := range m.Vertices {
			c := cellOf(v)
			match := -1
		search:
			for dx := int64(-1); dx <= 1; dx++ {
				for dy := int64(-1); dy <= 1; dy++ {
					for dz := int64(-1); dz <= 1; dz++ {
						for _, j := range cells[[3]int64{c[0] + dx, c[1] + dy, c[2] + dz}] {
							if r3.Norm2(r3.Sub(m.Vertices[kept[j]], v)) <= tol2 {
								match = j
								break search
							}
						}
					}
				}
			}
			if match >= 0 {
				remap[i] = match
				merged++
				continue
			}
			remap[i] = len(kept)
			cells[c] = append(cells[c], len(kept))
			kept = append(kept, i)
		}
	}

	if merged == 0 {
		return 0
	}

	vertices := make([]r3.Vec, len(kept))
	for j, i := range kept {
		vertices[j] = m.Vertices[i]
	}
	if len(m.Normals) > 0 {
		normals := make([]r3.Vec, len(kept))
		for j, i := range kept {
			normals[j] = m.Normals[i]
		}
		m.Normals = normals
	}
	if len(m.Densities) > 0 {
		densities := make([]float64, len(kept))
		for j, i := range kept {
			densities[j] = m.Densities[i]
		}
		m.Densities = densities
	}
	m.Vertices = vertices
	for t := range m.Triangles {
		for c := range m.Triangles[t] {
			m.Triangles[t][c] = remap[m.Triangles[t][c]]
		}
	}
	return merged
}
