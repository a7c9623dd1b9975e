package meshproc

import (
	"container/heap"
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/roomscan/internal/geometry"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultTargetRatio is the fraction of triangles Simplify keeps.
const DefaultTargetRatio = 0.3

// boundaryWeight scales the constraint planes that hold open borders in place.
const boundaryWeight = 100

// SimplifyParams controls Simplify.
type SimplifyParams struct {
	TargetRatio float64
}

// DefaultSimplifyParams returns the default simplification parameters.
func DefaultSimplifyParams() SimplifyParams {
	return SimplifyParams{TargetRatio: DefaultTargetRatio}
}

// Validate checks the parameter ranges.
func (p SimplifyParams) Validate() error {
	if !(p.TargetRatio > 0 && p.TargetRatio <= 1) {
		return fmt.Errorf("%w: target ratio must be in (0, 1], got %v", geometry.ErrInvalidParams, p.TargetRatio)
	}
	return nil
}

// TargetCount returns floor(n × ratio).
func (p SimplifyParams) TargetCount(n int) int {
	return int(math.Floor(float64(n) * p.TargetRatio))
}

// Simplify collapses the cheapest edges until the triangle count reaches
// floor(n × TargetRatio) or no valid collapse remains. It never returns a
// mesh without triangles. On failure it returns mesh itself together with
// an error wrapping geometry.ErrSimplificationFailed.
func Simplify(ctx context.Context, mesh *geometry.Mesh, params SimplifyParams) (*geometry.Mesh, error) {
	if err := params.Validate(); err != nil {
		return mesh, fmt.Errorf("%w: %w", geometry.ErrSimplificationFailed, err)
	}
	if mesh.TriangleCount() == 0 {
		return mesh, fmt.Errorf("%w: %w", geometry.ErrSimplificationFailed, geometry.ErrEmptyInput)
	}
	if err := mesh.Validate(); err != nil {
		return mesh, fmt.Errorf("%w: %w", geometry.ErrSimplificationFailed, err)
	}

	s := newSimplifier(mesh)
	if err := s.run(ctx, params.TargetCount(len(mesh.Triangles))); err != nil {
		return mesh, fmt.Errorf("%w: %w", geometry.ErrSimplificationFailed, err)
	}
	return s.result(), nil
}

type collapse struct {
	cost   float64
	a, b   int
	pos    r3.Vec
	va, vb int // vertex versions when the entry was made
}

type collapseHeap []collapse

func (h collapseHeap) Len() int { return len(h) }
func (h collapseHeap) Less(i, j int) bool {
	if h[i].cost != h[j].cost {
		return h[i].cost < h[j].cost
	}
	if h[i].a != h[j].a {
		return h[i].a < h[j].a
	}
	return h[i].b < h[j].b
}
func (h collapseHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *collapseHeap) Push(x any)   { *h = append(*h, x.(collapse)) }
func (h *collapseHeap) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}

type simplifier struct {
	verts   []r3.Vec
	quads   []quadric
	alive   []bool
	version []int

	faces     []geometry.Triangle
	faceAlive []bool
	vfaces    [][]int
	remaining int

	queue   collapseHeap
	invalid bool // a NaN cost was seen
}

func newSimplifier(m *geometry.Mesh) *simplifier {
	s := &simplifier{
		verts:     append([]r3.Vec(nil), m.Vertices...),
		quads:     make([]quadric, len(m.Vertices)),
		alive:     make([]bool, len(m.Vertices)),
		version:   make([]int, len(m.Vertices)),
		faces:     append([]geometry.Triangle(nil), m.Triangles...),
		faceAlive: make([]bool, len(m.Triangles)),
		vfaces:    make([][]int, len(m.Vertices)),
		remaining: len(m.Triangles),
	}
	for f, t := range s.faces {
		s.faceAlive[f] = true
		for _, v := range t {
			s.vfaces[v] = append(s.vfaces[v], f)
			s.alive[v] = true
		}
		p0 := s.verts[t[0]]
		cross := r3.Cross(r3.Sub(s.verts[t[1]], p0), r3.Sub(s.verts[t[2]], p0))
		l := r3.Norm(cross)
		if l == 0 {
			continue
		}
		n := r3.Scale(1/l, cross)
		q := planeQuadric(n, -r3.Dot(n, p0), 1)
		for _, v := range t {
			s.quads[v] = s.quads[v].add(q)
		}
	}

	// Planes through each border edge, perpendicular to its face.
	counts := m.EdgeFaceCounts()
	for _, t := range s.faces {
		p0 := s.verts[t[0]]
		faceN := r3.Cross(r3.Sub(s.verts[t[1]], p0), r3.Sub(s.verts[t[2]], p0))
		for i := range t {
			a, b := t[i], t[(i+1)%3]
			if counts[geometry.NewEdge(a, b)] != 1 {
				continue
			}
			perp := r3.Cross(r3.Sub(s.verts[b], s.verts[a]), faceN)
			l := r3.Norm(perp)
			if l == 0 {
				continue
			}
			n := r3.Scale(1/l, perp)
			q := planeQuadric(n, -r3.Dot(n, s.verts[a]), boundaryWeight)
			s.quads[a] = s.quads[a].add(q)
			s.quads[b] = s.quads[b].add(q)
		}
	}
	return s
}

func contains(t geometry.Triangle, v int) bool {
	return t[0] == v || t[1] == v || t[2] == v
}

func (s *simplifier) run(ctx context.Context, target int) error {
	s.pushAllEdges()
	progress := 0
	for step := 0; s.remaining > target; step++ {
		if step%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if s.queue.Len() == 0 {
			// Collapses may have unblocked edges rejected earlier.
			if progress == 0 {
				break
			}
			progress = 0
			s.pushAllEdges()
			continue
		}
		c := heap.Pop(&s.queue).(collapse)
		if !s.alive[c.a] || !s.alive[c.b] || s.version[c.a] != c.va || s.version[c.b] != c.vb {
			continue
		}
		if !s.canCollapse(c.a, c.b, c.pos) {
			continue
		}
		s.collapse(c.a, c.b, c.pos)
		progress++
	}
	if s.invalid {
		return fmt.Errorf("non-finite collapse cost")
	}
	return nil
}

func (s *simplifier) pushAllEdges() {
	s.queue = s.queue[:0]
	seen := make(map[geometry.Edge]struct{})
	for f, t := range s.faces {
		if !s.faceAlive[f] {
			continue
		}
		for _, e := range t.Edges() {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			s.queue = append(s.queue, s.candidate(e[0], e[1]))
		}
	}
	heap.Init(&s.queue)
}

func (s *simplifier) candidate(a, b int) collapse {
	q := s.quads[a].add(s.quads[b])
	pa, pb := s.verts[a], s.verts[b]
	mid := r3.Scale(0.5, r3.Add(pa, pb))

	best, cost := mid, q.eval(mid)
	for _, p := range [2]r3.Vec{pa, pb} {
		if c := q.eval(p); c < cost {
			best, cost = p, c
		}
	}
	// The optimum of a near-planar neighborhood can land far from the edge.
	if opt, ok := q.optimum(); ok && r3.Norm(r3.Sub(opt, mid)) <= 2*r3.Norm(r3.Sub(pb, pa)) {
		if c := q.eval(opt); c <= cost {
			best, cost = opt, c
		}
	}
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		s.invalid = true
		cost = math.Inf(1)
	}
	return collapse{cost: cost, a: a, b: b, pos: best, va: s.version[a], vb: s.version[b]}
}

// neighbors returns the vertices sharing a live face with v.
func (s *simplifier) neighbors(v int) map[int]struct{} {
	out := make(map[int]struct{})
	for _, f := range s.vfaces[v] {
		if !s.faceAlive[f] {
			continue
		}
		for _, u := range s.faces[f] {
			if u != v {
				out[u] = struct{}{}
			}
		}
	}
	return out
}

// onBorder reports whether v touches an edge with a single face.
func (s *simplifier) onBorder(v int) bool {
	counts := make(map[int]int)
	for _, f := range s.vfaces[v] {
		if !s.faceAlive[f] {
			continue
		}
		for _, u := range s.faces[f] {
			if u != v {
				counts[u]++
			}
		}
	}
	for _, c := range counts {
		if c == 1 {
			return true
		}
	}
	return false
}

func (s *simplifier) canCollapse(a, b int, pos r3.Vec) bool {
	var shared []int // faces holding the edge
	for _, f := range s.vfaces[a] {
		if s.faceAlive[f] && contains(s.faces[f], b) {
			shared = append(shared, f)
		}
	}
	if len(shared) == 0 || len(shared) > 2 || len(shared) >= s.remaining {
		return false
	}

	// Link condition: the common neighbors are exactly the opposite corners.
	opposite := make(map[int]struct{}, 2)
	for _, f := range shared {
		for _, u := range s.faces[f] {
			if u != a && u != b {
				opposite[u] = struct{}{}
			}
		}
	}
	na := s.neighbors(a)
	for u := range s.neighbors(b) {
		if _, ok := na[u]; !ok || u == a {
			continue
		}
		if _, ok := opposite[u]; !ok {
			return false
		}
	}
	if len(shared) == 2 && s.onBorder(a) && s.onBorder(b) {
		return false // would pinch two borders together
	}

	// No surviving face may flip, collapse to a sliver, or duplicate another.
	existing := make(map[[3]int]struct{})
	for _, f := range s.vfaces[a] {
		if s.faceAlive[f] && !contains(s.faces[f], b) {
			existing[s.faces[f].Key()] = struct{}{}
		}
	}
	for _, v := range [2]int{a, b} {
		for _, f := range s.vfaces[v] {
			t := s.faces[f]
			if !s.faceAlive[f] || (contains(t, a) && contains(t, b)) {
				continue
			}
			moved := t
			for i := range moved {
				if moved[i] == v {
					moved[i] = a
				}
			}
			if v == b {
				if _, dup := existing[moved.Key()]; dup {
					return false
				}
			}
			before := s.cross(t, -1, r3.Vec{})
			after := s.cross(t, v, pos)
			if r3.Dot(before, after) <= 0 || r3.Norm2(after) < 1e-12*r3.Norm2(before) {
				return false
			}
		}
	}
	return true
}

// cross returns the face cross product with vertex moved placed at pos.
func (s *simplifier) cross(t geometry.Triangle, moved int, pos r3.Vec) r3.Vec {
	var p [3]r3.Vec
	for i, v := range t {
		p[i] = s.verts[v]
		if v == moved {
			p[i] = pos
		}
	}
	return r3.Cross(r3.Sub(p[1], p[0]), r3.Sub(p[2], p[0]))
}

// collapse merges b into a at pos.
func (s *simplifier) collapse(a, b int, pos r3.Vec) {
	s.verts[a] = pos
	s.quads[a] = s.quads[a].add(s.quads[b])
	s.alive[b] = false
	s.version[a]++
	s.version[b]++

	for _, f := range s.vfaces[b] {
		if !s.faceAlive[f] {
			continue
		}
		t := &s.faces[f]
		if contains(*t, a) {
			s.faceAlive[f] = false
			s.remaining--
			continue
		}
		for i := range t {
			if t[i] == b {
				t[i] = a
			}
		}
		s.vfaces[a] = append(s.vfaces[a], f)
	}
	s.vfaces[b] = nil

	live := s.vfaces[a][:0]
	for _, f := range s.vfaces[a] {
		if s.faceAlive[f] {
			live = append(live, f)
		}
	}
	s.vfaces[a] = live

	for u := range s.neighbors(a) {
		heap.Push(&s.queue, s.candidate(a, u))
	}
}

func (s *simplifier) result() *geometry.Mesh {
	remap := make([]int, len(s.verts))
	out := &geometry.Mesh{}
	for f, t := range s.faces {
		if !s.faceAlive[f] {
			continue
		}
		for _, v := range t {
			remap[v] = -1
		}
	}
	for v := range s.verts {
		if remap[v] == -1 {
			remap[v] = len(out.Vertices)
			out.Vertices = append(out.Vertices, s.verts[v])
		}
	}
	for f, t := range s.faces {
		if s.faceAlive[f] {
			out.Triangles = append(out.Triangles, geometry.Triangle{remap[t[0]], remap[t[1]], remap[t[2]]})
		}
	}
	out.ComputeVertexNormals()
	return out
}
