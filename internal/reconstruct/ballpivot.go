package reconstruct

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/banshee-data/roomscan/internal/monitoring"
	"github.com/banshee-data/roomscan/internal/spatial"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultBallPivotRadiiMultipliers are the ball radii in units of the mean
// point spacing.
var DefaultBallPivotRadiiMultipliers = []float64{1, 2, 4}

// seedCandidates caps the neighbors tried as seed triangle corners.
const seedCandidates = 12

// maxFoldCos bounds how far a pivoted triangle may fold back over the one
// it grows from when the cloud has no normals: cos(120°).
const maxFoldCos = -0.5

// emptyBallSlack shrinks the empty-ball test so the three triangle corners,
// which lie on the sphere, never count against it.
const emptyBallSlack = 1e-7

// BallPivotParams controls ball pivoting reconstruction.
type BallPivotParams struct {
	RadiiMultipliers []float64
}

// DefaultBallPivotParams returns the default ball pivoting parameters.
func DefaultBallPivotParams() BallPivotParams {
	return BallPivotParams{RadiiMultipliers: append([]float64(nil), DefaultBallPivotRadiiMultipliers...)}
}

// Validate checks the parameter ranges.
func (p BallPivotParams) Validate() error {
	if len(p.RadiiMultipliers) == 0 {
		return fmt.Errorf("%w: at least one ball radius multiplier is required", geometry.ErrInvalidParams)
	}
	for _, m := range p.RadiiMultipliers {
		if !(m > 0) || math.IsInf(m, 0) {
			return fmt.Errorf("%w: ball radius multiplier must be positive, got %v", geometry.ErrInvalidParams, m)
		}
	}
	return nil
}

// BallPivot reconstructs a surface by rolling balls of increasing radius
// over the samples. Normals are optional; when present every triangle agrees
// with them. Without them each seed is oriented to match the triangles
// already built around it and the front propagates that winding.
type BallPivot struct {
	params BallPivotParams
}

var _ Strategy = (*BallPivot)(nil)

// NewBallPivot returns a ball pivoting strategy.
func NewBallPivot(params BallPivotParams) *BallPivot {
	return &BallPivot{params: params}
}

// Name implements Strategy.
func (*BallPivot) Name() string { return "ball_pivoting" }

// Reconstruct implements Strategy. The mesh reuses every input point as a
// vertex; points never touched by a triangle stay unreferenced.
func (bp *BallPivot) Reconstruct(ctx context.Context, pc *geometry.PointCloud) (*geometry.Mesh, error) {
	if err := bp.params.Validate(); err != nil {
		return nil, err
	}
	if pc.Len() < 3 {
		return nil, fmt.Errorf("ball pivoting needs 3 points, got %d: %w", pc.Len(), geometry.ErrInsufficientPoints)
	}
	idx, err := spatial.Build(pc.Points)
	if err != nil {
		return nil, err
	}
	spacing := idx.MeanNearestDistance()
	if !(spacing > 0) {
		return nil, fmt.Errorf("%w: ball pivoting: mean point spacing is zero", geometry.ErrReconstructionFailed)
	}

	radii := make([]float64, len(bp.params.RadiiMultipliers))
	for i, m := range bp.params.RadiiMultipliers {
		radii[i] = m * spacing
	}
	sort.Float64s(radii)

	var normals []r3.Vec
	if pc.HasNormals() {
		normals = pc.Normals
	}
	piv := newPivoter(idx, normals)
	log := monitoring.Stage("ball_pivoting")
	for _, rho := range radii {
		if err := piv.run(ctx, rho); err != nil {
			return nil, fmt.Errorf("ball pivoting at radius %.4g: %w", rho, err)
		}
		log.Printf("radius %.4g: %d triangles", rho, len(piv.triangles))
	}
	if len(piv.triangles) == 0 {
		return nil, fmt.Errorf("%w: ball pivoting produced no triangles (spacing %.4g)",
			geometry.ErrReconstructionFailed, spacing)
	}

	mesh := &geometry.Mesh{
		Vertices:  append([]r3.Vec(nil), pc.Points...),
		Triangles: piv.triangles,
	}
	mesh.ComputeVertexNormals()
	return mesh, nil
}

type edgeStatus int

const (
	edgeActive edgeStatus = iota
	edgeBoundary
	edgeClosed
)

// frontEdge is a directed edge (a, b) of the triangle (a, b, opp) whose other
// side is still open. center is the ball that produced that triangle.
type frontEdge struct {
	a, b, opp int
	center    r3.Vec
	status    edgeStatus
}

// pivoter holds the advancing front shared by every radius.
type pivoter struct {
	idx     *spatial.Index
	normals []r3.Vec
	rho     float64

	triangles []geometry.Triangle
	triSet    map[[3]int]struct{}
	edgeFaces map[geometry.Edge]int

	front    map[[2]int]*frontEdge
	edges    []*frontEdge // every edge ever created, in creation order
	queue    []*frontEdge
	used     []bool
	frontDeg []int
	steps    int

	// Area-weighted face normal sums, per vertex and over the whole mesh.
	vertexNormals []r3.Vec
	meshNormal    r3.Vec
}

func newPivoter(idx *spatial.Index, normals []r3.Vec) *pivoter {
	return &pivoter{
		idx:       idx,
		normals:   normals,
		triSet:    make(map[[3]int]struct{}),
		edgeFaces: make(map[geometry.Edge]int),
		front:     make(map[[2]int]*frontEdge),
		used:      make([]bool, idx.Len()),
		frontDeg:  make([]int, idx.Len()),

		vertexNormals: make([]r3.Vec, idx.Len()),
	}
}

func (p *pivoter) point(i int) r3.Vec { return p.idx.Point(i) }

// run reopens boundary edges for radius rho, then alternates between front
// expansion and seeding until no untouched point yields a seed.
func (p *pivoter) run(ctx context.Context, rho float64) error {
	p.rho = rho
	for _, e := range p.edges {
		if e.status != edgeBoundary {
			continue
		}
		c, ok := p.ballCenter(e.a, e.b, e.opp)
		if !ok {
			continue
		}
		e.center, e.status = c, edgeActive
		p.queue = append(p.queue, e)
	}
	if err := p.expand(ctx); err != nil {
		return err
	}

	for i := range p.used {
		if p.used[i] {
			continue
		}
		if !p.seed(i) {
			continue
		}
		if err := p.expand(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *pivoter) expand(ctx context.Context) error {
	for len(p.queue) > 0 {
		e := p.queue[0]
		p.queue = p.queue[1:]
		if e.status != edgeActive {
			continue
		}
		p.steps++
		if p.steps%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		k, center, ok := p.pivot(e)
		if !ok || !p.canJoin(e, k) {
			e.status = edgeBoundary
			continue
		}
		p.join(e, k, center)
	}
	return nil
}

// ballCenter returns the center of the ball of radius rho touching a, b and c
// on the side of the triangle normal (b-a)×(c-a).
func (p *pivoter) ballCenter(a, b, c int) (r3.Vec, bool) {
	pa, pb, pc := p.point(a), p.point(b), p.point(c)
	ab, ac := r3.Sub(pb, pa), r3.Sub(pc, pa)
	n := r3.Cross(ab, ac)
	n2 := r3.Norm2(n)
	if n2 == 0 {
		return r3.Vec{}, false
	}
	offset := r3.Scale(1/(2*n2), r3.Add(
		r3.Scale(r3.Norm2(ac), r3.Cross(n, ab)),
		r3.Scale(r3.Norm2(ab), r3.Cross(ac, n)),
	))
	h2 := p.rho*p.rho - r3.Norm2(offset)
	if h2 < 0 {
		return r3.Vec{}, false
	}
	cc := r3.Add(pa, offset)
	return r3.Add(cc, r3.Scale(math.Sqrt(h2/n2), n)), true
}

func (p *pivoter) cross(a, b, c int) r3.Vec {
	pa := p.point(a)
	return r3.Cross(r3.Sub(p.point(b), pa), r3.Sub(p.point(c), pa))
}

// agrees reports whether the triangle (a, b, c) faces the same way as ref.
// With per-point normals ref is replaced by the sum over the corners. A zero
// ref agrees with any orientation.
func (p *pivoter) agrees(a, b, c int, ref r3.Vec) bool {
	if p.normals != nil {
		ref = r3.Add(p.normals[a], r3.Add(p.normals[b], p.normals[c]))
	}
	if ref == (r3.Vec{}) {
		return true
	}
	return r3.Dot(p.cross(a, b, c), ref) > 0
}

// folds reports whether the triangle (e.b, e.a, k) turns back over the
// triangle that owns e by more than maxFoldCos allows.
func (p *pivoter) folds(e *frontEdge, k int) bool {
	from, to := p.cross(e.a, e.b, e.opp), p.cross(e.b, e.a, k)
	den := r3.Norm(from) * r3.Norm(to)
	return den == 0 || r3.Dot(from, to) < maxFoldCos*den
}

// seedReference returns the direction a new seed at i should face: the
// normals accumulated on meshed points around i, or the whole mesh normal
// when none are close. It is zero before the first triangle exists.
func (p *pivoter) seedReference(i int) r3.Vec {
	var ref r3.Vec
	for _, nb := range p.idx.KNearest(p.point(i), seedCandidates+1) {
		if p.used[nb.Index] {
			ref = r3.Add(ref, p.vertexNormals[nb.Index])
		}
	}
	if ref == (r3.Vec{}) {
		return p.meshNormal
	}
	return ref
}

// emptyBall reports whether no point other than a, b and c lies inside the
// ball at center.
func (p *pivoter) emptyBall(center r3.Vec, a, b, c int) bool {
	for _, nb := range p.idx.Radius(center, p.rho*(1-emptyBallSlack)) {
		if nb.Index != a && nb.Index != b && nb.Index != c {
			return false
		}
	}
	return true
}

type pivotCandidate struct {
	k      int
	angle  float64
	center r3.Vec
}

// pivot rotates the ball of e about its edge and returns the first point it
// touches with an otherwise empty ball.
func (p *pivoter) pivot(e *frontEdge) (int, r3.Vec, bool) {
	pa, pb := p.point(e.a), p.point(e.b)
	mid := r3.Scale(0.5, r3.Add(pa, pb))
	axis := r3.Unit(r3.Sub(pb, pa))
	from := r3.Sub(e.center, mid)

	var cands []pivotCandidate
	for _, nb := range p.idx.Radius(mid, 2*p.rho) {
		k := nb.Index
		if k == e.a || k == e.b || k == e.opp {
			continue
		}
		// The new triangle is (b, a, k) so it shares e with opposite winding.
		if p.normals != nil && !p.agrees(e.b, e.a, k, r3.Vec{}) {
			continue
		}
		if p.normals == nil && p.folds(e, k) {
			continue
		}
		c, ok := p.ballCenter(e.b, e.a, k)
		if !ok {
			continue
		}
		to := r3.Sub(c, mid)
		angle := math.Atan2(r3.Dot(axis, r3.Cross(from, to)), r3.Dot(from, to))
		if angle < 0 {
			angle += 2 * math.Pi
		}
		cands = append(cands, pivotCandidate{k: k, angle: angle, center: c})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].angle != cands[j].angle {
			return cands[i].angle < cands[j].angle
		}
		return cands[i].k < cands[j].k
	})
	for _, c := range cands {
		if p.emptyBall(c.center, e.a, e.b, c.k) {
			return c.k, c.center, true
		}
	}
	return 0, r3.Vec{}, false
}

// canJoin reports whether the triangle (e.b, e.a, k) keeps the mesh
// manifold and consistently wound.
func (p *pivoter) canJoin(e *frontEdge, k int) bool {
	if p.used[k] && p.frontDeg[k] == 0 {
		return false // k is already surrounded by triangles
	}
	if _, dup := p.triSet[geometry.Triangle{e.b, e.a, k}.Key()]; dup {
		return false
	}
	return p.joinable(e.a, k) && p.joinable(k, e.b)
}

// joinable reports whether a new triangle may own the directed edge (x, y):
// the edge is unused, or its single triangle owns (y, x) and it is still on
// the front.
func (p *pivoter) joinable(x, y int) bool {
	switch p.edgeFaces[geometry.NewEdge(x, y)] {
	case 0:
		return true
	case 1:
		rev, ok := p.front[[2]int{y, x}]
		return ok && rev.status != edgeClosed
	default:
		return false
	}
}

func (p *pivoter) join(e *frontEdge, k int, center r3.Vec) {
	p.addTriangle(e.b, e.a, k)
	p.closeEdge(e)
	p.used[k] = true

	for _, side := range [2][3]int{{e.a, k, e.b}, {k, e.b, e.a}} {
		x, y, opp := side[0], side[1], side[2]
		if rev, ok := p.front[[2]int{y, x}]; ok {
			p.closeEdge(rev)
			continue
		}
		p.addFront(x, y, opp, center)
	}
}

// seed looks for a triangle with an empty ball among untouched points
// around i and starts a new front from it.
func (p *pivoter) seed(i int) bool {
	var hood []int
	for _, nb := range p.idx.KNearest(p.point(i), seedCandidates+1) {
		if nb.Index == i || p.used[nb.Index] || nb.Distance > 2*p.rho {
			continue
		}
		hood = append(hood, nb.Index)
	}

	var ref r3.Vec
	if p.normals == nil {
		ref = p.seedReference(i)
	}
	for x := 0; x < len(hood); x++ {
		for y := x + 1; y < len(hood); y++ {
			j, k := hood[x], hood[y]
			if !p.agrees(i, j, k, ref) {
				j, k = k, j
				if !p.agrees(i, j, k, ref) {
					continue
				}
			}
			center, ok := p.ballCenter(i, j, k)
			if !ok || !p.emptyBall(center, i, j, k) {
				continue
			}
			p.addTriangle(i, j, k)
			p.used[i], p.used[j], p.used[k] = true, true, true
			p.addFront(i, j, k, center)
			p.addFront(j, k, i, center)
			p.addFront(k, i, j, center)
			return true
		}
	}
	return false
}

func (p *pivoter) addTriangle(a, b, c int) {
	t := geometry.Triangle{a, b, c}
	p.triangles = append(p.triangles, t)
	p.triSet[t.Key()] = struct{}{}
	for _, e := range t.Edges() {
		p.edgeFaces[e]++
	}
	n := p.cross(a, b, c)
	for _, v := range t {
		p.vertexNormals[v] = r3.Add(p.vertexNormals[v], n)
	}
	p.meshNormal = r3.Add(p.meshNormal, n)
}

func (p *pivoter) addFront(a, b, opp int, center r3.Vec) {
	e := &frontEdge{a: a, b: b, opp: opp, center: center}
	p.front[[2]int{a, b}] = e
	p.edges = append(p.edges, e)
	p.queue = append(p.queue, e)
	p.frontDeg[a]++
	p.frontDeg[b]++
}

func (p *pivoter) closeEdge(e *frontEdge) {
	if e.status == edgeClosed {
		return
	}
	e.status = edgeClosed
	delete(p.front, [2]int{e.a, e.b})
	p.frontDeg[e.a]--
	p.frontDeg[e.b]--
}
