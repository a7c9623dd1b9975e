package reconstruct

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// octreeLeafSize is the number of samples a node holds before it splits.
const octreeLeafSize = 8

// octreePadding scales the bounding cube of the samples.
const octreePadding = 1.1

// octree is an adaptive subdivision of a padded bounding cube. Nodes split
// only where samples are present, down to maxDepth.
type octree struct {
	points   []r3.Vec
	root     *octNode
	maxDepth int
	depth    int // deepest level actually reached
	nodes    int
}

type octNode struct {
	center   r3.Vec
	half     float64
	count    int
	children *[8]*octNode
	indices  []int // leaves only
}

// newOctree builds the tree over points. The cube is centred on the bounding
// box of points with the longest side scaled by octreePadding.
func newOctree(points []r3.Vec, maxDepth int) *octree {
	min, max := points[0], points[0]
	for _, p := range points[1:] {
		min = r3.Vec{X: math.Min(min.X, p.X), Y: math.Min(min.Y, p.Y), Z: math.Min(min.Z, p.Z)}
		max = r3.Vec{X: math.Max(max.X, p.X), Y: math.Max(max.Y, p.Y), Z: math.Max(max.Z, p.Z)}
	}
	size := r3.Sub(max, min)
	half := math.Max(size.X, math.Max(size.Y, size.Z)) / 2 * octreePadding
	if half == 0 {
		half = 1
	}

	t := &octree{
		points:   points,
		maxDepth: maxDepth,
		root: &octNode{
			center: r3.Scale(0.5, r3.Add(min, max)),
			half:   half,
		},
		nodes: 1,
	}
	for i := range points {
		t.insert(t.root, i, 0)
	}
	return t
}

// Min returns the lowest corner of the root cube.
func (t *octree) Min() r3.Vec {
	h := t.root.half
	return r3.Sub(t.root.center, r3.Vec{X: h, Y: h, Z: h})
}

// Side returns the edge length of the root cube.
func (t *octree) Side() float64 { return 2 * t.root.half }

func (t *octree) insert(n *octNode, i, depth int) {
	n.count++
	if depth > t.depth {
		t.depth = depth
	}
	if n.children == nil {
		n.indices = append(n.indices, i)
		if len(n.indices) <= octreeLeafSize || depth >= t.maxDepth {
			return
		}
		// Split and push the samples down.
		n.children = new([8]*octNode)
		pending := n.indices
		n.indices = nil
		for _, j := range pending {
			t.insertChild(n, j, depth)
		}
		return
	}
	t.insertChild(n, i, depth)
}

func (t *octree) insertChild(n *octNode, i, depth int) {
	p := t.points[i]
	octant := 0
	offset := r3.Vec{X: -1, Y: -1, Z: -1}
	if p.X >= n.center.X {
		octant |= 1
		offset.X = 1
	}
	if p.Y >= n.center.Y {
		octant |= 2
		offset.Y = 1
	}
	if p.Z >= n.center.Z {
		octant |= 4
		offset.Z = 1
	}
	child := n.children[octant]
	if child == nil {
		h := n.half / 2
		child = &octNode{center: r3.Add(n.center, r3.Scale(h, offset)), half: h}
		n.children[octant] = child
		t.nodes++
	}
	t.insert(child, i, depth+1)
}

// CountWithin returns the number of samples within r of q.
func (t *octree) CountWithin(q r3.Vec, r float64) int {
	return t.countWithin(t.root, q, r, r*r)
}

func (t *octree) countWithin(n *octNode, q r3.Vec, r, r2 float64) int {
	if n == nil || n.count == 0 {
		return 0
	}
	// Squared distance from q to the node cube.
	var near, far float64
	for _, d := range [3]float64{q.X - n.center.X, q.Y - n.center.Y, q.Z - n.center.Z} {
		d = math.Abs(d)
		if d > n.half {
			near += (d - n.half) * (d - n.half)
		}
		far += (d + n.half) * (d + n.half)
	}
	if near > r2 {
		return 0
	}
	if far <= r2 {
		return n.count
	}
	if n.children == nil {
		c := 0
		for _, i := range n.indices {
			if r3.Norm2(r3.Sub(t.points[i], q)) <= r2 {
				c++
			}
		}
		return c
	}
	c := 0
	for _, child := range n.children {
		c += t.countWithin(child, q, r, r2)
	}
	return c
}
