package synthetic

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/spatial/r3"
)

// Sphere samples n points on a sphere with a Fibonacci spiral, which gives
// near-uniform spacing. Normals point outward.
func Sphere(center r3.Vec, radius float64, n int, sigma float64, seed uint64) *Scan {
	golden := math.Pi * (3 - math.Sqrt(5))
	nz := newNoise(sigma, seed)
	scan := &Scan{Cloud: &geometry.PointCloud{
		Points:  make([]r3.Vec, n),
		Normals: make([]r3.Vec, n),
	}}
	scan.TrueNormals = scan.Cloud.Normals
	for i := 0; i < n; i++ {
		z := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - z*z)
		theta := golden * float64(i)
		dir := r3.Vec{X: r * math.Cos(theta), Y: r * math.Sin(theta), Z: z}
		scan.Cloud.Points[i] = nz.perturb(r3.Add(center, r3.Scale(radius, dir)))
		scan.Cloud.Normals[i] = dir
	}
	return scan
}

// Plane samples an nx by ny grid with the given spacing at z=0. Normals
// point along +Z.
func Plane(nx, ny int, spacing, sigma float64, seed uint64) *Scan {
	nz := newNoise(sigma, seed)
	scan := &Scan{Cloud: &geometry.PointCloud{}}
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			p := r3.Vec{X: float64(i) * spacing, Y: float64(j) * spacing}
			scan.Cloud.Points = append(scan.Cloud.Points, nz.perturb(p))
			scan.Cloud.Normals = append(scan.Cloud.Normals, r3.Vec{Z: 1})
		}
	}
	scan.TrueNormals = scan.Cloud.Normals
	return scan
}

// OutlierColor is the color given to injected outliers in a colored cloud.
var OutlierColor = colorful.Color{R: 0.5, G: 0.5, B: 0.5}

// WithOutliers returns a copy of pc with count points scattered uniformly in
// a shell between 2x and 3x the cloud's bounding-box half-diagonal around
// its center. Colors are kept and the injected points get OutlierColor;
// normals are dropped. The indices of the injected points are returned.
func WithOutliers(pc *geometry.PointCloud, count int, seed uint64) (*geometry.PointCloud, []int) {
	out := &geometry.PointCloud{Points: append([]r3.Vec(nil), pc.Points...)}
	if pc.HasColors() {
		out.Colors = append([]colorful.Color(nil), pc.Colors...)
	}
	b := pc.Bounds()
	center := r3.Scale(0.5, r3.Add(b.Min, b.Max))
	half := r3.Norm(r3.Sub(b.Max, b.Min)) / 2
	rng := rand.New(rand.NewPCG(seed, ^seed))

	injected := make([]int, count)
	for i := range injected {
		dir := r3.Unit(r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()})
		dist := half * (2 + rng.Float64())
		injected[i] = len(out.Points)
		out.Points = append(out.Points, r3.Add(center, r3.Scale(dist, dir)))
		if out.Colors != nil {
			out.Colors = append(out.Colors, OutlierColor)
		}
	}
	return out, injected
}
