// Package testutil provides shared test utilities and fixtures.
//
// This package centralises mesh and cloud fixtures used by the geometry
// processing tests so each package does not grow its own copy.
package testutil

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/banshee-data/roomscan/internal/geometry"
	"gonum.org/v1/gonum/spatial/r3"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertUnitNormals fails the test if any normal is not unit length within tol.
func AssertUnitNormals(t testing.TB, normals []r3.Vec, tol float64) {
	t.Helper()
	for i, n := range normals {
		if l := r3.Norm(n); math.Abs(l-1) > tol {
			t.Fatalf("normal %d = %v has length %v", i, n, l)
		}
	}
}

// TempPath returns a path named name inside a per-test temporary directory.
func TempPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

// UVSphere returns a closed, manifold, outward-wound sphere mesh with the
// given number of latitude stacks and longitude slices.
func UVSphere(radius float64, stacks, slices int) *geometry.Mesh {
	m := &geometry.Mesh{}
	m.Vertices = append(m.Vertices, r3.Vec{Z: radius})
	for i := 1; i < stacks; i++ {
		phi := math.Pi * float64(i) / float64(stacks)
		for j := 0; j < slices; j++ {
			theta := 2 * math.Pi * float64(j) / float64(slices)
			m.Vertices = append(m.Vertices, r3.Vec{
				X: radius * math.Sin(phi) * math.Cos(theta),
				Y: radius * math.Sin(phi) * math.Sin(theta),
				Z: radius * math.Cos(phi),
			})
		}
	}
	south := len(m.Vertices)
	m.Vertices = append(m.Vertices, r3.Vec{Z: -radius})

	ring := func(i, j int) int { return 1 + (i-1)*slices + (j % slices) }
	for j := 0; j < slices; j++ {
		m.Triangles = append(m.Triangles, geometry.Triangle{0, ring(1, j), ring(1, j+1)})
	}
	for i := 1; i < stacks-1; i++ {
		for j := 0; j < slices; j++ {
			a, b := ring(i, j), ring(i, j+1)
			c, d := ring(i+1, j), ring(i+1, j+1)
			m.Triangles = append(m.Triangles, geometry.Triangle{a, c, d}, geometry.Triangle{a, d, b})
		}
	}
	for j := 0; j < slices; j++ {
		m.Triangles = append(m.Triangles, geometry.Triangle{south, ring(stacks-1, j+1), ring(stacks-1, j)})
	}
	m.ComputeVertexNormals()
	return m
}

// GridMesh returns an n×n grid of squares of the given size at z=0, each
// split into two triangles facing +Z.
func GridMesh(n int, size float64) *geometry.Mesh {
	m := &geometry.Mesh{}
	at := func(i, j int) int { return j*(n+1) + i }
	for j := 0; j <= n; j++ {
		for i := 0; i <= n; i++ {
			m.Vertices = append(m.Vertices, r3.Vec{X: float64(i) * size, Y: float64(j) * size})
		}
	}
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			m.Triangles = append(m.Triangles,
				geometry.Triangle{at(i, j), at(i+1, j), at(i+1, j+1)},
				geometry.Triangle{at(i, j), at(i+1, j+1), at(i, j+1)},
			)
		}
	}
	m.ComputeVertexNormals()
	return m
}
