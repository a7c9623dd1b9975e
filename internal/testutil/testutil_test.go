package testutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestAssertNoError(t *testing.T) {
	t.Parallel()

	// Verify nil error doesn't cause issues
	AssertNoError(t, nil)
}

// recorder is a testing.TB that records failures instead of failing the
// enclosing test.
type recorder struct {
	testing.TB
	failed bool
	msg    string
}

func (r *recorder) Helper() {}

func (r *recorder) Fatal(args ...any) {
	r.failed, r.msg = true, fmt.Sprint(args...)
	runtime.Goexit()
}

func (r *recorder) Fatalf(format string, args ...any) {
	r.failed, r.msg = true, fmt.Sprintf(format, args...)
	runtime.Goexit()
}

// record runs fn against a recorder on its own goroutine so Fatal can stop
// it the way it stops a real test.
func record(fn func(tb testing.TB)) *recorder {
	r := &recorder{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(r)
	}()
	<-done
	return r
}

func TestAssertNoError_FailurePath(t *testing.T) {
	t.Parallel()

	r := record(func(tb testing.TB) { AssertNoError(tb, errors.New("boom")) })
	if !r.failed {
		t.Fatal("expected AssertNoError to fail on a non-nil error")
	}
	if !strings.Contains(r.msg, "boom") {
		t.Errorf("failure message %q does not mention the error", r.msg)
	}
}

func TestAssertError_FailurePath(t *testing.T) {
	t.Parallel()

	if r := record(func(tb testing.TB) { AssertError(tb, errors.New("test error")) }); r.failed {
		t.Fatalf("AssertError failed on a non-nil error: %s", r.msg)
	}
	if r := record(func(tb testing.TB) { AssertError(tb, nil) }); !r.failed {
		t.Fatal("expected AssertError to fail on a nil error")
	}
}

func TestAssertUnitNormals_FailurePath(t *testing.T) {
	t.Parallel()

	if r := record(func(tb testing.TB) { AssertUnitNormals(tb, []r3.Vec{{Z: 1}, {X: 1}}, 1e-12) }); r.failed {
		t.Fatalf("AssertUnitNormals failed on unit normals: %s", r.msg)
	}
	r := record(func(tb testing.TB) { AssertUnitNormals(tb, []r3.Vec{{Z: 1}, {Z: 0.5}}, 1e-6) })
	if !r.failed {
		t.Fatal("expected AssertUnitNormals to fail on a non-unit normal")
	}
	if !strings.HasPrefix(r.msg, "normal 1 ") {
		t.Errorf("failure message %q does not name normal 1", r.msg)
	}
}

func TestTempPath(t *testing.T) {
	t.Parallel()

	p := TempPath(t, "scan.ply")
	if filepath.Base(p) != "scan.ply" {
		t.Errorf("TempPath base = %s, want scan.ply", filepath.Base(p))
	}
}

func TestUVSphere_ClosedManifold(t *testing.T) {
	t.Parallel()

	m := UVSphere(2, 8, 12)
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	if got, want := m.TriangleCount(), 2*12*(8-1); got != want {
		t.Errorf("TriangleCount() = %d, want %d", got, want)
	}
	if n := m.BoundaryEdgeCount(); n != 0 {
		t.Errorf("BoundaryEdgeCount() = %d, want 0", n)
	}
	if n := m.NonManifoldEdgeCount(); n != 0 {
		t.Errorf("NonManifoldEdgeCount() = %d, want 0", n)
	}
	for i, tri := range m.Triangles {
		c := r3.Add(m.Vertices[tri[0]], r3.Add(m.Vertices[tri[1]], m.Vertices[tri[2]]))
		if r3.Dot(m.FaceNormal(tri), c) <= 0 {
			t.Fatalf("triangle %d faces inward", i)
		}
	}
}

func TestGridMesh(t *testing.T) {
	t.Parallel()

	m := GridMesh(3, 0.5)
	if len(m.Vertices) != 16 || m.TriangleCount() != 18 {
		t.Fatalf("got %d vertices, %d triangles", len(m.Vertices), m.TriangleCount())
	}
	for _, n := range m.Normals {
		if n.Z != 1 {
			t.Fatalf("normal %v, want +Z", n)
		}
	}
}
