package reconstruct

import (
	"context"
	"errors"
	"testing"

	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/banshee-data/roomscan/internal/spatial"
	"github.com/banshee-data/roomscan/internal/synthetic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func mustIndex(t *testing.T, pts []r3.Vec) *spatial.Index {
	t.Helper()
	idx, err := spatial.Build(pts)
	require.NoError(t, err)
	return idx
}

// stubStrategy returns a fixed result, or blocks until cancelled.
type stubStrategy struct {
	name  string
	mesh  *geometry.Mesh
	err   error
	block bool
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Reconstruct(ctx context.Context, _ *geometry.PointCloud) (*geometry.Mesh, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.mesh, s.err
}

var errStub = errors.New("stub failure")

func stubMesh() *geometry.Mesh {
	return &geometry.Mesh{
		Vertices:  []r3.Vec{{}, {X: 1}, {Y: 1}},
		Triangles: []geometry.Triangle{{0, 1, 2}},
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		NotAttempted:          "not_attempted",
		PoissonSucceeded:      "poisson_succeeded",
		PoissonFailed:         "poisson_failed",
		BallPivotingSucceeded: "ball_pivoting_succeeded",
		BothFailed:            "both_failed",
		State(42):             "state(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
	assert.False(t, PoissonFailed.Terminal())
	assert.True(t, BothFailed.Terminal())
}

func TestReconstructor_Sequential(t *testing.T) {
	pc := geometry.NewPointCloud([]r3.Vec{{}, {X: 1}, {Y: 1}})
	mesh := stubMesh()

	tests := []struct {
		name       string
		poisson    *stubStrategy
		ballPivot  *stubStrategy
		wantState  State
		wantErr    error
		wantBPCall int
	}{
		{
			name:      "poisson succeeds",
			poisson:   &stubStrategy{name: "p", mesh: mesh},
			ballPivot: &stubStrategy{name: "b", mesh: mesh},
			wantState: PoissonSucceeded,
		},
		{
			name:       "fallback",
			poisson:    &stubStrategy{name: "p", err: errStub},
			ballPivot:  &stubStrategy{name: "b", mesh: mesh},
			wantState:  BallPivotingSucceeded,
			wantBPCall: 1,
		},
		{
			name:       "both fail",
			poisson:    &stubStrategy{name: "p", err: errStub},
			ballPivot:  &stubStrategy{name: "b", err: errStub},
			wantState:  BothFailed,
			wantErr:    geometry.ErrReconstructionFailed,
			wantBPCall: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Reconstructor{Poisson: tt.poisson, BallPivot: tt.ballPivot}
			out, err := r.Reconstruct(context.Background(), pc)
			require.NotNil(t, out)
			assert.Equal(t, tt.wantState, out.State)
			assert.Equal(t, tt.wantBPCall, tt.ballPivot.calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, out.Mesh)
				assert.Equal(t, errStub, out.PoissonErr)
				assert.Equal(t, errStub, out.BallPivotErr)
				return
			}
			require.NoError(t, err)
			assert.Same(t, mesh, out.Mesh)
		})
	}
}

func TestReconstructor_EmptyInput(t *testing.T) {
	r := NewReconstructor(DefaultPoissonParams(), DefaultBallPivotParams())
	out, err := r.Reconstruct(context.Background(), &geometry.PointCloud{})
	assert.ErrorIs(t, err, geometry.ErrEmptyInput)
	assert.Equal(t, NotAttempted, out.State)
}

func TestReconstructor_FallsBackWithoutNormals(t *testing.T) {
	scan := synthetic.Plane(12, 12, 0.05, 0, 1)
	pc := geometry.NewPointCloud(scan.Cloud.Points)

	out, err := NewReconstructor(DefaultPoissonParams(), DefaultBallPivotParams()).Reconstruct(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, BallPivotingSucceeded, out.State)
	assert.ErrorIs(t, out.PoissonErr, geometry.ErrMissingNormals)
	assert.Greater(t, out.Mesh.TriangleCount(), 0)
}

func TestReconstructor_Speculative(t *testing.T) {
	pc := geometry.NewPointCloud([]r3.Vec{{}, {X: 1}, {Y: 1}})
	mesh := stubMesh()

	t.Run("ball pivoting first", func(t *testing.T) {
		poisson := &stubStrategy{name: "p", block: true}
		r := &Reconstructor{Poisson: poisson, BallPivot: &stubStrategy{name: "b", mesh: mesh}, Speculative: true}
		out, err := r.Reconstruct(context.Background(), pc)
		require.NoError(t, err)
		assert.Equal(t, BallPivotingSucceeded, out.State)
		assert.Same(t, mesh, out.Mesh)
	})

	t.Run("poisson first", func(t *testing.T) {
		r := &Reconstructor{
			Poisson:     &stubStrategy{name: "p", mesh: mesh},
			BallPivot:   &stubStrategy{name: "b", block: true},
			Speculative: true,
		}
		out, err := r.Reconstruct(context.Background(), pc)
		require.NoError(t, err)
		assert.Equal(t, PoissonSucceeded, out.State)
	})

	t.Run("both fail", func(t *testing.T) {
		r := &Reconstructor{
			Poisson:     &stubStrategy{name: "p", err: errStub},
			BallPivot:   &stubStrategy{name: "b", err: errStub},
			Speculative: true,
		}
		out, err := r.Reconstruct(context.Background(), pc)
		assert.ErrorIs(t, err, geometry.ErrReconstructionFailed)
		assert.Equal(t, BothFailed, out.State)
		assert.Equal(t, errStub, out.PoissonErr)
		assert.Equal(t, errStub, out.BallPivotErr)
	})
}

func TestReconstructor_SpeculativeMatchesSequentialOnSphere(t *testing.T) {
	if testing.Short() {
		t.Skip("runs both reconstructions")
	}
	scan := synthetic.Sphere(r3.Vec{}, 1, 1500, 0, 9)
	for _, speculative := range []bool{false, true} {
		r := NewReconstructor(sphereParams(), DefaultBallPivotParams())
		r.Speculative = speculative
		out, err := r.Reconstruct(context.Background(), scan.Cloud)
		require.NoError(t, err, "speculative=%v", speculative)
		assert.True(t, out.State == PoissonSucceeded || out.State == BallPivotingSucceeded)
		assert.Greater(t, out.Mesh.TriangleCount(), 0)
	}
}
