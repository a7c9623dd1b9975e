package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/roomscan/internal/config"
	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/banshee-data/roomscan/internal/monitoring"
	"github.com/banshee-data/roomscan/internal/reconstruct"
	"github.com/banshee-data/roomscan/internal/synthetic"
	"github.com/banshee-data/roomscan/internal/testutil"
	"github.com/banshee-data/roomscan/internal/timeutil"
	"github.com/google/go-cmp/cmp"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func quietLogs(t *testing.T) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

// fakeReconstructor returns a fixed outcome.
type fakeReconstructor struct {
	outcome *reconstruct.Outcome
	err     error
	calls   int
}

func (f *fakeReconstructor) Reconstruct(context.Context, *geometry.PointCloud) (*reconstruct.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

// cancelingReconstructor returns mesh but cancels the run on the way out.
type cancelingReconstructor struct {
	mesh   *geometry.Mesh
	cancel context.CancelFunc
}

func (c *cancelingReconstructor) Reconstruct(context.Context, *geometry.PointCloud) (*reconstruct.Outcome, error) {
	c.cancel()
	return &reconstruct.Outcome{Mesh: c.mesh, State: reconstruct.PoissonSucceeded}, nil
}

func sphereCloud(n int) *geometry.PointCloud {
	scan := synthetic.Sphere(r3.Vec{}, 1, n, 0.002, 7)
	// Drop the analytic normals; the pipeline estimates its own.
	return geometry.NewPointCloud(scan.Cloud.Points)
}

func TestParamsFromConfig_Defaults(t *testing.T) {
	if diff := cmp.Diff(DefaultParams(), ParamsFromConfig(nil)); diff != "" {
		t.Errorf("empty config mismatch (-defaults +config):\n%s", diff)
	}
	// The canonical defaults file must agree with the stage constants.
	if diff := cmp.Diff(DefaultParams(), ParamsFromConfig(config.MustLoadDefaultConfig())); diff != "" {
		t.Errorf("%s mismatch (-defaults +file):\n%s", config.DefaultConfigPath, diff)
	}
}

func TestParamsFromConfig_Overrides(t *testing.T) {
	k, ratio, multipliers := 8, 0.5, []float64{2, 3}
	speculative, simplify := true, false
	timeout := "30s"
	cfg := &config.PipelineConfig{
		OutlierNeighbors:          &k,
		TargetTriangleRatio:       &ratio,
		BallPivotRadiiMultipliers: multipliers,
		SpeculativeReconstruction: &speculative,
		SimplifyEnabled:           &simplify,
		Timeout:                   &timeout,
	}

	p := ParamsFromConfig(cfg)
	assert.Equal(t, 8, p.Outlier.Neighbors)
	assert.Equal(t, 0.5, p.Simplify.TargetRatio)
	assert.Equal(t, multipliers, p.BallPivot.RadiiMultipliers)
	assert.True(t, p.Speculative)
	assert.False(t, p.SimplifyEnabled)
	assert.Equal(t, 30*time.Second, p.Timeout)
	assert.Equal(t, reconstruct.DefaultPoissonScreening, p.Poisson.Screening)

	p.BallPivot.RadiiMultipliers[0] = 99
	assert.Equal(t, 2.0, cfg.BallPivotRadiiMultipliers[0], "params must not alias the config")
}

func TestParamsFromConfig_SolveDepthMatchesConfig(t *testing.T) {
	depth := 12
	cfg := &config.PipelineConfig{PoissonDepth: &depth}
	p := ParamsFromConfig(cfg)
	assert.Equal(t, 12, p.Poisson.Depth)
	assert.Equal(t, cfg.PoissonSolveDepth(), p.Poisson.SolveDepth())
	assert.Equal(t, reconstruct.DefaultPoissonMaxSolveDepth, p.Poisson.SolveDepth())
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Params)
	}{
		{"min points", func(p *Params) { p.MinPoints = 0 }},
		{"outlier", func(p *Params) { p.Outlier.StdRatio = 0 }},
		{"voxel", func(p *Params) { p.Voxel.Size = -1 }},
		{"normals", func(p *Params) { p.Normals.Radius = 0 }},
		{"poisson", func(p *Params) { p.Poisson.Depth = 0 }},
		{"ball pivot", func(p *Params) { p.BallPivot.RadiiMultipliers = nil }},
		{"merge tolerance", func(p *Params) { p.Clean.MergeTolerance = -1 }},
		{"simplify", func(p *Params) { p.Simplify.TargetRatio = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)
			assert.ErrorIs(t, p.Validate(), geometry.ErrInvalidParams)
		})
	}

	t.Run("mesh params ignored when skipping", func(t *testing.T) {
		p := DefaultParams()
		p.SkipMesh = true
		p.Poisson.Depth = 0
		assert.NoError(t, p.Validate())
	})
	t.Run("ratio ignored when simplify disabled", func(t *testing.T) {
		p := DefaultParams()
		p.SimplifyEnabled = false
		p.Simplify.TargetRatio = 0
		assert.NoError(t, p.Validate())
	})
}

func TestRun_InputFailures(t *testing.T) {
	quietLogs(t)
	small := sphereCloud(50)
	partial := sphereCloud(200)
	partial.Colors = []colorful.Color{{R: 1}}

	tests := []struct {
		name string
		pc   *geometry.PointCloud
		want error
	}{
		{"nil", nil, geometry.ErrEmptyInput},
		{"empty", &geometry.PointCloud{}, geometry.ErrEmptyInput},
		{"too few points", small, geometry.ErrInsufficientPoints},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeReconstructor{}
			res, err := New(DefaultParams(), WithReconstructor(fake)).Run(context.Background(), tt.pc)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, strings.HasPrefix(err.Error(), "input stage:"), "err = %v", err)
			assert.Zero(t, fake.calls)
		})
	}

	t.Run("partial colors", func(t *testing.T) {
		_, err := New(DefaultParams()).Run(context.Background(), partial)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "partial color set")
	})

	t.Run("invalid params", func(t *testing.T) {
		p := DefaultParams()
		p.Outlier.Neighbors = 0
		_, err := New(p).Run(context.Background(), sphereCloud(200))
		assert.ErrorIs(t, err, geometry.ErrInvalidParams)
	})
}

func TestRun_SkipMesh(t *testing.T) {
	quietLogs(t)
	p := DefaultParams()
	p.SkipMesh = true
	p.Voxel.Threshold = 500 // force the voxel grid
	p.Voxel.Size = 0.1
	pc := sphereCloud(2000)

	fake := &fakeReconstructor{}
	res, err := New(p, WithReconstructor(fake)).Run(context.Background(), pc)
	require.NoError(t, err)

	assert.False(t, res.HasMesh())
	assert.Zero(t, fake.calls)
	assert.True(t, res.Downsampled)
	assert.Less(t, res.Cloud.Len(), pc.Len())
	require.True(t, res.Cloud.HasNormals())
	testutil.AssertUnitNormals(t, res.Cloud.Normals, 1e-9)
	assert.Equal(t, reconstruct.NotAttempted, res.State)
	assert.Empty(t, pc.Normals, "input must not be modified")

	names := make([]string, len(res.Stages))
	for i, s := range res.Stages {
		names[i] = s.Name
	}
	assert.Equal(t, []string{StageOutliers, StageDownsample, StageNormals, StageReconstruct}, names)
	assert.True(t, res.Stages[3].Skipped)
}

func TestRun_StageDurationsUseClock(t *testing.T) {
	quietLogs(t)
	p := DefaultParams()
	p.SkipMesh = true
	clock := timeutil.NewSteppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 250*time.Millisecond)

	res, err := New(p, WithClock(clock)).Run(context.Background(), sphereCloud(300))
	require.NoError(t, err)
	for _, s := range res.Stages {
		if s.Skipped {
			continue
		}
		assert.Equal(t, 250*time.Millisecond, s.Duration, "stage %s", s.Name)
	}
	assert.Equal(t, 300, res.Stages[0].Input)
}

func TestRun_ReconstructionFailureIsSoft(t *testing.T) {
	quietLogs(t)
	fake := &fakeReconstructor{
		outcome: &reconstruct.Outcome{State: reconstruct.BothFailed},
		err:     fmt.Errorf("%w: both strategies exhausted", geometry.ErrReconstructionFailed),
	}

	res, err := New(DefaultParams(), WithReconstructor(fake)).Run(context.Background(), sphereCloud(500))
	require.NoError(t, err)
	assert.False(t, res.HasMesh())
	assert.Equal(t, reconstruct.BothFailed, res.State)
	require.NotNil(t, res.Cloud)
	assert.True(t, res.Cloud.HasNormals(), "the oriented cloud is the terminal artifact")
	require.NotEmpty(t, res.Warnings)
	assert.True(t, strings.HasPrefix(res.Warnings[len(res.Warnings)-1], StageReconstruct+":"))
}

func TestRun_ReconstructionHardErrors(t *testing.T) {
	quietLogs(t)
	tests := []struct {
		name string
		err  error
	}{
		{"insufficient points", fmt.Errorf("poisson: %w", geometry.ErrInsufficientPoints)},
		{"deadline", context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeReconstructor{outcome: &reconstruct.Outcome{State: reconstruct.PoissonFailed}, err: tt.err}
			res, err := New(DefaultParams(), WithReconstructor(fake)).Run(context.Background(), sphereCloud(300))
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.err)
			assert.True(t, strings.HasPrefix(err.Error(), "reconstruct stage:"), "err = %v", err)
		})
	}
}

func TestRun_CleansAndSimplifiesInjectedMesh(t *testing.T) {
	quietLogs(t)
	mesh := testutil.UVSphere(1, 16, 24)
	// A duplicate the cleaner has to drop.
	mesh.Triangles = append(mesh.Triangles, mesh.Triangles[0])
	fake := &fakeReconstructor{outcome: &reconstruct.Outcome{Mesh: mesh, State: reconstruct.BallPivotingSucceeded}}

	res, err := New(DefaultParams(), WithReconstructor(fake)).Run(context.Background(), sphereCloud(300))
	require.NoError(t, err)
	require.True(t, res.HasMesh())
	assert.True(t, res.Simplified)
	assert.Equal(t, 1, res.Clean.DuplicateTriangles)

	cleaned := res.Stages[len(res.Stages)-1].Input
	assert.Equal(t, 2*24*15, cleaned)
	assert.LessOrEqual(t, res.Mesh.TriangleCount(), cleaned)
	assert.Greater(t, res.Mesh.TriangleCount(), 0)
	assert.Contains(t, res.Warnings, StageReconstruct+": poisson failed, mesh built by ball pivoting")
}

func TestRun_SimplifyFailureIsSoft(t *testing.T) {
	quietLogs(t)
	// Clean strips the only triangle, leaving nothing to simplify.
	degenerate := &geometry.Mesh{
		Vertices:  []r3.Vec{{}, {X: 1}, {X: 2}},
		Triangles: []geometry.Triangle{{0, 1, 2}},
	}
	fake := &fakeReconstructor{outcome: &reconstruct.Outcome{Mesh: degenerate, State: reconstruct.PoissonSucceeded}}

	res, err := New(DefaultParams(), WithReconstructor(fake)).Run(context.Background(), sphereCloud(300))
	require.NoError(t, err)
	assert.False(t, res.Simplified)
	require.NotEmpty(t, res.Warnings)
	assert.True(t, strings.HasPrefix(res.Warnings[len(res.Warnings)-1], StageSimplify+":"))
}

func TestRun_SimplifyDisabled(t *testing.T) {
	quietLogs(t)
	p := DefaultParams()
	p.SimplifyEnabled = false
	mesh := testutil.UVSphere(1, 8, 12)
	fake := &fakeReconstructor{outcome: &reconstruct.Outcome{Mesh: mesh, State: reconstruct.PoissonSucceeded}}

	res, err := New(p, WithReconstructor(fake)).Run(context.Background(), sphereCloud(300))
	require.NoError(t, err)
	assert.Equal(t, mesh.TriangleCount(), res.Mesh.TriangleCount())
	assert.True(t, res.Stages[len(res.Stages)-1].Skipped)
}

func TestRun_Cancelled(t *testing.T) {
	quietLogs(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(DefaultParams()).Run(ctx, sphereCloud(2000))
	assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
}

func TestRun_CancelledBeforeClean(t *testing.T) {
	quietLogs(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &cancelingReconstructor{mesh: testutil.UVSphere(1, 8, 12), cancel: cancel}

	res, err := New(DefaultParams(), WithReconstructor(fake)).Run(ctx, sphereCloud(300))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, strings.HasPrefix(err.Error(), StageClean+" stage:"), "err = %v", err)
}

func TestRun_Sphere(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping reconstruction in short mode")
	}
	quietLogs(t)
	p := DefaultParams()
	p.Poisson.MaxSolveDepth = 6

	res, err := New(p).Run(context.Background(), sphereCloud(4000))
	require.NoError(t, err)
	require.True(t, res.HasMesh(), "warnings: %v", res.Warnings)
	assert.Equal(t, reconstruct.PoissonSucceeded, res.State)
	assert.Equal(t, 0, res.Mesh.NonManifoldEdgeCount())
	for i, v := range res.Mesh.Vertices {
		if r := r3.Norm(v); math.Abs(r-1) > 0.1 {
			t.Fatalf("vertex %d at radius %.3f", i, r)
		}
	}
}

// roomNormal returns the analytic normal of the box face nearest p.
func roomNormal(p r3.Vec, rp synthetic.RoomParams) r3.Vec {
	candidates := []struct {
		d float64
		n r3.Vec
	}{
		{p.Z, r3.Vec{Z: 1}},
		{rp.Height - p.Z, r3.Vec{Z: -1}},
		{p.Y, r3.Vec{Y: 1}},
		{rp.Depth - p.Y, r3.Vec{Y: -1}},
		{p.X, r3.Vec{X: 1}},
		{rp.Width - p.X, r3.Vec{X: -1}},
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if math.Abs(c.d) < math.Abs(best.d) {
			best = c
		}
	}
	return best.n
}

func TestRun_SyntheticRoom(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end room scan in short mode")
	}
	quietLogs(t)
	rp := synthetic.DefaultRoomParams()
	scan, err := synthetic.Room(rp)
	require.NoError(t, err)
	n := scan.Cloud.Len()

	res, err := New(ParamsFromConfig(config.MustLoadDefaultConfig())).Run(context.Background(), scan.Cloud)
	require.NoError(t, err)

	// The default room loses 1.41% of its points here.
	removed := float64(res.Outliers.Removed) / float64(n)
	assert.Less(t, removed, 0.025, "outlier filter removed %.2f%%", 100*removed)
	assert.False(t, res.Downsampled)

	aligned := 0
	for i, p := range res.Cloud.Points {
		if math.Abs(r3.Dot(res.Cloud.Normals[i], roomNormal(p, rp))) > 0.9 {
			aligned++
		}
	}
	frac := float64(aligned) / float64(res.Cloud.Len())
	assert.GreaterOrEqual(t, frac, 0.95, "aligned normals %.3f", frac)

	require.True(t, res.HasMesh(), "warnings: %v", res.Warnings)
	assert.Equal(t, reconstruct.PoissonSucceeded, res.State)
	assert.Equal(t, 0, res.Mesh.NonManifoldEdgeCount())

	simplify := res.Stages[len(res.Stages)-1]
	require.Equal(t, StageSimplify, simplify.Name)
	ratio := float64(simplify.Output) / float64(simplify.Input)
	assert.InDelta(t, 0.3, ratio, 0.05)
}
