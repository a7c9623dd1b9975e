package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/roomscan/internal/cloud"
	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/banshee-data/roomscan/internal/meshproc"
	"github.com/banshee-data/roomscan/internal/monitoring"
	"github.com/banshee-data/roomscan/internal/reconstruct"
	"github.com/banshee-data/roomscan/internal/timeutil"
)

// Stage names, used in StageStats and in abort errors.
const (
	StageInput       = "input"
	StageOutliers    = "outliers"
	StageDownsample  = "downsample"
	StageNormals     = "normals"
	StageReconstruct = "reconstruct"
	StageClean       = "clean"
	StageSimplify    = "simplify"
)

// SurfaceReconstructor produces a mesh from an oriented cloud. It is an
// interface so tests can inject failing or slow reconstructions.
type SurfaceReconstructor interface {
	Reconstruct(ctx context.Context, pc *geometry.PointCloud) (*reconstruct.Outcome, error)
}

// StageStats records one stage of a run. Counts are points for cloud stages
// and triangles for mesh stages.
type StageStats struct {
	Name     string        `json:"name"`
	Input    int           `json:"input"`
	Output   int           `json:"output"`
	Duration time.Duration `json:"duration"`
	Skipped  bool          `json:"skipped,omitempty"`
}

// Result is the outcome of a run. Mesh is nil when meshing was skipped or
// reconstruction failed; Cloud is then the terminal artifact.
type Result struct {
	Cloud *geometry.PointCloud
	Mesh  *geometry.Mesh

	State       reconstruct.State
	Downsampled bool

	// Outliers keeps the neighbor distance statistics for reporting.
	Outliers *cloud.OutlierResult

	DegeneratePoints int
	Clean            *meshproc.CleanStats
	Simplified       bool

	Stages   []StageStats
	Warnings []string
}

// HasMesh reports whether the run produced a mesh.
func (r *Result) HasMesh() bool {
	return r != nil && r.Mesh != nil
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used for stage durations.
func WithClock(c timeutil.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithReconstructor replaces the Poisson and ball pivoting reconstructor.
func WithReconstructor(r SurfaceReconstructor) Option {
	return func(p *Pipeline) { p.reconstructor = r }
}

// Pipeline runs the stages in order. It holds no per-run state and may be
// reused.
type Pipeline struct {
	params        Params
	clock         timeutil.Clock
	reconstructor SurfaceReconstructor
}

// New returns a pipeline for params.
func New(params Params, opts ...Option) *Pipeline {
	p := &Pipeline{params: params, clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(p)
	}
	if p.reconstructor == nil {
		r := reconstruct.NewReconstructor(params.Poisson, params.BallPivot)
		r.Speculative = params.Speculative
		p.reconstructor = r
	}
	return p
}

// Params returns the parameters the pipeline was built with.
func (p *Pipeline) Params() Params {
	return p.params
}

// run is the state of a single Run call.
type run struct {
	p      *Pipeline
	result *Result
}

func (r *run) stage(name string, input int, fn func() (int, error)) error {
	start := r.p.clock.Now()
	output, err := fn()
	r.result.Stages = append(r.result.Stages, StageStats{
		Name:     name,
		Input:    input,
		Output:   output,
		Duration: r.p.clock.Since(start),
	})
	if err != nil {
		return fmt.Errorf("%s stage: %w", name, err)
	}
	monitoring.Stage(name).Printf("%d -> %d", input, output)
	return nil
}

func (r *run) skip(name string, count int) {
	r.result.Stages = append(r.result.Stages, StageStats{Name: name, Input: count, Output: count, Skipped: true})
}

func (r *run) warn(stage, format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	r.result.Warnings = append(r.result.Warnings, stage+": "+msg)
	monitoring.Stage(stage).Warnf("%s", msg)
}

// Run executes the pipeline on pc. The input is never modified. Hard
// failures return a nil Result and an error naming the stage.
func (p *Pipeline) Run(ctx context.Context, pc *geometry.PointCloud) (*Result, error) {
	if err := p.params.Validate(); err != nil {
		return nil, fmt.Errorf("%s stage: %w", StageInput, err)
	}
	if err := p.validateInput(pc); err != nil {
		return nil, fmt.Errorf("%s stage: %w", StageInput, err)
	}
	if p.params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.params.Timeout)
		defer cancel()
	}

	r := &run{p: p, result: &Result{State: reconstruct.NotAttempted}}
	res := r.result
	current := pc

	err := r.stage(StageOutliers, current.Len(), func() (int, error) {
		out, err := cloud.RemoveStatisticalOutliers(ctx, current, p.params.Outlier)
		if err != nil {
			return 0, err
		}
		res.Outliers = out
		current = out.Cloud
		return current.Len(), nil
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(StageDownsample, current.Len(), func() (int, error) {
		out, applied, err := cloud.DownsampleIfDense(current, p.params.Voxel)
		if err != nil {
			return 0, err
		}
		res.Downsampled = applied
		current = out
		return current.Len(), nil
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(StageNormals, current.Len(), func() (int, error) {
		out, err := cloud.EstimateNormals(ctx, current, p.params.Normals)
		if err != nil {
			return 0, err
		}
		res.DegeneratePoints = len(out.Degenerate)
		current = out.Cloud
		return current.Len(), nil
	})
	if err != nil {
		return nil, err
	}
	if res.DegeneratePoints > 0 {
		r.warn(StageNormals, "%d points had degenerate neighborhoods", res.DegeneratePoints)
	}
	res.Cloud = current

	if p.params.SkipMesh {
		r.skip(StageReconstruct, current.Len())
		return res, nil
	}

	var mesh *geometry.Mesh
	err = r.stage(StageReconstruct, current.Len(), func() (int, error) {
		outcome, err := p.reconstructor.Reconstruct(ctx, current)
		if outcome != nil {
			res.State = outcome.State
		}
		if err != nil {
			return 0, err
		}
		mesh = outcome.Mesh
		return mesh.TriangleCount(), nil
	})
	switch {
	case err == nil:
		if res.State == reconstruct.BallPivotingSucceeded {
			r.warn(StageReconstruct, "poisson failed, mesh built by ball pivoting")
		}
	case errors.Is(err, geometry.ErrReconstructionFailed) && ctx.Err() == nil:
		res.State = reconstruct.BothFailed
		r.warn(StageReconstruct, "no surface produced, returning the oriented cloud: %v", err)
		return res, nil
	default:
		return nil, err
	}

	var cleaned *geometry.Mesh
	err = r.stage(StageClean, mesh.TriangleCount(), func() (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		cleaned, res.Clean = meshproc.Clean(mesh, p.params.Clean)
		return cleaned.TriangleCount(), nil
	})
	if err != nil {
		return nil, err
	}
	if res.Clean.NonManifoldTriangles > 0 {
		r.warn(StageClean, "dropped %d triangles on non-manifold edges", res.Clean.NonManifoldTriangles)
	}
	res.Mesh = cleaned

	if !p.params.SimplifyEnabled {
		r.skip(StageSimplify, cleaned.TriangleCount())
		return res, nil
	}
	err = r.stage(StageSimplify, cleaned.TriangleCount(), func() (int, error) {
		out, err := meshproc.Simplify(ctx, cleaned, p.params.Simplify)
		res.Mesh = out
		return out.TriangleCount(), err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s stage: %w", StageSimplify, ctxErr)
		}
		r.warn(StageSimplify, "keeping the unsimplified mesh: %v", err)
		return res, nil
	}
	res.Simplified = true
	return res, nil
}

func (p *Pipeline) validateInput(pc *geometry.PointCloud) error {
	if pc.Len() == 0 {
		return geometry.ErrEmptyInput
	}
	if err := pc.Validate(); err != nil {
		return err
	}
	if pc.Len() < p.params.MinPoints {
		return fmt.Errorf("need at least %d points, got %d: %w",
			p.params.MinPoints, pc.Len(), geometry.ErrInsufficientPoints)
	}
	return nil
}
