package pipeline

import (
	"fmt"
	"time"

	"github.com/banshee-data/roomscan/internal/cloud"
	"github.com/banshee-data/roomscan/internal/config"
	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/banshee-data/roomscan/internal/meshproc"
	"github.com/banshee-data/roomscan/internal/reconstruct"
)

// DefaultMinPoints is the smallest input cloud a run accepts.
const DefaultMinPoints = 100

// Params is the immutable per-run parameter set. Each stage receives only
// its own section.
type Params struct {
	Outlier   cloud.OutlierParams
	Voxel     cloud.VoxelParams
	Normals   cloud.NormalParams
	Poisson   reconstruct.PoissonParams
	BallPivot reconstruct.BallPivotParams
	Clean     meshproc.CleanParams
	Simplify  meshproc.SimplifyParams

	SimplifyEnabled bool
	Speculative     bool // run Poisson and ball pivoting concurrently
	SkipMesh        bool // stop after normal estimation

	MinPoints int
	Timeout   time.Duration // zero means unbounded
}

// DefaultParams returns the parameters used when no configuration is given.
func DefaultParams() Params {
	return Params{
		Outlier:         cloud.DefaultOutlierParams(),
		Voxel:           cloud.DefaultVoxelParams(),
		Normals:         cloud.DefaultNormalParams(),
		Poisson:         reconstruct.DefaultPoissonParams(),
		BallPivot:       reconstruct.DefaultBallPivotParams(),
		Clean:           meshproc.DefaultCleanParams(),
		Simplify:        meshproc.DefaultSimplifyParams(),
		SimplifyEnabled: true,
		MinPoints:       DefaultMinPoints,
	}
}

// ParamsFromConfig converts a loaded configuration into run parameters.
// Poisson settings the configuration does not expose keep their defaults.
func ParamsFromConfig(cfg *config.PipelineConfig) Params {
	if cfg == nil {
		cfg = config.EmptyPipelineConfig()
	}
	p := DefaultParams()

	p.Outlier = cloud.OutlierParams{
		Neighbors: cfg.GetOutlierNeighbors(),
		StdRatio:  cfg.GetOutlierStdRatio(),
	}
	p.Voxel = cloud.VoxelParams{
		Size:      cfg.GetVoxelSize(),
		Threshold: cfg.GetDownsampleThreshold(),
	}
	p.Normals = cloud.NormalParams{
		Radius:           cfg.GetNormalRadius(),
		MaxNeighbors:     cfg.GetNormalMaxNeighbors(),
		OrientK:          cfg.GetNormalOrientK(),
		FailOnDegenerate: cfg.GetNormalFailOnDegenerate(),
	}
	p.Poisson.Depth = cfg.GetPoissonDepth()
	p.Poisson.MaxSolveDepth = cfg.GetPoissonMaxSolveDepth()
	p.Poisson.DensityThreshold = cfg.GetPoissonDensityThreshold()
	p.BallPivot = reconstruct.BallPivotParams{RadiiMultipliers: cfg.GetBallPivotRadiiMultipliers()}
	p.Clean = meshproc.CleanParams{MergeTolerance: cfg.GetMergeTolerance()}
	p.Simplify = meshproc.SimplifyParams{TargetRatio: cfg.GetTargetTriangleRatio()}
	p.SimplifyEnabled = cfg.GetSimplifyEnabled()
	p.Speculative = cfg.GetSpeculativeReconstruction()
	p.MinPoints = cfg.GetMinPoints()
	p.Timeout = cfg.GetTimeout()
	return p
}

// Validate checks every stage section up front so a bad value fails before
// any work is done.
func (p Params) Validate() error {
	if p.MinPoints < 1 {
		return fmt.Errorf("%w: min points must be positive, got %d", geometry.ErrInvalidParams, p.MinPoints)
	}
	if err := p.Outlier.Validate(); err != nil {
		return err
	}
	if !(p.Voxel.Size > 0) {
		return fmt.Errorf("%w: voxel size must be positive, got %v", geometry.ErrInvalidParams, p.Voxel.Size)
	}
	if err := p.Normals.Validate(); err != nil {
		return err
	}
	if p.SkipMesh {
		return nil
	}
	if err := p.Poisson.Validate(); err != nil {
		return err
	}
	if err := p.BallPivot.Validate(); err != nil {
		return err
	}
	if p.Clean.MergeTolerance < 0 {
		return fmt.Errorf("%w: merge tolerance must be non-negative, got %v", geometry.ErrInvalidParams, p.Clean.MergeTolerance)
	}
	if p.SimplifyEnabled {
		return p.Simplify.Validate()
	}
	return nil
}
