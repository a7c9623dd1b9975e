package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
// This is the single source of truth for all default pipeline values.
const DefaultConfigPath = "config/pipeline.defaults.json"

// maxConfigFileSize caps the size of a configuration file.
const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// PipelineConfig is the flat, per-run configuration of the room scan
// pipeline. Every field is optional; the Get* methods supply the default
// for anything left out, so partial files are safe.
type PipelineConfig struct {
	// Outlier rejection
	OutlierNeighbors *int     `json:"outlier_neighbors,omitempty"`
	OutlierStdRatio  *float64 `json:"outlier_std_ratio,omitempty"`

	// Downsampling
	VoxelSize           *float64 `json:"voxel_size,omitempty"`
	DownsampleThreshold *int     `json:"downsample_threshold,omitempty"`

	// Normal estimation
	NormalRadius           *float64 `json:"normal_radius,omitempty"`
	NormalMaxNeighbors     *int     `json:"normal_max_neighbors,omitempty"`
	NormalOrientK          *int     `json:"normal_orient_k,omitempty"`
	NormalFailOnDegenerate *bool    `json:"normal_fail_on_degenerate,omitempty"`

	// Surface reconstruction. The Poisson grid is solved at
	// min(poisson_depth, poisson_max_solve_depth), so raising poisson_depth
	// past the solve cap changes nothing.
	PoissonDepth              *int      `json:"poisson_depth,omitempty"`
	PoissonMaxSolveDepth      *int      `json:"poisson_max_solve_depth,omitempty"`
	PoissonDensityThreshold   *float64  `json:"poisson_density_threshold,omitempty"`
	BallPivotRadiiMultipliers []float64 `json:"ball_pivot_radii_multipliers,omitempty"`
	SpeculativeReconstruction *bool     `json:"speculative_reconstruction,omitempty"`

	// Mesh post-processing
	MergeTolerance      *float64 `json:"merge_tolerance,omitempty"`
	SimplifyEnabled     *bool    `json:"simplify_enabled,omitempty"`
	TargetTriangleRatio *float64 `json:"target_triangle_ratio,omitempty"`

	// Run limits
	MinPoints *int    `json:"min_points,omitempty"`
	Timeout   *string `json:"timeout,omitempty"` // duration string like "5m"; empty means none
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields unset.
// Use LoadPipelineConfig to load actual values from a file.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a PipelineConfig with every field set to
// its default.
func DefaultPipelineConfig() *PipelineConfig {
	c := EmptyPipelineConfig()
	return &PipelineConfig{
		OutlierNeighbors:          ptrInt(c.GetOutlierNeighbors()),
		OutlierStdRatio:           ptrFloat64(c.GetOutlierStdRatio()),
		VoxelSize:                 ptrFloat64(c.GetVoxelSize()),
		DownsampleThreshold:       ptrInt(c.GetDownsampleThreshold()),
		NormalRadius:              ptrFloat64(c.GetNormalRadius()),
		NormalMaxNeighbors:        ptrInt(c.GetNormalMaxNeighbors()),
		NormalOrientK:             ptrInt(c.GetNormalOrientK()),
		NormalFailOnDegenerate:    ptrBool(c.GetNormalFailOnDegenerate()),
		PoissonDepth:              ptrInt(c.GetPoissonDepth()),
		PoissonMaxSolveDepth:      ptrInt(c.GetPoissonMaxSolveDepth()),
		PoissonDensityThreshold:   ptrFloat64(c.GetPoissonDensityThreshold()),
		BallPivotRadiiMultipliers: c.GetBallPivotRadiiMultipliers(),
		SpeculativeReconstruction: ptrBool(c.GetSpeculativeReconstruction()),
		MergeTolerance:            ptrFloat64(c.GetMergeTolerance()),
		SimplifyEnabled:           ptrBool(c.GetSimplifyEnabled()),
		TargetTriangleRatio:       ptrFloat64(c.GetTargetTriangleRatio()),
		MinPoints:                 ptrInt(c.GetMinPoints()),
		Timeout:                   ptrString(""),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical pipeline defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,       // from cmd/roomscan/
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are usable. Unset fields are
// not checked.
func (c *PipelineConfig) Validate() error {
	positiveInt := func(name string, v *int, min int) error {
		if v != nil && *v < min {
			return fmt.Errorf("%s must be at least %d, got %d", name, min, *v)
		}
		return nil
	}
	positiveFloat := func(name string, v *float64) error {
		if v != nil && !(*v > 0) {
			return fmt.Errorf("%s must be positive, got %v", name, *v)
		}
		return nil
	}

	checks := []error{
		positiveInt("outlier_neighbors", c.OutlierNeighbors, 1),
		positiveFloat("outlier_std_ratio", c.OutlierStdRatio),
		positiveFloat("voxel_size", c.VoxelSize),
		positiveInt("downsample_threshold", c.DownsampleThreshold, 0),
		positiveFloat("normal_radius", c.NormalRadius),
		positiveInt("normal_max_neighbors", c.NormalMaxNeighbors, 3),
		positiveInt("normal_orient_k", c.NormalOrientK, 1),
		positiveInt("poisson_depth", c.PoissonDepth, 1),
		positiveInt("poisson_max_solve_depth", c.PoissonMaxSolveDepth, 1),
		positiveInt("min_points", c.MinPoints, 1),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	if c.PoissonDepth != nil && *c.PoissonDepth > 16 {
		return fmt.Errorf("poisson_depth must be at most 16, got %d", *c.PoissonDepth)
	}
	if c.PoissonMaxSolveDepth != nil && *c.PoissonMaxSolveDepth > 9 {
		return fmt.Errorf("poisson_max_solve_depth must be at most 9, got %d", *c.PoissonMaxSolveDepth)
	}
	if c.PoissonDensityThreshold != nil {
		if v := *c.PoissonDensityThreshold; v < 0 || v >= 1 {
			return fmt.Errorf("poisson_density_threshold must be in [0, 1), got %v", v)
		}
	}
	for _, m := range c.BallPivotRadiiMultipliers {
		if !(m > 0) {
			return fmt.Errorf("ball_pivot_radii_multipliers must be positive, got %v", m)
		}
	}
	if c.MergeTolerance != nil && *c.MergeTolerance < 0 {
		return fmt.Errorf("merge_tolerance must be non-negative, got %v", *c.MergeTolerance)
	}
	if c.TargetTriangleRatio != nil {
		if v := *c.TargetTriangleRatio; !(v > 0 && v <= 1) {
			return fmt.Errorf("target_triangle_ratio must be in (0, 1], got %v", v)
		}
	}

	// Validate Timeout can be parsed if set
	if c.Timeout != nil && *c.Timeout != "" {
		d, err := time.ParseDuration(*c.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout '%s': %w", *c.Timeout, err)
		}
		if d < 0 {
			return fmt.Errorf("timeout must be non-negative, got %s", d)
		}
	}
	return nil
}

// GetOutlierNeighbors returns the outlier_neighbors value or the default.
func (c *PipelineConfig) GetOutlierNeighbors() int {
	if c.OutlierNeighbors == nil {
		return 20
	}
	return *c.OutlierNeighbors
}

// GetOutlierStdRatio returns the outlier_std_ratio value or the default.
func (c *PipelineConfig) GetOutlierStdRatio() float64 {
	if c.OutlierStdRatio == nil {
		return 2.0
	}
	return *c.OutlierStdRatio
}

// GetVoxelSize returns the voxel_size value or the default, in meters.
func (c *PipelineConfig) GetVoxelSize() float64 {
	if c.VoxelSize == nil {
		return 0.02
	}
	return *c.VoxelSize
}

// GetDownsampleThreshold returns the downsample_threshold value or the default.
func (c *PipelineConfig) GetDownsampleThreshold() int {
	if c.DownsampleThreshold == nil {
		return 100000
	}
	return *c.DownsampleThreshold
}

// GetNormalRadius returns the normal_radius value or the default, in meters.
func (c *PipelineConfig) GetNormalRadius() float64 {
	if c.NormalRadius == nil {
		return 0.1
	}
	return *c.NormalRadius
}

// GetNormalMaxNeighbors returns the normal_max_neighbors value or the default.
func (c *PipelineConfig) GetNormalMaxNeighbors() int {
	if c.NormalMaxNeighbors == nil {
		return 30
	}
	return *c.NormalMaxNeighbors
}

// GetNormalOrientK returns the normal_orient_k value or the default.
func (c *PipelineConfig) GetNormalOrientK() int {
	if c.NormalOrientK == nil {
		return 15
	}
	return *c.NormalOrientK
}

// GetNormalFailOnDegenerate returns the normal_fail_on_degenerate value or the default.
func (c *PipelineConfig) GetNormalFailOnDegenerate() bool {
	if c.NormalFailOnDegenerate == nil {
		return false // default: degenerate points get a fallback normal
	}
	return *c.NormalFailOnDegenerate
}

// GetPoissonDepth returns the poisson_depth value or the default. The
// depth actually solved is capped by poisson_max_solve_depth; see
// PoissonSolveDepth.
func (c *PipelineConfig) GetPoissonDepth() int {
	if c.PoissonDepth == nil {
		return 9
	}
	return *c.PoissonDepth
}

// GetPoissonMaxSolveDepth returns the poisson_max_solve_depth value or the default.
func (c *PipelineConfig) GetPoissonMaxSolveDepth() int {
	if c.PoissonMaxSolveDepth == nil {
		return 7
	}
	return *c.PoissonMaxSolveDepth
}

// PoissonSolveDepth returns the grid depth the Poisson solve runs at:
// poisson_depth capped by poisson_max_solve_depth.
func (c *PipelineConfig) PoissonSolveDepth() int {
	return min(c.GetPoissonDepth(), c.GetPoissonMaxSolveDepth())
}

// GetPoissonDensityThreshold returns the poisson_density_threshold value or the default.
func (c *PipelineConfig) GetPoissonDensityThreshold() float64 {
	if c.PoissonDensityThreshold == nil {
		return 0.01
	}
	return *c.PoissonDensityThreshold
}

// GetBallPivotRadiiMultipliers returns a copy of the configured multipliers
// or the default.
func (c *PipelineConfig) GetBallPivotRadiiMultipliers() []float64 {
	if len(c.BallPivotRadiiMultipliers) == 0 {
		return []float64{1, 2, 4}
	}
	return append([]float64(nil), c.BallPivotRadiiMultipliers...)
}

// GetSpeculativeReconstruction returns the speculative_reconstruction value or the default.
func (c *PipelineConfig) GetSpeculativeReconstruction() bool {
	if c.SpeculativeReconstruction == nil {
		return false
	}
	return *c.SpeculativeReconstruction
}

// GetMergeTolerance returns the merge_tolerance value or the default.
func (c *PipelineConfig) GetMergeTolerance() float64 {
	if c.MergeTolerance == nil {
		return 1e-9
	}
	return *c.MergeTolerance
}

// GetSimplifyEnabled returns the simplify_enabled value or the default.
func (c *PipelineConfig) GetSimplifyEnabled() bool {
	if c.SimplifyEnabled == nil {
		return true
	}
	return *c.SimplifyEnabled
}

// GetTargetTriangleRatio returns the target_triangle_ratio value or the default.
func (c *PipelineConfig) GetTargetTriangleRatio() float64 {
	if c.TargetTriangleRatio == nil {
		return 0.3
	}
	return *c.TargetTriangleRatio
}

// GetMinPoints returns the min_points value or the default.
func (c *PipelineConfig) GetMinPoints() int {
	if c.MinPoints == nil {
		return 100
	}
	return *c.MinPoints
}

// GetTimeout parses and returns the Timeout as a time.Duration. Zero means
// the run is not bounded.
func (c *PipelineConfig) GetTimeout() time.Duration {
	if c.Timeout == nil || *c.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.Timeout)
	if err != nil {
		return 0 // default on parse error
	}
	return d
}
